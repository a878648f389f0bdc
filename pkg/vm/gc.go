package vm

import "github.com/dragonvm/dragon/pkg/value"

// track links a freshly-allocated heap object into the VM's intrusive
// object chain and runs a collection first if the allocator has grown
// past the current threshold, per spec.md §8's mark-sweep design.
func (m *Machine) track(o value.Object) {
	if m.bytesAlloc > m.nextGC {
		m.collectGarbage()
	}
	h := headerOf(o)
	h.Next = m.objects
	m.objects = o
	m.bytesAlloc++
}

// headerOf recovers the shared Header every Object embeds. Object's
// own header() accessor is unexported to pkg/value, so the collector
// gets at the same embedded field through a type switch instead.
func headerOf(o value.Object) *value.Header {
	switch v := o.(type) {
	case *value.String:
		return &v.Header
	case *value.Function:
		return &v.Header
	case *value.Native:
		return &v.Header
	case *value.Upvalue:
		return &v.Header
	case *value.Closure:
		return &v.Header
	case *value.Module:
		return &v.Header
	case *value.Class:
		return &v.Header
	case *value.Instance:
		return &v.Header
	case *value.List:
		return &v.Header
	case *value.BoundMethod:
		return &v.Header
	}
	panic("vm: untracked object kind")
}

// collectGarbage runs one full mark-sweep cycle: mark every object
// reachable from the roots (value stack, call frames' closures, every
// module's globals and exports, the Object base class, the Exception
// taxonomy, the Iterator and Import classes, cached imports, and open
// upvalues), then weakly prune the string intern table of any entry
// left unmarked, then sweep the intrusive chain freeing anything left
// unmarked.
func (m *Machine) collectGarbage() {
	var gray []value.Object

	mark := func(o value.Object) {
		if o == nil {
			return
		}
		h := headerOf(o)
		if h.IsMarked {
			return
		}
		h.IsMarked = true
		gray = append(gray, o)
	}
	markValue := func(v value.Value) {
		if v.Kind == value.KindObject && v.Obj != nil {
			mark(v.Obj)
		}
	}

	for _, v := range m.stack {
		markValue(v)
	}
	for _, fr := range m.frames {
		if fr.closure != nil {
			mark(fr.closure)
		}
	}
	for _, mod := range m.modules {
		if mod != nil {
			mark(mod)
		}
	}
	if m.baseClass != nil {
		mark(m.baseClass)
	}
	if m.excClasses != nil {
		mark(m.excClasses.base)
		mark(m.excClasses.typeException)
		mark(m.excClasses.arityException)
		mark(m.excClasses.propertyException)
		mark(m.excClasses.indexException)
		mark(m.excClasses.undefinedVariableException)
		mark(m.excClasses.stackOverflowException)
	}
	if m.iterClass != nil {
		mark(m.iterClass)
	}
	if m.importClassCache != nil {
		mark(m.importClassCache)
	}
	for _, imp := range m.importCache {
		markValue(imp)
	}
	for up := m.openUpvalues; up != nil; up = up.NextOpen {
		mark(up)
	}

	for len(gray) > 0 {
		o := gray[len(gray)-1]
		gray = gray[:len(gray)-1]
		m.blacken(o, mark, markValue)
	}

	for s, str := range m.strings {
		if !str.IsMarked {
			delete(m.strings, s)
		}
	}

	m.sweep()

	for _, str := range m.strings {
		str.IsMarked = false
	}

	m.nextGC = m.bytesAlloc * 2
}

// blacken visits every Value/Object an object directly references,
// marking each (and queuing newly-marked objects onto the gray
// worklist via mark), implementing the trace step of the tri-color
// mark-sweep.
func (m *Machine) blacken(o value.Object, mark func(value.Object), markValue func(value.Value)) {
	switch v := o.(type) {
	case *value.String, *value.Native:
		// no outgoing references besides Native.Name / Native.Bound,
		// both handled below for Native specifically.
	case *value.Function:
		if v.Name != nil {
			mark(v.Name)
		}
	case *value.Upvalue:
		markValue(v.Closed)
	case *value.Closure:
		mark(v.Fn)
		if v.Module != nil {
			mark(v.Module)
		}
		for _, up := range v.Upvalues {
			if up != nil {
				mark(up)
			}
		}
	case *value.Module:
		if v.Name != nil {
			mark(v.Name)
		}
		v.Globals.Each(func(_ string, val value.Value) { markValue(val) })
		v.Exports.Each(func(_ string, val value.Value) { markValue(val) })
	case *value.Class:
		if v.Name != nil {
			mark(v.Name)
		}
		if v.Super != nil {
			mark(v.Super)
		}
		for _, val := range v.Methods {
			markValue(val)
		}
	case *value.Instance:
		if v.Class != nil {
			mark(v.Class)
		}
		for _, val := range v.Fields {
			markValue(val)
		}
	case *value.List:
		for _, val := range v.Items {
			markValue(val)
		}
	case *value.BoundMethod:
		markValue(v.Receiver)
		if v.Method != nil {
			mark(v.Method)
		}
	}
	if n, ok := o.(*value.Native); ok {
		if n.Name != nil {
			mark(n.Name)
		}
		if n.Bound != nil {
			markValue(*n.Bound)
		}
	}
}

// sweep walks the intrusive object chain, freeing (unlinking) every
// object that wasn't marked this cycle and clearing the mark bit on
// every survivor for the next one.
func (m *Machine) sweep() {
	var prev value.Object
	var survivors int
	obj := m.objects
	for obj != nil {
		h := headerOf(obj)
		next := h.Next
		if h.IsMarked {
			h.IsMarked = false
			prev = obj
			survivors++
		} else {
			if prev == nil {
				m.objects = next
			} else {
				headerOf(prev).Next = next
			}
		}
		obj = next
	}
	m.bytesAlloc = survivors
}

// captureUpvalue returns an open upvalue pointing at stack slot
// absIndex, reusing an existing one if the intrusive open-upvalue list
// (kept ordered by descending stack address, per spec.md §5.2) already
// has one for that slot.
func (m *Machine) captureUpvalue(absIndex int) *value.Upvalue {
	target := &m.stack[absIndex]
	var prev *value.Upvalue
	cur := m.openUpvalues
	for cur != nil && indexOfPtr(m.stack, cur.Location) > absIndex {
		prev = cur
		cur = cur.NextOpen
	}
	if cur != nil && cur.Location == target {
		return cur
	}
	up := &value.Upvalue{Location: &m.stack[absIndex]}
	up.NextOpen = cur
	if prev == nil {
		m.openUpvalues = up
	} else {
		prev.NextOpen = up
	}
	m.track(up)
	return up
}

// closeUpvalues closes every open upvalue pointing at or above
// fromIndex, copying the stack slot's value into the upvalue itself so
// it survives the frame that owned the slot returning.
func (m *Machine) closeUpvalues(fromIndex int) {
	for m.openUpvalues != nil && indexOfPtr(m.stack, m.openUpvalues.Location) >= fromIndex {
		up := m.openUpvalues
		up.Closed = *up.Location
		up.Location = &up.Closed
		m.openUpvalues = up.NextOpen
	}
}

func indexOfPtr(stack []value.Value, p *value.Value) int {
	if len(stack) == 0 {
		return -1
	}
	return int(p - &stack[0])
}
