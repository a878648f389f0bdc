package vm

import "github.com/dragonvm/dragon/pkg/value"

// callValue dispatches a CALL instruction's callee, which may be a
// user closure, a native, a bound method, or a class (constructing a
// new instance). Returns true when the call proceeded, or when the
// exception it raised was caught (execution continues at the handler);
// false means an exception escaped uncaught and m.lastErr holds it.
func (m *Machine) callValue(callee value.Value, argc int) bool {
	if callee.Kind != value.KindObject {
		return m.typeError("can only call functions, methods, and classes")
	}
	switch obj := callee.Obj.(type) {
	case *value.Closure:
		_, ok := m.call(obj, argc)
		return ok
	case *value.Native:
		return m.callNative(obj, argc, value.Null, false)
	case *value.BoundMethod:
		m.stack[len(m.stack)-argc-1] = obj.Receiver
		return m.callMethodValue(value.Obj_(obj.Method), argc)
	case *value.Class:
		return m.instantiate(obj, argc)
	default:
		return m.typeError("can only call functions, methods, and classes")
	}
}

// callMethodValue calls a resolved method value (*Closure or *Native)
// bound to whatever receiver is already sitting below its arguments on
// the stack (slot base of the new frame, or the receiver argument to a
// native).
func (m *Machine) callMethodValue(method value.Value, argc int) bool {
	switch obj := method.Obj.(type) {
	case *value.Closure:
		_, ok := m.call(obj, argc)
		return ok
	case *value.Native:
		recv := m.peek(argc)
		args := append([]value.Value(nil), m.stack[len(m.stack)-argc:]...)
		m.stack = m.stack[:len(m.stack)-argc-1]
		result, thrown := obj.Fn(args, recv, true)
		if thrown != nil {
			return m.unwind(value.Obj_(thrown))
		}
		m.push(result)
		return true
	default:
		return m.typeError("not a callable method")
	}
}

func (m *Machine) callNative(n *value.Native, argc int, receiver value.Value, hasReceiver bool) bool {
	if !n.IsVarargs && argc != n.Arity {
		return m.arityError("expected %d arguments but got %d", n.Arity, argc)
	}
	args := append([]value.Value(nil), m.stack[len(m.stack)-argc:]...)
	m.stack = m.stack[:len(m.stack)-argc-1]
	result, thrown := n.Fn(args, receiver, hasReceiver)
	if thrown != nil {
		return m.unwind(value.Obj_(thrown))
	}
	m.push(result)
	return true
}

// call pushes a new call frame for cl, validating arity and growing
// the value stack to make room for its locals. On an arity mismatch or
// frame overflow it throws the matching exception and returns false
// only if that exception escaped uncaught (m.lastErr set); a caught one
// returns true with execution resumed at the handler.
func (m *Machine) call(cl *value.Closure, argc int) (*callFrame, bool) {
	if len(m.frames) >= framesMax {
		return nil, m.stackOverflowError("stack overflow")
	}
	fn := cl.Fn
	if fn.IsVarargs {
		if argc < fn.Arity-1 {
			return nil, m.arityError("expected at least %d arguments but got %d", fn.Arity-1, argc)
		}
		m.collectVarargs(argc, fn.Arity)
		argc = fn.Arity
	} else if argc != fn.Arity {
		return nil, m.arityError("expected %d arguments but got %d", fn.Arity, argc)
	}
	base := len(m.stack) - argc - 1
	m.frames = append(m.frames, callFrame{closure: cl, base: base})
	return &m.frames[len(m.frames)-1], true
}

// collectVarargs folds the trailing actual arguments beyond the fixed
// (arity-1) parameters into a single *value.List, so the variadic
// parameter's local slot sees one list value the way every other
// parameter sees one value.
func (m *Machine) collectVarargs(argc, arity int) {
	fixed := arity - 1
	extra := argc - fixed
	if extra < 0 {
		extra = 0
	}
	items := append([]value.Value(nil), m.stack[len(m.stack)-extra:]...)
	m.stack = m.stack[:len(m.stack)-extra]
	lst := &value.List{Items: items}
	m.track(lst)
	m.push(value.Obj_(lst))
}

// instantiate constructs a new *value.Instance of cls, invoking its
// constructor method (if any) with the given arguments, and leaves the
// new instance itself as the call's result — not whatever the
// constructor returns, matching the constructor convention
// compiler.emitReturn relies on.
func (m *Machine) instantiate(cls *value.Class, argc int) bool {
	inst := &value.Instance{Class: cls, Fields: make(map[string]value.Value)}
	m.track(inst)
	m.stack[len(m.stack)-argc-1] = value.Obj_(inst)

	if init, ok := cls.LookupMethod("constructor"); ok {
		switch initObj := init.Obj.(type) {
		case *value.Closure:
			_, ok := m.call(initObj, argc)
			return ok
		case *value.Native:
			return m.callNative(initObj, argc, value.Obj_(inst), true)
		}
	} else if argc != 0 {
		return m.arityError("expected 0 arguments but got %d", argc)
	} else {
		m.pop()
		m.push(value.Obj_(inst))
	}
	return true
}

// invoke resolves and calls name as a method/field on the receiver
// already sitting argc slots below the stack top, combining
// GET_PROPERTY and CALL into one instruction.
func (m *Machine) invoke(name string, argc int) bool {
	recv := m.peek(argc)
	switch r := recv.Obj.(type) {
	case *value.Instance:
		if field, ok := r.Fields[name]; ok {
			m.stack[len(m.stack)-argc-1] = field
			return m.callValue(field, argc)
		}
		method, ok := r.Class.LookupMethod(name)
		if !ok {
			return m.propertyError("undefined property '%s'", name)
		}
		return m.callMethodValue(method, argc)
	case *value.String:
		fn, ok := m.stringNative(name)
		if !ok {
			return m.propertyError("undefined property '%s'", name)
		}
		return m.invokeBuiltinFn(fn, argc, recv)
	case *value.List:
		fn, ok := m.listNative(name)
		if !ok {
			return m.propertyError("undefined property '%s'", name)
		}
		return m.invokeBuiltinFn(fn, argc, recv)
	default:
		return m.typeError("only instances, strings, and lists have invocable properties")
	}
}

func (m *Machine) invokeBuiltinFn(fn value.NativeFn, argc int, recv value.Value) bool {
	args := append([]value.Value(nil), m.stack[len(m.stack)-argc:]...)
	m.stack = m.stack[:len(m.stack)-argc-1]
	result, thrown := fn(args, recv, true)
	if thrown != nil {
		return m.unwind(value.Obj_(thrown))
	}
	m.push(result)
	return true
}

// getProperty implements GET_PROPERTY: instance fields shadow methods
// of the same name, per spec.md's field/method lookup order. Reading a
// method off an instance (without immediately calling it) produces a
// *value.BoundMethod.
func (m *Machine) getProperty(name string) bool {
	recv := m.pop()
	inst, ok := recv.Obj.(*value.Instance)
	if !ok {
		m.push(recv)
		return m.typeError("only instances have properties")
	}
	if field, ok := inst.Fields[name]; ok {
		m.push(field)
		return true
	}
	method, ok := inst.Class.LookupMethod(name)
	if !ok {
		return m.propertyError("undefined property '%s'", name)
	}
	bm := &value.BoundMethod{Receiver: recv, Method: method.Obj}
	m.track(bm)
	m.push(value.Obj_(bm))
	return true
}
