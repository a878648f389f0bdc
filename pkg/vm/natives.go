package vm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/dragonvm/dragon/pkg/value"
)

// defineNative installs a global native function, mirroring
// natives.c's defineNative: intern the name, wrap fn in a tracked
// Native, and set it into the module's globals.
func (m *Machine) defineNative(mod *value.Module, name string, arity int, varargs bool, fn value.NativeFn) {
	nm := &value.Native{Name: m.intern(name), Arity: arity, IsVarargs: varargs, Fn: fn}
	m.track(nm)
	mod.Globals.Set(name, value.Obj_(nm))
}

// registerNatives installs the standard library's free functions into
// mod's global namespace: print/println/clock/typeof, plus
// toString/repr, matching natives.c's defineGlobalNatives with the
// additions SPEC_FULL.md's ambient stdlib calls for.
func registerNatives(m *Machine, mod *value.Module) {
	m.defineNative(mod, "print", 0, true, func(args []value.Value, _ value.Value, _ bool) (value.Value, *value.Instance) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = m.stringify(a)
		}
		fmt.Fprint(m.Stdout, strings.Join(parts, " "))
		return value.Null, nil
	})

	m.defineNative(mod, "println", 0, true, func(args []value.Value, _ value.Value, _ bool) (value.Value, *value.Instance) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = m.stringify(a)
		}
		fmt.Fprintln(m.Stdout, strings.Join(parts, " "))
		return value.Null, nil
	})

	m.defineNative(mod, "clock", 0, false, func(args []value.Value, _ value.Value, _ bool) (value.Value, *value.Instance) {
		return value.Number(float64(time.Now().UnixNano()) / 1e9), nil
	})

	m.defineNative(mod, "toString", 1, false, func(args []value.Value, _ value.Value, _ bool) (value.Value, *value.Instance) {
		return value.Obj_(m.intern(m.stringify(args[0]))), nil
	})

	m.defineNative(mod, "repr", 1, false, func(args []value.Value, _ value.Value, _ bool) (value.Value, *value.Instance) {
		return value.Obj_(m.intern(m.repr(args[0]))), nil
	})

	m.defineNative(mod, "typeof", 1, false, func(args []value.Value, _ value.Value, _ bool) (value.Value, *value.Instance) {
		return value.Obj_(m.intern(value.TypeName(args[0]))), nil
	})
}

// stringify renders a value the way print/toString do: strings pass
// through unquoted, everything else uses its display form.
func (m *Machine) stringify(v value.Value) string {
	if s, ok := v.Obj.(*value.String); ok && v.Kind == value.KindObject {
		return s.Bytes
	}
	return m.display(v)
}

// Repr renders a value the way a REPL/debugger would, quoting
// strings, for callers (the REPL driver) outside this package.
func (m *Machine) Repr(v value.Value) string {
	return m.repr(v)
}

// repr renders a value the way a REPL/debugger would, quoting strings.
func (m *Machine) repr(v value.Value) string {
	if s, ok := v.Obj.(*value.String); ok && v.Kind == value.KindObject {
		return strconv.Quote(s.Bytes)
	}
	return m.display(v)
}

func (m *Machine) display(v value.Value) string {
	switch v.Kind {
	case value.KindNull:
		return "null"
	case value.KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case value.KindNumber:
		return value.FormatNumber(v.Num)
	case value.KindObject:
		switch o := v.Obj.(type) {
		case *value.String:
			return o.Bytes
		case *value.List:
			parts := make([]string, len(o.Items))
			for i, it := range o.Items {
				parts[i] = m.repr(it)
			}
			return "[" + strings.Join(parts, ", ") + "]"
		case *value.Instance:
			return fmt.Sprintf("<instance of %s>", o.Class.Name.Bytes)
		default:
			return fmt.Sprintf("%v", o)
		}
	}
	return "null"
}

// newError builds the *value.Instance every NativeFn returns as its
// thrown-exception slot, for a fault that doesn't fit one of the
// typed taxonomy subclasses (pkg/vm/exception.go's newTypeException/
// newIndexException/newPropertyException) — e.g. propagating a
// regex-compile failure or an already-classified error surfacing from
// a reentrant run().
func (m *Machine) newError(msg string) *value.Instance {
	return m.newException(m.exceptions().base, "%s", msg)
}

// callValueForNative lets a native (list map/filter/reduce/sort) call
// back into a user-supplied closure without going through the bytecode
// dispatch loop, reentering run() the same way importModule reenters
// it for a module body. The stack layout it builds (callee, then
// args) matches what call() expects for any other CALL site.
func (m *Machine) callValueForNative(fn value.Value, args []value.Value) (value.Value, *value.Instance) {
	m.push(fn)
	for _, a := range args {
		m.push(a)
	}
	if !m.callValue(fn, len(args)) {
		err := m.lastErr
		m.lastErr = nil
		if err == nil {
			return value.Null, nil
		}
		return value.Null, m.newError(err.Error())
	}
	if _, ok := fn.Obj.(*value.Native); ok {
		return m.pop(), nil
	}
	result, err := m.run()
	if err != nil {
		m.lastErr = nil
		return value.Null, m.newError(err.Error())
	}
	return result, nil
}

// stringNative resolves a built-in method name invoked on a *String
// receiver, matching natives.c's string method table.
func (m *Machine) stringNative(name string) (value.NativeFn, bool) {
	switch name {
	case "size":
		return func(args []value.Value, recv value.Value, _ bool) (value.Value, *value.Instance) {
			s := recv.Obj.(*value.String)
			return value.Number(float64(len([]rune(s.Bytes)))), nil
		}, true
	case "upper":
		return func(args []value.Value, recv value.Value, _ bool) (value.Value, *value.Instance) {
			s := recv.Obj.(*value.String)
			return value.Obj_(m.intern(strings.ToUpper(s.Bytes))), nil
		}, true
	case "lower":
		return func(args []value.Value, recv value.Value, _ bool) (value.Value, *value.Instance) {
			s := recv.Obj.(*value.String)
			return value.Obj_(m.intern(strings.ToLower(s.Bytes))), nil
		}, true
	case "trim":
		return func(args []value.Value, recv value.Value, _ bool) (value.Value, *value.Instance) {
			s := recv.Obj.(*value.String)
			return value.Obj_(m.intern(strings.TrimSpace(s.Bytes))), nil
		}, true
	case "split":
		return func(args []value.Value, recv value.Value, _ bool) (value.Value, *value.Instance) {
			s := recv.Obj.(*value.String)
			sep, ok := args[0].Obj.(*value.String)
			if !ok {
				return value.Null, m.newTypeException("split expects a string separator")
			}
			parts := strings.Split(s.Bytes, sep.Bytes)
			items := make([]value.Value, len(parts))
			for i, p := range parts {
				items[i] = value.Obj_(m.intern(p))
			}
			lst := &value.List{Items: items}
			m.track(lst)
			return value.Obj_(lst), nil
		}, true
	case "charAt":
		return func(args []value.Value, recv value.Value, _ bool) (value.Value, *value.Instance) {
			s := recv.Obj.(*value.String)
			runes := []rune(s.Bytes)
			i := int(args[0].Num)
			if i < 0 {
				i += len(runes)
			}
			if i < 0 || i >= len(runes) {
				return value.Null, m.newIndexException("index out of range")
			}
			return value.Obj_(m.intern(string(runes[i]))), nil
		}, true
	case "indexOf":
		return func(args []value.Value, recv value.Value, _ bool) (value.Value, *value.Instance) {
			s := recv.Obj.(*value.String)
			needle, ok := args[0].Obj.(*value.String)
			if !ok {
				return value.Null, m.newTypeException("indexOf expects a string")
			}
			return value.Number(float64(strings.Index(s.Bytes, needle.Bytes))), nil
		}, true
	case "matches":
		return func(args []value.Value, recv value.Value, _ bool) (value.Value, *value.Instance) {
			s := recv.Obj.(*value.String)
			pattern, ok := args[0].Obj.(*value.String)
			if !ok {
				return value.Null, m.newTypeException("matches expects a string pattern")
			}
			re, err := regexp2.Compile(pattern.Bytes, regexp2.None)
			if err != nil {
				return value.Null, m.newError("invalid pattern: " + err.Error())
			}
			matched, err := re.MatchString(s.Bytes)
			if err != nil {
				return value.Null, m.newError(err.Error())
			}
			return value.Bool_(matched), nil
		}, true
	case "replace":
		return func(args []value.Value, recv value.Value, _ bool) (value.Value, *value.Instance) {
			s := recv.Obj.(*value.String)
			pattern, ok := args[0].Obj.(*value.String)
			if !ok {
				return value.Null, m.newTypeException("replace expects a string pattern")
			}
			with, ok := args[1].Obj.(*value.String)
			if !ok {
				return value.Null, m.newTypeException("replace expects a string replacement")
			}
			re, err := regexp2.Compile(pattern.Bytes, regexp2.None)
			if err != nil {
				return value.Null, m.newError("invalid pattern: " + err.Error())
			}
			out, err := re.Replace(s.Bytes, with.Bytes, -1, -1)
			if err != nil {
				return value.Null, m.newError(err.Error())
			}
			return value.Obj_(m.intern(out)), nil
		}, true
	case "iterator":
		return func(args []value.Value, recv value.Value, _ bool) (value.Value, *value.Instance) {
			return m.newIterator(recv), nil
		}, true
	}
	return nil, false
}

// listNative resolves a built-in method name invoked on a *List
// receiver.
func (m *Machine) listNative(name string) (value.NativeFn, bool) {
	switch name {
	case "push":
		return func(args []value.Value, recv value.Value, _ bool) (value.Value, *value.Instance) {
			l := recv.Obj.(*value.List)
			l.Items = append(l.Items, args[0])
			return recv, nil
		}, true
	case "pop":
		return func(args []value.Value, recv value.Value, _ bool) (value.Value, *value.Instance) {
			l := recv.Obj.(*value.List)
			if len(l.Items) == 0 {
				return value.Null, m.newIndexException("pop on empty list")
			}
			last := l.Items[len(l.Items)-1]
			l.Items = l.Items[:len(l.Items)-1]
			return last, nil
		}, true
	case "size":
		return func(args []value.Value, recv value.Value, _ bool) (value.Value, *value.Instance) {
			l := recv.Obj.(*value.List)
			return value.Number(float64(len(l.Items))), nil
		}, true
	case "sort":
		return func(args []value.Value, recv value.Value, _ bool) (value.Value, *value.Instance) {
			l := recv.Obj.(*value.List)
			items := append([]value.Value(nil), l.Items...)
			var sortErr *value.Instance
			if len(args) == 0 {
				sort.SliceStable(items, func(i, j int) bool {
					a, b := items[i], items[j]
					if a.Kind == value.KindNumber && b.Kind == value.KindNumber {
						return a.Num < b.Num
					}
					as, aok := a.Obj.(*value.String)
					bs, bok := b.Obj.(*value.String)
					if aok && bok {
						return as.Bytes < bs.Bytes
					}
					return false
				})
			} else {
				cmp := args[0]
				sort.SliceStable(items, func(i, j int) bool {
					if sortErr != nil {
						return false
					}
					result, thrown := m.callValueForNative(cmp, []value.Value{items[i], items[j]})
					if thrown != nil {
						sortErr = thrown
						return false
					}
					return result.Kind == value.KindNumber && result.Num < 0
				})
			}
			if sortErr != nil {
				return value.Null, sortErr
			}
			l.Items = items
			return recv, nil
		}, true
	case "map":
		return func(args []value.Value, recv value.Value, _ bool) (value.Value, *value.Instance) {
			l := recv.Obj.(*value.List)
			fn := args[0]
			out := make([]value.Value, len(l.Items))
			for i, it := range l.Items {
				result, thrown := m.callValueForNative(fn, []value.Value{it})
				if thrown != nil {
					return value.Null, thrown
				}
				out[i] = result
			}
			lst := &value.List{Items: out}
			m.track(lst)
			return value.Obj_(lst), nil
		}, true
	case "filter":
		return func(args []value.Value, recv value.Value, _ bool) (value.Value, *value.Instance) {
			l := recv.Obj.(*value.List)
			fn := args[0]
			var out []value.Value
			for _, it := range l.Items {
				result, thrown := m.callValueForNative(fn, []value.Value{it})
				if thrown != nil {
					return value.Null, thrown
				}
				if !result.IsFalsey() {
					out = append(out, it)
				}
			}
			lst := &value.List{Items: out}
			m.track(lst)
			return value.Obj_(lst), nil
		}, true
	case "reduce":
		return func(args []value.Value, recv value.Value, _ bool) (value.Value, *value.Instance) {
			l := recv.Obj.(*value.List)
			fn := args[0]
			acc := args[1]
			for _, it := range l.Items {
				result, thrown := m.callValueForNative(fn, []value.Value{acc, it})
				if thrown != nil {
					return value.Null, thrown
				}
				acc = result
			}
			return acc, nil
		}, true
	case "join":
		return func(args []value.Value, recv value.Value, _ bool) (value.Value, *value.Instance) {
			l := recv.Obj.(*value.List)
			sep, ok := args[0].Obj.(*value.String)
			if !ok {
				return value.Null, m.newTypeException("join expects a string separator")
			}
			parts := make([]string, len(l.Items))
			for i, it := range l.Items {
				parts[i] = m.stringify(it)
			}
			return value.Obj_(m.intern(strings.Join(parts, sep.Bytes))), nil
		}, true
	case "iterator":
		return func(args []value.Value, recv value.Value, _ bool) (value.Value, *value.Instance) {
			return m.newListIterator(recv.Obj.(*value.List)), nil
		}, true
	}
	return nil, false
}
