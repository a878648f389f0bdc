package vm

import (
	"fmt"

	"github.com/dragonvm/dragon/pkg/value"
)

// exceptionTaxonomy is the Exception base class plus the standard
// subclasses spec.md §7 requires, grounded on exception.c's
// defineExceptionClasses/defineException: each subclass copies the
// base class's method table at creation time (tableAddAll), exactly
// as INHERIT does for ordinary user classes.
type exceptionTaxonomy struct {
	base                       *value.Class
	typeException              *value.Class
	arityException             *value.Class
	propertyException          *value.Class
	indexException             *value.Class
	undefinedVariableException *value.Class
	stackOverflowException     *value.Class
}

// exceptions lazily builds the taxonomy once per Machine; every module
// shares the same set of classes (an instance thrown in one module is
// still an instanceof TypeException in another), only the globals
// binding is per-module.
func (m *Machine) exceptions() *exceptionTaxonomy {
	if m.excClasses == nil {
		m.excClasses = m.buildExceptionClasses()
	}
	return m.excClasses
}

func (m *Machine) buildExceptionClasses() *exceptionTaxonomy {
	base := &value.Class{Name: m.intern("Exception"), Methods: make(map[string]value.Value), Super: m.baseClass}
	for k, v := range m.baseClass.Methods {
		base.Methods[k] = v
	}
	m.track(base)

	// constructor(message) stores its optional argument as the
	// instance's message field; every subclass inherits it below.
	ctor := &value.Native{Name: m.intern("constructor"), IsVarargs: true, Fn: func(args []value.Value, recv value.Value, _ bool) (value.Value, *value.Instance) {
		if len(args) > 0 {
			recv.Obj.(*value.Instance).Fields["message"] = args[0]
		}
		return recv, nil
	}}
	m.track(ctor)
	base.Methods["constructor"] = value.Obj_(ctor)

	sub := func(name string) *value.Class {
		cls := &value.Class{Name: m.intern(name), Methods: make(map[string]value.Value), Super: base}
		for k, v := range base.Methods {
			cls.Methods[k] = v
		}
		m.track(cls)
		return cls
	}

	return &exceptionTaxonomy{
		base:                       base,
		typeException:              sub("TypeException"),
		arityException:             sub("ArityException"),
		propertyException:          sub("PropertyException"),
		indexException:             sub("IndexException"),
		undefinedVariableException: sub("UndefinedVariableException"),
		stackOverflowException:     sub("StackOverflowException"),
	}
}

// defineExceptionClasses registers the taxonomy as globals in mod,
// mirroring module.c's initModule calling defineExceptionClasses(vm,
// mod) once for every module (not just the main one), so `throw
// TypeException("bad")` resolves the same way in an imported file as
// at the top level.
func (m *Machine) defineExceptionClasses(mod *value.Module) {
	exc := m.exceptions()
	mod.Globals.Set("Exception", value.Obj_(exc.base))
	mod.Globals.Set("TypeException", value.Obj_(exc.typeException))
	mod.Globals.Set("ArityException", value.Obj_(exc.arityException))
	mod.Globals.Set("PropertyException", value.Obj_(exc.propertyException))
	mod.Globals.Set("IndexException", value.Obj_(exc.indexException))
	mod.Globals.Set("UndefinedVariableException", value.Obj_(exc.undefinedVariableException))
	mod.Globals.Set("StackOverflowException", value.Obj_(exc.stackOverflowException))
}

// newException builds a throwable instance of cls with a formatted
// message field, the Go-side counterpart of exception.c's
// throwException before it unwinds.
func (m *Machine) newException(cls *value.Class, format string, args ...interface{}) *value.Instance {
	inst := &value.Instance{
		Class:  cls,
		Fields: map[string]value.Value{"message": value.Obj_(m.intern(fmt.Sprintf(format, args...)))},
	}
	m.track(inst)
	return inst
}

// throwException raises a new instance of cls and unwinds to the
// nearest handler, matching list.c/strings.c/iterator.c's
// `throwException(vm, "TypeException", ...)` call pattern — every VM-
// detected fault goes through here instead of a single synthetic error
// class.
func (m *Machine) throwException(cls *value.Class, format string, args ...interface{}) bool {
	return m.unwind(value.Obj_(m.newException(cls, format, args...)))
}

func (m *Machine) typeError(format string, args ...interface{}) bool {
	return m.throwException(m.exceptions().typeException, format, args...)
}

func (m *Machine) arityError(format string, args ...interface{}) bool {
	return m.throwException(m.exceptions().arityException, format, args...)
}

func (m *Machine) propertyError(format string, args ...interface{}) bool {
	return m.throwException(m.exceptions().propertyException, format, args...)
}

func (m *Machine) indexError(format string, args ...interface{}) bool {
	return m.throwException(m.exceptions().indexException, format, args...)
}

func (m *Machine) undefinedVariableError(format string, args ...interface{}) bool {
	return m.throwException(m.exceptions().undefinedVariableException, format, args...)
}

func (m *Machine) stackOverflowError(format string, args ...interface{}) bool {
	return m.throwException(m.exceptions().stackOverflowException, format, args...)
}

// Native-facing constructors: list/string built-ins (pkg/vm/natives.go,
// pkg/vm/iterator.go) return a *value.Instance rather than unwinding
// directly, since the native ABI reports the exception to its caller
// (pkg/vm/call.go's callNative) which unwinds on its behalf.
func (m *Machine) newTypeException(format string, args ...interface{}) *value.Instance {
	return m.newException(m.exceptions().typeException, format, args...)
}

func (m *Machine) newIndexException(format string, args ...interface{}) *value.Instance {
	return m.newException(m.exceptions().indexException, format, args...)
}

func (m *Machine) newPropertyException(format string, args ...interface{}) *value.Instance {
	return m.newException(m.exceptions().propertyException, format, args...)
}

// classifiedError tags a plain Go error with the taxonomy class it
// should raise as. pkg/vm/ops.go's indexGet/indexSet/buildRange are
// called both from bytecode dispatch (which can unwind directly) and
// from iterator.go's native-facing next() (which must report a thrown
// instance instead of unwinding mid-native), so they return an
// ordinary error carrying the classification rather than unwinding
// themselves.
type classifiedError struct {
	cls *value.Class
	msg string
}

func (e *classifiedError) Error() string { return e.msg }

func (m *Machine) classifyf(cls *value.Class, format string, args ...interface{}) error {
	return &classifiedError{cls: cls, msg: fmt.Sprintf(format, args...)}
}

// throwClassified unwinds err using its taxonomy class if it is a
// *classifiedError, falling back to throwErr's generic base-Exception
// wrapping otherwise.
func (m *Machine) throwClassified(err error) bool {
	if ce, ok := err.(*classifiedError); ok {
		return m.throwException(ce.cls, "%s", ce.msg)
	}
	return m.throwErr(err)
}

// classifiedToInstance is throwClassified's native-facing counterpart:
// it builds the thrown instance without unwinding, for callers (like
// iterator.go) that report exceptions through the native ABI instead.
func (m *Machine) classifiedToInstance(err error) *value.Instance {
	if ce, ok := err.(*classifiedError); ok {
		return m.newException(ce.cls, "%s", ce.msg)
	}
	return m.newException(m.exceptions().base, "%s", err.Error())
}
