// Package vm is Dragon's execution engine: a stack-based bytecode
// interpreter with a mark-sweep garbage collector, exception unwinding,
// and a small native-function standard library.
//
// The dispatch loop is a plain switch over chunk.Op inside run() — no
// computed-goto or jump table, matching the straightforward dispatch
// style the rest of this codebase's ancestry uses. Each call frame
// tracks its own instruction pointer into its closure's chunk; OpCall
// pushes a new frame rather than recursing the host Go call stack, so
// a deep Dragon call chain costs one Go stack frame total.
package vm

import (
	"io"
	"os"

	"github.com/dragonvm/dragon/pkg/chunk"
	"github.com/dragonvm/dragon/pkg/compiler"
	"github.com/dragonvm/dragon/pkg/value"
)

const (
	framesMax = 1024
	stackMax  = framesMax * 256
)

// callFrame is one active function invocation.
type callFrame struct {
	closure *value.Closure
	ip      int
	base    int // index into vm.stack of this frame's slot 0
}

// tryHandler records an active try region: where to jump to on a
// throw, how far to unwind the value stack, and which frame owns it.
type tryHandler struct {
	frameDepth int // len(vm.frames) at TRY_BEGIN time (this frame still counts)
	stackLen   int // len(vm.stack) at TRY_BEGIN time
	target     int // ip to jump to, within the owning frame's chunk
}

// Machine is one Dragon VM instance: its value stack, call frames,
// global module chain, and GC state. A Machine is single-threaded and
// not safe for concurrent use from multiple goroutines.
type Machine struct {
	stack  []value.Value
	frames []callFrame
	tries  []tryHandler

	openUpvalues *value.Upvalue

	strings      map[string]*value.String
	modules      map[string]*value.Module
	importCache  map[string]value.Value // resolved path -> cached Import instance
	module       *value.Module           // module currently executing
	baseClass        *value.Class // the implicit root class every `{}` object literal instantiates
	excClasses       *exceptionTaxonomy // Exception and its standard subclasses, shared across modules
	iterClass        *value.Class // synthetic class backing the iterator() protocol for lists and strings
	importClassCache *value.Class // synthetic class backing import's result instances

	objects    value.Object
	bytesAlloc int
	nextGC     int

	lastErr error

	Stdout, Stderr io.Writer
}

// New returns a freshly-initialized Machine with its native standard
// library registered into its root module's globals.
func New() *Machine {
	m := &Machine{
		// stackMax capacity is reserved up front and never exceeded:
		// open upvalues hold a raw *Value into this backing array, which
		// a reallocating append would silently invalidate.
		stack:       make([]value.Value, 0, stackMax),
		strings:     make(map[string]*value.String),
		modules:     make(map[string]*value.Module),
		importCache: make(map[string]value.Value),
		nextGC:      1 << 20,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
	compiler.SetStringInterner(m.intern)
	m.baseClass = &value.Class{Name: m.intern("Object"), Methods: make(map[string]value.Value)}
	m.track(m.baseClass)
	m.module = m.newModule("<main>", "<main>")
	registerNatives(m, m.module)
	return m
}

// intern returns the canonical *value.String for s, allocating and
// chaining a new one the first time s is seen. Every String constant
// the compiler emits, and every String the VM builds at runtime, flows
// through this one table — the identity-equality invariant for strings
// (spec.md §4.1/§8) depends on there only ever being one.
func (m *Machine) intern(s string) *value.String {
	if existing, ok := m.strings[s]; ok {
		return existing
	}
	str := &value.String{Bytes: s, Hash: value.HashString(s)}
	m.strings[s] = str
	m.track(str)
	return str
}

func (m *Machine) newModule(name, path string) *value.Module {
	mod := &value.Module{
		Name:    m.intern(name),
		Path:    path,
		Globals: value.NewTable(),
		Exports: value.NewTable(),
	}
	m.track(mod)
	m.modules[path] = mod
	m.defineExceptionClasses(mod)
	return mod
}

func (m *Machine) objectClass() *value.Class { return m.baseClass }

// Interpret compiles and runs a top-level Dragon program in the
// machine's root module.
func (m *Machine) Interpret(source string) (value.Value, error) {
	return m.interpretIn(m.module, source)
}

// InterpretFile compiles and runs the Dragon program in path, setting
// the root module's path so relative imports resolve against path's
// own directory rather than the process's working directory.
func (m *Machine) InterpretFile(path, source string) (value.Value, error) {
	m.module.Path = path
	m.modules[path] = m.module
	return m.interpretIn(m.module, source)
}

func (m *Machine) interpretIn(mod *value.Module, source string) (value.Value, error) {
	c := compiler.New()
	fn, err := c.Compile(source)
	if err != nil {
		return value.Null, err
	}
	cl := &value.Closure{Fn: fn, Module: mod}
	m.track(cl)
	m.push(value.Obj_(cl))
	if !m.callValue(value.Obj_(cl), 0) {
		return value.Null, m.lastErr
	}
	return m.run()
}

func (m *Machine) push(v value.Value) {
	m.stack = append(m.stack, v)
}

func (m *Machine) pop() value.Value {
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v
}

func (m *Machine) peek(dist int) value.Value {
	return m.stack[len(m.stack)-1-dist]
}

func (m *Machine) frame() *callFrame { return &m.frames[len(m.frames)-1] }

func (m *Machine) curChunk(f *callFrame) *chunk.Chunk {
	return f.closure.Fn.Chunk.(*chunk.Chunk)
}

func (m *Machine) readByte(f *callFrame) byte {
	b := m.curChunk(f).Code[f.ip]
	f.ip++
	return b
}

func (m *Machine) readU16(f *callFrame) uint16 {
	code := m.curChunk(f).Code
	hi, lo := code[f.ip], code[f.ip+1]
	f.ip += 2
	return uint16(hi)<<8 | uint16(lo)
}

func (m *Machine) readULEB(f *callFrame) int {
	code := m.curChunk(f).Code
	v, n := chunk.ReadULEB128(code, f.ip)
	f.ip += n
	return int(v)
}

func (m *Machine) readConstant(f *callFrame, idx int) value.Value {
	return m.curChunk(f).Constants[idx]
}

// run executes frames until the outermost call frame returns, an
// uncaught exception propagates out, or a VM-detected runtime error
// occurs.
func (m *Machine) run() (value.Value, error) {
	baseFrameDepth := len(m.frames) - 1

	for {
		f := m.frame()
		op := chunk.Op(m.readByte(f))

		switch op {
		case chunk.OpConstant:
			idx := m.readULEB(f)
			m.push(m.readConstant(f, idx))

		case chunk.OpNull:
			m.push(value.Null)
		case chunk.OpTrue:
			m.push(value.True)
		case chunk.OpFalse:
			m.push(value.False)

		case chunk.OpObject:
			inst := &value.Instance{Class: m.objectClass(), Fields: make(map[string]value.Value)}
			m.track(inst)
			m.push(value.Obj_(inst))

		case chunk.OpList:
			n := int(m.readByte(f))
			items := make([]value.Value, n)
			copy(items, m.stack[len(m.stack)-n:])
			m.stack = m.stack[:len(m.stack)-n]
			lst := &value.List{Items: items}
			m.track(lst)
			m.push(value.Obj_(lst))

		case chunk.OpRange:
			hi := m.pop()
			lo := m.pop()
			lst, rerr := m.buildRange(lo, hi)
			if rerr != nil {
				if !m.throwClassified(rerr) {
					return value.Null, m.lastErr
				}
				continue
			}
			m.track(lst)
			m.push(value.Obj_(lst))

		case chunk.OpGetGlobal:
			idx := m.readULEB(f)
			name := m.readConstant(f, idx).Obj.(*value.String)
			v, ok := f.closure.Module.Globals.Get(name.Bytes)
			if !ok {
				if !m.undefinedVariableError("undefined variable '%s'", name.Bytes) {
					return value.Null, m.lastErr
				}
				continue
			}
			m.push(v)

		case chunk.OpDefineGlobal:
			idx := m.readULEB(f)
			name := m.readConstant(f, idx).Obj.(*value.String)
			f.closure.Module.Globals.Set(name.Bytes, m.pop())

		case chunk.OpSetGlobal:
			idx := m.readULEB(f)
			name := m.readConstant(f, idx).Obj.(*value.String)
			if !f.closure.Module.Globals.Set(name.Bytes, m.peek(0)) {
				f.closure.Module.Globals.Delete(name.Bytes)
				if !m.undefinedVariableError("undefined variable '%s'", name.Bytes) {
					return value.Null, m.lastErr
				}
				continue
			}

		case chunk.OpGetLocal:
			slot := int(m.readByte(f))
			m.push(m.stack[f.base+slot])

		case chunk.OpSetLocal:
			slot := int(m.readByte(f))
			m.stack[f.base+slot] = m.peek(0)

		case chunk.OpGetUpvalue:
			slot := int(m.readByte(f))
			up := f.closure.Upvalues[slot]
			m.push(*up.Location)

		case chunk.OpSetUpvalue:
			slot := int(m.readByte(f))
			up := f.closure.Upvalues[slot]
			*up.Location = m.peek(0)

		case chunk.OpCloseUpvalue:
			m.closeUpvalues(len(m.stack) - 1)
			m.pop()

		case chunk.OpGetProperty:
			idx := m.readULEB(f)
			name := m.readConstant(f, idx).Obj.(*value.String)
			if !m.getProperty(name.Bytes) {
				return value.Null, m.lastErr
			}

		case chunk.OpSetProperty:
			idx := m.readULEB(f)
			name := m.readConstant(f, idx).Obj.(*value.String)
			v := m.pop()
			recv := m.pop()
			inst, ok := recv.Obj.(*value.Instance)
			if !ok {
				if !m.typeError("only instances have settable fields") {
					return value.Null, m.lastErr
				}
				continue
			}
			inst.Fields[name.Bytes] = v
			m.push(v)

		case chunk.OpSetPropertyKV:
			idx := m.readULEB(f)
			name := m.readConstant(f, idx).Obj.(*value.String)
			v := m.pop()
			inst := m.peek(0).Obj.(*value.Instance)
			inst.Fields[name.Bytes] = v

		case chunk.OpGetIndex:
			idx := m.pop()
			recv := m.pop()
			v, rerr := m.indexGet(recv, idx)
			if rerr != nil {
				if !m.throwClassified(rerr) {
					return value.Null, m.lastErr
				}
				continue
			}
			m.push(v)

		case chunk.OpSetIndex:
			v := m.pop()
			idx := m.pop()
			recv := m.pop()
			if rerr := m.indexSet(recv, idx, v); rerr != nil {
				if !m.throwClassified(rerr) {
					return value.Null, m.lastErr
				}
				continue
			}
			m.push(v)

		case chunk.OpGetSuper:
			idx := m.readULEB(f)
			name := m.readConstant(f, idx).Obj.(*value.String)
			super := m.pop().Obj.(*value.Class)
			recv := m.pop()
			method, ok := super.LookupMethod(name.Bytes)
			if !ok {
				if !m.propertyError("undefined property '%s'", name.Bytes) {
					return value.Null, m.lastErr
				}
				continue
			}
			bm := &value.BoundMethod{Receiver: recv, Method: method.Obj}
			m.track(bm)
			m.push(value.Obj_(bm))

		case chunk.OpDup:
			m.push(m.peek(0))
		case chunk.OpDupX2:
			n := len(m.stack)
			top := m.stack[n-1]
			m.stack = append(m.stack, value.Null)
			copy(m.stack[n-2:], m.stack[n-3:n+1])
			m.stack[n-3] = top
		case chunk.OpSwap:
			n := len(m.stack)
			m.stack[n-1], m.stack[n-2] = m.stack[n-2], m.stack[n-1]
		case chunk.OpPop:
			m.pop()

		case chunk.OpNot:
			m.push(value.Bool_(m.pop().IsFalsey()))
		case chunk.OpNegate:
			v := m.pop()
			if v.Kind != value.KindNumber {
				if !m.typeError("operand must be a number") {
					return value.Null, m.lastErr
				}
				continue
			}
			m.push(value.Number(-v.Num))
		case chunk.OpBitNot:
			v := m.pop()
			if v.Kind != value.KindNumber {
				if !m.typeError("operand must be a number") {
					return value.Null, m.lastErr
				}
				continue
			}
			m.push(value.Number(float64(^int64(v.Num))))

		case chunk.OpAdd, chunk.OpSub, chunk.OpMul, chunk.OpDiv, chunk.OpMod,
			chunk.OpAnd, chunk.OpOr, chunk.OpXor,
			chunk.OpLsh, chunk.OpAsh, chunk.OpRsh:
			if !m.arith(op) {
				if m.lastErr != nil {
					return value.Null, m.lastErr
				}
				continue
			}

		case chunk.OpEqual:
			b := m.pop()
			a := m.pop()
			m.push(value.Bool_(value.Equal(a, b)))
		case chunk.OpNotEqual:
			b := m.pop()
			a := m.pop()
			m.push(value.Bool_(!value.Equal(a, b)))
		case chunk.OpIs:
			b := m.pop()
			a := m.pop()
			m.push(value.Bool_(value.Is(a, b)))

		case chunk.OpGreater, chunk.OpGreaterEq, chunk.OpLess, chunk.OpLessEq:
			if !m.compare(op) {
				if m.lastErr != nil {
					return value.Null, m.lastErr
				}
				continue
			}

		case chunk.OpIn:
			if !m.inOp() {
				if m.lastErr != nil {
					return value.Null, m.lastErr
				}
				continue
			}

		case chunk.OpInstanceof:
			b := m.pop()
			a := m.pop()
			m.push(value.Bool_(m.instanceOf(a, b)))

		case chunk.OpTypeof:
			v := m.pop()
			m.push(value.Obj_(m.intern(value.TypeName(v))))

		case chunk.OpJump:
			off := m.readU16(f)
			f.ip += int(off)
		case chunk.OpLoop:
			off := m.readU16(f)
			f.ip -= int(off)
		case chunk.OpJumpIfFalse, chunk.OpJumpIfFalseSC:
			off := m.readU16(f)
			if m.peek(0).IsFalsey() {
				f.ip += int(off)
			}

		case chunk.OpCall:
			argc := int(m.readByte(f))
			if !m.callValue(m.peek(argc), argc) {
				if m.lastErr != nil {
					return value.Null, m.lastErr
				}
				continue
			}

		case chunk.OpClosure:
			idx := m.readULEB(f)
			fn := m.readConstant(f, idx).Obj.(*value.Function)
			cl := &value.Closure{Fn: fn, Module: f.closure.Module, Upvalues: make([]*value.Upvalue, fn.UpvalueCnt)}
			for i := 0; i < fn.UpvalueCnt; i++ {
				isLocal := m.readByte(f) == 1
				index := int(m.readByte(f))
				if isLocal {
					cl.Upvalues[i] = m.captureUpvalue(f.base + index)
				} else {
					cl.Upvalues[i] = f.closure.Upvalues[index]
				}
			}
			m.track(cl)
			m.push(value.Obj_(cl))

		case chunk.OpClass:
			idx := m.readULEB(f)
			name := m.readConstant(f, idx).Obj.(*value.String)
			cls := &value.Class{Name: name, Methods: make(map[string]value.Value)}
			m.track(cls)
			m.push(value.Obj_(cls))

		case chunk.OpInherit:
			super, ok := m.peek(1).Obj.(*value.Class)
			if !ok {
				if !m.typeError("superclass must be a class") {
					return value.Null, m.lastErr
				}
				continue
			}
			sub := m.peek(0).Obj.(*value.Class)
			for k, v := range super.Methods {
				sub.Methods[k] = v
			}
			sub.Super = super
			m.pop()

		case chunk.OpMethod:
			idx := m.readULEB(f)
			name := m.readConstant(f, idx).Obj.(*value.String)
			method := m.pop()
			cls := m.peek(0).Obj.(*value.Class)
			cls.Methods[name.Bytes] = method

		case chunk.OpInvoke:
			idx := m.readULEB(f)
			name := m.readConstant(f, idx).Obj.(*value.String)
			argc := int(m.readByte(f))
			if !m.invoke(name.Bytes, argc) {
				if m.lastErr != nil {
					return value.Null, m.lastErr
				}
				continue
			}

		case chunk.OpSuperInvoke:
			idx := m.readULEB(f)
			name := m.readConstant(f, idx).Obj.(*value.String)
			argc := int(m.readByte(f))
			super := m.pop().Obj.(*value.Class)
			method, ok := super.LookupMethod(name.Bytes)
			if !ok {
				if !m.propertyError("undefined property '%s'", name.Bytes) {
					return value.Null, m.lastErr
				}
				continue
			}
			if !m.callMethodValue(method, argc) {
				if m.lastErr != nil {
					return value.Null, m.lastErr
				}
				continue
			}

		case chunk.OpReturn:
			result := m.pop()
			m.closeUpvalues(f.base)
			done := len(m.frames)-1 == baseFrameDepth
			m.stack = m.stack[:f.base]
			m.frames = m.frames[:len(m.frames)-1]
			if done {
				return result, nil
			}
			m.push(result)

		case chunk.OpThrow:
			thrown := m.pop()
			if !m.unwind(thrown) {
				return value.Null, m.thrownToError(thrown)
			}

		case chunk.OpTryBegin:
			off := m.readU16(f)
			m.tries = append(m.tries, tryHandler{
				frameDepth: len(m.frames),
				stackLen:   len(m.stack),
				target:     f.ip + int(off),
			})

		case chunk.OpTryEnd:
			if len(m.tries) > 0 {
				m.tries = m.tries[:len(m.tries)-1]
			}

		case chunk.OpImport:
			idx := m.readULEB(f)
			path := m.readConstant(f, idx).Obj.(*value.String)
			modVal, rerr := m.importModule(path.Bytes)
			if rerr != nil {
				if !m.throwErr(rerr) {
					return value.Null, m.lastErr
				}
				continue
			}
			m.push(modVal)

		case chunk.OpExport:
			idx := m.readULEB(f)
			name := m.readConstant(f, idx).Obj.(*value.String)
			f.closure.Module.Exports.Set(name.Bytes, m.peek(0))

		default:
			if !m.throwErr(m.runtimeErrorf("unknown opcode %d", byte(op))) {
				return value.Null, m.lastErr
			}
		}
	}
}
