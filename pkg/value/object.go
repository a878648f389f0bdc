package value

import "fmt"

// Object is the interface every heap-allocated value implements. It
// exists so the VM can hold a Value's payload as a plain Go pointer
// while still giving the collector a uniform way to walk the header
// every heap kind shares.
//
// The "common header" the spec describes (kind, is_marked,
// next_in_object_chain) is embedded as Header in every concrete type
// below, rather than recovered by downcasting a void*; that is the
// idiomatic Go rendering of the same invariant.
type Object interface {
	object()
	header() *Header
}

// Header is embedded in every heap object. IsMarked and Next implement
// the collector's intrusive chain and tri-color mark bit; nothing else
// touches them except pkg/vm's collector.
type Header struct {
	IsMarked bool
	Next     Object
}

func (h *Header) header() *Header { return h }

// String is an interned, immutable byte sequence. Two strings with
// equal bytes share the same *String — see pkg/vm's Strings table.
type String struct {
	Header
	Bytes string
	Hash  uint32
}

func (*String) object() {}

func (s *String) String() string { return s.Bytes }

// Function is the compiled body of a user-defined function or method:
// immutable once the compiler finishes emitting it.
type Function struct {
	Header
	Name        *String // nil for the implicit top-level script function
	Arity       int     // count of declared parameters, including a trailing variadic one
	UpvalueCnt  int
	Chunk       Chunk // see pkg/chunk; kept as an interface value to avoid an import cycle
	IsLambda    bool
	IsVarargs   bool
	IsInitMethod bool // true for a method literally named "constructor"
}

func (*Function) object() {}

func (f *Function) String() string {
	if f.Name == nil {
		return "<script>"
	}
	return fmt.Sprintf("<function %s>", f.Name.Bytes)
}

// Chunk is implemented by *chunk.Chunk; declared here as an interface
// so pkg/value (the lower layer) need not import pkg/chunk (the higher
// layer), avoiding a cycle. pkg/vm uses a type assertion back to
// *chunk.Chunk when it needs the concrete bytecode.
type Chunk interface {
	Disassemble(name string) string
}

// NativeFn is a function pointer registered from Go: the native ABI.
// It receives an optional bound receiver, the argument slice, and
// returns a result plus an optional thrown exception instance.
//
// Returning (Value, nil) is success; returning a non-nil *Instance
// means the VM should throw that instance instead of using the Value.
type NativeFn func(args []Value, receiver Value, hasReceiver bool) (Value, *Instance)

// Native wraps a NativeFn with the declared arity Dragon call-sites see.
type Native struct {
	Header
	Name      *String
	Arity     int
	IsVarargs bool
	Fn        NativeFn
	Bound     *Value // not set by pkg/vm, whose method reads build a *BoundMethod; marked by the collector when non-nil
}

func (*Native) object() {}

func (n *Native) String() string {
	return fmt.Sprintf("<native %s>", n.Name.Bytes)
}

// Upvalue is a shared mutable cell: open while it aliases a stack slot,
// closed once that slot's frame has ended and the value has been
// copied into the cell itself.
type Upvalue struct {
	Header
	Location *Value // points into the VM value stack while open, or &Closed once closed
	Closed   Value
	NextOpen *Upvalue // intrusive next pointer in the VM's open-upvalue list, ordered by descending stack address
}

func (*Upvalue) object() {}

func (u *Upvalue) String() string { return "<upvalue>" }

// Closure pairs a Function with the upvalues it captured and the
// module it is bound to, so global reads/writes always target the
// right module's tables.
type Closure struct {
	Header
	Fn       *Function
	Upvalues []*Upvalue
	Module   *Module
}

func (*Closure) object() {}

func (c *Closure) String() string { return c.Fn.String() }

// Module is one imported or running source file's global namespace: its
// own global-variable table and the subset of names it has exported.
// Modules live as ordinary heap objects (rather than a separate
// pkg/vm-only type) so Closure can reference the module it closed over
// without pkg/value importing pkg/vm.
type Module struct {
	Header
	Name      *String
	Path      string // resolved import path, used to identify a cached re-import
	Globals   *Table
	Exports   *Table
	Done      bool // true once the module body has finished running once
}

func (*Module) object() {}

func (m *Module) String() string { return fmt.Sprintf("<module %s>", m.Path) }

// Class is a prototype-less class: a flat method table (populated from
// the superclass at INHERIT time, then overridden/extended by METHOD)
// plus an optional superclass pointer kept for `instanceof`/`super`.
type Class struct {
	Header
	Name       *String
	Methods    map[string]Value // name -> *Closure or *Native
	Super      *Class
}

func (*Class) object() {}

func (c *Class) String() string { return fmt.Sprintf("<class %s>", c.Name.Bytes) }

// LookupMethod finds a method by name, walking only this class's own
// flattened table (INHERIT already copied every inherited entry in, so
// this is always a single probe, per spec.md's invariant).
func (c *Class) LookupMethod(name string) (Value, bool) {
	v, ok := c.Methods[name]
	return v, ok
}

// IsOrInherits walks the superclass chain for `instanceof`.
func (c *Class) IsOrInherits(target *Class) bool {
	for cur := c; cur != nil; cur = cur.Super {
		if cur == target {
			return true
		}
	}
	return false
}

// Instance is a class instance: a flat field table, checked before
// methods on every property read (fields shadow methods of the same
// name).
type Instance struct {
	Header
	Class  *Class
	Fields map[string]Value
}

func (*Instance) object() {}

func (i *Instance) String() string { return fmt.Sprintf("<instance of %s>", i.Class.Name.Bytes) }

// List is a growable sequence of values.
type List struct {
	Header
	Items []Value
}

func (*List) object() {}

func (l *List) String() string { return "<list>" }

// BoundMethod pairs a receiver with the closure (or native) to invoke
// when the binding is called, produced whenever a method is read off
// an instance as a value rather than immediately invoked.
type BoundMethod struct {
	Header
	Receiver Value
	Method   Object // *Closure or *Native
}

func (*BoundMethod) object() {}

func (b *BoundMethod) String() string { return "<bound method>" }
