// Package compiler implements Dragon's single-pass Pratt compiler: it
// consumes tokens one at a time from pkg/lexer and emits pkg/chunk
// bytecode directly, without ever building an intermediate AST. Scope
// resolution (locals, upvalue capture) and forward-jump patching both
// happen inline during this one pass.
package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dragonvm/dragon/pkg/chunk"
	"github.com/dragonvm/dragon/pkg/lexer"
	"github.com/dragonvm/dragon/pkg/value"
)

const (
	maxLocals   = 256
	maxUpvalues = 256
	maxParams   = 255
)

type funcType int

const (
	typeScript funcType = iota
	typeFunction
	typeMethod
	typeConstructor
)

type localVar struct {
	name       string
	depth      int
	isCaptured bool
}

type upvalueRef struct {
	index   int
	isLocal bool
}

type loopCtx struct {
	continueTarget int
	breakJumps     []int
	scopeDepth     int
	localBase      int // len(locals) at loop entry, for discardLocalsToDepth
}

type classCtx struct {
	enclosing  *classCtx
	hasSuper   bool
}

// fnCompiler tracks per-function compilation state: its own locals,
// upvalues, and chunk. Nested function literals create a child
// fnCompiler linked to the parent, mirroring spec.md §4.4's explicit
// "linked stack of per-function compilers" — kept explicit (not hidden
// behind the host language's call stack) because in the C original
// this chain must be walkable by the collector; in this Go port the
// chain is walked instead to resolve upvalues across nesting levels,
// which is the only reason callers still need it.
type fnCompiler struct {
	enclosing *fnCompiler
	fn        *value.Function
	chunk     *chunk.Chunk
	fnType    funcType

	locals     []localVar
	scopeDepth int
	upvalues   []upvalueRef

	loops []loopCtx
	class *classCtx

	// finallyStack holds the compiled bytecode of every enclosing
	// try's finally block, innermost last, while compiling a try or
	// catch body. return/break/continue splice a copy of each active
	// entry ahead of their jump so finally always runs on the way out.
	finallyStack [][]byte
}

// Compiler drives compilation of a full program (or, for the REPL, one
// incremental top-level chunk) into a root *value.Function.
type Compiler struct {
	lx      *lexer.Lexer
	cur     lexer.Token
	prev    lexer.Token
	hadErr  bool
	panicking bool
	errs    []string

	f *fnCompiler
}

// New returns a compiler ready to compile a fresh top-level script.
func New() *Compiler {
	c := &Compiler{}
	c.pushFunction(typeScript, nil)
	return c
}

func (c *Compiler) pushFunction(t funcType, name *value.String) {
	fc := &fnCompiler{
		enclosing: c.f,
		fn: &value.Function{
			Name: name,
		},
		chunk:  chunk.NewChunk(),
		fnType: t,
	}
	if c.f != nil {
		fc.class = c.f.class
	}
	// Slot 0 is reserved: "this" in methods/constructors, inaccessible
	// (empty name) in plain functions.
	slotName := ""
	if t == typeMethod || t == typeConstructor {
		slotName = "this"
	}
	fc.locals = append(fc.locals, localVar{name: slotName, depth: 0})
	c.f = fc
}

// Compile compiles an entire source program into its root function.
func (c *Compiler) Compile(source string) (*value.Function, error) {
	c.lx = lexer.New(source)
	c.advance()
	for !c.check(lexer.TokenEOF) {
		c.declaration()
	}
	fn := c.endFunction()
	if c.hadErr {
		return nil, fmt.Errorf("compile error:\n%s", strings.Join(c.errs, "\n"))
	}
	return fn, nil
}

func (c *Compiler) endFunction() *value.Function {
	c.emitReturn()
	fn := c.f.fn
	fn.Chunk = c.f.chunk
	fn.UpvalueCnt = len(c.f.upvalues)
	c.f = c.f.enclosing
	return fn
}

// ---- token stream plumbing ----

func (c *Compiler) advance() {
	c.prev = c.cur
	for {
		c.cur = c.lx.Next()
		if c.cur.Type != lexer.TokenError {
			break
		}
		c.errorAtCurrent(c.cur.Lexeme)
	}
}

func (c *Compiler) check(t lexer.TokenType) bool { return c.cur.Type == t }

func (c *Compiler) match(t lexer.TokenType) bool {
	if !c.check(t) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) consume(t lexer.TokenType, msg string) {
	if c.cur.Type == t {
		c.advance()
		return
	}
	c.errorAtCurrent(msg)
}

func (c *Compiler) errorAtCurrent(msg string) { c.errorAt(c.cur, msg) }
func (c *Compiler) error(msg string)          { c.errorAt(c.prev, msg) }

func (c *Compiler) errorAt(tok lexer.Token, msg string) {
	if c.panicking {
		return
	}
	c.panicking = true
	c.hadErr = true
	c.errs = append(c.errs, fmt.Sprintf("line %d: %s", tok.Line, msg))
}

// synchronize implements panic-mode recovery: skip tokens until a
// likely statement boundary, per spec.md §7.
func (c *Compiler) synchronize() {
	c.panicking = false
	for !c.check(lexer.TokenEOF) {
		if c.prev.Type == lexer.TokenSemicolon {
			return
		}
		switch c.cur.Type {
		case lexer.TokenClass, lexer.TokenFunction, lexer.TokenVar, lexer.TokenFor,
			lexer.TokenIf, lexer.TokenWhile, lexer.TokenReturn, lexer.TokenTry,
			lexer.TokenThrow, lexer.TokenSwitch, lexer.TokenExport:
			return
		}
		c.advance()
	}
}

// ---- emit helpers ----

func (c *Compiler) curChunk() *chunk.Chunk { return c.f.chunk }
func (c *Compiler) line() int              { return c.prev.Line }

func (c *Compiler) emitOp(op chunk.Op) int   { return c.curChunk().WriteOp(op, c.line()) }
func (c *Compiler) emitByte(b byte)          { c.curChunk().WriteByte(b, c.line()) }
func (c *Compiler) emitOpByte(op chunk.Op, b byte) {
	c.emitOp(op)
	c.emitByte(b)
}

func (c *Compiler) emitConstantIndex(idx int) {
	c.curChunk().WriteULEB128(uint(idx), c.line())
}

func (c *Compiler) emitReturn() {
	if c.f.fnType == typeConstructor {
		c.emitOpByte(chunk.OpGetLocal, 0)
	} else {
		c.emitOp(chunk.OpNull)
	}
	c.emitOp(chunk.OpReturn)
}

func (c *Compiler) makeConstant(v value.Value) int {
	return c.curChunk().AddConstant(v)
}

func (c *Compiler) emitConstant(v value.Value) {
	c.emitOp(chunk.OpConstant)
	c.emitConstantIndex(c.makeConstant(v))
}

// emitJump writes op followed by a 2-byte placeholder, returning the
// offset of the placeholder for a later patchJump call.
func (c *Compiler) emitJump(op chunk.Op) int {
	c.emitOp(op)
	off := len(c.curChunk().Code)
	c.curChunk().WriteU16(0xffff, c.line())
	return off
}

func (c *Compiler) patchJump(off int) {
	target := len(c.curChunk().Code) - (off + 2)
	if target > 0xffff {
		c.error("too much code to jump over")
	}
	c.curChunk().PatchU16(off, uint16(target))
}

// emitLoop emits a backward jump to loopStart.
func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(chunk.OpLoop)
	off := len(c.curChunk().Code) + 2
	back := off - loopStart
	if back > 0xffff {
		c.error("loop body too large")
	}
	c.curChunk().WriteU16(uint16(back), c.line())
}

// ---- scope management ----

func (c *Compiler) beginScope() { c.f.scopeDepth++ }

func (c *Compiler) endScope() {
	c.f.scopeDepth--
	for len(c.f.locals) > 0 && c.f.locals[len(c.f.locals)-1].depth > c.f.scopeDepth {
		last := c.f.locals[len(c.f.locals)-1]
		if last.isCaptured {
			c.emitOp(chunk.OpCloseUpvalue)
		} else {
			c.emitOp(chunk.OpPop)
		}
		c.f.locals = c.f.locals[:len(c.f.locals)-1]
	}
}

// discardLocalsToDepth pops (or closes) every local declared deeper
// than depth, WITHOUT removing them from the locals slice — used by
// break/continue, which jump out of a scope that is still lexically
// open for code that follows.
func (c *Compiler) discardLocalsToDepth(depth int) {
	for i := len(c.f.locals) - 1; i >= 0 && c.f.locals[i].depth > depth; i-- {
		if c.f.locals[i].isCaptured {
			c.emitOp(chunk.OpCloseUpvalue)
		} else {
			c.emitOp(chunk.OpPop)
		}
	}
}

func (c *Compiler) identifierConstant(name string) int {
	return c.makeConstant(value.Obj_(internString(name)))
}

// internString is filled in by the host (pkg/vm) via SetStringInterner
// so the compiler and the VM always share one canonical *value.String
// per byte sequence, as spec.md's interning invariant requires.
var internString = func(s string) *value.String {
	return &value.String{Bytes: s, Hash: value.HashString(s)}
}

// SetStringInterner lets pkg/vm install its interning table so every
// constant the compiler creates round-trips through the same intern
// table the running VM uses.
func SetStringInterner(fn func(string) *value.String) {
	internString = fn
}

func (c *Compiler) declareVariable() {
	if c.f.scopeDepth == 0 {
		return
	}
	name := c.prev.Lexeme
	for i := len(c.f.locals) - 1; i >= 0; i-- {
		l := c.f.locals[i]
		if l.depth != -1 && l.depth < c.f.scopeDepth {
			break
		}
		if l.name == name {
			c.error("already a variable with this name in scope")
		}
	}
	c.addLocal(name)
}

func (c *Compiler) addLocal(name string) {
	if len(c.f.locals) >= maxLocals {
		c.error("too many local variables in scope")
		return
	}
	c.f.locals = append(c.f.locals, localVar{name: name, depth: -1})
}

func (c *Compiler) markInitialized() {
	if c.f.scopeDepth == 0 {
		return
	}
	c.f.locals[len(c.f.locals)-1].depth = c.f.scopeDepth
}

// parseVariable consumes an identifier, declares it as a local (if
// inside a scope), and returns the global-name constant index to use
// if this turns out to be a global (0 if this is a local).
func (c *Compiler) parseVariable(msg string) int {
	c.consume(lexer.TokenIdentifier, msg)
	c.declareVariable()
	if c.f.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.prev.Lexeme)
}

func (c *Compiler) defineVariable(global int) {
	if c.f.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitOp(chunk.OpDefineGlobal)
	c.emitConstantIndex(global)
}

func (c *Compiler) resolveLocal(fc *fnCompiler, name string) int {
	for i := len(fc.locals) - 1; i >= 0; i-- {
		if fc.locals[i].name == name {
			if fc.locals[i].depth == -1 {
				c.error("can't read local variable in its own initializer")
			}
			return i
		}
	}
	return -1
}

func (c *Compiler) resolveUpvalue(fc *fnCompiler, name string) int {
	if fc.enclosing == nil {
		return -1
	}
	if local := c.resolveLocal(fc.enclosing, name); local != -1 {
		fc.enclosing.locals[local].isCaptured = true
		return c.addUpvalue(fc, local, true)
	}
	if up := c.resolveUpvalue(fc.enclosing, name); up != -1 {
		return c.addUpvalue(fc, up, false)
	}
	return -1
}

func (c *Compiler) addUpvalue(fc *fnCompiler, index int, isLocal bool) int {
	for i, u := range fc.upvalues {
		if u.index == index && u.isLocal == isLocal {
			return i
		}
	}
	if len(fc.upvalues) >= maxUpvalues {
		c.error("too many closure variables in function")
		return 0
	}
	fc.upvalues = append(fc.upvalues, upvalueRef{index: index, isLocal: isLocal})
	return len(fc.upvalues) - 1
}

// ---- number/string literal helpers ----

func parseNumberLiteral(lexeme string) float64 {
	n, _ := strconv.ParseFloat(lexeme, 64)
	return n
}
