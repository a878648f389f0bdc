package compiler

import (
	"github.com/dragonvm/dragon/pkg/chunk"
	"github.com/dragonvm/dragon/pkg/lexer"
	"github.com/dragonvm/dragon/pkg/value"
)

func (c *Compiler) declaration() {
	switch {
	case c.match(lexer.TokenVar):
		c.varDeclaration()
	case c.match(lexer.TokenFunction):
		c.functionDeclaration()
	case c.match(lexer.TokenClass):
		c.classDeclaration()
	case c.match(lexer.TokenExport):
		c.exportDeclaration()
	default:
		c.statement()
	}
	if c.panicking {
		c.synchronize()
	}
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("expected variable name")
	if c.match(lexer.TokenEqual) {
		c.expression()
	} else {
		c.emitOp(chunk.OpNull)
	}
	c.consume(lexer.TokenSemicolon, "expected ';' after variable declaration")
	c.defineVariable(global)
}

// exportDeclaration compiles `export name = value;`: a var
// declaration that also records the binding in the current module's
// export table. Only valid at the top level of a module — export is
// a statement about the module's own namespace, not a local scope's.
func (c *Compiler) exportDeclaration() {
	if c.f.scopeDepth > 0 {
		c.error("'export' is only allowed at the top level of a module")
	}
	c.consume(lexer.TokenIdentifier, "expected variable name after 'export'")
	name := c.prev.Lexeme
	nameConst := c.identifierConstant(name)

	c.consume(lexer.TokenEqual, "expected '=' after exported variable name")
	c.expression()
	c.consume(lexer.TokenSemicolon, "expected ';' after export declaration")

	c.emitOp(chunk.OpExport)
	c.emitConstantIndex(nameConst)
	c.emitOp(chunk.OpDefineGlobal)
	c.emitConstantIndex(nameConst)
}

func (c *Compiler) functionDeclaration() {
	global := c.parseVariable("expected function name")
	c.markInitialized()
	c.function(typeFunction)
	c.defineVariable(global)
}

// function compiles a named function's parameter list and body,
// emitting a CLOSURE for it on the enclosing function's stack.
func (c *Compiler) function(t funcType) {
	name := internString(c.prev.Lexeme)
	c.pushFunction(t, name)
	c.beginScope()

	c.consume(lexer.TokenLeftParen, "expected '(' after function name")
	varargs := false
	if !c.check(lexer.TokenRightParen) {
		for {
			if varargs {
				c.error("variadic parameter must be the last parameter")
			}
			c.f.fn.Arity++
			if c.f.fn.Arity > maxParams {
				c.error("functions may not exceed 255 parameters")
			}
			g := c.parseVariable("expected parameter name")
			c.defineVariable(g)
			if c.match(lexer.TokenDotDotDot) {
				varargs = true
			}
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightParen, "expected ')' after parameters")
	c.consume(lexer.TokenLeftBrace, "expected '{' before function body")
	c.block()

	upvals := c.f.upvalues
	fn := c.endFunction()
	fn.IsVarargs = varargs
	if t == typeConstructor {
		fn.IsInitMethod = true
	}

	c.emitOp(chunk.OpClosure)
	c.emitConstantIndex(c.makeConstant(value.Obj_(fn)))
	for _, u := range upvals {
		if u.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(byte(u.index))
	}
}

func (c *Compiler) classDeclaration() {
	c.consume(lexer.TokenIdentifier, "expected class name")
	nameTok := c.prev.Lexeme
	nameConst := c.identifierConstant(nameTok)
	c.declareVariable()

	c.emitOp(chunk.OpClass)
	c.emitConstantIndex(nameConst)
	c.defineVariable(nameConst)

	cc := &classCtx{enclosing: c.f.class}
	c.f.class = cc

	if c.match(lexer.TokenColon) {
		c.consume(lexer.TokenIdentifier, "expected superclass name")
		c.variable(false)
		if nameTok == c.prev.Lexeme {
			c.error("a class can't inherit from itself")
		}

		c.beginScope()
		c.addLocal("super")
		c.defineVariable(0)

		c.namedVariable(nameTok, false)
		c.emitOp(chunk.OpInherit)
		cc.hasSuper = true
	}

	c.namedVariable(nameTok, false)
	c.consume(lexer.TokenLeftBrace, "expected '{' before class body")
	for !c.check(lexer.TokenRightBrace) && !c.check(lexer.TokenEOF) {
		c.method()
	}
	c.consume(lexer.TokenRightBrace, "expected '}' after class body")
	c.emitOp(chunk.OpPop) // class value pushed by namedVariable above

	if cc.hasSuper {
		c.endScope()
	}
	c.f.class = cc.enclosing
}

// method compiles a bare class-body method declaration (name() { ... },
// no leading function keyword), matching compiler.c:508's method():
// only the name precedes the parameter list inside a class body.
func (c *Compiler) method() {
	c.consume(lexer.TokenIdentifier, "expected method name")
	nameTok := c.prev.Lexeme
	nameConst := c.identifierConstant(nameTok)

	t := typeMethod
	if nameTok == "constructor" {
		t = typeConstructor
	}
	c.function(t)
	c.emitOp(chunk.OpMethod)
	c.emitConstantIndex(nameConst)
}

// ---- statements ----

func (c *Compiler) statement() {
	switch {
	case c.match(lexer.TokenIf):
		c.ifStatement()
	case c.match(lexer.TokenWhile):
		c.whileStatement()
	case c.match(lexer.TokenFor):
		c.forStatement()
	case c.match(lexer.TokenForeach):
		c.foreachStatement()
	case c.match(lexer.TokenSwitch):
		c.switchStatement()
	case c.match(lexer.TokenTry):
		c.tryStatement()
	case c.match(lexer.TokenThrow):
		c.throwStatement()
	case c.match(lexer.TokenReturn):
		c.returnStatement()
	case c.match(lexer.TokenBreak):
		c.breakStatement()
	case c.match(lexer.TokenContinue):
		c.continueStatement()
	case c.match(lexer.TokenLeftBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(lexer.TokenSemicolon, "expected ';' after expression")
	c.emitOp(chunk.OpPop)
}

func (c *Compiler) block() {
	for !c.check(lexer.TokenRightBrace) && !c.check(lexer.TokenEOF) {
		c.declaration()
	}
	c.consume(lexer.TokenRightBrace, "expected '}' after block")
}

func (c *Compiler) ifStatement() {
	c.consume(lexer.TokenLeftParen, "expected '(' after 'if'")
	c.expression()
	c.consume(lexer.TokenRightParen, "expected ')' after condition")

	thenJump := c.emitJump(chunk.OpJumpIfFalse)
	c.emitOp(chunk.OpPop)
	c.statement()

	elseJump := c.emitJump(chunk.OpJump)
	c.patchJump(thenJump)
	c.emitOp(chunk.OpPop)

	if c.match(lexer.TokenElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) pushLoop() *loopCtx {
	lc := loopCtx{scopeDepth: c.f.scopeDepth, localBase: len(c.f.locals)}
	c.f.loops = append(c.f.loops, lc)
	return &c.f.loops[len(c.f.loops)-1]
}

func (c *Compiler) popLoop() {
	c.f.loops = c.f.loops[:len(c.f.loops)-1]
}

func (c *Compiler) currentLoop() *loopCtx {
	if len(c.f.loops) == 0 {
		return nil
	}
	return &c.f.loops[len(c.f.loops)-1]
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.curChunk().Code)
	lc := c.pushLoop()
	lc.continueTarget = loopStart

	c.consume(lexer.TokenLeftParen, "expected '(' after 'while'")
	c.expression()
	c.consume(lexer.TokenRightParen, "expected ')' after condition")

	exitJump := c.emitJump(chunk.OpJumpIfFalse)
	c.emitOp(chunk.OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(chunk.OpPop)

	for _, j := range c.currentLoop().breakJumps {
		c.patchJump(j)
	}
	c.popLoop()
}

func (c *Compiler) forStatement() {
	c.beginScope()
	c.consume(lexer.TokenLeftParen, "expected '(' after 'for'")

	if c.match(lexer.TokenSemicolon) {
		// no initializer
	} else if c.match(lexer.TokenVar) {
		c.varDeclaration()
	} else {
		c.expressionStatement()
	}

	loopStart := len(c.curChunk().Code)
	lc := c.pushLoop()

	exitJump := -1
	if !c.match(lexer.TokenSemicolon) {
		c.expression()
		c.consume(lexer.TokenSemicolon, "expected ';' after loop condition")
		exitJump = c.emitJump(chunk.OpJumpIfFalse)
		c.emitOp(chunk.OpPop)
	}

	if !c.check(lexer.TokenRightParen) {
		bodyJump := c.emitJump(chunk.OpJump)
		incrStart := len(c.curChunk().Code)
		c.expression()
		c.emitOp(chunk.OpPop)
		c.consume(lexer.TokenRightParen, "expected ')' after for clauses")

		c.emitLoop(loopStart)
		loopStart = incrStart
		c.patchJump(bodyJump)
	} else {
		c.consume(lexer.TokenRightParen, "expected ')' after for clauses")
	}
	lc.continueTarget = loopStart

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(chunk.OpPop)
	}
	for _, j := range c.currentLoop().breakJumps {
		c.patchJump(j)
	}
	c.popLoop()
	c.endScope()
}

// foreachStatement compiles `foreach (var name in iterable) body` using
// the iterator protocol (`.iterator()` / `.more()` / `.next()`).
func (c *Compiler) foreachStatement() {
	c.beginScope()
	c.consume(lexer.TokenLeftParen, "expected '(' after 'foreach'")
	c.match(lexer.TokenVar)
	c.consume(lexer.TokenIdentifier, "expected loop variable name")
	itemName := c.prev.Lexeme
	c.consume(lexer.TokenIn, "expected 'in' in foreach")

	c.expression()
	c.emitOp(chunk.OpInvoke)
	c.emitConstantIndex(c.identifierConstant("iterator"))
	c.emitByte(0)
	c.consume(lexer.TokenRightParen, "expected ')' after iterable")

	c.addLocal("@iter")
	c.markInitialized()
	iterSlot := len(c.f.locals) - 1

	loopStart := len(c.curChunk().Code)
	lc := c.pushLoop()
	lc.continueTarget = loopStart

	c.emitOpByte(chunk.OpGetLocal, byte(iterSlot))
	c.emitOp(chunk.OpInvoke)
	c.emitConstantIndex(c.identifierConstant("more"))
	c.emitByte(0)
	exitJump := c.emitJump(chunk.OpJumpIfFalse)
	c.emitOp(chunk.OpPop)

	c.emitOpByte(chunk.OpGetLocal, byte(iterSlot))
	c.emitOp(chunk.OpInvoke)
	c.emitConstantIndex(c.identifierConstant("next"))
	c.emitByte(0)

	c.beginScope()
	c.addLocal(itemName)
	c.markInitialized()
	c.statement()
	c.endScope()

	c.emitLoop(loopStart)
	c.patchJump(exitJump)
	c.emitOp(chunk.OpPop)

	for _, j := range c.currentLoop().breakJumps {
		c.patchJump(j)
	}
	c.popLoop()
	c.endScope()
}

// switchStatement compiles a chain of value-equality tests. Each case
// body ends with a plain forward JUMP to the statement's end rather
// than the backward-LOOP trick the C original reuses — there is no
// backward control flow in a switch, so a forward jump says what's
// happening instead of reusing an unrelated opcode encoding.
func (c *Compiler) switchStatement() {
	c.consume(lexer.TokenLeftParen, "expected '(' after 'switch'")
	c.expression()
	c.consume(lexer.TokenRightParen, "expected ')' after switch value")
	c.consume(lexer.TokenLeftBrace, "expected '{' before switch body")

	var endJumps []int
	for c.match(lexer.TokenIs) {
		c.emitOp(chunk.OpDup)
		c.expression()
		c.emitOp(chunk.OpEqual)
		nextCaseJump := c.emitJump(chunk.OpJumpIfFalse)
		c.emitOp(chunk.OpPop)
		c.consume(lexer.TokenColon, "expected ':' after case value")
		for !c.check(lexer.TokenIs) && !c.check(lexer.TokenElse) && !c.check(lexer.TokenRightBrace) {
			c.declaration()
		}
		endJumps = append(endJumps, c.emitJump(chunk.OpJump))
		c.patchJump(nextCaseJump)
		c.emitOp(chunk.OpPop)
	}
	if c.match(lexer.TokenElse) {
		c.consume(lexer.TokenColon, "expected ':' after 'else'")
		for !c.check(lexer.TokenRightBrace) {
			c.declaration()
		}
	}
	c.consume(lexer.TokenRightBrace, "expected '}' after switch body")
	for _, j := range endJumps {
		c.patchJump(j)
	}
	c.emitOp(chunk.OpPop) // the switched-on value
}

// skipBlock consumes tokens, without compiling anything, up through
// the brace matching the '{' the caller already consumed. Used by
// tryStatement's first pass to locate a finally clause (if any) before
// committing to real compilation of the try/catch body.
func (c *Compiler) skipBlock() {
	depth := 1
	for depth > 0 && !c.check(lexer.TokenEOF) {
		if c.check(lexer.TokenLeftBrace) {
			depth++
		} else if c.check(lexer.TokenRightBrace) {
			depth--
		}
		c.advance()
	}
}

// tryStatement compiles try/catch/finally as a TRY_BEGIN/TRY_END
// bytecode region. Per the documented decision, finally always runs —
// on normal completion, on an exception that escapes both try and
// catch, and on a return/break/continue that jumps out of either body
// — so the finally block's bytecode is compiled once and a byte-level
// copy of it (see chunk.Chunk.AppendRaw) is spliced at each of those
// exit points. A first, non-compiling pass locates the optional
// finally clause so its bytecode is known before the try/catch body is
// compiled for real; the scanner is then rewound and the whole
// statement is compiled once, live.
func (c *Compiler) tryStatement() {
	markPos, markLine := c.lx.Mark()
	savedCur, savedPrev := c.cur, c.prev

	c.consume(lexer.TokenLeftBrace, "expected '{' after 'try'")
	c.skipBlock()

	if c.check(lexer.TokenCatch) {
		c.advance()
		if c.check(lexer.TokenLeftParen) {
			for !c.check(lexer.TokenRightParen) && !c.check(lexer.TokenEOF) {
				c.advance()
			}
			c.advance() // ')'
		}
		c.consume(lexer.TokenLeftBrace, "expected '{' after 'catch'")
		c.skipBlock()
	}

	var finallyBytes []byte
	if c.check(lexer.TokenFinally) {
		c.advance()
		c.consume(lexer.TokenLeftBrace, "expected '{' after 'finally'")
		start := len(c.curChunk().Code)
		c.beginScope()
		c.block()
		c.endScope()
		finallyBytes = append([]byte(nil), c.curChunk().Code[start:]...)
		c.curChunk().TruncateTo(start)
	}

	c.lx.Reset(markPos, markLine)
	c.cur, c.prev = savedCur, savedPrev

	if finallyBytes != nil {
		c.f.finallyStack = append(c.f.finallyStack, finallyBytes)
	}

	outerTryJump := c.emitJump(chunk.OpTryBegin)

	innerTryJump := c.emitJump(chunk.OpTryBegin)
	c.consume(lexer.TokenLeftBrace, "expected '{' after 'try'")
	c.beginScope()
	c.block()
	c.endScope()
	c.emitOp(chunk.OpTryEnd)
	jumpOverCatch := c.emitJump(chunk.OpJump)
	c.patchJump(innerTryJump)

	if c.match(lexer.TokenCatch) {
		c.beginScope()
		if c.match(lexer.TokenLeftParen) {
			c.consume(lexer.TokenIdentifier, "expected exception variable name")
			c.addLocal(c.prev.Lexeme)
			c.markInitialized()
			c.consume(lexer.TokenRightParen, "expected ')' after catch variable")
		} else {
			c.emitOp(chunk.OpPop)
		}
		c.consume(lexer.TokenLeftBrace, "expected '{' after 'catch'")
		c.block()
		c.endScope()
	} else {
		c.emitOp(chunk.OpPop)
	}
	c.patchJump(jumpOverCatch)
	c.emitOp(chunk.OpTryEnd)

	if finallyBytes != nil {
		c.f.finallyStack = c.f.finallyStack[:len(c.f.finallyStack)-1]
		c.curChunk().AppendRaw(finallyBytes, c.line())
	}
	skipRethrow := c.emitJump(chunk.OpJump)

	c.patchJump(outerTryJump)
	if finallyBytes != nil {
		c.curChunk().AppendRaw(finallyBytes, c.line())
	}
	c.emitOp(chunk.OpThrow)

	c.patchJump(skipRethrow)

	// The finally clause's source tokens still need to be consumed from
	// the real token stream so the compiler ends up positioned after
	// them — its bytecode was already spliced in above, at both the
	// normal-completion and exception-escape exit points.
	if c.check(lexer.TokenFinally) {
		c.advance()
		c.consume(lexer.TokenLeftBrace, "expected '{' after 'finally'")
		c.skipBlock()
	}
}

func (c *Compiler) throwStatement() {
	c.expression()
	c.consume(lexer.TokenSemicolon, "expected ';' after thrown value")
	c.emitOp(chunk.OpThrow)
}

// spliceFinallies replays every currently-active finally block,
// innermost first, so a jump out of a try/catch body (return, break,
// continue) still runs enclosing finally clauses on its way out.
func (c *Compiler) spliceFinallies() {
	for i := len(c.f.finallyStack) - 1; i >= 0; i-- {
		c.curChunk().AppendRaw(c.f.finallyStack[i], c.line())
	}
}

func (c *Compiler) returnStatement() {
	if c.f.fnType == typeScript {
		c.error("can't return from top-level code")
	}
	if c.match(lexer.TokenSemicolon) {
		c.spliceFinallies()
		c.emitReturn()
		return
	}
	if c.f.fnType == typeConstructor {
		c.error("can't return a value from an initializer")
	}
	c.expression()
	c.consume(lexer.TokenSemicolon, "expected ';' after return value")
	c.spliceFinallies()
	c.emitOp(chunk.OpReturn)
}

func (c *Compiler) breakStatement() {
	lc := c.currentLoop()
	if lc == nil {
		c.error("'break' outside of a loop")
		c.consume(lexer.TokenSemicolon, "expected ';' after 'break'")
		return
	}
	c.consume(lexer.TokenSemicolon, "expected ';' after 'break'")
	c.discardLocalsToDepth(lc.scopeDepth)
	c.spliceFinallies()
	j := c.emitJump(chunk.OpJump)
	lc.breakJumps = append(lc.breakJumps, j)
}

func (c *Compiler) continueStatement() {
	lc := c.currentLoop()
	if lc == nil {
		c.error("'continue' outside of a loop")
		c.consume(lexer.TokenSemicolon, "expected ';' after 'continue'")
		return
	}
	c.consume(lexer.TokenSemicolon, "expected ';' after 'continue'")
	c.discardLocalsToDepth(lc.scopeDepth)
	c.spliceFinallies()
	c.emitLoop(lc.continueTarget)
}
