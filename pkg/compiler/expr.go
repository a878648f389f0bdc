package compiler

import (
	"github.com/dragonvm/dragon/pkg/chunk"
	"github.com/dragonvm/dragon/pkg/lexer"
	"github.com/dragonvm/dragon/pkg/value"
)

type parseFn func(canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence precedence
}

func (c *Compiler) rule(t lexer.TokenType) parseRule {
	switch t {
	case lexer.TokenLeftParen:
		return parseRule{c.grouping, c.call, precCall}
	case lexer.TokenLeftBracket:
		return parseRule{c.listLiteral, c.index, precCall}
	case lexer.TokenLeftBrace:
		return parseRule{c.objectLiteral, nil, precNone}
	case lexer.TokenDot:
		return parseRule{nil, c.dot, precCall}
	case lexer.TokenMinus:
		return parseRule{c.unary, c.binary, precTerm}
	case lexer.TokenPlus:
		return parseRule{nil, c.binary, precTerm}
	case lexer.TokenSlash:
		return parseRule{nil, c.binary, precFactor}
	case lexer.TokenStar:
		return parseRule{nil, c.binary, precFactor}
	case lexer.TokenPercent:
		return parseRule{nil, c.binary, precFactor}
	case lexer.TokenTilde:
		return parseRule{c.unary, nil, precUnary}
	case lexer.TokenCaret:
		return parseRule{nil, c.binary, precBitXor}
	case lexer.TokenAmp:
		return parseRule{nil, c.binary, precBitAnd}
	case lexer.TokenBar:
		return parseRule{c.lambda, c.binary, precBitOr}
	case lexer.TokenOrOr:
		return parseRule{c.lambdaEmpty, c.or, precOr}
	case lexer.TokenAndAnd:
		return parseRule{nil, c.and, precAnd}
	case lexer.TokenPipe:
		return parseRule{nil, c.pipe, precPipe}
	case lexer.TokenShl:
		return parseRule{nil, c.binary, precShift}
	case lexer.TokenShr:
		return parseRule{nil, c.binary, precShift}
	case lexer.TokenUShr:
		return parseRule{nil, c.binary, precShift}
	case lexer.TokenDotDot:
		return parseRule{nil, c.binary, precRange}
	case lexer.TokenBang:
		return parseRule{c.unary, nil, precUnary}
	case lexer.TokenBangEqual:
		return parseRule{nil, c.binary, precEquality}
	case lexer.TokenEqualEqual:
		return parseRule{nil, c.binary, precEquality}
	case lexer.TokenIs:
		return parseRule{nil, c.binary, precEquality}
	case lexer.TokenGreater:
		return parseRule{nil, c.binary, precComparison}
	case lexer.TokenGreaterEqual:
		return parseRule{nil, c.binary, precComparison}
	case lexer.TokenLess:
		return parseRule{nil, c.binary, precComparison}
	case lexer.TokenLessEqual:
		return parseRule{nil, c.binary, precComparison}
	case lexer.TokenIn:
		return parseRule{nil, c.binary, precComparison}
	case lexer.TokenInstanceof:
		return parseRule{nil, c.binary, precComparison}
	case lexer.TokenTypeof:
		return parseRule{c.unary, nil, precUnary}
	case lexer.TokenIdentifier:
		return parseRule{c.variable, nil, precNone}
	case lexer.TokenString:
		return parseRule{c.stringLiteral, nil, precNone}
	case lexer.TokenNumber:
		return parseRule{c.number, nil, precNone}
	case lexer.TokenTrue, lexer.TokenFalse, lexer.TokenNull:
		return parseRule{c.literal, nil, precNone}
	case lexer.TokenSuper:
		return parseRule{c.super_, nil, precNone}
	case lexer.TokenImport:
		return parseRule{c.importExpr, nil, precNone}
	case lexer.TokenThis:
		return parseRule{c.this_, nil, precNone}
	case lexer.TokenQuestion:
		return parseRule{nil, c.ternary, precTernary}
	}
	return parseRule{}
}

func (c *Compiler) expression() {
	c.parsePrecedence(precAssignment)
}

func (c *Compiler) parsePrecedence(prec precedence) {
	c.advance()
	prefix := c.rule(c.prev.Type).prefix
	if prefix == nil {
		c.error("expected expression")
		return
	}
	canAssign := prec <= precAssignment
	prefix(canAssign)

	for prec <= c.rule(c.cur.Type).precedence {
		c.advance()
		infix := c.rule(c.prev.Type).infix
		infix(canAssign)
	}

	if canAssign && (c.match(lexer.TokenEqual) || c.isInplaceOperatorTok()) {
		c.error("invalid assignment target")
	}
}

func (c *Compiler) isInplaceOperatorTok() bool {
	switch c.cur.Type {
	case lexer.TokenPlusEqual, lexer.TokenMinusEqual, lexer.TokenStarEqual,
		lexer.TokenSlashEqual, lexer.TokenPercentEqual, lexer.TokenCaretEqual,
		lexer.TokenAmpEqual, lexer.TokenBarEqual, lexer.TokenShlEqual, lexer.TokenShrEqual:
		c.advance()
		return true
	}
	return false
}

func (c *Compiler) inplaceOp(t lexer.TokenType) chunk.Op {
	switch t {
	case lexer.TokenPlusEqual:
		return chunk.OpAdd
	case lexer.TokenMinusEqual:
		return chunk.OpSub
	case lexer.TokenStarEqual:
		return chunk.OpMul
	case lexer.TokenSlashEqual:
		return chunk.OpDiv
	case lexer.TokenPercentEqual:
		return chunk.OpMod
	case lexer.TokenCaretEqual:
		return chunk.OpXor
	case lexer.TokenAmpEqual:
		return chunk.OpAnd
	case lexer.TokenBarEqual:
		return chunk.OpOr
	case lexer.TokenShlEqual:
		return chunk.OpLsh
	case lexer.TokenShrEqual:
		return chunk.OpAsh
	}
	return 0
}

func (c *Compiler) grouping(canAssign bool) {
	c.expression()
	c.consume(lexer.TokenRightParen, "expected ')' after expression")
}

func (c *Compiler) unary(canAssign bool) {
	op := c.prev.Type
	c.parsePrecedence(precUnary)
	switch op {
	case lexer.TokenMinus:
		c.emitOp(chunk.OpNegate)
	case lexer.TokenBang:
		c.emitOp(chunk.OpNot)
	case lexer.TokenTilde:
		c.emitOp(chunk.OpBitNot)
	case lexer.TokenTypeof:
		c.emitOp(chunk.OpTypeof)
	}
}

func (c *Compiler) binary(canAssign bool) {
	op := c.prev.Type
	r := c.rule(op)
	c.parsePrecedence(r.precedence + 1)
	switch op {
	case lexer.TokenPlus:
		c.emitOp(chunk.OpAdd)
	case lexer.TokenMinus:
		c.emitOp(chunk.OpSub)
	case lexer.TokenStar:
		c.emitOp(chunk.OpMul)
	case lexer.TokenSlash:
		c.emitOp(chunk.OpDiv)
	case lexer.TokenPercent:
		c.emitOp(chunk.OpMod)
	case lexer.TokenAmp:
		c.emitOp(chunk.OpAnd)
	case lexer.TokenBar:
		c.emitOp(chunk.OpOr)
	case lexer.TokenCaret:
		c.emitOp(chunk.OpXor)
	case lexer.TokenShl:
		c.emitOp(chunk.OpLsh)
	case lexer.TokenShr:
		c.emitOp(chunk.OpAsh)
	case lexer.TokenUShr:
		c.emitOp(chunk.OpRsh)
	case lexer.TokenBangEqual:
		c.emitOp(chunk.OpNotEqual)
	case lexer.TokenEqualEqual:
		c.emitOp(chunk.OpEqual)
	case lexer.TokenGreater:
		c.emitOp(chunk.OpGreater)
	case lexer.TokenGreaterEqual:
		c.emitOp(chunk.OpGreaterEq)
	case lexer.TokenLess:
		c.emitOp(chunk.OpLess)
	case lexer.TokenLessEqual:
		c.emitOp(chunk.OpLessEq)
	case lexer.TokenIs:
		c.emitOp(chunk.OpIs)
	case lexer.TokenIn:
		c.emitOp(chunk.OpIn)
	case lexer.TokenInstanceof:
		c.emitOp(chunk.OpInstanceof)
	case lexer.TokenDotDot:
		c.emitOp(chunk.OpRange)
	}
}

func (c *Compiler) and(canAssign bool) {
	endJump := c.emitJump(chunk.OpJumpIfFalseSC)
	c.emitOp(chunk.OpPop)
	c.parsePrecedence(precAnd)
	c.patchJump(endJump)
}

func (c *Compiler) or(canAssign bool) {
	elseJump := c.emitJump(chunk.OpJumpIfFalseSC)
	endJump := c.emitJump(chunk.OpJump)
	c.patchJump(elseJump)
	c.emitOp(chunk.OpPop)
	c.parsePrecedence(precOr)
	c.patchJump(endJump)
}

func (c *Compiler) ternary(canAssign bool) {
	thenJump := c.emitJump(chunk.OpJumpIfFalse)
	c.emitOp(chunk.OpPop)
	c.parsePrecedence(precAssignment)
	elseJump := c.emitJump(chunk.OpJump)
	c.patchJump(thenJump)
	c.emitOp(chunk.OpPop)
	c.consume(lexer.TokenColon, "expected ':' in ternary expression")
	c.parsePrecedence(precTernary)
	c.patchJump(elseJump)
}

func (c *Compiler) pipe(canAssign bool) {
	c.parsePrecedence(precPipe + 1)
	c.emitOp(chunk.OpSwap)
	c.emitOpByte(chunk.OpCall, 1)
}

func (c *Compiler) number(canAssign bool) {
	c.emitConstant(value.Number(parseNumberLiteral(c.prev.Lexeme)))
}

func (c *Compiler) stringLiteral(canAssign bool) {
	raw := c.prev.Lexeme
	body := raw[1 : len(raw)-1]
	s := lexer.UnescapeString(body)
	c.emitConstant(value.Obj_(internString(s)))
}

// importExpr compiles `import "path"`: the path must be a string
// literal (import targets are resolved at compile time, not computed),
// and IMPORT's operand is the path constant itself rather than a
// value popped off the stack, matching spec.md §4.5's `IMPORT name`
// encoding.
func (c *Compiler) importExpr(canAssign bool) {
	c.consume(lexer.TokenString, "expected a string literal after 'import'")
	raw := c.prev.Lexeme
	body := raw[1 : len(raw)-1]
	path := lexer.UnescapeString(body)
	idx := c.makeConstant(value.Obj_(internString(path)))
	c.emitOp(chunk.OpImport)
	c.emitConstantIndex(idx)
}

func (c *Compiler) literal(canAssign bool) {
	switch c.prev.Type {
	case lexer.TokenFalse:
		c.emitOp(chunk.OpFalse)
	case lexer.TokenTrue:
		c.emitOp(chunk.OpTrue)
	case lexer.TokenNull:
		c.emitOp(chunk.OpNull)
	}
}

func (c *Compiler) namedVariable(name string, canAssign bool) {
	var getOp, setOp chunk.Op
	var arg int
	if local := c.resolveLocal(c.f, name); local != -1 {
		getOp, setOp, arg = chunk.OpGetLocal, chunk.OpSetLocal, local
	} else if up := c.resolveUpvalue(c.f, name); up != -1 {
		getOp, setOp, arg = chunk.OpGetUpvalue, chunk.OpSetUpvalue, up
	} else {
		arg = c.identifierConstant(name)
		getOp, setOp = chunk.OpGetGlobal, chunk.OpSetGlobal
	}

	emitGet := func() {
		c.emitOp(getOp)
		if getOp == chunk.OpGetGlobal {
			c.emitConstantIndex(arg)
		} else {
			c.emitByte(byte(arg))
		}
	}
	emitSet := func() {
		c.emitOp(setOp)
		if setOp == chunk.OpSetGlobal {
			c.emitConstantIndex(arg)
		} else {
			c.emitByte(byte(arg))
		}
	}

	if canAssign && c.match(lexer.TokenEqual) {
		c.expression()
		emitSet()
	} else if canAssign && c.isInplaceOperatorTok() {
		op := c.inplaceOp(c.prev.Type)
		emitGet()
		c.expression()
		c.emitOp(op)
		emitSet()
	} else {
		emitGet()
	}
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.prev.Lexeme, canAssign)
}

func (c *Compiler) this_(canAssign bool) {
	if c.f.class == nil {
		c.error("use of 'this' is not permitted outside of a class")
	}
	c.namedVariable("this", false)
}

func (c *Compiler) super_(canAssign bool) {
	if c.f.class == nil {
		c.error("use of 'super' is not permitted outside of a class")
	} else if !c.f.class.hasSuper {
		c.error("can't use 'super' in a class with no superclass")
	}
	c.consume(lexer.TokenDot, "expected '.' after 'super'")
	c.consume(lexer.TokenIdentifier, "expected superclass method name")
	name := c.identifierConstant(c.prev.Lexeme)

	c.namedVariable("this", false)
	if c.match(lexer.TokenLeftParen) {
		argc := c.argumentList()
		c.namedVariable("super", false)
		c.emitOp(chunk.OpSuperInvoke)
		c.emitConstantIndex(name)
		c.emitByte(byte(argc))
	} else {
		c.namedVariable("super", false)
		c.emitOp(chunk.OpGetSuper)
		c.emitConstantIndex(name)
	}
}

func (c *Compiler) objectLiteral(canAssign bool) {
	c.emitOp(chunk.OpObject)
	if !c.check(lexer.TokenRightBrace) {
		for {
			c.consume(lexer.TokenIdentifier, "expected identifier key for object key-value pair")
			keyTok := c.prev.Lexeme
			name := c.identifierConstant(keyTok)
			if c.match(lexer.TokenColon) {
				c.expression()
			} else {
				c.namedVariable(keyTok, false)
			}
			c.emitOp(chunk.OpSetPropertyKV)
			c.emitConstantIndex(name)
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightBrace, "expected '}' after object body")
}

func (c *Compiler) listLiteral(canAssign bool) {
	count := 0
	if !c.check(lexer.TokenRightBracket) {
		for {
			c.expression()
			if count == 255 {
				c.error("cannot initialize a list with more than 255 items")
			}
			count++
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightBracket, "expected ']' after list items")
	c.emitOpByte(chunk.OpList, byte(count))
}

func (c *Compiler) argumentList() int {
	argc := 0
	if !c.check(lexer.TokenRightParen) {
		for {
			c.expression()
			if argc == 255 {
				c.error("cannot pass more than 255 arguments")
			}
			argc++
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightParen, "expected ')' after arguments")
	return argc
}

func (c *Compiler) call(canAssign bool) {
	argc := c.argumentList()
	c.emitOpByte(chunk.OpCall, byte(argc))
}

func (c *Compiler) dot(canAssign bool) {
	c.consume(lexer.TokenIdentifier, "expected property name after '.'")
	name := c.identifierConstant(c.prev.Lexeme)

	if canAssign && c.match(lexer.TokenEqual) {
		c.expression()
		c.emitOp(chunk.OpSetProperty)
		c.emitConstantIndex(name)
	} else if canAssign && c.isInplaceOperatorTok() {
		op := c.inplaceOp(c.prev.Type)
		c.emitOp(chunk.OpDup)
		c.emitOp(chunk.OpGetProperty)
		c.emitConstantIndex(name)
		c.expression()
		c.emitOp(op)
		c.emitOp(chunk.OpSetProperty)
		c.emitConstantIndex(name)
	} else if c.match(lexer.TokenLeftParen) {
		argc := c.argumentList()
		c.emitOp(chunk.OpInvoke)
		c.emitConstantIndex(name)
		c.emitByte(byte(argc))
	} else {
		c.emitOp(chunk.OpGetProperty)
		c.emitConstantIndex(name)
	}
}

func (c *Compiler) index(canAssign bool) {
	c.expression()
	c.consume(lexer.TokenRightBracket, "expected ']' after index")

	if canAssign && c.match(lexer.TokenEqual) {
		c.expression()
		c.emitOp(chunk.OpSetIndex)
	} else if canAssign && c.isInplaceOperatorTok() {
		op := c.inplaceOp(c.prev.Type)
		c.emitOp(chunk.OpDupX2)
		c.emitOp(chunk.OpGetIndex)
		c.expression()
		c.emitOp(op)
		c.emitOp(chunk.OpSetIndex)
	} else {
		c.emitOp(chunk.OpGetIndex)
	}
}

// ---- lambdas ----

func (c *Compiler) startLambda() {
	c.pushFunction(typeFunction, internString("<lambda>"))
	c.f.fn.IsLambda = true
	c.beginScope()
}

func (c *Compiler) endLambda(varargs bool) {
	if c.match(lexer.TokenLeftBrace) {
		c.block()
	} else {
		c.expression()
		c.emitOp(chunk.OpReturn)
	}
	upvals := c.f.upvalues
	fn := c.endFunction()
	fn.IsVarargs = varargs

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

// lambda compiles `|params| body`, invoked as the prefix rule for a
// bare TokenBar — disambiguated from bitwise-or purely by parser
// position (spec.md §4.3): a TokenBar seen where a prefix is expected
// always starts a lambda.
func (c *Compiler) lambda(canAssign bool) {
	c.startLambda()
	varargs := false
	if !c.check(lexer.TokenBar) {
		for {
			if varargs {
				c.error("variadic parameter must be the last parameter in function definition")
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
	c.consume(lexer.TokenBar, "expected '|' after parameters")
	c.endLambda(varargs)
}

// lambdaEmpty compiles the `|| body` empty-parameter-list form.
func (c *Compiler) lambdaEmpty(canAssign bool) {
	c.startLambda()
	c.endLambda(false)
}
