package compiler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dragonvm/dragon/pkg/chunk"
)

func compile(t *testing.T, source string) *chunk.Chunk {
	t.Helper()
	c := New()
	fn, err := c.Compile(source)
	require.NoError(t, err, "source: %s", source)
	ch, ok := fn.Chunk.(*chunk.Chunk)
	require.True(t, ok, "compiled function should carry a *chunk.Chunk")
	return ch
}

func TestCompileNumberLiteralEmitsConstant(t *testing.T) {
	ch := compile(t, "1;")
	assert.Contains(t, ch.Disassemble("test"), "CONSTANT")
}

func TestCompileArithmeticEmitsExpectedOps(t *testing.T) {
	dis := compile(t, "1 + 2 * 3;").Disassemble("test")
	assert.Contains(t, dis, "MUL")
	assert.Contains(t, dis, "ADD")
}

func TestCompileVarDeclarationAndGlobalAccess(t *testing.T) {
	dis := compile(t, "var x = 1; x + 1;").Disassemble("test")
	assert.Contains(t, dis, "DEFINE_GLOBAL")
	assert.Contains(t, dis, "GET_GLOBAL")
}

func TestCompileWhileLoopEmitsBackwardJump(t *testing.T) {
	dis := compile(t, "var i = 0; while (i < 10) { i = i + 1; }").Disassemble("test")
	assert.Contains(t, dis, "LOOP")
}

func TestCompileSwitchNeverEmitsLoop(t *testing.T) {
	// Per DESIGN.md's open-question decision, switch case exits are
	// always forward jumps; OpLoop (a backward jump) must never appear
	// in a switch with no enclosing loop.
	dis := compile(t, `
switch (1) {
  is 1: { println("one"); }
  is 2: { println("two"); }
}
`).Disassemble("test")
	assert.NotContains(t, dis, "LOOP")
	assert.Contains(t, dis, "JUMP")
}

func TestCompileFunctionDeclaration(t *testing.T) {
	dis := compile(t, "function add(a, b) { return a + b; } add(1, 2);").Disassemble("test")
	assert.Contains(t, dis, "CLOSURE")
	assert.Contains(t, dis, "CALL")
}

func TestCompileClassWithMethodAndSuper(t *testing.T) {
	dis := compile(t, `
class Animal {
  speak() { return "..."; }
}
class Dog : Animal {
  speak() { return super.speak(); }
}
`).Disassemble("test")
	assert.Contains(t, dis, "CLASS")
	assert.Contains(t, dis, "METHOD")
	assert.Contains(t, dis, "INHERIT")
}

func TestCompileTryCatchFinallyEmitsTryRegion(t *testing.T) {
	dis := compile(t, `
try {
  throw "boom";
} catch (e) {
  println(e);
} finally {
  println("cleanup");
}
`).Disassemble("test")
	assert.Contains(t, dis, "TRY_BEGIN")
	assert.Contains(t, dis, "TRY_END")
	assert.Contains(t, dis, "THROW")
}

func TestCompileErrorReportsUnexpectedToken(t *testing.T) {
	c := New()
	_, err := c.Compile("var = ;")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "compile error"))
}

func TestCompileImportAndExport(t *testing.T) {
	dis := compile(t, `
import "util";
export x = 1;
`).Disassemble("test")
	assert.Contains(t, dis, "IMPORT")
	assert.Contains(t, dis, "EXPORT")
}
