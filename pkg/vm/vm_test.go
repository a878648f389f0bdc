package vm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, source string) (string, error) {
	t.Helper()
	m := New()
	var out bytes.Buffer
	m.Stdout = &out
	_, err := m.Interpret(source)
	return out.String(), err
}

func TestArithmeticAndPrint(t *testing.T) {
	out, err := run(t, `println(1 + 2 * 3);`)
	require.NoError(t, err)
	assert.Equal(t, "7\n", out)
}

func TestStringConcatenation(t *testing.T) {
	out, err := run(t, `println("a" + "b");`)
	require.NoError(t, err)
	assert.Equal(t, "ab\n", out)
}

func TestGlobalVarDefineGetSet(t *testing.T) {
	out, err := run(t, `
var x = 1;
x = x + 1;
println(x);
`)
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)
}

func TestClosureCapturesUpvalue(t *testing.T) {
	out, err := run(t, `
function makeCounter() {
  var count = 0;
  function increment() {
    count = count + 1;
    return count;
  }
  return increment;
}
var counter = makeCounter();
println(counter());
println(counter());
println(counter());
`)
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n3\n", out)
}

func TestClassInheritanceAndSuper(t *testing.T) {
	out, err := run(t, `
class Animal {
  speak() { return "..."; }
}
class Dog : Animal {
  speak() { return "Woof, but also: " + super.speak(); }
}
var d = Dog();
println(d.speak());
`)
	require.NoError(t, err)
	assert.Equal(t, "Woof, but also: ...\n", out)
}

func TestInstanceFieldsShadowMethods(t *testing.T) {
	out, err := run(t, `
class Box {
  value() { return "method"; }
}
var b = Box();
b.value = "field";
println(b.value);
`)
	require.NoError(t, err)
	assert.Equal(t, "field\n", out)
}

func TestConstructorRunsOnInstantiation(t *testing.T) {
	out, err := run(t, `
class Point {
  constructor(x, y) {
    this.x = x;
    this.y = y;
  }
  describe() { return "(" + toString(this.x) + ", " + toString(this.y) + ")"; }
}
var p = Point(3, 4);
println(p.describe());
`)
	require.NoError(t, err)
	assert.Equal(t, "(3, 4)\n", out)
}

func TestThrowTypeExceptionCaughtWithMessage(t *testing.T) {
	out, err := run(t, `
try {
  throw TypeException("bad");
} catch (e) {
  println(e.message);
}
`)
	require.NoError(t, err)
	assert.Equal(t, "bad\n", out)
}

func TestUncaughtTypeExceptionCarriesStackTrace(t *testing.T) {
	_, err := run(t, `
function boom() {
  throw TypeException("bad");
}
boom();
`)
	require.Error(t, err)
	rerr, ok := err.(*RuntimeError)
	require.True(t, ok)
	assert.Equal(t, "bad", rerr.Message)
	assert.Contains(t, rerr.Error(), "in boom")
}

func TestTryCatchCatchesThrow(t *testing.T) {
	out, err := run(t, `
try {
  throw "boom";
} catch (e) {
  println("caught: " + e);
}
`)
	require.NoError(t, err)
	assert.Equal(t, "caught: boom\n", out)
}

func TestFinallyRunsOnNormalAndThrownPaths(t *testing.T) {
	out, err := run(t, `
try {
  println("body");
} finally {
  println("cleanup1");
}
try {
  throw "x";
} catch (e) {
  println("caught");
} finally {
  println("cleanup2");
}
`)
	require.NoError(t, err)
	assert.Equal(t, "body\ncleanup1\ncaught\ncleanup2\n", out)
}

func TestUncaughtExceptionReturnsRuntimeError(t *testing.T) {
	_, err := run(t, `throw "uncaught";`)
	require.Error(t, err)
	rerr, ok := err.(*RuntimeError)
	require.True(t, ok)
	assert.Contains(t, rerr.Message, "uncaught")
}

func TestUndefinedVariableIsRuntimeError(t *testing.T) {
	_, err := run(t, `println(nope);`)
	require.Error(t, err)
	_, ok := err.(*RuntimeError)
	assert.True(t, ok)
}

func TestListLiteralAndIndexing(t *testing.T) {
	out, err := run(t, `
var xs = [1, 2, 3];
println(xs[1]);
xs[1] = 99;
println(xs[1]);
`)
	require.NoError(t, err)
	assert.Equal(t, "2\n99\n", out)
}

func TestForeachOverList(t *testing.T) {
	out, err := run(t, `
var total = 0;
foreach (x in [1, 2, 3]) {
  total = total + x;
}
println(total);
`)
	require.NoError(t, err)
	assert.Equal(t, "6\n", out)
}

func TestSwitchStatementPicksMatchingCase(t *testing.T) {
	out, err := run(t, `
switch (2) {
  is 1: { println("one"); }
  is 2: { println("two"); }
  else: { println("other"); }
}
`)
	require.NoError(t, err)
	assert.Equal(t, "two\n", out)
}

func TestTypeofNativeReportsKind(t *testing.T) {
	out, err := run(t, `
println(typeof(1));
println(typeof("s"));
println(typeof(null));
println(typeof(true));
`)
	require.NoError(t, err)
	assert.Equal(t, "number\nstring\nnull\nboolean\n", out)
}

func TestStackOverflowIsRuntimeError(t *testing.T) {
	_, err := run(t, `
function recurse() { return recurse(); }
recurse();
`)
	require.Error(t, err)
	rerr, ok := err.(*RuntimeError)
	require.True(t, ok)
	assert.True(t, strings.Contains(rerr.Message, "stack overflow"))
}

func TestGCDoesNotCollectLiveObjects(t *testing.T) {
	m := New()
	var out bytes.Buffer
	m.Stdout = &out
	m.nextGC = 0 // force a collection on the next allocation; later thresholds double the survivor count

	_, err := m.Interpret(`
var xs = [];
var i = 0;
while (i < 50) {
  xs = xs + [i];
  i = i + 1;
}
println(xs[49]);
`)
	require.NoError(t, err)
	assert.Equal(t, "49\n", out.String())
}
