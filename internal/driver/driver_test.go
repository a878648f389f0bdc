package driver

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, source string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(source), 0o644))
	return path
}

func TestRunFileSuccess(t *testing.T) {
	path := writeTemp(t, "ok.dgn", `println("hello");`)
	var stdout, stderr bytes.Buffer
	code := RunFile(path, &stdout, &stderr)
	assert.Equal(t, ExitOK, code)
	assert.Equal(t, "hello\n", stdout.String())
	assert.Empty(t, stderr.String())
}

func TestRunFileCompileError(t *testing.T) {
	path := writeTemp(t, "bad.dgn", `var = ;`)
	var stdout, stderr bytes.Buffer
	code := RunFile(path, &stdout, &stderr)
	assert.Equal(t, ExitCompileError, code)
	assert.NotEmpty(t, stderr.String())
}

func TestRunFileRuntimeError(t *testing.T) {
	path := writeTemp(t, "throws.dgn", `throw "boom";`)
	var stdout, stderr bytes.Buffer
	code := RunFile(path, &stdout, &stderr)
	assert.Equal(t, ExitRuntimeError, code)
	assert.NotEmpty(t, stderr.String())
}

func TestRunFileUnreadablePath(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := RunFile(filepath.Join(t.TempDir(), "nope.dgn"), &stdout, &stderr)
	assert.Equal(t, ExitUsageError, code)
}

func TestCompileFileReportsSuccessWithoutRunning(t *testing.T) {
	path := writeTemp(t, "ok.dgn", `println("should not print");`)
	var stdout, stderr bytes.Buffer
	code := CompileFile(path, &stdout, &stderr)
	assert.Equal(t, ExitOK, code)
	assert.NotContains(t, stdout.String(), "should not print")
}

func TestDisassembleFilePrintsListing(t *testing.T) {
	path := writeTemp(t, "ok.dgn", `println(1 + 2);`)
	var stdout, stderr bytes.Buffer
	code := DisassembleFile(path, &stdout, &stderr)
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout.String(), "CONSTANT")
}

func TestREPLEvaluatesLinesUntilEOF(t *testing.T) {
	in := bytes.NewBufferString("var x = 1;\nprintln(x + 1);\n")
	var out bytes.Buffer
	REPL(in, &out)
	assert.Contains(t, out.String(), "2")
}

func TestREPLPersistsGlobalsAcrossLines(t *testing.T) {
	in := bytes.NewBufferString("var counter = 0;\ncounter = counter + 1;\nprintln(counter);\n")
	var out bytes.Buffer
	REPL(in, &out)
	assert.Contains(t, out.String(), "1")
}

func TestREPLSurvivesErrorsWithoutStopping(t *testing.T) {
	in := bytes.NewBufferString("var = ;\nprintln(\"still alive\");\n")
	var out bytes.Buffer
	REPL(in, &out)
	assert.Contains(t, out.String(), "still alive")
}
