// Package driver implements the file- and REPL-driving logic behind
// cmd/dragon, kept separate from main so it can be exercised by tests
// without going through os.Exit.
package driver

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/dragonvm/dragon/pkg/chunk"
	"github.com/dragonvm/dragon/pkg/compiler"
	"github.com/dragonvm/dragon/pkg/value"
	"github.com/dragonvm/dragon/pkg/vm"
)

// Exit codes for the two spec-mandated invocation forms (bare and
// `dragon PATH`): 120 usage/unreadable-file, 121 compile error, 122
// uncaught runtime error, 0 success.
const (
	ExitOK           = 0
	ExitUsageError   = 120
	ExitCompileError = 121
	ExitRuntimeError = 122
)

// RunFile reads and runs the .dgn source file at path, returning the
// process exit code its outcome maps to.
func RunFile(path string, stdout, stderr io.Writer) int {
	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "dragon: cannot read %s: %v\n", path, err)
		return ExitUsageError
	}

	m := vm.New()
	m.Stdout = stdout
	m.Stderr = stderr

	_, runErr := m.InterpretFile(path, string(src))
	return reportErr(runErr, stderr)
}

// CompileFile compiles path without running it, reporting either
// success or the compile error.
func CompileFile(path string, stdout, stderr io.Writer) int {
	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "dragon: cannot read %s: %v\n", path, err)
		return ExitUsageError
	}

	c := compiler.New()
	if _, cerr := c.Compile(string(src)); cerr != nil {
		fmt.Fprintln(stderr, cerr)
		return ExitCompileError
	}
	fmt.Fprintf(stdout, "%s compiled cleanly\n", path)
	return ExitOK
}

// DisassembleFile compiles path and prints its top-level chunk's
// bytecode disassembly.
func DisassembleFile(path string, stdout, stderr io.Writer) int {
	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "dragon: cannot read %s: %v\n", path, err)
		return ExitUsageError
	}

	c := compiler.New()
	fn, cerr := c.Compile(string(src))
	if cerr != nil {
		fmt.Fprintln(stderr, cerr)
		return ExitCompileError
	}
	ch, ok := fn.Chunk.(*chunk.Chunk)
	if !ok {
		fmt.Fprintln(stderr, "dragon: compiled function has no disassemblable chunk")
		return ExitRuntimeError
	}
	fmt.Fprint(stdout, ch.Disassemble(path))
	return ExitOK
}

// reportErr classifies err against the RuntimeError/compile-error
// distinction Interpret/InterpretFile make (a *vm.RuntimeError only
// ever comes from execution; any other non-nil error is a compile
// failure caught before a single instruction ran).
func reportErr(err error, stderr io.Writer) int {
	if err == nil {
		return ExitOK
	}
	if _, ok := err.(*vm.RuntimeError); ok {
		fmt.Fprintln(stderr, err)
		return ExitRuntimeError
	}
	fmt.Fprintln(stderr, err)
	return ExitCompileError
}

// REPL runs Dragon's read-eval-print loop: one line in, one result
// (or error) out, looping until EOF. State persists across lines in
// one shared Machine, but each line is compiled as its own standalone
// program — there is no incremental/statement-level compilation, so a
// line spanning a multi-line construct must be entered in one go.
func REPL(in io.Reader, out io.Writer) {
	m := vm.New()
	m.Stdout = out
	scanner := bufio.NewScanner(in)

	fmt.Fprintln(out, "dragon REPL - Ctrl-D to exit")
	for {
		fmt.Fprint(out, "dragon> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return
		}
		line := scanner.Text()
		if line == "" {
			continue
		}

		result, err := m.Interpret(line)
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}
		if result.Kind != value.KindNull {
			fmt.Fprintf(out, "=> %s\n", m.Repr(result))
		}
	}
}
