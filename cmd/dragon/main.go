// Command dragon is the Dragon language's command-line entry point: a
// source-file interpreter and REPL, plus a few developer subcommands
// (compile, disassemble, version) that go beyond the two invocation
// forms the language contract itself specifies.
//
// Invocation:
//
//	dragon                run the interactive REPL
//	dragon PATH           run a .dgn source file
//	dragon run PATH       same as `dragon PATH`
//	dragon repl           same as no-args
//	dragon compile PATH   compile PATH and report success or the compile error
//	dragon disassemble PATH
//	dragon --version
//
// Exit codes for the two contract forms (bare and `dragon PATH`) match
// the language's own external-interface contract: 120 for usage errors
// or an unreadable file, 121 for a compile error, 122 for an uncaught
// runtime error, 0 otherwise.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dragonvm/dragon/internal/driver"
)

const version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:           "dragon [path]",
		Short:         "Dragon language interpreter",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				driver.REPL(os.Stdin, os.Stdout)
				return nil
			}
			os.Exit(driver.RunFile(args[0], os.Stdout, os.Stderr))
			return nil
		},
	}
	root.SetVersionTemplate("dragon version {{.Version}}\n")

	root.AddCommand(
		runCmd(),
		replCmd(),
		compileCmd(),
		disassembleCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(120)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run PATH",
		Short: "Run a .dgn source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(driver.RunFile(args[0], os.Stdout, os.Stderr))
			return nil
		},
	}
}

func replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start the interactive REPL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			driver.REPL(os.Stdin, os.Stdout)
			return nil
		},
	}
}

func compileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile PATH",
		Short: "Compile a .dgn file and report errors without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(driver.CompileFile(args[0], os.Stdout, os.Stderr))
			return nil
		},
	}
}

func disassembleCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "disassemble PATH",
		Aliases: []string{"disasm"},
		Short:   "Compile a .dgn file and print its bytecode disassembly",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(driver.DisassembleFile(args[0], os.Stdout, os.Stderr))
			return nil
		},
	}
}
