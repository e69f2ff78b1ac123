package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"loxvm/pkg/compiler"
	"loxvm/pkg/diag"
	"loxvm/pkg/module"
	"loxvm/pkg/natives"
	"loxvm/pkg/vm"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		runREPL()
		return
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		fmt.Printf("lox version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	case "repl":
		runREPL()
	case "run":
		if len(os.Args) < 3 {
			fmt.Println("Error: no file specified")
			printUsage()
			os.Exit(1)
		}
		runFile(os.Args[2])
	default:
		runFile(os.Args[1])
	}
}

func printUsage() {
	fmt.Println("lox - a bytecode-compiled scripting language")
	fmt.Println("\nUsage:")
	fmt.Println("  lox                 Start interactive REPL")
	fmt.Println("  lox [file]          Run a .lox source file")
	fmt.Println("  lox run [file]      Run a .lox source file")
	fmt.Println("  lox repl            Start interactive REPL")
	fmt.Println("  lox version         Show version")
	fmt.Println("  lox help            Show this help")
	fmt.Println("\nEnvironment:")
	fmt.Println("  LOX_TRACE=1         Print each instruction as it executes")
}

func traceEnabled() bool {
	return os.Getenv("LOX_TRACE") == "1"
}

// runFile reads, compiles, and executes a single .lox source file.
func runFile(filename string) {
	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}

	mod := module.New()
	machine := vm.New(mod)
	machine.SetTrace(traceEnabled())
	machine.OnWarning = func(d diag.Diagnostic) {
		fmt.Fprintln(os.Stderr, diag.Report(d))
	}
	natives.Attach(machine, mod)

	if !compileAndRun(mod, machine, string(data)) {
		os.Exit(1)
	}
}

// compileAndRun compiles src into mod and runs it on machine, reporting any
// diagnostics to stderr. It returns false if a compile error blocked
// execution or a runtime error aborted it.
func compileAndRun(mod *module.Module, machine *vm.VM, src string) bool {
	fnIndex, diags := compiler.Compile(src, mod)

	hadError := false
	for _, d := range diags {
		fmt.Fprintln(os.Stderr, diag.Report(d))
		if d.Level() == diag.LevelError {
			hadError = true
		}
	}
	if hadError {
		return false
	}

	if err := machine.Run(fnIndex); err != nil {
		if d, ok := err.(diag.Diagnostic); ok {
			fmt.Fprintln(os.Stderr, diag.Report(d))
		} else {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		for _, line := range machine.LastTrace() {
			fmt.Fprintf(os.Stderr, "  %s\n", line)
		}
		return false
	}
	for _, line := range machine.DrainTrace() {
		fmt.Fprintln(os.Stderr, line)
	}
	return true
}

// runREPL starts an interactive session backed by readline for line editing
// and history. The VM and its Module persist across inputs, so globals
// defined on one line remain visible on the next — the same persistent-state
// approach the teacher's own REPL uses with its own VM and compiler.
func runREPL() {
	fmt.Printf("lox REPL v%s\n", version)
	fmt.Println("Type Ctrl-D to exit.")

	rl, err := readline.New("lox> ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting REPL: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	mod := module.New()
	machine := vm.New(mod)
	machine.SetTrace(traceEnabled())
	machine.OnWarning = func(d diag.Diagnostic) {
		fmt.Fprintln(os.Stderr, diag.Report(d))
	}
	natives.Attach(machine, mod)

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			fmt.Println("Goodbye!")
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		compileAndRun(mod, machine, line)
	}
}
