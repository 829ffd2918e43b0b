package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"box/internal/artifact"
	"box/internal/box"
	"box/internal/compiler"
	"box/internal/ir"
)

const rule = "─────────────────────────────────────────────────────────────────"

var logger *slog.Logger

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  box [-debug] <script.box>               - Run a box script")
	fmt.Println("  box lex <script.box>                    - Debug lexer output")
	fmt.Println("  box ast <script.box>                    - Debug parser tree")
	fmt.Println("  box ir <script.box>                     - Print lowered IR")
	fmt.Println("  box llvm <script.box>                   - Print LLVM IR")
	fmt.Println("  box build [-backend b] [-o out] [-j n] <script.box>...")
	fmt.Println("                                          - Compile units to llvm, text or boxir")
	fmt.Println("  box run [-steps n] [-box name] <script.box|unit.boxir.zst>")
	fmt.Println("                                          - Run a script or a compiled artifact")
	fmt.Println("  box repl                                - Interactive session")
}

func main() {
	debug := flag.Bool("debug", false, "log every compiler pass to stderr")
	flag.Usage = usage
	flag.Parse()

	logger = compiler.NewLogger(os.Stderr, *debug)

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}

	switch args[0] {
	case "lex":
		os.Exit(cmdLex(args[1:]))
	case "ast":
		os.Exit(cmdAst(args[1:]))
	case "ir":
		os.Exit(cmdEmit("ir", "text", args[1:]))
	case "llvm":
		os.Exit(cmdEmit("llvm", "llvm", args[1:]))
	case "build":
		os.Exit(cmdBuild(args[1:]))
	case "run":
		os.Exit(cmdRun(args[1:]))
	case "repl":
		os.Exit(cmdRepl(args[1:]))
	default:
		os.Exit(cmdRun(args))
	}
}

func reportError(err error, src string) {
	var boxErr *box.BoxError
	if errors.As(err, &boxErr) {
		fmt.Fprint(os.Stderr, box.FormatError(boxErr, src))
		return
	}
	fmt.Fprintf(os.Stderr, "✗ %v\n", err)
}

func readSource(path string) (compiler.Source, bool) {
	src, err := compiler.ReadSource(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		return compiler.Source{}, false
	}
	return src, true
}

func cmdLex(args []string) int {
	if len(args) != 1 {
		fmt.Println("Usage: box lex <script.box>")
		return 1
	}
	src, ok := readSource(args[0])
	if !ok {
		return 1
	}

	fmt.Printf("📄 Lexing: %s\n", src.Path)
	fmt.Println(rule)
	fmt.Printf("%-4s %-3s %-15s %s\n", "Line", "Col", "Kind", "Value")
	fmt.Println(rule)

	tokenCount := 0
	for token, err := range box.NewLexer(src.Text, src.Path).Tokens() {
		if err != nil {
			fmt.Println(rule)
			reportError(err, src.Text)
			return 1
		}
		if token.Kind == box.EOF {
			break
		}

		value := token.Value
		if token.Kind == box.STRING {
			value = fmt.Sprintf("%q", value)
		} else if len(value) > 50 {
			value = value[:47] + "..."
		}
		fmt.Printf("%-4d %-3d %-15s %s\n", token.Span.Start.Line, token.Span.Start.Column, token.Kind, value)
		tokenCount++
	}

	fmt.Println(rule)
	fmt.Printf("✅ Lexed %d tokens\n", tokenCount)
	return 0
}

func cmdAst(args []string) int {
	if len(args) != 1 {
		fmt.Println("Usage: box ast <script.box>")
		return 1
	}
	src, ok := readSource(args[0])
	if !ok {
		return 1
	}

	tree, err := box.NewParser(box.NewLexer(src.Text, src.Path)).Parse()
	if err != nil {
		reportError(err, src.Text)
		return 1
	}

	fmt.Printf("🌲 Box Tree: %s\n", src.Path)
	fmt.Println(rule)
	fmt.Println(box.DrawTree(tree))
	fmt.Println(rule)

	blocks, exprs := 0, 0
	for _, n := range tree.Nodes {
		switch n.Kind {
		case box.BlockNode:
			blocks++
		case box.ExprNode:
			exprs++
		}
	}
	fmt.Printf("✅ Parsed %d boxes, %d blocks, %d expressions\n", len(tree.Boxes), blocks, exprs)
	return 0
}

// cmdEmit compiles one file and writes it through a backend to stdout.
func cmdEmit(name, backend string, args []string) int {
	if len(args) != 1 {
		fmt.Printf("Usage: box %s <script.box>\n", name)
		return 1
	}
	src, ok := readSource(args[0])
	if !ok {
		return 1
	}

	out, err := compiler.Compile(src, compiler.WithLogger(logger))
	if err != nil {
		reportError(err, src.Text)
		return 1
	}
	if err := compiler.Emit(out.Program, os.Stdout, compiler.WithBackend(backend), compiler.WithLogger(logger)); err != nil {
		reportError(err, src.Text)
		return 1
	}
	return 0
}

func cmdBuild(args []string) int {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	backend := fs.String("backend", "llvm", "output backend: llvm, text or boxir")
	output := fs.String("o", "", "output file (single input only)")
	workers := fs.Int("j", 0, "units compiled in parallel (0 means one per CPU)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	paths := fs.Args()
	if len(paths) == 0 {
		fmt.Println("Usage: box build [-backend b] [-o out] [-j n] <script.box>...")
		return 1
	}
	if *output != "" && len(paths) > 1 {
		fmt.Fprintln(os.Stderr, "✗ -o needs exactly one input")
		return 1
	}
	ext := compiler.Extension(*backend)
	if ext == "" {
		fmt.Fprintf(os.Stderr, "✗ unknown backend %q\n", *backend)
		return 1
	}

	var sources []compiler.Source
	for _, path := range paths {
		src, ok := readSource(path)
		if !ok {
			return 1
		}
		sources = append(sources, src)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	results, err := compiler.CompileAll(ctx, sources, compiler.WithWorkers(*workers), compiler.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ build interrupted: %v\n", err)
		return 1
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			reportError(r.Err, r.Source.Text)
			failed++
			continue
		}

		target := *output
		if target == "" {
			target = strings.TrimSuffix(r.Source.Path, filepath.Ext(r.Source.Path)) + ext
		}
		if err := writeOutput(target, r.Output.Program, *backend); err != nil {
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", target, err)
			failed++
			continue
		}
		fmt.Printf("📦 %s → %s\n", r.Source.Path, target)
	}

	if failed > 0 {
		fmt.Printf("✗ %d of %d units failed\n", failed, len(results))
		return 1
	}
	fmt.Printf("✅ Built %d units\n", len(results))
	return 0
}

func writeOutput(path string, prog *ir.Program, backend string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := compiler.Emit(prog, f, compiler.WithBackend(backend), compiler.WithLogger(logger)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	steps := fs.Int("steps", 0, "stop after this many steps (0 means no limit)")
	entry := fs.String("box", "main", "box to run")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Println("Usage: box run [-steps n] [-box name] <script.box|unit.boxir.zst>")
		return 1
	}
	path := fs.Arg(0)

	var prog *ir.Program
	var text string
	if strings.HasSuffix(path, artifact.Extension) {
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
			return 1
		}
		prog, err = artifact.Read(f)
		f.Close()
		if err != nil {
			reportError(err, "")
			return 1
		}
	} else {
		src, ok := readSource(path)
		if !ok {
			return 1
		}
		out, err := compiler.Compile(src, compiler.WithLogger(logger))
		if err != nil {
			reportError(err, src.Text)
			return 1
		}
		prog, text = out.Program, src.Text
	}

	evaluator := ir.NewEvaluator(prog, os.Stdout, ir.WithStepLimit(*steps))
	result := evaluator.Run(*entry)
	if result.Error != nil {
		reportError(result.Error, text)
		return 1
	}
	logger.Debug("run complete", "box", *entry, "status", result.Status, "steps", result.Steps)

	return int(result.Status)
}
