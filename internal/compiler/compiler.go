// Package compiler runs the lex, parse, resolve and lower passes for one
// compilation unit and hands the result to an emission backend.
package compiler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"box/internal/artifact"
	"box/internal/backend/llvm"
	"box/internal/box"
	"box/internal/ir"
)

// Source is one compilation unit.
type Source struct {
	Path string
	Text string
}

func ReadSource(path string) (Source, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Source{}, err
	}
	return Source{Path: path, Text: string(content)}, nil
}

// UnitName derives an IR unit label from a source path: the base name
// without extensions, with anything but letters, digits and '_' replaced.
func UnitName(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if strings.Trim(name, "_") == "" {
		return "unit"
	}
	return name
}

// Output holds every pass result of a successful compilation.
type Output struct {
	Source     Source
	Tree       *box.Tree
	Resolution *box.Resolution
	Program    *ir.Program
}

// Compile runs every pass over src. The returned error is a *box.BoxError
// naming the failing pass.
func Compile(src Source, opts ...Option) (*Output, error) {
	cfg := NewConfig(opts...)
	return compile(src, cfg)
}

func compile(src Source, cfg Config) (*Output, error) {
	unit := cfg.UnitName
	if unit == "" {
		unit = UnitName(src.Path)
	}
	log := cfg.Logger.With("unit", unit)

	start := time.Now()
	tree, err := box.NewParser(box.NewLexer(src.Text, src.Path)).Parse()
	if err != nil {
		log.Debug("pass failed", "pass", passOf(err), "error", err)
		return nil, err
	}
	log.Debug("pass complete", "pass", "parse", "boxes", len(tree.Boxes), "nodes", len(tree.Nodes),
		"duration", time.Since(start))

	start = time.Now()
	res, err := box.Resolve(tree)
	if err != nil {
		log.Debug("pass failed", "pass", passOf(err), "error", err)
		return nil, err
	}
	log.Debug("pass complete", "pass", "resolve", "bindings", len(res.Bindings), "scopes", len(res.Scopes),
		"duration", time.Since(start))

	start = time.Now()
	prog, err := ir.Lower(tree, res, ir.WithSeed(cfg.Seed), ir.WithUnitName(unit))
	if err != nil {
		log.Error("lowering a resolved tree failed", "error", err)
		return nil, err
	}
	log.Debug("pass complete", "pass", "lower", "units", len(prog.Units), "globals", len(prog.Globals),
		"duration", time.Since(start))

	return &Output{Source: src, Tree: tree, Resolution: res, Program: prog}, nil
}

func passOf(err error) string {
	if kind, ok := box.KindOf(err); ok {
		return kind.Pass()
	}
	return "unknown"
}

// Result is the outcome of one unit in CompileAll. Exactly one of Output and
// Err is set for units that ran.
type Result struct {
	Source Source
	Output *Output
	Err    error
}

// CompileAll compiles independent units in parallel. A failing unit does not
// stop the others. When ctx is cancelled, units that had not finished are
// reported with the context error and the context error is returned.
func CompileAll(ctx context.Context, sources []Source, opts ...Option) ([]Result, error) {
	cfg := NewConfig(opts...)
	results := make([]Result, len(sources))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)

	for i, src := range sources {
		results[i].Source = src
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return err
			}
			unitCfg := cfg
			if len(sources) > 1 {
				unitCfg.UnitName = ""
			}
			out, err := compile(src, unitCfg)
			if ctxErr := ctx.Err(); ctxErr != nil {
				results[i].Err = ctxErr
				return ctxErr
			}
			results[i].Output = out
			results[i].Err = err
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Backend is an emission sink with the metadata the driver needs to name
// its output.
type Backend interface {
	ir.Sink
	GetName() string
	GetExtension() string
}

var backends = map[string]func(unit string) Backend{
	"llvm":  func(string) Backend { return llvm.NewSink() },
	"text":  func(string) Backend { return ir.NewTextSink() },
	"boxir": func(unit string) Backend { return artifact.NewSink(unit) },
}

// NewBackend returns a fresh sink for the named backend.
func NewBackend(name, unit string) (Backend, error) {
	factory, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (want llvm, text or boxir)", name)
	}
	return factory(unit), nil
}

// Emit writes prog through the configured backend.
func Emit(prog *ir.Program, w io.Writer, opts ...Option) error {
	cfg := NewConfig(opts...)
	backend, err := NewBackend(cfg.Backend, prog.Name)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := ir.Emit(prog, backend, w); err != nil {
		return fmt.Errorf("%s backend: %w", backend.GetName(), err)
	}
	cfg.Logger.Debug("emitted", "unit", prog.Name, "backend", cfg.Backend, "duration", time.Since(start))
	return nil
}

// Extension is the output file extension of a backend.
func Extension(name string) string {
	backend, err := NewBackend(name, "")
	if err != nil {
		return ""
	}
	return backend.GetExtension()
}
