// Package repl keeps the state of an interactive session: box definitions
// entered so far and the variables that survive from one input to the next.
//
// Statements are compiled inside a synthetic box named repl. Names assigned
// at the top of an input become exports of that box, so their values live in
// evaluator globals and are visible to later inputs. let bindings stay local
// to the input that made them.
package repl

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"box/internal/box"
	"box/internal/compiler"
	"box/internal/ir"
)

// BoxName is the synthetic box that holds statements typed at the prompt.
const BoxName = "repl"

const filename = "<repl>"

var ErrReservedName = errors.New("reserved box name")

type definition struct {
	name string
	text string
}

// Outcome describes one accepted input. Source is the full text that was
// compiled, which error spans refer to.
type Outcome struct {
	Source  string
	Defined []string
	Result  ir.Result
}

type Session struct {
	out  io.Writer
	opts []ir.EvalOption
	eval *ir.Evaluator
	defs []definition
	vars []string
	prog *ir.Program
}

func NewSession(out io.Writer, opts ...ir.EvalOption) *Session {
	s := &Session{out: out, opts: opts}
	s.Reset()
	return s
}

// Reset forgets every definition and variable.
func (s *Session) Reset() {
	s.eval = ir.NewEvaluator(nil, s.out, s.opts...)
	s.defs = nil
	s.vars = nil
	s.prog = nil
}

// Vars lists the persistent variables in the order they were introduced.
func (s *Session) Vars() []string {
	return append([]string(nil), s.vars...)
}

// Value returns the current value of a persistent variable.
func (s *Session) Value(name string) int64 {
	return s.eval.Global(BoxName + "." + name)
}

// Program is the last program that compiled, nil before the first input.
func (s *Session) Program() *ir.Program {
	return s.prog
}

// Complete reports whether input can be compiled as it stands. It is false
// only when the input ends inside an open box, block or parenthesis.
func (s *Session) Complete(input string) bool {
	if isDefinition(input) {
		_, err := box.NewParser(box.NewLexer(input, filename)).Parse()
		return !box.IsIncomplete(err)
	}

	// Leave the wrapper open: if the innermost unclosed opener is the
	// wrapper's own, the input itself is balanced.
	prefix := "box " + BoxName + " do\n"
	_, err := box.NewParser(box.NewLexer(prefix+input, filename)).Parse()
	var boxErr *box.BoxError
	if !errors.As(err, &boxErr) || !boxErr.Incomplete {
		return true
	}
	return boxErr.Span.Start.Offset < len(prefix)
}

// Exec compiles and runs one input. Box definitions are stored; statements
// run at once. On a compilation error the session is left unchanged and the
// returned Outcome still carries the compiled source.
func (s *Session) Exec(input string) (*Outcome, error) {
	if strings.TrimSpace(input) == "" {
		return &Outcome{}, nil
	}
	if isDefinition(input) {
		return s.define(input)
	}
	return s.run(input)
}

func (s *Session) define(input string) (*Outcome, error) {
	tree, err := box.NewParser(box.NewLexer(input, filename)).Parse()
	if err != nil {
		return &Outcome{Source: input}, err
	}

	defs := s.defs
	var names []string
	for _, id := range tree.Boxes {
		node := tree.Node(id)
		if node.Name == BoxName {
			return &Outcome{Source: input}, fmt.Errorf("%w: %s", ErrReservedName, BoxName)
		}
		span := node.Span
		defs = replace(defs, definition{
			name: node.Name,
			text: input[span.Start.Offset:span.End.Offset],
		})
		names = append(names, node.Name)
	}

	src := s.source(defs, s.vars, "")
	prog, err := s.compile(src)
	if err != nil {
		return &Outcome{Source: src}, err
	}
	s.defs = defs
	s.prog = prog
	return &Outcome{Source: src, Defined: names}, nil
}

func (s *Session) run(input string) (*Outcome, error) {
	src := s.source(s.defs, s.vars, input)
	out, err := compiler.Compile(compiler.Source{Path: filename, Text: src}, compiler.WithUnitName(BoxName))
	if err != nil {
		return &Outcome{Source: src}, err
	}

	vars := s.vars
	if fresh := topLevelAssigns(out); len(fresh) > 0 {
		vars = append(append([]string(nil), s.vars...), fresh...)
		src = s.source(s.defs, vars, input)
		out, err = compiler.Compile(compiler.Source{Path: filename, Text: src}, compiler.WithUnitName(BoxName))
		if err != nil {
			return &Outcome{Source: src}, err
		}
	}

	s.vars = vars
	s.prog = out.Program

	s.eval.Load(out.Program)
	return &Outcome{Source: src, Result: s.eval.Run(BoxName)}, nil
}

func (s *Session) compile(src string) (*ir.Program, error) {
	out, err := compiler.Compile(compiler.Source{Path: filename, Text: src}, compiler.WithUnitName(BoxName))
	if err != nil {
		return nil, err
	}
	return out.Program, nil
}

func (s *Session) source(defs []definition, vars []string, input string) string {
	var b strings.Builder
	for _, d := range defs {
		b.WriteString(d.text)
		b.WriteString("\n")
	}
	b.WriteString(wrap(vars, input))
	return b.String()
}

// topLevelAssigns finds plain assignments at the top of the repl block that
// introduced a new local.
func topLevelAssigns(out *compiler.Output) []string {
	tree, res := out.Tree, out.Resolution

	var names []string
	seen := make(map[string]bool)
	for _, id := range tree.Boxes {
		node := tree.Node(id)
		if node.Name != BoxName || len(node.Children) == 0 {
			continue
		}
		block := tree.Node(node.Children[0])
		for _, child := range block.Children {
			stmt := tree.Node(child)
			if stmt.Kind != box.ExprNode {
				continue
			}
			assign, ok := stmt.Expr.(*box.Assign)
			if !ok || assign.Declare {
				continue
			}
			target, ok := assign.Target.(*box.Ident)
			if !ok {
				continue
			}
			if b := res.Binding(target.Ref); b != nil && b.Kind == box.VarBinding && !seen[b.Name] {
				seen[b.Name] = true
				names = append(names, b.Name)
			}
		}
	}
	return names
}

func wrap(vars []string, input string) string {
	var b strings.Builder
	b.WriteString("box ")
	b.WriteString(BoxName)
	if len(vars) > 0 {
		b.WriteString(" export ")
		b.WriteString(strings.Join(vars, ", "))
	}
	b.WriteString(" do\n")
	b.WriteString(input)
	b.WriteString("\nend end\n")
	return b.String()
}

func replace(defs []definition, d definition) []definition {
	out := make([]definition, 0, len(defs)+1)
	for _, old := range defs {
		if old.name != d.name {
			out = append(out, old)
		}
	}
	return append(out, d)
}

// isDefinition reports whether the first token of input opens a box.
func isDefinition(input string) bool {
	for token, err := range box.NewLexer(input, filename).Tokens() {
		if err != nil {
			return false
		}
		if token.Kind != box.COMMENT {
			return token.Kind == box.BOX_OPEN
		}
	}
	return false
}
