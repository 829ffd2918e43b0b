package ir

import (
	"fmt"
	"io"
	"strings"
)

// Format renders a program in the textual IR form used by `box ir`.
func Format(p *Program) string {
	var b strings.Builder
	if err := Emit(p, NewTextSink(), &b); err != nil {
		return err.Error()
	}
	return b.String()
}

// TextSink prints the program as it is emitted.
type TextSink struct {
	b    strings.Builder
	unit *Unit
	open RegionID // region whose label was printed last
}

func NewTextSink() *TextSink {
	return &TextSink{open: NoRegion}
}

func (s *TextSink) GetName() string      { return "box IR" }
func (s *TextSink) GetExtension() string { return ".ir" }

func (s *TextSink) DeclareGlobal(g *Global) error {
	fmt.Fprintf(&s.b, "global %s\n", g.Name)
	return nil
}

func (s *TextSink) DeclareUnit(u *Unit) error {
	return nil
}

func (s *TextSink) DeclareRegion(u *Unit, r *Region) error {
	if s.unit == u {
		return nil
	}
	s.unit = u

	locals := make([]string, len(u.Locals))
	for i, l := range u.Locals {
		locals[i] = l.Name
	}
	fmt.Fprintf(&s.b, "\nunit %d %s locals=[%s] temps=%d\n",
		u.ID, u.Name, strings.Join(locals, " "), u.Temps)
	return nil
}

func (s *TextSink) label(r *Region) {
	if s.open == r.ID {
		return
	}
	s.open = r.ID
	fmt.Fprintf(&s.b, "  r%d %s:\n", r.ID, r.Kind)
}

func (s *TextSink) Instr(u *Unit, r *Region, in *Instr) error {
	s.label(r)
	s.b.WriteString("    ")
	s.b.WriteString(FormatInstr(in))
	s.b.WriteString("\n")
	return nil
}

func (s *TextSink) Terminate(u *Unit, r *Region, t *Terminator) error {
	s.label(r)
	s.b.WriteString("    ")
	s.b.WriteString(FormatTerminator(t))
	s.b.WriteString("\n")
	return nil
}

func (s *TextSink) Finalize(w io.Writer) error {
	_, err := io.WriteString(w, strings.TrimPrefix(s.b.String(), "\n"))
	return err
}

func FormatInstr(in *Instr) string {
	args := make([]string, len(in.Args))
	for i, a := range in.Args {
		args[i] = a.String()
	}

	var rhs string
	switch in.Op {
	case OpCall, OpBuiltin:
		rhs = fmt.Sprintf("%s %s(%s)", in.Op, in.Callee, strings.Join(args, ", "))
	default:
		rhs = fmt.Sprintf("%s %s", in.Op, strings.Join(args, ", "))
	}

	if in.Dst.IsNone() {
		return rhs
	}
	return in.Dst.String() + " = " + rhs
}

func FormatTerminator(t *Terminator) string {
	switch t.Kind {
	case Jump:
		return fmt.Sprintf("jump r%d", t.Then)
	case Branch:
		return fmt.Sprintf("branch %s, r%d, r%d", t.Cond, t.Then, t.Else)
	case Return:
		return "ret " + t.Value.String()
	default:
		return "unterminated"
	}
}
