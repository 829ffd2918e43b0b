package ir

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"box/internal/box"
)

var (
	ErrStepLimit  = errors.New("step limit exceeded")
	ErrCallDepth  = errors.New("call depth exceeded")
	ErrNoSuchUnit = errors.New("no such unit")
)

// Result of running a unit. Status is the unit's return value; Halt is set
// when execution stopped early because a limit was hit.
type Result struct {
	Status int64
	Halt   bool
	Steps  int
	Error  error
}

type EvalOption func(*Evaluator)

// WithStepLimit bounds the number of instructions and terminators executed.
// Zero means no limit.
func WithStepLimit(n int) EvalOption {
	return func(e *Evaluator) {
		e.stepLimit = n
	}
}

func WithMaxDepth(n int) EvalOption {
	return func(e *Evaluator) {
		e.maxDepth = n
	}
}

// frame is the storage of one unit invocation. Every call starts with fresh
// locals and temps set to zero.
type frame struct {
	unit   *Unit
	locals []int64
	temps  []int64
}

// Evaluator interprets lowered IR directly. Globals survive between runs so a
// caller can keep state across programs that share export names.
type Evaluator struct {
	prog    *Program
	out     io.Writer
	globals map[string]int64

	steps     int
	stepLimit int
	depth     int
	maxDepth  int
}

func NewEvaluator(prog *Program, out io.Writer, opts ...EvalOption) *Evaluator {
	e := &Evaluator{
		prog:     prog,
		out:      out,
		globals:  make(map[string]int64),
		maxDepth: 256,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load switches to another program, keeping the values of globals whose
// names it shares with the previous one.
func (e *Evaluator) Load(prog *Program) {
	e.prog = prog
}

// Global returns the value of an exported binding, box.name.
func (e *Evaluator) Global(name string) int64 {
	return e.globals[name]
}

// Run executes the unit of the named box, or the unit with that qualified
// name.
func (e *Evaluator) Run(name string) Result {
	unit := e.prog.Unit(name)
	if unit == nil {
		return Result{Error: fmt.Errorf("%w: %s", ErrNoSuchUnit, name)}
	}

	e.steps = 0
	e.depth = 0
	status, err := e.callUnit(unit)
	result := Result{Status: status, Steps: e.steps, Error: err}
	if errors.Is(err, ErrStepLimit) || errors.Is(err, ErrCallDepth) {
		result.Halt = true
	}
	return result
}

func (e *Evaluator) callUnit(unit *Unit) (int64, error) {
	if e.depth >= e.maxDepth {
		return 0, fmt.Errorf("%w: %d nested calls in %s", ErrCallDepth, e.depth, unit.Name)
	}
	e.depth++
	defer func() { e.depth-- }()

	f := &frame{
		unit:   unit,
		locals: make([]int64, len(unit.Locals)),
		temps:  make([]int64, unit.Temps),
	}

	region := unit.Region(unit.Entry)
	for region != nil {
		for i := range region.Instrs {
			if err := e.step(); err != nil {
				return 0, err
			}
			if err := e.exec(f, &region.Instrs[i]); err != nil {
				return 0, err
			}
		}

		if err := e.step(); err != nil {
			return 0, err
		}
		term := region.Term
		switch term.Kind {
		case Jump:
			region = unit.Region(term.Then)
		case Branch:
			if e.load(f, term.Cond) != 0 {
				region = unit.Region(term.Then)
			} else {
				region = unit.Region(term.Else)
			}
		case Return:
			return e.load(f, term.Value), nil
		default:
			return 0, fmt.Errorf("%s: region r%d is not terminated", unit.Name, region.ID)
		}
	}
	return 0, fmt.Errorf("%s: jump to a missing region", unit.Name)
}

func (e *Evaluator) step() error {
	e.steps++
	if e.stepLimit > 0 && e.steps > e.stepLimit {
		return fmt.Errorf("%w: %d", ErrStepLimit, e.stepLimit)
	}
	return nil
}

func (e *Evaluator) exec(f *frame, in *Instr) error {
	switch {
	case in.Op == OpCopy:
		e.store(f, in.Dst, e.load(f, in.Args[0]))
	case in.Op.Unary():
		e.store(f, in.Dst, ApplyUnary(in.Op, e.load(f, in.Args[0])))
	case in.Op.Binary():
		e.store(f, in.Dst, Apply(in.Op, e.load(f, in.Args[0]), e.load(f, in.Args[1])))
	case in.Op == OpCall:
		callee := e.prog.Unit(in.Callee)
		if callee == nil {
			return fmt.Errorf("%w: %s", ErrNoSuchUnit, in.Callee)
		}
		v, err := e.callUnit(callee)
		if err != nil {
			return err
		}
		e.store(f, in.Dst, v)
	case in.Op == OpBuiltin:
		v, err := e.builtin(f, in)
		if err != nil {
			return err
		}
		e.store(f, in.Dst, v)
	default:
		return fmt.Errorf("unknown op %q", in.Op)
	}
	return nil
}

func (e *Evaluator) builtin(f *frame, in *Instr) (int64, error) {
	if in.Callee == "print" {
		parts := make([]string, len(in.Args))
		for i, arg := range in.Args {
			if arg.Kind == TextOperand {
				parts[i] = arg.Text
			} else {
				parts[i] = strconv.FormatInt(e.load(f, arg), 10)
			}
		}
		if _, err := fmt.Fprintln(e.out, strings.Join(parts, " ")); err != nil {
			return 0, err
		}
		return 0, nil
	}

	b, ok := box.LookupBuiltin(in.Callee)
	if !ok || b.Fn == nil {
		return 0, fmt.Errorf("builtin %s has no implementation", in.Callee)
	}
	args := make([]int64, len(in.Args))
	for i, arg := range in.Args {
		args[i] = e.load(f, arg)
	}
	return b.Fn(args), nil
}

func (e *Evaluator) load(f *frame, o Operand) int64 {
	switch o.Kind {
	case ConstOperand:
		return o.Value
	case LocalOperand:
		return f.locals[o.Slot()]
	case TempOperand:
		return f.temps[o.Slot()]
	case GlobalOperand:
		return e.globals[e.prog.Globals[o.Slot()].Name]
	default:
		return 0
	}
}

func (e *Evaluator) store(f *frame, o Operand, v int64) {
	switch o.Kind {
	case LocalOperand:
		f.locals[o.Slot()] = v
	case TempOperand:
		f.temps[o.Slot()] = v
	case GlobalOperand:
		e.globals[e.prog.Globals[o.Slot()].Name] = v
	}
}
