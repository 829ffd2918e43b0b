package llvm

import (
	"fmt"
	"io"
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	boxir "box/internal/ir"
)

// Sink lowers box IR to an LLVM module. Every local, temp and global is an
// i64 slot; a C main calls the unit of the box named main. Names the sink
// invents start with '$' or '.', which box identifiers never do.
type Sink struct {
	module  *ir.Module
	printf  *ir.Func
	pow     *ir.Func
	globals []*ir.Global
	funcs   map[string]*ir.Func
	units   []*boxir.Unit

	blocks map[boxir.RegionID]*ir.Block
	locals []*ir.InstAlloca
	temps  []*ir.InstAlloca

	strCount int
}

func NewSink() *Sink {
	return &Sink{
		funcs:  make(map[string]*ir.Func),
		blocks: make(map[boxir.RegionID]*ir.Block),
	}
}

func (s *Sink) GetName() string      { return "LLVM IR" }
func (s *Sink) GetExtension() string { return ".ll" }

func (s *Sink) init() {
	if s.module != nil {
		return
	}
	s.module = ir.NewModule()
	s.printf = s.module.NewFunc("printf", types.I32, ir.NewParam("format", types.NewPointer(types.I8)))
	s.printf.Sig.Variadic = true
}

func (s *Sink) DeclareGlobal(g *boxir.Global) error {
	s.init()
	def := s.module.NewGlobalDef("$"+g.Name, constant.NewInt(types.I64, 0))
	s.globals = append(s.globals, def)
	return nil
}

func (s *Sink) DeclareUnit(u *boxir.Unit) error {
	s.init()
	if _, exists := s.funcs[u.Name]; exists {
		return fmt.Errorf("unit %s declared twice", u.Name)
	}
	s.funcs[u.Name] = s.module.NewFunc(u.Name, types.I64)
	s.units = append(s.units, u)
	return nil
}

func (s *Sink) DeclareRegion(u *boxir.Unit, r *boxir.Region) error {
	f, ok := s.funcs[u.Name]
	if !ok {
		return fmt.Errorf("region r%d of undeclared unit %s", r.ID, u.Name)
	}

	block := f.NewBlock(fmt.Sprintf("r%d.%s", r.ID, r.Kind))
	s.blocks[r.ID] = block
	if r.ID != u.Entry {
		return nil
	}

	// The entry region is declared first; its block holds every slot.
	s.locals = s.locals[:0]
	s.temps = s.temps[:0]
	zero := constant.NewInt(types.I64, 0)
	for range u.Locals {
		slot := block.NewAlloca(types.I64)
		block.NewStore(zero, slot)
		s.locals = append(s.locals, slot)
	}
	for i := 0; i < u.Temps; i++ {
		slot := block.NewAlloca(types.I64)
		block.NewStore(zero, slot)
		s.temps = append(s.temps, slot)
	}
	return nil
}

func (s *Sink) load(b *ir.Block, o boxir.Operand) (value.Value, error) {
	switch o.Kind {
	case boxir.ConstOperand:
		return constant.NewInt(types.I64, o.Value), nil
	case boxir.LocalOperand, boxir.TempOperand, boxir.GlobalOperand:
		ptr, err := s.slot(o)
		if err != nil {
			return nil, err
		}
		return b.NewLoad(types.I64, ptr), nil
	default:
		return nil, fmt.Errorf("operand %v has no value", o)
	}
}

func (s *Sink) slot(o boxir.Operand) (value.Value, error) {
	i := o.Slot()
	switch o.Kind {
	case boxir.LocalOperand:
		if i < len(s.locals) {
			return s.locals[i], nil
		}
	case boxir.TempOperand:
		if i < len(s.temps) {
			return s.temps[i], nil
		}
	case boxir.GlobalOperand:
		if i < len(s.globals) {
			return s.globals[i], nil
		}
	}
	return nil, fmt.Errorf("no storage for %v", o)
}

func (s *Sink) store(b *ir.Block, dst boxir.Operand, v value.Value) error {
	if dst.IsNone() {
		return nil
	}
	ptr, err := s.slot(dst)
	if err != nil {
		return err
	}
	b.NewStore(v, ptr)
	return nil
}

func (s *Sink) Instr(u *boxir.Unit, r *boxir.Region, in *boxir.Instr) error {
	b, ok := s.blocks[r.ID]
	if !ok {
		return fmt.Errorf("undeclared region r%d", r.ID)
	}

	switch in.Op {
	case boxir.OpCall:
		callee, ok := s.funcs[in.Callee]
		if !ok {
			return fmt.Errorf("call to undeclared unit %s", in.Callee)
		}
		return s.store(b, in.Dst, b.NewCall(callee))
	case boxir.OpBuiltin:
		v, err := s.builtin(b, in)
		if err != nil {
			return err
		}
		return s.store(b, in.Dst, v)
	}

	args := make([]value.Value, len(in.Args))
	for i, arg := range in.Args {
		v, err := s.load(b, arg)
		if err != nil {
			return err
		}
		args[i] = v
	}

	var v value.Value
	switch in.Op {
	case boxir.OpCopy:
		v = args[0]
	case boxir.OpNeg:
		v = b.NewSub(constant.NewInt(types.I64, 0), args[0])
	case boxir.OpNot:
		v = b.NewZExt(b.NewICmp(enum.IPredEQ, args[0], constant.NewInt(types.I64, 0)), types.I64)
	default:
		var err error
		v, err = s.binary(b, in.Op, args[0], args[1])
		if err != nil {
			return err
		}
	}
	return s.store(b, in.Dst, v)
}

var predicates = map[boxir.Op]enum.IPred{
	boxir.OpEq: enum.IPredEQ,
	boxir.OpNe: enum.IPredNE,
	boxir.OpLt: enum.IPredSLT,
	boxir.OpLe: enum.IPredSLE,
	boxir.OpGt: enum.IPredSGT,
	boxir.OpGe: enum.IPredSGE,
}

func (s *Sink) binary(b *ir.Block, op boxir.Op, x, y value.Value) (value.Value, error) {
	zero := constant.NewInt(types.I64, 0)
	one := constant.NewInt(types.I64, 1)

	if pred, ok := predicates[op]; ok {
		return b.NewZExt(b.NewICmp(pred, x, y), types.I64), nil
	}

	switch op {
	case boxir.OpAdd:
		return b.NewAdd(x, y), nil
	case boxir.OpSub:
		return b.NewSub(x, y), nil
	case boxir.OpMul:
		return b.NewMul(x, y), nil
	case boxir.OpAnd:
		return b.NewAnd(x, y), nil
	case boxir.OpOr:
		return b.NewOr(x, y), nil
	case boxir.OpXor:
		return b.NewXor(x, y), nil
	case boxir.OpShl:
		return b.NewShl(x, b.NewAnd(y, constant.NewInt(types.I64, 63))), nil
	case boxir.OpShr:
		return b.NewAShr(x, b.NewAnd(y, constant.NewInt(types.I64, 63))), nil

	case boxir.OpDiv, boxir.OpMod:
		// A zero divisor yields 0 and -1 is handled without sdiv so the
		// minimum value cannot trap.
		isZero := b.NewICmp(enum.IPredEQ, y, zero)
		isNegOne := b.NewICmp(enum.IPredEQ, y, constant.NewInt(types.I64, -1))
		safe := b.NewSelect(b.NewOr(isZero, isNegOne), one, y)
		if op == boxir.OpDiv {
			q := b.NewSelect(isNegOne, b.NewSub(zero, x), b.NewSDiv(x, safe))
			return b.NewSelect(isZero, zero, q), nil
		}
		rem := b.NewSRem(x, safe)
		signsDiffer := b.NewICmp(enum.IPredSLT, b.NewXor(rem, y), zero)
		nonZero := b.NewICmp(enum.IPredNE, rem, zero)
		floored := b.NewSelect(b.NewAnd(nonZero, signsDiffer), b.NewAdd(rem, y), rem)
		return b.NewSelect(isZero, zero, floored), nil

	case boxir.OpPow:
		return b.NewCall(s.powFunc(), x, y), nil

	default:
		return nil, fmt.Errorf("unsupported op %s", op)
	}
}

func (s *Sink) builtin(b *ir.Block, in *boxir.Instr) (value.Value, error) {
	if in.Callee == "print" {
		return s.print(b, in.Args)
	}

	args := make([]value.Value, len(in.Args))
	for i, arg := range in.Args {
		v, err := s.load(b, arg)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	switch in.Callee {
	case "abs":
		neg := b.NewICmp(enum.IPredSLT, args[0], constant.NewInt(types.I64, 0))
		return b.NewSelect(neg, b.NewSub(constant.NewInt(types.I64, 0), args[0]), args[0]), nil
	case "min":
		return b.NewSelect(b.NewICmp(enum.IPredSLT, args[0], args[1]), args[0], args[1]), nil
	case "max":
		return b.NewSelect(b.NewICmp(enum.IPredSGT, args[0], args[1]), args[0], args[1]), nil
	default:
		return nil, fmt.Errorf("unknown builtin %s", in.Callee)
	}
}

// print folds text arguments into the printf format and passes integers as
// %lld conversions, space separated, newline terminated.
func (s *Sink) print(b *ir.Block, args []boxir.Operand) (value.Value, error) {
	var format strings.Builder
	var values []value.Value

	for i, arg := range args {
		if i > 0 {
			format.WriteByte(' ')
		}
		if arg.Kind == boxir.TextOperand {
			format.WriteString(strings.ReplaceAll(arg.Text, "%", "%%"))
			continue
		}
		v, err := s.load(b, arg)
		if err != nil {
			return nil, err
		}
		format.WriteString("%lld")
		values = append(values, v)
	}
	format.WriteString("\n")

	callArgs := append([]value.Value{s.cString(b, format.String())}, values...)
	b.NewCall(s.printf, callArgs...)
	return constant.NewInt(types.I64, 0), nil
}

func (s *Sink) cString(b *ir.Block, text string) value.Value {
	data := text + "\x00"
	def := s.module.NewGlobalDef(fmt.Sprintf(".str.%d", s.strCount), constant.NewCharArrayFromString(data))
	def.Immutable = true
	s.strCount++
	return b.NewGetElementPtr(types.NewArray(uint64(len(data)), types.I8), def,
		constant.NewInt(types.I64, 0), constant.NewInt(types.I64, 0))
}

// powFunc defines $pow(base, exp) on first use: exponentiation by
// squaring, 0 for a negative exponent.
func (s *Sink) powFunc() *ir.Func {
	if s.pow != nil {
		return s.pow
	}

	base := ir.NewParam("base", types.I64)
	exp := ir.NewParam("exp", types.I64)
	f := s.module.NewFunc("$pow", types.I64, base, exp)
	zero := constant.NewInt(types.I64, 0)
	one := constant.NewInt(types.I64, 1)

	entry := f.NewBlock("entry")
	negative := f.NewBlock("negative")
	check := f.NewBlock("check")
	body := f.NewBlock("body")
	done := f.NewBlock("done")

	result := entry.NewAlloca(types.I64)
	b := entry.NewAlloca(types.I64)
	e := entry.NewAlloca(types.I64)
	entry.NewStore(one, result)
	entry.NewStore(base, b)
	entry.NewStore(exp, e)
	entry.NewCondBr(entry.NewICmp(enum.IPredSLT, exp, zero), negative, check)

	negative.NewRet(zero)

	curE := check.NewLoad(types.I64, e)
	check.NewCondBr(check.NewICmp(enum.IPredSGT, curE, zero), body, done)

	r := body.NewLoad(types.I64, result)
	bv := body.NewLoad(types.I64, b)
	ev := body.NewLoad(types.I64, e)
	odd := body.NewICmp(enum.IPredEQ, body.NewAnd(ev, one), one)
	body.NewStore(body.NewSelect(odd, body.NewMul(r, bv), r), result)
	body.NewStore(body.NewMul(bv, bv), b)
	body.NewStore(body.NewAShr(ev, one), e)
	body.NewBr(check)

	done.NewRet(done.NewLoad(types.I64, result))

	s.pow = f
	return f
}

func (s *Sink) Terminate(u *boxir.Unit, r *boxir.Region, t *boxir.Terminator) error {
	b, ok := s.blocks[r.ID]
	if !ok {
		return fmt.Errorf("undeclared region r%d", r.ID)
	}

	switch t.Kind {
	case boxir.Jump:
		target, ok := s.blocks[t.Then]
		if !ok {
			return fmt.Errorf("jump to undeclared region r%d", t.Then)
		}
		b.NewBr(target)
	case boxir.Branch:
		then, ok1 := s.blocks[t.Then]
		els, ok2 := s.blocks[t.Else]
		if !ok1 || !ok2 {
			return fmt.Errorf("branch from r%d to an undeclared region", r.ID)
		}
		cond, err := s.load(b, t.Cond)
		if err != nil {
			return err
		}
		b.NewCondBr(b.NewICmp(enum.IPredNE, cond, constant.NewInt(types.I64, 0)), then, els)
	case boxir.Return:
		v, err := s.load(b, t.Value)
		if err != nil {
			return err
		}
		b.NewRet(v)
	default:
		return fmt.Errorf("region r%d of %s is not terminated", r.ID, u.Name)
	}
	return nil
}

// Finalize adds the C entry point and writes the module as LLVM assembly.
func (s *Sink) Finalize(w io.Writer) error {
	s.init()

	main := s.module.NewFunc("main", types.I32)
	block := main.NewBlock("")
	var status value.Value = constant.NewInt(types.I32, 0)
	for _, u := range s.units {
		if u.Box == "main" {
			status = block.NewTrunc(block.NewCall(s.funcs[u.Name]), types.I32)
			break
		}
	}
	block.NewRet(status)

	_, err := io.WriteString(w, s.module.String())
	return err
}
