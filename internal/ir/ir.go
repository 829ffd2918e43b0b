// Package ir holds the target-independent form of a compiled unit: one Unit
// per box, one control-flow Region per block shape, three-address
// instructions inside regions and explicit terminators between them.
package ir

import (
	"fmt"

	"box/internal/box"
)

// Unit and region ids count from an int32 seed in a wider type, so no
// program can run them out of range.
type UnitID int64

type RegionID int64

const NoRegion RegionID = -1

type RegionKind int

const (
	EntryRegion RegionKind = iota
	SequenceRegion
	LoopHeaderRegion
	LoopBodyRegion
	LoopExitRegion
	ConditionRegion
	TakenRegion
	NotTakenRegion
	JoinRegion
)

func (k RegionKind) String() string {
	switch k {
	case EntryRegion:
		return "entry"
	case SequenceRegion:
		return "seq"
	case LoopHeaderRegion:
		return "loop.header"
	case LoopBodyRegion:
		return "loop.body"
	case LoopExitRegion:
		return "loop.exit"
	case ConditionRegion:
		return "if.cond"
	case TakenRegion:
		return "if.then"
	case NotTakenRegion:
		return "if.else"
	case JoinRegion:
		return "if.join"
	default:
		return "unknown"
	}
}

type OperandKind int

const (
	NoOperand OperandKind = iota
	ConstOperand
	TextOperand
	LocalOperand
	GlobalOperand
	TempOperand
)

// Operand is a leaf value. Value holds the constant for ConstOperand and the
// slot index for locals, globals and temps.
type Operand struct {
	Kind  OperandKind `json:"kind"`
	Value int64       `json:"value,omitempty"`
	Text  string      `json:"text,omitempty"`
}

func Const(v int64) Operand { return Operand{Kind: ConstOperand, Value: v} }
func Text(s string) Operand { return Operand{Kind: TextOperand, Text: s} }
func LocalSlot(slot int) Operand { return Operand{Kind: LocalOperand, Value: int64(slot)} }
func GlobalSlot(slot int) Operand { return Operand{Kind: GlobalOperand, Value: int64(slot)} }
func Temp(slot int) Operand { return Operand{Kind: TempOperand, Value: int64(slot)} }
func (o Operand) Slot() int { return int(o.Value) }
func (o Operand) IsNone() bool { return o.Kind == NoOperand }

func (o Operand) String() string {
	switch o.Kind {
	case ConstOperand:
		return fmt.Sprintf("%d", o.Value)
	case TextOperand:
		return fmt.Sprintf("%q", o.Text)
	case LocalOperand:
		return fmt.Sprintf("%%l%d", o.Value)
	case GlobalOperand:
		return fmt.Sprintf("@g%d", o.Value)
	case TempOperand:
		return fmt.Sprintf("%%t%d", o.Value)
	default:
		return "_"
	}
}

type Op string

const (
	OpCopy    Op = "copy"
	OpNeg     Op = "neg"
	OpNot     Op = "not"
	OpAdd     Op = "add"
	OpSub     Op = "sub"
	OpMul     Op = "mul"
	OpDiv     Op = "div"
	OpMod     Op = "mod"
	OpPow     Op = "pow"
	OpShl     Op = "shl"
	OpShr     Op = "shr"
	OpAnd     Op = "and"
	OpOr      Op = "or"
	OpXor     Op = "xor"
	OpEq      Op = "eq"
	OpNe      Op = "ne"
	OpLt      Op = "lt"
	OpLe      Op = "le"
	OpGt      Op = "gt"
	OpGe      Op = "ge"
	OpCall    Op = "call"    // call another unit
	OpBuiltin Op = "builtin" // call a builtin
)

var binaryOps = map[box.Operator]Op{
	box.OpAdd: OpAdd, box.OpSub: OpSub, box.OpMul: OpMul, box.OpDiv: OpDiv,
	box.OpMod: OpMod, box.OpPow: OpPow, box.OpShl: OpShl, box.OpShr: OpShr,
	box.OpAnd: OpAnd, box.OpOr: OpOr, box.OpXor: OpXor,
	box.OpEq: OpEq, box.OpNe: OpNe, box.OpLt: OpLt, box.OpLe: OpLe,
	box.OpGt: OpGt, box.OpGe: OpGe,
}

// Unary reports whether op takes one argument.
func (op Op) Unary() bool {
	return op == OpCopy || op == OpNeg || op == OpNot
}

// Binary reports whether op is an arithmetic, bitwise or comparison operator.
func (op Op) Binary() bool {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow, OpShl, OpShr,
		OpAnd, OpOr, OpXor, OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// Instr is a three-address instruction. Dst is NoOperand for calls whose
// result is discarded. Callee names the unit for OpCall and the builtin for
// OpBuiltin.
type Instr struct {
	Op     Op        `json:"op"`
	Dst    Operand   `json:"dst"`
	Args   []Operand `json:"args,omitempty"`
	Callee string    `json:"callee,omitempty"`
	Span   box.Span  `json:"-"`
}

type TermKind int

const (
	Unterminated TermKind = iota
	Jump
	Branch
	Return
)

func (k TermKind) String() string {
	switch k {
	case Jump:
		return "jump"
	case Branch:
		return "branch"
	case Return:
		return "ret"
	default:
		return "unterminated"
	}
}

// Terminator ends a region. Jump uses Then, Branch goes to Then when Cond is
// non-zero and to Else otherwise, Return yields Value.
type Terminator struct {
	Kind  TermKind `json:"kind"`
	Cond  Operand  `json:"cond"`
	Then  RegionID `json:"then"`
	Else  RegionID `json:"else"`
	Value Operand  `json:"value"`
}

// Successors lists the regions control may flow to.
func (t Terminator) Successors() []RegionID {
	switch t.Kind {
	case Jump:
		return []RegionID{t.Then}
	case Branch:
		return []RegionID{t.Then, t.Else}
	default:
		return nil
	}
}

type Region struct {
	ID     RegionID   `json:"id"`
	Kind   RegionKind `json:"kind"`
	Block  box.NodeID `json:"block"` // block node that produced the region, NoNode for a bare entry
	Instrs []Instr    `json:"instrs"`
	Term   Terminator `json:"term"`
}

func (r *Region) Terminated() bool {
	return r.Term.Kind != Unterminated
}

// Local is a block-local variable slot. Names may repeat when a nested block
// shadows an outer binding.
type Local struct {
	Name    string        `json:"name"`
	Binding box.BindingID `json:"binding"`
}

type Unit struct {
	ID      UnitID    `json:"id"`
	Name    string    `json:"name"` // unit.box
	Box     string    `json:"box"`
	Locals  []Local   `json:"locals"`
	Temps   int       `json:"temps"`
	Entry   RegionID  `json:"entry"`
	Regions []*Region `json:"regions"`
}

// Region finds a region of u by id.
func (u *Unit) Region(id RegionID) *Region {
	for _, r := range u.Regions {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// Predecessors counts the incoming edges of every region of u.
func (u *Unit) Predecessors() map[RegionID]int {
	preds := make(map[RegionID]int, len(u.Regions))
	for _, r := range u.Regions {
		for _, s := range r.Term.Successors() {
			preds[s]++
		}
	}
	return preds
}

// Global is the storage of an exported box binding, shared by every unit.
type Global struct {
	Name    string        `json:"name"` // box.name
	Box     string        `json:"box"`
	Binding box.BindingID `json:"binding"`
}

type Program struct {
	Name    string   `json:"name"`
	Units   []*Unit  `json:"units"`
	Globals []Global `json:"globals"`
}

// Unit finds a unit by its qualified name or by the name of its box.
func (p *Program) Unit(name string) *Unit {
	for _, u := range p.Units {
		if u.Name == name || u.Box == name {
			return u
		}
	}
	return nil
}

// QualifiedName is the unit name of a box inside a compilation unit.
func QualifiedName(unit, boxName string) string {
	return unit + "." + boxName
}
