package box

import (
	"strconv"
	"strings"
)

// NodeID indexes Tree.Nodes.
type NodeID int32

const NoNode NodeID = -1

// RefID numbers every name occurrence in a tree densely from zero. The
// resolver records one binding per RefID.
type RefID int32

type NodeKind int

const (
	BoxNode NodeKind = iota
	BlockNode
	ExprNode
)

func (k NodeKind) String() string {
	switch k {
	case BoxNode:
		return "box"
	case BlockNode:
		return "block"
	case ExprNode:
		return "expr"
	default:
		return "unknown"
	}
}

// Purpose is fixed by the block's opening keyword.
type Purpose int

const (
	Sequential Purpose = iota
	Loop
	Conditional
)

func (p Purpose) String() string {
	switch p {
	case Sequential:
		return "do"
	case Loop:
		return "loop"
	case Conditional:
		return "if"
	default:
		return "unknown"
	}
}

func purposeOf(keyword string) Purpose {
	switch keyword {
	case "loop":
		return Loop
	case "if":
		return Conditional
	default:
		return Sequential
	}
}

// Node is one arena entry. Which fields are meaningful depends on Kind.
type Node struct {
	Kind     NodeKind
	Parent   NodeID
	Children []NodeID
	Span     Span

	// BoxNode
	Name    string
	Exports []Export

	// BlockNode
	Purpose Purpose
	Cond    Expr     // Loop and Conditional only
	Else    []NodeID // not-taken arm of a Conditional
	HasElse bool

	// ExprNode
	Expr Expr
}

type Export struct {
	Name string
	Span Span
}

// Tree is the forest of boxes for one compilation unit. Boxes are the only
// roots: every other node's Parent chain ends at exactly one BoxNode.
type Tree struct {
	Filename string
	Nodes    []Node
	Boxes    []NodeID
	NumRefs  int
}

func (t *Tree) Node(id NodeID) *Node {
	return &t.Nodes[id]
}

func (t *Tree) add(n Node) NodeID {
	t.Nodes = append(t.Nodes, n)
	return NodeID(len(t.Nodes) - 1)
}

func (t *Tree) newRef() RefID {
	t.NumRefs++
	return RefID(t.NumRefs - 1)
}

// BoxOf walks the parent chain of id up to its owning box.
func (t *Tree) BoxOf(id NodeID) NodeID {
	for id != NoNode {
		n := &t.Nodes[id]
		if n.Kind == BoxNode {
			return id
		}
		id = n.Parent
	}
	return NoNode
}

// Walk visits the tree depth-first, pre-order, boxes in source order. Else
// arms are visited after the taken arm. Returning false skips the subtree.
func (t *Tree) Walk(fn func(id NodeID, n *Node) bool) {
	var visit func(id NodeID)
	visit = func(id NodeID) {
		n := &t.Nodes[id]
		if !fn(id, n) {
			return
		}
		for _, child := range n.Children {
			visit(child)
		}
		for _, child := range n.Else {
			visit(child)
		}
	}
	for _, id := range t.Boxes {
		visit(id)
	}
}

// Operator is a unary or binary operator.
type Operator string

const (
	OpAdd Operator = "+"
	OpSub Operator = "-"
	OpMul Operator = "*"
	OpDiv Operator = "/"
	OpMod Operator = "%"
	OpPow Operator = "**"
	OpShl Operator = "<<"
	OpShr Operator = ">>"
	OpAnd Operator = "&"
	OpOr  Operator = "|"
	OpXor Operator = "^"
	OpEq  Operator = "=="
	OpNe  Operator = "!="
	OpLt  Operator = "<"
	OpLe  Operator = "<="
	OpGt  Operator = ">"
	OpGe  Operator = ">="
	OpNot Operator = "!"
	OpNeg Operator = "neg"
)

// binaryPrecedence is the binding power of each binary operator; a higher
// number binds tighter. Unary operators sit at 9, ** above them.
var binaryPrecedence = map[Operator]int{
	OpEq: 2, OpNe: 2, OpLt: 2, OpLe: 2, OpGt: 2, OpGe: 2,
	OpOr:  3,
	OpXor: 4,
	OpAnd: 5,
	OpShl: 6, OpShr: 6,
	OpAdd: 7, OpSub: 7,
	OpMul: 8, OpDiv: 8, OpMod: 8,
	OpPow: 10,
}

const unaryPrecedence = 9

type Expr interface {
	String() string
	Pos() Span
}

type IntLit struct {
	Value int64
	Span  Span
}

func (e *IntLit) String() string { return strconv.FormatInt(e.Value, 10) }
func (e *IntLit) Pos() Span      { return e.Span }

type TextLit struct {
	Value string
	Span  Span
}

func (e *TextLit) String() string { return strconv.Quote(e.Value) }
func (e *TextLit) Pos() Span      { return e.Span }

type Ident struct {
	Name string
	Ref  RefID
	Span Span
}

func (e *Ident) String() string { return e.Name }
func (e *Ident) Pos() Span      { return e.Span }

// Qualified names a binding exported by another box: box.name.
type Qualified struct {
	Box  string
	Name string
	Ref  RefID
	Span Span
}

func (e *Qualified) String() string { return e.Box + "." + e.Name }
func (e *Qualified) Pos() Span      { return e.Span }

type Unary struct {
	Op   Operator
	X    Expr
	Span Span
}

func (e *Unary) String() string {
	if e.Op == OpNeg {
		return "(-" + e.X.String() + ")"
	}
	return "(" + string(e.Op) + e.X.String() + ")"
}
func (e *Unary) Pos() Span { return e.Span }

type Binary struct {
	Op   Operator
	X, Y Expr
	Span Span
}

func (e *Binary) String() string {
	return "(" + e.X.String() + " " + string(e.Op) + " " + e.Y.String() + ")"
}
func (e *Binary) Pos() Span { return e.Span }

// Call invokes a builtin or another box of the same unit.
type Call struct {
	Name string
	Args []Expr
	Ref  RefID
	Span Span
}

func (e *Call) String() string {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = a.String()
	}
	return e.Name + "(" + strings.Join(args, ", ") + ")"
}
func (e *Call) Pos() Span { return e.Span }

// Assign binds or rebinds Target. Declare marks the let form, which always
// introduces a new binding in the current scope.
type Assign struct {
	Target  Expr // *Ident or *Qualified
	Value   Expr
	Declare bool
	Span    Span
}

func (e *Assign) String() string {
	if e.Declare {
		return "let " + e.Target.String() + " = " + e.Value.String()
	}
	return e.Target.String() + " = " + e.Value.String()
}
func (e *Assign) Pos() Span { return e.Span }
