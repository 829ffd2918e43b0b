package ir

import (
	"fmt"

	"box/internal/box"
)

type options struct {
	seed     int32
	unitName string
}

type Option func(*options)

// WithSeed sets the first unit and region identifier. Lowering the same tree
// with the same seed always yields the same numbering.
func WithSeed(seed int32) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// WithUnitName labels the program and prefixes every unit name.
func WithUnitName(name string) Option {
	return func(o *options) {
		o.unitName = name
	}
}

type lowerer struct {
	tree *box.Tree
	res  *box.Resolution
	prog *Program

	nextUnit   UnitID
	nextRegion RegionID

	unit    *Unit
	current *Region
	locals  map[box.BindingID]int
	globals map[box.BindingID]int
}

// Lower translates a resolved tree into a Program. It only fails when the
// tree and its resolution disagree, which is reported as a LoweringError.
func Lower(tree *box.Tree, res *box.Resolution, opts ...Option) (*Program, error) {
	o := options{unitName: "unit"}
	for _, opt := range opts {
		opt(&o)
	}

	l := &lowerer{
		tree:       tree,
		res:        res,
		prog:       &Program{Name: o.unitName},
		nextUnit:   UnitID(o.seed),
		nextRegion: RegionID(o.seed),
		globals:    make(map[box.BindingID]int),
	}

	for _, id := range tree.Boxes {
		node := tree.Node(id)
		for _, b := range res.Exports(id) {
			l.globals[b.ID] = len(l.prog.Globals)
			l.prog.Globals = append(l.prog.Globals, Global{
				Name:    node.Name + "." + b.Name,
				Box:     node.Name,
				Binding: b.ID,
			})
		}
	}

	for _, id := range tree.Boxes {
		if err := l.lowerBox(id); err != nil {
			return nil, err
		}
	}

	if err := Verify(l.prog); err != nil {
		return nil, err
	}
	return l.prog, nil
}

func (l *lowerer) errorf(span box.Span, format string, args ...any) error {
	return &box.BoxError{
		Kind:    box.LoweringError,
		Message: fmt.Sprintf(format, args...),
		Span:    span,
	}
}

func (l *lowerer) lowerBox(id box.NodeID) error {
	node := l.tree.Node(id)
	if node.Kind != box.BoxNode {
		return l.errorf(node.Span, "node %d is a %s, expected a box", id, node.Kind)
	}

	l.unit = &Unit{
		ID:   l.nextUnit,
		Name: QualifiedName(l.prog.Name, node.Name),
		Box:  node.Name,
	}
	l.nextUnit++
	l.locals = make(map[box.BindingID]int)
	for _, b := range l.res.Locals(id) {
		l.locals[b.ID] = len(l.unit.Locals)
		l.unit.Locals = append(l.unit.Locals, Local{Name: b.Name, Binding: b.ID})
	}

	entry := l.newRegion(EntryRegion, box.NoNode)
	l.unit.Entry = entry.ID
	l.current = entry

	for _, child := range node.Children {
		if err := l.lowerBlock(child); err != nil {
			return err
		}
	}
	l.current.Term = Terminator{Kind: Return, Value: Const(0)}

	l.prog.Units = append(l.prog.Units, l.unit)
	return nil
}

func (l *lowerer) newRegion(kind RegionKind, block box.NodeID) *Region {
	r := &Region{ID: l.nextRegion, Kind: kind, Block: block}
	l.nextRegion++
	l.unit.Regions = append(l.unit.Regions, r)
	return r
}

func (l *lowerer) newTemp() Operand {
	t := Temp(l.unit.Temps)
	l.unit.Temps++
	return t
}

func (l *lowerer) jump(to *Region) {
	l.current.Term = Terminator{Kind: Jump, Then: to.ID}
}

// enter continues in the current region while it is still empty and opens a
// fresh region behind a jump otherwise.
func (l *lowerer) enter(kind RegionKind, block box.NodeID) {
	if len(l.current.Instrs) == 0 && !l.current.Terminated() {
		if l.current.Block == box.NoNode {
			l.current.Block = block
		}
		return
	}
	next := l.newRegion(kind, block)
	l.jump(next)
	l.current = next
}

func (l *lowerer) lowerBlock(id box.NodeID) error {
	node := l.tree.Node(id)
	if node.Kind != box.BlockNode {
		return l.errorf(node.Span, "expected a block, found a %s", node.Kind)
	}

	switch node.Purpose {
	case box.Sequential:
		l.enter(SequenceRegion, id)
		return l.lowerBody(node.Children)

	case box.Loop:
		// The header is always fresh: the back-edge cannot target the
		// unit's entry region, which LLVM forbids as a branch target.
		header := l.newRegion(LoopHeaderRegion, id)
		body := l.newRegion(LoopBodyRegion, id)
		exit := l.newRegion(LoopExitRegion, id)

		l.jump(header)
		l.current = header
		cond, err := l.operand(node.Cond)
		if err != nil {
			return err
		}
		header.Term = Terminator{Kind: Branch, Cond: cond, Then: body.ID, Else: exit.ID}

		l.current = body
		if err := l.lowerBody(node.Children); err != nil {
			return err
		}
		l.jump(header)
		l.current = exit
		return nil

	case box.Conditional:
		l.enter(ConditionRegion, id)
		cond, err := l.operand(node.Cond)
		if err != nil {
			return err
		}
		taken := l.newRegion(TakenRegion, id)
		notTaken := l.newRegion(NotTakenRegion, id)
		join := l.newRegion(JoinRegion, id)
		l.current.Term = Terminator{Kind: Branch, Cond: cond, Then: taken.ID, Else: notTaken.ID}

		l.current = taken
		if err := l.lowerBody(node.Children); err != nil {
			return err
		}
		l.jump(join)

		l.current = notTaken
		if err := l.lowerBody(node.Else); err != nil {
			return err
		}
		l.jump(join)
		l.current = join
		return nil

	default:
		return l.errorf(node.Span, "block has unknown purpose %d", node.Purpose)
	}
}

func (l *lowerer) lowerBody(children []box.NodeID) error {
	for _, child := range children {
		node := l.tree.Node(child)
		switch node.Kind {
		case box.BlockNode:
			if err := l.lowerBlock(child); err != nil {
				return err
			}
		case box.ExprNode:
			if err := l.statement(node.Expr); err != nil {
				return err
			}
		default:
			return l.errorf(node.Span, "%s inside a block", node.Kind)
		}
	}
	return nil
}

func (l *lowerer) emit(in Instr) {
	l.current.Instrs = append(l.current.Instrs, in)
}

func (l *lowerer) statement(expr box.Expr) error {
	switch e := expr.(type) {
	case *box.Assign:
		dst, err := l.operand(e.Target)
		if err != nil {
			return err
		}
		return l.into(e.Value, dst)
	case *box.Call:
		return l.call(e, Operand{})
	default:
		_, err := l.operand(expr)
		return err
	}
}

// operand reduces expr to a leaf, spilling compound expressions to a fresh
// temp.
func (l *lowerer) operand(expr box.Expr) (Operand, error) {
	switch e := expr.(type) {
	case *box.IntLit:
		return Const(e.Value), nil
	case *box.TextLit:
		return Text(e.Value), nil
	case *box.Ident:
		return l.slot(e.Ref, e.Span)
	case *box.Qualified:
		return l.slot(e.Ref, e.Span)
	default:
		t := l.newTemp()
		if err := l.into(expr, t); err != nil {
			return Operand{}, err
		}
		return t, nil
	}
}

// into computes expr with its final operation writing dst directly.
func (l *lowerer) into(expr box.Expr, dst Operand) error {
	switch e := expr.(type) {
	case *box.IntLit, *box.Ident, *box.Qualified:
		src, err := l.operand(e)
		if err != nil {
			return err
		}
		l.emit(Instr{Op: OpCopy, Dst: dst, Args: []Operand{src}, Span: e.Pos()})
		return nil

	case *box.Unary:
		x, err := l.operand(e.X)
		if err != nil {
			return err
		}
		op := OpNeg
		if e.Op == box.OpNot {
			op = OpNot
		}
		l.emit(Instr{Op: op, Dst: dst, Args: []Operand{x}, Span: e.Span})
		return nil

	case *box.Binary:
		op, ok := binaryOps[e.Op]
		if !ok {
			return l.errorf(e.Span, "unknown operator %s", e.Op)
		}
		x, err := l.operand(e.X)
		if err != nil {
			return err
		}
		x = l.pin(x, e.X.Pos(), e.Y)
		y, err := l.operand(e.Y)
		if err != nil {
			return err
		}
		l.emit(Instr{Op: op, Dst: dst, Args: []Operand{x, y}, Span: e.Span})
		return nil

	case *box.Call:
		return l.call(e, dst)

	default:
		return l.errorf(expr.Pos(), "cannot lower %s as a value", expr)
	}
}

func (l *lowerer) call(e *box.Call, dst Operand) error {
	b := l.res.Binding(e.Ref)
	if b == nil || !b.Callable() {
		return l.errorf(e.Span, "call to '%s' was not resolved to a box or builtin", e.Name)
	}

	args := make([]Operand, 0, len(e.Args))
	for i, arg := range e.Args {
		op, err := l.operand(arg)
		if err != nil {
			return err
		}
		args = append(args, l.pin(op, arg.Pos(), e.Args[i+1:]...))
	}

	in := Instr{Op: OpBuiltin, Dst: dst, Args: args, Callee: b.Name, Span: e.Span}
	if b.Kind == box.BoxBinding {
		in.Op = OpCall
		in.Callee = QualifiedName(l.prog.Name, b.Name)
	}
	l.emit(in)
	return nil
}

// pin copies a global read into a temp when a box call among rest runs
// before the read is consumed. Boxes write globals, locals are per frame.
func (l *lowerer) pin(op Operand, span box.Span, rest ...box.Expr) Operand {
	if op.Kind != GlobalOperand {
		return op
	}
	for _, expr := range rest {
		if l.callsBox(expr) {
			t := l.newTemp()
			l.emit(Instr{Op: OpCopy, Dst: t, Args: []Operand{op}, Span: span})
			return t
		}
	}
	return op
}

func (l *lowerer) callsBox(expr box.Expr) bool {
	switch e := expr.(type) {
	case *box.Call:
		if b := l.res.Binding(e.Ref); b != nil && b.Kind == box.BoxBinding {
			return true
		}
		for _, arg := range e.Args {
			if l.callsBox(arg) {
				return true
			}
		}
	case *box.Unary:
		return l.callsBox(e.X)
	case *box.Binary:
		return l.callsBox(e.X) || l.callsBox(e.Y)
	}
	return false
}

func (l *lowerer) slot(ref box.RefID, span box.Span) (Operand, error) {
	b := l.res.Binding(ref)
	if b == nil {
		return Operand{}, l.errorf(span, "name was never resolved")
	}
	switch b.Kind {
	case box.VarBinding:
		slot, ok := l.locals[b.ID]
		if !ok {
			return Operand{}, l.errorf(span, "'%s' belongs to another box", b.Name)
		}
		return LocalSlot(slot), nil
	case box.ExportBinding:
		slot, ok := l.globals[b.ID]
		if !ok {
			return Operand{}, l.errorf(span, "export '%s' has no storage", b.Name)
		}
		return GlobalSlot(slot), nil
	default:
		return Operand{}, l.errorf(span, "%s '%s' used as a value", b.Kind, b.Name)
	}
}
