package box

import (
	"errors"
	"fmt"
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

type BindingID int32

const NoBinding BindingID = -1

type BindingKind int

const (
	VarBinding     BindingKind = iota // block-local variable
	ExportBinding                     // box-level name listed in the export header
	BoxBinding                        // callable box
	BuiltinBinding                    // callable builtin
)

func (k BindingKind) String() string {
	switch k {
	case VarBinding:
		return "var"
	case ExportBinding:
		return "export"
	case BoxBinding:
		return "box"
	case BuiltinBinding:
		return "builtin"
	default:
		return "unknown"
	}
}

type Binding struct {
	ID    BindingID
	Name  string
	Kind  BindingKind
	Box   NodeID // owning box; the box itself for BoxBinding, NoNode for builtins
	Scope ScopeID
	Decl  Span
}

// Callable reports whether the binding names a box or builtin.
func (b *Binding) Callable() bool {
	return b.Kind == BoxBinding || b.Kind == BuiltinBinding
}

// Resolution annotates a Tree without changing it. Refs is indexed by RefID;
// every name occurrence of a resolved tree maps to exactly one binding.
type Resolution struct {
	Bindings []Binding
	Refs     []BindingID
	Scopes   []*Scope
	Universe *Scope

	// NodeScopes maps boxes and blocks to the scope they open. ArmScopes maps
	// a conditional block to the scope of its else arm.
	NodeScopes map[NodeID]ScopeID
	ArmScopes  map[NodeID]ScopeID
}

// Binding returns the binding of a name occurrence, or nil when the
// occurrence was never resolved.
func (r *Resolution) Binding(ref RefID) *Binding {
	if int(ref) < 0 || int(ref) >= len(r.Refs) {
		return nil
	}
	id := r.Refs[ref]
	if id == NoBinding {
		return nil
	}
	return &r.Bindings[id]
}

// ScopeOf returns the scope opened by a box or block node.
func (r *Resolution) ScopeOf(node NodeID) *Scope {
	id, ok := r.NodeScopes[node]
	if !ok {
		return nil
	}
	return r.Scopes[id]
}

// Exports lists the export bindings of a box in header order.
func (r *Resolution) Exports(box NodeID) []*Binding {
	var out []*Binding
	for i := range r.Bindings {
		if b := &r.Bindings[i]; b.Kind == ExportBinding && b.Box == box {
			out = append(out, b)
		}
	}
	return out
}

// Locals lists the block-local bindings of a box in declaration order.
func (r *Resolution) Locals(box NodeID) []*Binding {
	var out []*Binding
	for i := range r.Bindings {
		if b := &r.Bindings[i]; b.Kind == VarBinding && b.Box == box {
			out = append(out, b)
		}
	}
	return out
}

// pendingRef is a qualified reference into a box whose body has not been
// visited yet.
type pendingRef struct {
	expr *Qualified
	from NodeID
}

type Resolver struct {
	tree *Tree
	res  *Resolution

	boxes   map[string]NodeID
	exports map[NodeID]map[string]BindingID
	private map[NodeID]map[string]BindingID
	visited map[NodeID]bool
	pending []pendingRef

	box NodeID // box being visited
}

// Resolve runs name resolution over a parsed tree. It returns the first
// unbound or cross-box reference it finds.
func Resolve(tree *Tree) (*Resolution, error) {
	r := &Resolver{
		tree: tree,
		res: &Resolution{
			Refs:       make([]BindingID, tree.NumRefs),
			NodeScopes: make(map[NodeID]ScopeID),
			ArmScopes:  make(map[NodeID]ScopeID),
		},
		boxes:   make(map[string]NodeID),
		exports: make(map[NodeID]map[string]BindingID),
		private: make(map[NodeID]map[string]BindingID),
		visited: make(map[NodeID]bool),
		box:     NoNode,
	}
	for i := range r.res.Refs {
		r.res.Refs[i] = NoBinding
	}
	return r.run()
}

func (r *Resolver) run() (*Resolution, error) {
	universe := r.openScope(UniverseScope, NoNode, nil)
	r.res.Universe = universe

	for _, name := range BuiltinNames() {
		id := r.bind(name, BuiltinBinding, NoNode, universe, Span{})
		universe.declareFunc(name, id)
	}

	// Box names and export headers are visible before any body is visited,
	// so boxes may call and reference each other regardless of order.
	boxScopes := make(map[NodeID]*Scope, len(r.tree.Boxes))
	for _, boxID := range r.tree.Boxes {
		node := r.tree.Node(boxID)
		r.boxes[node.Name] = boxID
		id := r.bind(node.Name, BoxBinding, boxID, universe, node.Span)
		universe.declareFunc(node.Name, id)

		scope := r.openScope(BoxScope, boxID, universe)
		boxScopes[boxID] = scope
		r.exports[boxID] = make(map[string]BindingID)
		r.private[boxID] = make(map[string]BindingID)
		for _, export := range node.Exports {
			id := r.bind(export.Name, ExportBinding, boxID, scope, export.Span)
			scope.Declare(export.Name, id)
			r.exports[boxID][export.Name] = id
		}
	}

	for _, boxID := range r.tree.Boxes {
		r.box = boxID
		scope := boxScopes[boxID]
		for _, child := range r.tree.Node(boxID).Children {
			if err := r.resolveBlock(child, scope); err != nil {
				return nil, r.earliest(err)
			}
		}
		scope.Close()
		r.visited[boxID] = true
	}
	universe.Close()

	for _, p := range r.pending {
		if err := r.checkPrivate(p.expr, p.from); err != nil {
			return nil, err
		}
	}

	return r.res, nil
}

// earliest picks between err and the first deferred cross-box check, which
// always fails and may sit earlier in the source.
func (r *Resolver) earliest(err error) error {
	if len(r.pending) == 0 {
		return err
	}
	first := r.pending[0]
	var boxErr *BoxError
	if errors.As(err, &boxErr) && boxErr.Span.Start.Offset < first.expr.Span.Start.Offset {
		return err
	}
	return r.checkPrivate(first.expr, first.from)
}

func (r *Resolver) openScope(kind ScopeKind, node NodeID, parent *Scope) *Scope {
	scope := newScope(ScopeID(len(r.res.Scopes)), kind, node, parent)
	r.res.Scopes = append(r.res.Scopes, scope)
	switch kind {
	case BoxScope, BlockScope:
		r.res.NodeScopes[node] = scope.ID
	case ArmScope:
		r.res.ArmScopes[node] = scope.ID
	}
	return scope
}

func (r *Resolver) bind(name string, kind BindingKind, box NodeID, scope *Scope, decl Span) BindingID {
	id := BindingID(len(r.res.Bindings))
	r.res.Bindings = append(r.res.Bindings, Binding{
		ID:    id,
		Name:  name,
		Kind:  kind,
		Box:   box,
		Scope: scope.ID,
		Decl:  decl,
	})
	return id
}

func (r *Resolver) declareVar(name string, scope *Scope, decl Span) BindingID {
	id := r.bind(name, VarBinding, r.box, scope, decl)
	scope.Declare(name, id)
	if _, seen := r.private[r.box][name]; !seen {
		r.private[r.box][name] = id
	}
	return id
}

func (r *Resolver) resolveBlock(id NodeID, parent *Scope) error {
	node := r.tree.Node(id)

	if node.Cond != nil {
		if err := r.resolveExpr(node.Cond, parent); err != nil {
			return err
		}
	}

	scope := r.openScope(BlockScope, id, parent)
	if err := r.resolveBody(node.Children, scope); err != nil {
		return err
	}
	scope.Close()

	if node.HasElse {
		arm := r.openScope(ArmScope, id, parent)
		if err := r.resolveBody(node.Else, arm); err != nil {
			return err
		}
		arm.Close()
	}
	return nil
}

func (r *Resolver) resolveBody(children []NodeID, scope *Scope) error {
	for _, child := range children {
		node := r.tree.Node(child)
		var err error
		if node.Kind == BlockNode {
			err = r.resolveBlock(child, scope)
		} else {
			err = r.resolveExpr(node.Expr, scope)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) resolveExpr(expr Expr, scope *Scope) error {
	switch e := expr.(type) {
	case *IntLit, *TextLit:
		return nil

	case *Ident:
		return r.resolveIdent(e, scope)

	case *Qualified:
		return r.resolveQualified(e)

	case *Unary:
		return r.resolveExpr(e.X, scope)

	case *Binary:
		if err := r.resolveExpr(e.X, scope); err != nil {
			return err
		}
		return r.resolveExpr(e.Y, scope)

	case *Call:
		return r.resolveCall(e, scope)

	case *Assign:
		// The value sees the bindings in effect before the assignment.
		if err := r.resolveExpr(e.Value, scope); err != nil {
			return err
		}
		switch target := e.Target.(type) {
		case *Ident:
			if e.Declare {
				r.res.Refs[target.Ref] = r.declareVar(target.Name, scope, target.Span)
				return nil
			}
			if id, _, ok := scope.Lookup(target.Name); ok {
				r.res.Refs[target.Ref] = id
				return nil
			}
			if _, ok := scope.LookupFunc(target.Name); ok {
				return r.unbound(target.Span, "cannot assign to '%s'", target.Name)
			}
			r.res.Refs[target.Ref] = r.declareVar(target.Name, scope, target.Span)
			return nil
		case *Qualified:
			return r.resolveQualified(target)
		}
		return newError(StructureError, e.Span, "cannot assign to %s", e.Target)

	default:
		return newError(StructureError, expr.Pos(), "unexpected expression %s", expr)
	}
}

func (r *Resolver) resolveIdent(e *Ident, scope *Scope) error {
	if id, _, ok := scope.Lookup(e.Name); ok {
		r.res.Refs[e.Ref] = id
		return nil
	}

	if id, ok := scope.LookupFunc(e.Name); ok {
		b := &r.res.Bindings[id]
		err := newError(UnboundNameError, e.Span, "'%s' is a %s, not a value", e.Name, b.Kind)
		err.Help = fmt.Sprintf("call it as %s(...)", e.Name)
		return err
	}

	err := newError(UnboundNameError, e.Span, "'%s' is not bound in this scope", e.Name)
	if owner, exported, ok := r.ownerOf(e.Name); ok {
		if exported {
			err.Help = fmt.Sprintf("'%s' belongs to box '%s', refer to it as '%s.%s'", e.Name, owner, owner, e.Name)
		} else {
			err.Help = fmt.Sprintf("'%s' is private to box '%s'", e.Name, owner)
		}
	} else if guess := closestMatch(e.Name, scope.Names()); guess != "" {
		err.Help = fmt.Sprintf("did you mean '%s'?", guess)
	}
	return err
}

// ownerOf finds another box that exports or declares name.
func (r *Resolver) ownerOf(name string) (string, bool, bool) {
	for _, boxID := range r.tree.Boxes {
		if boxID == r.box {
			continue
		}
		owner := r.tree.Node(boxID).Name
		if _, ok := r.exports[boxID][name]; ok {
			return owner, true, true
		}
		if r.declares(boxID, name) {
			return owner, false, true
		}
	}
	return "", false, false
}

// declares reports whether box binds name in one of its blocks. Boxes not
// visited yet are searched in the tree.
func (r *Resolver) declares(boxID NodeID, name string) bool {
	if _, ok := r.private[boxID][name]; ok {
		return true
	}
	if r.visited[boxID] {
		return false
	}
	for id := range r.tree.Nodes {
		node := &r.tree.Nodes[id]
		if node.Kind != ExprNode || r.tree.BoxOf(NodeID(id)) != boxID {
			continue
		}
		if assign, ok := node.Expr.(*Assign); ok {
			if target, ok := assign.Target.(*Ident); ok && target.Name == name {
				return true
			}
		}
	}
	return false
}

func (r *Resolver) resolveQualified(e *Qualified) error {
	target, ok := r.boxes[e.Box]
	if !ok {
		err := newError(UnboundNameError, e.Span, "no box named '%s'", e.Box)
		if guess := closestMatch(e.Box, r.boxNames()); guess != "" {
			err.Help = fmt.Sprintf("did you mean '%s.%s'?", guess, e.Name)
		}
		return err
	}

	if id, ok := r.exports[target][e.Name]; ok {
		r.res.Refs[e.Ref] = id
		return nil
	}

	if target == r.box {
		err := newError(UnboundNameError, e.Span, "box '%s' does not export '%s'", e.Box, e.Name)
		err.Help = fmt.Sprintf("inside box '%s' refer to it as '%s'", e.Box, e.Name)
		return err
	}

	if !r.visited[target] {
		r.pending = append(r.pending, pendingRef{expr: e, from: r.box})
		return nil
	}
	return r.checkPrivate(e, r.box)
}

// checkPrivate classifies a qualified reference to a name the target box
// does not export.
func (r *Resolver) checkPrivate(e *Qualified, from NodeID) error {
	target := r.boxes[e.Box]
	if r.declares(target, e.Name) {
		err := newError(CrossBoxReferenceError, e.Span,
			"'%s' is private to box '%s' and cannot be used from box '%s'",
			e.Name, e.Box, r.tree.Node(from).Name)
		err.Help = fmt.Sprintf("add 'export %s' to box '%s'", e.Name, e.Box)
		if id, ok := r.private[target][e.Name]; ok {
			err.Help += fmt.Sprintf(" (declared at %s)", r.res.Bindings[id].Decl)
		}
		return err
	}

	err := newError(UnboundNameError, e.Span, "box '%s' has no binding named '%s'", e.Box, e.Name)
	var names []string
	for name := range r.exports[target] {
		names = append(names, name)
	}
	sort.Strings(names)
	if guess := closestMatch(e.Name, names); guess != "" {
		err.Help = fmt.Sprintf("did you mean '%s.%s'?", e.Box, guess)
	}
	return err
}

func (r *Resolver) resolveCall(e *Call, scope *Scope) error {
	for _, arg := range e.Args {
		if err := r.resolveExpr(arg, scope); err != nil {
			return err
		}
	}

	id, ok := scope.LookupFunc(e.Name)
	if !ok {
		err := newError(UnboundNameError, e.Span, "no box or builtin named '%s'", e.Name)
		candidates := append(r.boxNames(), BuiltinNames()...)
		if guess := closestMatch(e.Name, candidates); guess != "" {
			err.Help = fmt.Sprintf("did you mean '%s'?", guess)
		}
		return err
	}

	b := &r.res.Bindings[id]
	switch b.Kind {
	case BuiltinBinding:
		builtin, _ := LookupBuiltin(e.Name)
		if !builtin.Accepts(len(e.Args)) {
			return r.unbound(e.Span, "builtin '%s' takes %d argument(s), got %d", e.Name, builtin.Arity, len(e.Args))
		}
	case BoxBinding:
		if len(e.Args) != 0 {
			return r.unbound(e.Span, "box '%s' takes no arguments, got %d", e.Name, len(e.Args))
		}
	}

	r.res.Refs[e.Ref] = id
	return nil
}

func (r *Resolver) unbound(span Span, format string, args ...any) error {
	return newError(UnboundNameError, span, format, args...)
}

func (r *Resolver) boxNames() []string {
	names := make([]string, 0, len(r.boxes))
	for name := range r.boxes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// closestMatch picks the best fuzzy candidate for a misspelled name. Both
// directions are tried so that dropped and extra letters are caught.
func closestMatch(name string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}

	ranks := fuzzy.RankFindFold(name, candidates)
	if len(ranks) > 0 {
		sort.Sort(ranks)
		return ranks[0].Target
	}

	for _, candidate := range candidates {
		if len(candidate) > 1 && fuzzy.MatchFold(candidate, name) {
			return candidate
		}
	}
	return ""
}
