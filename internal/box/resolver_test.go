package box

import (
	"errors"
	"strings"
	"testing"
)

func resolve(t *testing.T, input string) (*Tree, *Resolution, error) {
	t.Helper()
	tree := mustParse(t, input)
	res, err := Resolve(tree)
	return tree, res, err
}

// bindingsOf collects the binding of every Ident and Qualified occurrence in
// source order.
func bindingsOf(tree *Tree, res *Resolution) []*Binding {
	var out []*Binding
	var visit func(e Expr)
	visit = func(e Expr) {
		switch x := e.(type) {
		case *Ident:
			out = append(out, res.Binding(x.Ref))
		case *Qualified:
			out = append(out, res.Binding(x.Ref))
		case *Unary:
			visit(x.X)
		case *Binary:
			visit(x.X)
			visit(x.Y)
		case *Call:
			for _, a := range x.Args {
				visit(a)
			}
		case *Assign:
			visit(x.Value)
			visit(x.Target)
		}
	}
	tree.Walk(func(id NodeID, n *Node) bool {
		if n.Cond != nil {
			visit(n.Cond)
		}
		if n.Expr != nil {
			visit(n.Expr)
		}
		return true
	})
	return out
}

func TestResolverBindsEveryName(t *testing.T) {
	tree, res, err := resolve(t, `
box main do
  x = 1
  loop x < 10
    x = x * 2
  end
  print(x, other.total)
end end

box other export total do
  total = 5
end end`)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for i, b := range bindingsOf(tree, res) {
		if b == nil {
			t.Fatalf("Occurrence %d has no binding", i)
		}
	}
	for ref, id := range res.Refs {
		if id == NoBinding {
			t.Errorf("Ref %d was never resolved", ref)
		}
	}

	locals := res.Locals(tree.Boxes[0])
	if len(locals) != 1 || locals[0].Name != "x" {
		t.Errorf("Expected one local x in main, got %d", len(locals))
	}
	exports := res.Exports(tree.Boxes[1])
	if len(exports) != 1 || exports[0].Name != "total" {
		t.Errorf("Expected export total, got %d exports", len(exports))
	}
}

func TestResolverShadowing(t *testing.T) {
	tree, res, err := resolve(t, `
box main do
  x = 1
  do
    let x = 2
    print(x)
  end
  print(x)
end end`)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// x = 1, let x = 2, print(x), print(x)
	b := bindingsOf(tree, res)
	if len(b) != 4 {
		t.Fatalf("Expected 4 occurrences, got %d", len(b))
	}
	if b[0].ID == b[1].ID {
		t.Errorf("Expected let to introduce a new binding")
	}
	if b[2].ID != b[1].ID {
		t.Errorf("Expected the inner print to see the inner x")
	}
	if b[3].ID != b[0].ID {
		t.Errorf("Expected the outer print to see the outer x")
	}
	if len(res.Locals(tree.Boxes[0])) != 2 {
		t.Errorf("Expected 2 locals, got %d", len(res.Locals(tree.Boxes[0])))
	}
}

func TestResolverAssignmentReachesOuterBinding(t *testing.T) {
	tree, res, err := resolve(t, `
box main do
  n = 0
  loop n < 3
    n = n + 1
  end
end end`)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for i, b := range bindingsOf(tree, res) {
		if b.Name != "n" || b.Kind != VarBinding {
			t.Fatalf("Occurrence %d: expected var n, got %s %s", i, b.Kind, b.Name)
		}
		if b.ID != res.Locals(tree.Boxes[0])[0].ID {
			t.Errorf("Occurrence %d bound to a different n", i)
		}
	}
}

func TestResolverElseArmIsSeparate(t *testing.T) {
	_, _, err := resolve(t, `
box main do
  if 1
    y = 1
  else
    print(y)
  end
end end`)
	if !errors.Is(err, ErrUnbound) {
		t.Fatalf("Expected y to be unbound in the else arm, got %v", err)
	}
}

func TestResolverCrossBox(t *testing.T) {
	tests := []struct {
		name  string
		input string
		err   error
		help  string
	}{
		{
			name: "exported name",
			input: `box a export v do v = 1 end end
box b do print(a.v) end end`,
		},
		{
			name: "export referenced before its box",
			input: `box b do print(a.v) end end
box a export v do v = 1 end end`,
		},
		{
			name: "private name",
			input: `box a do secret = 1 end end
box b do print(a.secret) end end`,
			err:  ErrCrossBox,
			help: "add 'export secret' to box 'a'",
		},
		{
			name: "private name of a later box",
			input: `box b do print(a.secret) end end
box a do secret = 1 end end`,
			err:  ErrCrossBox,
			help: "add 'export secret'",
		},
		{
			name: "unqualified name of another box",
			input: `box a export v do v = 1 end end
box b do print(v) end end`,
			err:  ErrUnbound,
			help: "refer to it as 'a.v'",
		},
		{
			name: "deferred check reported before a later error",
			input: `box a do print(b.secret) end end
box b do secret = 1 print(zz) end end`,
			err:  ErrCrossBox,
			help: "add 'export secret' to box 'b'",
		},
		{
			name:  "missing name in box",
			input: `box a export total do total = 1 end end box b do print(a.totl) end end`,
			err:   ErrUnbound,
			help:  "did you mean 'a.total'?",
		},
		{
			name:  "unknown box",
			input: `box alpha do end end box b do print(alpah.v) end end`,
			err:   ErrUnbound,
		},
		{
			name:  "own private name qualified",
			input: `box a do x = 1 print(a.x) end end`,
			err:   ErrUnbound,
			help:  "refer to it as 'x'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := resolve(t, tt.input)
			if tt.err == nil {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.err) {
				t.Fatalf("Expected %v, got %v", tt.err, err)
			}
			var boxErr *BoxError
			errors.As(err, &boxErr)
			if !strings.Contains(boxErr.Help, tt.help) {
				t.Errorf("Expected help to contain %q, got %q", tt.help, boxErr.Help)
			}
		})
	}
}

func TestResolverUnbound(t *testing.T) {
	tests := []struct {
		name  string
		input string
		help  string
	}{
		{"unknown variable", "box main do print(y) end end", ""},
		{"misspelled variable", "box main do count = 1 print(cont) end end", "did you mean 'count'?"},
		{"use before assignment", "box main do x = x + 1 end end", ""},
		{"unknown function", "box main do prnt(1) end end", "did you mean 'print'?"},
		{"box used as value", "box helper do end end box main do x = helper end end", "call it as helper(...)"},
		{"assign to builtin", "box main do abs = 1 end end", ""},
		{"builtin arity", "box main do x = abs(1, 2) end end", ""},
		{"box call with arguments", "box h do end end box main do h(1) end end", ""},
		{"let is scoped to its block", "box main do do let t = 1 end print(t) end end", ""},
		{"private name of an earlier box", "box a do y = 1 end end box b do print(y) end end", "'y' is private to box 'a'"},
		{"private name of a later box", "box b do print(y) end end box a do y = 1 end end", "'y' is private to box 'a'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := resolve(t, tt.input)
			if !errors.Is(err, ErrUnbound) {
				t.Fatalf("Expected UnboundNameError, got %v", err)
			}
			var boxErr *BoxError
			errors.As(err, &boxErr)
			if tt.help != "" && boxErr.Help != tt.help {
				t.Errorf("Expected help %q, got %q", tt.help, boxErr.Help)
			}
		})
	}
}

func TestResolverCallsAnyBoxInUnit(t *testing.T) {
	tree, res, err := resolve(t, `
box main do
  helper()
  x = max(abs(-2), 1)
end end
box helper do print("hi") end end`)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var calls []*Binding
	tree.Walk(func(id NodeID, n *Node) bool {
		if c, ok := n.Expr.(*Call); ok {
			calls = append(calls, res.Binding(c.Ref))
		}
		return true
	})
	if len(calls) != 2 {
		t.Fatalf("Expected 2 statement calls, got %d", len(calls))
	}
	if calls[0].Kind != BoxBinding || calls[0].Box != tree.Boxes[1] {
		t.Errorf("Expected helper() to bind the helper box, got %s", calls[0].Kind)
	}
}

func TestResolverScopes(t *testing.T) {
	tree, res, err := resolve(t, `
box main do
  if 1
    a = 1
  else
    b = 2
  end
end end`)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	boxScope := res.ScopeOf(tree.Boxes[0])
	if boxScope == nil || boxScope.Kind != BoxScope || boxScope.Parent != res.Universe {
		t.Fatal("Expected the box scope to hang off the universe")
	}
	for _, s := range res.Scopes {
		if !s.Closed() {
			t.Errorf("Expected scope %d (%s) to be closed after resolution", s.ID, s.Kind)
		}
	}

	ifID := tree.Node(tree.Node(tree.Boxes[0]).Children[0]).Children[0]
	arm, ok := res.ArmScopes[ifID]
	if !ok {
		t.Fatal("Expected an else-arm scope")
	}
	if _, ok := res.Scopes[arm].LookupLocal("b"); !ok {
		t.Errorf("Expected b in the else-arm scope")
	}
	if _, ok := res.ScopeOf(ifID).LookupLocal("a"); !ok {
		t.Errorf("Expected a in the taken-arm scope")
	}
}

func TestResolverReportsInSourceOrder(t *testing.T) {
	_, _, err := resolve(t, `box a do print(b.secret) end end
box b do print(zz) end end`)

	var boxErr *BoxError
	if !errors.As(err, &boxErr) {
		t.Fatalf("Expected *BoxError, got %v", err)
	}
	if boxErr.Span.Start.Line != 1 || !strings.Contains(boxErr.Message, "secret") {
		t.Errorf("Expected the reference to b.secret on line 1, got %v", err)
	}
}
