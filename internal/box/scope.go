package box

import "sort"

type ScopeID int32

type ScopeKind int

const (
	UniverseScope ScopeKind = iota
	BoxScope
	BlockScope
	ArmScope // the else arm of an if block
)

func (k ScopeKind) String() string {
	switch k {
	case UniverseScope:
		return "universe"
	case BoxScope:
		return "box"
	case BlockScope:
		return "block"
	case ArmScope:
		return "arm"
	default:
		return "unknown"
	}
}

// Scope maps names to bindings. Parent is a non-owning back reference; every
// scope is owned by the Resolution that created it. Functions (boxes and
// builtins) live in their own namespace, which only the universe uses.
type Scope struct {
	ID     ScopeID
	Kind   ScopeKind
	Node   NodeID
	Parent *Scope

	vars   map[string]BindingID
	funcs  map[string]BindingID
	closed bool
}

func newScope(id ScopeID, kind ScopeKind, node NodeID, parent *Scope) *Scope {
	return &Scope{
		ID:     id,
		Kind:   kind,
		Node:   node,
		Parent: parent,
		vars:   make(map[string]BindingID),
		funcs:  make(map[string]BindingID),
	}
}

// Lookup walks outward until name is found as a variable.
func (s *Scope) Lookup(name string) (BindingID, *Scope, bool) {
	for cur := s; cur != nil; cur = cur.Parent {
		if id, ok := cur.vars[name]; ok {
			return id, cur, true
		}
	}
	return NoBinding, nil, false
}

// LookupLocal only consults s itself.
func (s *Scope) LookupLocal(name string) (BindingID, bool) {
	id, ok := s.vars[name]
	return id, ok
}

// LookupFunc walks outward through the function namespace.
func (s *Scope) LookupFunc(name string) (BindingID, bool) {
	for cur := s; cur != nil; cur = cur.Parent {
		if id, ok := cur.funcs[name]; ok {
			return id, true
		}
	}
	return NoBinding, false
}

// Declare binds name in s, shadowing any outer binding and replacing an
// earlier one in s. It reports false once the scope is closed.
func (s *Scope) Declare(name string, id BindingID) bool {
	if s.closed {
		return false
	}
	s.vars[name] = id
	return true
}

func (s *Scope) declareFunc(name string, id BindingID) bool {
	if s.closed {
		return false
	}
	s.funcs[name] = id
	return true
}

// Close makes the scope read-only.
func (s *Scope) Close() {
	s.closed = true
}

func (s *Scope) Closed() bool {
	return s.closed
}

// Names lists the variable names visible from s, nearest scope first, each
// name once.
func (s *Scope) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for cur := s; cur != nil; cur = cur.Parent {
		local := make([]string, 0, len(cur.vars))
		for name := range cur.vars {
			if !seen[name] {
				seen[name] = true
				local = append(local, name)
			}
		}
		sort.Strings(local)
		names = append(names, local...)
	}
	return names
}
