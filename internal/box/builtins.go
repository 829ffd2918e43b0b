package box

import "sort"

// BuiltinFunc computes a pure builtin over integer arguments.
type BuiltinFunc func(args []int64) int64

// Builtin describes a function every box can call without declaring it.
// Arity is -1 for variadic builtins. Fn is nil for builtins with effects,
// which each backend implements itself.
type Builtin struct {
	Name  string
	Arity int
	Fn    BuiltinFunc
}

// Accepts reports whether a call with n arguments matches the signature.
func (b *Builtin) Accepts(n int) bool {
	return b.Arity < 0 || b.Arity == n
}

// Builtin dispatch table
var builtins = map[string]*Builtin{
	"print": {Name: "print", Arity: -1},
	"abs":   {Name: "abs", Arity: 1, Fn: builtinAbs},
	"min":   {Name: "min", Arity: 2, Fn: builtinMin},
	"max":   {Name: "max", Arity: 2, Fn: builtinMax},
}

func LookupBuiltin(name string) (*Builtin, bool) {
	b, ok := builtins[name]
	return b, ok
}

// BuiltinNames lists the builtins in a stable order.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func builtinAbs(args []int64) int64 {
	if args[0] < 0 {
		return -args[0]
	}
	return args[0]
}

func builtinMin(args []int64) int64 {
	if args[0] < args[1] {
		return args[0]
	}
	return args[1]
}

func builtinMax(args []int64) int64 {
	if args[0] > args[1] {
		return args[0]
	}
	return args[1]
}
