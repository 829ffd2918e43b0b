package runtime

import (
	"testing"

	"box/test"
)

func TestCompileErrors(t *testing.T) {
	tests := []test.TestCase{
		{
			Name:     "lex error",
			Script:   `box main do x = $ end end`,
			ExitCode: 1,
			Stderr:   "✗ LexError",
		},
		{
			Name:     "code outside a box",
			Script:   `x = 1`,
			ExitCode: 1,
			Stderr:   "✗ StructureError",
		},
		{
			Name: "block never closed",
			Script: `box main do
  print(1)`,
			ExitCode: 1,
			Stderr:   "✗ UnbalancedStructureError: 'do' block is never closed",
		},
		{
			Name:     "unbound name",
			Script:   `box main do print(y) end end`,
			ExitCode: 1,
			Stderr:   "✗ UnboundNameError: 'y' is not bound in this scope",
		},
		{
			Name: "private name of another box",
			Script: `box a do x = 1 end end
box main do print(a.x) end end`,
			ExitCode: 1,
			Stderr:   "✗ CrossBoxReferenceError",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.Name, func(t *testing.T) {
			test.RunBoxTest(t, testCase)
		})
	}
}

func TestRuntimeErrors(t *testing.T) {
	tests := []test.TestCase{
		{
			Name: "step limit",
			Script: `box main do
  print("before")
  loop 1
  end
end end`,
			Args:     []string{"-steps", "100"},
			ExitCode: 1,
			Stdout:   "before",
			Stderr:   "✗ step limit exceeded",
		},
		{
			Name:     "missing entry box",
			Script:   `box lib do x = 1 end end`,
			ExitCode: 1,
			Stderr:   "no such unit",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.Name, func(t *testing.T) {
			test.RunBoxTest(t, testCase)
		})
	}
}
