package box

import (
	"strings"
	"testing"
)

func TestDrawTree(t *testing.T) {
	tree := mustParse(t, `
box main export n do
  if n > 1
    print("big", n)
  else
    let m = -n
  end
end end`)

	out := DrawTree(tree)
	for _, want := range []string{"test.box", "box main export n", "if (n > 1)", "print()", `"big"`, "else", "let"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected drawing to contain %q, got:\n%s", want, out)
		}
	}
}
