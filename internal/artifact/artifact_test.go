package artifact

import (
	"bytes"
	"errors"
	"testing"

	"github.com/klauspost/compress/zstd"

	"box/internal/box"
	"box/internal/ir"
)

const source = `
box counter export n do
  n = n + 1
end end
box main do
  counter()
  loop counter.n < 3
    counter()
  end
  print("n", counter.n)
end end`

func lower(t *testing.T) *ir.Program {
	t.Helper()
	tree, err := box.NewParser(box.NewLexer(source, "test.box")).Parse()
	if err != nil {
		t.Fatal(err)
	}
	res, err := box.Resolve(tree)
	if err != nil {
		t.Fatal(err)
	}
	prog, err := ir.Lower(tree, res, ir.WithUnitName("demo"))
	if err != nil {
		t.Fatal(err)
	}
	return prog
}

func TestWriteRead(t *testing.T) {
	prog := lower(t)

	var buf bytes.Buffer
	if err := Write(&buf, prog); err != nil {
		t.Fatalf("Unexpected write error: %v", err)
	}
	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Unexpected read error: %v", err)
	}

	if ir.Format(got) != ir.Format(prog) {
		t.Errorf("Expected the program to survive a round trip:\n%s\n---\n%s", ir.Format(prog), ir.Format(got))
	}

	var out bytes.Buffer
	result := ir.NewEvaluator(got, &out).Run("main")
	if result.Error != nil {
		t.Fatalf("Unexpected run error: %v", result.Error)
	}
	if out.String() != "n 3\n" {
		t.Errorf("Expected %q, got %q", "n 3\n", out.String())
	}
}

func TestSinkMatchesWrite(t *testing.T) {
	prog := lower(t)

	var buf bytes.Buffer
	if err := ir.Emit(prog, NewSink(prog.Name), &buf); err != nil {
		t.Fatalf("Unexpected emit error: %v", err)
	}
	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Unexpected read error: %v", err)
	}
	if ir.Format(got) != ir.Format(prog) {
		t.Errorf("Expected the sink to rebuild the same program")
	}
}

func TestReadRejects(t *testing.T) {
	compress := func(payload string) *bytes.Buffer {
		var buf bytes.Buffer
		enc, _ := zstd.NewWriter(&buf)
		enc.Write([]byte(payload))
		enc.Close()
		return &buf
	}

	tests := []struct {
		name  string
		input *bytes.Buffer
		err   error
	}{
		{"not compressed", bytes.NewBufferString("hello"), ErrFormat},
		{"not json", compress("hello"), ErrFormat},
		{"wrong magic", compress(`{"magic":"nope","version":1,"program":{}}`), ErrFormat},
		{"wrong version", compress(`{"magic":"boxir","version":99,"program":{}}`), ErrFormat},
		{"broken program", compress(`{"magic":"boxir","version":1,"program":{"units":[{"name":"u.m","regions":[]}]}}`), box.ErrLowering},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Read(tt.input); !errors.Is(err, tt.err) {
				t.Errorf("Expected %v, got %v", tt.err, err)
			}
		})
	}
}
