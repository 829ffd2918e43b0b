package ir

import (
	"errors"
	"math"
	"strings"
	"testing"

	"box/internal/box"
)

func lower(t *testing.T, src string, opts ...Option) *Program {
	t.Helper()
	tree, err := box.NewParser(box.NewLexer(src, "test.box")).Parse()
	if err != nil {
		t.Fatalf("Unexpected parse error: %v", err)
	}
	res, err := box.Resolve(tree)
	if err != nil {
		t.Fatalf("Unexpected resolve error: %v", err)
	}
	prog, err := Lower(tree, res, opts...)
	if err != nil {
		t.Fatalf("Unexpected lowering error: %v", err)
	}
	return prog
}

func regionKinds(u *Unit) []RegionKind {
	kinds := make([]RegionKind, len(u.Regions))
	for i, r := range u.Regions {
		kinds[i] = r.Kind
	}
	return kinds
}

func TestLowerSequentialBlock(t *testing.T) {
	prog := lower(t, "box main do x = 1 print(x) end end")

	if len(prog.Units) != 1 {
		t.Fatalf("Expected 1 unit, got %d", len(prog.Units))
	}
	u := prog.Units[0]
	if u.Name != "unit.main" || u.Box != "main" {
		t.Errorf("Expected unit.main for box main, got %s for %s", u.Name, u.Box)
	}
	if len(u.Regions) != 1 {
		t.Fatalf("Expected 1 region, got %d", len(u.Regions))
	}

	r := u.Regions[0]
	if len(r.Instrs) != 2 {
		t.Fatalf("Expected 2 instructions, got %d", len(r.Instrs))
	}
	if got := FormatInstr(&r.Instrs[0]); got != "%l0 = copy 1" {
		t.Errorf("Expected the store first, got %q", got)
	}
	if got := FormatInstr(&r.Instrs[1]); got != "builtin print(%l0)" {
		t.Errorf("Expected the print second, got %q", got)
	}
	if r.Term.Kind != Return || r.Term.Value != Const(0) {
		t.Errorf("Expected ret 0, got %s", FormatTerminator(&r.Term))
	}
}

func TestLowerLoopBlock(t *testing.T) {
	prog := lower(t, `
box main do
  i = 0
  loop i < 3
    i = i + 1
  end
end end`)

	u := prog.Units[0]
	expected := []RegionKind{EntryRegion, LoopHeaderRegion, LoopBodyRegion, LoopExitRegion}
	got := regionKinds(u)
	if len(got) != len(expected) {
		t.Fatalf("Expected regions %v, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Region %d: expected %s, got %s", i, expected[i], got[i])
		}
	}

	entry, header, body, exit := u.Regions[0], u.Regions[1], u.Regions[2], u.Regions[3]
	if entry.Term.Kind != Jump || entry.Term.Then != header.ID {
		t.Errorf("Expected entry to jump to the header, got %s", FormatTerminator(&entry.Term))
	}
	if header.Term.Kind != Branch || header.Term.Then != body.ID || header.Term.Else != exit.ID {
		t.Errorf("Expected the header to branch to body or exit, got %s", FormatTerminator(&header.Term))
	}
	if body.Term.Kind != Jump || body.Term.Then != header.ID {
		t.Errorf("Expected a back-edge from body to header, got %s", FormatTerminator(&body.Term))
	}
	if exit.Term.Kind != Return {
		t.Errorf("Expected the exit to return, got %s", FormatTerminator(&exit.Term))
	}

	preds := u.Predecessors()
	if preds[header.ID] != 2 {
		t.Errorf("Expected the header to have 2 predecessors, got %d", preds[header.ID])
	}
	if preds[entry.ID] != 0 {
		t.Errorf("Expected the entry to have no predecessors, got %d", preds[entry.ID])
	}
}

func TestLowerConditionalBlock(t *testing.T) {
	prog := lower(t, `
box main do
  x = 1
  if x > 0
    print(1)
  else
    print(2)
  end
  print(3)
end end`)

	u := prog.Units[0]
	expected := []RegionKind{EntryRegion, ConditionRegion, TakenRegion, NotTakenRegion, JoinRegion}
	got := regionKinds(u)
	if len(got) != len(expected) {
		t.Fatalf("Expected regions %v, got %v", expected, got)
	}

	cond, taken, notTaken, join := u.Regions[1], u.Regions[2], u.Regions[3], u.Regions[4]
	if cond.Term.Kind != Branch || cond.Term.Then != taken.ID || cond.Term.Else != notTaken.ID {
		t.Errorf("Expected a branch to both arms, got %s", FormatTerminator(&cond.Term))
	}
	for _, arm := range []*Region{taken, notTaken} {
		if arm.Term.Kind != Jump || arm.Term.Then != join.ID {
			t.Errorf("Expected r%d to jump to the join, got %s", arm.ID, FormatTerminator(&arm.Term))
		}
	}
	if len(join.Instrs) != 1 || join.Instrs[0].Callee != "print" {
		t.Errorf("Expected the trailing print in the join region")
	}
}

func TestLowerCompoundExpressionsUseTemps(t *testing.T) {
	prog := lower(t, "box main do x = (1 + 2) * -3 end end")
	u := prog.Units[0]

	var lines []string
	for _, in := range u.Regions[0].Instrs {
		lines = append(lines, FormatInstr(&in))
	}
	expected := []string{"%t0 = add 1, 2", "%l0 = mul %t0, -3"}
	if strings.Join(lines, "; ") != strings.Join(expected, "; ") {
		t.Errorf("Expected %v, got %v", expected, lines)
	}
	if u.Temps != 1 {
		t.Errorf("Expected 1 temp, got %d", u.Temps)
	}
}

func TestLowerExportsAndCalls(t *testing.T) {
	prog := lower(t, `
box lib export v do
  v = 2
end end
box main do
  lib()
  x = lib.v + 1
end end`, WithUnitName("demo"))

	if prog.Name != "demo" {
		t.Errorf("Expected program demo, got %s", prog.Name)
	}
	if len(prog.Globals) != 1 || prog.Globals[0].Name != "lib.v" {
		t.Fatalf("Expected global lib.v, got %v", prog.Globals)
	}

	lib := prog.Unit("lib")
	if got := FormatInstr(&lib.Regions[0].Instrs[0]); got != "@g0 = copy 2" {
		t.Errorf("Expected the export to be stored in a global, got %q", got)
	}

	main := prog.Unit("demo.main")
	if main == nil {
		t.Fatal("Expected to find demo.main by its qualified name")
	}
	call := main.Regions[0].Instrs[0]
	if call.Op != OpCall || call.Callee != "demo.lib" || !call.Dst.IsNone() {
		t.Errorf("Expected a call to demo.lib with no result, got %q", FormatInstr(&call))
	}
	if got := FormatInstr(&main.Regions[0].Instrs[1]); got != "%l0 = add @g0, 1" {
		t.Errorf("Expected a read of the global, got %q", got)
	}
}

func TestLowerIsDeterministic(t *testing.T) {
	src := `
box main do
  n = 0
  loop n < 10
    if n % 2 == 0
      print("even", n)
    end
    n = n + 1
  end
end end
box other do main() end end`

	first := lower(t, src, WithSeed(100))
	second := lower(t, src, WithSeed(100))
	if Format(first) != Format(second) {
		t.Errorf("Expected identical output for the same seed:\n%s\n---\n%s", Format(first), Format(second))
	}

	if first.Units[0].ID != 100 || first.Units[0].Entry != 100 {
		t.Errorf("Expected numbering to start at the seed, got unit %d entry r%d", first.Units[0].ID, first.Units[0].Entry)
	}
	if first.Units[1].ID != 101 {
		t.Errorf("Expected the second unit to be 101, got %d", first.Units[1].ID)
	}

	shifted := lower(t, src, WithSeed(0))
	if Format(shifted) == Format(first) {
		t.Errorf("Expected a different seed to renumber the program")
	}
}

func TestLowerCorpusVerifies(t *testing.T) {
	corpus := []string{
		"box main end",
		"box main do end end",
		"box main do do do end end end end",
		"box main do loop 0 end end end",
		"box main do if 1 end end end",
		"box main do if 1 else end end end",
		"box main do loop 1 if 1 loop 0 end else do x = 1 end end end end end",
		"box a export n do n = n + 1 end end box main do a() a() print(a.n) end end",
		`box main do print("a", 1, "b", -2) print() end end`,
		"box main do x = abs(-4) + min(1, 2) * max(3, 4) ** 2 end end",
		"box main do x = !(1 < 2) | 3 ^ 4 & 5 << 1 >> 1 end end",
		"box main do let y = 1; do let y = y + 1 print(y) end print(y) end end",
		"box r do r() end end",
	}

	for _, src := range corpus {
		t.Run(src, func(t *testing.T) {
			prog := lower(t, src)
			if err := Verify(prog); err != nil {
				t.Errorf("Expected a valid program, got %v", err)
			}
		})
	}
}

func TestLowerRejectsUnresolvedTree(t *testing.T) {
	tree, err := box.NewParser(box.NewLexer("box main do x = 1 end end", "test.box")).Parse()
	if err != nil {
		t.Fatal(err)
	}
	res := &box.Resolution{Refs: make([]box.BindingID, tree.NumRefs)}
	for i := range res.Refs {
		res.Refs[i] = box.NoBinding
	}

	_, err = Lower(tree, res)
	if !errors.Is(err, box.ErrLowering) {
		t.Fatalf("Expected a LoweringError, got %v", err)
	}
}

func TestVerifyCatchesDefects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Program)
	}{
		{"unterminated region", func(p *Program) { p.Units[0].Regions[0].Term = Terminator{} }},
		{"edge out of unit", func(p *Program) { p.Units[0].Regions[0].Term = Terminator{Kind: Jump, Then: 99} }},
		{"local out of range", func(p *Program) { p.Units[0].Regions[0].Instrs[0].Dst = LocalSlot(5) }},
		{"text outside print", func(p *Program) { p.Units[0].Regions[0].Instrs[0].Args[0] = Text("x") }},
		{"unknown callee", func(p *Program) {
			r := p.Units[0].Regions[0]
			r.Instrs = append(r.Instrs, Instr{Op: OpCall, Callee: "nowhere"})
		}},
		{"entry has predecessor", func(p *Program) {
			u := p.Units[0]
			u.Regions[0].Term = Terminator{Kind: Jump, Then: u.Entry}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog := lower(t, "box main do x = 1 end end")
			tt.mutate(prog)
			if err := Verify(prog); !errors.Is(err, box.ErrLowering) {
				t.Errorf("Expected a LoweringError, got %v", err)
			}
		})
	}
}

func TestLowerKeepsReadsBeforeBoxCalls(t *testing.T) {
	prog := lower(t, `box counter export n do n = n + 1 end end
box main do
  print(counter.n, counter(), counter.n)
  x = counter.n + counter()
  y = counter.n + abs(1)
end end`)

	got := Format(prog)
	for _, want := range []string{
		"%t0 = copy @g0",
		"%t1 = call unit.counter()",
		"builtin print(%t0, %t1, @g0)",
		"%t2 = copy @g0",
		"%t3 = call unit.counter()",
		"%l0 = add %t2, %t3",
		"%l1 = add @g0, %t4",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected %q in:\n%s", want, got)
		}
	}
}

func TestLowerSeedNearLimit(t *testing.T) {
	src := "box a do x = 1 end end box b do loop 0 end end end"
	prog := lower(t, src, WithSeed(math.MaxInt32-2))

	last := prog.Units[len(prog.Units)-1]
	if last.ID != math.MaxInt32-1 {
		t.Errorf("Expected unit id %d, got %d", math.MaxInt32-1, last.ID)
	}
	if r := last.Regions[len(last.Regions)-1]; r.ID <= math.MaxInt32 {
		t.Errorf("Expected region ids past the int32 range, got r%d", r.ID)
	}
}
