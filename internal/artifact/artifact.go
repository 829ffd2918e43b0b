// Package artifact stores lowered programs as zstd-compressed JSON so a later
// invocation can run or re-emit them without the source.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"box/internal/ir"
)

const (
	Extension = ".boxir.zst"
	Magic     = "boxir"
	Version   = 1
)

var ErrFormat = errors.New("not a boxir artifact")

type envelope struct {
	Magic   string      `json:"magic"`
	Version int         `json:"version"`
	Program *ir.Program `json:"program"`
}

// Write encodes p to w.
func Write(w io.Writer, p *ir.Program) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(enc).Encode(envelope{Magic: Magic, Version: Version, Program: p}); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// Read decodes an artifact and verifies the program before returning it.
func Read(r io.Reader) (*ir.Program, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	defer dec.Close()

	var env envelope
	if err := json.NewDecoder(dec).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if env.Magic != Magic || env.Program == nil {
		return nil, ErrFormat
	}
	if env.Version != Version {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrFormat, env.Version, Version)
	}
	if err := ir.Verify(env.Program); err != nil {
		return nil, err
	}
	return env.Program, nil
}

// Sink rebuilds the program from the emission calls and writes it as an
// artifact on Finalize.
type Sink struct {
	prog  ir.Program
	units map[ir.UnitID]*ir.Unit
}

func NewSink(name string) *Sink {
	return &Sink{
		prog:  ir.Program{Name: name},
		units: make(map[ir.UnitID]*ir.Unit),
	}
}

func (s *Sink) GetName() string      { return "boxir" }
func (s *Sink) GetExtension() string { return Extension }

func (s *Sink) DeclareGlobal(g *ir.Global) error {
	s.prog.Globals = append(s.prog.Globals, *g)
	return nil
}

func (s *Sink) DeclareUnit(u *ir.Unit) error {
	copied := &ir.Unit{
		ID:     u.ID,
		Name:   u.Name,
		Box:    u.Box,
		Locals: append([]ir.Local(nil), u.Locals...),
		Temps:  u.Temps,
		Entry:  u.Entry,
	}
	s.units[u.ID] = copied
	s.prog.Units = append(s.prog.Units, copied)
	return nil
}

func (s *Sink) unit(u *ir.Unit) (*ir.Unit, error) {
	copied, ok := s.units[u.ID]
	if !ok {
		return nil, fmt.Errorf("unit %s was not declared", u.Name)
	}
	return copied, nil
}

func (s *Sink) DeclareRegion(u *ir.Unit, r *ir.Region) error {
	copied, err := s.unit(u)
	if err != nil {
		return err
	}
	copied.Regions = append(copied.Regions, &ir.Region{ID: r.ID, Kind: r.Kind, Block: r.Block})
	return nil
}

func (s *Sink) region(u *ir.Unit, r *ir.Region) (*ir.Region, error) {
	copied, err := s.unit(u)
	if err != nil {
		return nil, err
	}
	region := copied.Region(r.ID)
	if region == nil {
		return nil, fmt.Errorf("region r%d of %s was not declared", r.ID, u.Name)
	}
	return region, nil
}

func (s *Sink) Instr(u *ir.Unit, r *ir.Region, in *ir.Instr) error {
	region, err := s.region(u, r)
	if err != nil {
		return err
	}
	instr := *in
	instr.Args = append([]ir.Operand(nil), in.Args...)
	region.Instrs = append(region.Instrs, instr)
	return nil
}

func (s *Sink) Terminate(u *ir.Unit, r *ir.Region, t *ir.Terminator) error {
	region, err := s.region(u, r)
	if err != nil {
		return err
	}
	region.Term = *t
	return nil
}

func (s *Sink) Finalize(w io.Writer) error {
	return Write(w, &s.prog)
}
