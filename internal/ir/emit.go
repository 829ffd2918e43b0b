package ir

import "io"

// Sink is the boundary to a code generation backend. Emit calls it in a fixed
// order: every global, every unit declaration, then for each unit all of its
// regions before their contents, so forward edges and calls always refer to
// something already declared.
type Sink interface {
	DeclareGlobal(g *Global) error
	DeclareUnit(u *Unit) error
	DeclareRegion(u *Unit, r *Region) error
	Instr(u *Unit, r *Region, in *Instr) error
	Terminate(u *Unit, r *Region, t *Terminator) error
	Finalize(w io.Writer) error
}

// Emit drives sink over p and writes the finished artifact to w.
func Emit(p *Program, sink Sink, w io.Writer) error {
	for i := range p.Globals {
		if err := sink.DeclareGlobal(&p.Globals[i]); err != nil {
			return err
		}
	}
	for _, u := range p.Units {
		if err := sink.DeclareUnit(u); err != nil {
			return err
		}
	}

	for _, u := range p.Units {
		for _, r := range u.Regions {
			if err := sink.DeclareRegion(u, r); err != nil {
				return err
			}
		}
		for _, r := range u.Regions {
			for i := range r.Instrs {
				if err := sink.Instr(u, r, &r.Instrs[i]); err != nil {
					return err
				}
			}
			if err := sink.Terminate(u, r, &r.Term); err != nil {
				return err
			}
		}
	}

	return sink.Finalize(w)
}
