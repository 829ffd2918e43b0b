package ir

import (
	"fmt"
	"math"

	"box/internal/box"
)

// Verify checks the structural invariants every backend relies on. A
// violation is a compiler defect and is reported as a LoweringError.
func Verify(p *Program) error {
	units := make(map[string]bool, len(p.Units))
	for _, u := range p.Units {
		units[u.Name] = true
	}

	seenRegion := make(map[RegionID]bool)
	lastUnit := UnitID(math.MinInt64)
	lastRegion := RegionID(math.MinInt64)

	for _, u := range p.Units {
		if u.ID <= lastUnit {
			return verifyError(u, nil, "unit id %d is not above %d", u.ID, lastUnit)
		}
		lastUnit = u.ID

		if len(u.Regions) == 0 {
			return verifyError(u, nil, "unit has no regions")
		}
		if u.Regions[0].ID != u.Entry {
			return verifyError(u, nil, "entry r%d is not the first region", u.Entry)
		}

		ids := make(map[RegionID]bool, len(u.Regions))
		for _, r := range u.Regions {
			if seenRegion[r.ID] || r.ID <= lastRegion {
				return verifyError(u, r, "region id reused or out of order")
			}
			seenRegion[r.ID] = true
			ids[r.ID] = true
			lastRegion = r.ID
		}

		for _, r := range u.Regions {
			for i := range r.Instrs {
				if err := verifyInstr(p, u, r, &r.Instrs[i], units); err != nil {
					return err
				}
			}
			switch r.Term.Kind {
			case Unterminated:
				return verifyError(u, r, "region is not terminated")
			case Branch:
				if err := verifyOperand(p, u, r, r.Term.Cond, false); err != nil {
					return err
				}
			case Return:
				if err := verifyOperand(p, u, r, r.Term.Value, false); err != nil {
					return err
				}
			}
			for _, s := range r.Term.Successors() {
				if !ids[s] {
					return verifyError(u, r, "edge to r%d leaves the unit", s)
				}
			}
		}

		if u.Predecessors()[u.Entry] > 0 {
			return verifyError(u, nil, "entry region has predecessors")
		}
	}
	return nil
}

func verifyInstr(p *Program, u *Unit, r *Region, in *Instr, units map[string]bool) error {
	switch {
	case in.Op.Unary():
		if len(in.Args) != 1 {
			return verifyError(u, r, "%s takes 1 argument, has %d", in.Op, len(in.Args))
		}
	case in.Op.Binary():
		if len(in.Args) != 2 {
			return verifyError(u, r, "%s takes 2 arguments, has %d", in.Op, len(in.Args))
		}
	case in.Op == OpCall:
		if !units[in.Callee] {
			return verifyError(u, r, "call to unknown unit %s", in.Callee)
		}
	case in.Op == OpBuiltin:
		b, ok := box.LookupBuiltin(in.Callee)
		if !ok || !b.Accepts(len(in.Args)) {
			return verifyError(u, r, "bad builtin call %s/%d", in.Callee, len(in.Args))
		}
	default:
		return verifyError(u, r, "unknown op %q", in.Op)
	}

	if in.Dst.IsNone() {
		if in.Op != OpCall && in.Op != OpBuiltin {
			return verifyError(u, r, "%s has no destination", in.Op)
		}
	} else {
		switch in.Dst.Kind {
		case LocalOperand, GlobalOperand, TempOperand:
		default:
			return verifyError(u, r, "%s writes to a %v", in.Op, in.Dst)
		}
		if err := verifyOperand(p, u, r, in.Dst, false); err != nil {
			return err
		}
	}

	textOK := in.Op == OpBuiltin && in.Callee == "print"
	for _, arg := range in.Args {
		if err := verifyOperand(p, u, r, arg, textOK); err != nil {
			return err
		}
	}
	return nil
}

func verifyOperand(p *Program, u *Unit, r *Region, o Operand, textOK bool) error {
	switch o.Kind {
	case ConstOperand:
		return nil
	case TextOperand:
		if !textOK {
			return verifyError(u, r, "text operand %v outside print", o)
		}
		return nil
	case LocalOperand:
		if o.Slot() < 0 || o.Slot() >= len(u.Locals) {
			return verifyError(u, r, "local %v out of range", o)
		}
	case GlobalOperand:
		if o.Slot() < 0 || o.Slot() >= len(p.Globals) {
			return verifyError(u, r, "global %v out of range", o)
		}
	case TempOperand:
		if o.Slot() < 0 || o.Slot() >= u.Temps {
			return verifyError(u, r, "temp %v out of range", o)
		}
	default:
		return verifyError(u, r, "missing operand")
	}
	return nil
}

func verifyError(u *Unit, r *Region, format string, args ...any) error {
	where := u.Name
	if r != nil {
		where = fmt.Sprintf("%s r%d", u.Name, r.ID)
	}
	return &box.BoxError{
		Kind:    box.LoweringError,
		Message: where + ": " + fmt.Sprintf(format, args...),
	}
}
