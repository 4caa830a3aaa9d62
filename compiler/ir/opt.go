package ir

import (
	"context"

	"tlog.app/go/tlog"
)

type (
	// Stats counts the rewrites each pass performed over one Optimize
	// call. Zero across the board means the program was already fixed.
	Stats struct {
		Folded     int
		Propagated int
		Simplified int
		Removed    int
	}
)

// Optimize rewrites the program in place. One round runs constant
// folding, copy propagation, algebraic simplification and dead code
// elimination in that order. Level 3 runs a second round to fold
// opportunities the first round exposed.
func Optimize(ctx context.Context, p *Program, level int) (st Stats) {
	tr := tlog.SpanFromContext(ctx)

	if level < 1 {
		return st
	}

	rounds := 1
	if level >= 3 {
		rounds = 2
	}

	for r := 0; r < rounds; r++ {
		st.Folded += ConstantFold(p)
		st.Propagated += CopyPropagate(p)
		st.Simplified += Algebraic(p)
		st.Removed += DeadCode(p)
	}

	tr.V("opt").Printw("optimized", "level", level,
		"folded", st.Folded, "propagated", st.Propagated,
		"simplified", st.Simplified, "removed", st.Removed)

	return st
}

// ConstantFold replaces operands with known constant values and
// evaluates instructions whose operands are all literals. Knowledge is
// dropped at labels and calls, both can invalidate it.
func ConstantFold(p *Program) (n int) {
	known := map[string]int64{}

	for j := range p.Insns {
		i := &p.Insns[j]

		switch i.Op {
		case Label, Call, FunctionBegin, FunctionEnd:
			clear(known)
		}

		// array and function names never enter the map, only scalar
		// defs do, so replacing any matching operand is safe
		if v, ok := lookupConst(known, i.A); ok && i.Op != IfFalse && i.Op != IfTrue {
			i.A = L(v)
			n++
		}

		if v, ok := lookupConst(known, i.B); ok {
			i.B = L(v)
			n++
		}

		switch i.Op {
		case IfFalse, IfTrue, Param, Return, ArrayStore:
			// Res is read here, not written
			if i.Op != ArrayStore {
				if v, ok := lookupConst(known, i.Res); ok {
					i.Res = L(v)
					n++
				}
			}

			continue
		}

		if v, ok := evalInsn(i); ok {
			*i = Insn{Op: Assign, Res: i.Res, A: L(v), Line: i.Line}
			n++
		}

		if name, ok := i.Def(); ok {
			delete(known, name)

			if (i.Op == Assign || i.Op == Copy) && i.A.IsLit() {
				known[name] = i.A.Lit
			}
		}
	}

	return n
}

func lookupConst(known map[string]int64, o Operand) (int64, bool) {
	if !o.IsName() {
		return 0, false
	}

	v, ok := known[o.Name]

	return v, ok
}

func evalInsn(i *Insn) (int64, bool) {
	if i.Op == Not {
		if !i.A.IsLit() {
			return 0, false
		}

		if i.A.Lit == 0 {
			return 1, true
		}

		return 0, true
	}

	if !i.A.IsLit() || !i.B.IsLit() {
		return 0, false
	}

	a, b := i.A.Lit, i.B.Lit

	switch i.Op {
	case Add:
		return a + b, true
	case Sub:
		return a - b, true
	case Mul:
		return a * b, true
	case Div:
		if b == 0 {
			// left for the runtime check
			return 0, false
		}

		return a / b, true
	case Mod:
		if b == 0 {
			return 0, false
		}

		return a % b, true
	case Lt:
		return b2i(a < b), true
	case Le:
		return b2i(a <= b), true
	case Gt:
		return b2i(a > b), true
	case Ge:
		return b2i(a >= b), true
	case Eq:
		return b2i(a == b), true
	case Ne:
		return b2i(a != b), true
	case And:
		return b2i(a != 0 && b != 0), true
	case Or:
		return b2i(a != 0 || b != 0), true
	}

	return 0, false
}

func b2i(v bool) int64 {
	if v {
		return 1
	}

	return 0
}

// CopyPropagate replaces uses of a copied name with its source while
// neither side has been redefined. Like folding it forgets everything
// at labels and calls.
func CopyPropagate(p *Program) (n int) {
	copies := map[string]string{}

	for j := range p.Insns {
		i := &p.Insns[j]

		switch i.Op {
		case Label, Call, FunctionBegin, FunctionEnd:
			clear(copies)
		}

		repl := func(o Operand) (Operand, bool) {
			if !o.IsName() {
				return o, false
			}

			if src, ok := copies[o.Name]; ok {
				return N(src), true
			}

			return o, false
		}

		if o, ok := repl(i.A); ok && i.Op != IfFalse && i.Op != IfTrue {
			i.A = o
			n++
		}

		if o, ok := repl(i.B); ok {
			i.B = o
			n++
		}

		switch i.Op {
		case IfFalse, IfTrue, Param, Return, ArrayStore:
			if i.Op != ArrayStore {
				if o, ok := repl(i.Res); ok {
					i.Res = o
					n++
				}
			}

			continue
		}

		if name, ok := i.Def(); ok {
			delete(copies, name)

			for dst, src := range copies {
				if src == name {
					delete(copies, dst)
				}
			}

			if (i.Op == Assign || i.Op == Copy) && i.A.IsName() && i.A.Name != name {
				copies[name] = i.A.Name
			}
		}
	}

	return n
}

// Algebraic rewrites identity operations into plain copies.
func Algebraic(p *Program) (n int) {
	for j := range p.Insns {
		i := &p.Insns[j]

		lit := func(o Operand, v int64) bool { return o.IsLit() && o.Lit == v }

		switch {
		case i.Op == Add && lit(i.B, 0),
			i.Op == Sub && lit(i.B, 0),
			i.Op == Mul && lit(i.B, 1),
			i.Op == Div && lit(i.B, 1):
			*i = Insn{Op: Copy, Res: i.Res, A: i.A, Line: i.Line}
			n++
		case i.Op == Add && lit(i.A, 0),
			i.Op == Mul && lit(i.A, 1):
			*i = Insn{Op: Copy, Res: i.Res, A: i.B, Line: i.Line}
			n++
		case i.Op == Mul && (lit(i.A, 0) || lit(i.B, 0)):
			*i = Insn{Op: Assign, Res: i.Res, A: L(0), Line: i.Line}
			n++
		}
	}

	return n
}

// DeadCode removes pure instructions defining a generator temporary
// that is never read in the enclosing function. Writes to user
// variables, control flow, calls, divisions, stores and function
// markers always stay.
func DeadCode(p *Program) (n int) {
	for f := range p.Funcs {
		n += deadCodeFunc(p, &p.Funcs[f])
	}

	if n > 0 {
		Compact(p)
	}

	return n
}

func deadCodeFunc(p *Program, f *Func) (n int) {
	for {
		used := map[string]bool{}

		for j := f.Begin; j <= f.End; j++ {
			for _, o := range p.Insns[j].Uses() {
				if o.IsName() {
					used[o.Name] = true
				}
			}
		}

		removed := 0

		for j := f.Begin; j <= f.End; j++ {
			i := &p.Insns[j]

			switch i.Op {
			case Nop, Label, Goto, IfFalse, IfTrue, Halt, Param, Call, Return, FunctionBegin, FunctionEnd, ArrayStore:
				continue
			case Div, Mod:
				// may raise the division by zero trap
				continue
			}

			name, ok := i.Def()
			if !ok || used[name] {
				continue
			}

			if !isTemp(name) {
				// user variables may be observed across calls
				continue
			}

			*i = Insn{Op: Nop, Line: i.Line}
			removed++
		}

		if removed == 0 {
			break
		}

		n += removed
	}

	return n
}

// isTemp reports whether the name was produced by the generator.
func isTemp(name string) bool {
	if len(name) < 2 || name[0] != 't' {
		return false
	}

	for _, c := range name[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}

	return true
}

// Compact drops Nop placeholders and refreshes function boundaries.
func Compact(p *Program) (removed int) {
	out := p.Insns[:0]
	shift := make([]int, len(p.Insns))

	for j, i := range p.Insns {
		shift[j] = removed

		if i.Op == Nop {
			removed++
			continue
		}

		out = append(out, i)
	}

	p.Insns = out

	for f := range p.Funcs {
		p.Funcs[f].Begin -= shift[p.Funcs[f].Begin]
		p.Funcs[f].End -= shift[p.Funcs[f].End]
	}

	return removed
}
