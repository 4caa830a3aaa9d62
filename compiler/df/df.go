package df

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/cmmlang/cmm/compiler/cfg"
	"github.com/cmmlang/cmm/compiler/ir"
	"github.com/cmmlang/cmm/compiler/set"
)

type (
	// Reaching holds per-block reaching definition sets. Definitions
	// are identified by their instruction index in the program stream.
	Reaching struct {
		In  []set.Bitmap
		Out []set.Bitmap

		// Defs lists every defining instruction index in the function.
		Defs []int
	}

	// Liveness holds per-block live variable sets. Variables are
	// numbered densely, Names maps the number back.
	Liveness struct {
		In  []set.Bitmap
		Out []set.Bitmap

		Names []string
		ix    map[string]int
	}
)

// ReachingDefs solves forward may-reach over the graph to a fixpoint.
// A definition reaches a point if some path from it arrives there with
// no intervening definition of the same name.
func ReachingDefs(ctx context.Context, g *cfg.Graph) *Reaching {
	tr := tlog.SpanFromContext(ctx)

	r := &Reaching{
		In:  make([]set.Bitmap, len(g.Blocks)),
		Out: make([]set.Bitmap, len(g.Blocks)),
	}

	defsOf := map[string][]int{}

	for j := g.Func.Begin; j <= g.Func.End; j++ {
		if name, ok := g.Prog.Insns[j].Def(); ok {
			defsOf[name] = append(defsOf[name], j)
			r.Defs = append(r.Defs, j)
		}
	}

	n := g.Func.End + 1

	gen := make([]set.Bitmap, len(g.Blocks))
	kill := make([]set.Bitmap, len(g.Blocks))

	for b := range g.Blocks {
		gen[b] = set.MakeBitmap(n)
		kill[b] = set.MakeBitmap(n)
		r.In[b] = set.MakeBitmap(n)
		r.Out[b] = set.MakeBitmap(n)

		last := map[string]int{}

		for j := g.Blocks[b].Start; j < g.Blocks[b].End; j++ {
			name, ok := g.Prog.Insns[j].Def()
			if !ok {
				continue
			}

			last[name] = j

			for _, d := range defsOf[name] {
				if d != j {
					kill[b].Set(d)
				}
			}
		}

		for _, j := range last {
			gen[b].Set(j)
		}
	}

	order := g.RPO()

	rounds := 0

	for {
		rounds++
		changed := false

		for _, b := range order {
			for _, p := range g.Blocks[b].Pred {
				if r.In[b].Or(r.Out[p]) {
					changed = true
				}
			}

			out := r.In[b].Copy()
			out.AndNot(kill[b])
			out.Or(gen[b])

			if r.Out[b].Or(out) {
				changed = true
			}
		}

		if !changed {
			break
		}
	}

	tr.V("df").Printw("reaching defs", "func", g.Func.Name, "defs", len(r.Defs), "rounds", rounds)

	return r
}

// LiveVars solves backward liveness to a fixpoint. A variable is live
// where some path ahead reads it before writing it.
func LiveVars(ctx context.Context, g *cfg.Graph) *Liveness {
	tr := tlog.SpanFromContext(ctx)

	lv := &Liveness{
		In:  make([]set.Bitmap, len(g.Blocks)),
		Out: make([]set.Bitmap, len(g.Blocks)),
		ix:  map[string]int{},
	}

	use := make([]set.Bitmap, len(g.Blocks))
	def := make([]set.Bitmap, len(g.Blocks))

	for b := range g.Blocks {
		use[b] = set.MakeBitmap(0)
		def[b] = set.MakeBitmap(0)
		lv.In[b] = set.MakeBitmap(0)
		lv.Out[b] = set.MakeBitmap(0)

		for j := g.Blocks[b].Start; j < g.Blocks[b].End; j++ {
			i := g.Prog.Insns[j]

			for _, o := range i.Uses() {
				if o.IsName() && !isCallee(i, o) {
					v := lv.index(o.Name)

					if !def[b].IsSet(v) {
						use[b].Set(v)
					}
				}
			}

			if name, ok := i.Def(); ok {
				def[b].Set(lv.index(name))
			}
		}
	}

	order := g.RPO()

	rounds := 0

	for {
		rounds++
		changed := false

		for k := len(order) - 1; k >= 0; k-- {
			b := order[k]

			for _, s := range g.Blocks[b].Succ {
				if lv.Out[b].Or(lv.In[s]) {
					changed = true
				}
			}

			in := lv.Out[b].Copy()
			in.AndNot(def[b])
			in.Or(use[b])

			if lv.In[b].Or(in) {
				changed = true
			}
		}

		if !changed {
			break
		}
	}

	tr.V("df").Printw("liveness", "func", g.Func.Name, "vars", len(lv.Names), "rounds", rounds)

	return lv
}

func (lv *Liveness) index(name string) int {
	if v, ok := lv.ix[name]; ok {
		return v
	}

	v := len(lv.Names)
	lv.ix[name] = v
	lv.Names = append(lv.Names, name)

	return v
}

// Index returns the dense number of the name, or -1.
func (lv *Liveness) Index(name string) int {
	if v, ok := lv.ix[name]; ok {
		return v
	}

	return -1
}

// isCallee filters the function name operand of calls, a call does not
// read a variable of that name.
func isCallee(i ir.Insn, o ir.Operand) bool {
	return i.Op == ir.Call && o == i.A
}

// DeadStores returns instruction indices whose scalar result is dead
// on every path out, scanning each block backwards from its live-out
// set. Stores to file scope variables are kept, they stay observable
// after the function returns.
func DeadStores(ctx context.Context, g *cfg.Graph, lv *Liveness) []int {
	tr := tlog.SpanFromContext(ctx)

	global := map[string]bool{}

	for _, gl := range g.Prog.Globals {
		global[gl.Name] = true
	}

	var dead []int

	for b := range g.Blocks {
		live := lv.Out[b].Copy()

		for j := g.Blocks[b].End - 1; j >= g.Blocks[b].Start; j-- {
			i := g.Prog.Insns[j]

			name, ok := i.Def()

			if ok && !hasSideEffect(i) && !global[name] {
				if v := lv.Index(name); v >= 0 && !live.IsSet(v) {
					dead = append(dead, j)
					continue
				}
			}

			if ok {
				if v := lv.Index(name); v >= 0 {
					live.Clear(v)
				}
			}

			for _, o := range i.Uses() {
				if o.IsName() && !isCallee(i, o) {
					if v := lv.Index(o.Name); v >= 0 {
						live.Set(v)
					}
				}
			}
		}
	}

	tr.V("df").Printw("dead stores", "func", g.Func.Name, "count", len(dead))

	return dead
}

func hasSideEffect(i ir.Insn) bool {
	switch i.Op {
	case ir.Call, ir.Div, ir.Mod, ir.ArrayStore:
		return true
	}

	return false
}

// Eliminate rewrites the dead stores to no-ops. The caller decides
// when to recompact the stream.
func Eliminate(p *ir.Program, dead []int) int {
	for _, j := range dead {
		p.Insns[j] = ir.Insn{Op: ir.Nop, Line: p.Insns[j].Line}
	}

	return len(dead)
}
