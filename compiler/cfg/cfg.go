package cfg

import (
	"context"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/tlog"

	"github.com/cmmlang/cmm/compiler/ir"
	"github.com/cmmlang/cmm/compiler/set"
)

type (
	// Block is a maximal straight line run of instructions.
	// Start and End index the program stream, End is exclusive.
	// Blocks are referenced by index into Graph.Blocks, the synthetic
	// exit block has Start == End and collects every return.
	Block struct {
		Start int
		End   int

		Succ []int
		Pred []int
	}

	// Graph is the control flow graph of one function.
	Graph struct {
		Func   *ir.Func
		Prog   *ir.Program
		Blocks []Block
		Exit   int
	}
)

// Build splits every function into basic blocks and links them.
// Leaders are the first instruction, every label and every instruction
// following a branch.
func Build(ctx context.Context, p *ir.Program) []*Graph {
	tr := tlog.SpanFromContext(ctx)

	gs := make([]*Graph, 0, len(p.Funcs))

	for f := range p.Funcs {
		g := build(p, &p.Funcs[f])
		gs = append(gs, g)

		tr.V("cfg").Printw("built", "func", g.Func.Name, "blocks", len(g.Blocks))

		if tr.If("cfg,dump") {
			tr.Printw("cfg dump", "func", g.Func.Name, "graph", tlog.RawMessage(g.String()))
		}
	}

	return gs
}

func build(p *ir.Program, f *ir.Func) *Graph {
	g := &Graph{
		Func: f,
		Prog: p,
	}

	leader := set.MakeBitmap(f.End + 1)
	leader.Set(f.Begin)

	for j := f.Begin; j <= f.End; j++ {
		i := p.Insns[j]

		if i.Op == ir.Label {
			leader.Set(j)
		}

		if i.IsBranch() && j+1 <= f.End {
			leader.Set(j + 1)
		}
	}

	for j := f.Begin; j <= f.End; j++ {
		if !leader.IsSet(j) {
			continue
		}

		end := j + 1
		for end <= f.End && !leader.IsSet(end) {
			end++
		}

		g.Blocks = append(g.Blocks, Block{Start: j, End: end})
		j = end - 1
	}

	g.Exit = len(g.Blocks)
	g.Blocks = append(g.Blocks, Block{Start: f.End + 1, End: f.End + 1})

	g.link()

	return g
}

func (g *Graph) link() {
	labels := map[string]int{}

	for b, blk := range g.Blocks {
		if blk.Start < blk.End && g.Prog.Insns[blk.Start].Op == ir.Label {
			labels[g.Prog.Insns[blk.Start].Res.Name] = b
		}
	}

	edge := func(from, to int) {
		g.Blocks[from].Succ = append(g.Blocks[from].Succ, to)
		g.Blocks[to].Pred = append(g.Blocks[to].Pred, from)
	}

	for b := range g.Blocks {
		blk := &g.Blocks[b]
		if b == g.Exit || blk.Start == blk.End {
			continue
		}

		last := g.Prog.Insns[blk.End-1]

		switch last.Op {
		case ir.Goto:
			edge(b, labels[last.Res.Name])
		case ir.IfFalse, ir.IfTrue:
			edge(b, labels[last.A.Name])

			if b+1 < len(g.Blocks) {
				edge(b, b+1)
			}
		case ir.Return, ir.Halt, ir.FunctionEnd:
			edge(b, g.Exit)
		default:
			if b+1 < len(g.Blocks) {
				edge(b, b+1)
			}
		}
	}
}

// BlockOf returns the index of the block containing the instruction.
func (g *Graph) BlockOf(insn int) int {
	for b, blk := range g.Blocks {
		if insn >= blk.Start && insn < blk.End {
			return b
		}
	}

	return -1
}

// Reachable marks every block reachable from the entry.
func (g *Graph) Reachable() set.Bitmap {
	seen := set.MakeBitmap(len(g.Blocks))

	var walk func(b int)
	walk = func(b int) {
		if seen.IsSet(b) {
			return
		}

		seen.Set(b)

		for _, s := range g.Blocks[b].Succ {
			walk(s)
		}
	}

	walk(0)

	return seen
}

// RPO returns block indices in reverse postorder over the entry's
// reachable region. Forward dataflow converges fastest in this order.
func (g *Graph) RPO() []int {
	seen := set.MakeBitmap(len(g.Blocks))
	order := make([]int, 0, len(g.Blocks))

	var walk func(b int)
	walk = func(b int) {
		if seen.IsSet(b) {
			return
		}

		seen.Set(b)

		for _, s := range g.Blocks[b].Succ {
			walk(s)
		}

		order = append(order, b)
	}

	walk(0)

	for l, r := 0, len(order)-1; l < r; l, r = l+1, r-1 {
		order[l], order[r] = order[r], order[l]
	}

	return order
}

func (g *Graph) String() string {
	return string(g.Append(nil))
}

func (g *Graph) Append(b []byte) []byte {
	for i, blk := range g.Blocks {
		if i == g.Exit {
			b = hfmt.Appendf(b, "B%d (exit)  preds %v\n", i, blk.Pred)
			continue
		}

		b = hfmt.Appendf(b, "B%d [%d:%d)  preds %v  succs %v\n", i, blk.Start, blk.End, blk.Pred, blk.Succ)

		for j := blk.Start; j < blk.End; j++ {
			b = g.Prog.Insns[j].Append(b)
			b = append(b, '\n')
		}
	}

	return b
}
