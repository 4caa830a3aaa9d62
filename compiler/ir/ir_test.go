package ir

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmmlang/cmm/compiler/diag"
	"github.com/cmmlang/cmm/compiler/lex"
	"github.com/cmmlang/cmm/compiler/parse"
	"github.com/cmmlang/cmm/compiler/sem"
)

func genSrc(t *testing.T, src string) *Program {
	t.Helper()

	toks, err := lex.New([]byte(src)).Tokenize(context.Background())
	require.NoError(t, err)

	var errs diag.Collector
	prog := parse.Parse(context.Background(), toks, &errs)
	require.True(t, errs.Empty(), "parse diags: %v", errs.Diagnostics())

	sem.Analyze(context.Background(), prog, &errs)
	require.True(t, errs.Empty(), "sem diags: %v", errs.Diagnostics())

	return Generate(context.Background(), prog)
}

func ops(p *Program) []Op {
	out := make([]Op, len(p.Insns))

	for i, in := range p.Insns {
		out[i] = in.Op
	}

	return out
}

func find(p *Program, op Op) []Insn {
	var out []Insn

	for _, i := range p.Insns {
		if i.Op == op {
			out = append(out, i)
		}
	}

	return out
}

func TestFunctionMarkers(t *testing.T) {
	p := genSrc(t, `int main(void) { return 0; }`)

	require.Len(t, p.Funcs, 1)
	f := p.Funcs[0]
	assert.Equal(t, "main", f.Name)
	assert.Equal(t, FunctionBegin, p.Insns[f.Begin].Op)
	assert.Equal(t, FunctionEnd, p.Insns[f.End].Op)
	assert.Equal(t, "main", p.Insns[f.Begin].Res.Name)
}

func TestTempAndLabelNumbering(t *testing.T) {
	p := genSrc(t, `int main(void) { int x; x = 1 + 2; if (x) x = 3; return x; }`)

	adds := find(p, Add)
	require.Len(t, adds, 1)
	assert.Equal(t, "t0", adds[0].Res.Name)

	ifs := find(p, IfFalse)
	require.Len(t, ifs, 1)
	assert.Equal(t, "L0", ifs[0].A.Name)
}

func TestUnaryMinusLowersToSub(t *testing.T) {
	p := genSrc(t, `int main(void) { int x; x = -5; return x; }`)

	subs := find(p, Sub)
	require.Len(t, subs, 1)
	assert.Equal(t, L(0), subs[0].A)
	assert.Equal(t, L(5), subs[0].B)
}

func TestWhileShape(t *testing.T) {
	p := genSrc(t, `int main(void) { int i; i = 0; while (i < 3) i = i + 1; return i; }`)

	var seq []Op

	for _, i := range p.Insns {
		switch i.Op {
		case Label, IfFalse, Goto:
			seq = append(seq, i.Op)
		}
	}

	assert.Equal(t, []Op{Label, IfFalse, Goto, Label}, seq)

	gotos := find(p, Goto)
	require.Len(t, gotos, 1)
	assert.Equal(t, "L0", gotos[0].Res.Name)

	ifs := find(p, IfFalse)
	require.Len(t, ifs, 1)
	assert.Equal(t, "L1", ifs[0].A.Name)
}

func TestIfWithoutElseSingleLabel(t *testing.T) {
	p := genSrc(t, `int main(void) { int x; x = 0; if (x) x = 1; return x; }`)

	labels := find(p, Label)
	require.Len(t, labels, 1)
	assert.Empty(t, find(p, Goto))
}

func TestIfElseShape(t *testing.T) {
	p := genSrc(t, `int main(void) { int x; x = 0; if (x) x = 1; else x = 2; return x; }`)

	assert.Len(t, find(p, Label), 2)
	assert.Len(t, find(p, Goto), 1)
	assert.Len(t, find(p, IfFalse), 1)
}

func TestParamsReversed(t *testing.T) {
	p := genSrc(t, `
int f(int a, int b) { return a - b; }
int main(void) { return f(1, 2); }
`)

	params := find(p, Param)
	require.Len(t, params, 2)

	// first argument is pushed last
	assert.Equal(t, L(2), params[0].Res)
	assert.Equal(t, L(1), params[1].Res)

	calls := find(p, Call)
	require.Len(t, calls, 1)
	assert.Equal(t, "f", calls[0].A.Name)
	assert.Equal(t, L(2), calls[0].B)
}

func TestArrayLoadStore(t *testing.T) {
	p := genSrc(t, `int main(void) { int a[4]; a[1] = 7; return a[1]; }`)

	stores := find(p, ArrayStore)
	require.Len(t, stores, 1)
	assert.Equal(t, "a", stores[0].Res.Name)
	assert.Equal(t, L(1), stores[0].A)
	assert.Equal(t, L(7), stores[0].B)

	loads := find(p, ArrayLoad)
	require.Len(t, loads, 1)
	assert.Equal(t, "a", loads[0].A.Name)
}

func TestVoidFunctionImplicitReturn(t *testing.T) {
	p := genSrc(t, `
void f(void) { ; }
int main(void) { f(); return 0; }
`)

	f := p.Funcs[0]
	require.Equal(t, "f", f.Name)
	assert.Equal(t, Return, p.Insns[f.End-1].Op)
	assert.True(t, p.Insns[f.End-1].Res.IsNone())
}

func TestFuncParamsRecorded(t *testing.T) {
	p := genSrc(t, `
int f(int x, int y) { return x + y; }
int main(void) { return f(1, 2); }
`)

	require.Len(t, p.Funcs, 2)
	assert.Equal(t, []string{"x", "y"}, p.Funcs[0].Params)
	assert.Empty(t, p.Funcs[1].Params)
}

func TestProgramRendering(t *testing.T) {
	p := genSrc(t, `int main(void) { return 1 + 2; }`)

	s := p.String()
	assert.Contains(t, s, "FUNCTION_BEGIN main")
	assert.Contains(t, s, "t0 = ADD 1, 2")
	assert.Contains(t, s, "RETURN t0")
	assert.Contains(t, s, "FUNCTION_END main")
}

func TestConstantFolding(t *testing.T) {
	p := genSrc(t, `int main(void) { int x; x = 2 + 3 * 4; return x; }`)

	st := Optimize(context.Background(), p, 1)
	assert.Positive(t, st.Folded)

	rets := find(p, Return)
	require.Len(t, rets, 1)
	assert.Equal(t, L(14), rets[0].Res)

	assert.Empty(t, find(p, Add))
	assert.Empty(t, find(p, Mul))
}

func TestDivisionByZeroLiteralNotFolded(t *testing.T) {
	p := genSrc(t, `int main(void) { return 1 / 0; }`)

	Optimize(context.Background(), p, 1)

	require.Len(t, find(p, Div), 1)
}

func TestCopyPropagation(t *testing.T) {
	p := genSrc(t, `
int main(void) {
	int x;
	int y;
	x = input();
	y = x;
	return y + 1;
}
`)

	st := Optimize(context.Background(), p, 1)
	assert.Positive(t, st.Propagated)

	// both copies are bypassed, the add reads the call result directly
	adds := find(p, Add)
	require.Len(t, adds, 1)
	assert.Equal(t, N("t0"), adds[0].A)
}

func TestAlgebraicIdentities(t *testing.T) {
	p := genSrc(t, `
int main(void) {
	int x;
	x = input();
	return x * 1 + 0;
}
`)

	st := Optimize(context.Background(), p, 1)
	assert.Positive(t, st.Simplified)
	assert.Empty(t, find(p, Mul))
	assert.Empty(t, find(p, Add))
}

func TestDeadTempRemoved(t *testing.T) {
	p := genSrc(t, `
int main(void) {
	int x;
	x = input();
	x + 1;
	return 0;
}
`)

	before := len(p.Insns)
	st := Optimize(context.Background(), p, 1)

	assert.Positive(t, st.Removed)
	assert.Less(t, len(p.Insns), before)
	assert.Empty(t, find(p, Add))

	// boundaries track the compacted stream
	f := p.Funcs[0]
	assert.Equal(t, FunctionBegin, p.Insns[f.Begin].Op)
	assert.Equal(t, FunctionEnd, p.Insns[f.End].Op)
}

func TestCallsNeverRemoved(t *testing.T) {
	p := genSrc(t, `
int main(void) {
	input();
	return 0;
}
`)

	Optimize(context.Background(), p, 1)

	assert.Len(t, find(p, Call), 1)
}

func TestOptimizeIdempotent(t *testing.T) {
	p := genSrc(t, `int main(void) { int x; x = 2 + 3; return x * 1; }`)

	Optimize(context.Background(), p, 1)
	st := Optimize(context.Background(), p, 1)

	assert.Equal(t, Stats{}, st)
}

func TestOptimizeLevelZeroNoChanges(t *testing.T) {
	p := genSrc(t, `int main(void) { return 1 + 2; }`)

	st := Optimize(context.Background(), p, 0)
	assert.Equal(t, Stats{}, st)
	assert.Len(t, find(p, Add), 1)
}

func TestFoldingStopsAtLabel(t *testing.T) {
	p := genSrc(t, `
int main(void) {
	int x;
	int i;
	x = 1;
	i = input();
	while (i) {
		x = x + 1;
		i = i - 1;
	}
	return x;
}
`)

	Optimize(context.Background(), p, 1)

	// x is not constant across the loop
	rets := find(p, Return)
	require.Len(t, rets, 1)
	assert.Equal(t, N("x"), rets[0].Res)
}

func TestLogicalAndCopyFolding(t *testing.T) {
	p := &Program{
		Insns: []Insn{
			{Op: FunctionBegin, Res: N("f")},
			{Op: Copy, Res: N("a"), A: L(1)},
			{Op: And, Res: N("b"), A: N("a"), B: L(3)},
			{Op: Or, Res: N("c"), A: N("b"), B: L(0)},
			{Op: Return, Res: N("c")},
			{Op: FunctionEnd, Res: N("f")},
		},
		Funcs: []Func{{Name: "f", Begin: 0, End: 5}},
	}

	ConstantFold(p)

	assert.Equal(t, Assign, p.Insns[2].Op)
	assert.Equal(t, L(1), p.Insns[2].A)
	assert.Equal(t, Assign, p.Insns[3].Op)
	assert.Equal(t, L(1), p.Insns[3].A)
	assert.Equal(t, L(1), p.Insns[4].Res)
}

func TestIfTrueLabelNotReplaced(t *testing.T) {
	p := &Program{
		Insns: []Insn{
			{Op: FunctionBegin, Res: N("f")},
			{Op: Assign, Res: N("L0"), A: L(7)}, // a variable that shadows a label name
			{Op: IfTrue, Res: N("L0"), A: N("L0")},
			{Op: Label, Res: N("L0")},
			{Op: Return},
			{Op: FunctionEnd, Res: N("f")},
		},
		Funcs: []Func{{Name: "f", Begin: 0, End: 5}},
	}

	ConstantFold(p)

	// the condition folds, the jump target stays a name
	assert.Equal(t, L(7), p.Insns[2].Res)
	assert.Equal(t, N("L0"), p.Insns[2].A)
}
