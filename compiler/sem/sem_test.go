package sem

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmmlang/cmm/compiler/diag"
	"github.com/cmmlang/cmm/compiler/lex"
	"github.com/cmmlang/cmm/compiler/parse"
)

func analyzeSrc(t *testing.T, src string) (*Scope, *diag.Collector) {
	t.Helper()

	toks, err := lex.New([]byte(src)).Tokenize(context.Background())
	require.NoError(t, err)

	var errs diag.Collector
	prog := parse.Parse(context.Background(), toks, &errs)
	require.True(t, errs.Empty(), "parse diags: %v", errs.Diagnostics())

	scope := Analyze(context.Background(), prog, &errs)
	require.NotNil(t, scope)

	return scope, &errs
}

func kinds(errs *diag.Collector) []diag.Kind {
	ks := make([]diag.Kind, 0, errs.Len())

	for _, d := range errs.Diagnostics() {
		ks = append(ks, d.Kind)
	}

	return ks
}

func TestValidProgram(t *testing.T) {
	scope, errs := analyzeSrc(t, `
int g;
int buf[8];

int add(int a, int b) { return a + b; }

int main(void) {
	int i;
	i = 0;
	while (i < 8) {
		buf[i] = add(i, g);
		i = i + 1;
	}
	return buf[0];
}
`)
	require.True(t, errs.Empty(), "diags: %v", errs.Diagnostics())

	sym, ok := scope.LookupLocal("add").(*FunSymbol)
	require.True(t, ok)
	assert.Equal(t, Int, sym.ReturnType)
	require.Len(t, sym.Params, 2)
	assert.Equal(t, Int, sym.Params[0].Type)
}

func TestBuiltinsPresent(t *testing.T) {
	_, errs := analyzeSrc(t, `
int main(void) {
	int x;
	x = input();
	output(x);
	return 0;
}
`)
	assert.True(t, errs.Empty(), "diags: %v", errs.Diagnostics())
}

func TestMissingMain(t *testing.T) {
	_, errs := analyzeSrc(t, `int f(void) { return 0; }`)
	require.False(t, errs.Empty())
	assert.Contains(t, kinds(errs), diag.MainMissing)
}

func TestMainWrongSignature(t *testing.T) {
	_, errs := analyzeSrc(t, `void main(int x) { return; }`)
	require.False(t, errs.Empty())
	assert.Contains(t, kinds(errs), diag.MainInvalid)
}

func TestUndefinedVariable(t *testing.T) {
	_, errs := analyzeSrc(t, `int main(void) { x = 5; return 0; }`)
	require.False(t, errs.Empty())

	d := errs.Diagnostics()[0]
	assert.Equal(t, diag.UndefinedVariable, d.Kind)
	assert.True(t, strings.Contains(d.Message, "undefined variable 'x'"), "message: %v", d.Message)
}

func TestUndefinedFunction(t *testing.T) {
	_, errs := analyzeSrc(t, `int main(void) { return foo(); }`)
	require.False(t, errs.Empty())
	assert.Equal(t, diag.UndefinedFunction, errs.Diagnostics()[0].Kind)
}

func TestVoidVariable(t *testing.T) {
	_, errs := analyzeSrc(t, `int main(void) { void x; return 0; }`)
	require.False(t, errs.Empty())
	assert.Contains(t, kinds(errs), diag.VoidVariable)
}

func TestVoidParameter(t *testing.T) {
	_, errs := analyzeSrc(t, `
int f(void x) { return 0; }
int main(void) { return 0; }
`)
	require.False(t, errs.Empty())
	assert.Contains(t, kinds(errs), diag.VoidVariable)
}

func TestRedefinitionSameScope(t *testing.T) {
	_, errs := analyzeSrc(t, `int main(void) { int x; int x; return 0; }`)
	require.False(t, errs.Empty())
	assert.Contains(t, kinds(errs), diag.Redefinition)
}

func TestFunctionRedefinition(t *testing.T) {
	_, errs := analyzeSrc(t, `
int f(void) { return 0; }
int f(void) { return 1; }
int main(void) { return 0; }
`)
	require.False(t, errs.Empty())
	assert.Contains(t, kinds(errs), diag.Redefinition)
}

func TestShadowingAllowed(t *testing.T) {
	_, errs := analyzeSrc(t, `
int x;
int main(void) {
	int x;
	x = 1;
	{
		int x;
		x = 2;
	}
	return x;
}
`)
	assert.True(t, errs.Empty(), "diags: %v", errs.Diagnostics())
}

func TestArityMismatch(t *testing.T) {
	_, errs := analyzeSrc(t, `
int add(int a, int b) { return a + b; }
int main(void) { return add(1); }
`)
	require.False(t, errs.Empty())

	d := errs.Diagnostics()[0]
	assert.Equal(t, diag.SignatureMismatch, d.Kind)
	assert.Contains(t, d.Message, "expects 2 arguments, got 1")
}

func TestArgumentTypeMismatch(t *testing.T) {
	_, errs := analyzeSrc(t, `
int f(int x) { return x; }
int main(void) {
	int a[4];
	return f(a);
}
`)
	require.False(t, errs.Empty())
	assert.Contains(t, kinds(errs), diag.SignatureMismatch)
}

func TestArrayArgumentMatchesArrayParam(t *testing.T) {
	_, errs := analyzeSrc(t, `
int sum(int a[], int n) {
	int i;
	int s;
	s = 0;
	i = 0;
	while (i < n) {
		s = s + a[i];
		i = i + 1;
	}
	return s;
}
int main(void) {
	int v[4];
	return sum(v, 4);
}
`)
	assert.True(t, errs.Empty(), "diags: %v", errs.Diagnostics())
}

func TestIndexOnNonArray(t *testing.T) {
	_, errs := analyzeSrc(t, `int main(void) { int x; return x[0]; }`)
	require.False(t, errs.Empty())

	d := errs.Diagnostics()[0]
	assert.Equal(t, diag.TypeMismatch, d.Kind)
	assert.Contains(t, d.Message, "index applied to non-array")
}

func TestArrayIndexMustBeInt(t *testing.T) {
	_, errs := analyzeSrc(t, `
int main(void) {
	int a[4];
	int b[4];
	return a[b];
}
`)
	require.False(t, errs.Empty())
	assert.Contains(t, kinds(errs), diag.ArrayIndexNotInt)
}

func TestArrayAssignmentRejected(t *testing.T) {
	_, errs := analyzeSrc(t, `
int main(void) {
	int a[4];
	int b[4];
	a = b;
	return 0;
}
`)
	require.False(t, errs.Empty())

	d := errs.Diagnostics()[0]
	assert.Equal(t, diag.TypeMismatch, d.Kind)
	assert.Contains(t, d.Message, "cannot assign arrays")
}

func TestVoidCallInExpression(t *testing.T) {
	_, errs := analyzeSrc(t, `
int main(void) {
	int x;
	x = output(1);
	return 0;
}
`)
	require.False(t, errs.Empty())
	assert.Contains(t, kinds(errs), diag.TypeMismatch)
}

func TestReturnValueFromVoid(t *testing.T) {
	_, errs := analyzeSrc(t, `
void f(void) { return 1; }
int main(void) { return 0; }
`)
	require.False(t, errs.Empty())

	d := errs.Diagnostics()[0]
	assert.Equal(t, diag.ReturnTypeMismatch, d.Kind)
	assert.Contains(t, d.Message, "void function returns a value")
}

func TestMissingReturnValue(t *testing.T) {
	_, errs := analyzeSrc(t, `int main(void) { return; }`)
	require.False(t, errs.Empty())
	assert.Contains(t, kinds(errs), diag.ReturnTypeMismatch)
}

func TestConditionMustBeInt(t *testing.T) {
	_, errs := analyzeSrc(t, `
int main(void) {
	int a[4];
	if (a) return 1;
	return 0;
}
`)
	require.False(t, errs.Empty())
	assert.Contains(t, kinds(errs), diag.TypeMismatch)
}

func TestForwardCallResolves(t *testing.T) {
	_, errs := analyzeSrc(t, `
int main(void) { return later(3); }
int later(int x) { return x; }
`)
	assert.True(t, errs.Empty(), "diags: %v", errs.Diagnostics())
}

func TestFunctionUsedAsVariable(t *testing.T) {
	_, errs := analyzeSrc(t, `
int f(void) { return 0; }
int main(void) { return f + 1; }
`)
	require.False(t, errs.Empty())
	assert.Contains(t, errs.Diagnostics()[0].Message, "used as a variable")
}

func TestMultipleErrorsCollected(t *testing.T) {
	_, errs := analyzeSrc(t, `
int main(void) {
	x = 1;
	y = 2;
	return 0;
}
`)
	assert.GreaterOrEqual(t, errs.Len(), 2)
}
