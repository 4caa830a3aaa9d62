package compiler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmmlang/cmm/compiler/diag"
)

func compile(t *testing.T, src string, opts Options) *Result {
	t.Helper()

	res, err := Compile(context.Background(), "test.cmm", []byte(src), opts)
	require.NoError(t, err)

	return res
}

func failCompile(t *testing.T, src string) *Result {
	t.Helper()

	res, err := Compile(context.Background(), "test.cmm", []byte(src), Options{})
	require.Error(t, err)
	require.NotEmpty(t, res.Diags)

	return res
}

func TestFoldAndAssign(t *testing.T) {
	src := `int main(void){ int x; x = 1 + 2; return x; }`

	res := compile(t, src, Options{DumpIR: true})
	assert.Contains(t, string(res.IR), "ADD 1, 2")

	res = compile(t, src, Options{OptLevel: 1, DumpIR: true})
	assert.NotContains(t, string(res.IR), "ADD")
	assert.Contains(t, string(res.IR), "3")

	assert.Contains(t, string(res.Asm), "main:")
	assert.Contains(t, string(res.Asm), "mov")
}

func TestUninitializedLocalCompiles(t *testing.T) {
	res := compile(t, `int main(void){ int x; return x; }`, Options{})

	asm := string(res.Asm)
	assert.Contains(t, asm, "main:")
	assert.Contains(t, asm, "push rbp")
	assert.Contains(t, asm, "[rbp-8]")
	assert.Contains(t, asm, "mov rax")
	assert.Contains(t, asm, "ret")
}

func TestDebugLineComments(t *testing.T) {
	src := "int main(void) {\n\tint x;\n\tx = 1;\n\treturn x;\n}\n"

	res := compile(t, src, Options{})
	assert.NotContains(t, string(res.Asm), "; line")

	res = compile(t, src, Options{Debug: true})
	assert.Contains(t, string(res.Asm), "; line 3")
	assert.Contains(t, string(res.Asm), "; line 4")
}

func TestKeepIntermediateWritesIR(t *testing.T) {
	name := filepath.Join(t.TempDir(), "prog.cmm")

	err := os.WriteFile(name, []byte(`int main(void){ return 0; }`), 0o644)
	require.NoError(t, err)

	_, err = CompileFile(context.Background(), name, Options{KeepIntermediate: true})
	require.NoError(t, err)

	b, err := os.ReadFile(name + ".ir")
	require.NoError(t, err)
	assert.Contains(t, string(b), "FUNCTION_BEGIN main")
}

func TestMissingMain(t *testing.T) {
	res := failCompile(t, `int foo(void){ return 0; }`)
	assert.Equal(t, diag.MainMissing, res.Diags[0].Kind)
}

func TestUndefinedVariable(t *testing.T) {
	res := failCompile(t, `int main(void){ x = 5; return 0; }`)
	assert.Equal(t, diag.UndefinedVariable, res.Diags[0].Kind)
	assert.Contains(t, res.Diags[0].Message, "undefined variable 'x'")
}

func TestVoidVariable(t *testing.T) {
	res := failCompile(t, `int main(void){ void x; return 0; }`)
	assert.Equal(t, diag.VoidVariable, res.Diags[0].Kind)
}

func TestCallSequence(t *testing.T) {
	res := compile(t, `
int add(int a, int b) { return a + b; }
int main(void) { return add(2, 3); }
`, Options{DumpIR: true})

	irText := string(res.IR)
	assert.Equal(t, 2, strings.Count(irText, "PARAM"))
	assert.Contains(t, irText, "CALL add, 2")

	asm := string(res.Asm)
	assert.Contains(t, asm, "push")
	assert.Contains(t, asm, "call add")
}

func TestLoopLabels(t *testing.T) {
	res := compile(t, `
int main(void){ int x; x=10; while(x>0){ x=x-1; } return x; }
`, Options{DumpIR: true, DumpCFG: true})

	irText := string(res.IR)
	assert.Contains(t, irText, "L0:")
	assert.Contains(t, irText, "L1:")
	assert.NotContains(t, irText, "L2:")
	assert.Contains(t, irText, "GOTO L0")

	// the body's tail jumps back to the condition block
	assert.NotEmpty(t, res.CFG)
	assert.Contains(t, string(res.CFG), "main:")
}

func TestLexErrorReported(t *testing.T) {
	res := failCompile(t, `int main(void) { return 0 @ }`)
	assert.Equal(t, diag.LexError, res.Diags[0].Kind)
	assert.Contains(t, res.Diags[0].Message, "Unexpected character")
}

func TestParseErrorReported(t *testing.T) {
	res := failCompile(t, `int main(void) { return 0 }`)
	assert.Equal(t, diag.SyntaxError, res.Diags[0].Kind)
	assert.Nil(t, res.Asm)
}

func TestDumpToggles(t *testing.T) {
	res := compile(t, `int main(void){ return 0; }`, Options{
		DumpTokens: true,
		DumpAST:    true,
		DumpIR:     true,
		DumpCFG:    true,
	})

	assert.Contains(t, string(res.Tokens), "int")
	assert.Contains(t, string(res.AST), "FunDecl int main()")
	assert.Contains(t, string(res.IR), "FUNCTION_BEGIN main")
	assert.Contains(t, string(res.CFG), "B0")
}

func TestDumpsOffByDefault(t *testing.T) {
	res := compile(t, `int main(void){ return 0; }`, Options{})

	assert.Nil(t, res.Tokens)
	assert.Nil(t, res.AST)
	assert.Nil(t, res.IR)
	assert.Nil(t, res.CFG)
	assert.NotNil(t, res.Asm)
}

func TestProfileCoversPhases(t *testing.T) {
	res := compile(t, `int main(void){ return 0; }`, Options{OptLevel: 2})

	var names []string
	for _, ph := range res.Profile {
		names = append(names, ph.Phase)
	}

	assert.Equal(t, []string{"lex", "parse", "analyze", "ir", "optimize", "cfg", "dead stores", "codegen"}, names)
}

func TestDeadStoreEliminatedAtO2(t *testing.T) {
	src := `
int main(void) {
	int x;
	x = input();
	x = input();
	return x;
}
`

	o1 := compile(t, src, Options{OptLevel: 1})
	o2 := compile(t, src, Options{OptLevel: 2})

	// the first store is overwritten before any use, only the
	// liveness driven pass sees that
	assert.Less(t, o2.InsnsAfter, o1.InsnsAfter)
}

func TestOptimizeShrinksOrKeeps(t *testing.T) {
	src := `
int main(void) {
	int a;
	int b;
	a = 2 * 3;
	b = a + 0;
	return b;
}
`

	for level := 0; level <= 3; level++ {
		res := compile(t, src, Options{OptLevel: level})
		assert.LessOrEqual(t, res.InsnsAfter, res.InsnsBefore, "O%d", level)
	}
}

func TestGenerationDeterministic(t *testing.T) {
	src := `
int g;
int fib(int n) {
	if (n < 2) return n;
	return fib(n-1) + fib(n-2);
}
int main(void) { g = fib(10); output(g); return 0; }
`

	a := compile(t, src, Options{OptLevel: 3, DumpIR: true})
	b := compile(t, src, Options{OptLevel: 3, DumpIR: true})

	assert.Equal(t, string(a.IR), string(b.IR))
	assert.Equal(t, string(a.Asm), string(b.Asm))
}
