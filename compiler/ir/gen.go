package ir

import (
	"context"
	"strconv"

	"tlog.app/go/tlog"

	"github.com/cmmlang/cmm/compiler/ast"
)

type (
	// Generator lowers the checked AST into a flat three-address
	// instruction stream. Temps are t0, t1, ... and labels L0, L1, ...
	// numbered from zero for every compilation.
	Generator struct {
		prog *Program
		fn   *Func

		temp  int
		label int
	}
)

// Generate lowers the program. The AST must have passed semantic
// analysis, the generator does not re-check types.
func Generate(ctx context.Context, prog *ast.Program) *Program {
	tr := tlog.SpanFromContext(ctx)

	g := &Generator{
		prog: &Program{},
	}

	for _, d := range prog.Decls {
		switch d := d.(type) {
		case *ast.VarDecl:
			gl := Global{Name: d.Name}
			if d.IsArray() {
				gl.Size = d.ArraySize
			}

			g.prog.Globals = append(g.prog.Globals, gl)
		case *ast.FunDecl:
			if d.Body == nil {
				continue
			}

			g.function(d)
		}
	}

	tr.V("ir").Printw("generated", "insns", len(g.prog.Insns), "funcs", len(g.prog.Funcs))

	if tr.If("ir,dump") {
		tr.Printw("ir dump", "program", tlog.RawMessage(g.prog.String()))
	}

	return g.prog
}

func (g *Generator) emit(i Insn) int {
	g.prog.Insns = append(g.prog.Insns, i)

	return len(g.prog.Insns) - 1
}

func (g *Generator) newTemp() Operand {
	o := N(tempName(g.temp))
	g.temp++

	return o
}

func (g *Generator) newLabel() Operand {
	o := N(labelName(g.label))
	g.label++

	return o
}

func tempName(n int) string {
	return "t" + strconv.Itoa(n)
}

func labelName(n int) string {
	return "L" + strconv.Itoa(n)
}

func (g *Generator) function(f *ast.FunDecl) {
	fn := Func{
		Name:   f.Name,
		Ptr:    map[string]bool{},
		Arrays: map[string]int{},
		Begin:  len(g.prog.Insns),
	}

	for _, p := range f.Params {
		fn.Params = append(fn.Params, p.Name)

		if p.IsArray {
			fn.Ptr[p.Name] = true
		}
	}

	g.fn = &fn

	g.emit(Insn{Op: FunctionBegin, Res: N(f.Name), Line: f.Line})

	g.compound(f.Body)

	// void functions may fall off the end
	last := g.prog.Insns[len(g.prog.Insns)-1]
	if last.Op != Return {
		g.emit(Insn{Op: Return, Line: f.Line})
	}

	fn.End = g.emit(Insn{Op: FunctionEnd, Res: N(f.Name), Line: f.Line})

	g.prog.Funcs = append(g.prog.Funcs, fn)
}

func (g *Generator) compound(s *ast.CompoundStmt) {
	for _, l := range s.Locals {
		if l.IsArray() {
			g.fn.Arrays[l.Name] = l.ArraySize
		}
	}

	for _, st := range s.Stmts {
		g.statement(st)
	}
}

func (g *Generator) statement(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.CompoundStmt:
		g.compound(s)
	case *ast.IfStmt:
		g.ifStmt(s)
	case *ast.WhileStmt:
		g.whileStmt(s)
	case *ast.ReturnStmt:
		if s.Expr == nil {
			g.emit(Insn{Op: Return, Line: s.Line})
			return
		}

		v := g.expression(s.Expr)
		g.emit(Insn{Op: Return, Res: v, Line: s.Line})
	case *ast.ExprStmt:
		g.expression(s.Expr)
	case *ast.EmptyStmt:
	}
}

// ifStmt lowers both forms. Without an else branch a single label
// serves as the end of the statement.
func (g *Generator) ifStmt(s *ast.IfStmt) {
	cond := g.expression(s.Cond)

	els := g.newLabel()

	g.emit(Insn{Op: IfFalse, Res: cond, A: els, Line: s.Line})

	g.statement(s.Then)

	if s.Else == nil {
		g.emit(Insn{Op: Label, Res: els, Line: s.Line})
		return
	}

	end := g.newLabel()

	g.emit(Insn{Op: Goto, Res: end, Line: s.Line})
	g.emit(Insn{Op: Label, Res: els, Line: s.Line})

	g.statement(s.Else)

	g.emit(Insn{Op: Label, Res: end, Line: s.Line})
}

func (g *Generator) whileStmt(s *ast.WhileStmt) {
	loop := g.newLabel()
	end := g.newLabel()

	g.emit(Insn{Op: Label, Res: loop, Line: s.Line})

	cond := g.expression(s.Cond)

	g.emit(Insn{Op: IfFalse, Res: cond, A: end, Line: s.Line})

	g.statement(s.Body)

	g.emit(Insn{Op: Goto, Res: loop, Line: s.Line})
	g.emit(Insn{Op: Label, Res: end, Line: s.Line})
}

// expression lowers the node and returns the operand holding its value.
func (g *Generator) expression(e ast.Expr) Operand {
	switch e := e.(type) {
	case *ast.Number:
		return L(e.Value)
	case *ast.Variable:
		return g.load(e)
	case *ast.Call:
		return g.call(e)
	case *ast.UnaryOp:
		return g.unary(e)
	case *ast.BinaryOp:
		if e.Op == "=" {
			return g.assignment(e)
		}

		return g.binary(e)
	}

	return Operand{}
}

func (g *Generator) load(v *ast.Variable) Operand {
	if v.Index == nil {
		return N(v.Name)
	}

	ix := g.expression(v.Index)
	t := g.newTemp()

	g.emit(Insn{Op: ArrayLoad, Res: t, A: N(v.Name), B: ix, Line: v.Line})

	return t
}

func (g *Generator) assignment(e *ast.BinaryOp) Operand {
	v := e.Left.(*ast.Variable)

	rhs := g.expression(e.Right)

	if v.Index == nil {
		g.emit(Insn{Op: Assign, Res: N(v.Name), A: rhs, Line: e.Line})

		return N(v.Name)
	}

	ix := g.expression(v.Index)

	g.emit(Insn{Op: ArrayStore, Res: N(v.Name), A: ix, B: rhs, Line: e.Line})

	return rhs
}

// unary minus lowers as subtraction from zero, keeping the backend
// to one set of arithmetic templates.
func (g *Generator) unary(e *ast.UnaryOp) Operand {
	x := g.expression(e.Operand)
	t := g.newTemp()

	switch e.Op {
	case "-":
		g.emit(Insn{Op: Sub, Res: t, A: L(0), B: x, Line: e.Line})
	case "!":
		g.emit(Insn{Op: Not, Res: t, A: x, Line: e.Line})
	}

	return t
}

func (g *Generator) binary(e *ast.BinaryOp) Operand {
	lt := g.expression(e.Left)
	rt := g.expression(e.Right)

	t := g.newTemp()

	g.emit(Insn{Op: binOp(e.Op), Res: t, A: lt, B: rt, Line: e.Line})

	return t
}

// call evaluates arguments left to right but emits PARAMs in reverse,
// so the first argument is pushed last and lands closest to the frame.
func (g *Generator) call(c *ast.Call) Operand {
	args := make([]Operand, len(c.Args))

	for i, a := range c.Args {
		args[i] = g.expression(a)
	}

	for i := len(args) - 1; i >= 0; i-- {
		g.emit(Insn{Op: Param, Res: args[i], Line: c.Line})
	}

	t := g.newTemp()

	g.emit(Insn{Op: Call, Res: t, A: N(c.Name), B: L(int64(len(args))), Line: c.Line})

	return t
}

func binOp(op string) Op {
	switch op {
	case "+":
		return Add
	case "-":
		return Sub
	case "*":
		return Mul
	case "/":
		return Div
	case "%":
		return Mod
	case "<":
		return Lt
	case "<=":
		return Le
	case ">":
		return Gt
	case ">=":
		return Ge
	case "==":
		return Eq
	case "!=":
		return Ne
	}

	return Nop
}
