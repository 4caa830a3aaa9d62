package sem

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/cmmlang/cmm/compiler/ast"
	"github.com/cmmlang/cmm/compiler/diag"
)

type (
	// Analyzer validates types and scopes over the AST in two passes:
	// first the top-level function signatures, then every body.
	// It keeps going past local errors to surface as many diagnostics
	// per run as possible.
	Analyzer struct {
		errs *diag.Collector

		global *Scope
		cur    *Scope

		fun *FunSymbol // enclosing function during body checks
	}
)

// Analyze checks the program and returns the populated global scope.
// Success is the collector staying empty.
func Analyze(ctx context.Context, prog *ast.Program, errs *diag.Collector) *Scope {
	tr := tlog.SpanFromContext(ctx)

	a := &Analyzer{
		errs:   errs,
		global: NewGlobalScope(),
	}

	a.cur = a.global

	a.declarePass(prog)
	a.bodyPass(prog)
	a.checkMain(prog)

	tr.V("sem").Printw("analyzed", "errs", errs.Len())

	return a.global
}

// declarePass installs every top-level function so calls can resolve
// regardless of declaration order.
func (a *Analyzer) declarePass(prog *ast.Program) {
	for _, d := range prog.Decls {
		f, ok := d.(*ast.FunDecl)
		if !ok {
			continue
		}

		sym := &FunSymbol{
			Name:       f.Name,
			ReturnType: dataType(f.ReturnType),
			IsDefined:  f.Body != nil,
		}

		for _, p := range f.Params {
			t := dataType(p.Type)
			if p.IsArray {
				t = IntArray
			}

			sym.Params = append(sym.Params, ParamType{Name: p.Name, Type: t})
		}

		if err := a.global.Declare(f.Name, sym); err != nil {
			a.errs.Add(diag.Redefinition, f.Line, f.Col, "redefinition of function '%v'", f.Name)
		}
	}
}

func (a *Analyzer) bodyPass(prog *ast.Program) {
	for _, d := range prog.Decls {
		switch d := d.(type) {
		case *ast.VarDecl:
			a.declareVar(d)
		case *ast.FunDecl:
			a.function(d)
		}
	}
}

func (a *Analyzer) declareVar(d *ast.VarDecl) {
	if d.Type == ast.VoidType {
		a.errs.Add(diag.VoidVariable, d.Line, d.Col, "void variable '%v'", d.Name)
		return
	}

	sym := &VarSymbol{
		Name:       d.Name,
		Type:       Int,
		ScopeLevel: a.cur.Level(),
	}

	if d.IsArray() {
		sym.Type = IntArray
		sym.IsArray = true
		sym.ArraySize = d.ArraySize
	}

	if err := a.cur.Declare(d.Name, sym); err != nil {
		a.errs.Add(diag.Redefinition, d.Line, d.Col, "redefinition of '%v'", d.Name)
	}
}

func (a *Analyzer) function(f *ast.FunDecl) {
	sym, _ := a.global.Lookup(f.Name).(*FunSymbol)
	a.fun = sym

	a.cur = a.cur.Child()
	defer func() {
		a.cur = a.cur.Parent()
		a.fun = nil
	}()

	for _, p := range f.Params {
		if p.Type == ast.VoidType {
			a.errs.Add(diag.VoidVariable, p.Line, p.Col, "void parameter '%v'", p.Name)
			continue
		}

		v := &VarSymbol{
			Name:       p.Name,
			Type:       Int,
			IsParam:    true,
			ScopeLevel: a.cur.Level(),
		}

		if p.IsArray {
			v.Type = IntArray
			v.IsArray = true
		}

		if err := a.cur.Declare(p.Name, v); err != nil {
			a.errs.Add(diag.Redefinition, p.Line, p.Col, "redefinition of parameter '%v'", p.Name)
		}
	}

	a.compound(f.Body)
}

func (a *Analyzer) compound(s *ast.CompoundStmt) {
	a.cur = a.cur.Child()
	defer func() { a.cur = a.cur.Parent() }()

	for _, l := range s.Locals {
		a.declareVar(l)
	}

	for _, st := range s.Stmts {
		a.statement(st)
	}
}

func (a *Analyzer) statement(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.CompoundStmt:
		a.compound(s)
	case *ast.IfStmt:
		if t := a.expression(s.Cond); t != Int && t != Unknown {
			line, col := s.Cond.Position()
			a.errs.Add(diag.TypeMismatch, line, col, "condition must be an integer expression")
		}

		a.statement(s.Then)

		if s.Else != nil {
			a.statement(s.Else)
		}
	case *ast.WhileStmt:
		if t := a.expression(s.Cond); t != Int && t != Unknown {
			line, col := s.Cond.Position()
			a.errs.Add(diag.TypeMismatch, line, col, "condition must be an integer expression")
		}

		a.statement(s.Body)
	case *ast.ReturnStmt:
		a.returnStmt(s)
	case *ast.ExprStmt:
		a.expression(s.Expr)
	case *ast.EmptyStmt:
	}
}

func (a *Analyzer) returnStmt(s *ast.ReturnStmt) {
	if a.fun == nil {
		a.errs.Add(diag.ReturnTypeMismatch, s.Line, s.Col, "return statement outside function")
		return
	}

	if s.Expr == nil {
		if a.fun.ReturnType != Void {
			a.errs.Add(diag.ReturnTypeMismatch, s.Line, s.Col, "return type mismatch in function '%v': missing return value", a.fun.Name)
		}

		return
	}

	t := a.expression(s.Expr)
	if t == Unknown {
		return
	}

	if a.fun.ReturnType == Void {
		a.errs.Add(diag.ReturnTypeMismatch, s.Line, s.Col, "return type mismatch in function '%v': void function returns a value", a.fun.Name)
		return
	}

	if t != a.fun.ReturnType {
		a.errs.Add(diag.ReturnTypeMismatch, s.Line, s.Col, "return type mismatch in function '%v': expected %v, got %v", a.fun.Name, a.fun.ReturnType, t)
	}
}

// expression checks the node and returns its type.
// Unknown means an error was already reported below.
func (a *Analyzer) expression(e ast.Expr) DataType {
	switch e := e.(type) {
	case *ast.Number:
		return Int
	case *ast.Variable:
		return a.variable(e)
	case *ast.Call:
		return a.call(e)
	case *ast.UnaryOp:
		t := a.expression(e.Operand)
		if t != Int && t != Unknown {
			a.errs.Add(diag.TypeMismatch, e.Line, e.Col, "unary operation requires integer operand")
			return Unknown
		}

		return Int
	case *ast.BinaryOp:
		if e.Op == "=" {
			return a.assignment(e)
		}

		lt := a.expression(e.Left)
		rt := a.expression(e.Right)

		if lt == Unknown || rt == Unknown {
			return Unknown
		}

		if lt != Int || rt != Int {
			a.errs.Add(diag.TypeMismatch, e.Line, e.Col, "binary operation requires integer operands")
			return Unknown
		}

		return Int
	}

	return Unknown
}

func (a *Analyzer) assignment(e *ast.BinaryOp) DataType {
	v, ok := e.Left.(*ast.Variable)
	if !ok {
		// the parser only builds assignments with a Variable left
		// operand, anything else is a compiler bug
		panic("assignment left operand is not a variable")
	}

	lt := a.variable(v)
	rt := a.expression(e.Right)

	if lt == Unknown || rt == Unknown {
		return Unknown
	}

	if lt == IntArray {
		a.errs.Add(diag.TypeMismatch, e.Line, e.Col, "cannot assign arrays")
		return Unknown
	}

	if lt != Int || rt != Int {
		a.errs.Add(diag.TypeMismatch, e.Line, e.Col, "type mismatch in assignment to '%v'", v.Name)
		return Unknown
	}

	return Int
}

func (a *Analyzer) variable(v *ast.Variable) DataType {
	sym := a.cur.Lookup(v.Name)
	if sym == nil {
		a.errs.Add(diag.UndefinedVariable, v.Line, v.Col, "undefined variable '%v'", v.Name)
		return Unknown
	}

	vs, ok := sym.(*VarSymbol)
	if !ok {
		a.errs.Add(diag.TypeMismatch, v.Line, v.Col, "function '%v' used as a variable", v.Name)
		return Unknown
	}

	if v.Index == nil {
		if vs.IsArray {
			// a bare array reference is only meaningful as an argument
			return IntArray
		}

		return Int
	}

	if !vs.IsArray {
		a.errs.Add(diag.TypeMismatch, v.Line, v.Col, "index applied to non-array variable '%v'", v.Name)
		return Unknown
	}

	if t := a.expression(v.Index); t != Int && t != Unknown {
		line, col := v.Index.Position()
		a.errs.Add(diag.ArrayIndexNotInt, line, col, "array index must be an integer")

		return Unknown
	}

	return Int
}

func (a *Analyzer) call(c *ast.Call) DataType {
	sym := a.cur.Lookup(c.Name)
	if sym == nil {
		a.errs.Add(diag.UndefinedFunction, c.Line, c.Col, "undefined function '%v'", c.Name)
		return Unknown
	}

	fs, ok := sym.(*FunSymbol)
	if !ok {
		a.errs.Add(diag.TypeMismatch, c.Line, c.Col, "'%v' is not a function", c.Name)
		return Unknown
	}

	if len(c.Args) != len(fs.Params) {
		a.errs.Add(diag.SignatureMismatch, c.Line, c.Col, "function '%v' expects %d arguments, got %d", c.Name, len(fs.Params), len(c.Args))
		return fs.ReturnType
	}

	for i, arg := range c.Args {
		t := a.expression(arg)
		if t == Unknown {
			continue
		}

		if t != fs.Params[i].Type {
			line, col := arg.Position()
			a.errs.Add(diag.SignatureMismatch, line, col, "argument %d of '%v' must be %v, got %v", i+1, c.Name, fs.Params[i].Type, t)
		}
	}

	return fs.ReturnType
}

func (a *Analyzer) checkMain(prog *ast.Program) {
	sym := a.global.LookupLocal("main")
	if sym == nil {
		a.errs.Add(diag.MainMissing, 0, 0, "main function missing")
		return
	}

	fs, ok := sym.(*FunSymbol)
	if !ok || fs.ReturnType != Int || len(fs.Params) != 0 {
		line, col := 0, 0

		for _, d := range prog.Decls {
			if f, fok := d.(*ast.FunDecl); fok && f.Name == "main" {
				line, col = f.Line, f.Col
			}
		}

		a.errs.Add(diag.MainInvalid, line, col, "main must be declared as 'int main(void)'")
	}
}

func dataType(t ast.Type) DataType {
	switch t {
	case ast.IntType:
		return Int
	case ast.VoidType:
		return Void
	}

	return Unknown
}
