package parse

import (
	"context"
	"strconv"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/cmmlang/cmm/compiler/ast"
	"github.com/cmmlang/cmm/compiler/diag"
	"github.com/cmmlang/cmm/compiler/lex"
)

type (
	// Parser is a recursive descent over the token vector with a one
	// token lookahead plus a secondary peek. Syntax errors are recorded
	// into the collector and recovery resumes at a statement boundary,
	// so a best-effort Program is always produced.
	Parser struct {
		toks []lex.Token
		i    int

		errs *diag.Collector
	}
)

// errSync signals that a syntax error was already recorded and the
// caller should synchronize.
var errSync = errors.New("synchronize")

func New(toks []lex.Token, errs *diag.Collector) *Parser {
	return &Parser{
		toks: toks,
		errs: errs,
	}
}

func Parse(ctx context.Context, toks []lex.Token, errs *diag.Collector) *ast.Program {
	tr := tlog.SpanFromContext(ctx)

	p := New(toks, errs)
	prog := p.Program()

	tr.V("ast").Printw("parsed", "decls", len(prog.Decls), "errs", errs.Len())

	return prog
}

func (p *Parser) Program() *ast.Program {
	prog := &ast.Program{Base: ast.Base{Line: 1, Col: 1}}

	for !p.atEnd() {
		d, err := p.declaration()
		if err != nil {
			p.synchronize()
			continue
		}

		prog.Decls = append(prog.Decls, d)
	}

	return prog
}

// declaration := type ID ';' | type ID '[' NUM ']' ';' | type ID '(' params ')' compound-stmt
func (p *Parser) declaration() (ast.Decl, error) {
	typ, base, err := p.typeSpec()
	if err != nil {
		return nil, err
	}

	name := p.peek()
	if name.Kind != lex.Ident {
		return nil, p.errorf("expected declaration name, got '%v'", name)
	}

	p.advance()

	if p.check(lex.LParen) {
		return p.funDeclaration(typ, base, name.Lexeme)
	}

	return p.varDeclaration(typ, base, name.Lexeme)
}

func (p *Parser) typeSpec() (typ ast.Type, base ast.Base, err error) {
	t := p.peek()
	base = ast.Base{Line: t.Line, Col: t.Col}

	switch t.Kind {
	case lex.Int:
		typ = ast.IntType
	case lex.Void:
		typ = ast.VoidType
	default:
		return typ, base, p.errorf("expected type specifier, got '%v'", t)
	}

	p.advance()

	return typ, base, nil
}

func (p *Parser) varDeclaration(typ ast.Type, base ast.Base, name string) (*ast.VarDecl, error) {
	d := &ast.VarDecl{
		Base:      base,
		Type:      typ,
		Name:      name,
		ArraySize: -1,
	}

	if p.match(lex.LBracket) {
		n := p.peek()
		if n.Kind != lex.Number {
			return nil, p.errorf("expected array size, got '%v'", n)
		}

		size, err := strconv.Atoi(n.Lexeme)
		if err != nil {
			return nil, p.errorf("bad array size '%v'", n.Lexeme)
		}

		p.advance()

		d.ArraySize = size

		if !p.match(lex.RBracket) {
			return nil, p.errorf("expected ']' after array size")
		}
	}

	if !p.match(lex.Semi) {
		return nil, p.errorf("expected ';' after variable declaration")
	}

	return d, nil
}

func (p *Parser) funDeclaration(typ ast.Type, base ast.Base, name string) (*ast.FunDecl, error) {
	d := &ast.FunDecl{
		Base:       base,
		ReturnType: typ,
		Name:       name,
	}

	p.advance() // '('

	params, err := p.params()
	if err != nil {
		return nil, err
	}

	d.Params = params

	if !p.match(lex.RParen) {
		return nil, p.errorf("expected ')' after parameters")
	}

	if !p.check(lex.LBrace) {
		return nil, p.errorf("expected '{' before function body")
	}

	body, err := p.compoundStmt()
	if err != nil {
		return nil, err
	}

	d.Body = body

	return d, nil
}

// params := 'void' | param (',' param)*
func (p *Parser) params() (ps []ast.Param, err error) {
	if p.check(lex.Void) && p.peek2().Kind == lex.RParen {
		p.advance()
		return nil, nil
	}

	if p.check(lex.RParen) {
		return nil, nil
	}

	for {
		par, err := p.param()
		if err != nil {
			return nil, err
		}

		ps = append(ps, par)

		if !p.match(lex.Comma) {
			break
		}
	}

	return ps, nil
}

// param := type ID | type ID '[' ']'
func (p *Parser) param() (par ast.Param, err error) {
	typ, base, err := p.typeSpec()
	if err != nil {
		return par, err
	}

	name := p.peek()
	if name.Kind != lex.Ident {
		return par, p.errorf("expected parameter name, got '%v'", name)
	}

	p.advance()

	par = ast.Param{
		Base: base,
		Type: typ,
		Name: name.Lexeme,
	}

	if p.match(lex.LBracket) {
		if !p.match(lex.RBracket) {
			return par, p.errorf("expected ']' in array parameter")
		}

		par.IsArray = true
	}

	return par, nil
}

// compound-stmt := '{' local-declaration* statement* '}'
func (p *Parser) compoundStmt() (*ast.CompoundStmt, error) {
	t := p.peek()

	if !p.match(lex.LBrace) {
		return nil, p.errorf("expected '{'")
	}

	s := &ast.CompoundStmt{Base: ast.Base{Line: t.Line, Col: t.Col}}

	for p.check(lex.Int) || p.check(lex.Void) {
		typ, base, err := p.typeSpec()
		if err != nil {
			p.synchronize()
			continue
		}

		name := p.peek()
		if name.Kind != lex.Ident {
			_ = p.errorf("expected variable name, got '%v'", name)
			p.synchronize()
			continue
		}

		p.advance()

		d, err := p.varDeclaration(typ, base, name.Lexeme)
		if err != nil {
			p.synchronize()
			continue
		}

		s.Locals = append(s.Locals, d)
	}

	for !p.check(lex.RBrace) && !p.atEnd() {
		st, err := p.statement()
		if err != nil {
			p.synchronize()
			continue
		}

		s.Stmts = append(s.Stmts, st)
	}

	if !p.match(lex.RBrace) {
		return nil, p.errorf("expected '}'")
	}

	return s, nil
}

func (p *Parser) statement() (ast.Stmt, error) {
	switch p.peek().Kind {
	case lex.If:
		return p.selectionStmt()
	case lex.While:
		return p.iterationStmt()
	case lex.Return:
		return p.returnStmt()
	case lex.LBrace:
		return p.compoundStmt()
	}

	return p.expressionStmt()
}

// expression-stmt := expression ';' | ';'
func (p *Parser) expressionStmt() (ast.Stmt, error) {
	t := p.peek()

	if p.match(lex.Semi) {
		return &ast.EmptyStmt{Base: ast.Base{Line: t.Line, Col: t.Col}}, nil
	}

	e, err := p.expression()
	if err != nil {
		return nil, err
	}

	if !p.match(lex.Semi) {
		return nil, p.errorf("expected ';' after expression")
	}

	return &ast.ExprStmt{Base: ast.Base{Line: t.Line, Col: t.Col}, Expr: e}, nil
}

// selection-stmt := 'if' '(' expression ')' statement ['else' statement]
func (p *Parser) selectionStmt() (ast.Stmt, error) {
	t := p.peek()
	p.advance()

	if !p.match(lex.LParen) {
		return nil, p.errorf("expected '(' after 'if'")
	}

	cond, err := p.expression()
	if err != nil {
		return nil, err
	}

	if !p.match(lex.RParen) {
		return nil, p.errorf("expected ')' after condition")
	}

	then, err := p.statement()
	if err != nil {
		return nil, err
	}

	s := &ast.IfStmt{
		Base: ast.Base{Line: t.Line, Col: t.Col},
		Cond: cond,
		Then: then,
	}

	if p.match(lex.Else) {
		s.Else, err = p.statement()
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

// iteration-stmt := 'while' '(' expression ')' statement
func (p *Parser) iterationStmt() (ast.Stmt, error) {
	t := p.peek()
	p.advance()

	if !p.match(lex.LParen) {
		return nil, p.errorf("expected '(' after 'while'")
	}

	cond, err := p.expression()
	if err != nil {
		return nil, err
	}

	if !p.match(lex.RParen) {
		return nil, p.errorf("expected ')' after condition")
	}

	body, err := p.statement()
	if err != nil {
		return nil, err
	}

	return &ast.WhileStmt{
		Base: ast.Base{Line: t.Line, Col: t.Col},
		Cond: cond,
		Body: body,
	}, nil
}

// return-stmt := 'return' [expression] ';'
func (p *Parser) returnStmt() (ast.Stmt, error) {
	t := p.peek()
	p.advance()

	s := &ast.ReturnStmt{Base: ast.Base{Line: t.Line, Col: t.Col}}

	if p.match(lex.Semi) {
		return s, nil
	}

	e, err := p.expression()
	if err != nil {
		return nil, err
	}

	s.Expr = e

	if !p.match(lex.Semi) {
		return nil, p.errorf("expected ';' after return value")
	}

	return s, nil
}

func (p *Parser) atEnd() bool { return p.peek().Kind == lex.EOF }

func (p *Parser) peek() lex.Token { return p.toks[p.i] }

func (p *Parser) peek2() lex.Token {
	if p.i+1 < len(p.toks) {
		return p.toks[p.i+1]
	}

	return p.toks[len(p.toks)-1]
}

func (p *Parser) previous() lex.Token {
	if p.i == 0 {
		return p.toks[0]
	}

	return p.toks[p.i-1]
}

func (p *Parser) advance() lex.Token {
	if !p.atEnd() {
		p.i++
	}

	return p.previous()
}

func (p *Parser) check(k lex.Kind) bool { return p.peek().Kind == k }

func (p *Parser) match(k lex.Kind) bool {
	if !p.check(k) {
		return false
	}

	p.advance()

	return true
}

// errorf records a syntax diagnostic at the current token and returns
// the sentinel that unwinds to the nearest recovery point.
func (p *Parser) errorf(format string, args ...interface{}) error {
	t := p.peek()
	p.errs.Add(diag.SyntaxError, t.Line, t.Col, format, args...)

	return errSync
}

// synchronize advances to the token after the next ';' or to the next
// statement-starting keyword.
func (p *Parser) synchronize() {
	if !p.atEnd() {
		p.advance()
	}

	for !p.atEnd() {
		if p.previous().Kind == lex.Semi {
			return
		}

		switch p.peek().Kind {
		case lex.If, lex.While, lex.Return, lex.Int, lex.Void:
			return
		}

		p.advance()
	}
}
