package parse

import (
	"strconv"

	"github.com/cmmlang/cmm/compiler/ast"
	"github.com/cmmlang/cmm/compiler/lex"
)

// expression := var '=' expression | simple-expression
//
// Assignment is detected by speculatively parsing an lvalue and
// committing only if the next token is '='. Otherwise the position is
// rewound and the whole thing reparses as a simple expression.
func (p *Parser) expression() (ast.Expr, error) {
	if p.check(lex.Ident) {
		save, emark := p.i, p.errs.Len()

		v, err := p.variable()
		if err == nil && p.check(lex.Assign) {
			t := p.advance()

			rhs, err := p.expression()
			if err != nil {
				return nil, err
			}

			return &ast.BinaryOp{
				Base:  ast.Base{Line: t.Line, Col: t.Col},
				Op:    "=",
				Left:  v,
				Right: rhs,
			}, nil
		}

		p.i = save
		p.errs.Truncate(emark)
	}

	return p.simpleExpression()
}

// var := ID | ID '[' expression ']'
func (p *Parser) variable() (*ast.Variable, error) {
	t := p.peek()
	if t.Kind != lex.Ident {
		return nil, p.errorf("expected variable name, got '%v'", t)
	}

	p.advance()

	v := &ast.Variable{
		Base: ast.Base{Line: t.Line, Col: t.Col},
		Name: t.Lexeme,
	}

	if p.match(lex.LBracket) {
		ix, err := p.expression()
		if err != nil {
			return nil, err
		}

		if !p.match(lex.RBracket) {
			return nil, p.errorf("expected ']' after index")
		}

		v.Index = ix
	}

	return v, nil
}

// simple-expression := additive [relop additive]
//
// At most one comparison, chaining is a syntax error by construction.
func (p *Parser) simpleExpression() (ast.Expr, error) {
	left, err := p.additive()
	if err != nil {
		return nil, err
	}

	switch p.peek().Kind {
	case lex.Lt, lex.Le, lex.Gt, lex.Ge, lex.Eq, lex.Ne:
		t := p.advance()

		right, err := p.additive()
		if err != nil {
			return nil, err
		}

		return &ast.BinaryOp{
			Base:  ast.Base{Line: t.Line, Col: t.Col},
			Op:    t.Lexeme,
			Left:  left,
			Right: right,
		}, nil
	}

	return left, nil
}

// additive := term (('+'|'-') term)*
func (p *Parser) additive() (ast.Expr, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}

	for p.check(lex.Plus) || p.check(lex.Minus) {
		t := p.advance()

		right, err := p.term()
		if err != nil {
			return nil, err
		}

		left = &ast.BinaryOp{
			Base:  ast.Base{Line: t.Line, Col: t.Col},
			Op:    t.Lexeme,
			Left:  left,
			Right: right,
		}
	}

	return left, nil
}

// term := factor (('*'|'/') factor)*
func (p *Parser) term() (ast.Expr, error) {
	left, err := p.factor()
	if err != nil {
		return nil, err
	}

	for p.check(lex.Star) || p.check(lex.Slash) {
		t := p.advance()

		right, err := p.factor()
		if err != nil {
			return nil, err
		}

		left = &ast.BinaryOp{
			Base:  ast.Base{Line: t.Line, Col: t.Col},
			Op:    t.Lexeme,
			Left:  left,
			Right: right,
		}
	}

	return left, nil
}

// factor := '(' expression ')' | var | call | NUM | '-' factor | '!' factor
func (p *Parser) factor() (ast.Expr, error) {
	t := p.peek()

	switch t.Kind {
	case lex.LParen:
		p.advance()

		e, err := p.expression()
		if err != nil {
			return nil, err
		}

		if !p.match(lex.RParen) {
			return nil, p.errorf("expected ')'")
		}

		return e, nil
	case lex.Number:
		p.advance()

		v, err := strconv.ParseInt(t.Lexeme, 10, 64)
		if err != nil {
			return nil, p.errorf("bad number '%v'", t.Lexeme)
		}

		return &ast.Number{
			Base:  ast.Base{Line: t.Line, Col: t.Col},
			Value: v,
		}, nil
	case lex.Minus, lex.Not:
		p.advance()

		operand, err := p.factor()
		if err != nil {
			return nil, err
		}

		return &ast.UnaryOp{
			Base:    ast.Base{Line: t.Line, Col: t.Col},
			Op:      t.Lexeme,
			Operand: operand,
		}, nil
	case lex.Ident:
		// the secondary peek disambiguates id( from id[ and bare id
		if p.peek2().Kind == lex.LParen {
			return p.call()
		}

		return p.variable()
	case lex.Input, lex.Output:
		// built-in names lex as keywords but are callable
		if p.peek2().Kind == lex.LParen {
			return p.call()
		}
	}

	return nil, p.errorf("expected expression, got '%v'", t)
}

// call := ID '(' [expression (',' expression)*] ')'
func (p *Parser) call() (ast.Expr, error) {
	t := p.advance()

	c := &ast.Call{
		Base: ast.Base{Line: t.Line, Col: t.Col},
		Name: t.Lexeme,
	}

	p.advance() // '('

	if p.match(lex.RParen) {
		return c, nil
	}

	for {
		a, err := p.expression()
		if err != nil {
			return nil, err
		}

		c.Args = append(c.Args, a)

		if !p.match(lex.Comma) {
			break
		}
	}

	if !p.match(lex.RParen) {
		return nil, p.errorf("expected ')' after arguments")
	}

	return c, nil
}
