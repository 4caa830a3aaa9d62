package lex

import (
	"context"
	"fmt"

	"tlog.app/go/tlog"
)

type (
	Lexer struct {
		b []byte

		i    int
		line int
		col  int
	}

	// Error is an unrecognized input character. It aborts the run.
	Error struct {
		Ch   byte
		Line int
		Col  int
	}
)

func New(text []byte) *Lexer {
	return &Lexer{
		b:    text,
		line: 1,
		col:  1,
	}
}

// Tokenize consumes the whole source and returns the token stream.
// The stream always ends with exactly one EOF token.
func (l *Lexer) Tokenize(ctx context.Context) (toks []Token, err error) {
	tr := tlog.SpanFromContext(ctx)

	for {
		t, err := l.next()
		if err != nil {
			return toks, err
		}

		toks = append(toks, t)

		if t.Kind == EOF {
			break
		}
	}

	tr.V("tokens").Printw("tokenized", "tokens", len(toks), "lines", l.line)

	return toks, nil
}

func (l *Lexer) next() (t Token, err error) {
	l.skipSpacesAndComments()

	line, col := l.line, l.col

	if l.i == len(l.b) {
		return Token{Kind: EOF, Line: line, Col: col}, nil
	}

	c := l.b[l.i]

	switch {
	case isDigit(c):
		st := l.i
		for l.i < len(l.b) && isDigit(l.b[l.i]) {
			l.step()
		}

		return Token{Kind: Number, Lexeme: string(l.b[st:l.i]), Line: line, Col: col}, nil
	case isIdentStart(c):
		st := l.i
		for l.i < len(l.b) && isIdentPart(l.b[l.i]) {
			l.step()
		}

		lex := string(l.b[st:l.i])

		k, ok := keywords[lex]
		if !ok {
			k = Ident
		}

		return Token{Kind: k, Lexeme: lex, Line: line, Col: col}, nil
	}

	// two-character operators are matched before their prefixes
	if l.i+1 < len(l.b) && l.b[l.i+1] == '=' {
		var k Kind

		switch c {
		case '=':
			k = Eq
		case '!':
			k = Ne
		case '<':
			k = Le
		case '>':
			k = Ge
		}

		if k != 0 {
			l.step()
			l.step()

			return Token{Kind: k, Lexeme: string([]byte{c, '='}), Line: line, Col: col}, nil
		}
	}

	var k Kind

	switch c {
	case '=':
		k = Assign
	case '!':
		k = Not
	case '<':
		k = Lt
	case '>':
		k = Gt
	case '+':
		k = Plus
	case '-':
		k = Minus
	case '*':
		k = Star
	case '/':
		k = Slash
	case '{':
		k = LBrace
	case '}':
		k = RBrace
	case '(':
		k = LParen
	case ')':
		k = RParen
	case '[':
		k = LBracket
	case ']':
		k = RBracket
	case ';':
		k = Semi
	case ',':
		k = Comma
	default:
		return t, Error{Ch: c, Line: line, Col: col}
	}

	l.step()

	return Token{Kind: k, Lexeme: string(c), Line: line, Col: col}, nil
}

func (l *Lexer) skipSpacesAndComments() {
	for l.i < len(l.b) {
		c := l.b[l.i]

		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.step()
		case c == '/' && l.i+1 < len(l.b) && l.b[l.i+1] == '/':
			for l.i < len(l.b) && l.b[l.i] != '\n' {
				l.step()
			}
		case c == '/' && l.i+1 < len(l.b) && l.b[l.i+1] == '*':
			l.step()
			l.step()

			for l.i < len(l.b) {
				if l.b[l.i] == '*' && l.i+1 < len(l.b) && l.b[l.i+1] == '/' {
					l.step()
					l.step()

					break
				}

				l.step()
			}
		default:
			return
		}
	}
}

func (l *Lexer) step() {
	if l.b[l.i] == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}

	l.i++
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }

func (e Error) Error() string {
	return fmt.Sprintf("Unexpected character: %c", e.Ch)
}
