package diag

import (
	"fmt"

	"tlog.app/go/loc"
)

type (
	Kind int

	// Diagnostic is a user-facing error with its source location.
	// From records the compiler call site that raised it, for debug dumps.
	Diagnostic struct {
		Kind    Kind
		Message string
		Line    int
		Col     int

		From loc.PC
	}

	Collector struct {
		ds []Diagnostic
	}
)

const (
	LexError Kind = iota
	SyntaxError

	UndefinedVariable
	UndefinedFunction
	Redefinition
	TypeMismatch
	ArrayIndexNotInt
	VoidVariable
	SignatureMismatch
	ReturnTypeMismatch
	MainMissing
	MainInvalid
)

func (k Kind) String() string {
	switch k {
	case LexError:
		return "lex-error"
	case SyntaxError:
		return "syntax-error"
	case UndefinedVariable:
		return "undefined-variable"
	case UndefinedFunction:
		return "undefined-function"
	case Redefinition:
		return "redefinition"
	case TypeMismatch:
		return "type-mismatch"
	case ArrayIndexNotInt:
		return "array-index-not-int"
	case VoidVariable:
		return "void-variable"
	case SignatureMismatch:
		return "function-signature-mismatch"
	case ReturnTypeMismatch:
		return "return-type-mismatch"
	case MainMissing:
		return "main-function-missing"
	case MainInvalid:
		return "main-function-invalid"
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

func (d Diagnostic) String() string {
	switch d.Kind {
	case LexError:
		return d.Message
	case SyntaxError:
		return fmt.Sprintf("Syntax error at line %d, col %d: %s", d.Line, d.Col, d.Message)
	}

	return fmt.Sprintf("Semantic Error at line %d, column %d: %s", d.Line, d.Col, d.Message)
}

func (c *Collector) Add(k Kind, line, col int, format string, args ...interface{}) {
	c.ds = append(c.ds, Diagnostic{
		Kind:    k,
		Message: fmt.Sprintf(format, args...),
		Line:    line,
		Col:     col,
		From:    loc.Caller(1),
	})
}

func (c *Collector) Empty() bool { return len(c.ds) == 0 }

// Truncate drops diagnostics recorded after mark. It backs out records
// made during a speculative parse that was abandoned.
func (c *Collector) Truncate(mark int) { c.ds = c.ds[:mark] }

func (c *Collector) Len() int { return len(c.ds) }

func (c *Collector) Diagnostics() []Diagnostic { return c.ds }

// Err returns nil if no diagnostics were collected,
// otherwise an error rendering the first of them.
func (c *Collector) Err() error {
	if len(c.ds) == 0 {
		return nil
	}

	return diagErr{c.ds}
}

type diagErr struct {
	ds []Diagnostic
}

func (e diagErr) Error() string {
	if len(e.ds) == 1 {
		return e.ds[0].String()
	}

	return fmt.Sprintf("%v (and %d more)", e.ds[0], len(e.ds)-1)
}
