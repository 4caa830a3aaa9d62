package ir

import (
	"fmt"

	"github.com/nikandfor/hacked/hfmt"
)

type (
	Op int

	OperandKind int

	// Operand is a tagged value: a literal, a name (variable, temp or
	// label), or absent. The zero value is None.
	Operand struct {
		Kind OperandKind
		Lit  int64
		Name string
	}

	// Insn is one three-address instruction.
	// Line carries the source line for diagnostics and debug dumps.
	Insn struct {
		Op   Op
		Res  Operand
		A    Operand
		B    Operand
		Line int
	}

	// Func records per-function facts the backend needs beyond the
	// instruction stream itself. Ptr marks parameters bound to array
	// addresses, Arrays maps local array names to their element count.
	Func struct {
		Name   string
		Params []string
		Ptr    map[string]bool
		Arrays map[string]int
		Begin  int // index of FunctionBegin in Program.Insns
		End    int // index of FunctionEnd
	}

	// Global is a file scope variable. Size is the element count for
	// arrays and zero for scalars.
	Global struct {
		Name string
		Size int
	}

	Program struct {
		Insns   []Insn
		Funcs   []Func
		Globals []Global
	}
)

const (
	None OperandKind = iota
	Lit
	Name
)

const (
	Nop Op = iota

	Assign
	Copy
	Add
	Sub
	Mul
	Div
	Mod
	And
	Or
	Not

	Lt
	Le
	Gt
	Ge
	Eq
	Ne

	Label
	Goto
	IfFalse
	IfTrue
	Halt

	Param
	Call
	Return

	FunctionBegin
	FunctionEnd

	ArrayLoad  // Res = A[B]
	ArrayStore // Res[A] = B
)

func L(v int64) Operand  { return Operand{Kind: Lit, Lit: v} }
func N(s string) Operand { return Operand{Kind: Name, Name: s} }

func (o Operand) IsLit() bool  { return o.Kind == Lit }
func (o Operand) IsName() bool { return o.Kind == Name }
func (o Operand) IsNone() bool { return o.Kind == None }

func (o Operand) String() string {
	switch o.Kind {
	case Lit:
		return fmt.Sprintf("%d", o.Lit)
	case Name:
		return o.Name
	}

	return "_"
}

func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}

	return fmt.Sprintf("op(%d)", int(op))
}

var opNames = map[Op]string{
	Nop:           "NOP",
	Assign:        "ASSIGN",
	Copy:          "COPY",
	Add:           "ADD",
	Sub:           "SUB",
	Mul:           "MUL",
	Div:           "DIV",
	Mod:           "MOD",
	And:           "AND",
	Or:            "OR",
	Not:           "NOT",
	Lt:            "LT",
	Le:            "LE",
	Gt:            "GT",
	Ge:            "GE",
	Eq:            "EQ",
	Ne:            "NE",
	Label:         "LABEL",
	Goto:          "GOTO",
	IfFalse:       "IF_FALSE",
	IfTrue:        "IF_TRUE",
	Halt:          "HALT",
	Param:         "PARAM",
	Call:          "CALL",
	Return:        "RETURN",
	FunctionBegin: "FUNCTION_BEGIN",
	FunctionEnd:   "FUNCTION_END",
	ArrayLoad:     "ARRAY_ACCESS",
	ArrayStore:    "ARRAY_ASSIGN",
}

// IsBranch reports whether the instruction transfers control.
func (i Insn) IsBranch() bool {
	switch i.Op {
	case Goto, IfFalse, IfTrue, Return, Halt:
		return true
	}

	return false
}

// Uses returns the operands the instruction reads.
func (i Insn) Uses() (ops []Operand) {
	switch i.Op {
	case Label, Goto, Halt, FunctionBegin, FunctionEnd, Nop:
		return nil
	case IfFalse, IfTrue:
		return []Operand{i.Res}
	case Param, Return:
		if !i.Res.IsNone() {
			return []Operand{i.Res}
		}

		return nil
	case ArrayStore:
		return []Operand{i.Res, i.A, i.B}
	}

	for _, o := range []Operand{i.A, i.B} {
		if !o.IsNone() {
			ops = append(ops, o)
		}
	}

	return ops
}

// Def returns the name the instruction writes, if any.
func (i Insn) Def() (string, bool) {
	switch i.Op {
	case Label, Goto, IfFalse, IfTrue, Halt, Param, Return, FunctionBegin, FunctionEnd, ArrayStore, Nop:
		return "", false
	}

	if i.Res.IsName() {
		return i.Res.Name, true
	}

	return "", false
}

func (i Insn) String() string {
	return string(i.Append(nil))
}

func (i Insn) Append(b []byte) []byte {
	switch i.Op {
	case Label:
		return hfmt.Appendf(b, "%v:", i.Res)
	case Goto:
		return hfmt.Appendf(b, "    GOTO %v", i.Res)
	case IfFalse, IfTrue:
		return hfmt.Appendf(b, "    %v %v GOTO %v", i.Op, i.Res, i.A)
	case Halt:
		return append(b, "    HALT"...)
	case FunctionBegin, FunctionEnd:
		return hfmt.Appendf(b, "%v %v", i.Op, i.Res)
	case Param:
		return hfmt.Appendf(b, "    PARAM %v", i.Res)
	case Return:
		if i.Res.IsNone() {
			return append(b, "    RETURN"...)
		}

		return hfmt.Appendf(b, "    RETURN %v", i.Res)
	case Call:
		return hfmt.Appendf(b, "    %v = CALL %v, %v", i.Res, i.A, i.B)
	case Assign:
		return hfmt.Appendf(b, "    %v = %v", i.Res, i.A)
	case Copy:
		return hfmt.Appendf(b, "    %v = COPY %v", i.Res, i.A)
	case Not:
		return hfmt.Appendf(b, "    %v = NOT %v", i.Res, i.A)
	case ArrayLoad:
		return hfmt.Appendf(b, "    %v = %v[%v]", i.Res, i.A, i.B)
	case ArrayStore:
		return hfmt.Appendf(b, "    %v[%v] = %v", i.Res, i.A, i.B)
	case Nop:
		return append(b, "    NOP"...)
	}

	return hfmt.Appendf(b, "    %v = %v %v, %v", i.Res, i.Op, i.A, i.B)
}

func (p *Program) String() string {
	return string(p.Append(nil))
}

func (p *Program) Append(b []byte) []byte {
	for _, i := range p.Insns {
		b = i.Append(b)
		b = append(b, '\n')
	}

	return b
}

// FuncOf returns the function containing the instruction index.
func (p *Program) FuncOf(i int) *Func {
	for j := range p.Funcs {
		if i >= p.Funcs[j].Begin && i <= p.Funcs[j].End {
			return &p.Funcs[j]
		}
	}

	return nil
}
