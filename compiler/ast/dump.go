package ast

import (
	"github.com/nikandfor/hacked/hfmt"
)

// Dump renders the tree one node per line, children indented.
// It is used by stage printing and tests, not by the pipeline itself.
func Dump(n Node) string {
	return string(AppendDump(nil, n, 0))
}

func AppendDump(b []byte, n Node, d int) []byte {
	for i := 0; i < d; i++ {
		b = append(b, "  "...)
	}

	switch n := n.(type) {
	case *Program:
		b = append(b, "Program\n"...)

		for _, dd := range n.Decls {
			b = AppendDump(b, dd, d+1)
		}
	case *VarDecl:
		if n.IsArray() {
			b = hfmt.Appendf(b, "VarDecl %v %v[%v]\n", n.Type, n.Name, n.ArraySize)
		} else {
			b = hfmt.Appendf(b, "VarDecl %v %v\n", n.Type, n.Name)
		}
	case *FunDecl:
		b = hfmt.Appendf(b, "FunDecl %v %v(", n.ReturnType, n.Name)

		for i, p := range n.Params {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = hfmt.Appendf(b, "%v %v", p.Type, p.Name)

			if p.IsArray {
				b = append(b, "[]"...)
			}
		}

		b = append(b, ")\n"...)
		b = AppendDump(b, n.Body, d+1)
	case *CompoundStmt:
		b = append(b, "Compound\n"...)

		for _, l := range n.Locals {
			b = AppendDump(b, l, d+1)
		}

		for _, s := range n.Stmts {
			b = AppendDump(b, s, d+1)
		}
	case *IfStmt:
		b = append(b, "If\n"...)
		b = AppendDump(b, n.Cond, d+1)
		b = AppendDump(b, n.Then, d+1)

		if n.Else != nil {
			b = AppendDump(b, n.Else, d+1)
		}
	case *WhileStmt:
		b = append(b, "While\n"...)
		b = AppendDump(b, n.Cond, d+1)
		b = AppendDump(b, n.Body, d+1)
	case *ReturnStmt:
		b = append(b, "Return\n"...)

		if n.Expr != nil {
			b = AppendDump(b, n.Expr, d+1)
		}
	case *ExprStmt:
		b = append(b, "ExprStmt\n"...)
		b = AppendDump(b, n.Expr, d+1)
	case *EmptyStmt:
		b = append(b, "Empty\n"...)
	case *BinaryOp:
		b = hfmt.Appendf(b, "BinaryOp %v\n", n.Op)
		b = AppendDump(b, n.Left, d+1)
		b = AppendDump(b, n.Right, d+1)
	case *UnaryOp:
		b = hfmt.Appendf(b, "UnaryOp %v\n", n.Op)
		b = AppendDump(b, n.Operand, d+1)
	case *Variable:
		b = hfmt.Appendf(b, "Variable %v\n", n.Name)

		if n.Index != nil {
			b = AppendDump(b, n.Index, d+1)
		}
	case *Call:
		b = hfmt.Appendf(b, "Call %v\n", n.Name)

		for _, a := range n.Args {
			b = AppendDump(b, a, d+1)
		}
	case *Number:
		b = hfmt.Appendf(b, "Number %v\n", n.Value)
	default:
		b = hfmt.Appendf(b, "%T\n", n)
	}

	return b
}
