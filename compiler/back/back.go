package back

import (
	"context"
	"fmt"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/cmmlang/cmm/compiler/ir"
)

type (
	// Compiler renders IR as assembly text. Debug interleaves source
	// line comments with the instructions.
	Compiler struct {
		Debug bool
	}

	// emitter holds the per-function state: the frame layout, the
	// register allocator and the output buffer.
	emitter struct {
		b []byte

		p  *ir.Program
		fn *ir.Func
		a  *Allocator

		off     map[string]int // scalar slots and params, rbp relative
		base    map[string]int // local array base offsets
		size    int
		globals map[string]int // element count, 0 means scalar
	}
)

func New() *Compiler {
	return &Compiler{}
}

// Compile renders the program as nasm x86_64 text. The _start stub
// calls main and exits with its return value, the io runtime and the
// data sections are appended after the user functions.
func (c *Compiler) Compile(ctx context.Context, b []byte, p *ir.Program) (_ []byte, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "back: compile", "funcs", len(p.Funcs))
	defer tr.Finish("err", &err)

	globals := map[string]int{}

	for _, g := range p.Globals {
		globals[g.Name] = g.Size
	}

	b = fmt.Appendf(b, `global _start

section .text

_start:
    call main
    mov rdi, rax
    call exit
`)

	for f := range p.Funcs {
		b = append(b, '\n')

		b, err = c.compileFunc(ctx, b, p, &p.Funcs[f], globals)
		if err != nil {
			return nil, errors.Wrap(err, "func %v", p.Funcs[f].Name)
		}
	}

	b = appendRuntime(b)
	b = appendData(b, p.Globals)

	tr.V("asm").Printw("compiled", "bytes", len(b))

	return b, nil
}

func (c *Compiler) compileFunc(ctx context.Context, b []byte, p *ir.Program, fn *ir.Func, globals map[string]int) (_ []byte, err error) {
	tr := tlog.SpanFromContext(ctx)

	e := &emitter{
		b:       b,
		p:       p,
		fn:      fn,
		globals: globals,
	}

	e.plan()

	e.a = NewAllocator(
		func(r Reg, name string) { e.printf("    mov %s, %v\n", e.slot(name), r) },
		func(r Reg, name string) { e.printf("    mov %v, %s\n", r, e.slot(name)) },
	)

	line := 0

	for j := fn.Begin; j <= fn.End; j++ {
		if c.Debug && p.Insns[j].Line != 0 && p.Insns[j].Line != line {
			line = p.Insns[j].Line
			e.printf("    ; line %d\n", line)
		}

		err = e.insn(p.Insns[j])
		if err != nil {
			return nil, errors.Wrap(err, "insn %d (%v)", j, p.Insns[j].Op)
		}
	}

	tr.V("asm").Printw("func", "name", fn.Name, "frame", e.size, "callee_saved", e.a.CalleeSaved())

	return e.b, nil
}

// plan assigns every scalar and array its stable frame offset.
// Parameters sit above the saved rbp and return address, locals and
// temporaries go downward from rbp, arrays as contiguous runs.
func (e *emitter) plan() {
	e.off = map[string]int{}
	e.base = map[string]int{}

	for i, p := range e.fn.Params {
		e.off[p] = 16 + 8*i
	}

	cur := 8

	place := func(name string) {
		if _, ok := e.off[name]; ok {
			return
		}

		if _, ok := e.base[name]; ok {
			return
		}

		if _, ok := e.globals[name]; ok {
			return
		}

		if n, ok := e.fn.Arrays[name]; ok {
			e.base[name] = -(cur + 8*(n-1))
			cur += 8 * n

			return
		}

		e.off[name] = -cur
		cur += 8
	}

	for j := e.fn.Begin; j <= e.fn.End; j++ {
		i := e.p.Insns[j]

		switch i.Op {
		case ir.Label, ir.Goto, ir.FunctionBegin, ir.FunctionEnd:
			continue
		}

		if i.Res.IsName() {
			place(i.Res.Name)
		}

		if i.A.IsName() && i.Op != ir.IfFalse && i.Op != ir.IfTrue && i.Op != ir.Call {
			place(i.A.Name)
		}

		if i.B.IsName() {
			place(i.B.Name)
		}
	}

	total := cur - 8

	e.size = 64
	for e.size < total {
		e.size += 16
	}
}

func (e *emitter) printf(format string, args ...interface{}) {
	e.b = hfmt.Appendf(e.b, format, args...)
}

// slot renders the memory operand of a scalar name.
func (e *emitter) slot(name string) string {
	if off, ok := e.off[name]; ok {
		return fmt.Sprintf("qword [rbp%+d]", off)
	}

	if _, ok := e.globals[name]; ok {
		return fmt.Sprintf("qword [v$%s]", name)
	}

	panic("no slot for " + name)
}

// val returns a register holding the operand. The second result tells
// the caller to release it, true only for literal scratches.
func (e *emitter) val(o ir.Operand) (Reg, bool) {
	if o.IsLit() {
		r := e.a.Scratch()
		e.printf("    mov %v, %d\n", r, o.Lit)

		return r, true
	}

	return e.a.Load(o.Name), false
}

func (e *emitter) release(r Reg, scratch bool) {
	e.a.Unpin(r)

	if scratch {
		e.a.Release(r)
	}
}

func (e *emitter) insn(i ir.Insn) error {
	switch i.Op {
	case ir.FunctionBegin:
		e.printf("%s:\n", i.Res.Name)
		e.printf("    push rbp\n    mov rbp, rsp\n    sub rsp, %d\n", e.size)
	case ir.FunctionEnd:
		// the stream always ends with a return, nothing to emit
	case ir.Label:
		e.a.Flush()
		e.printf("%s:\n", i.Res.Name)
	case ir.Goto:
		e.a.Flush()
		e.printf("    jmp %s\n", i.Res.Name)
	case ir.IfFalse, ir.IfTrue:
		e.a.Flush()

		jump := "jz"
		if i.Op == ir.IfTrue {
			jump = "jnz"
		}

		r, sc := e.val(i.Res)
		e.printf("    test %v, %v\n    %s %s\n", r, r, jump, i.A.Name)
		e.release(r, sc)
	case ir.Halt:
		e.a.Flush()
		e.printf("    xor rdi, rdi\n    call exit\n")
	case ir.Assign, ir.Copy:
		rs, sc := e.val(i.A)
		e.a.Pin(rs)

		rd := e.a.Def(i.Res.Name)
		e.printf("    mov %v, %v\n", rd, rs)

		e.release(rs, sc)
	case ir.Add, ir.Sub, ir.Mul:
		e.arith(i)
	case ir.Div, ir.Mod:
		e.divide(i)
	case ir.And, ir.Or:
		e.logical(i)
	case ir.Lt, ir.Le, ir.Gt, ir.Ge, ir.Eq, ir.Ne:
		e.compare(i)
	case ir.Not:
		r, sc := e.val(i.A)
		e.a.Pin(r)

		rd := e.a.Def(i.Res.Name)
		e.printf("    test %v, %v\n    setz al\n    movzx %v, al\n", r, r, rd)

		e.release(r, sc)
	case ir.Param:
		e.param(i)
	case ir.Call:
		e.a.Flush()
		e.printf("    call %s\n", i.A.Name)

		if n := i.B.Lit; n > 0 {
			e.printf("    add rsp, %d\n", 8*n)
		}

		rd := e.a.Def(i.Res.Name)
		e.printf("    mov %v, rax\n", rd)
	case ir.Return:
		if !i.Res.IsNone() {
			r, sc := e.val(i.Res)
			e.printf("    mov rax, %v\n", r)
			e.release(r, sc)
		} else {
			e.printf("    xor rax, rax\n")
		}

		e.a.Flush()
		e.printf("    mov rsp, rbp\n    pop rbp\n    ret\n")
	case ir.ArrayLoad:
		e.arrayLoad(i)
	case ir.ArrayStore:
		e.arrayStore(i)
	case ir.Nop:
	default:
		return errors.New("unsupported op %v", i.Op)
	}

	return nil
}

var arithInsn = map[ir.Op]string{
	ir.Add: "add",
	ir.Sub: "sub",
	ir.Mul: "imul",
}

func (e *emitter) arith(i ir.Insn) {
	r1, sc1 := e.val(i.A)
	e.a.Pin(r1)

	r2, sc2 := e.val(i.B)
	e.a.Pin(r2)

	rd := e.a.Def(i.Res.Name)
	e.printf("    mov %v, %v\n    %s %v, %v\n", rd, r1, arithInsn[i.Op], rd, r2)

	e.release(r1, sc1)
	e.release(r2, sc2)
}

// divide routes through rax/rdx as idiv demands. The zero check jumps
// into the runtime which never returns.
func (e *emitter) divide(i ir.Insn) {
	r2, sc2 := e.val(i.B)
	e.a.Pin(r2)

	e.printf("    test %v, %v\n    jz div_by_zero\n", r2, r2)

	r1, sc1 := e.val(i.A)
	e.a.Pin(r1)

	e.printf("    mov rax, %v\n    cqo\n    idiv %v\n", r1, r2)

	rd := e.a.Def(i.Res.Name)

	if i.Op == ir.Div {
		e.printf("    mov %v, rax\n", rd)
	} else {
		e.printf("    mov %v, rdx\n", rd)
	}

	e.release(r1, sc1)
	e.release(r2, sc2)
}

// logical normalizes both operands to 0 or 1 before combining them.
// al and dl are safe scratches, rax and rdx never enter the pool.
func (e *emitter) logical(i ir.Insn) {
	r1, sc1 := e.val(i.A)
	e.a.Pin(r1)

	r2, sc2 := e.val(i.B)
	e.a.Pin(r2)

	op := "and"
	if i.Op == ir.Or {
		op = "or"
	}

	rd := e.a.Def(i.Res.Name)
	e.printf("    test %v, %v\n    setne al\n    test %v, %v\n    setne dl\n    %s al, dl\n    movzx %v, al\n", r1, r1, r2, r2, op, rd)

	e.release(r1, sc1)
	e.release(r2, sc2)
}

var setInsn = map[ir.Op]string{
	ir.Lt: "setl",
	ir.Le: "setle",
	ir.Gt: "setg",
	ir.Ge: "setge",
	ir.Eq: "sete",
	ir.Ne: "setne",
}

func (e *emitter) compare(i ir.Insn) {
	r1, sc1 := e.val(i.A)
	e.a.Pin(r1)

	r2, sc2 := e.val(i.B)
	e.a.Pin(r2)

	rd := e.a.Def(i.Res.Name)
	e.printf("    cmp %v, %v\n    %s al\n    movzx %v, al\n", r1, r2, setInsn[i.Op], rd)

	e.release(r1, sc1)
	e.release(r2, sc2)
}

// param pushes one argument. Arrays go by address, a local array by
// lea from its frame run, a global by its symbol, a forwarded array
// parameter by its stored pointer.
func (e *emitter) param(i ir.Insn) {
	o := i.Res

	if o.IsName() {
		name := o.Name

		if b, ok := e.base[name]; ok {
			r := e.a.Scratch()
			e.printf("    lea %v, [rbp%+d]\n    push %v\n", r, b, r)
			e.a.Release(r)

			return
		}

		if n, ok := e.globals[name]; ok && n > 0 {
			r := e.a.Scratch()
			e.printf("    lea %v, [v$%s]\n    push %v\n", r, name, r)
			e.a.Release(r)

			return
		}
	}

	r, sc := e.val(o)
	e.printf("    push %v\n", r)
	e.release(r, sc)
}

func (e *emitter) arrayLoad(i ir.Insn) {
	name := i.A.Name

	ri, sci := e.val(i.B)
	e.a.Pin(ri)

	switch {
	case e.isLocalArray(name):
		rd := e.a.Def(i.Res.Name)
		e.printf("    mov %v, [rbp%+d+%v*8]\n", rd, e.base[name], ri)
	case e.isGlobal(name):
		rd := e.a.Def(i.Res.Name)
		e.printf("    mov %v, [v$%s+%v*8]\n", rd, name, ri)
	default:
		// array parameter, the slot holds the address
		rb := e.a.Load(name)
		e.a.Pin(rb)

		rd := e.a.Def(i.Res.Name)
		e.printf("    mov %v, [%v+%v*8]\n", rd, rb, ri)
		e.a.Unpin(rb)
	}

	e.release(ri, sci)
}

func (e *emitter) arrayStore(i ir.Insn) {
	name := i.Res.Name

	ri, sci := e.val(i.A)
	e.a.Pin(ri)

	rv, scv := e.val(i.B)
	e.a.Pin(rv)

	switch {
	case e.isLocalArray(name):
		e.printf("    mov [rbp%+d+%v*8], %v\n", e.base[name], ri, rv)
	case e.isGlobal(name):
		e.printf("    mov [v$%s+%v*8], %v\n", name, ri, rv)
	default:
		rb := e.a.Load(name)
		e.printf("    mov [%v+%v*8], %v\n", rb, ri, rv)
	}

	e.release(ri, sci)
	e.release(rv, scv)
}

func (e *emitter) isLocalArray(name string) bool {
	_, ok := e.base[name]
	return ok
}

func (e *emitter) isGlobal(name string) bool {
	_, ok := e.globals[name]
	return ok
}
