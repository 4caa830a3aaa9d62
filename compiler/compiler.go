package compiler

import (
	"context"
	"os"
	"time"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/cmmlang/cmm/compiler/ast"
	"github.com/cmmlang/cmm/compiler/back"
	"github.com/cmmlang/cmm/compiler/cfg"
	"github.com/cmmlang/cmm/compiler/df"
	"github.com/cmmlang/cmm/compiler/diag"
	"github.com/cmmlang/cmm/compiler/ir"
	"github.com/cmmlang/cmm/compiler/lex"
	"github.com/cmmlang/cmm/compiler/parse"
	"github.com/cmmlang/cmm/compiler/sem"
)

type (
	// Options select the optimization level and the intermediate
	// artifacts the driver keeps on the Result.
	Options struct {
		OptLevel int // 0 disables the optimizer entirely

		DumpTokens bool
		DumpAST    bool
		DumpIR     bool
		DumpCFG    bool

		Debug            bool // interleave source line comments with the assembly
		KeepIntermediate bool // write the final IR next to the source file
	}

	// Result is what one compilation produced. Asm is set only when
	// every phase succeeded. Diags is set when the source was at
	// fault, as opposed to an internal error.
	Result struct {
		Asm []byte

		Tokens []byte
		AST    []byte
		IR     []byte
		CFG    []byte

		Diags []diag.Diagnostic

		InsnsBefore int
		InsnsAfter  int
		Opt         ir.Stats

		Profile []PhaseTime
	}

	PhaseTime struct {
		Phase   string
		Elapsed time.Duration
	}
)

func CompileFile(ctx context.Context, name string, opts Options) (*Result, error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(text), "name", name)

	res, err := Compile(ctx, name, text, opts)

	if err == nil && opts.KeepIntermediate {
		err = os.WriteFile(name+".ir", res.IR, 0o644)
		if err != nil {
			return res, errors.Wrap(err, "write intermediate")
		}
	}

	return res, err
}

// Compile runs the whole pipeline on one translation unit. The first
// phase that records diagnostics stops the run, the Result then
// carries the records instead of the assembly.
func Compile(ctx context.Context, name string, text []byte, opts Options) (res *Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile", "name", name, "opt", opts.OptLevel)
	defer tr.Finish("err", &err)

	res = &Result{}

	done := res.phase("lex")
	toks, err := lex.New(text).Tokenize(ctx)
	done()

	if err != nil {
		if e, ok := err.(lex.Error); ok {
			res.Diags = []diag.Diagnostic{{
				Kind:    diag.LexError,
				Message: e.Error(),
				Line:    e.Line,
				Col:     e.Col,
			}}
		}

		return res, errors.Wrap(err, "tokenize")
	}

	if opts.DumpTokens {
		for _, t := range toks {
			res.Tokens = append(res.Tokens, t.String()...)
			res.Tokens = append(res.Tokens, '\n')
		}
	}

	var errs diag.Collector

	done = res.phase("parse")
	prog := parse.Parse(ctx, toks, &errs)
	done()

	if !errs.Empty() {
		res.Diags = errs.Diagnostics()
		return res, errors.Wrap(errs.Err(), "parse")
	}

	if opts.DumpAST {
		res.AST = ast.AppendDump(nil, prog, 0)
	}

	done = res.phase("analyze")
	sem.Analyze(ctx, prog, &errs)
	done()

	if !errs.Empty() {
		res.Diags = errs.Diagnostics()
		return res, errors.Wrap(errs.Err(), "analyze")
	}

	done = res.phase("ir")
	p := ir.Generate(ctx, prog)
	done()

	res.InsnsBefore = len(p.Insns)

	if opts.OptLevel >= 1 {
		done = res.phase("optimize")
		res.Opt = ir.Optimize(ctx, p, opts.OptLevel)
		done()
	}

	if opts.OptLevel >= 2 || opts.DumpCFG {
		done = res.phase("cfg")
		gs := cfg.Build(ctx, p)
		done()

		if opts.DumpCFG {
			for _, g := range gs {
				res.CFG = hfmt.Appendf(res.CFG, "%s:\n", g.Func.Name)
				res.CFG = g.Append(res.CFG)
			}
		}

		// block indices go stale after this, graphs are not reused
		if opts.OptLevel >= 2 {
			done = res.phase("dead stores")
			res.Opt.Removed += deadStores(ctx, p, gs)
			done()
		}
	}

	res.InsnsAfter = len(p.Insns)

	if opts.DumpIR || opts.KeepIntermediate {
		res.IR = p.Append(nil)
	}

	done = res.phase("codegen")
	res.Asm, err = (&back.Compiler{Debug: opts.Debug}).Compile(ctx, nil, p)
	done()

	if err != nil {
		return res, errors.Wrap(err, "generate assembly")
	}

	if tr.If("profile") {
		for _, ph := range res.Profile {
			tr.Printw("phase time", "phase", ph.Phase, "elapsed", ph.Elapsed)
		}
	}

	tr.Printw("compiled", "insns_before", res.InsnsBefore, "insns_after", res.InsnsAfter, "asm_bytes", len(res.Asm))

	return res, nil
}

// deadStores runs the liveness driven elimination over every function
// and compacts the stream once if anything was removed.
func deadStores(ctx context.Context, p *ir.Program, gs []*cfg.Graph) (n int) {
	var dead []int

	for _, g := range gs {
		lv := df.LiveVars(ctx, g)
		dead = append(dead, df.DeadStores(ctx, g, lv)...)
	}

	if len(dead) == 0 {
		return 0
	}

	n = df.Eliminate(p, dead)
	ir.Compact(p)

	return n
}

// phase starts the timer for one stage, the returned func records it.
func (r *Result) phase(name string) func() {
	start := time.Now()

	return func() {
		r.Profile = append(r.Profile, PhaseTime{Phase: name, Elapsed: time.Since(start)})
	}
}
