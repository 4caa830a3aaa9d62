package main

import (
	"context"
	"fmt"
	"os"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/cmmlang/cmm/compiler"
	"github.com/cmmlang/cmm/compiler/ast"
	"github.com/cmmlang/cmm/compiler/diag"
	"github.com/cmmlang/cmm/compiler/lex"
	"github.com/cmmlang/cmm/compiler/parse"
	"github.com/cmmlang/cmm/compiler/sem"
)

func main() {
	compileCmd := &cli.Command{
		Name:        "compile",
		Description: "compile source files to nasm x86_64 assembly",
		Action:      compileAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("output,o", "", "write assembly to the file instead of stdout"),
			cli.NewFlag("O", 0, "optimization level, 0 to 3"),
			cli.NewFlag("print-tokens", false, "print the token stream"),
			cli.NewFlag("print-ast", false, "print the syntax tree"),
			cli.NewFlag("print-ir", false, "print the intermediate representation"),
			cli.NewFlag("print-cfg", false, "print basic blocks and edges"),
			cli.NewFlag("g", false, "interleave source line comments with the assembly"),
			cli.NewFlag("keep-intermediate,k", false, "write the final ir next to the source file"),
		},
	}

	parseCmd := &cli.Command{
		Name:        "parse",
		Description: "parse source files and print the syntax tree",
		Action:      parseAct,
		Args:        cli.Args{},
	}

	checkCmd := &cli.Command{
		Name:        "check",
		Description: "run semantic analysis and report diagnostics",
		Action:      checkAct,
		Args:        cli.Args{},
	}

	irCmd := &cli.Command{
		Name:        "ir",
		Description: "print the optimized intermediate representation",
		Action:      irAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("O", 0, "optimization level, 0 to 3"),
		},
	}

	app := &cli.Command{
		Name:        "cmmc",
		Description: "cmmc is a compiler for the c-- language",
		Before:      before,
		Commands: []*cli.Command{
			compileCmd,
			parseCmd,
			checkCmd,
			irCmd,
		},
		Flags: []*cli.Flag{
			cli.NewFlag("v", "", "tlog verbosity topics"),
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func before(c *cli.Command) error {
	tlog.SetVerbosity(c.String("v"))

	return nil
}

func compileAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	opts := compiler.Options{
		OptLevel:   c.Int("O"),
		DumpTokens: c.Bool("print-tokens"),
		DumpAST:    c.Bool("print-ast"),
		DumpIR:     c.Bool("print-ir"),
		DumpCFG:    c.Bool("print-cfg"),

		Debug:            c.Bool("g"),
		KeepIntermediate: c.Bool("keep-intermediate"),
	}

	for _, a := range c.Args {
		res, err := compiler.CompileFile(ctx, a, opts)
		if err != nil {
			report(res)

			return errors.Wrap(err, "compile %v", a)
		}

		irDump := res.IR
		if !opts.DumpIR {
			// set for keep-intermediate, not requested on stdout
			irDump = nil
		}

		for _, dump := range [][]byte{res.Tokens, res.AST, irDump, res.CFG} {
			if dump != nil {
				fmt.Printf("%s\n", dump)
			}
		}

		if out := c.String("output"); out != "" {
			err = os.WriteFile(out, res.Asm, 0o644)
			if err != nil {
				return errors.Wrap(err, "write %v", out)
			}
		} else {
			fmt.Printf("%s", res.Asm)
		}
	}

	return nil
}

func parseAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, a := range c.Args {
		prog, _, err := front(ctx, a)
		if err != nil {
			return errors.Wrap(err, "parse %v", a)
		}

		fmt.Printf("%s", ast.Dump(prog))
	}

	return nil
}

func checkAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, a := range c.Args {
		prog, errs, err := front(ctx, a)
		if err != nil {
			return errors.Wrap(err, "check %v", a)
		}

		sem.Analyze(ctx, prog, errs)

		for _, d := range errs.Diagnostics() {
			fmt.Fprintf(os.Stderr, "%v\n", d)
		}

		if !errs.Empty() {
			return errors.New("check %v: %d errors", a, errs.Len())
		}
	}

	return nil
}

func irAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	opts := compiler.Options{
		OptLevel: c.Int("O"),
		DumpIR:   true,
	}

	for _, a := range c.Args {
		res, err := compiler.CompileFile(ctx, a, opts)
		if err != nil {
			report(res)

			return errors.Wrap(err, "compile %v", a)
		}

		fmt.Printf("%s", res.IR)
	}

	return nil
}

// front runs the lexer and the parser, the shared prefix of the
// inspection subcommands.
func front(ctx context.Context, name string) (*ast.Program, *diag.Collector, error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read file")
	}

	toks, err := lex.New(text).Tokenize(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "tokenize")
	}

	var errs diag.Collector

	prog := parse.Parse(ctx, toks, &errs)
	if !errs.Empty() {
		report(&compiler.Result{Diags: errs.Diagnostics()})

		return nil, nil, errors.Wrap(errs.Err(), "parse")
	}

	return prog, &errs, nil
}

func report(res *compiler.Result) {
	if res == nil {
		return
	}

	for _, d := range res.Diags {
		fmt.Fprintf(os.Stderr, "%v\n", d)
	}
}
