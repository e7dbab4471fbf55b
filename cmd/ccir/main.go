// Command ccir drives the C front end: it compiles a translation unit to
// the textual IR, or dumps the token stream or parse tree for inspection.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/pkg/errors"

	"ccir/pkg/compiler"
	"ccir/pkg/source"
)

// multiFlag collects a repeatable string flag.
type multiFlag []string

func (m *multiFlag) String() string { return fmt.Sprint(*m) }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

// commonFlags are shared by every subcommand.
type commonFlags struct {
	includes multiFlag
	sysIncls multiFlag
	defines  multiFlag
	march    string
}

func (c *commonFlags) register(f *flag.FlagSet) {
	f.Var(&c.includes, "I", "user include directory (repeatable)")
	f.Var(&c.sysIncls, "isystem", "system include directory (repeatable)")
	f.Var(&c.defines, "D", "predefined macro NAME or NAME=VALUE (repeatable)")
	f.StringVar(&c.march, "march", "amd64", "target architecture (i386, amd64, arm32, arm64)")
}

func (c *commonFlags) config() (compiler.Config, error) {
	target, err := compiler.TargetByName(c.march)
	if err != nil {
		return compiler.Config{}, err
	}
	defines := make(map[string]string)
	for _, d := range c.defines {
		name, value := d, "1"
		for i := 0; i < len(d); i++ {
			if d[i] == '=' {
				name, value = d[:i], d[i+1:]
				break
			}
		}
		defines[name] = value
	}
	return compiler.Config{
		UserIncludes:   c.includes,
		SystemIncludes: c.sysIncls,
		Defines:        defines,
		Target:         target,
	}, nil
}

func reportErrors(errs *source.ErrorList) {
	for _, e := range errs.Errors() {
		fmt.Fprintln(os.Stderr, e)
	}
}

// buildCmd compiles one file to textual IR.
type buildCmd struct {
	commonFlags
	out string
}

func (*buildCmd) Name() string     { return "build" }
func (*buildCmd) Synopsis() string { return "Compile a C file to textual IR" }
func (*buildCmd) Usage() string {
	return `build [-I dir] [-isystem dir] [-D name[=value]] [-march arch] [-o out] file.c:
  Compile one translation unit and print its IR module.
`
}

func (b *buildCmd) SetFlags(f *flag.FlagSet) {
	b.register(f)
	f.StringVar(&b.out, "o", "", "write IR to this file instead of stdout")
}

func (b *buildCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "build: exactly one input file required")
		return subcommands.ExitUsageError
	}
	cfg, err := b.config()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}

	mod, errs, err := compiler.Compile(f.Arg(0), cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if errs.Len() > 0 {
		reportErrors(errs)
		return subcommands.ExitFailure
	}

	text := mod.String()
	if b.out == "" {
		fmt.Print(text)
		return subcommands.ExitSuccess
	}
	if err := os.WriteFile(b.out, []byte(text), 0o644); err != nil {
		fmt.Fprintln(os.Stderr, errors.Wrap(err, "writing output"))
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// tokensCmd dumps the token stream after preprocessing.
type tokensCmd struct {
	commonFlags
}

func (*tokensCmd) Name() string     { return "tokens" }
func (*tokensCmd) Synopsis() string { return "Dump the preprocessed token stream" }
func (*tokensCmd) Usage() string {
	return `tokens [flags] file.c:
  Scan one translation unit and print each token.
`
}

func (t *tokensCmd) SetFlags(f *flag.FlagSet) { t.register(f) }

func (t *tokensCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "tokens: exactly one input file required")
		return subcommands.ExitUsageError
	}
	cfg, err := t.config()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	src, err := os.ReadFile(f.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	errs := &source.ErrorList{}
	lx := compiler.NewLexer(f.Arg(0), string(src),
		&compiler.Resolver{User: cfg.UserIncludes, System: cfg.SystemIncludes},
		cfg.Defines, errs)
	for _, tok := range lx.ScanAll() {
		fmt.Println(tok)
	}
	if errs.Len() > 0 {
		reportErrors(errs)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// astCmd dumps the parse tree as re-parseable C text.
type astCmd struct {
	commonFlags
}

func (*astCmd) Name() string     { return "ast" }
func (*astCmd) Synopsis() string { return "Dump the parse tree" }
func (*astCmd) Usage() string {
	return `ast [flags] file.c:
  Parse one translation unit and pretty-print the AST.
`
}

func (a *astCmd) SetFlags(f *flag.FlagSet) { a.register(f) }

func (a *astCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "ast: exactly one input file required")
		return subcommands.ExitUsageError
	}
	cfg, err := a.config()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	src, err := os.ReadFile(f.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	tu, errs := compiler.ParseSource(f.Arg(0), string(src), cfg)
	fmt.Print(tu.String())
	if errs.Len() > 0 {
		reportErrors(errs)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&buildCmd{}, "")
	subcommands.Register(&tokensCmd{}, "")
	subcommands.Register(&astCmd{}, "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}
