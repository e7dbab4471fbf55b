package compiler

import (
	"os"

	"github.com/pkg/errors"

	"ccir/pkg/ir"
	"ccir/pkg/source"
)

// Config carries everything the pipeline needs besides the root file: the
// include search lists, predefined object-like macros, and the target
// architecture.
type Config struct {
	UserIncludes   []string
	SystemIncludes []string
	Defines        map[string]string
	Target         Target
}

// Compile runs the whole pipeline over one translation unit: scan, parse,
// lower, and per-function CFG prune + re-linearize. The returned error list
// holds every diagnostic; the module is still returned (minus whatever
// failed to lower) so tooling can inspect partial output.
func Compile(path string, cfg Config) (*ir.Module, *source.ErrorList, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading %s", path)
	}
	mod, errs := CompileSource(path, string(src), cfg)
	return mod, errs, nil
}

// CompileSource is Compile over in-memory source text, which is also what
// the tests drive.
func CompileSource(path, src string, cfg Config) (*ir.Module, *source.ErrorList) {
	errs := &source.ErrorList{}
	resolver := &Resolver{User: cfg.UserIncludes, System: cfg.SystemIncludes}
	lx := NewLexer(path, src, resolver, cfg.Defines, errs)
	p := NewParser(lx, cfg.Target, errs)
	tu := p.ParseTranslationUnit()
	mod := Generate(tu, cfg.Target, errs)
	return mod, errs
}

// ParseSource stops the pipeline after the parser, for AST tooling.
func ParseSource(path, src string, cfg Config) (*TranslationUnit, *source.ErrorList) {
	errs := &source.ErrorList{}
	resolver := &Resolver{User: cfg.UserIncludes, System: cfg.SystemIncludes}
	lx := NewLexer(path, src, resolver, cfg.Defines, errs)
	p := NewParser(lx, cfg.Target, errs)
	return p.ParseTranslationUnit(), errs
}
