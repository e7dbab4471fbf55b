// Package source carries source positions and the per-translation-unit
// diagnostic registry shared by every stage of the pipeline.
package source

import (
	"fmt"
	"strings"
)

// Pos is a single point in a source file. Line and Col are 1-based.
type Pos struct {
	Path string
	Line int
	Col  int
}

func (p Pos) String() string {
	return fmt.Sprintf("%s:%d:%d", p.Path, p.Line, p.Col)
}

// IsValid reports whether the position has been filled in.
func (p Pos) IsValid() bool { return p.Line > 0 }

// Span is a half-open region of source text.
type Span struct {
	Start Pos
	End   Pos
}

func (s Span) String() string { return s.Start.String() }

// Category partitions errors by the stage that produced them.
type Category int

const (
	Lex Category = iota
	Syntax
	Semantic
)

var categoryNames = [...]string{
	Lex:      "lex",
	Syntax:   "syntax",
	Semantic: "semantic",
}

func (c Category) String() string {
	if int(c) >= 0 && int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// Error is one diagnostic. Secondary, when set, points at related source
// (the prior definition for redefinition errors).
type Error struct {
	Category  Category
	Span      Span
	Secondary *Span
	Msg       string
}

func (e *Error) Error() string {
	if !e.Span.Start.IsValid() {
		return fmt.Sprintf("%s: %s", e.Category, e.Msg)
	}
	s := fmt.Sprintf("%s: %s: %s", e.Span.Start, e.Category, e.Msg)
	if e.Secondary != nil {
		s += fmt.Sprintf(" (previous at %s)", e.Secondary.Start)
	}
	return s
}

// ErrorList collects every diagnostic for one translation unit. Compilation
// never stops at the first error; stages append and keep going.
type ErrorList struct {
	errs []*Error
}

func (l *ErrorList) Add(cat Category, span Span, format string, args ...any) *Error {
	e := &Error{Category: cat, Span: span, Msg: fmt.Sprintf(format, args...)}
	l.errs = append(l.errs, e)
	return e
}

// AddSecondary records an error that references an earlier definition site.
func (l *ErrorList) AddSecondary(cat Category, span, prev Span, format string, args ...any) *Error {
	e := l.Add(cat, span, format, args...)
	e.Secondary = &prev
	return e
}

func (l *ErrorList) Len() int { return len(l.errs) }

func (l *ErrorList) Errors() []*Error { return l.errs }

// Err returns the list as a single error, or nil when the list is empty.
func (l *ErrorList) Err() error {
	if len(l.errs) == 0 {
		return nil
	}
	return l
}

func (l *ErrorList) Error() string {
	switch len(l.errs) {
	case 0:
		return "no errors"
	case 1:
		return l.errs[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", l.errs[0], len(l.errs)-1)
}

// String renders every diagnostic, one per line.
func (l *ErrorList) String() string {
	var sb strings.Builder
	for _, e := range l.errs {
		sb.WriteString(e.Error())
		sb.WriteByte('\n')
	}
	return sb.String()
}
