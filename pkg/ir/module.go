package ir

import (
	"fmt"
	"strings"
)

// Init is a constant initializer for a global. Exactly one field is used:
// Scalar for arithmetic constants, Sym for the address of another global,
// Str for string-literal bytes (NUL included), List for aggregates, or
// Zero.
type Init struct {
	Scalar *Const
	Sym    string
	Str    string
	List   []*Init
	Zero   bool
}

func (in *Init) String() string {
	switch {
	case in == nil || in.Zero:
		return "zero"
	case in.Scalar != nil:
		return in.Scalar.String()
	case in.Sym != "":
		return "@" + in.Sym
	case in.Str != "":
		return fmt.Sprintf("%q", in.Str)
	default:
		parts := make([]string, len(in.List))
		for i, e := range in.List {
			parts[i] = e.String()
		}
		return "{ " + strings.Join(parts, ", ") + " }"
	}
}

// Global is a module-level variable. String literals are interned as
// anonymous globals named "0", "1", ... and print as @0, @1.
type Global struct {
	Name string
	Typ  Type
	Init *Init
}

func (g *Global) String() string {
	if g.Init == nil {
		return fmt.Sprintf("@%s : %s", g.Name, g.Typ)
	}
	return fmt.Sprintf("@%s : %s = %s", g.Name, g.Typ, g.Init.String())
}

// Function is one function definition: its type, the named parameter
// variables in order, and the linear instruction body.
type Function struct {
	Name   string
	Typ    *FuncType
	Params []*Var
	Body   []*Instr
}

func (f *Function) String() string {
	var sb strings.Builder
	sb.WriteString("func ")
	sb.WriteString(f.Typ.Ret.String())
	sb.WriteByte(' ')
	sb.WriteString(f.Name)
	sb.WriteByte('(')
	for i, p := range f.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.String())
	}
	if f.Typ.Variadic {
		if len(f.Params) > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("...")
	}
	sb.WriteString(") {\n")
	for _, in := range f.Body {
		sb.WriteString("  ")
		sb.WriteString(in.String())
		sb.WriteByte('\n')
	}
	sb.WriteString("}\n")
	return sb.String()
}

// Module is the unit of output: globals first, then functions.
type Module struct {
	Globals []*Global
	Funcs   []*Function
}

func (m *Module) String() string {
	var sb strings.Builder
	for _, g := range m.Globals {
		sb.WriteString(g.String())
		sb.WriteByte('\n')
	}
	if len(m.Globals) > 0 && len(m.Funcs) > 0 {
		sb.WriteByte('\n')
	}
	for i, f := range m.Funcs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(f.String())
	}
	return sb.String()
}

// Func returns the function with the given name, or nil.
func (m *Module) Func(name string) *Function {
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}
