// Package ir defines the typed linear intermediate representation produced
// by the front end: values, instructions, function bodies, module globals,
// and the basic-block machinery used to prune and re-linearize functions.
package ir

import (
	"fmt"
	"strings"
)

// Type is the machine-level type of an IR value.
type Type interface {
	irType()
	String() string
}

type VoidType struct{}

func (VoidType) irType()        {}
func (VoidType) String() string { return "void" }

// BoolType is the result type of every comparison.
type BoolType struct{}

func (BoolType) irType()        {}
func (BoolType) String() string { return "bool" }

// IntType is a fixed-width integer. Signedness is not part of the printed
// name; it selects the arithmetic variant for div, mod, shr, and the
// ordered comparisons.
type IntType struct {
	Bits     int
	Unsigned bool
}

func (IntType) irType()          {}
func (t IntType) String() string { return fmt.Sprintf("i%d", t.Bits) }

type FloatType struct {
	Bits int
}

func (FloatType) irType()          {}
func (t FloatType) String() string { return fmt.Sprintf("f%d", t.Bits) }

type PointerType struct {
	Elem Type
}

func (PointerType) irType()          {}
func (t PointerType) String() string { return "*" + t.Elem.String() }

type ArrayType struct {
	Elem Type
	Len  int64
}

func (ArrayType) irType() {}
func (t ArrayType) String() string {
	return fmt.Sprintf("[%s;%d]", t.Elem, t.Len)
}

// StructType is a named aggregate. Names are unique per module
// (struct.Tag_0, struct.Tag_1, ...); Fields holds the member types in
// declaration order.
type StructType struct {
	Name   string
	Union  bool
	Fields []Type
}

func (*StructType) irType()          {}
func (t *StructType) String() string { return t.Name }

type FuncType struct {
	Ret      Type
	Params   []Type
	Variadic bool
}

func (*FuncType) irType() {}
func (t *FuncType) String() string {
	var sb strings.Builder
	sb.WriteString("func(")
	for i, p := range t.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.String())
	}
	if t.Variadic {
		if len(t.Params) > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("...")
	}
	sb.WriteString(") ")
	sb.WriteString(t.Ret.String())
	return sb.String()
}

// TypesEqual is structural equality over IR types. Signedness of integers
// participates: i32 and unsigned i32 are distinct operand types.
func TypesEqual(a, b Type) bool {
	switch x := a.(type) {
	case VoidType:
		_, ok := b.(VoidType)
		return ok
	case BoolType:
		_, ok := b.(BoolType)
		return ok
	case IntType:
		y, ok := b.(IntType)
		return ok && x == y
	case FloatType:
		y, ok := b.(FloatType)
		return ok && x == y
	case PointerType:
		y, ok := b.(PointerType)
		return ok && TypesEqual(x.Elem, y.Elem)
	case ArrayType:
		y, ok := b.(ArrayType)
		return ok && x.Len == y.Len && TypesEqual(x.Elem, y.Elem)
	case *StructType:
		y, ok := b.(*StructType)
		return ok && x.Name == y.Name
	case *FuncType:
		y, ok := b.(*FuncType)
		if !ok || x.Variadic != y.Variadic || len(x.Params) != len(y.Params) || !TypesEqual(x.Ret, y.Ret) {
			return false
		}
		for i := range x.Params {
			if !TypesEqual(x.Params[i], y.Params[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// IsAggregate reports whether t is an array or struct type.
func IsAggregate(t Type) bool {
	switch t.(type) {
	case ArrayType, *StructType:
		return true
	}
	return false
}
