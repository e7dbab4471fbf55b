package compiler

import (
	"fmt"
	"strings"

	"ccir/pkg/source"
)

// StorageClass is the declared storage class of a declaration.
type StorageClass int

const (
	StorageNone StorageClass = iota
	StorageTypedef
	StorageExtern
	StorageStatic
	StorageAuto
	StorageRegister
)

// TypeKind discriminates the payload of Type.
type TypeKind int

const (
	KindVoid TypeKind = iota
	KindInteger
	KindFloating
	KindPointer
	KindArray
	KindFunc
	KindRecord // struct or union
	KindEnum
	KindBuiltin
	KindError // poison type carried by failed lowerings
)

// IntRank orders the integer conversion ranks. Bool is unsigned.
type IntRank int

const (
	RankBool IntRank = iota
	RankChar
	RankShort
	RankInt
	RankLong
	RankLongLong
)

var intRankNames = [...]string{
	RankBool:     "_Bool",
	RankChar:     "char",
	RankShort:    "short",
	RankInt:      "int",
	RankLong:     "long",
	RankLongLong: "long long",
}

// FloatRank orders the floating ranks.
type FloatRank int

const (
	RankFloat FloatRank = iota
	RankDouble
	RankLongDouble
)

var floatRankNames = [...]string{
	RankFloat:      "float",
	RankDouble:     "double",
	RankLongDouble: "long double",
}

// Field is one struct/union member. Bits is the declared bitfield width, or
// -1 when the member is not a bitfield.
type Field struct {
	Name string
	Type *Type
	Bits int
}

// Param is one function parameter. Name is empty for abstract declarators.
type Param struct {
	Name string
	Type *Type
}

// EnumMember is one enumerator with its resolved constant value.
type EnumMember struct {
	Name  string
	Value int64
}

// Type is the C type envelope: storage class and qualifiers shared by every
// kind, plus the kind-specific payload. Record and enum types defined under
// a tag are shared by pointer so that completing the tag completes every
// reference to it.
type Type struct {
	Kind     TypeKind
	Storage  StorageClass
	Const    bool
	Volatile bool

	// KindInteger
	Signed bool
	IRank  IntRank

	// KindFloating
	FRank FloatRank

	// KindPointer
	Base     *Type
	Restrict bool

	// KindArray
	Elem     *Type
	Len      int64
	LenKnown bool

	// KindFunc
	Ret      *Type
	Params   []Param
	Variadic bool

	// KindRecord / KindEnum
	Union    bool
	Tag      string // synthetic for anonymous records, unique per unit
	Fields   []Field
	Complete bool
	Members  []EnumMember

	// KindBuiltin
	Name string

	// DefSpan is where a tagged record/enum was defined, for redefinition
	// diagnostics.
	DefSpan source.Span

	// canon points at the tag-table type a clone was made from, so that
	// every declaration of one record resolves to one identity.
	canon *Type
}

// Canonical resolves a cloned record/enum type back to its tag-table
// identity.
func (t *Type) Canonical() *Type {
	if t.canon != nil {
		return t.canon
	}
	return t
}

// Canonical constructors.

func VoidType() *Type { return &Type{Kind: KindVoid} }

func IntType(signed bool, rank IntRank) *Type {
	return &Type{Kind: KindInteger, Signed: signed, IRank: rank}
}

func FloatingType(rank FloatRank) *Type {
	return &Type{Kind: KindFloating, FRank: rank}
}

func PointerTo(base *Type) *Type {
	return &Type{Kind: KindPointer, Base: base}
}

func ArrayOf(elem *Type, n int64) *Type {
	return &Type{Kind: KindArray, Elem: elem, Len: n, LenKnown: true}
}

func UnsizedArrayOf(elem *Type) *Type {
	return &Type{Kind: KindArray, Elem: elem}
}

func FuncOf(ret *Type, params []Param, variadic bool) *Type {
	return &Type{Kind: KindFunc, Ret: ret, Params: params, Variadic: variadic}
}

// ErrType is the shared poison type. A lowering that failed returns it; any
// consumer that sees it propagates silently instead of re-reporting.
var ErrType = &Type{Kind: KindError}

// IsError reports whether t (or nil) is the poison type.
func (t *Type) IsError() bool { return t == nil || t.Kind == KindError }

func (t *Type) IsVoid() bool     { return t.Kind == KindVoid }
func (t *Type) IsInteger() bool  { return t.Kind == KindInteger || t.Kind == KindEnum }
func (t *Type) IsFloating() bool { return t.Kind == KindFloating }
func (t *Type) IsPointer() bool  { return t.Kind == KindPointer }
func (t *Type) IsArray() bool    { return t.Kind == KindArray }
func (t *Type) IsFunc() bool     { return t.Kind == KindFunc }
func (t *Type) IsRecord() bool   { return t.Kind == KindRecord }

// IsArithmetic reports whether t participates in arithmetic conversions.
func (t *Type) IsArithmetic() bool { return t.IsInteger() || t.IsFloating() }

// IsScalar reports whether t is arithmetic or a pointer.
func (t *Type) IsScalar() bool { return t.IsArithmetic() || t.IsPointer() }

// IsComplete reports whether the size of t is known.
func (t *Type) IsComplete() bool {
	switch t.Kind {
	case KindVoid, KindError:
		return false
	case KindArray:
		return t.LenKnown && t.Elem.IsComplete()
	case KindRecord:
		return t.Canonical().Complete
	case KindFunc:
		return false
	}
	return true
}

// AsInteger normalizes enum types to their underlying int for arithmetic.
func (t *Type) AsInteger() *Type {
	if t.Kind == KindEnum {
		return IntType(true, RankInt)
	}
	return t
}

// Decay converts an array rvalue to a pointer to its element type. Other
// types pass through unchanged.
func (t *Type) Decay() *Type {
	if t.Kind == KindArray {
		return PointerTo(t.Elem)
	}
	return t
}

// FieldIndex returns the position of the named member, or -1.
func (t *Type) FieldIndex(name string) int {
	for i, f := range t.Canonical().Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// TypesEqual is structural equality, ignoring storage class. Qualifiers
// (const, volatile, restrict) are ignored at every level, pointee types
// included.
func TypesEqual(a, b *Type) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil || a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindVoid, KindError:
		return true
	case KindInteger:
		return a.Signed == b.Signed && a.IRank == b.IRank
	case KindFloating:
		return a.FRank == b.FRank
	case KindPointer:
		return TypesEqual(a.Base, b.Base)
	case KindArray:
		if a.LenKnown != b.LenKnown {
			return false
		}
		return (!a.LenKnown || a.Len == b.Len) && TypesEqual(a.Elem, b.Elem)
	case KindFunc:
		if a.Variadic != b.Variadic || len(a.Params) != len(b.Params) || !TypesEqual(a.Ret, b.Ret) {
			return false
		}
		for i := range a.Params {
			if !TypesEqual(a.Params[i].Type, b.Params[i].Type) {
				return false
			}
		}
		return true
	case KindRecord, KindEnum:
		return a.Tag == b.Tag && a.Union == b.Union
	case KindBuiltin:
		return a.Name == b.Name
	}
	return false
}

// IntegerPromotion returns int for every integer type of rank below int
// (including _Bool and enum), and t unchanged otherwise. It is idempotent.
func IntegerPromotion(t *Type) *Type {
	if t.Kind == KindEnum {
		return IntType(true, RankInt)
	}
	if t.Kind == KindInteger && t.IRank < RankInt {
		return IntType(true, RankInt)
	}
	return t
}

// CommonArithmeticType implements the usual arithmetic conversions
// (C11 6.3.1.8). Floating types dominate by rank; integer operands are
// promoted first and then reconciled by rank and signedness. When the
// signed operand's rank is strictly higher than the unsigned one's, the
// signed type wins outright.
func CommonArithmeticType(a, b *Type) *Type {
	if a.IsFloating() || b.IsFloating() {
		rank := FloatRank(-1)
		if a.IsFloating() && a.FRank > rank {
			rank = a.FRank
		}
		if b.IsFloating() && b.FRank > rank {
			rank = b.FRank
		}
		return FloatingType(rank)
	}

	pa := IntegerPromotion(a.AsInteger())
	pb := IntegerPromotion(b.AsInteger())
	if pa.Signed == pb.Signed {
		if pa.IRank >= pb.IRank {
			return pa
		}
		return pb
	}

	unsignedOp, signedOp := pa, pb
	if pa.Signed {
		unsignedOp, signedOp = pb, pa
	}
	if unsignedOp.IRank >= signedOp.IRank {
		return unsignedOp
	}
	// Signed rank is higher: take the signed type. (Whether it can really
	// represent every value of the unsigned operand depends on the target
	// widths; equal widths keep the signed pick regardless.)
	return signedOp
}

// String renders the type in C-ish syntax, used by diagnostics and the AST
// printer. Declarator nesting prints through typeDecl.
func (t *Type) String() string { return typeDecl(t, "") }

// typeDecl prints t as a declaration of inner ("" for an abstract type).
// It is the inverse of the inside-out declarator builder.
func typeDecl(t *Type, inner string) string {
	if t == nil {
		return "<nil>" + inner
	}
	qual := ""
	if t.Const {
		qual = "const "
	}
	if t.Volatile {
		qual += "volatile "
	}
	switch t.Kind {
	case KindVoid:
		return joinDecl(qual+"void", inner)
	case KindError:
		return joinDecl("<error>", inner)
	case KindInteger:
		name := intRankNames[t.IRank]
		if t.IRank != RankBool {
			if !t.Signed {
				name = "unsigned " + name
			} else if t.IRank == RankChar {
				name = "signed char"
			}
		}
		return joinDecl(qual+name, inner)
	case KindFloating:
		return joinDecl(qual+floatRankNames[t.FRank], inner)
	case KindBuiltin:
		return joinDecl(qual+t.Name, inner)
	case KindRecord:
		kw := "struct"
		if t.Union {
			kw = "union"
		}
		return joinDecl(fmt.Sprintf("%s%s %s", qual, kw, t.Tag), inner)
	case KindEnum:
		return joinDecl(qual+"enum "+t.Tag, inner)
	case KindPointer:
		s := "*"
		if t.Restrict {
			s += "restrict "
		}
		if t.Const {
			s += "const "
		}
		if t.Volatile {
			s += "volatile "
		}
		s += inner
		if t.Base.Kind == KindArray || t.Base.Kind == KindFunc {
			s = "(" + s + ")"
		}
		return typeDecl(t.Base, s)
	case KindArray:
		if t.LenKnown {
			return typeDecl(t.Elem, fmt.Sprintf("%s[%d]", inner, t.Len))
		}
		return typeDecl(t.Elem, inner+"[]")
	case KindFunc:
		var sb strings.Builder
		sb.WriteString(inner)
		sb.WriteByte('(')
		if len(t.Params) == 0 && !t.Variadic {
			sb.WriteString("void")
		}
		for i, p := range t.Params {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(typeDecl(p.Type, p.Name))
		}
		if t.Variadic {
			sb.WriteString(", ...")
		}
		sb.WriteByte(')')
		return typeDecl(t.Ret, sb.String())
	}
	return joinDecl("?", inner)
}

func joinDecl(spec, inner string) string {
	if inner == "" {
		return spec
	}
	return spec + " " + inner
}
