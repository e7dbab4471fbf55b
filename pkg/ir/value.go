package ir

import (
	"fmt"
	"math"
	"strconv"
)

// Value is an IR operand. Every operand prints with its type in front:
// "i32 5", "f64 %3", "*i8 @0".
type Value interface {
	Type() Type
	// Ref is the bare reference without the leading type: "5", "%3", "a".
	Ref() string
	String() string
}

// Const is a literal operand. Integer and boolean constants live in Int
// (two's complement, truncated to the type width); floating constants in
// Float.
type Const struct {
	Typ   Type
	Int   uint64
	Float float64
}

func (c *Const) Type() Type { return c.Typ }

func (c *Const) Ref() string {
	switch t := c.Typ.(type) {
	case BoolType:
		if c.Int != 0 {
			return "1"
		}
		return "0"
	case IntType:
		if t.Unsigned {
			return strconv.FormatUint(c.Int, 10)
		}
		return strconv.FormatInt(signExtend(c.Int, t.Bits), 10)
	case FloatType:
		if math.IsInf(c.Float, 1) {
			return "inf"
		}
		if math.IsInf(c.Float, -1) {
			return "-inf"
		}
		if math.IsNaN(c.Float) {
			return "nan"
		}
		return fmt.Sprintf("%f", c.Float)
	}
	return strconv.FormatUint(c.Int, 10)
}

func (c *Const) String() string { return c.Typ.String() + " " + c.Ref() }

// signExtend interprets the low bits of v as a signed bits-wide integer.
func signExtend(v uint64, bits int) int64 {
	if bits <= 0 || bits >= 64 {
		return int64(v)
	}
	shift := 64 - uint(bits)
	return int64(v<<shift) >> shift
}

// Truncate masks v down to the given width.
func Truncate(v uint64, bits int) uint64 {
	if bits <= 0 || bits >= 64 {
		return v
	}
	return v & (1<<uint(bits) - 1)
}

// Var is a variable operand. Temporaries are numbered per function and
// print as %n; named variables (parameters) print bare; globals print @name.
type Var struct {
	Typ    Type
	Name   string // empty for temporaries
	Temp   int
	Global bool
}

func (v *Var) Type() Type { return v.Typ }

func (v *Var) Ref() string {
	switch {
	case v.Global:
		return "@" + v.Name
	case v.Name != "":
		return v.Name
	default:
		return "%" + strconv.Itoa(v.Temp)
	}
}

func (v *Var) String() string { return v.Typ.String() + " " + v.Ref() }
