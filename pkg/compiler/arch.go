package compiler

import "fmt"

// Target selects the architecture whose data model sizes the C types.
type Target int

const (
	I386 Target = iota
	Amd64
	Arm32
	Arm64
)

var targetNames = [...]string{
	I386:  "i386",
	Amd64: "amd64",
	Arm32: "arm32",
	Arm64: "arm64",
}

func (t Target) String() string {
	if int(t) >= 0 && int(t) < len(targetNames) {
		return targetNames[t]
	}
	return fmt.Sprintf("Target(%d)", int(t))
}

// TargetByName maps a -march name to its Target.
func TargetByName(name string) (Target, error) {
	for t, n := range targetNames {
		if n == name {
			return Target(t), nil
		}
	}
	return 0, fmt.Errorf("unknown target architecture %q (want i386, amd64, arm32, or arm64)", name)
}

// intWidths maps integer rank to width in bits, per target. The only
// difference between the 32- and 64-bit rows is long and the pointer size.
var intWidths = map[Target][6]int{
	I386:  {RankBool: 8, RankChar: 8, RankShort: 16, RankInt: 32, RankLong: 32, RankLongLong: 64},
	Amd64: {RankBool: 8, RankChar: 8, RankShort: 16, RankInt: 32, RankLong: 64, RankLongLong: 64},
	Arm32: {RankBool: 8, RankChar: 8, RankShort: 16, RankInt: 32, RankLong: 32, RankLongLong: 64},
	Arm64: {RankBool: 8, RankChar: 8, RankShort: 16, RankInt: 32, RankLong: 64, RankLongLong: 64},
}

// IntBits returns the width of the given integer rank on t.
func (t Target) IntBits(rank IntRank) int {
	return intWidths[t][rank]
}

// PointerBits returns the pointer width on t.
func (t Target) PointerBits() int {
	switch t {
	case Amd64, Arm64:
		return 64
	default:
		return 32
	}
}

// FloatBits returns the width of the given floating rank. Long double is
// carried at double precision (no 80-bit format).
func (t Target) FloatBits(rank FloatRank) int {
	if rank == RankFloat {
		return 32
	}
	return 64
}

// SizeOf returns the storage size of ct in bytes. Incomplete types
// (void, unsized arrays, undefined structs, functions) have no size.
func (t Target) SizeOf(ct *Type) (int64, error) {
	if ct.Kind == KindRecord {
		ct = ct.Canonical()
	}
	switch ct.Kind {
	case KindInteger:
		return int64(t.IntBits(ct.IRank)) / 8, nil
	case KindFloating:
		return int64(t.FloatBits(ct.FRank)) / 8, nil
	case KindPointer:
		return int64(t.PointerBits()) / 8, nil
	case KindEnum:
		return int64(t.IntBits(RankInt)) / 8, nil
	case KindBuiltin:
		// __builtin_va_list is carried as a pointer-sized cursor.
		return int64(t.PointerBits()) / 8, nil
	case KindArray:
		if !ct.LenKnown {
			return 0, fmt.Errorf("array type has no size")
		}
		elem, err := t.SizeOf(ct.Elem)
		if err != nil {
			return 0, err
		}
		return elem * ct.Len, nil
	case KindRecord:
		if !ct.Complete {
			return 0, fmt.Errorf("struct %s is incomplete", ct.Tag)
		}
		if ct.Union {
			var max int64
			for _, f := range ct.Fields {
				sz, err := t.SizeOf(f.Type)
				if err != nil {
					return 0, err
				}
				if sz > max {
					max = sz
				}
			}
			align := t.AlignOf(ct)
			return roundUp(max, align), nil
		}
		var off int64
		for _, f := range ct.Fields {
			sz, err := t.SizeOf(f.Type)
			if err != nil {
				return 0, err
			}
			off = roundUp(off, t.AlignOf(f.Type)) + sz
		}
		return roundUp(off, t.AlignOf(ct)), nil
	}
	return 0, fmt.Errorf("type %s has no size", ct)
}

// AlignOf returns the natural alignment of ct in bytes.
func (t Target) AlignOf(ct *Type) int64 {
	if ct.Kind == KindRecord {
		ct = ct.Canonical()
	}
	switch ct.Kind {
	case KindInteger:
		return int64(t.IntBits(ct.IRank)) / 8
	case KindFloating:
		return int64(t.FloatBits(ct.FRank)) / 8
	case KindPointer, KindBuiltin:
		return int64(t.PointerBits()) / 8
	case KindEnum:
		return int64(t.IntBits(RankInt)) / 8
	case KindArray:
		return t.AlignOf(ct.Elem)
	case KindRecord:
		var max int64 = 1
		for _, f := range ct.Fields {
			if a := t.AlignOf(f.Type); a > max {
				max = a
			}
		}
		return max
	}
	return 1
}

// FieldOffset returns the byte offset of field index i in a record type.
func (t Target) FieldOffset(ct *Type, i int) (int64, error) {
	ct = ct.Canonical()
	if ct.Kind != KindRecord || !ct.Complete {
		return 0, fmt.Errorf("field offset on non-record or incomplete type %s", ct)
	}
	if ct.Union {
		return 0, nil
	}
	var off int64
	for j := 0; j <= i; j++ {
		f := ct.Fields[j]
		off = roundUp(off, t.AlignOf(f.Type))
		if j == i {
			return off, nil
		}
		sz, err := t.SizeOf(f.Type)
		if err != nil {
			return 0, err
		}
		off += sz
	}
	return off, nil
}

// SizeType is the unsigned integer type of sizeof results on t.
func (t Target) SizeType() *Type {
	return IntType(false, RankLong)
}

// PtrDiffInt is the signed integer type wide enough to hold a pointer.
func (t Target) PtrDiffInt() *Type {
	if t.PointerBits() == 64 {
		return IntType(true, RankLongLong)
	}
	return IntType(true, RankInt)
}

func roundUp(n, align int64) int64 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}
