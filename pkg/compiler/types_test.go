package compiler

import (
	"testing"
)

func TestIntegerPromotionIdempotence(t *testing.T) {
	all := []*Type{
		IntType(false, RankBool),
		IntType(true, RankChar),
		IntType(false, RankChar),
		IntType(true, RankShort),
		IntType(false, RankShort),
		IntType(true, RankInt),
		IntType(false, RankInt),
		IntType(true, RankLong),
		IntType(false, RankLong),
		IntType(true, RankLongLong),
		IntType(false, RankLongLong),
	}
	for _, ty := range all {
		once := IntegerPromotion(ty)
		twice := IntegerPromotion(once)
		if !TypesEqual(once, twice) {
			t.Errorf("promotion of %s is not idempotent: %s vs %s", ty, once, twice)
		}
		if once.IRank < RankInt {
			t.Errorf("promotion of %s stayed below int: %s", ty, once)
		}
	}
}

func TestIntegerPromotionSmallTypes(t *testing.T) {
	intT := IntType(true, RankInt)
	for _, ty := range []*Type{
		IntType(false, RankBool),
		IntType(true, RankChar),
		IntType(false, RankChar),
		IntType(true, RankShort),
		IntType(false, RankShort),
	} {
		if got := IntegerPromotion(ty); !TypesEqual(got, intT) {
			t.Errorf("IntegerPromotion(%s) = %s, want int", ty, got)
		}
	}
	// Types at or above int rank are untouched.
	ulong := IntType(false, RankLong)
	if got := IntegerPromotion(ulong); !TypesEqual(got, ulong) {
		t.Errorf("IntegerPromotion(unsigned long) = %s, want unsigned long", got)
	}
}

func TestCommonArithmeticType(t *testing.T) {
	intT := IntType(true, RankInt)
	uintT := IntType(false, RankInt)
	longT := IntType(true, RankLong)
	ulongT := IntType(false, RankLong)

	tests := []struct {
		name string
		a, b *Type
		want *Type
	}{
		{"FloatDominates", FloatingType(RankFloat), intT, FloatingType(RankFloat)},
		{"DoubleOverFloat", FloatingType(RankDouble), FloatingType(RankFloat), FloatingType(RankDouble)},
		{"LongDoubleTop", FloatingType(RankLongDouble), FloatingType(RankDouble), FloatingType(RankLongDouble)},
		{"EqualTypes", intT, intT, intT},
		{"HigherRankWins", longT, intT, longT},
		{"UnsignedSameRankWins", uintT, intT, uintT},
		{"UnsignedHigherRankWins", ulongT, intT, ulongT},
		{"SignedHigherRankWins", longT, uintT, longT},
		{"SmallTypesPromoteFirst", IntType(true, RankChar), IntType(false, RankShort), intT},
		{"BoolPromotesToInt", IntType(false, RankBool), intT, intT},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CommonArithmeticType(tt.a, tt.b)
			if !TypesEqual(got, tt.want) {
				t.Errorf("CommonArithmeticType(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
			}
			// Commutativity up to type equality.
			rev := CommonArithmeticType(tt.b, tt.a)
			if !TypesEqual(got, rev) {
				t.Errorf("not commutative: %s vs %s", got, rev)
			}
		})
	}
}

func TestTargetSizes(t *testing.T) {
	tests := []struct {
		target   Target
		longBits int
		ptrBits  int
	}{
		{I386, 32, 32},
		{Amd64, 64, 64},
		{Arm32, 32, 32},
		{Arm64, 64, 64},
	}
	for _, tt := range tests {
		t.Run(tt.target.String(), func(t *testing.T) {
			if got := tt.target.IntBits(RankLong); got != tt.longBits {
				t.Errorf("long = %d bits, want %d", got, tt.longBits)
			}
			if got := tt.target.PointerBits(); got != tt.ptrBits {
				t.Errorf("pointer = %d bits, want %d", got, tt.ptrBits)
			}
			if got := tt.target.IntBits(RankInt); got != 32 {
				t.Errorf("int = %d bits, want 32", got)
			}
			if got := tt.target.IntBits(RankChar); got != 8 {
				t.Errorf("char = %d bits, want 8", got)
			}
		})
	}
}

func TestStructSizeAndOffsets(t *testing.T) {
	// struct { char c; int i; char d; } on amd64: c at 0, i at 4, d at 8,
	// size rounds to 12.
	s := &Type{
		Kind:     KindRecord,
		Tag:      "Layout",
		Complete: true,
		Fields: []Field{
			{Name: "c", Type: IntType(true, RankChar), Bits: -1},
			{Name: "i", Type: IntType(true, RankInt), Bits: -1},
			{Name: "d", Type: IntType(true, RankChar), Bits: -1},
		},
	}
	sz, err := Amd64.SizeOf(s)
	if err != nil {
		t.Fatalf("SizeOf: %v", err)
	}
	if sz != 12 {
		t.Errorf("size = %d, want 12", sz)
	}
	wantOffsets := []int64{0, 4, 8}
	for i, want := range wantOffsets {
		off, err := Amd64.FieldOffset(s, i)
		if err != nil {
			t.Fatalf("FieldOffset(%d): %v", i, err)
		}
		if off != want {
			t.Errorf("offset of field %d = %d, want %d", i, off, want)
		}
	}
}

func TestUnionSize(t *testing.T) {
	u := &Type{
		Kind:     KindRecord,
		Union:    true,
		Tag:      "U",
		Complete: true,
		Fields: []Field{
			{Name: "c", Type: IntType(true, RankChar), Bits: -1},
			{Name: "l", Type: IntType(true, RankLong), Bits: -1},
		},
	}
	sz, err := Amd64.SizeOf(u)
	if err != nil {
		t.Fatalf("SizeOf: %v", err)
	}
	if sz != 8 {
		t.Errorf("union size = %d, want 8", sz)
	}
}

func TestArraySize(t *testing.T) {
	arr := ArrayOf(ArrayOf(IntType(true, RankInt), 3), 2)
	sz, err := Amd64.SizeOf(arr)
	if err != nil {
		t.Fatalf("SizeOf: %v", err)
	}
	if sz != 24 {
		t.Errorf("int[2][3] = %d bytes, want 24", sz)
	}
	if _, err := Amd64.SizeOf(UnsizedArrayOf(IntType(true, RankInt))); err == nil {
		t.Error("unsized array has no size, want error")
	}
}

func TestTypeDeclPrinting(t *testing.T) {
	intT := IntType(true, RankInt)
	floatT := FloatingType(RankFloat)

	// float *(*(*bar[1][2])(void))(int): array 1 of array 2 of pointer to
	// function (void) returning pointer to function (int) returning
	// pointer to float.
	inner := PointerTo(FuncOf(PointerTo(floatT), []Param{{Type: intT}}, false))
	fn := PointerTo(FuncOf(inner, nil, false))
	bar := ArrayOf(ArrayOf(fn, 2), 1)

	got := typeDecl(bar, "bar")
	want := "float *(*(*bar[1][2])(void))(int)"
	if got != want {
		t.Errorf("typeDecl = %q, want %q", got, want)
	}

	tests := []struct {
		t    *Type
		name string
		want string
	}{
		{intT, "x", "int x"},
		{PointerTo(intT), "p", "int *p"},
		{ArrayOf(PointerTo(intT), 3), "a", "int *a[3]"},
		{PointerTo(ArrayOf(intT, 3)), "pa", "int (*pa)[3]"},
		{FuncOf(VoidType(), []Param{{Name: "a", Type: FloatingType(RankDouble)}}, false), "f", "void f(double a)"},
		{IntType(false, RankLong), "ul", "unsigned long ul"},
	}
	for _, tt := range tests {
		if got := typeDecl(tt.t, tt.name); got != tt.want {
			t.Errorf("typeDecl(%s) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
