package compiler

import (
	"reflect"
	"strings"
	"testing"

	"ccir/pkg/ir"
	"ccir/pkg/source"
)

func compileIR(t *testing.T, src string) (*ir.Module, *source.ErrorList) {
	t.Helper()
	return CompileSource("test.c", src, Config{Target: Amd64})
}

func mustCompileIR(t *testing.T, src string) *ir.Module {
	t.Helper()
	mod, errs := compileIR(t, src)
	if errs.Len() > 0 {
		t.Fatalf("unexpected errors:\n%s", errs)
	}
	return mod
}

// funcBody returns the instruction lines of the named function.
func funcBody(t *testing.T, mod *ir.Module, name string) []string {
	t.Helper()
	fn := mod.Func(name)
	if fn == nil {
		t.Fatalf("function %q not in module", name)
	}
	lines := make([]string, len(fn.Body))
	for i, in := range fn.Body {
		lines[i] = in.String()
	}
	return lines
}

func expectBody(t *testing.T, src string, fn string, want []string) {
	t.Helper()
	mod := mustCompileIR(t, src)
	got := funcBody(t, mod, fn)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("IR body mismatch\ngot:\n  %s\nwant:\n  %s",
			strings.Join(got, "\n  "), strings.Join(want, "\n  "))
	}
}

func TestLowerReturnConstant(t *testing.T) {
	expectBody(t, "int main() { return 0; }", "main", []string{
		"ret i32 0",
	})
}

func TestLowerConstantFoldedFloat(t *testing.T) {
	expectBody(t, "float main() { return 1.0f + 2.0f; }", "main", []string{
		"ret f32 3.000000",
	})
}

func TestLowerIfElse(t *testing.T) {
	src := "int main(int a) { int x; if (a) x = 1; else x = 2; return x; }"
	expectBody(t, src, "main", []string{
		"*i32 %0 = alloca i32",
		"store i32 a, *i32 %0",
		"*i32 %1 = alloca i32",
		"i32 %2 = load *i32 %0",
		"bool %3 = eq i32 %2, i32 0",
		"br_cond bool %3, l0",
		"store i32 1, *i32 %1",
		"br l1",
		"l0: nop",
		"store i32 2, *i32 %1",
		"l1: nop",
		"i32 %4 = load *i32 %1",
		"ret i32 %4",
	})
}

func TestLowerCallArgumentConversion(t *testing.T) {
	src := `
void foo(double a);
int main() { float a = 1.0f; foo(a); return 0; }
`
	expectBody(t, src, "main", []string{
		"*f32 %0 = alloca f32",
		"store f32 1.000000, *f32 %0",
		"f32 %1 = load *f32 %0",
		"f64 %2 = ext f32 %1",
		"call foo(f64 %2)",
		"ret i32 0",
	})
}

func TestLowerArraySubscript(t *testing.T) {
	src := "int main() { int a[2]; a[1] = 10; }"
	expectBody(t, src, "main", []string{
		"*[i32;2] %0 = alloca [i32;2]",
		"*i32 %1 = get_array_element_ptr *[i32;2] %0, i32 1",
		"store i32 10, *i32 %1",
		"ret i32 0",
	})
}

func TestLowerStructMember(t *testing.T) {
	src := "int main() { struct Foo { int a; } foo; foo.a = 4; return 0; }"
	expectBody(t, src, "main", []string{
		"*struct.Foo_0 %0 = alloca struct.Foo_0",
		"*i32 %1 = get_struct_member_ptr *struct.Foo_0 %0, i32 0",
		"store i32 4, *i32 %1",
		"ret i32 0",
	})
}

func TestLowerPointerBasics(t *testing.T) {
	src := "int main() { int x; int *p; p = &x; *p = 3; return x; }"
	expectBody(t, src, "main", []string{
		"*i32 %0 = alloca i32",
		"**i32 %1 = alloca *i32",
		"store *i32 %0, **i32 %1",
		"*i32 %2 = load **i32 %1",
		"store i32 3, *i32 %2",
		"i32 %3 = load *i32 %0",
		"ret i32 %3",
	})
}

func TestLowerCompoundAssign(t *testing.T) {
	src := "int main(int a) { a += 2; return a; }"
	expectBody(t, src, "main", []string{
		"*i32 %0 = alloca i32",
		"store i32 a, *i32 %0",
		"i32 %1 = load *i32 %0",
		"i32 %2 = add i32 %1, i32 2",
		"store i32 %2, *i32 %0",
		"i32 %3 = load *i32 %0",
		"ret i32 %3",
	})
}

func TestLowerShortCircuitAnd(t *testing.T) {
	src := "int main(int a, int b) { return a && b; }"
	expectBody(t, src, "main", []string{
		"*i32 %0 = alloca i32",
		"store i32 a, *i32 %0",
		"*i32 %1 = alloca i32",
		"store i32 b, *i32 %1",
		"*bool %2 = alloca bool",
		"store bool 0, *bool %2",
		"i32 %3 = load *i32 %0",
		"bool %4 = ne i32 %3, i32 0",
		"bool %5 = eq bool %4, bool 0",
		"br_cond bool %5, l0",
		"i32 %6 = load *i32 %1",
		"bool %7 = ne i32 %6, i32 0",
		"store bool %7, *bool %2",
		"l0: nop",
		"bool %8 = load *bool %2",
		"i32 %9 = ext bool %8",
		"ret i32 %9",
	})
}

// while (1) with no break: the loop body stays reachable, the merge label
// is not, and pruning removes it along with the trailing return.
func TestLowerInfiniteLoopPrunesMerge(t *testing.T) {
	src := "int main() { while (1) { } return 0; }"
	mod := mustCompileIR(t, src)
	got := funcBody(t, mod, "main")
	want := []string{
		"l0: nop",
		"br l0",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got:\n  %s\nwant:\n  %s", strings.Join(got, "\n  "), strings.Join(want, "\n  "))
	}
	for _, line := range got {
		if strings.Contains(line, "l1") {
			t.Errorf("merge label survived pruning: %q", line)
		}
	}
}

func TestLowerGoto(t *testing.T) {
	src := "int main() { goto done; done: return 5; }"
	expectBody(t, src, "main", []string{
		"br l0",
		"l0: nop",
		"ret i32 5",
	})
}

func TestLowerSwitch(t *testing.T) {
	src := "int main(int a) { switch (a) { case 1: return 10; default: return 20; } }"
	expectBody(t, src, "main", []string{
		"*i32 %0 = alloca i32",
		"store i32 a, *i32 %0",
		"i32 %1 = load *i32 %0",
		"bool %2 = eq i32 %1, i32 1",
		"br_cond bool %2, l1",
		"br l2",
		"l1: nop",
		"ret i32 10",
		"l2: nop",
		"ret i32 20",
	})
}

func TestLowerStringLiteral(t *testing.T) {
	src := "char *greet() { return \"hi\"; }"
	mod := mustCompileIR(t, src)
	if len(mod.Globals) != 1 {
		t.Fatalf("got %d globals, want the interned string", len(mod.Globals))
	}
	g := mod.Globals[0]
	if g.Name != "0" || g.Init.Str != "hi\x00" {
		t.Errorf("string global = %s", g)
	}
	expectBody(t, src, "greet", []string{
		"*i8 %0 = bitcast *[i8;3] @0",
		"ret *i8 %0",
	})
}

func TestStringInterning(t *testing.T) {
	src := `
char *a() { return "same"; }
char *b() { return "same"; }
`
	mod := mustCompileIR(t, src)
	if len(mod.Globals) != 1 {
		t.Errorf("identical literals interned into %d globals, want 1", len(mod.Globals))
	}
}

func TestLowerGlobals(t *testing.T) {
	src := `
int g = 42;
int arr[3] = {1, 2};
int main() { return g; }
`
	mod := mustCompileIR(t, src)
	if len(mod.Globals) != 2 {
		t.Fatalf("got %d globals, want 2", len(mod.Globals))
	}
	if got := mod.Globals[0].String(); got != "@g : i32 = i32 42" {
		t.Errorf("g printed as %q", got)
	}
	if got := mod.Globals[1].String(); got != "@arr : [i32;3] = { i32 1, i32 2, zero }" {
		t.Errorf("arr printed as %q", got)
	}
	expectBody(t, src, "main", []string{
		"i32 %0 = load *i32 @g",
		"ret i32 %0",
	})
}

func TestGlobalInitializerMustBeConstant(t *testing.T) {
	_, errs := compileIR(t, "int y;\nint x = y;\n")
	if errs.Len() == 0 {
		t.Fatal("non-constant global initializer must error")
	}
}

func TestLowerLocalArrayInitializer(t *testing.T) {
	src := "int main() { int a[2] = {7}; return a[0]; }"
	expectBody(t, src, "main", []string{
		"*[i32;2] %0 = alloca [i32;2]",
		"*i32 %1 = get_array_element_ptr *[i32;2] %0, i32 0",
		"store i32 7, *i32 %1",
		"*i32 %2 = get_array_element_ptr *[i32;2] %0, i32 1",
		"store i32 0, *i32 %2",
		"*i32 %3 = get_array_element_ptr *[i32;2] %0, i32 0",
		"i32 %4 = load *i32 %3",
		"ret i32 %4",
	})
}

func TestLowerVariadicDefaultPromotions(t *testing.T) {
	src := `
int printf(char *fmt, ...);
int main() {
	float f = 2.0f;
	char c = 'x';
	printf("v", f, c);
	return 0;
}
`
	mod := mustCompileIR(t, src)
	var call *ir.Instr
	for _, in := range mod.Func("main").Body {
		if in.Op == ir.OpCall && in.Callee == "printf" {
			call = in
		}
	}
	if call == nil {
		t.Fatal("no call to printf emitted")
	}
	// fmt: *i8, f widened to f64, c promoted to i32.
	if got := call.Args[1].Type().String(); got != "f64" {
		t.Errorf("float vararg has type %s, want f64", got)
	}
	if got := call.Args[2].Type().String(); got != "i32" {
		t.Errorf("char vararg has type %s, want i32", got)
	}
}

func TestLowerSizeof(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"long main() { return sizeof(int); }", "ret i64 4"},
		{"long main() { return sizeof(long); }", "ret i64 8"},
		{"long main() { int x; return sizeof x; }", "ret i64 4"},
	}
	for _, tt := range tests {
		mod := mustCompileIR(t, tt.src)
		body := funcBody(t, mod, "main")
		last := body[len(body)-1]
		if last != tt.want {
			t.Errorf("%s: last instruction %q, want %q", tt.src, last, tt.want)
		}
	}
}

func TestLowerSizeofIsArchDependent(t *testing.T) {
	mod, errs := CompileSource("t.c", "long main() { return sizeof(long); }", Config{Target: I386})
	if errs.Len() > 0 {
		t.Fatalf("unexpected errors: %s", errs)
	}
	body := funcBody(t, mod, "main")
	if body[len(body)-1] != "ret i32 4" {
		t.Errorf("i386 sizeof(long) = %q, want ret i32 4", body[len(body)-1])
	}
}

// Lowering the same source twice must produce identical IR text.
func TestLoweringIsDeterministic(t *testing.T) {
	src := `
struct P { int x; int y; };
int sum(struct P *p) { return p->x + p->y; }
int main() { struct P p; p.x = 1; p.y = 2; return sum(&p); }
`
	a := mustCompileIR(t, src).String()
	b := mustCompileIR(t, src).String()
	if a != b {
		t.Error("two lowerings of the same unit differ")
	}
}

// Folding is a fixpoint: an expression of constants becomes a single
// constant operand, not a chain of instructions.
func TestConstantFoldingFixpoint(t *testing.T) {
	expectBody(t, "int main() { return 1 + 2 * 3 - 4 / 2; }", "main", []string{
		"ret i32 5",
	})
	expectBody(t, "int main() { return (10 > 3) + (2 == 2); }", "main", []string{
		"ret i32 2",
	})
	expectBody(t, "unsigned int main() { return 0xFFFFFFFFu / 2; }", "main", []string{
		"ret i32 2147483647",
	})
}

func TestIntegerDivisionByZeroFlagged(t *testing.T) {
	_, errs := compileIR(t, "int main() { return 1 / 0; }")
	if errs.Len() == 0 {
		t.Fatal("integer division by zero must be flagged")
	}
}

func TestFloatDivisionByZeroFoldsToInf(t *testing.T) {
	expectBody(t, "double main() { return 1.0 / 0.0; }", "main", []string{
		"ret f64 inf",
	})
}

func TestSemanticErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"UndeclaredIdentifier", "int main() { return x; }"},
		{"BreakOutsideLoop", "int main() { break; return 0; }"},
		{"ContinueOutsideLoop", "int main() { continue; return 0; }"},
		{"CallArgCountMismatch", "int f(int a); int main() { return f(1, 2); }"},
		{"CallNonFunction", "int main() { int x; return x(); }"},
		{"UnknownMember", "struct S { int a; }; int main() { struct S s; return s.b; }"},
		{"MemberOnNonStruct", "int main() { int x; return x.a; }"},
		{"AssignToNonLvalue", "int main() { 1 = 2; return 0; }"},
		{"DerefNonPointer", "int main() { int x; return *x; }"},
		{"SubscriptNonArray", "int main() { int x; return x[0]; }"},
		{"VoidReturnsValue", "void f() { return 1; }"},
		{"NonVoidReturnsNothing", "int f() { return; }"},
		{"UndeclaredLabel", "int main() { goto nowhere; return 0; }"},
		{"IncrementNonScalar", "struct S { int a; }; int main() { struct S s; s++; return 0; }"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errs := compileIR(t, tt.src)
			if errs.Len() == 0 {
				t.Errorf("no error for:\n%s", tt.src)
			}
		})
	}
}

// A failed subexpression must poison its consumers silently: one error,
// not a cascade.
func TestPoisonSuppressesCascades(t *testing.T) {
	_, errs := compileIR(t, "int main() { return (missing + 1) * 2; }")
	if errs.Len() != 1 {
		t.Errorf("got %d errors, want exactly 1:\n%s", errs.Len(), errs)
	}
}

// Structural IR invariants over a mixed program: single assignment per
// destination, every branch target defined, comparison results typed bool,
// binary operands type-equal.
func TestIRInvariants(t *testing.T) {
	src := `
int fib(int n) {
	if (n < 2) return n;
	return fib(n - 1) + fib(n - 2);
}
int main() {
	int i;
	int total = 0;
	for (i = 0; i < 10; i++) {
		if (i % 2 == 0) continue;
		total += fib(i);
	}
	while (total > 100) { total /= 2; }
	return total;
}
`
	mod := mustCompileIR(t, src)
	for _, fn := range mod.Funcs {
		seen := make(map[string]bool)
		labels := make(map[string]bool)
		for _, in := range fn.Body {
			if in.Dest != nil {
				ref := in.Dest.Ref()
				if seen[ref] {
					t.Errorf("%s: destination %s assigned twice", fn.Name, ref)
				}
				seen[ref] = true
			}
			if in.Op == ir.OpNop && in.Label != "" {
				if labels[in.Label] {
					t.Errorf("%s: label %s defined twice", fn.Name, in.Label)
				}
				labels[in.Label] = true
			}
		}
		for _, in := range fn.Body {
			switch in.Op {
			case ir.OpBr, ir.OpBrCond:
				if !labels[in.Label] {
					t.Errorf("%s: branch to undefined label %s", fn.Name, in.Label)
				}
			}
			switch in.Op {
			case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod,
				ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpShr,
				ir.OpEq, ir.OpNe, ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe:
				if !ir.TypesEqual(in.Args[0].Type(), in.Args[1].Type()) {
					t.Errorf("%s: %s has mismatched operand types %s and %s",
						fn.Name, in.Op, in.Args[0].Type(), in.Args[1].Type())
				}
			}
			switch in.Op {
			case ir.OpEq, ir.OpNe, ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe:
				if !ir.TypesEqual(in.Dest.Typ, ir.BoolType{}) {
					t.Errorf("%s: comparison result has type %s, want bool", fn.Name, in.Dest.Typ)
				}
			}
		}
	}
}

func TestLowerTernary(t *testing.T) {
	src := "int main(int a) { return a ? 10 : 20; }"
	expectBody(t, src, "main", []string{
		"*i32 %0 = alloca i32",
		"store i32 a, *i32 %0",
		"*i32 %1 = alloca i32",
		"i32 %2 = load *i32 %0",
		"bool %3 = eq i32 %2, i32 0",
		"br_cond bool %3, l0",
		"store i32 10, *i32 %1",
		"br l1",
		"l0: nop",
		"store i32 20, *i32 %1",
		"l1: nop",
		"i32 %4 = load *i32 %1",
		"ret i32 %4",
	})
}

func TestLowerDoWhileAndBreak(t *testing.T) {
	src := "int main() { int i = 0; do { i++; if (i > 3) break; } while (i < 10); return i; }"
	mod := mustCompileIR(t, src)
	body := funcBody(t, mod, "main")
	joined := strings.Join(body, "\n")
	for _, want := range []string{"l0: nop", "l1: nop", "br_cond"} {
		if !strings.Contains(joined, want) {
			t.Errorf("do-while body missing %q:\n%s", want, joined)
		}
	}
}

// Pointer increment steps by one element through the addressing
// instruction, not by raw bytes.
func TestLowerPointerIncrement(t *testing.T) {
	src := "int main() { int a[4]; int *p; p = a; p++; return 0; }"
	mod := mustCompileIR(t, src)
	body := funcBody(t, mod, "main")
	found := false
	for _, line := range body {
		if strings.Contains(line, "get_array_element_ptr *i32") && strings.Contains(line, "i32 1") {
			found = true
		}
	}
	if !found {
		t.Errorf("pointer increment did not use element addressing:\n%s", strings.Join(body, "\n"))
	}
}

func TestImplicitReturns(t *testing.T) {
	t.Run("VoidFunction", func(t *testing.T) {
		mod := mustCompileIR(t, "void f() { int x; x = 1; }")
		body := funcBody(t, mod, "f")
		if body[len(body)-1] != "ret" {
			t.Errorf("last instruction %q, want ret", body[len(body)-1])
		}
	})
	t.Run("MainReturnsZero", func(t *testing.T) {
		mod := mustCompileIR(t, "int main() { }")
		body := funcBody(t, mod, "main")
		if body[len(body)-1] != "ret i32 0" {
			t.Errorf("last instruction %q, want ret i32 0", body[len(body)-1])
		}
	})
	t.Run("NonVoidGetsZeroValue", func(t *testing.T) {
		mod := mustCompileIR(t, "int f() { int x; x = 1; }")
		body := funcBody(t, mod, "f")
		if body[len(body)-1] != "ret i32 0" {
			t.Errorf("last instruction %q, want ret i32 0", body[len(body)-1])
		}
	})
	t.Run("StructGetsZeroValue", func(t *testing.T) {
		src := "struct P { int x; }; struct P make() { }"
		expectBody(t, src, "make", []string{
			"*struct.P_0 %0 = alloca struct.P_0",
			"*i32 %1 = get_struct_member_ptr *struct.P_0 %0, i32 0",
			"store i32 0, *i32 %1",
			"struct.P_0 %2 = load *struct.P_0 %0",
			"ret struct.P_0 %2",
		})
	})
}

func TestEnumLowering(t *testing.T) {
	src := `
enum Color { RED, GREEN = 10, BLUE };
int main() { return BLUE; }
`
	expectBody(t, src, "main", []string{
		"ret i32 11",
	})
}

func TestCastLowering(t *testing.T) {
	src := "int main() { double d = 2.5; return (int)d; }"
	expectBody(t, src, "main", []string{
		"*f64 %0 = alloca f64",
		"store f64 2.500000, *f64 %0",
		"f64 %1 = load *f64 %0",
		"i32 %2 = ftoi f64 %1",
		"ret i32 %2",
	})
}

func TestShiftResultTypeFollowsLeftOperand(t *testing.T) {
	src := "long main(long a, int s) { return a << s; }"
	mod := mustCompileIR(t, src)
	var shl *ir.Instr
	for _, in := range mod.Func("main").Body {
		if in.Op == ir.OpShl {
			shl = in
		}
	}
	if shl == nil {
		t.Fatal("no shl emitted")
	}
	if shl.Dest.Typ.String() != "i64" {
		t.Errorf("shift result type %s, want i64 (the promoted left operand)", shl.Dest.Typ)
	}
	if !ir.TypesEqual(shl.Args[0].Type(), shl.Args[1].Type()) {
		t.Errorf("shift operand types differ: %s vs %s", shl.Args[0].Type(), shl.Args[1].Type())
	}
}

func TestLowerVaBuiltins(t *testing.T) {
	src := `
int first(int n, ...) {
	__builtin_va_list ap;
	__builtin_va_start(ap, n);
	int v = __builtin_va_arg(ap, int);
	__builtin_va_end(ap);
	return v;
}
`
	mod := mustCompileIR(t, src)
	body := strings.Join(funcBody(t, mod, "first"), "\n")
	for _, want := range []string{
		"call __builtin_va_start(**i8 %1, *i32 %0)",
		"= call __builtin_va_arg(**i8 %1)",
		"call __builtin_va_end(**i8 %1)",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in:\n%s", want, body)
		}
	}
	fn := mod.Func("first")
	if !fn.Typ.Variadic {
		t.Error("first lost its variadic marker")
	}
}

func TestLowerPointerDifference(t *testing.T) {
	src := "long main(int *p, int *q) { return p - q; }"
	mod := mustCompileIR(t, src)
	body := strings.Join(funcBody(t, mod, "main"), "\n")
	// The difference is computed on pointer-sized integers and divided by
	// the element size.
	for _, want := range []string{"bitcast", "sub i64", "div i64", "i64 4"} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in:\n%s", want, body)
		}
	}
}

func TestLowerStructCopy(t *testing.T) {
	src := `
struct P { int x; int y; };
int main() {
	struct P a;
	struct P b;
	a.x = 1;
	b = a;
	return b.x;
}
`
	mod := mustCompileIR(t, src)
	body := strings.Join(funcBody(t, mod, "main"), "\n")
	if !strings.Contains(body, "= load *struct.P_0") {
		t.Errorf("struct assignment does not load the whole object:\n%s", body)
	}
	if !strings.Contains(body, "store struct.P_0") {
		t.Errorf("struct assignment does not store the whole object:\n%s", body)
	}
}

func TestLowerStructDesignatedInit(t *testing.T) {
	src := `
struct P { int x; int y; };
int main() {
	struct P p = {.y = 2};
	return p.y;
}
`
	mod := mustCompileIR(t, src)
	body := strings.Join(funcBody(t, mod, "main"), "\n")
	// .y gets its value, .x gets an explicit zero.
	if !strings.Contains(body, "get_struct_member_ptr *struct.P_0 %0, i32 1") {
		t.Errorf("designated field not addressed:\n%s", body)
	}
	if !strings.Contains(body, "store i32 0,") {
		t.Errorf("unspecified field not zeroed:\n%s", body)
	}
}
