package compiler

import (
	"testing"

	"github.com/kr/pretty"

	"ccir/pkg/source"
)

func parseExprText(t *testing.T, src string) Expr {
	t.Helper()
	errs := &source.ErrorList{}
	lx := NewLexer("expr.c", src, nil, nil, errs)
	p := NewParser(lx, Amd64, errs)
	e, err := p.parseExpr()
	if err != nil || errs.Len() > 0 {
		t.Fatalf("parsing %q: %v / %s", src, err, errs)
	}
	return e
}

func parseTU(t *testing.T, src string) (*TranslationUnit, *source.ErrorList) {
	t.Helper()
	return ParseSource("test.c", src, Config{Target: Amd64})
}

func mustParseTU(t *testing.T, src string) *TranslationUnit {
	t.Helper()
	tu, errs := parseTU(t, src)
	if errs.Len() > 0 {
		t.Fatalf("unexpected errors:\n%s", errs)
	}
	return tu
}

// Precedence and associativity show up directly in the fully parenthesized
// printed form.
func TestExpressionPrecedence(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"1 + 2 * 3", "(1 + (2 * 3))"},
		{"(1 + 2) * 3", "((1 + 2) * 3)"},
		{"1 - 2 - 3", "((1 - 2) - 3)"},
		{"a = b = c", "(a = (b = c))"},
		{"a += b * 2", "(a += (b * 2))"},
		{"a && b || c && d", "((a && b) || (c && d))"},
		{"a | b ^ c & d", "(a | (b ^ (c & d)))"},
		{"a == b != c", "((a == b) != c)"},
		{"a < b == c > d", "((a < b) == (c > d))"},
		{"a << 1 + 2", "(a << (1 + 2))"},
		{"a ? b : c ? d : e", "(a ? b : (c ? d : e))"},
		{"a, b, c", "((a, b), c)"},
		{"-x * 2", "((-x) * 2)"},
		{"!a && ~b", "((!a) && (~b))"},
		{"*p++", "(*(p++))"},
		{"++*p", "(++(*p))"},
		{"&a[1]", "(&a[1])"},
		{"(int)x + 1", "(((int)x) + 1)"},
		{"sizeof(int)", "sizeof(int)"},
		{"sizeof x", "(sizeof x)"},
		{"a[1][2].m->n(x)++", "(a[1][2].m->n(x)++)"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseExprText(t, tt.input).String()
			if got != tt.want {
				t.Errorf("parsed %q as %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMonsterDeclarator(t *testing.T) {
	tu := mustParseTU(t, "float *(*(*bar[1][2])(void))(int);\n")
	if len(tu.Decls) != 1 {
		t.Fatalf("got %d declarations, want 1", len(tu.Decls))
	}
	decl, ok := tu.Decls[0].(*Declaration)
	if !ok {
		t.Fatalf("declaration is %T", tu.Decls[0])
	}

	// array 1 of array 2 of pointer to function(void) returning pointer to
	// function(int) returning pointer to float.
	want := ArrayOf(ArrayOf(PointerTo(FuncOf(
		PointerTo(FuncOf(PointerTo(FloatingType(RankFloat)), []Param{{Type: IntType(true, RankInt)}}, false)),
		nil, false)), 2), 1)

	if decl.Name != "bar" || !TypesEqual(decl.Typ, want) {
		t.Errorf("bar declared as %s, want %s\ndiff: %v",
			decl.Typ, want, pretty.Diff(decl.Typ, want))
	}
}

func TestTypedefResolution(t *testing.T) {
	src := `
typedef int myint;
typedef myint *intptr;
myint g;
int main(void) {
	intptr p;
	myint x;
	x = 3;
	return x;
}
`
	tu := mustParseTU(t, src)
	g := tu.Decls[2].(*Declaration)
	if g.Typ.Kind != KindInteger || g.Typ.IRank != RankInt {
		t.Errorf("g has type %s, want int", g.Typ)
	}
	fn := tu.Decls[3].(*FuncDef)
	decl := fn.Body.Items[0].(*DeclStmt).Decls[0]
	if !TypesEqual(decl.Typ, PointerTo(IntType(true, RankInt))) {
		t.Errorf("p has type %s, want int *", decl.Typ)
	}
}

// A block-scope variable shadows a file-scope typedef; the name goes back
// to being an ordinary identifier inside that block.
func TestTypedefShadowing(t *testing.T) {
	src := `
typedef int T;
int main(void) {
	int T;
	T = 5;
	return T;
}
T tail;
`
	tu := mustParseTU(t, src)
	tail := tu.Decls[2].(*Declaration)
	if tail.Name != "tail" || tail.Typ.Kind != KindInteger {
		t.Errorf("typedef did not resurface after the block: %s", tail)
	}
}

func TestTypedefConflictIsError(t *testing.T) {
	_, errs := parseTU(t, "typedef int T;\nint T;\n")
	if errs.Len() == 0 {
		t.Fatal("redeclaring a typedef as a variable in the same scope must error")
	}
	e := errs.Errors()[0]
	if e.Category != source.Semantic {
		t.Errorf("category = %s, want semantic", e.Category)
	}
	if e.Secondary == nil {
		t.Error("redeclaration error carries no secondary span")
	}
}

func TestDanglingElse(t *testing.T) {
	src := `
int main(int a, int b) {
	if (a)
		if (b)
			return 1;
		else
			return 2;
	return 3;
}
`
	tu := mustParseTU(t, src)
	fn := tu.Decls[0].(*FuncDef)
	outer := fn.Body.Items[0].(*IfStmt)
	if outer.Else != nil {
		t.Fatal("else bound to the outer if, want the nearest one")
	}
	inner, ok := outer.Then.(*IfStmt)
	if !ok || inner.Else == nil {
		t.Fatal("inner if did not receive the else")
	}
}

func TestParameterLists(t *testing.T) {
	t.Run("VoidMeansZero", func(t *testing.T) {
		tu := mustParseTU(t, "int f(void);\n")
		d := tu.Decls[0].(*Declaration)
		if len(d.Typ.Params) != 0 || d.Typ.Variadic {
			t.Errorf("f(void) parsed as %s", d.Typ)
		}
	})
	t.Run("Variadic", func(t *testing.T) {
		tu := mustParseTU(t, "int printf(char *fmt, ...);\n")
		d := tu.Decls[0].(*Declaration)
		if !d.Typ.Variadic || len(d.Typ.Params) != 1 {
			t.Errorf("printf parsed as %s", d.Typ)
		}
	})
	t.Run("BareEllipsisIsError", func(t *testing.T) {
		_, errs := parseTU(t, "int f(...);\n")
		if errs.Len() == 0 {
			t.Error("f(...) must be a syntax error")
		}
	})
	t.Run("ArrayParamDecays", func(t *testing.T) {
		tu := mustParseTU(t, "int sum(int v[], int n);\n")
		d := tu.Decls[0].(*Declaration)
		if !TypesEqual(d.Typ.Params[0].Type, PointerTo(IntType(true, RankInt))) {
			t.Errorf("v adjusted to %s, want int *", d.Typ.Params[0].Type)
		}
	})
}

func TestStructParsing(t *testing.T) {
	src := `
struct Point { int x; int y; };
struct Point origin;
struct Node { struct Node *next; int v; };
union U { int i; float f; };
`
	tu := mustParseTU(t, src)
	origin := tu.Decls[1].(*Declaration)
	if origin.Typ.Kind != KindRecord || origin.Typ.Tag != "Point" || !origin.Typ.Complete {
		t.Errorf("origin has type %s", origin.Typ)
	}
	if origin.Typ.FieldIndex("y") != 1 {
		t.Errorf("field y at index %d, want 1", origin.Typ.FieldIndex("y"))
	}
	node := tu.Decls[2].(*Declaration)
	next := node.Typ.Fields[0].Type
	if !next.IsPointer() || next.Base != node.Typ {
		t.Error("self-referential struct pointer does not share the tag type")
	}
	u := tu.Decls[3].(*Declaration)
	if !u.Typ.Union {
		t.Errorf("U parsed as %s, want a union", u.Typ)
	}
}

func TestStructRedefinitionError(t *testing.T) {
	_, errs := parseTU(t, "struct S { int a; };\nstruct S { int b; };\n")
	if errs.Len() == 0 {
		t.Fatal("redefinition of struct S must error")
	}
	if errs.Errors()[0].Secondary == nil {
		t.Error("tag redefinition error carries no secondary span")
	}
}

func TestEnumParsing(t *testing.T) {
	src := `
enum Color { RED, GREEN = 10, BLUE };
int main(void) { return BLUE; }
`
	tu := mustParseTU(t, src)
	d := tu.Decls[0].(*Declaration)
	want := []EnumMember{{Name: "RED", Value: 0}, {Name: "GREEN", Value: 10}, {Name: "BLUE", Value: 11}}
	if diff := pretty.Diff(d.Typ.Members, want); len(diff) > 0 {
		t.Errorf("enumerators differ: %v", diff)
	}
}

func TestEnumConstantInArraySize(t *testing.T) {
	src := `
enum { N = 4 };
int buf[N * 2];
`
	tu := mustParseTU(t, src)
	d := tu.Decls[1].(*Declaration)
	if !d.Typ.IsArray() || d.Typ.Len != 8 {
		t.Errorf("buf has type %s, want int[8]", d.Typ)
	}
}

func TestInitializerDesignators(t *testing.T) {
	src := `
struct P { int x; int y; };
int a[4] = {1, [2] = 5, 6};
struct P p = {.y = 2};
struct P grid[2] = {[1].x = 3};
`
	tu := mustParseTU(t, src)

	a := tu.Decls[1].(*Declaration)
	list := a.Init.(*InitList)
	if len(list.Items) != 3 {
		t.Fatalf("a has %d initializer items, want 3", len(list.Items))
	}
	if list.Items[1].Designators[0].Index == nil {
		t.Error("item 1 lost its [2] designator")
	}

	p := tu.Decls[2].(*Declaration)
	pItems := p.Init.(*InitList).Items
	if pItems[0].Designators[0].Field != "y" {
		t.Error("p lost its .y designator")
	}

	grid := tu.Decls[3].(*Declaration)
	gItem := grid.Init.(*InitList).Items[0]
	if len(gItem.Designators) != 2 || gItem.Designators[1].Field != "x" {
		t.Errorf("chained designator parsed as %v", gItem.Designators)
	}
}

func TestArraySizeInference(t *testing.T) {
	tu := mustParseTU(t, "int a[] = {1, 2, 3};\nchar s[] = \"hi\";\n")
	a := tu.Decls[0].(*Declaration)
	if !a.Typ.LenKnown || a.Typ.Len != 3 {
		t.Errorf("a inferred as %s, want int[3]", a.Typ)
	}
	s := tu.Decls[1].(*Declaration)
	if !s.Typ.LenKnown || s.Typ.Len != 3 {
		t.Errorf("s inferred as %s, want char[3]", s.Typ)
	}
}

// A failed block item must not take the rest of the function with it.
func TestStatementErrorRecovery(t *testing.T) {
	src := `
int main(void) {
	int x = ;
	x = 1;
	return x;
}
`
	tu, errs := parseTU(t, src)
	if errs.Len() == 0 {
		t.Fatal("expected a syntax error")
	}
	fn := tu.Decls[0].(*FuncDef)
	if len(fn.Body.Items) != 2 {
		t.Fatalf("recovered %d items, want the assignment and the return", len(fn.Body.Items))
	}
	if _, ok := fn.Body.Items[1].(*ReturnStmt); !ok {
		t.Errorf("last recovered item is %T, want *ReturnStmt", fn.Body.Items[1])
	}
}

func TestTopLevelErrorRecovery(t *testing.T) {
	src := `
int broken( = ;
int good(void) { return 1; }
`
	tu, errs := parseTU(t, src)
	if errs.Len() == 0 {
		t.Fatal("expected a syntax error")
	}
	found := false
	for _, d := range tu.Decls {
		if fn, ok := d.(*FuncDef); ok && fn.Name == "good" {
			found = true
		}
	}
	if !found {
		t.Error("parser did not recover to parse the following function")
	}
}

func TestVaArgParsing(t *testing.T) {
	src := `
int sum(int n, ...) {
	__builtin_va_list ap;
	__builtin_va_start(ap, n);
	int v = __builtin_va_arg(ap, int);
	__builtin_va_end(ap);
	return v;
}
`
	tu := mustParseTU(t, src)
	fn := tu.Decls[0].(*FuncDef)
	declStmt := fn.Body.Items[2].(*DeclStmt)
	call, ok := declStmt.Decls[0].Init.(*Call)
	if !ok {
		t.Fatalf("va_arg init is %T", declStmt.Decls[0].Init)
	}
	te, ok := call.Args[1].(*TypeExpr)
	if !ok {
		t.Fatalf("va_arg second argument is %T, want *TypeExpr", call.Args[1])
	}
	if te.Of.Kind != KindInteger {
		t.Errorf("va_arg type operand = %s, want int", te.Of)
	}
}

// Printing the AST and re-parsing it must reach a fixpoint: the second
// print equals the first.
func TestParsePrintReparse(t *testing.T) {
	sources := []string{
		"int add(int a, int b) { return (a + b); }\n",
		"typedef int myint; myint square(myint v) { return (v * v); }\n",
		`int main(void) {
	int total = 0;
	for (int i = 0; i < 10; i++) { total += i; }
	while (total > 5) { total--; }
	do { total++; } while (total < 3);
	if (total) { return total; } else { return 0; }
}
`,
		"int a[4] = { 1, [2] = 5, 6 };\n",
		"int pick(int c) { switch (c) { case 1: return 10; default: break; } goto out; out: return 0; }\n",
	}
	for _, src := range sources {
		tu, errs := parseTU(t, src)
		if errs.Len() > 0 {
			t.Fatalf("parse errors in %q:\n%s", src, errs)
		}
		first := tu.String()
		tu2, errs2 := parseTU(t, first)
		if errs2.Len() > 0 {
			t.Fatalf("re-parse errors in %q:\n%s", first, errs2)
		}
		second := tu2.String()
		if first != second {
			t.Errorf("print/re-parse not stable:\nfirst:  %s\nsecond: %s\ndiff: %v",
				first, second, pretty.Diff(first, second))
		}
	}
}
