package compiler

import (
	"fmt"
	"math"

	"ccir/pkg/ir"
	"ccir/pkg/source"
)

// CodeGen lowers an AST to the typed linear IR, one function at a time. It
// owns the module being built, the string-literal pool, the mapping from C
// record types to named IR struct types, and the scope stack binding source
// identifiers to IR values.
type CodeGen struct {
	target Target
	errs   *source.ErrorList
	mod    *ir.Module

	strPool     map[string]*ir.Global
	structTypes map[*Type]*ir.StructType

	scopes []map[string]*binding

	fb *funcBuilder
}

type bindKind int

const (
	bindLocal  bindKind = iota // val is the alloca slot address
	bindGlobal                 // val is the global's address
	bindFunc                   // callable by name; val is a function pointer
	bindEnum                   // compile-time integer constant
)

// binding associates a source identifier with its IR value and C type.
type binding struct {
	kind    bindKind
	val     ir.Value
	ctype   *Type
	enumVal int64
	def     source.Span
}

// loopFrame tracks the labels break and continue resolve to. A switch frame
// has an empty cont.
type loopFrame struct {
	brk  string
	cont string
}

// funcBuilder appends instructions for one function and hands out fresh
// temporaries and labels.
type funcBuilder struct {
	fn       *ir.Function
	temps    int
	labels   int
	loops    []loopFrame
	labelMap map[string]string // source label -> IR label
	caseMap  map[*CaseStmt]string
	retType  *Type
}

func (fb *funcBuilder) emit(in *ir.Instr) {
	fb.fn.Body = append(fb.fn.Body, in)
}

func (fb *funcBuilder) newTemp(t ir.Type) *ir.Var {
	v := &ir.Var{Typ: t, Temp: fb.temps}
	fb.temps++
	return v
}

func (fb *funcBuilder) newLabel() string {
	l := fmt.Sprintf("l%d", fb.labels)
	fb.labels++
	return l
}

// terminated reports whether the last emitted instruction ends control flow.
func (fb *funcBuilder) terminated() bool {
	if len(fb.fn.Body) == 0 {
		return false
	}
	return fb.fn.Body[len(fb.fn.Body)-1].Op.IsTerminator()
}

func NewCodeGen(target Target, errs *source.ErrorList) *CodeGen {
	return &CodeGen{
		target:      target,
		errs:        errs,
		mod:         &ir.Module{},
		strPool:     make(map[string]*ir.Global),
		structTypes: make(map[*Type]*ir.StructType),
		scopes:      []map[string]*binding{make(map[string]*binding)},
	}
}

//  Scopes and bindings

func (cg *CodeGen) pushScope() {
	cg.scopes = append(cg.scopes, make(map[string]*binding))
}

func (cg *CodeGen) popScope() {
	cg.scopes = cg.scopes[:len(cg.scopes)-1]
}

func (cg *CodeGen) bind(name string, b *binding) {
	cg.scopes[len(cg.scopes)-1][name] = b
}

func (cg *CodeGen) lookup(name string) (*binding, bool) {
	for i := len(cg.scopes) - 1; i >= 0; i-- {
		if b, ok := cg.scopes[i][name]; ok {
			return b, true
		}
	}
	return nil, false
}

//  C type to IR type mapping

// irType lowers a C type to its IR representation on the selected target.
// void* and __builtin_va_list are carried as *i8.
func (cg *CodeGen) irType(ct *Type) ir.Type {
	switch ct.Kind {
	case KindVoid:
		return ir.VoidType{}
	case KindInteger:
		if ct.IRank == RankBool {
			return ir.BoolType{}
		}
		return ir.IntType{Bits: cg.target.IntBits(ct.IRank), Unsigned: !ct.Signed}
	case KindEnum:
		return ir.IntType{Bits: cg.target.IntBits(RankInt)}
	case KindFloating:
		return ir.FloatType{Bits: cg.target.FloatBits(ct.FRank)}
	case KindPointer:
		if ct.Base.IsVoid() {
			return ir.PointerType{Elem: ir.IntType{Bits: 8}}
		}
		return ir.PointerType{Elem: cg.irType(ct.Base)}
	case KindArray:
		return ir.ArrayType{Elem: cg.irType(ct.Elem), Len: ct.Len}
	case KindFunc:
		params := make([]ir.Type, len(ct.Params))
		for i, p := range ct.Params {
			params[i] = cg.irType(p.Type)
		}
		return &ir.FuncType{Ret: cg.irType(ct.Ret), Params: params, Variadic: ct.Variadic}
	case KindRecord:
		return cg.irStructType(ct)
	case KindBuiltin:
		return ir.PointerType{Elem: ir.IntType{Bits: 8}}
	}
	return ir.VoidType{}
}

// irStructType interns the IR struct type for a C record. Names follow the
// pattern struct.<Tag>_<n> in order of first use.
func (cg *CodeGen) irStructType(ct *Type) *ir.StructType {
	ct = ct.Canonical()
	if st, ok := cg.structTypes[ct]; ok {
		return st
	}
	st := &ir.StructType{
		Name:  fmt.Sprintf("struct.%s_%d", ct.Tag, len(cg.structTypes)),
		Union: ct.Union,
	}
	cg.structTypes[ct] = st
	for _, f := range ct.Fields {
		st.Fields = append(st.Fields, cg.irType(f.Type))
	}
	return st
}

//  Values

// exprVal pairs an IR value with the C type it carries. A failed lowering
// returns the poison value; consumers propagate it silently.
type exprVal struct {
	v ir.Value
	t *Type
}

func (ev exprVal) bad() bool { return ev.t.IsError() }

func (cg *CodeGen) poison() exprVal { return exprVal{t: ErrType} }

// errExpr records a semantic error and returns poison.
func (cg *CodeGen) errExpr(span source.Span, format string, args ...any) exprVal {
	cg.errs.Add(source.Semantic, span, format, args...)
	return cg.poison()
}

func (cg *CodeGen) intConst(ct *Type, v uint64) *ir.Const {
	t := cg.irType(ct)
	if it, ok := t.(ir.IntType); ok {
		v = ir.Truncate(v, it.Bits)
	}
	return &ir.Const{Typ: t, Int: v}
}

func (cg *CodeGen) zeroConst(ct *Type) *ir.Const {
	if ct.IsFloating() {
		return &ir.Const{Typ: cg.irType(ct)}
	}
	return cg.intConst(ct, 0)
}

//  String literals

// internString returns the anonymous global holding the literal's bytes
// plus a terminating NUL.
func (cg *CodeGen) internString(val string) *ir.Global {
	if g, ok := cg.strPool[val]; ok {
		return g
	}
	g := &ir.Global{
		Name: fmt.Sprintf("%d", len(cg.strPool)),
		Typ:  ir.ArrayType{Elem: ir.IntType{Bits: 8}, Len: int64(len(val)) + 1},
		Init: &ir.Init{Str: val + "\x00"},
	}
	cg.strPool[val] = g
	cg.mod.Globals = append(cg.mod.Globals, g)
	return g
}

//  Conversions

// convert inserts whatever conversion instructions take ev to the C type
// to. Conversions between constants fold instead of emitting.
func (cg *CodeGen) convert(ev exprVal, to *Type, span source.Span) exprVal {
	if ev.bad() || to.IsError() {
		return cg.poison()
	}
	if to.IsVoid() {
		return exprVal{t: VoidType()}
	}
	from := ev.t

	// Array-to-pointer decay: the value is the array's address; the decayed
	// pointer is its first element.
	if from.IsArray() {
		elemPtr := cg.arrayElemPtr(ev.v, from, cg.intConst(IntType(true, RankInt), 0), span)
		return cg.convert(exprVal{v: elemPtr, t: PointerTo(from.Elem)}, to, span)
	}

	// A comparison result is an IR bool even when its C type is int; widen
	// it before it reaches an arithmetic operand slot.
	if ev.v != nil && isIRBool(ev.v.Type()) && !(to.IsInteger() && to.AsInteger().IRank == RankBool) {
		intT := IntType(true, RankInt)
		if c, ok := ev.v.(*ir.Const); ok {
			return cg.convert(exprVal{v: cg.intConst(intT, c.Int), t: intT}, to, span)
		}
		widened := cg.fb.newTemp(cg.irType(intT))
		cg.fb.emit(&ir.Instr{Op: ir.OpExt, Dest: widened, Args: []ir.Value{ev.v}, Span: span})
		return cg.convert(exprVal{v: widened, t: intT}, to, span)
	}

	if TypesEqual(stripCV(from), stripCV(to)) {
		return exprVal{v: ev.v, t: to}
	}

	toIR := cg.irType(to)
	fromIR := ev.v.Type()

	if c, ok := ev.v.(*ir.Const); ok {
		if folded := cg.foldConvert(c, from, to); folded != nil {
			return exprVal{v: folded, t: to}
		}
	}

	switch {
	case to.IsInteger() && to.AsInteger().IRank == RankBool && from.IsScalar():
		// Conversion to _Bool is a comparison against zero.
		return exprVal{v: cg.toBool(ev, span), t: to}

	case from.IsInteger() && to.IsInteger():
		fi := fromIR.(ir.IntType)
		ti := toIR.(ir.IntType)
		op := ir.OpBitcast
		if ti.Bits < fi.Bits {
			op = ir.OpTrunc
		} else if ti.Bits > fi.Bits {
			op = ir.OpExt
		}
		dest := cg.fb.newTemp(toIR)
		cg.fb.emit(&ir.Instr{Op: op, Dest: dest, Args: []ir.Value{ev.v}, Span: span})
		return exprVal{v: dest, t: to}

	case from.IsInteger() && to.IsFloating():
		dest := cg.fb.newTemp(toIR)
		cg.fb.emit(&ir.Instr{Op: ir.OpItof, Dest: dest, Args: []ir.Value{ev.v}, Span: span})
		return exprVal{v: dest, t: to}

	case from.IsFloating() && to.IsInteger():
		dest := cg.fb.newTemp(toIR)
		cg.fb.emit(&ir.Instr{Op: ir.OpFtoi, Dest: dest, Args: []ir.Value{ev.v}, Span: span})
		return exprVal{v: dest, t: to}

	case from.IsFloating() && to.IsFloating():
		ff := fromIR.(ir.FloatType)
		tf := toIR.(ir.FloatType)
		if ff.Bits == tf.Bits {
			return exprVal{v: ev.v, t: to}
		}
		op := ir.OpExt
		if tf.Bits < ff.Bits {
			op = ir.OpTrunc
		}
		dest := cg.fb.newTemp(toIR)
		cg.fb.emit(&ir.Instr{Op: op, Dest: dest, Args: []ir.Value{ev.v}, Span: span})
		return exprVal{v: dest, t: to}

	case from.IsPointer() && to.IsPointer():
		dest := cg.fb.newTemp(toIR)
		cg.fb.emit(&ir.Instr{Op: ir.OpBitcast, Dest: dest, Args: []ir.Value{ev.v}, Span: span})
		return exprVal{v: dest, t: to}

	case from.IsPointer() && to.IsInteger():
		asInt := cg.fb.newTemp(ir.IntType{Bits: cg.target.PointerBits()})
		cg.fb.emit(&ir.Instr{Op: ir.OpBitcast, Dest: asInt, Args: []ir.Value{ev.v}, Span: span})
		return cg.convert(exprVal{v: asInt, t: cg.target.PtrDiffInt()}, to, span)

	case from.IsInteger() && to.IsPointer():
		wide := cg.convert(ev, cg.target.PtrDiffInt(), span)
		if wide.bad() {
			return cg.poison()
		}
		dest := cg.fb.newTemp(toIR)
		cg.fb.emit(&ir.Instr{Op: ir.OpBitcast, Dest: dest, Args: []ir.Value{wide.v}, Span: span})
		return exprVal{v: dest, t: to}
	}

	return cg.errExpr(span, "invalid conversion from %s to %s", from, to)
}

// foldConvert converts a constant at compile time, or returns nil when the
// conversion needs an instruction anyway.
func (cg *CodeGen) foldConvert(c *ir.Const, from, to *Type) *ir.Const {
	if to.IsInteger() && to.AsInteger().IRank == RankBool {
		truth := c.Int != 0
		if _, isF := c.Typ.(ir.FloatType); isF {
			truth = c.Float != 0
		}
		out := &ir.Const{Typ: ir.BoolType{}}
		if truth {
			out.Int = 1
		}
		return out
	}
	if to.IsPointer() && from.IsInteger() {
		return &ir.Const{Typ: cg.irType(to), Int: c.Int}
	}
	switch {
	case from.IsInteger() && to.IsInteger():
		v := c.Int
		if from.AsInteger().Signed && cg.widthOf(to) > cg.widthOf(from) {
			v = uint64(signExtendConst(v, cg.widthOf(from)))
		}
		return cg.intConst(to, v)
	case from.IsInteger() && to.IsFloating():
		var f float64
		if from.AsInteger().Signed {
			f = float64(signExtendConst(c.Int, cg.widthOf(from)))
		} else {
			f = float64(c.Int)
		}
		if to.FRank == RankFloat {
			f = float64(float32(f))
		}
		return &ir.Const{Typ: cg.irType(to), Float: f}
	case from.IsFloating() && to.IsFloating():
		f := c.Float
		if to.FRank == RankFloat {
			f = float64(float32(f))
		}
		return &ir.Const{Typ: cg.irType(to), Float: f}
	case from.IsFloating() && to.IsInteger() && to.AsInteger().IRank != RankBool:
		return cg.intConst(to, uint64(int64(c.Float)))
	}
	return nil
}

func (cg *CodeGen) widthOf(ct *Type) int {
	return cg.target.IntBits(ct.AsInteger().IRank)
}

func signExtendConst(v uint64, bits int) int64 {
	if bits >= 64 {
		return int64(v)
	}
	shift := 64 - uint(bits)
	return int64(v<<shift) >> shift
}

func stripCV(t *Type) *Type {
	if !t.Const && !t.Volatile {
		return t
	}
	c := *t
	c.Const = false
	c.Volatile = false
	return &c
}

func isIRBool(t ir.Type) bool {
	_, ok := t.(ir.BoolType)
	return ok
}

// toBool lowers ev to an IR bool: comparison results pass through, scalars
// compare against zero.
func (cg *CodeGen) toBool(ev exprVal, span source.Span) ir.Value {
	if isIRBool(ev.v.Type()) {
		return ev.v
	}
	var zero ir.Value
	switch ev.v.Type().(type) {
	case ir.FloatType:
		zero = &ir.Const{Typ: ev.v.Type()}
	default:
		zero = &ir.Const{Typ: ev.v.Type(), Int: 0}
	}
	if c, ok := ev.v.(*ir.Const); ok {
		truth := c.Int != 0
		if _, isF := c.Typ.(ir.FloatType); isF {
			truth = c.Float != 0
		}
		b := &ir.Const{Typ: ir.BoolType{}}
		if truth {
			b.Int = 1
		}
		return b
	}
	dest := cg.fb.newTemp(ir.BoolType{})
	cg.fb.emit(&ir.Instr{Op: ir.OpNe, Dest: dest, Args: []ir.Value{ev.v, zero}, Span: span})
	return dest
}

// notBool inverts a bool value, folding constants.
func (cg *CodeGen) notBool(v ir.Value, span source.Span) ir.Value {
	if c, ok := v.(*ir.Const); ok {
		out := &ir.Const{Typ: ir.BoolType{}}
		if c.Int == 0 {
			out.Int = 1
		}
		return out
	}
	dest := cg.fb.newTemp(ir.BoolType{})
	cg.fb.emit(&ir.Instr{Op: ir.OpEq, Dest: dest, Args: []ir.Value{v, &ir.Const{Typ: ir.BoolType{}}}, Span: span})
	return dest
}

// condFalse lowers a condition and yields the bool that is true when the
// condition is false, the form br_cond wants for the "skip" branch. For a
// non-bool scalar this is a single eq-to-zero comparison.
func (cg *CodeGen) condFalse(e Expr) (ir.Value, bool) {
	ev := cg.expr(e)
	if ev.bad() {
		return nil, false
	}
	if !ev.t.IsScalar() {
		cg.errExpr(e.Span(), "condition has non-scalar type %s", ev.t)
		return nil, false
	}
	if isIRBool(ev.v.Type()) {
		return cg.notBool(ev.v, e.Span()), true
	}
	if c, ok := ev.v.(*ir.Const); ok {
		out := &ir.Const{Typ: ir.BoolType{}}
		truth := c.Int != 0
		if _, isF := c.Typ.(ir.FloatType); isF {
			truth = c.Float != 0
		}
		if !truth {
			out.Int = 1
		}
		return out, true
	}
	var zero ir.Value
	switch ev.v.Type().(type) {
	case ir.FloatType:
		zero = &ir.Const{Typ: ev.v.Type()}
	default:
		zero = &ir.Const{Typ: ev.v.Type(), Int: 0}
	}
	dest := cg.fb.newTemp(ir.BoolType{})
	cg.fb.emit(&ir.Instr{Op: ir.OpEq, Dest: dest, Args: []ir.Value{ev.v, zero}, Span: e.Span()})
	return dest, true
}

//  Aggregate addressing helpers

// arrayElemPtr emits get_array_element_ptr. base points at an array or at
// elements directly (pointer arithmetic); either way the result points at
// one element.
func (cg *CodeGen) arrayElemPtr(base ir.Value, baseType *Type, index ir.Value, span source.Span) ir.Value {
	var elemCT *Type
	if baseType.IsArray() {
		elemCT = baseType.Elem
	} else {
		elemCT = baseType.Base
	}
	dest := cg.fb.newTemp(ir.PointerType{Elem: cg.irType(elemCT)})
	cg.fb.emit(&ir.Instr{Op: ir.OpArrayElem, Dest: dest, Args: []ir.Value{base, index}, Span: span})
	return dest
}

// structMemberPtr emits get_struct_member_ptr for field i of the record
// that base points to.
func (cg *CodeGen) structMemberPtr(base ir.Value, rec *Type, i int, span source.Span) ir.Value {
	rec = rec.Canonical()
	f := rec.Fields[i]
	dest := cg.fb.newTemp(ir.PointerType{Elem: cg.irType(f.Type)})
	idx := &ir.Const{Typ: ir.IntType{Bits: 32}, Int: uint64(i)}
	cg.fb.emit(&ir.Instr{Op: ir.OpStructMember, Dest: dest, Args: []ir.Value{base, idx}, Span: span})
	return dest
}

//  Lvalues

// addr lowers e to the address of the object it designates. The returned
// type is the object's type (not the pointer type). Non-lvalues are a
// semantic error.
func (cg *CodeGen) addr(e Expr) exprVal {
	switch n := e.(type) {
	case *Ident:
		b, ok := cg.lookup(n.Name)
		if !ok {
			return cg.errExpr(n.Span(), "use of undeclared identifier %q", n.Name)
		}
		switch b.kind {
		case bindLocal, bindGlobal:
			return exprVal{v: b.val, t: b.ctype}
		case bindFunc:
			return exprVal{v: b.val, t: b.ctype}
		default:
			return cg.errExpr(n.Span(), "cannot take the address of enumerator %q", n.Name)
		}

	case *Index:
		base := cg.expr(n.Base)
		if base.bad() {
			return cg.poison()
		}
		// Arrays are not decayed here: subscripting applies to the array
		// address directly. Pointers subscript the pointer value.
		if !base.t.IsArray() && !base.t.IsPointer() {
			return cg.errExpr(n.Span(), "subscripted value is not an array or pointer (type %s)", base.t)
		}
		if base.t.IsPointer() && !base.t.Base.IsComplete() {
			return cg.errExpr(n.Span(), "subscript on pointer to incomplete type %s", base.t.Base)
		}
		idx := cg.expr(n.Idx)
		if idx.bad() {
			return cg.poison()
		}
		if !idx.t.IsInteger() {
			return cg.errExpr(n.Idx.Span(), "array subscript is not an integer (type %s)", idx.t)
		}
		idxP := cg.convert(idx, IntegerPromotion(idx.t.AsInteger()), n.Idx.Span())
		elemPtr := cg.arrayElemPtr(base.v, base.t, idxP.v, n.Span())
		var elemCT *Type
		if base.t.IsArray() {
			elemCT = base.t.Elem
		} else {
			elemCT = base.t.Base
		}
		return exprVal{v: elemPtr, t: elemCT}

	case *Member:
		var base exprVal
		if n.Arrow {
			base = cg.expr(n.Base)
			if base.bad() {
				return cg.poison()
			}
			if !base.t.IsPointer() || !base.t.Base.IsRecord() {
				return cg.errExpr(n.Span(), "-> on non-pointer-to-struct type %s", base.t)
			}
			base = exprVal{v: base.v, t: base.t.Base}
		} else {
			base = cg.addr(n.Base)
			if base.bad() {
				return cg.poison()
			}
			if !base.t.IsRecord() {
				return cg.errExpr(n.Span(), "member access on non-struct type %s", base.t)
			}
		}
		rec := base.t.Canonical()
		if !rec.Complete {
			return cg.errExpr(n.Span(), "member access on incomplete type %s", rec)
		}
		i := rec.FieldIndex(n.Name)
		if i < 0 {
			return cg.errExpr(n.NameTok.Span, "struct %s has no member %q", rec.Tag, n.Name)
		}
		ptr := cg.structMemberPtr(base.v, rec, i, n.Span())
		return exprVal{v: ptr, t: rec.Fields[i].Type}

	case *Unary:
		if n.Op == STAR {
			ptr := cg.expr(n.Operand)
			if ptr.bad() {
				return cg.poison()
			}
			if !ptr.t.IsPointer() {
				return cg.errExpr(n.Span(), "indirection on non-pointer type %s", ptr.t)
			}
			return exprVal{v: ptr.v, t: ptr.t.Base}
		}

	case *CompoundLit:
		return cg.lowerCompoundLit(n)
	}
	return cg.errExpr(e.Span(), "expression is not an lvalue")
}

// lowerCompoundLit gives the literal a fresh slot and initializes it.
func (cg *CodeGen) lowerCompoundLit(n *CompoundLit) exprVal {
	if cg.fb == nil {
		return cg.errExpr(n.Span(), "compound literal outside a function")
	}
	slotT := cg.irType(n.Of)
	slot := cg.fb.newTemp(ir.PointerType{Elem: slotT})
	cg.fb.emit(&ir.Instr{Op: ir.OpAlloca, Dest: slot, AllocType: slotT, Span: n.Span()})
	cg.initLocal(slot, n.Of, n.Init, n.Span())
	return exprVal{v: slot, t: n.Of}
}

//  Rvalues

// expr lowers e to an rvalue. Scalar lvalues are loaded; array and struct
// values stay as their address (arrays decay at conversion points).
func (cg *CodeGen) expr(e Expr) exprVal {
	switch n := e.(type) {
	case *IntLit:
		return exprVal{v: cg.intConst(n.Type, n.Value), t: n.Type}

	case *FloatLit:
		return exprVal{v: &ir.Const{Typ: cg.irType(n.Type), Float: n.Value}, t: n.Type}

	case *CharLit:
		t := IntType(true, RankInt)
		return exprVal{v: cg.intConst(t, uint64(n.Value)), t: t}

	case *StrLit:
		g := cg.internString(n.Value)
		ptr := &ir.Var{Typ: ir.PointerType{Elem: g.Typ}, Name: g.Name, Global: true}
		dest := cg.fb.newTemp(ir.PointerType{Elem: ir.IntType{Bits: 8}})
		cg.fb.emit(&ir.Instr{Op: ir.OpBitcast, Dest: dest, Args: []ir.Value{ptr}, Span: n.Span()})
		return exprVal{v: dest, t: PointerTo(IntType(true, RankChar))}

	case *Ident:
		b, ok := cg.lookup(n.Name)
		if !ok {
			return cg.errExpr(n.Span(), "use of undeclared identifier %q", n.Name)
		}
		switch b.kind {
		case bindEnum:
			t := IntType(true, RankInt)
			return exprVal{v: cg.intConst(t, uint64(b.enumVal)), t: t}
		case bindFunc:
			return exprVal{v: b.val, t: PointerTo(b.ctype)}
		default:
			return cg.loadFrom(exprVal{v: b.val, t: b.ctype}, n.Span())
		}

	case *Unary:
		return cg.unary(n)

	case *Postfix:
		return cg.incDec(n.Operand, n.Op == PLUS_PLUS, true, n.Span())

	case *Binary:
		return cg.binary(n)

	case *CommaExpr:
		cg.expr(n.Left)
		return cg.expr(n.Right)

	case *Cond:
		return cg.conditional(n)

	case *Call:
		return cg.call(n)

	case *Index, *Member:
		lv := cg.addr(e)
		if lv.bad() {
			return cg.poison()
		}
		return cg.loadFrom(lv, e.Span())

	case *CastExpr:
		if n.To.IsVoid() {
			cg.expr(n.Operand)
			return exprVal{t: VoidType()}
		}
		operand := cg.expr(n.Operand)
		return cg.convert(operand, n.To, n.Span())

	case *SizeofExpr:
		var ct *Type
		if n.Of != nil {
			ct = n.Of
		} else {
			ct = cg.typeOf(n.Operand)
		}
		if ct.IsError() {
			return cg.poison()
		}
		sz, err := cg.target.SizeOf(ct)
		if err != nil {
			return cg.errExpr(n.Span(), "sizeof on incomplete type %s", ct)
		}
		st := cg.target.SizeType()
		return exprVal{v: cg.intConst(st, uint64(sz)), t: st}

	case *CompoundLit:
		lv := cg.lowerCompoundLit(n)
		if lv.bad() {
			return cg.poison()
		}
		return cg.loadFrom(lv, n.Span())

	case *TypeExpr:
		return cg.errExpr(n.Span(), "type name is not a value here")

	case *InitList:
		return cg.errExpr(n.Span(), "brace initializer is only valid in a declaration")
	}
	return cg.errExpr(e.Span(), "cannot lower expression")
}

// recordValue materializes a struct rvalue as a loaded struct: an
// address-carrying value loads, a value already produced by value (a call
// result) passes through.
func (cg *CodeGen) recordValue(ev exprVal, span source.Span) ir.Value {
	if pt, ok := ev.v.Type().(ir.PointerType); ok {
		if _, isStruct := pt.Elem.(*ir.StructType); isStruct {
			tmp := cg.fb.newTemp(pt.Elem)
			cg.fb.emit(&ir.Instr{Op: ir.OpLoad, Dest: tmp, Args: []ir.Value{ev.v}, Span: span})
			return tmp
		}
	}
	return ev.v
}

// loadFrom turns an lvalue into an rvalue. Aggregates keep their address;
// scalars load.
func (cg *CodeGen) loadFrom(lv exprVal, span source.Span) exprVal {
	if lv.bad() {
		return cg.poison()
	}
	if lv.t.IsArray() || lv.t.IsFunc() {
		return lv
	}
	if lv.t.IsRecord() {
		return lv // struct rvalues are handled address-wise by their consumers
	}
	dest := cg.fb.newTemp(cg.irType(lv.t))
	cg.fb.emit(&ir.Instr{Op: ir.OpLoad, Dest: dest, Args: []ir.Value{lv.v}, Span: span})
	return exprVal{v: dest, t: lv.t}
}

func (cg *CodeGen) unary(n *Unary) exprVal {
	switch n.Op {
	case AMP:
		lv := cg.addr(n.Operand)
		if lv.bad() {
			return cg.poison()
		}
		return exprVal{v: lv.v, t: PointerTo(lv.t)}

	case STAR:
		lv := cg.addr(n)
		if lv.bad() {
			return cg.poison()
		}
		if lv.t.IsFunc() {
			// *f on a function pointer is the function designator again.
			return exprVal{v: lv.v, t: PointerTo(lv.t)}
		}
		return cg.loadFrom(lv, n.Span())

	case PLUS, MINUS:
		operand := cg.expr(n.Operand)
		if operand.bad() {
			return cg.poison()
		}
		if !operand.t.IsArithmetic() {
			return cg.errExpr(n.Span(), "invalid operand type %s for unary %s", operand.t, n.Op)
		}
		promoted := operand.t
		if operand.t.IsInteger() {
			promoted = IntegerPromotion(operand.t.AsInteger())
		}
		operand = cg.convert(operand, promoted, n.Span())
		if n.Op == PLUS {
			return operand
		}
		zero := exprVal{v: cg.zeroConst(promoted), t: promoted}
		return cg.emitArith(ir.OpSub, zero, operand, promoted, n.Span())

	case TILDE:
		operand := cg.expr(n.Operand)
		if operand.bad() {
			return cg.poison()
		}
		if !operand.t.IsInteger() {
			return cg.errExpr(n.Span(), "invalid operand type %s for unary ~", operand.t)
		}
		promoted := IntegerPromotion(operand.t.AsInteger())
		operand = cg.convert(operand, promoted, n.Span())
		ones := exprVal{v: cg.intConst(promoted, ^uint64(0)), t: promoted}
		return cg.emitArith(ir.OpXor, operand, ones, promoted, n.Span())

	case NOT:
		cf, ok := cg.condFalse(n.Operand)
		if !ok {
			return cg.poison()
		}
		return exprVal{v: cf, t: IntType(true, RankInt)}

	case PLUS_PLUS, MINUS_MINUS:
		return cg.incDec(n.Operand, n.Op == PLUS_PLUS, false, n.Span())
	}
	return cg.errExpr(n.Span(), "unknown unary operator %s", n.Op)
}

// incDec lowers ++ and --, prefix and postfix. The operand's address is
// evaluated exactly once; pointers step by one element.
func (cg *CodeGen) incDec(operand Expr, isInc, postfix bool, span source.Span) exprVal {
	lv := cg.addr(operand)
	if lv.bad() {
		return cg.poison()
	}
	if !lv.t.IsScalar() {
		return cg.errExpr(span, "cannot increment value of type %s", lv.t)
	}
	old := cg.loadFrom(lv, span)
	var neu exprVal
	if lv.t.IsPointer() {
		if !lv.t.Base.IsComplete() {
			return cg.errExpr(span, "arithmetic on pointer to incomplete type %s", lv.t.Base)
		}
		step := int64(1)
		if !isInc {
			step = -1
		}
		idx := &ir.Const{Typ: ir.IntType{Bits: 32}, Int: uint64(step)}
		ptr := cg.arrayElemPtr(old.v, lv.t, idx, span)
		neu = exprVal{v: ptr, t: lv.t}
	} else {
		one := exprVal{v: cg.intConst(IntType(true, RankInt), 1), t: IntType(true, RankInt)}
		op := ir.OpAdd
		if !isInc {
			op = ir.OpSub
		}
		common := CommonArithmeticType(lv.t, one.t)
		l := cg.convert(old, common, span)
		r := cg.convert(one, common, span)
		res := cg.emitArith(op, l, r, common, span)
		neu = cg.convert(res, lv.t, span)
	}
	if neu.bad() {
		return cg.poison()
	}
	cg.fb.emit(&ir.Instr{Op: ir.OpStore, Args: []ir.Value{neu.v, lv.v}, Span: span})
	if postfix {
		return exprVal{v: old.v, t: lv.t}
	}
	return exprVal{v: neu.v, t: lv.t}
}

func (cg *CodeGen) binary(n *Binary) exprVal {
	switch n.Op.Class {
	case BinAssign:
		return cg.assign(n)
	case BinLogical:
		return cg.logical(n)
	case BinCompare:
		return cg.compare(n)
	case BinArith, BinBitwise:
		return cg.arith(n)
	}
	return cg.errExpr(n.Span(), "unknown binary operator %s", n.Op.Kind)
}

// assignOpBase maps a compound-assignment token to the underlying operator.
var assignOpBase = map[TokenKind]TokenKind{
	PLUS_ASSIGN:    PLUS,
	MINUS_ASSIGN:   MINUS,
	STAR_ASSIGN:    STAR,
	SLASH_ASSIGN:   SLASH,
	PERCENT_ASSIGN: PERCENT,
	SHL_ASSIGN:     SHL_OP,
	SHR_ASSIGN:     SHR_OP,
	AMP_ASSIGN:     AMP,
	CARET_ASSIGN:   CARET,
	PIPE_ASSIGN:    PIPE,
}

// assign lowers = and the compound assignments. The destination address is
// evaluated exactly once; a += b behaves as a = (T)((T)a + b) with T the
// type of a.
func (cg *CodeGen) assign(n *Binary) exprVal {
	lv := cg.addr(n.Left)
	if lv.bad() {
		return cg.poison()
	}
	if lv.t.Const {
		cg.errs.Add(source.Semantic, n.Left.Span(), "assignment to const-qualified lvalue")
	}

	var value exprVal
	if n.Op.Kind == ASSIGN {
		value = cg.expr(n.Right)
		if value.bad() {
			return cg.poison()
		}
		if lv.t.IsRecord() {
			// Struct assignment copies the whole object.
			if !TypesEqual(stripCV(lv.t), stripCV(value.t)) {
				return cg.errExpr(n.Span(), "incompatible struct assignment (%s = %s)", lv.t, value.t)
			}
			tmp := cg.recordValue(value, n.Span())
			cg.fb.emit(&ir.Instr{Op: ir.OpStore, Args: []ir.Value{tmp, lv.v}, Span: n.Span()})
			return exprVal{v: tmp, t: lv.t}
		}
		value = cg.convert(value, stripCV(lv.t), n.Right.Span())
	} else {
		base := assignOpBase[n.Op.Kind]
		old := cg.loadFrom(lv, n.Span())
		res := cg.applyBinary(base, old, n.Left.Span(), cg.expr(n.Right), n.Right.Span(), n.Span())
		if res.bad() {
			return cg.poison()
		}
		value = cg.convert(res, stripCV(lv.t), n.Span())
	}
	if value.bad() {
		return cg.poison()
	}
	cg.fb.emit(&ir.Instr{Op: ir.OpStore, Args: []ir.Value{value.v, lv.v}, Span: n.Span()})
	return exprVal{v: value.v, t: lv.t}
}

// arith lowers the arithmetic and bitwise operators.
func (cg *CodeGen) arith(n *Binary) exprVal {
	left := cg.expr(n.Left)
	right := cg.expr(n.Right)
	return cg.applyBinary(n.Op.Kind, left, n.Left.Span(), right, n.Right.Span(), n.Span())
}

// applyBinary applies an arithmetic or bitwise operator to two lowered
// operands, handling pointer arithmetic, promotion, conversion, and
// constant folding.
func (cg *CodeGen) applyBinary(op TokenKind, left exprVal, lspan source.Span, right exprVal, rspan source.Span, span source.Span) exprVal {
	if left.bad() || right.bad() {
		return cg.poison()
	}

	lt := left.t.Decay()
	rt := right.t.Decay()

	// Pointer arithmetic: p+i, i+p, p-i, p-p.
	if op == PLUS || op == MINUS {
		if lt.IsPointer() || rt.IsPointer() {
			return cg.pointerArith(op, left, right, span)
		}
	}

	if !lt.IsArithmetic() || !rt.IsArithmetic() {
		return cg.errExpr(span, "invalid operand types %s and %s for binary %s", left.t, right.t, op)
	}

	switch op {
	case SHL_OP, SHR_OP:
		// Shift operands promote independently; the result takes the
		// promoted type of the left operand.
		if !lt.IsInteger() || !rt.IsInteger() {
			return cg.errExpr(span, "shift of non-integer type")
		}
		resT := IntegerPromotion(lt.AsInteger())
		l := cg.convert(left, resT, lspan)
		r := cg.convert(right, resT, rspan)
		irOp := ir.OpShl
		if op == SHR_OP {
			irOp = ir.OpShr
		}
		return cg.emitArith(irOp, l, r, resT, span)
	}

	if op == PERCENT || op == AMP || op == PIPE || op == CARET {
		if !lt.IsInteger() || !rt.IsInteger() {
			return cg.errExpr(span, "invalid operand types %s and %s for binary %s", left.t, right.t, op)
		}
	}

	common := CommonArithmeticType(lt, rt)
	l := cg.convert(left, common, lspan)
	r := cg.convert(right, common, rspan)
	var irOp ir.Op
	switch op {
	case PLUS:
		irOp = ir.OpAdd
	case MINUS:
		irOp = ir.OpSub
	case STAR:
		irOp = ir.OpMul
	case SLASH:
		irOp = ir.OpDiv
	case PERCENT:
		irOp = ir.OpMod
	case AMP:
		irOp = ir.OpAnd
	case PIPE:
		irOp = ir.OpOr
	case CARET:
		irOp = ir.OpXor
	default:
		return cg.errExpr(span, "unknown binary operator %s", op)
	}
	return cg.emitArith(irOp, l, r, common, span)
}

// pointerArith scales by the pointee size through get_array_element_ptr.
func (cg *CodeGen) pointerArith(op TokenKind, left, right exprVal, span source.Span) exprVal {
	lt := left.t.Decay()
	rt := right.t.Decay()

	decay := func(ev exprVal) exprVal {
		if ev.t.IsArray() {
			return cg.convert(ev, PointerTo(ev.t.Elem), span)
		}
		return ev
	}

	// p - q: byte difference divided by the element size.
	if lt.IsPointer() && rt.IsPointer() {
		if op != MINUS {
			return cg.errExpr(span, "invalid operands to pointer +")
		}
		if !TypesEqual(stripCV(lt.Base), stripCV(rt.Base)) {
			return cg.errExpr(span, "subtraction of incompatible pointer types")
		}
		sz, err := cg.target.SizeOf(lt.Base)
		if err != nil {
			return cg.errExpr(span, "arithmetic on pointer to incomplete type %s", lt.Base)
		}
		diffT := cg.target.PtrDiffInt()
		l := cg.convert(decay(left), diffT, span)
		r := cg.convert(decay(right), diffT, span)
		diff := cg.emitArith(ir.OpSub, l, r, diffT, span)
		szv := exprVal{v: cg.intConst(diffT, uint64(sz)), t: diffT}
		return cg.emitArith(ir.OpDiv, diff, szv, diffT, span)
	}

	ptr, idx := left, right
	if rt.IsPointer() || rt.IsArray() {
		if op == MINUS {
			return cg.errExpr(span, "integer - pointer is not defined")
		}
		ptr, idx = right, left
	}
	pt := ptr.t.Decay()
	if !pt.Base.IsComplete() {
		return cg.errExpr(span, "arithmetic on pointer to incomplete type %s", pt.Base)
	}
	if !idx.t.IsInteger() {
		return cg.errExpr(span, "pointer offset is not an integer")
	}
	off := cg.convert(idx, IntegerPromotion(idx.t.AsInteger()), span)
	if op == MINUS {
		zero := exprVal{v: cg.zeroConst(off.t), t: off.t}
		off = cg.emitArith(ir.OpSub, zero, off, off.t, span)
	}
	// The subscript machinery works on the undecayed value: arrays index
	// their own address, pointers index the pointer value.
	out := cg.arrayElemPtr(ptr.v, ptr.t, off.v, span)
	return exprVal{v: out, t: pt}
}

// emitArith emits (or folds) one typed arithmetic instruction whose
// operands already share resT.
func (cg *CodeGen) emitArith(op ir.Op, l, r exprVal, resT *Type, span source.Span) exprVal {
	if l.bad() || r.bad() {
		return cg.poison()
	}
	lc, lok := l.v.(*ir.Const)
	rc, rok := r.v.(*ir.Const)
	if lok && rok {
		if folded := cg.foldArith(op, lc, rc, resT, span); folded != nil {
			return exprVal{v: folded, t: resT}
		}
		return cg.poison()
	}
	dest := cg.fb.newTemp(cg.irType(resT))
	cg.fb.emit(&ir.Instr{Op: op, Dest: dest, Args: []ir.Value{l.v, r.v}, Span: span})
	return exprVal{v: dest, t: resT}
}

// foldArith evaluates op over two constants of the same type. Integer
// division by zero is flagged and poisons; float division follows IEEE.
func (cg *CodeGen) foldArith(op ir.Op, a, b *ir.Const, resT *Type, span source.Span) *ir.Const {
	if resT.IsFloating() {
		var f float64
		switch op {
		case ir.OpAdd:
			f = a.Float + b.Float
		case ir.OpSub:
			f = a.Float - b.Float
		case ir.OpMul:
			f = a.Float * b.Float
		case ir.OpDiv:
			f = a.Float / b.Float // inf/nan per IEEE on division by zero
		default:
			f = math.NaN()
		}
		if resT.FRank == RankFloat {
			f = float64(float32(f))
		}
		return &ir.Const{Typ: cg.irType(resT), Float: f}
	}

	it := resT.AsInteger()
	bits := cg.widthOf(it)
	av, bv := a.Int, b.Int
	var out uint64
	switch op {
	case ir.OpAdd:
		out = av + bv
	case ir.OpSub:
		out = av - bv
	case ir.OpMul:
		out = av * bv
	case ir.OpDiv, ir.OpMod:
		if bv == 0 {
			cg.errs.Add(source.Semantic, span, "integer division by zero in constant expression")
			return nil
		}
		if it.Signed {
			as := signExtendConst(av, bits)
			bs := signExtendConst(bv, bits)
			if op == ir.OpDiv {
				out = uint64(as / bs)
			} else {
				out = uint64(as % bs)
			}
		} else {
			if op == ir.OpDiv {
				out = av / bv
			} else {
				out = av % bv
			}
		}
	case ir.OpAnd:
		out = av & bv
	case ir.OpOr:
		out = av | bv
	case ir.OpXor:
		out = av ^ bv
	case ir.OpShl:
		out = av << (bv & 63)
	case ir.OpShr:
		if it.Signed {
			out = uint64(signExtendConst(av, bits) >> (bv & 63))
		} else {
			out = av >> (bv & 63)
		}
	default:
		return nil
	}
	return cg.intConst(it, out)
}

// compare lowers the comparison operators: both operands are converted to
// their common arithmetic type (pointers compare directly) and the result
// is an IR bool with C type int.
func (cg *CodeGen) compare(n *Binary) exprVal {
	left := cg.expr(n.Left)
	right := cg.expr(n.Right)
	if left.bad() || right.bad() {
		return cg.poison()
	}

	lt := left.t.Decay()
	rt := right.t.Decay()

	var l, r exprVal
	switch {
	case lt.IsPointer() && rt.IsPointer():
		l = cg.convert(left, lt, n.Left.Span())
		r = cg.convert(right, lt, n.Right.Span())
	case lt.IsPointer() && rt.IsInteger():
		l = cg.convert(left, lt, n.Left.Span())
		r = cg.convert(right, lt, n.Right.Span()) // null constants and the like
	case lt.IsInteger() && rt.IsPointer():
		l = cg.convert(left, rt, n.Left.Span())
		r = cg.convert(right, rt, n.Right.Span())
	case lt.IsArithmetic() && rt.IsArithmetic():
		common := CommonArithmeticType(lt, rt)
		l = cg.convert(left, common, n.Left.Span())
		r = cg.convert(right, common, n.Right.Span())
	default:
		return cg.errExpr(n.Span(), "invalid operand types %s and %s for comparison", left.t, right.t)
	}
	if l.bad() || r.bad() {
		return cg.poison()
	}

	var op ir.Op
	switch n.Op.Kind {
	case EQUALS:
		op = ir.OpEq
	case NOT_EQ:
		op = ir.OpNe
	case LESS:
		op = ir.OpLt
	case LESS_EQ:
		op = ir.OpLe
	case GREATER:
		op = ir.OpGt
	case GREATER_EQ:
		op = ir.OpGe
	}

	lc, lok := l.v.(*ir.Const)
	rc, rok := r.v.(*ir.Const)
	if lok && rok {
		return exprVal{v: cg.foldCompare(op, lc, rc), t: IntType(true, RankInt)}
	}

	dest := cg.fb.newTemp(ir.BoolType{})
	cg.fb.emit(&ir.Instr{Op: op, Dest: dest, Args: []ir.Value{l.v, r.v}, Span: n.Span()})
	return exprVal{v: dest, t: IntType(true, RankInt)}
}

func (cg *CodeGen) foldCompare(op ir.Op, a, b *ir.Const) *ir.Const {
	var truth bool
	if _, ok := a.Typ.(ir.FloatType); ok {
		switch op {
		case ir.OpEq:
			truth = a.Float == b.Float
		case ir.OpNe:
			truth = a.Float != b.Float
		case ir.OpLt:
			truth = a.Float < b.Float
		case ir.OpLe:
			truth = a.Float <= b.Float
		case ir.OpGt:
			truth = a.Float > b.Float
		case ir.OpGe:
			truth = a.Float >= b.Float
		}
	} else {
		signed := false
		bits := 64
		if it, ok := a.Typ.(ir.IntType); ok {
			signed = !it.Unsigned
			bits = it.Bits
		}
		if signed {
			as, bs := signExtendConst(a.Int, bits), signExtendConst(b.Int, bits)
			switch op {
			case ir.OpEq:
				truth = as == bs
			case ir.OpNe:
				truth = as != bs
			case ir.OpLt:
				truth = as < bs
			case ir.OpLe:
				truth = as <= bs
			case ir.OpGt:
				truth = as > bs
			case ir.OpGe:
				truth = as >= bs
			}
		} else {
			switch op {
			case ir.OpEq:
				truth = a.Int == b.Int
			case ir.OpNe:
				truth = a.Int != b.Int
			case ir.OpLt:
				truth = a.Int < b.Int
			case ir.OpLe:
				truth = a.Int <= b.Int
			case ir.OpGt:
				truth = a.Int > b.Int
			case ir.OpGe:
				truth = a.Int >= b.Int
			}
		}
	}
	c := &ir.Const{Typ: ir.BoolType{}}
	if truth {
		c.Int = 1
	}
	return c
}

// logical lowers && and || as short-circuit control flow: the result lives
// in a bool slot, the right operand only evaluates when the left one did
// not decide the answer.
func (cg *CodeGen) logical(n *Binary) exprVal {
	isAnd := n.Op.Kind == AND_LOGICAL

	slotT := ir.BoolType{}
	slot := cg.fb.newTemp(ir.PointerType{Elem: slotT})
	cg.fb.emit(&ir.Instr{Op: ir.OpAlloca, Dest: slot, AllocType: slotT, Span: n.Span()})

	// Pre-store the short-circuit answer: false for &&, true for ||.
	preset := &ir.Const{Typ: ir.BoolType{}}
	if !isAnd {
		preset.Int = 1
	}
	cg.fb.emit(&ir.Instr{Op: ir.OpStore, Args: []ir.Value{preset, slot}, Span: n.Span()})

	end := cg.fb.newLabel()

	lev := cg.expr(n.Left)
	if lev.bad() {
		return cg.poison()
	}
	if !lev.t.IsScalar() {
		return cg.errExpr(n.Left.Span(), "invalid operand type %s for logical operator", lev.t)
	}
	lb := cg.toBool(lev, n.Left.Span())
	// && skips the right operand when the left is false; || when it is true.
	skip := lb
	if isAnd {
		skip = cg.notBool(lb, n.Left.Span())
	}
	cg.fb.emit(&ir.Instr{Op: ir.OpBrCond, Args: []ir.Value{skip}, Label: end, Span: n.Left.Span()})

	rev := cg.expr(n.Right)
	if rev.bad() {
		return cg.poison()
	}
	if !rev.t.IsScalar() {
		return cg.errExpr(n.Right.Span(), "invalid operand type %s for logical operator", rev.t)
	}
	rb := cg.toBool(rev, n.Right.Span())
	cg.fb.emit(&ir.Instr{Op: ir.OpStore, Args: []ir.Value{rb, slot}, Span: n.Right.Span()})

	cg.fb.emit(&ir.Instr{Op: ir.OpNop, Label: end, Span: n.Span()})
	res := cg.fb.newTemp(ir.BoolType{})
	cg.fb.emit(&ir.Instr{Op: ir.OpLoad, Dest: res, Args: []ir.Value{slot}, Span: n.Span()})
	return exprVal{v: res, t: IntType(true, RankInt)}
}

// conditional lowers c ? t : f with a result slot in the common type of the
// two arms; when both arms are void the result is elided.
func (cg *CodeGen) conditional(n *Cond) exprVal {
	thenT := cg.typeOf(n.Then)
	elseT := cg.typeOf(n.Else)
	if thenT.IsError() || elseT.IsError() {
		return cg.poison()
	}

	var resT *Type
	switch {
	case thenT.IsVoid() && elseT.IsVoid():
		resT = VoidType()
	case thenT.IsArithmetic() && elseT.IsArithmetic():
		resT = CommonArithmeticType(thenT, elseT)
	case thenT.Decay().IsPointer() && elseT.Decay().IsPointer():
		resT = thenT.Decay()
	case thenT.IsRecord() && TypesEqual(thenT, elseT):
		resT = thenT
	default:
		return cg.errExpr(n.Span(), "incompatible operand types %s and %s in conditional", thenT, elseT)
	}

	var slot *ir.Var
	if !resT.IsVoid() {
		slotT := cg.irType(resT)
		slot = cg.fb.newTemp(ir.PointerType{Elem: slotT})
		cg.fb.emit(&ir.Instr{Op: ir.OpAlloca, Dest: slot, AllocType: slotT, Span: n.Span()})
	}

	lElse := cg.fb.newLabel()
	lEnd := cg.fb.newLabel()

	cf, ok := cg.condFalse(n.CondExpr)
	if !ok {
		return cg.poison()
	}
	cg.fb.emit(&ir.Instr{Op: ir.OpBrCond, Args: []ir.Value{cf}, Label: lElse, Span: n.CondExpr.Span()})

	tv := cg.expr(n.Then)
	if !resT.IsVoid() {
		tv = cg.convert(tv, resT, n.Then.Span())
		if tv.bad() {
			return cg.poison()
		}
		cg.fb.emit(&ir.Instr{Op: ir.OpStore, Args: []ir.Value{tv.v, slot}, Span: n.Then.Span()})
	}
	cg.fb.emit(&ir.Instr{Op: ir.OpBr, Label: lEnd, Span: n.Span()})

	cg.fb.emit(&ir.Instr{Op: ir.OpNop, Label: lElse, Span: n.Span()})
	fv := cg.expr(n.Else)
	if !resT.IsVoid() {
		fv = cg.convert(fv, resT, n.Else.Span())
		if fv.bad() {
			return cg.poison()
		}
		cg.fb.emit(&ir.Instr{Op: ir.OpStore, Args: []ir.Value{fv.v, slot}, Span: n.Else.Span()})
	}
	cg.fb.emit(&ir.Instr{Op: ir.OpNop, Label: lEnd, Span: n.Span()})

	if resT.IsVoid() {
		return exprVal{t: VoidType()}
	}
	res := cg.fb.newTemp(cg.irType(resT))
	cg.fb.emit(&ir.Instr{Op: ir.OpLoad, Dest: res, Args: []ir.Value{slot}, Span: n.Span()})
	return exprVal{v: res, t: resT}
}

// call lowers a function call: prototype parameters get argument
// conversions, variadic tails get the default argument promotions.
func (cg *CodeGen) call(n *Call) exprVal {
	// The variadic builtins take their va_list by address.
	if id, ok := n.Fn.(*Ident); ok {
		switch id.Name {
		case "__builtin_va_start", "__builtin_va_end", "__builtin_va_copy", "__builtin_va_arg":
			return cg.vaBuiltin(id.Name, n)
		}
	}

	var calleeName string
	var calleeVal ir.Value
	var fnType *Type

	if id, ok := n.Fn.(*Ident); ok {
		b, found := cg.lookup(id.Name)
		if !found {
			return cg.errExpr(id.Span(), "call to undeclared function %q", id.Name)
		}
		if b.kind == bindFunc {
			calleeName = id.Name
			fnType = b.ctype
		} else {
			fp := cg.expr(n.Fn)
			if fp.bad() {
				return cg.poison()
			}
			if !fp.t.IsPointer() || !fp.t.Base.IsFunc() {
				return cg.errExpr(n.Fn.Span(), "called object %q is not a function or function pointer", id.Name)
			}
			calleeVal = fp.v
			fnType = fp.t.Base
		}
	} else {
		fp := cg.expr(n.Fn)
		if fp.bad() {
			return cg.poison()
		}
		ft := fp.t.Decay()
		if ft.IsFunc() {
			fnType = ft
			calleeVal = fp.v
		} else if ft.IsPointer() && ft.Base.IsFunc() {
			fnType = ft.Base
			calleeVal = fp.v
		} else {
			return cg.errExpr(n.Fn.Span(), "called object is not a function (type %s)", fp.t)
		}
	}

	if len(n.Args) < len(fnType.Params) || (len(n.Args) > len(fnType.Params) && !fnType.Variadic) {
		return cg.errExpr(n.Span(), "call passes %d arguments where %d expected", len(n.Args), len(fnType.Params))
	}

	args := make([]ir.Value, 0, len(n.Args)+1)
	if calleeVal != nil {
		args = append(args, calleeVal)
	}
	for i, argExpr := range n.Args {
		av := cg.expr(argExpr)
		if av.bad() {
			return cg.poison()
		}
		if av.t.IsRecord() {
			// Struct rvalues carry their address; passing by value loads.
			av = exprVal{v: cg.recordValue(av, argExpr.Span()), t: av.t}
		}
		if i < len(fnType.Params) {
			av = cg.convert(av, stripCV(fnType.Params[i].Type), argExpr.Span())
		} else {
			av = cg.defaultPromote(av, argExpr.Span())
		}
		if av.bad() {
			return cg.poison()
		}
		args = append(args, av.v)
	}

	in := &ir.Instr{Op: ir.OpCall, Callee: calleeName, Args: args, Span: n.Span()}
	if !fnType.Ret.IsVoid() {
		in.Dest = cg.fb.newTemp(cg.irType(fnType.Ret))
	}
	cg.fb.emit(in)
	if in.Dest == nil {
		return exprVal{t: VoidType()}
	}
	return exprVal{v: in.Dest, t: fnType.Ret}
}

// defaultPromote applies the default argument promotions used for variadic
// tails: integer promotion, float widens to double, arrays decay.
func (cg *CodeGen) defaultPromote(av exprVal, span source.Span) exprVal {
	t := av.t.Decay()
	switch {
	case t.IsInteger():
		return cg.convert(av, IntegerPromotion(t.AsInteger()), span)
	case t.IsFloating() && t.FRank == RankFloat:
		return cg.convert(av, FloatingType(RankDouble), span)
	default:
		return cg.convert(av, t, span)
	}
}

// vaBuiltin lowers the __builtin_va_* helpers to calls that take the
// va_list cursor by address.
func (cg *CodeGen) vaBuiltin(name string, n *Call) exprVal {
	expectArgs := 2
	if name == "__builtin_va_end" {
		expectArgs = 1
	}
	if len(n.Args) != expectArgs {
		return cg.errExpr(n.Span(), "%s expects %d arguments", name, expectArgs)
	}

	ap := cg.addr(n.Args[0])
	if ap.bad() {
		return cg.poison()
	}
	if ap.t.Kind != KindBuiltin {
		return cg.errExpr(n.Args[0].Span(), "%s requires a va_list", name)
	}

	switch name {
	case "__builtin_va_arg":
		te, ok := n.Args[1].(*TypeExpr)
		if !ok {
			return cg.errExpr(n.Args[1].Span(), "second argument of va_arg must be a type name")
		}
		dest := cg.fb.newTemp(cg.irType(te.Of))
		cg.fb.emit(&ir.Instr{Op: ir.OpCall, Dest: dest, Callee: name, Args: []ir.Value{ap.v}, Span: n.Span()})
		return exprVal{v: dest, t: te.Of}

	case "__builtin_va_start":
		last := cg.addr(n.Args[1])
		if last.bad() {
			return cg.poison()
		}
		cg.fb.emit(&ir.Instr{Op: ir.OpCall, Callee: name, Args: []ir.Value{ap.v, last.v}, Span: n.Span()})
		return exprVal{t: VoidType()}

	case "__builtin_va_copy":
		src := cg.addr(n.Args[1])
		if src.bad() {
			return cg.poison()
		}
		cg.fb.emit(&ir.Instr{Op: ir.OpCall, Callee: name, Args: []ir.Value{ap.v, src.v}, Span: n.Span()})
		return exprVal{t: VoidType()}

	default: // va_end
		cg.fb.emit(&ir.Instr{Op: ir.OpCall, Callee: name, Args: []ir.Value{ap.v}, Span: n.Span()})
		return exprVal{t: VoidType()}
	}
}
