package compiler

import (
	"ccir/pkg/ir"
	"ccir/pkg/source"
)

// Generate lowers a parsed translation unit to an IR module. Each function
// body runs through CFG construction, unreachable-block pruning, and
// re-linearization before it lands in the module.
func Generate(tu *TranslationUnit, target Target, errs *source.ErrorList) *ir.Module {
	cg := NewCodeGen(target, errs)
	for _, d := range tu.Decls {
		switch n := d.(type) {
		case *Declaration:
			cg.globalDecl(n)
		case *DeclGroup:
			for _, decl := range n.Decls {
				cg.globalDecl(decl)
			}
		case *FuncDef:
			cg.function(n)
		}
	}
	return cg.mod
}

// Module returns the module under construction.
func (cg *CodeGen) Module() *ir.Module { return cg.mod }

//  Statements

func (cg *CodeGen) stmt(s Stmt) {
	switch n := s.(type) {
	case *EmptyStmt:

	case *ExprStmt:
		cg.expr(n.X)

	case *DeclStmt:
		for _, d := range n.Decls {
			cg.localDecl(d)
		}

	case *Declaration:
		cg.localDecl(n)

	case *CompoundStmt:
		cg.pushScope()
		for _, item := range n.Items {
			cg.stmt(item)
		}
		cg.popScope()

	case *IfStmt:
		cg.ifStmt(n)

	case *WhileStmt:
		cg.whileStmt(n)

	case *DoWhileStmt:
		cg.doWhileStmt(n)

	case *ForStmt:
		cg.forStmt(n)

	case *SwitchStmt:
		cg.switchStmt(n)

	case *CaseStmt:
		label, ok := cg.fb.caseMap[n]
		if !ok {
			cg.errs.Add(source.Semantic, n.Span(), "case label outside switch")
		} else {
			cg.fb.emit(&ir.Instr{Op: ir.OpNop, Label: label, Span: n.Span()})
		}
		cg.stmt(n.Body)

	case *ReturnStmt:
		cg.returnStmt(n)

	case *BreakStmt:
		if len(cg.fb.loops) == 0 {
			cg.errs.Add(source.Semantic, n.Span(), "break outside loop or switch")
			return
		}
		cg.fb.emit(&ir.Instr{Op: ir.OpBr, Label: cg.fb.loops[len(cg.fb.loops)-1].brk, Span: n.Span()})

	case *ContinueStmt:
		target := ""
		for i := len(cg.fb.loops) - 1; i >= 0; i-- {
			if cg.fb.loops[i].cont != "" {
				target = cg.fb.loops[i].cont
				break
			}
		}
		if target == "" {
			cg.errs.Add(source.Semantic, n.Span(), "continue outside loop")
			return
		}
		cg.fb.emit(&ir.Instr{Op: ir.OpBr, Label: target, Span: n.Span()})

	case *GotoStmt:
		label, ok := cg.fb.labelMap[n.Label]
		if !ok {
			cg.errs.Add(source.Semantic, n.Span(), "use of undeclared label %q", n.Label)
			return
		}
		cg.fb.emit(&ir.Instr{Op: ir.OpBr, Label: label, Span: n.Span()})

	case *LabeledStmt:
		if label, ok := cg.fb.labelMap[n.Label]; ok {
			cg.fb.emit(&ir.Instr{Op: ir.OpNop, Label: label, Span: n.Span()})
		}
		cg.stmt(n.Body)
	}
}

// ifStmt: br_cond !c, l_else; then; br l_end; l_else: nop; else; l_end: nop.
// Without an else arm the false branch goes straight to the end label.
func (cg *CodeGen) ifStmt(n *IfStmt) {
	cf, ok := cg.condFalse(n.CondExpr)
	if !ok {
		return
	}
	if n.Else == nil {
		lEnd := cg.fb.newLabel()
		cg.fb.emit(&ir.Instr{Op: ir.OpBrCond, Args: []ir.Value{cf}, Label: lEnd, Span: n.CondExpr.Span()})
		cg.stmt(n.Then)
		cg.fb.emit(&ir.Instr{Op: ir.OpNop, Label: lEnd, Span: n.Span()})
		return
	}
	lElse := cg.fb.newLabel()
	lEnd := cg.fb.newLabel()
	cg.fb.emit(&ir.Instr{Op: ir.OpBrCond, Args: []ir.Value{cf}, Label: lElse, Span: n.CondExpr.Span()})
	cg.stmt(n.Then)
	cg.fb.emit(&ir.Instr{Op: ir.OpBr, Label: lEnd, Span: n.Span()})
	cg.fb.emit(&ir.Instr{Op: ir.OpNop, Label: lElse, Span: n.Span()})
	cg.stmt(n.Else)
	cg.fb.emit(&ir.Instr{Op: ir.OpNop, Label: lEnd, Span: n.Span()})
}

// constCondOf classifies a condition that folds to a constant: 1 for always
// true, 0 for always false, -1 otherwise. Only trivially constant
// conditions fold; everything else lowers normally.
func constCondOf(e Expr) int {
	switch n := e.(type) {
	case *IntLit:
		if n.Value != 0 {
			return 1
		}
		return 0
	case *CharLit:
		if n.Value != 0 {
			return 1
		}
		return 0
	}
	return -1
}

// whileStmt: l_top: nop; br_cond !c, l_end; body; br l_top; l_end: nop.
// A constant-true condition drops the exit branch entirely, leaving the
// merge label unreachable for the pruner.
func (cg *CodeGen) whileStmt(n *WhileStmt) {
	lTop := cg.fb.newLabel()
	lEnd := cg.fb.newLabel()
	cg.fb.emit(&ir.Instr{Op: ir.OpNop, Label: lTop, Span: n.Span()})

	switch constCondOf(n.CondExpr) {
	case 1:
		// while (1): no exit test.
	case 0:
		cg.fb.emit(&ir.Instr{Op: ir.OpBr, Label: lEnd, Span: n.CondExpr.Span()})
	default:
		cf, ok := cg.condFalse(n.CondExpr)
		if !ok {
			return
		}
		cg.fb.emit(&ir.Instr{Op: ir.OpBrCond, Args: []ir.Value{cf}, Label: lEnd, Span: n.CondExpr.Span()})
	}

	cg.fb.loops = append(cg.fb.loops, loopFrame{brk: lEnd, cont: lTop})
	cg.stmt(n.Body)
	cg.fb.loops = cg.fb.loops[:len(cg.fb.loops)-1]

	cg.fb.emit(&ir.Instr{Op: ir.OpBr, Label: lTop, Span: n.Span()})
	cg.fb.emit(&ir.Instr{Op: ir.OpNop, Label: lEnd, Span: n.Span()})
}

// doWhileStmt: l_top: nop; body; l_cont: nop; br_cond c, l_top; l_end: nop.
func (cg *CodeGen) doWhileStmt(n *DoWhileStmt) {
	lTop := cg.fb.newLabel()
	lCont := cg.fb.newLabel()
	lEnd := cg.fb.newLabel()

	cg.fb.emit(&ir.Instr{Op: ir.OpNop, Label: lTop, Span: n.Span()})
	cg.fb.loops = append(cg.fb.loops, loopFrame{brk: lEnd, cont: lCont})
	cg.stmt(n.Body)
	cg.fb.loops = cg.fb.loops[:len(cg.fb.loops)-1]

	cg.fb.emit(&ir.Instr{Op: ir.OpNop, Label: lCont, Span: n.Span()})
	ev := cg.expr(n.CondExpr)
	if ev.bad() {
		return
	}
	if !ev.t.IsScalar() {
		cg.errs.Add(source.Semantic, n.CondExpr.Span(), "condition has non-scalar type %s", ev.t)
		return
	}
	back := cg.toBool(ev, n.CondExpr.Span())
	cg.fb.emit(&ir.Instr{Op: ir.OpBrCond, Args: []ir.Value{back}, Label: lTop, Span: n.CondExpr.Span()})
	cg.fb.emit(&ir.Instr{Op: ir.OpNop, Label: lEnd, Span: n.Span()})
}

// forStmt: init; l_top: nop; br_cond !c, l_end; body; l_cont: nop; post;
// br l_top; l_end: nop.
func (cg *CodeGen) forStmt(n *ForStmt) {
	cg.pushScope()
	defer cg.popScope()

	if n.Init != nil {
		cg.stmt(n.Init)
	}

	lTop := cg.fb.newLabel()
	lCont := cg.fb.newLabel()
	lEnd := cg.fb.newLabel()

	cg.fb.emit(&ir.Instr{Op: ir.OpNop, Label: lTop, Span: n.Span()})
	if n.Cond != nil {
		switch constCondOf(n.Cond) {
		case 1:
		case 0:
			cg.fb.emit(&ir.Instr{Op: ir.OpBr, Label: lEnd, Span: n.Cond.Span()})
		default:
			cf, ok := cg.condFalse(n.Cond)
			if !ok {
				return
			}
			cg.fb.emit(&ir.Instr{Op: ir.OpBrCond, Args: []ir.Value{cf}, Label: lEnd, Span: n.Cond.Span()})
		}
	}

	cg.fb.loops = append(cg.fb.loops, loopFrame{brk: lEnd, cont: lCont})
	cg.stmt(n.Body)
	cg.fb.loops = cg.fb.loops[:len(cg.fb.loops)-1]

	cg.fb.emit(&ir.Instr{Op: ir.OpNop, Label: lCont, Span: n.Span()})
	if n.Post != nil {
		cg.expr(n.Post)
	}
	cg.fb.emit(&ir.Instr{Op: ir.OpBr, Label: lTop, Span: n.Span()})
	cg.fb.emit(&ir.Instr{Op: ir.OpNop, Label: lEnd, Span: n.Span()})
}

// switchStmt lowers the selector once, then a chain of equality tests
// branching to each case label, a trailing branch to default (or the end),
// and the body with fall-through semantics.
func (cg *CodeGen) switchStmt(n *SwitchStmt) {
	sel := cg.expr(n.Cond)
	if sel.bad() {
		return
	}
	if !sel.t.IsInteger() {
		cg.errs.Add(source.Semantic, n.Cond.Span(), "switch selector has non-integer type %s", sel.t)
		return
	}
	selT := IntegerPromotion(sel.t.AsInteger())
	sel = cg.convert(sel, selT, n.Cond.Span())

	cases := collectCases(n.Body, nil)
	lEnd := cg.fb.newLabel()
	var lDefault string

	if cg.fb.caseMap == nil {
		cg.fb.caseMap = make(map[*CaseStmt]string)
	}
	for _, c := range cases {
		label := cg.fb.newLabel()
		cg.fb.caseMap[c] = label
		if c.Value == nil {
			if lDefault != "" {
				cg.errs.Add(source.Semantic, c.Span(), "multiple default labels in one switch")
			}
			lDefault = label
		}
	}

	for _, c := range cases {
		if c.Value == nil {
			continue
		}
		cv := cg.expr(c.Value)
		if cv.bad() {
			continue
		}
		cc, isConst := cv.v.(*ir.Const)
		if !isConst || !cv.t.IsInteger() {
			cg.errs.Add(source.Semantic, c.Value.Span(), "case label is not an integer constant")
			continue
		}
		converted := cg.foldConvert(cc, cv.t, selT)
		cmp := cg.fb.newTemp(ir.BoolType{})
		cg.fb.emit(&ir.Instr{Op: ir.OpEq, Dest: cmp, Args: []ir.Value{sel.v, converted}, Span: c.Span()})
		cg.fb.emit(&ir.Instr{Op: ir.OpBrCond, Args: []ir.Value{cmp}, Label: cg.fb.caseMap[c], Span: c.Span()})
	}
	if lDefault != "" {
		cg.fb.emit(&ir.Instr{Op: ir.OpBr, Label: lDefault, Span: n.Span()})
	} else {
		cg.fb.emit(&ir.Instr{Op: ir.OpBr, Label: lEnd, Span: n.Span()})
	}

	cg.fb.loops = append(cg.fb.loops, loopFrame{brk: lEnd})
	cg.stmt(n.Body)
	cg.fb.loops = cg.fb.loops[:len(cg.fb.loops)-1]

	cg.fb.emit(&ir.Instr{Op: ir.OpNop, Label: lEnd, Span: n.Span()})
}

// collectCases gathers the case/default statements belonging to a switch
// body, recursing through nested statements but not into nested switches.
func collectCases(s Stmt, out []*CaseStmt) []*CaseStmt {
	switch n := s.(type) {
	case *CaseStmt:
		out = append(out, n)
		out = collectCases(n.Body, out)
	case *CompoundStmt:
		for _, item := range n.Items {
			out = collectCases(item, out)
		}
	case *IfStmt:
		out = collectCases(n.Then, out)
		if n.Else != nil {
			out = collectCases(n.Else, out)
		}
	case *WhileStmt:
		out = collectCases(n.Body, out)
	case *DoWhileStmt:
		out = collectCases(n.Body, out)
	case *ForStmt:
		out = collectCases(n.Body, out)
	case *LabeledStmt:
		out = collectCases(n.Body, out)
	}
	return out
}

// returnStmt converts the operand to the function return type. A value in a
// void function and a bare return in a non-void function are both semantic
// errors.
func (cg *CodeGen) returnStmt(n *ReturnStmt) {
	retT := cg.fb.retType
	if n.X == nil {
		if !retT.IsVoid() {
			cg.errs.Add(source.Semantic, n.Span(), "non-void function must return a value")
			return
		}
		cg.fb.emit(&ir.Instr{Op: ir.OpRet, Span: n.Span()})
		return
	}
	if retT.IsVoid() {
		cg.errs.Add(source.Semantic, n.Span(), "void function cannot return a value")
		return
	}
	ev := cg.expr(n.X)
	if ev.bad() {
		return
	}
	if retT.IsRecord() {
		// The rvalue of a struct is its address; returning copies the value.
		tmp := cg.recordValue(ev, n.Span())
		cg.fb.emit(&ir.Instr{Op: ir.OpRet, Args: []ir.Value{tmp}, Span: n.Span()})
		return
	}
	ev = cg.convert(ev, stripCV(retT), n.Span())
	if ev.bad() {
		return
	}
	cg.fb.emit(&ir.Instr{Op: ir.OpRet, Args: []ir.Value{ev.v}, Span: n.Span()})
}

//  Declarations

// localDecl allocates a slot for a block-scope variable and lowers its
// initializer. Typedefs and bare tag declarations produce no code.
func (cg *CodeGen) localDecl(d *Declaration) {
	if d.Name == "" {
		cg.registerEnumConstants(d.Typ)
		return
	}
	switch d.Typ.Storage {
	case StorageTypedef:
		cg.registerEnumConstants(d.Typ)
		return
	case StorageExtern:
		// Block-scope extern refers to a file-scope object.
		irT := cg.irType(d.Typ)
		val := &ir.Var{Typ: ir.PointerType{Elem: irT}, Name: d.Name, Global: true}
		cg.bind(d.Name, &binding{kind: bindGlobal, val: val, ctype: d.Typ, def: d.Span()})
		return
	}
	cg.registerEnumConstants(d.Typ)

	if d.Typ.IsFunc() {
		fnPtr := &ir.Var{Typ: ir.PointerType{Elem: cg.irType(d.Typ)}, Name: d.Name, Global: true}
		cg.bind(d.Name, &binding{kind: bindFunc, val: fnPtr, ctype: d.Typ, def: d.Span()})
		return
	}

	if !d.Typ.IsComplete() {
		cg.errs.Add(source.Semantic, d.Span(), "variable %q has incomplete type %s", d.Name, d.Typ)
		return
	}

	irT := cg.irType(d.Typ)
	slot := cg.fb.newTemp(ir.PointerType{Elem: irT})
	cg.fb.emit(&ir.Instr{Op: ir.OpAlloca, Dest: slot, AllocType: irT, Span: d.Span()})
	cg.bind(d.Name, &binding{kind: bindLocal, val: slot, ctype: d.Typ, def: d.Span()})

	if d.Init != nil {
		cg.initLocal(slot, d.Typ, d.Init, d.Init.Span())
	}
}

// registerEnumConstants puts the enumerators of an enum type into the
// current scope so expressions can use them.
func (cg *CodeGen) registerEnumConstants(t *Type) {
	base := t
	for base.IsPointer() {
		base = base.Base
	}
	if base.Kind != KindEnum {
		return
	}
	for _, m := range base.Members {
		cg.bind(m.Name, &binding{kind: bindEnum, enumVal: m.Value, ctype: IntType(true, RankInt)})
	}
}

// initLocal lowers an initializer into the object at ptr. Brace lists walk
// the target type with a cursor, honoring [k] and .name designators;
// unspecified positions get explicit zero stores.
func (cg *CodeGen) initLocal(ptr ir.Value, t *Type, init Expr, span source.Span) {
	list, isList := init.(*InitList)
	if !isList {
		if str, ok := init.(*StrLit); ok && t.IsArray() {
			cg.initCharArray(ptr, t, str)
			return
		}
		ev := cg.expr(init)
		if ev.bad() {
			return
		}
		if t.IsRecord() {
			if !TypesEqual(stripCV(t), stripCV(ev.t)) {
				cg.errs.Add(source.Semantic, span, "invalid initializer type %s for %s", ev.t, t)
				return
			}
			tmp := cg.recordValue(ev, span)
			cg.fb.emit(&ir.Instr{Op: ir.OpStore, Args: []ir.Value{tmp, ptr}, Span: span})
			return
		}
		ev = cg.convert(ev, stripCV(t), span)
		if ev.bad() {
			return
		}
		cg.fb.emit(&ir.Instr{Op: ir.OpStore, Args: []ir.Value{ev.v, ptr}, Span: span})
		return
	}

	switch {
	case t.IsArray():
		cg.initArray(ptr, t, list)
	case t.IsRecord():
		cg.initRecord(ptr, t, list)
	default:
		// A scalar in braces: { expr }.
		if len(list.Items) != 1 || len(list.Items[0].Designators) != 0 {
			cg.errs.Add(source.Semantic, span, "invalid initializer for scalar type %s", t)
			return
		}
		cg.initLocal(ptr, t, list.Items[0].Value, span)
	}
}

func (cg *CodeGen) initCharArray(ptr ir.Value, t *Type, str *StrLit) {
	i8 := IntType(true, RankChar)
	n := t.Len
	for i := int64(0); i < n; i++ {
		var b uint64
		if i < int64(len(str.Value)) {
			b = uint64(str.Value[i])
		}
		idx := &ir.Const{Typ: ir.IntType{Bits: 32}, Int: uint64(i)}
		elem := cg.arrayElemPtr(ptr, t, idx, str.Span())
		cg.fb.emit(&ir.Instr{Op: ir.OpStore, Args: []ir.Value{cg.intConst(i8, b), elem}, Span: str.Span()})
	}
}

func (cg *CodeGen) initArray(ptr ir.Value, t *Type, list *InitList) {
	covered := make(map[int64]bool)
	cursor := int64(0)
	for _, item := range list.Items {
		idx := cursor
		if len(item.Designators) > 0 {
			d := item.Designators[0]
			if d.Field != "" {
				cg.errs.Add(source.Semantic, list.Span(), "field designator in array initializer")
				continue
			}
			v, err := cg.constIndex(d.Index)
			if err != nil {
				cg.errs.Add(source.Semantic, d.Index.Span(), "array designator is not a constant")
				continue
			}
			idx = v
		}
		if t.LenKnown && idx >= t.Len {
			cg.errs.Add(source.Semantic, item.Value.Span(), "array index %d out of bounds", idx)
			continue
		}
		idxC := &ir.Const{Typ: ir.IntType{Bits: 32}, Int: uint64(idx)}
		elem := cg.arrayElemPtr(ptr, t, idxC, item.Value.Span())
		cg.initDesignated(elem, t.Elem, item.Designators, 1, item.Value)
		covered[idx] = true
		cursor = idx + 1
	}
	for i := int64(0); i < t.Len; i++ {
		if !covered[i] {
			idxC := &ir.Const{Typ: ir.IntType{Bits: 32}, Int: uint64(i)}
			elem := cg.arrayElemPtr(ptr, t, idxC, list.Span())
			cg.zeroFill(elem, t.Elem, list.Span())
		}
	}
}

func (cg *CodeGen) initRecord(ptr ir.Value, t *Type, list *InitList) {
	t = t.Canonical()
	covered := make(map[int]bool)
	cursor := 0
	for _, item := range list.Items {
		idx := cursor
		if len(item.Designators) > 0 {
			d := item.Designators[0]
			if d.Field == "" {
				cg.errs.Add(source.Semantic, list.Span(), "array designator in struct initializer")
				continue
			}
			i := t.FieldIndex(d.Field)
			if i < 0 {
				cg.errs.Add(source.Semantic, item.Value.Span(), "struct %s has no member %q", t.Tag, d.Field)
				continue
			}
			idx = i
		}
		if idx >= len(t.Fields) {
			cg.errs.Add(source.Semantic, item.Value.Span(), "too many initializers for struct %s", t.Tag)
			continue
		}
		fieldPtr := cg.structMemberPtr(ptr, t, idx, item.Value.Span())
		cg.initDesignated(fieldPtr, t.Fields[idx].Type, item.Designators, 1, item.Value)
		covered[idx] = true
		cursor = idx + 1
	}
	if !t.Union {
		for i := range t.Fields {
			if !covered[i] {
				fieldPtr := cg.structMemberPtr(ptr, t, i, list.Span())
				cg.zeroFill(fieldPtr, t.Fields[i].Type, list.Span())
			}
		}
	}
}

// initDesignated descends through the remaining designators of one item
// (.a.b[0] chains) and initializes the subobject it lands on.
func (cg *CodeGen) initDesignated(ptr ir.Value, t *Type, designators []Designator, next int, value Expr) {
	if next >= len(designators) {
		cg.initLocal(ptr, t, value, value.Span())
		return
	}
	d := designators[next]
	if d.Field != "" {
		if !t.IsRecord() {
			cg.errs.Add(source.Semantic, value.Span(), "field designator on non-struct type %s", t)
			return
		}
		i := t.FieldIndex(d.Field)
		if i < 0 {
			cg.errs.Add(source.Semantic, value.Span(), "struct %s has no member %q", t.Tag, d.Field)
			return
		}
		// The rest of this subobject keeps its zero fill.
		cg.zeroFill(ptr, t, value.Span())
		fieldPtr := cg.structMemberPtr(ptr, t, i, value.Span())
		cg.initDesignated(fieldPtr, t.Fields[i].Type, designators, next+1, value)
		return
	}
	if !t.IsArray() {
		cg.errs.Add(source.Semantic, value.Span(), "array designator on non-array type %s", t)
		return
	}
	idx, err := cg.constIndex(d.Index)
	if err != nil {
		cg.errs.Add(source.Semantic, d.Index.Span(), "array designator is not a constant")
		return
	}
	cg.zeroFill(ptr, t, value.Span())
	idxC := &ir.Const{Typ: ir.IntType{Bits: 32}, Int: uint64(idx)}
	elem := cg.arrayElemPtr(ptr, t, idxC, value.Span())
	cg.initDesignated(elem, t.Elem, designators, next+1, value)
}

// zeroFill stores zeros over the whole object at ptr.
func (cg *CodeGen) zeroFill(ptr ir.Value, t *Type, span source.Span) {
	if t.IsRecord() {
		t = t.Canonical()
	}
	switch {
	case t.IsArray():
		for i := int64(0); i < t.Len; i++ {
			idxC := &ir.Const{Typ: ir.IntType{Bits: 32}, Int: uint64(i)}
			elem := cg.arrayElemPtr(ptr, t, idxC, span)
			cg.zeroFill(elem, t.Elem, span)
		}
	case t.IsRecord():
		for i, f := range t.Fields {
			fieldPtr := cg.structMemberPtr(ptr, t, i, span)
			cg.zeroFill(fieldPtr, f.Type, span)
			if t.Union {
				break
			}
		}
	case t.IsPointer():
		null := &ir.Const{Typ: cg.irType(t)}
		cg.fb.emit(&ir.Instr{Op: ir.OpStore, Args: []ir.Value{null, ptr}, Span: span})
	default:
		cg.fb.emit(&ir.Instr{Op: ir.OpStore, Args: []ir.Value{cg.zeroConst(t), ptr}, Span: span})
	}
}

// constIndex evaluates an initializer designator index.
func (cg *CodeGen) constIndex(e Expr) (int64, error) {
	c, _ := cg.constEval(e)
	if c == nil {
		return 0, errNotConst
	}
	return int64(c.Int), nil
}

//  Functions

// function lowers one function definition: prologue spills every parameter
// into an alloca slot so parameters and locals share a uniform lvalue
// identity, then the body, then the implicit return. The finished body runs
// through the CFG pipeline.
func (cg *CodeGen) function(fd *FuncDef) {
	fnIRType := cg.irType(fd.Typ).(*ir.FuncType)
	fn := &ir.Function{Name: fd.Name, Typ: fnIRType}
	for _, p := range fd.Typ.Params {
		fn.Params = append(fn.Params, &ir.Var{Typ: cg.irType(p.Type), Name: p.Name})
	}

	fnPtr := &ir.Var{Typ: ir.PointerType{Elem: fnIRType}, Name: fd.Name, Global: true}
	cg.bind(fd.Name, &binding{kind: bindFunc, val: fnPtr, ctype: fd.Typ, def: fd.Span()})

	cg.fb = &funcBuilder{
		fn:       fn,
		labelMap: make(map[string]string),
		caseMap:  make(map[*CaseStmt]string),
		retType:  fd.Typ.Ret,
	}
	cg.pushScope()

	// Reserve IR labels for every source label up front so forward gotos
	// resolve, and catch duplicate labels while at it.
	cg.reserveLabels(fd.Body)

	for i, p := range fd.Typ.Params {
		irT := cg.irType(p.Type)
		slot := cg.fb.newTemp(ir.PointerType{Elem: irT})
		cg.fb.emit(&ir.Instr{Op: ir.OpAlloca, Dest: slot, AllocType: irT, Span: fd.Span()})
		cg.fb.emit(&ir.Instr{Op: ir.OpStore, Args: []ir.Value{fn.Params[i], slot}, Span: fd.Span()})
		cg.bind(p.Name, &binding{kind: bindLocal, val: slot, ctype: p.Type, def: fd.Span()})
	}

	for _, item := range fd.Body.Items {
		cg.stmt(item)
	}

	if !cg.fb.terminated() {
		cg.implicitReturn(fd)
	}

	cg.popScope()
	cg.fb = nil

	blocks := ir.BuildCFG(fn)
	blocks = ir.Prune(blocks)
	fn.Body = ir.Linearize(blocks)

	cg.mod.Funcs = append(cg.mod.Funcs, fn)
}

// reserveLabels walks a function body and allocates an IR label for every
// source label before statement lowering begins.
func (cg *CodeGen) reserveLabels(s Stmt) {
	switch n := s.(type) {
	case *LabeledStmt:
		if _, dup := cg.fb.labelMap[n.Label]; dup {
			cg.errs.Add(source.Semantic, n.Span(), "redefinition of label %q", n.Label)
		} else {
			cg.fb.labelMap[n.Label] = cg.fb.newLabel()
		}
		cg.reserveLabels(n.Body)
	case *CompoundStmt:
		for _, item := range n.Items {
			cg.reserveLabels(item)
		}
	case *IfStmt:
		cg.reserveLabels(n.Then)
		if n.Else != nil {
			cg.reserveLabels(n.Else)
		}
	case *WhileStmt:
		cg.reserveLabels(n.Body)
	case *DoWhileStmt:
		cg.reserveLabels(n.Body)
	case *ForStmt:
		cg.reserveLabels(n.Body)
	case *SwitchStmt:
		cg.reserveLabels(n.Body)
	case *CaseStmt:
		cg.reserveLabels(n.Body)
	}
}

// implicitReturn appends the fall-off-the-end return: ret for void
// functions, ret 0 for main, and a zero value for any other non-void
// function.
func (cg *CodeGen) implicitReturn(fd *FuncDef) {
	retT := fd.Typ.Ret
	if retT.IsVoid() {
		cg.fb.emit(&ir.Instr{Op: ir.OpRet, Span: fd.Span()})
		return
	}
	if retT.IsScalar() {
		cg.fb.emit(&ir.Instr{Op: ir.OpRet, Args: []ir.Value{cg.zeroConst(retT.Decay())}, Span: fd.Span()})
		return
	}
	// An aggregate return type still yields the zero value: zero-fill a
	// scratch slot and return its contents, the same shape an explicit
	// struct return produces.
	irT := cg.irType(retT)
	slot := cg.fb.newTemp(ir.PointerType{Elem: irT})
	cg.fb.emit(&ir.Instr{Op: ir.OpAlloca, Dest: slot, AllocType: irT, Span: fd.Span()})
	cg.zeroFill(slot, retT, fd.Span())
	tmp := cg.fb.newTemp(irT)
	cg.fb.emit(&ir.Instr{Op: ir.OpLoad, Dest: tmp, Args: []ir.Value{slot}, Span: fd.Span()})
	cg.fb.emit(&ir.Instr{Op: ir.OpRet, Args: []ir.Value{tmp}, Span: fd.Span()})
}

//  Globals

// globalDecl lowers a file-scope declaration: functions and typedefs only
// bind, variables become module globals whose initializers must be
// constant expressions.
func (cg *CodeGen) globalDecl(d *Declaration) {
	cg.registerEnumConstants(d.Typ)
	if d.Name == "" || d.Typ.Storage == StorageTypedef {
		if d.Typ.Kind == KindRecord && d.Typ.Complete {
			cg.irStructType(d.Typ) // fix the struct's IR name in source order
		}
		return
	}

	if d.Typ.IsFunc() {
		fnPtr := &ir.Var{Typ: ir.PointerType{Elem: cg.irType(d.Typ)}, Name: d.Name, Global: true}
		cg.bind(d.Name, &binding{kind: bindFunc, val: fnPtr, ctype: d.Typ, def: d.Span()})
		return
	}

	if !d.Typ.IsComplete() && d.Typ.Storage != StorageExtern {
		cg.errs.Add(source.Semantic, d.Span(), "global %q has incomplete type %s", d.Name, d.Typ)
		return
	}

	irT := cg.irType(d.Typ)
	g := &ir.Global{Name: d.Name, Typ: irT}
	if d.Init != nil {
		g.Init = cg.globalInit(d.Typ, d.Init)
	} else if d.Typ.Storage != StorageExtern {
		g.Init = &ir.Init{Zero: true}
	}
	cg.mod.Globals = append(cg.mod.Globals, g)

	addr := &ir.Var{Typ: ir.PointerType{Elem: irT}, Name: d.Name, Global: true}
	cg.bind(d.Name, &binding{kind: bindGlobal, val: addr, ctype: d.Typ, def: d.Span()})
}

// globalInit builds the constant initializer for a global, recursing
// through brace lists and zero-filling unspecified positions.
func (cg *CodeGen) globalInit(t *Type, init Expr) *ir.Init {
	if list, ok := init.(*InitList); ok {
		switch {
		case t.IsArray():
			out := make([]*ir.Init, t.Len)
			cursor := int64(0)
			for _, item := range list.Items {
				idx := cursor
				if len(item.Designators) > 0 {
					d := item.Designators[0]
					if d.Field != "" {
						cg.errs.Add(source.Semantic, list.Span(), "field designator in array initializer")
						continue
					}
					v, err := cg.constIndex(d.Index)
					if err != nil {
						cg.errs.Add(source.Semantic, d.Index.Span(), "array designator is not a constant")
						continue
					}
					idx = v
				}
				if idx < 0 || idx >= t.Len {
					cg.errs.Add(source.Semantic, item.Value.Span(), "array index %d out of bounds", idx)
					continue
				}
				if len(item.Designators) > 1 {
					cg.errs.Add(source.Semantic, item.Value.Span(), "nested designators are not supported in global initializers")
					continue
				}
				out[idx] = cg.globalInit(t.Elem, item.Value)
				cursor = idx + 1
			}
			for i := range out {
				if out[i] == nil {
					out[i] = &ir.Init{Zero: true}
				}
			}
			return &ir.Init{List: out}

		case t.IsRecord():
			t = t.Canonical()
			out := make([]*ir.Init, len(t.Fields))
			cursor := 0
			for _, item := range list.Items {
				idx := cursor
				if len(item.Designators) > 0 {
					d := item.Designators[0]
					if d.Field == "" {
						cg.errs.Add(source.Semantic, list.Span(), "array designator in struct initializer")
						continue
					}
					i := t.FieldIndex(d.Field)
					if i < 0 {
						cg.errs.Add(source.Semantic, item.Value.Span(), "struct %s has no member %q", t.Tag, d.Field)
						continue
					}
					idx = i
				}
				if idx >= len(t.Fields) {
					cg.errs.Add(source.Semantic, item.Value.Span(), "too many initializers for struct %s", t.Tag)
					continue
				}
				out[idx] = cg.globalInit(t.Fields[idx].Type, item.Value)
				cursor = idx + 1
			}
			for i := range out {
				if out[i] == nil {
					out[i] = &ir.Init{Zero: true}
				}
			}
			return &ir.Init{List: out}

		default:
			if len(list.Items) == 1 && len(list.Items[0].Designators) == 0 {
				return cg.globalInit(t, list.Items[0].Value)
			}
			cg.errs.Add(source.Semantic, list.Span(), "invalid initializer for type %s", t)
			return &ir.Init{Zero: true}
		}
	}

	if str, ok := init.(*StrLit); ok {
		if t.IsArray() {
			bytes := str.Value
			if int64(len(bytes))+1 < t.Len {
				bytes += string(make([]byte, t.Len-int64(len(bytes))-1))
			}
			return &ir.Init{Str: bytes + "\x00"}
		}
		g := cg.internString(str.Value)
		return &ir.Init{Sym: g.Name}
	}

	// &global is a constant address.
	if u, ok := init.(*Unary); ok && u.Op == AMP {
		if id, ok := u.Operand.(*Ident); ok {
			if b, found := cg.lookup(id.Name); found && (b.kind == bindGlobal || b.kind == bindFunc) {
				return &ir.Init{Sym: id.Name}
			}
		}
		cg.errs.Add(source.Semantic, init.Span(), "global initializer is not a constant address")
		return &ir.Init{Zero: true}
	}

	c, fromT := cg.constEval(init)
	if c == nil {
		cg.errs.Add(source.Semantic, init.Span(), "global initializer is not a constant expression")
		return &ir.Init{Zero: true}
	}
	folded := cg.foldConvert(c, fromT, t)
	if folded == nil {
		cg.errs.Add(source.Semantic, init.Span(), "invalid initializer type for %s", t)
		return &ir.Init{Zero: true}
	}
	return &ir.Init{Scalar: folded}
}
