package compiler

import (
	"errors"

	"ccir/pkg/ir"
)

var errNotConst = errors.New("not a constant expression")

// constEval evaluates an expression without emitting instructions,
// returning nil when it is not a constant. It is the same folder the
// expression lowering uses, restricted to expressions without variable
// operands; global initializers and designator indices go through here.
func (cg *CodeGen) constEval(e Expr) (*ir.Const, *Type) {
	switch n := e.(type) {
	case *IntLit:
		return cg.intConst(n.Type, n.Value), n.Type

	case *FloatLit:
		return &ir.Const{Typ: cg.irType(n.Type), Float: n.Value}, n.Type

	case *CharLit:
		t := IntType(true, RankInt)
		return cg.intConst(t, uint64(n.Value)), t

	case *Ident:
		if b, ok := cg.lookup(n.Name); ok && b.kind == bindEnum {
			t := IntType(true, RankInt)
			return cg.intConst(t, uint64(b.enumVal)), t
		}
		return nil, nil

	case *SizeofExpr:
		ct := n.Of
		if ct == nil {
			ct = cg.typeOf(n.Operand)
		}
		if ct.IsError() {
			return nil, nil
		}
		sz, err := cg.target.SizeOf(ct)
		if err != nil {
			return nil, nil
		}
		st := cg.target.SizeType()
		return cg.intConst(st, uint64(sz)), st

	case *CastExpr:
		c, from := cg.constEval(n.Operand)
		if c == nil {
			return nil, nil
		}
		out := cg.foldConvert(c, from, n.To)
		if out == nil {
			return nil, nil
		}
		return out, n.To

	case *Unary:
		c, from := cg.constEval(n.Operand)
		if c == nil {
			return nil, nil
		}
		switch n.Op {
		case PLUS, MINUS, TILDE:
			if !from.IsArithmetic() {
				return nil, nil
			}
			promoted := from
			if from.IsInteger() {
				promoted = IntegerPromotion(from.AsInteger())
			}
			pc := cg.foldConvert(c, from, promoted)
			if pc == nil {
				return nil, nil
			}
			switch n.Op {
			case PLUS:
				return pc, promoted
			case MINUS:
				zero := cg.zeroConst(promoted)
				return cg.foldArith(ir.OpSub, zero, pc, promoted, n.Span()), promoted
			default:
				if !promoted.IsInteger() {
					return nil, nil
				}
				ones := cg.intConst(promoted, ^uint64(0))
				return cg.foldArith(ir.OpXor, pc, ones, promoted, n.Span()), promoted
			}
		case NOT:
			t := IntType(true, RankInt)
			truth := c.Int != 0
			if _, isF := c.Typ.(ir.FloatType); isF {
				truth = c.Float != 0
			}
			if truth {
				return cg.intConst(t, 0), t
			}
			return cg.intConst(t, 1), t
		}
		return nil, nil

	case *Binary:
		return cg.constEvalBinary(n)

	case *Cond:
		c, _ := cg.constEval(n.CondExpr)
		if c == nil {
			return nil, nil
		}
		truth := c.Int != 0
		if _, isF := c.Typ.(ir.FloatType); isF {
			truth = c.Float != 0
		}
		if truth {
			return cg.constEval(n.Then)
		}
		return cg.constEval(n.Else)

	case *CommaExpr:
		return cg.constEval(n.Right)
	}
	return nil, nil
}

func (cg *CodeGen) constEvalBinary(n *Binary) (*ir.Const, *Type) {
	if n.Op.Class == BinAssign {
		return nil, nil
	}
	l, lt := cg.constEval(n.Left)
	if l == nil {
		return nil, nil
	}

	if n.Op.Class == BinLogical {
		truth := l.Int != 0
		if _, isF := l.Typ.(ir.FloatType); isF {
			truth = l.Float != 0
		}
		t := IntType(true, RankInt)
		if n.Op.Kind == AND_LOGICAL && !truth {
			return cg.intConst(t, 0), t
		}
		if n.Op.Kind == OR_LOGICAL && truth {
			return cg.intConst(t, 1), t
		}
		r, _ := cg.constEval(n.Right)
		if r == nil {
			return nil, nil
		}
		rtruth := r.Int != 0
		if _, isF := r.Typ.(ir.FloatType); isF {
			rtruth = r.Float != 0
		}
		if rtruth {
			return cg.intConst(t, 1), t
		}
		return cg.intConst(t, 0), t
	}

	r, rt := cg.constEval(n.Right)
	if r == nil {
		return nil, nil
	}
	if !lt.IsArithmetic() || !rt.IsArithmetic() {
		return nil, nil
	}

	if n.Op.Class == BinCompare {
		common := CommonArithmeticType(lt, rt)
		lc := cg.foldConvert(l, lt, common)
		rc := cg.foldConvert(r, rt, common)
		if lc == nil || rc == nil {
			return nil, nil
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
		default:
			op = ir.OpGe
		}
		b := cg.foldCompare(op, lc, rc)
		t := IntType(true, RankInt)
		return cg.intConst(t, b.Int), t
	}

	if n.Op.Kind == SHL_OP || n.Op.Kind == SHR_OP {
		if !lt.IsInteger() || !rt.IsInteger() {
			return nil, nil
		}
		resT := IntegerPromotion(lt.AsInteger())
		lc := cg.foldConvert(l, lt, resT)
		rc := cg.foldConvert(r, rt, resT)
		if lc == nil || rc == nil {
			return nil, nil
		}
		op := ir.OpShl
		if n.Op.Kind == SHR_OP {
			op = ir.OpShr
		}
		return cg.foldArith(op, lc, rc, resT, n.Span()), resT
	}

	common := CommonArithmeticType(lt, rt)
	lc := cg.foldConvert(l, lt, common)
	rc := cg.foldConvert(r, rt, common)
	if lc == nil || rc == nil {
		return nil, nil
	}
	var op ir.Op
	switch n.Op.Kind {
	case PLUS:
		op = ir.OpAdd
	case MINUS:
		op = ir.OpSub
	case STAR:
		op = ir.OpMul
	case SLASH:
		op = ir.OpDiv
	case PERCENT:
		op = ir.OpMod
	case AMP:
		op = ir.OpAnd
	case PIPE:
		op = ir.OpOr
	case CARET:
		op = ir.OpXor
	default:
		return nil, nil
	}
	return cg.foldArith(op, lc, rc, common, n.Span()), common
}

//  Static expression typing
//
// typeOf computes the C type of an expression without emitting code; it
// backs sizeof on expressions and the arm typing of the conditional
// operator. The rules mirror the lowering.

func (cg *CodeGen) typeOf(e Expr) *Type {
	switch n := e.(type) {
	case *IntLit:
		return n.Type
	case *FloatLit:
		return n.Type
	case *CharLit:
		return IntType(true, RankInt)
	case *StrLit:
		return ArrayOf(IntType(true, RankChar), int64(len(n.Value))+1)

	case *Ident:
		b, ok := cg.lookup(n.Name)
		if !ok {
			return ErrType
		}
		switch b.kind {
		case bindEnum:
			return IntType(true, RankInt)
		case bindFunc:
			return PointerTo(b.ctype)
		default:
			return b.ctype
		}

	case *Unary:
		switch n.Op {
		case AMP:
			t := cg.typeOf(n.Operand)
			if t.IsError() {
				return ErrType
			}
			return PointerTo(t)
		case STAR:
			t := cg.typeOf(n.Operand).Decay()
			if t.IsError() {
				return ErrType
			}
			if !t.IsPointer() {
				return ErrType
			}
			return t.Base
		case NOT:
			return IntType(true, RankInt)
		case TILDE, PLUS, MINUS:
			t := cg.typeOf(n.Operand)
			if t.IsError() {
				return ErrType
			}
			if t.IsInteger() {
				return IntegerPromotion(t.AsInteger())
			}
			return t
		case PLUS_PLUS, MINUS_MINUS:
			return cg.typeOf(n.Operand)
		}
		return ErrType

	case *Postfix:
		return cg.typeOf(n.Operand)

	case *Binary:
		switch n.Op.Class {
		case BinCompare, BinLogical:
			return IntType(true, RankInt)
		case BinAssign:
			return cg.typeOf(n.Left)
		}
		lt := cg.typeOf(n.Left).Decay()
		rt := cg.typeOf(n.Right).Decay()
		if lt.IsError() || rt.IsError() {
			return ErrType
		}
		if lt.IsPointer() && rt.IsPointer() {
			return cg.target.PtrDiffInt()
		}
		if lt.IsPointer() {
			return lt
		}
		if rt.IsPointer() {
			return rt
		}
		if n.Op.Kind == SHL_OP || n.Op.Kind == SHR_OP {
			if !lt.IsInteger() {
				return ErrType
			}
			return IntegerPromotion(lt.AsInteger())
		}
		if !lt.IsArithmetic() || !rt.IsArithmetic() {
			return ErrType
		}
		return CommonArithmeticType(lt, rt)

	case *CommaExpr:
		return cg.typeOf(n.Right)

	case *Cond:
		tt := cg.typeOf(n.Then)
		et := cg.typeOf(n.Else)
		if tt.IsError() || et.IsError() {
			return ErrType
		}
		if tt.IsVoid() && et.IsVoid() {
			return VoidType()
		}
		if tt.IsArithmetic() && et.IsArithmetic() {
			return CommonArithmeticType(tt, et)
		}
		return tt.Decay()

	case *Call:
		if id, ok := n.Fn.(*Ident); ok && id.Name == "__builtin_va_arg" {
			if te, ok := n.Args[1].(*TypeExpr); ok {
				return te.Of
			}
			return ErrType
		}
		ft := cg.typeOf(n.Fn)
		if ft.IsError() {
			return ErrType
		}
		ft = ft.Decay()
		if ft.IsPointer() {
			ft = ft.Base
		}
		if !ft.IsFunc() {
			return ErrType
		}
		return ft.Ret

	case *Index:
		bt := cg.typeOf(n.Base)
		if bt.IsError() {
			return ErrType
		}
		switch {
		case bt.IsArray():
			return bt.Elem
		case bt.IsPointer():
			return bt.Base
		}
		return ErrType

	case *Member:
		bt := cg.typeOf(n.Base)
		if bt.IsError() {
			return ErrType
		}
		if n.Arrow {
			bt = bt.Decay()
			if !bt.IsPointer() {
				return ErrType
			}
			bt = bt.Base
		}
		if !bt.IsRecord() {
			return ErrType
		}
		bt = bt.Canonical()
		if i := bt.FieldIndex(n.Name); i >= 0 {
			return bt.Fields[i].Type
		}
		return ErrType

	case *CastExpr:
		return n.To
	case *SizeofExpr:
		return cg.target.SizeType()
	case *CompoundLit:
		return n.Of
	case *TypeExpr:
		return n.Of
	}
	return ErrType
}
