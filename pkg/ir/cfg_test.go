package ir

import (
	"reflect"
	"testing"
)

func i32() IntType { return IntType{Bits: 32} }

func temp(n int) *Var { return &Var{Typ: i32(), Temp: n} }

func nop(label string) *Instr { return &Instr{Op: OpNop, Label: label} }

func br(label string) *Instr { return &Instr{Op: OpBr, Label: label} }

func brCond(v Value, label string) *Instr {
	return &Instr{Op: OpBrCond, Args: []Value{v}, Label: label}
}

func ret(v Value) *Instr {
	if v == nil {
		return &Instr{Op: OpRet}
	}
	return &Instr{Op: OpRet, Args: []Value{v}}
}

func fnOf(instrs ...*Instr) *Function {
	return &Function{
		Name: "f",
		Typ:  &FuncType{Ret: i32()},
		Body: instrs,
	}
}

func TestBuildCFGSplitsAtLabelsAndTerminators(t *testing.T) {
	cond := &Var{Typ: BoolType{}, Temp: 0}
	f := fnOf(
		brCond(cond, "l0"), // block 0
		br("l1"),           // block 1 (fall-through of the br_cond)
		nop("l0"),          // block 2
		br("l1"),
		nop("l1"), // block 3
		ret(&Const{Typ: i32(), Int: 1}),
	)
	blocks := BuildCFG(f)
	if len(blocks) != 4 {
		t.Fatalf("got %d blocks, want 4", len(blocks))
	}
	if blocks[0].Label != "" || blocks[2].Label != "l0" || blocks[3].Label != "l1" {
		t.Errorf("labels = %q %q %q %q", blocks[0].Label, blocks[1].Label, blocks[2].Label, blocks[3].Label)
	}

	// br_cond: target first, then fall-through.
	succ0 := []int{blocks[0].Succs[0].ID, blocks[0].Succs[1].ID}
	if !reflect.DeepEqual(succ0, []int{2, 1}) {
		t.Errorf("block 0 successors = %v, want [2 1]", succ0)
	}
	if len(blocks[3].Preds) != 2 {
		t.Errorf("merge block has %d predecessors, want 2", len(blocks[3].Preds))
	}
	if len(blocks[3].Succs) != 0 {
		t.Errorf("ret block has %d successors, want 0", len(blocks[3].Succs))
	}
}

func TestPruneRemovesUnreachable(t *testing.T) {
	// l0 loops on itself; the merge block after it can never run.
	f := fnOf(
		nop("l0"),
		br("l0"),
		nop("l1"),
		ret(&Const{Typ: i32(), Int: 0}),
	)
	blocks := Prune(BuildCFG(f))
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks after pruning, want 1", len(blocks))
	}
	if blocks[0].Label != "l0" {
		t.Errorf("surviving block label = %q, want l0", blocks[0].Label)
	}
	if blocks[0].ID != 0 {
		t.Errorf("surviving block id = %d, want 0 after renumbering", blocks[0].ID)
	}
}

func TestLinearizeKeepsEntryFirst(t *testing.T) {
	first := brCond(&Var{Typ: BoolType{}, Temp: 0}, "l0")
	f := fnOf(
		first,
		ret(&Const{Typ: i32(), Int: 1}),
		nop("l0"),
		ret(&Const{Typ: i32(), Int: 2}),
	)
	out := Linearize(Prune(BuildCFG(f)))
	if len(out) != 4 {
		t.Fatalf("linearized to %d instructions, want 4", len(out))
	}
	if out[0] != first {
		t.Error("linearized stream does not begin with the entry block")
	}
}

func TestPruneDropsDanglingEdges(t *testing.T) {
	f := fnOf(
		br("l1"),  // entry jumps straight to l1
		nop("l0"), // unreachable, but targets l1 too
		br("l1"),
		nop("l1"),
		ret(nil),
	)
	blocks := Prune(BuildCFG(f))
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	merge := blocks[1]
	if len(merge.Preds) != 1 {
		t.Errorf("merge keeps %d predecessors, want 1 (the dead edge must be gone)", len(merge.Preds))
	}
}

func TestEmptyFunctionHasNoBlocks(t *testing.T) {
	if got := BuildCFG(fnOf()); got != nil {
		t.Errorf("BuildCFG of empty body = %v, want nil", got)
	}
}
