package ir

import (
	"fmt"
	"strings"

	"ccir/pkg/source"
)

// Op is an IR opcode.
type Op int

const (
	// Memory
	OpAlloca Op = iota
	OpLoad
	OpStore

	// Arithmetic
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod

	// Bitwise
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr

	// Comparison (result is always bool)
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	// Conversion
	OpItof
	OpFtoi
	OpTrunc
	OpExt
	OpBitcast

	// Aggregate addressing
	OpArrayElem
	OpStructMember

	// Control
	OpBr
	OpBrCond
	OpRet
	OpNop

	// Call
	OpCall
)

var opNames = [...]string{
	OpAlloca:       "alloca",
	OpLoad:         "load",
	OpStore:        "store",
	OpAdd:          "add",
	OpSub:          "sub",
	OpMul:          "mul",
	OpDiv:          "div",
	OpMod:          "mod",
	OpAnd:          "and",
	OpOr:           "or",
	OpXor:          "xor",
	OpShl:          "shl",
	OpShr:          "shr",
	OpEq:           "eq",
	OpNe:           "ne",
	OpLt:           "lt",
	OpLe:           "le",
	OpGt:           "gt",
	OpGe:           "ge",
	OpItof:         "itof",
	OpFtoi:         "ftoi",
	OpTrunc:        "trunc",
	OpExt:          "ext",
	OpBitcast:      "bitcast",
	OpArrayElem:    "get_array_element_ptr",
	OpStructMember: "get_struct_member_ptr",
	OpBr:           "br",
	OpBrCond:       "br_cond",
	OpRet:          "ret",
	OpNop:          "nop",
	OpCall:         "call",
}

func (op Op) String() string {
	if int(op) >= 0 && int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", int(op))
}

// IsTerminator reports whether op ends a basic block.
func (op Op) IsTerminator() bool {
	return op == OpBr || op == OpBrCond || op == OpRet
}

// Instr is one IR instruction. Dest is nil for instructions that produce no
// value (store, br, br_cond, ret, nop, void call).
type Instr struct {
	Op   Op
	Dest *Var
	Args []Value

	// AllocType is the allocated object type for alloca.
	AllocType Type

	// Label is the branch target for br/br_cond and the carried label for
	// nop. A nop with an empty label is a plain no-op.
	Label string

	// Callee names a directly-called function. For calls through a pointer
	// the callee value is Args[0] and Callee is empty; argument values
	// follow.
	Callee string

	Span source.Span
}

func (in *Instr) String() string {
	var sb strings.Builder
	switch in.Op {
	case OpNop:
		if in.Label != "" {
			sb.WriteString(in.Label)
			sb.WriteString(": ")
		}
		sb.WriteString("nop")
		return sb.String()
	case OpBr:
		return "br " + in.Label
	case OpBrCond:
		return fmt.Sprintf("br_cond %s, %s", in.Args[0], in.Label)
	case OpRet:
		if len(in.Args) == 0 {
			return "ret"
		}
		return "ret " + in.Args[0].String()
	case OpStore:
		return fmt.Sprintf("store %s, %s", in.Args[0], in.Args[1])
	}

	if in.Dest != nil {
		sb.WriteString(in.Dest.String())
		sb.WriteString(" = ")
	}
	sb.WriteString(in.Op.String())

	switch in.Op {
	case OpAlloca:
		sb.WriteByte(' ')
		sb.WriteString(in.AllocType.String())
	case OpCall:
		args := in.Args
		sb.WriteByte(' ')
		if in.Callee != "" {
			sb.WriteString(in.Callee)
		} else {
			sb.WriteString(args[0].Ref())
			args = args[1:]
		}
		sb.WriteByte('(')
		for i, a := range args {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(a.String())
		}
		sb.WriteByte(')')
	default:
		for i, a := range in.Args {
			if i == 0 {
				sb.WriteByte(' ')
			} else {
				sb.WriteString(", ")
			}
			sb.WriteString(a.String())
		}
	}
	return sb.String()
}
