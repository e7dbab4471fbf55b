package ir

// Block is a basic block: a maximal run of instructions with a single entry
// (its first instruction) and a single exit (its terminator, or fall-through
// into the next block).
type Block struct {
	ID     int
	Label  string // label of the leading nop, if any
	Instrs []*Instr
	Preds  []*Block
	Succs  []*Block
}

// BuildCFG partitions a function body into basic blocks and wires the
// predecessor/successor edges. A label-bearing nop starts a new block; every
// terminator ends one. Block 0 is the entry block.
func BuildCFG(f *Function) []*Block {
	if len(f.Body) == 0 {
		return nil
	}

	var blocks []*Block
	cur := &Block{ID: 0}
	blocks = append(blocks, cur)

	startNew := func() {
		cur = &Block{ID: len(blocks)}
		blocks = append(blocks, cur)
	}

	for _, in := range f.Body {
		if in.Op == OpNop && in.Label != "" && len(cur.Instrs) > 0 {
			startNew()
		}
		if in.Op == OpNop && in.Label != "" && cur.Label == "" && len(cur.Instrs) == 0 {
			cur.Label = in.Label
		}
		cur.Instrs = append(cur.Instrs, in)
		if in.Op.IsTerminator() {
			startNew()
		}
	}
	// A terminator as the very last instruction leaves a trailing empty
	// block behind; drop it.
	if len(cur.Instrs) == 0 {
		blocks = blocks[:len(blocks)-1]
	}

	byLabel := make(map[string]*Block, len(blocks))
	for _, b := range blocks {
		if b.Label != "" {
			byLabel[b.Label] = b
		}
	}

	link := func(from, to *Block) {
		from.Succs = append(from.Succs, to)
		to.Preds = append(to.Preds, from)
	}

	for i, b := range blocks {
		if len(b.Instrs) == 0 {
			continue
		}
		last := b.Instrs[len(b.Instrs)-1]
		switch last.Op {
		case OpBr:
			if t := byLabel[last.Label]; t != nil {
				link(b, t)
			}
		case OpBrCond:
			// Target first, then the fall-through taken on false.
			if t := byLabel[last.Label]; t != nil {
				link(b, t)
			}
			if i+1 < len(blocks) {
				link(b, blocks[i+1])
			}
		case OpRet:
			// No successors.
		default:
			// Fall-through into the next block.
			if i+1 < len(blocks) {
				link(b, blocks[i+1])
			}
		}
	}
	return blocks
}

// Prune removes blocks unreachable from the entry block. Edges from removed
// blocks are dropped; surviving blocks keep their relative order and are
// renumbered densely.
func Prune(blocks []*Block) []*Block {
	if len(blocks) == 0 {
		return blocks
	}
	reachable := make(map[*Block]bool, len(blocks))
	stack := []*Block{blocks[0]}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reachable[b] {
			continue
		}
		reachable[b] = true
		for _, s := range b.Succs {
			if !reachable[s] {
				stack = append(stack, s)
			}
		}
	}

	var kept []*Block
	for _, b := range blocks {
		if reachable[b] {
			b.ID = len(kept)
			kept = append(kept, b)
		}
	}
	for _, b := range kept {
		b.Preds = filterBlocks(b.Preds, reachable)
		b.Succs = filterBlocks(b.Succs, reachable)
	}
	return kept
}

func filterBlocks(bs []*Block, keep map[*Block]bool) []*Block {
	out := bs[:0]
	for _, b := range bs {
		if keep[b] {
			out = append(out, b)
		}
	}
	return out
}

// Linearize flattens blocks back into a single instruction stream, in block
// id order. Label nops are already the first instruction of their block, so
// the stream prints exactly as the blocks laid out.
func Linearize(blocks []*Block) []*Instr {
	var out []*Instr
	for _, b := range blocks {
		out = append(out, b.Instrs...)
	}
	return out
}
