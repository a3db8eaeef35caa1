package function

import (
	"github.com/das-labor/panopticon/arch"
	"github.com/das-labor/panopticon/disasm"
	"github.com/das-labor/panopticon/perror"
	"github.com/das-labor/panopticon/region"
	"github.com/das-labor/panopticon/rreil"
)

// instrPos locates one decoded instruction inside the CFG being built:
// which node it lives in and its index within that node's Mnemonics.
type instrPos struct {
	node   int
	offset int
}

// Builder drives recursive-descent disassembly from a Function's entry
// address over an explicit worklist of addresses still to decode.
type Builder struct {
	decoder arch.Decoder
	region  *region.Region

	cfg        CFG
	blockStart map[uint64]int
	instrAt    map[uint64]instrPos
	visited    map[uint64]bool
	pending    []pendingEdge
}

// NewBuilder creates a Builder that decodes instructions out of r using
// dec.
func NewBuilder(dec arch.Decoder, r *region.Region) *Builder {
	return &Builder{
		decoder:    dec,
		region:     r,
		blockStart: map[uint64]int{},
		instrAt:    map[uint64]instrPos{},
		visited:    map[uint64]bool{},
	}
}

// pendingEdge is an outgoing edge whose target address has been decoded
// (or queued for decoding) but not yet resolved to a node index.
type pendingEdge struct {
	from   int
	target uint64
	guard  rreil.Guard
}

// Build runs recursive descent from entry and returns the finished
// Function. Every address reachable by a Jump (direct or conditional)
// is visited exactly once; addresses that land inside an already-built
// block split it in two rather than being redecoded.
func (b *Builder) Build(name string, entry uint64) *Function {
	fn := New(name, entry)

	worklist := []uint64{entry}

	for len(worklist) > 0 {
		addr := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		if b.visited[addr] {
			continue
		}

		if pos, ok := b.instrAt[addr]; ok {
			if pos.offset != 0 {
				b.splitBlockAt(pos, addr)
			}
			b.visited[addr] = true
			continue
		}

		b.visited[addr] = true
		node, edges, err := b.decodeBlock(addr)
		if err != nil {
			idx := b.cfg.AddNode(Node{Kind: NodeFailed, FailedAt: addr, FailErr: err})
			b.blockStart[addr] = idx
			continue
		}

		idx := b.cfg.AddNode(Node{Kind: NodeResolved, Block: node})
		b.blockStart[addr] = idx
		for i, m := range node.Mnemonics {
			b.instrAt[m.Area.Start] = instrPos{node: idx, offset: i}
		}

		if hasReturn(node.Mnemonics) {
			b.cfg.AddEdge(idx, b.cfg.Sink(), rreil.True())
		}

		for _, e := range edges {
			if e.Target.IsConst() {
				target := e.Target.Val
				b.pending = append(b.pending, pendingEdge{from: idx, target: target, guard: e.Guard})
				if !b.visited[target] {
					worklist = append(worklist, target)
				}
			} else {
				uidx := b.cfg.AddNode(Node{Kind: NodeUnresolved, Unresolved: e.Target})
				b.cfg.AddEdge(idx, uidx, e.Guard)
			}
		}
	}

	for _, pe := range b.pending {
		to, ok := b.resolve(pe.target)
		if !ok {
			continue
		}
		b.cfg.AddEdge(pe.from, to, pe.guard)
	}

	fn.CFG = b.cfg
	return fn
}

// resolve finds the node a target address belongs to: the block
// starting there, or (after a split moved it) wherever instrAt now
// says it lives.
func (b *Builder) resolve(addr uint64) (int, bool) {
	if idx, ok := b.blockStart[addr]; ok {
		return idx, true
	}
	if pos, ok := b.instrAt[addr]; ok {
		return pos.node, true
	}
	return 0, false
}

// decodeBlock decodes consecutive instructions starting at addr until
// one produces an outgoing Jump (conditional or not) or a return,
// assembling them into a single BasicBlock. A mid-block decode failure
// quietly ends the block with no outgoing edges, rather than discarding
// the instructions already collected. If straight-line fetch would walk
// into an address some other block already claims as an instruction
// boundary, the block ends there instead, with a synthetic unconditional
// fallthrough edge — otherwise two blocks built in different worklist
// orders could each re-decode the same bytes.
func (b *Builder) decodeBlock(addr uint64) (BasicBlock, []disasm.Jump, error) {
	cur := addr
	var mnemonics []rreil.Mnemonic

	for {
		if len(mnemonics) > 0 {
			if _, ok := b.blockStart[cur]; ok {
				return BasicBlock{Area: rreil.Bound{Start: addr, End: cur}, Mnemonics: mnemonics},
					[]disasm.Jump{{Target: mustConstValue(cur), Guard: rreil.True()}}, nil
			}
			if _, ok := b.instrAt[cur]; ok {
				return BasicBlock{Area: rreil.Bound{Start: addr, End: cur}, Mnemonics: mnemonics},
					[]disasm.Jump{{Target: mustConstValue(cur), Guard: rreil.True()}}, nil
			}
		}

		// A panic inside an architecture adapter becomes an Internal
		// error, so the address is handled like any other decode failure.
		state, err := func() (st *disasm.State, err error) {
			defer func() {
				if p := recover(); p != nil {
					st, err = nil, perror.Internalf("decoder panic at 0x%x: %v", cur, p)
				}
			}()
			return b.decoder.Decode(b.region, cur)
		}()
		if err != nil {
			if len(mnemonics) == 0 {
				return BasicBlock{}, nil, err
			}
			return BasicBlock{Area: rreil.Bound{Start: addr, End: cur}, Mnemonics: mnemonics}, nil, nil
		}

		mnemonics = append(mnemonics, state.Mnemonics...)
		cur = state.NextAddress()

		if len(state.Jumps) > 0 || hasReturn(state.Mnemonics) {
			return BasicBlock{Area: rreil.Bound{Start: addr, End: cur}, Mnemonics: mnemonics}, state.Jumps, nil
		}
	}
}

func mustConstValue(v uint64) rreil.Value {
	val, _ := rreil.NewConst(v, 64)
	return val
}

func hasReturn(ms []rreil.Mnemonic) bool {
	for _, m := range ms {
		for _, s := range m.Statements {
			if s.Kind == rreil.StmtReturn {
				return true
			}
		}
	}
	return false
}

// splitBlockAt breaks the block containing pos in two at addr, moving
// the instructions from addr onward (and any edges that left the old
// block) into a fresh node, and wiring a single unconditional
// fallthrough edge from the first half to the second.
func (b *Builder) splitBlockAt(pos instrPos, addr uint64) {
	old := b.cfg.Nodes[pos.node]
	head := old.Block.Mnemonics[:pos.offset]
	tail := old.Block.Mnemonics[pos.offset:]

	headBlock := BasicBlock{Area: rreil.Bound{Start: old.Block.Area.Start, End: addr}, Mnemonics: head}
	tailBlock := BasicBlock{Area: rreil.Bound{Start: addr, End: old.Block.Area.End}, Mnemonics: tail}

	b.cfg.Nodes[pos.node] = Node{Kind: NodeResolved, Block: headBlock}
	newIdx := b.cfg.AddNode(Node{Kind: NodeResolved, Block: tailBlock})
	b.blockStart[addr] = newIdx

	for i := range b.cfg.Edges {
		if b.cfg.Edges[i].From == pos.node {
			b.cfg.Edges[i].From = newIdx
		}
	}
	for i := range b.pending {
		if b.pending[i].from == pos.node {
			b.pending[i].from = newIdx
		}
	}
	b.cfg.AddEdge(pos.node, newIdx, rreil.True())

	for i, m := range tail {
		b.instrAt[m.Area.Start] = instrPos{node: newIdx, offset: i}
	}
}
