// Package function builds a Function's control-flow graph by recursive
// descent from an entry address, using an explicit address worklist
// instead of recursion so arbitrarily deep block chains never overflow
// the Go stack.
package function

import (
	"github.com/das-labor/panopticon/rreil"
)

// NodeKind discriminates a ControlFlowTarget: a fully decoded
// basic block, an address whose decode failed, an indirect-jump target
// not yet resolved to a concrete address, or the synthetic sink every
// returning block is wired to.
type NodeKind int

const (
	NodeResolved NodeKind = iota
	NodeFailed
	NodeUnresolved
	NodeSink
)

// BasicBlock is a maximal straight-line run of Mnemonics with no
// incoming edge into its interior and no outgoing edge except from its
// last instruction.
type BasicBlock struct {
	Area      rreil.Bound
	Mnemonics []rreil.Mnemonic
}

// Execute calls f for every Statement in the block's Mnemonics, in
// program order, as used by the liveness/SSA passes to walk a block's
// IR.
func (b BasicBlock) Execute(f func(rreil.Statement)) {
	for _, m := range b.Mnemonics {
		for _, stmt := range m.Statements {
			f(stmt)
		}
	}
}

// Node is one CFG vertex.
type Node struct {
	Kind       NodeKind
	Block      BasicBlock // valid when Kind == NodeResolved
	FailedAt   uint64     // valid when Kind == NodeFailed
	FailErr    error      // valid when Kind == NodeFailed
	Unresolved rreil.Value
}

// Edge is a directed CFG edge guarded by the condition under which it is
// taken.
type Edge struct {
	From  int
	To    int
	Guard rreil.Guard
}

// CFG is a Function's control-flow graph: Nodes indexed by position,
// Edges between them.
type CFG struct {
	Nodes []Node
	Edges []Edge
}

// AddNode appends a node and returns its index.
func (c *CFG) AddNode(n Node) int {
	c.Nodes = append(c.Nodes, n)
	return len(c.Nodes) - 1
}

// AddEdge appends an edge.
func (c *CFG) AddEdge(from, to int, guard rreil.Guard) {
	c.Edges = append(c.Edges, Edge{From: from, To: to, Guard: guard})
}

// NumNodes returns the number of vertices in the graph, satisfying
// graph.Graph for dominator and liveness computation.
func (c *CFG) NumNodes() int { return len(c.Nodes) }

// Successors returns the node indices reachable directly from node i.
func (c *CFG) Successors(i int) []int {
	var out []int
	for _, e := range c.Edges {
		if e.From == i {
			out = append(out, e.To)
		}
	}
	return out
}

// Predecessors returns the node indices with a direct edge into node i.
func (c *CFG) Predecessors(i int) []int {
	var out []int
	for _, e := range c.Edges {
		if e.To == i {
			out = append(out, e.From)
		}
	}
	return out
}

// Sink returns the index of the CFG's synthetic return sink, the single
// node every returning block gets an edge to so a Resolved node's
// out-edge guards always disjoin to true. It creates the node on first
// use and reuses it afterward.
func (c *CFG) Sink() int {
	for i, n := range c.Nodes {
		if n.Kind == NodeSink {
			return i
		}
	}
	return c.AddNode(Node{Kind: NodeSink})
}

// NodeAt returns the index of the resolved node whose block area
// contains addr, if any.
func (c *CFG) NodeAt(addr uint64) (int, bool) {
	for i, n := range c.Nodes {
		if n.Kind == NodeResolved && n.Block.Area.Start <= addr && addr < n.Block.Area.End {
			return i, true
		}
	}
	return 0, false
}
