// Package program assembles analyzed Functions into a call graph,
// tracking which call targets are fully disassembled, known only by
// name (an import), or merely discovered and awaiting disassembly.
// Program.Insert is the mutation point during analysis (the loader seeds
// the initial nodes with Graph.AddNode); Dispatcher drives a worker pool
// that keeps inserting until no Todo remains.
package program

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/das-labor/panopticon/function"
	"github.com/das-labor/panopticon/perror"
	"github.com/das-labor/panopticon/rreil"
)

// TargetKind discriminates a CallGraph node's three shapes.
type TargetKind int

const (
	TargetConcrete TargetKind = iota
	TargetSymbolic
	TargetTodo
)

// CallTarget is one call-graph vertex.
type CallTarget struct {
	Kind TargetKind

	Function *function.Function // valid when Kind == TargetConcrete

	SymbolicName string    // valid when Kind == TargetSymbolic
	symbolicUUID uuid.UUID // valid when Kind == TargetSymbolic

	TodoTarget rreil.Value // valid when Kind == TargetTodo: constant address or symbolic value
	TodoHint   string      // optional import/symbol name hint
	todoUUID   uuid.UUID   // valid when Kind == TargetTodo
}

// UUID returns the node's stable identity.
func (c CallTarget) UUID() uuid.UUID {
	switch c.Kind {
	case TargetConcrete:
		return c.Function.UUID
	case TargetSymbolic:
		return c.symbolicUUID
	default:
		return c.todoUUID
	}
}

// Concrete wraps a disassembled Function as a call-graph node.
func Concrete(fn *function.Function) CallTarget {
	return CallTarget{Kind: TargetConcrete, Function: fn}
}

// Symbolic wraps a reference to an external symbol (e.g. a PLT import)
// as a call-graph node.
func Symbolic(name string) CallTarget {
	return CallTarget{Kind: TargetSymbolic, SymbolicName: name, symbolicUUID: uuid.New()}
}

// NewTodo wraps an unresolved call target as a call-graph node awaiting
// disassembly.
func NewTodo(target rreil.Value, hint string) CallTarget {
	return CallTarget{Kind: TargetTodo, TodoTarget: target, TodoHint: hint, todoUUID: uuid.New()}
}

// callTargetSnapshot is CallTarget's exported CBOR shape: the node's
// symbolicUUID/todoUUID are otherwise unexported (kept private so callers
// reach them only through the stable UUID() accessor), so — mirroring
// region/serde.go's Layer/Region/World snapshots — a session round trip
// needs an explicit mirror struct or those identities would silently
// revert to the zero UUID on decode.
type callTargetSnapshot struct {
	Kind         TargetKind
	Function     *function.Function
	SymbolicName string
	SymbolicUUID uuid.UUID
	TodoTarget   rreil.Value
	TodoHint     string
	TodoUUID     uuid.UUID
}

// MarshalCBOR implements cbor.Marshaler.
func (c CallTarget) MarshalCBOR() ([]byte, error) {
	snap := callTargetSnapshot{
		Kind:         c.Kind,
		Function:     c.Function,
		SymbolicName: c.SymbolicName,
		SymbolicUUID: c.symbolicUUID,
		TodoTarget:   c.TodoTarget,
		TodoHint:     c.TodoHint,
		TodoUUID:     c.todoUUID,
	}
	b, err := cbor.Marshal(snap)
	if err != nil {
		return nil, perror.Serde(err)
	}
	return b, nil
}

// UnmarshalCBOR implements cbor.Unmarshaler, the inverse of MarshalCBOR.
func (c *CallTarget) UnmarshalCBOR(data []byte) error {
	var snap callTargetSnapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return perror.Serde(err)
	}
	c.Kind = snap.Kind
	c.Function = snap.Function
	c.SymbolicName = snap.SymbolicName
	c.symbolicUUID = snap.SymbolicUUID
	c.TodoTarget = snap.TodoTarget
	c.TodoHint = snap.TodoHint
	c.todoUUID = snap.TodoUUID
	return nil
}

// CallGraph is a directed graph of CallTargets; an edge a->b means a
// calls b.
type CallGraph struct {
	Nodes []CallTarget
	Edges [][2]int
}

// AddNode appends a node and returns its index.
func (g *CallGraph) AddNode(t CallTarget) int {
	g.Nodes = append(g.Nodes, t)
	return len(g.Nodes) - 1
}

// HasEdge reports whether an edge from -> to already exists.
func (g *CallGraph) HasEdge(from, to int) bool {
	for _, e := range g.Edges {
		if e[0] == from && e[1] == to {
			return true
		}
	}
	return false
}

// AddEdge appends an edge from -> to if it does not already exist.
func (g *CallGraph) AddEdge(from, to int) {
	if g.HasEdge(from, to) {
		return
	}
	g.Edges = append(g.Edges, [2]int{from, to})
}

// FindByUUID returns the index of the node with the given identity.
func (g *CallGraph) FindByUUID(id uuid.UUID) (int, bool) {
	for i, n := range g.Nodes {
		if n.UUID() == id {
			return i, true
		}
	}
	return 0, false
}

// FindConcreteByEntry returns the index of the Concrete node whose
// function entry address equals start.
func (g *CallGraph) FindConcreteByEntry(start uint64) (int, bool) {
	for i, n := range g.Nodes {
		if n.Kind == TargetConcrete && n.Function.Entry == start {
			return i, true
		}
	}
	return 0, false
}

// FindTodoByTarget returns the index of the Todo node whose target
// value equals v.
func (g *CallGraph) FindTodoByTarget(v rreil.Value) (int, bool) {
	for i, n := range g.Nodes {
		if n.Kind == TargetTodo && n.TodoTarget.Equal(v) {
			return i, true
		}
	}
	return 0, false
}

// findConstTodoByEntry returns the index of a Todo node whose constant
// target address equals entry.
func (g *CallGraph) findConstTodoByEntry(entry uint64) (int, bool) {
	for i, n := range g.Nodes {
		if n.Kind == TargetTodo && n.TodoTarget.IsConst() && n.TodoTarget.Val == entry {
			return i, true
		}
	}
	return 0, false
}

// Program is a named collection of functions calling each other.
type Program struct {
	UUID    uuid.UUID
	Name    string
	Graph   CallGraph
	Imports map[uint64]string
}

// New creates an empty Program named n.
func New(n string) *Program {
	return &Program{UUID: uuid.New(), Name: n, Imports: map[uint64]string{}}
}

// callTargetsOf scans fn's CFG for Call and IndirectCall statements
// and collects their targets for call-graph linking.
func callTargetsOf(fn *function.Function) []rreil.Value {
	var out []rreil.Value
	for _, node := range fn.CFG.Nodes {
		if node.Kind != function.NodeResolved {
			continue
		}
		for _, m := range node.Block.Mnemonics {
			for _, stmt := range m.Statements {
				switch stmt.Kind {
				case rreil.StmtCall:
					v, err := rreil.NewConst(stmt.Target, 64)
					if err == nil {
						out = append(out, v)
					}
				case rreil.StmtIndirectCall:
					out = append(out, stmt.Indirect)
				}
			}
		}
	}
	return out
}

// Insert places fn into the call graph and returns the UUIDs of the
// freshly created Todo nodes for every call target fn makes that the
// graph did not already know about.
//
// Re-inserting a Function with a UUID already in the graph replaces
// that node in place.
// Inserting a brand new Function whose entry address matches an
// existing Todo's target additionally reconciles that Todo in place,
// keeping its incoming call edges, instead of appending a duplicate
// Concrete node alongside a now-stale stub — the dispatcher relies on
// this to fold a just-built callee back into the stub its caller's
// Insert created earlier.
func (p *Program) Insert(fn *function.Function) []uuid.UUID {
	newVx, existing := p.Graph.FindByUUID(fn.UUID)
	switch {
	case existing:
		p.Graph.Nodes[newVx] = Concrete(fn)
	default:
		if todoVx, ok := p.Graph.findConstTodoByEntry(fn.Entry); ok {
			newVx = todoVx
			p.Graph.Nodes[newVx] = Concrete(fn)
		} else {
			newVx = p.Graph.AddNode(Concrete(fn))
		}
	}

	var todos []uuid.UUID
	for _, target := range callTargetsOf(fn) {
		var other int
		var found bool

		if target.IsConst() {
			other, found = p.Graph.FindConcreteByEntry(target.Val)
			if !found {
				other, found = p.Graph.FindTodoByTarget(target)
			}
		} else {
			other, found = p.Graph.FindTodoByTarget(target)
		}

		if !found {
			ct := NewTodo(target, "")
			other = p.Graph.AddNode(ct)
			p.Graph.AddEdge(newVx, other)
			todos = append(todos, ct.UUID())
			continue
		}

		p.Graph.AddEdge(newVx, other)
	}

	return todos
}
