package graph

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/das-labor/panopticon/function"
	"github.com/das-labor/panopticon/rreil"
)

// VarKey identifies a variable by name and width only, dropping any
// SSA subscript: liveness operates pre-SSA, so a variable's identity
// for VarKill/UEvar purposes ignores whichever subscript SSA renaming
// later attaches to it.
type VarKey struct {
	Name  string
	Width uint16
}

// LivenessSets holds, per basic block (indexed the same way as the
// Function's CFG.Nodes), the set of variables the block kills
// (overwrites) and the set of variables it reads before any local kill
// (upward exposed).
type LivenessSets struct {
	Variables []VarKey
	VarKill   []*bitset.BitSet
	UEvar     []*bitset.BitSet

	index map[VarKey]uint
}

func newLivenessSets(numBlocks int) *LivenessSets {
	return &LivenessSets{
		VarKill: make([]*bitset.BitSet, numBlocks),
		UEvar:   make([]*bitset.BitSet, numBlocks),
		index:   map[VarKey]uint{},
	}
}

func (l *LivenessSets) varIndex(v rreil.Value) uint {
	k := VarKey{Name: v.Name, Width: v.Width}
	if idx, ok := l.index[k]; ok {
		return idx
	}
	idx := uint(len(l.Variables))
	l.Variables = append(l.Variables, k)
	l.index[k] = idx
	return idx
}

func (l *LivenessSets) recordRead(bb int, v rreil.Value) {
	if !v.IsVariable() {
		return
	}
	idx := l.varIndex(v)
	if l.VarKill[bb] == nil {
		l.VarKill[bb] = &bitset.BitSet{}
	}
	if l.UEvar[bb] == nil {
		l.UEvar[bb] = &bitset.BitSet{}
	}
	if !l.VarKill[bb].Test(idx) {
		l.UEvar[bb].Set(idx)
	}
}

func (l *LivenessSets) recordWrite(bb int, v rreil.Value) {
	if !v.IsVariable() {
		return
	}
	idx := l.varIndex(v)
	if l.VarKill[bb] == nil {
		l.VarKill[bb] = &bitset.BitSet{}
	}
	l.VarKill[bb].Set(idx)
}

// ComputeLiveness computes VarKill/UEvar for every resolved block of
// fn: reads of a statement's operands are recorded
// before its write (so "x := f(x)" marks x upward exposed), a Phi
// operation's operands are skipped (phi reads are handled by the SSA
// pass, not raw liveness), and each outgoing CFG edge's relational
// Guard contributes a read of its flag variable.
func ComputeLiveness(fn *function.Function) *LivenessSets {
	ret := newLivenessSets(len(fn.CFG.Nodes))

	for bb, node := range fn.CFG.Nodes {
		if node.Kind != function.NodeResolved {
			continue
		}
		node.Block.Execute(func(stmt rreil.Statement) {
			if stmt.Kind == rreil.StmtExpression && stmt.Operation.Op == rreil.OpPhi {
				return
			}
			for _, v := range stmt.Uses() {
				ret.recordRead(bb, v)
			}
			if assignee, ok := stmt.Defines(); ok {
				ret.recordWrite(bb, assignee)
			}
		})

		for _, e := range fn.CFG.Edges {
			if e.From != bb {
				continue
			}
			if e.Guard.Relation == rreil.RelTrue || e.Guard.Relation == rreil.RelFalse {
				continue
			}
			ret.recordRead(bb, e.Guard.A)
			ret.recordRead(bb, e.Guard.B)
		}
	}

	return ret
}

// Globals is the union of every block's UEvar set (the variables that
// need a phi function somewhere, since they are read before being
// locally defined in at least one block), plus a per-variable usage
// bitset recording which blocks kill it, the input the SSA pass's
// phi-placement needs.
type Globals struct {
	Variables []VarKey
	Set       *bitset.BitSet
	Usage     []*bitset.BitSet // indexed by variable, set of killing blocks
}

// ComputeGlobals derives Globals from a LivenessSets already computed
// by ComputeLiveness.
func ComputeGlobals(l *LivenessSets) *Globals {
	g := &Globals{
		Variables: l.Variables,
		Set:       &bitset.BitSet{},
		Usage:     make([]*bitset.BitSet, len(l.Variables)),
	}
	for i := range g.Usage {
		g.Usage[i] = &bitset.BitSet{}
	}

	for _, ue := range l.UEvar {
		if ue == nil {
			continue
		}
		g.Set.InPlaceUnion(ue)
	}

	for bb, vk := range l.VarKill {
		if vk == nil {
			continue
		}
		for i, ok := vk.NextSet(0); ok; i, ok = vk.NextSet(i + 1) {
			g.Usage[i].Set(uint(bb))
		}
	}

	return g
}

// ComputeLiveOut computes, for every resolved block, the set of
// variables live on exit by fixpoint iteration in postorder: LiveOut(v)
// is the union over successors m of UEvar(m) and, when m is itself
// resolved, (LiveOut(m) minus VarKill(m)).
func ComputeLiveOut(fn *function.Function, l *LivenessSets) []*bitset.BitSet {
	entry, ok := fn.EntryNode()
	if !ok {
		return make([]*bitset.BitSet, len(fn.CFG.Nodes))
	}
	order := Postorder(&fn.CFG, entry)

	liveOut := make([]*bitset.BitSet, len(fn.CFG.Nodes))
	for _, v := range order {
		if fn.CFG.Nodes[v].Kind == function.NodeResolved {
			liveOut[v] = &bitset.BitSet{}
		}
	}

	for {
		fixpoint := true
		for _, v := range order {
			if fn.CFG.Nodes[v].Kind != function.NodeResolved {
				continue
			}
			s := &bitset.BitSet{}
			for _, m := range fn.CFG.Successors(v) {
				if l.UEvar[m] != nil {
					s.InPlaceUnion(l.UEvar[m])
				}
				if fn.CFG.Nodes[m].Kind == function.NodeResolved && liveOut[m] != nil {
					rest := liveOut[m].Clone()
					if l.VarKill[m] != nil {
						rest.InPlaceDifference(l.VarKill[m])
					}
					s.InPlaceUnion(rest)
				}
			}
			if !s.Equal(liveOut[v]) {
				fixpoint = false
			}
			liveOut[v] = s
		}
		if fixpoint {
			break
		}
	}

	return liveOut
}
