// Package ssa converts a Function's CFG into semi-pruned SSA form:
// phi placement, for each variable upward-exposed in some block, at the
// iterated dominance frontier of its definition sites (Cytron et al);
// liveness at the join is not checked. This is followed by a dominator-tree
// preorder renaming pass that attaches a fresh subscript to every
// definition and rewrites every use to the definition that reaches it.
package ssa

import (
	"github.com/das-labor/panopticon/function"
	"github.com/das-labor/panopticon/graph"
	"github.com/das-labor/panopticon/rreil"
)

// phiPlacement is one phi the placement pass decided block needs, named
// by the variable it merges.
type phiPlacement struct {
	block int
	v     graph.VarKey
}

// placePhis computes, for every global variable (one that is read
// before being locally defined in at least one block), the set of
// blocks needing a phi node for it: the iterated dominance frontier of
// its definition sites, keyed by variable index against
// graph.Globals.Usage. Every variable in the IR is a register-like
// cell, so there is no address-taken or aggregate case to exclude.
func placePhis(df [][]int, g *graph.Globals) map[int][]phiPlacement {
	placements := map[int][]phiPlacement{}

	for i := range g.Variables {
		if !g.Set.Test(uint(i)) {
			continue
		}
		defblocks := g.Usage[i]
		if defblocks == nil {
			continue
		}

		hasAlready := map[int]bool{}
		work := map[int]bool{}
		var worklist []int
		for b, ok := defblocks.NextSet(0); ok; b, ok = defblocks.NextSet(b + 1) {
			work[int(b)] = true
			worklist = append(worklist, int(b))
		}

		for len(worklist) > 0 {
			u := worklist[len(worklist)-1]
			worklist = worklist[:len(worklist)-1]
			for _, v := range df[u] {
				if hasAlready[v] {
					continue
				}
				hasAlready[v] = true
				placements[v] = append(placements[v], phiPlacement{block: v, v: g.Variables[i]})
				if !work[v] {
					work[v] = true
					worklist = append(worklist, v)
				}
			}
		}
	}

	return placements
}

// domChildren builds the dominator tree's children lists from an idom
// array, the structure rename's depth-first recursion walks.
func domChildren(idom []int, root int) [][]int {
	children := make([][]int, len(idom))
	for v, d := range idom {
		if v == root || d == -1 {
			continue
		}
		children[d] = append(children[d], v)
	}
	return children
}

// Lift converts fn's CFG into SSA form in place: phi statements are
// prepended to every block the iterated dominance frontier requires,
// and every variable definition and use is rewritten to a subscripted
// Value, per Cytron et al's renaming algorithm.
func Lift(fn *function.Function) {
	entry, ok := fn.EntryNode()
	if !ok {
		return
	}

	idom := graph.ImmediateDominators(&fn.CFG, entry)
	df := graph.DominanceFrontiers(&fn.CFG, idom)
	liveness := graph.ComputeLiveness(fn)
	globals := graph.ComputeGlobals(liveness)
	placements := placePhis(df, globals)
	children := domChildren(idom, entry)

	for block, phis := range placements {
		insertPhis(fn, block, phis)
	}

	counters := map[graph.VarKey]uint32{}
	rename(fn, entry, map[graph.VarKey]rreil.Value{}, placements, children, counters)
}
