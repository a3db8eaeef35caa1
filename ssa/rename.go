package ssa

import (
	"github.com/das-labor/panopticon/function"
	"github.com/das-labor/panopticon/graph"
	"github.com/das-labor/panopticon/rreil"
)

// insertPhis prepends one synthetic zero-length Mnemonic holding a Phi
// statement per variable phis names to block's instruction list. The
// Phi's argument slots are filled in later by rename as it walks each
// predecessor edge; they start as Undefined placeholders.
func insertPhis(fn *function.Function, block int, phis []phiPlacement) {
	node := fn.CFG.Nodes[block]
	preds := fn.CFG.Predecessors(block)
	start := node.Block.Area.Start

	var newMnemonics []rreil.Mnemonic
	for _, p := range phis {
		args := make([]rreil.Value, len(preds))
		for i := range args {
			args[i] = rreil.Undefined()
		}
		op, err := rreil.PhiOf(args...)
		if err != nil {
			continue
		}
		assignee, err := rreil.NewVariable(p.v.Name, p.v.Width)
		if err != nil {
			continue
		}
		stmt, err := rreil.Expression(assignee, op)
		if err != nil {
			continue
		}
		m, err := rreil.NewMnemonic("phi", rreil.Bound{Start: start, End: start}, nil, []rreil.Statement{stmt})
		if err != nil {
			continue
		}
		newMnemonics = append(newMnemonics, m)
	}

	node.Block.Mnemonics = append(newMnemonics, node.Block.Mnemonics...)
	fn.CFG.Nodes[block] = node
}

// predIndex returns the position of from within to's CFG.Predecessors,
// the slot in a Phi's Args reserved for that incoming path.
func predIndex(fn *function.Function, from, to int) int {
	for i, p := range fn.CFG.Predecessors(to) {
		if p == from {
			return i
		}
	}
	return -1
}

// rename is the Cytron et al SSA renaming algorithm: a preorder
// traversal of the dominator tree that replaces every use of a
// variable with the subscripted Value of its most recent dominating
// definition, assigning a fresh subscript at every definition
// (including each placed Phi) along the way.
func rename(fn *function.Function, u int, renaming map[graph.VarKey]rreil.Value, placements map[int][]phiPlacement, children [][]int, counters map[graph.VarKey]uint32) {
	fresh := func(v rreil.Value) rreil.Value {
		key := graph.VarKey{Name: v.Name, Width: v.Width}
		sub := counters[key]
		counters[key] = sub + 1
		nv := v.Subscripted(sub)
		renaming[key] = nv
		return nv
	}
	current := func(v rreil.Value) rreil.Value {
		key := graph.VarKey{Name: v.Name, Width: v.Width}
		if cur, ok := renaming[key]; ok {
			return cur
		}
		return v
	}
	substitute := func(v rreil.Value) rreil.Value {
		if !v.IsVariable() {
			return v
		}
		return current(v)
	}

	node := fn.CFG.Nodes[u]
	if node.Kind != function.NodeResolved {
		for _, c := range children[u] {
			rename(fn, c, copyRenaming(renaming), placements, children, counters)
		}
		return
	}

	mnemonics := node.Block.Mnemonics
	for mi, m := range mnemonics {
		stmts := m.Statements
		for si, stmt := range stmts {
			isPlacedPhi := m.Opcode == "phi" && stmt.Kind == rreil.StmtExpression && stmt.Operation.Op == rreil.OpPhi
			if isPlacedPhi {
				stmts[si] = stmt.WithAssignee(fresh(stmt.Assignee))
				continue
			}
			rewritten := stmt.SubstituteUses(substitute)
			if assignee, ok := rewritten.Defines(); ok {
				rewritten = rewritten.WithAssignee(fresh(assignee))
			}
			stmts[si] = rewritten
		}
		mnemonics[mi].Statements = stmts
	}
	node.Block.Mnemonics = mnemonics
	fn.CFG.Nodes[u] = node

	// An edge's Guard reads the variables live at the end of its source
	// block, so it is renamed with the same reaching definitions as a
	// use in the block's last statement. Without this, constraint
	// propagation could never match a subscripted phi argument against
	// its edge's condition.
	for i := range fn.CFG.Edges {
		if fn.CFG.Edges[i].From != u {
			continue
		}
		g := fn.CFG.Edges[i].Guard
		g.A = substitute(g.A)
		g.B = substitute(g.B)
		fn.CFG.Edges[i].Guard = g
	}

	for _, succ := range fn.CFG.Successors(u) {
		phis := placements[succ]
		if len(phis) == 0 {
			continue
		}
		idx := predIndex(fn, u, succ)
		if idx < 0 {
			continue
		}
		succNode := fn.CFG.Nodes[succ]
		phiStmtIdx := 0
		for mi := range succNode.Block.Mnemonics {
			m := &succNode.Block.Mnemonics[mi]
			if m.Opcode != "phi" {
				continue
			}
			stmt := m.Statements[0]
			v, ok := stmt.Defines()
			if !ok {
				continue
			}
			want := placements[succ][phiStmtIdx].v
			if v.Name == want.Name && v.Width == want.Width {
				stmt.Operation.Args[idx] = current(rreilPlainVar(want))
				m.Statements[0] = stmt
			}
			phiStmtIdx++
		}
		fn.CFG.Nodes[succ] = succNode
	}

	for _, c := range children[u] {
		rename(fn, c, copyRenaming(renaming), placements, children, counters)
	}
}

func rreilPlainVar(k graph.VarKey) rreil.Value {
	v, _ := rreil.NewVariable(k.Name, k.Width)
	return v
}

func copyRenaming(r map[graph.VarKey]rreil.Value) map[graph.VarKey]rreil.Value {
	cp := make(map[graph.VarKey]rreil.Value, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}
