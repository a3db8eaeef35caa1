// Package absint implements the abstract interpreter: an indexed
// "lifted" view of a Function's SSA statements, and a Kildall-style
// fixed-point loop generic over any domain satisfying domain.Value[A].
package absint

import (
	"github.com/das-labor/panopticon/function"
	"github.com/das-labor/panopticon/rreil"
)

// proxy is either a literal or the index of the statement that
// defines the variable it reads. orig keeps the resolved rreil.Value
// so guard-based refinement (constraint propagation at phi arguments)
// can still match it against a branch condition's operands after
// lifting.
type proxy struct {
	isConst bool
	orig    rreil.Value
	index   int
}

// stmt is one lifted SSA expression: its defining statement's index
// (its "program point"), the operation it computes, the bit width of
// its result, and its operand proxies. guards is non-nil only for a
// Phi: guards[i] is the condition under which args[i]'s predecessor
// edge is taken, used to refine that incoming value before it is
// merged.
type stmt struct {
	pp     int
	op     rreil.Op
	width  uint16
	args   []proxy
	guards []rreil.Guard
}

// lift builds the indexed statement list lifting a Function's SSA form
// requires: one index per variable-defining expression statement
// (Phi included), assigned in node-then-program order across every
// Resolved block. Variable index and statement index are the same
// number, since after SSA conversion every variable has exactly one
// definition.
func lift(fn *function.Function) []stmt {
	index := map[string]int{}
	var bodies []rreil.Statement
	var owners []int // CFG node each body statement belongs to

	for nodeIdx, node := range fn.CFG.Nodes {
		if node.Kind != function.NodeResolved {
			continue
		}
		node.Block.Execute(func(s rreil.Statement) {
			if s.Kind != rreil.StmtExpression {
				return
			}
			index[s.Assignee.String()] = len(bodies)
			bodies = append(bodies, s)
			owners = append(owners, nodeIdx)
		})
	}

	stmts := make([]stmt, len(bodies))
	for pp, s := range bodies {
		operands := s.Operation.Operands()
		args := make([]proxy, len(operands))
		for i, v := range operands {
			args[i] = liftValue(v, index)
		}

		var guards []rreil.Guard
		if s.Operation.Op == rreil.OpPhi {
			guards = phiGuards(fn, owners[pp], len(operands))
		}

		stmts[pp] = stmt{pp: pp, op: s.Operation.Op, width: s.Assignee.Width, args: args, guards: guards}
	}
	return stmts
}

func liftValue(v rreil.Value, index map[string]int) proxy {
	if v.IsVariable() {
		if idx, ok := index[v.String()]; ok {
			return proxy{orig: v, index: idx}
		}
	}
	return proxy{isConst: true, orig: v}
}

// phiGuards returns, for a Phi sitting in block, the guard on each
// incoming edge in fn.CFG.Predecessors(block) order — the same order
// ssa.rename fills a Phi's Args in — defaulting to True() for an edge
// absint can't find (should not happen for a well-formed CFG).
func phiGuards(fn *function.Function, block int, n int) []rreil.Guard {
	preds := fn.CFG.Predecessors(block)
	guards := make([]rreil.Guard, n)
	for i := range guards {
		guards[i] = rreil.True()
		if i >= len(preds) {
			continue
		}
		for _, e := range fn.CFG.Edges {
			if e.From == preds[i] && e.To == block {
				guards[i] = e.Guard
				break
			}
		}
	}
	return guards
}
