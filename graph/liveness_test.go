package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/das-labor/panopticon/function"
	"github.com/das-labor/panopticon/graph"
	"github.com/das-labor/panopticon/rreil"
)

func mustVar(t *testing.T, name string, width uint16) rreil.Value {
	t.Helper()
	v, err := rreil.NewVariable(name, width)
	require.NoError(t, err)
	return v
}

func mustBlock(t *testing.T, start, end uint64, assignee rreil.Value, op rreil.Operation) function.BasicBlock {
	t.Helper()
	stmt, err := rreil.Expression(assignee, op)
	require.NoError(t, err)
	m, err := rreil.NewMnemonic("test", rreil.Bound{Start: start, End: end}, nil, []rreil.Statement{stmt})
	require.NoError(t, err)
	return function.BasicBlock{Area: rreil.Bound{Start: start, End: end}, Mnemonics: []rreil.Mnemonic{m}}
}

// TestLivenessChain checks the UEvar sequence {s}, {i,s}, {i}, {i,s},
// {s} across five consecutive blocks of a small chain: a read-only move
// of s, an add of s and i, an add reading only i, an add of i and s, and
// a closing move of s.
func TestLivenessChain(t *testing.T) {
	s := mustVar(t, "s", 32)
	i := mustVar(t, "i", 32)
	tmp0 := mustVar(t, "t0", 32)
	tmp1 := mustVar(t, "t1", 32)
	tmp2 := mustVar(t, "t2", 32)
	tmp3 := mustVar(t, "t3", 32)
	tmp4 := mustVar(t, "t4", 32)

	op0, err := rreil.Unary(rreil.OpMove, s)
	require.NoError(t, err)
	op1, err := rreil.Binary(rreil.OpAdd, s, i)
	require.NoError(t, err)
	op2, err := rreil.Binary(rreil.OpAdd, i, i)
	require.NoError(t, err)
	op3, err := rreil.Binary(rreil.OpAdd, i, s)
	require.NoError(t, err)
	op4, err := rreil.Unary(rreil.OpMove, s)
	require.NoError(t, err)

	fn := function.New("chain", 0)
	fn.CFG.AddNode(function.Node{Kind: function.NodeResolved, Block: mustBlock(t, 0, 1, tmp0, op0)})
	fn.CFG.AddNode(function.Node{Kind: function.NodeResolved, Block: mustBlock(t, 1, 2, tmp1, op1)})
	fn.CFG.AddNode(function.Node{Kind: function.NodeResolved, Block: mustBlock(t, 2, 3, tmp2, op2)})
	fn.CFG.AddNode(function.Node{Kind: function.NodeResolved, Block: mustBlock(t, 3, 4, tmp3, op3)})
	fn.CFG.AddNode(function.Node{Kind: function.NodeResolved, Block: mustBlock(t, 4, 5, tmp4, op4)})
	fn.CFG.AddEdge(0, 1, rreil.True())
	fn.CFG.AddEdge(1, 2, rreil.True())
	fn.CFG.AddEdge(2, 3, rreil.True())
	fn.CFG.AddEdge(3, 4, rreil.True())

	l := graph.ComputeLiveness(fn)

	asSet := func(bb int) map[string]bool {
		out := map[string]bool{}
		if l.UEvar[bb] == nil {
			return out
		}
		for idx, ok := l.UEvar[bb].NextSet(0); ok; idx, ok = l.UEvar[bb].NextSet(idx + 1) {
			out[l.Variables[idx].Name] = true
		}
		return out
	}

	assert.Equal(t, map[string]bool{"s": true}, asSet(0))
	assert.Equal(t, map[string]bool{"s": true, "i": true}, asSet(1))
	assert.Equal(t, map[string]bool{"i": true}, asSet(2))
	assert.Equal(t, map[string]bool{"s": true, "i": true}, asSet(3))
	assert.Equal(t, map[string]bool{"s": true}, asSet(4))
}

// TestLivenessGuardReadsFlag checks that a relational Guard on an
// outgoing edge contributes an upward-exposed read of its flag
// variable.
func TestLivenessGuardReadsFlag(t *testing.T) {
	flag := mustVar(t, "f", 1)
	tmp := mustVar(t, "t", 32)
	c := mustVar(t, "c", 32)

	op, err := rreil.Unary(rreil.OpMove, c)
	require.NoError(t, err)

	fn := function.New("branch", 0)
	fn.CFG.AddNode(function.Node{Kind: function.NodeResolved, Block: mustBlock(t, 0, 1, tmp, op)})
	fn.CFG.AddNode(function.Node{Kind: function.NodeResolved, Block: mustBlock(t, 1, 2, tmp, op)})
	fn.CFG.AddEdge(0, 1, rreil.NewGuard(rreil.RelEqual, flag, flag))

	l := graph.ComputeLiveness(fn)
	require.NotNil(t, l.UEvar[0])
	found := false
	for idx, ok := l.UEvar[0].NextSet(0); ok; idx, ok = l.UEvar[0].NextSet(idx + 1) {
		if l.Variables[idx].Name == "f" {
			found = true
		}
	}
	assert.True(t, found)
}

// TestComputeGlobalsUnionsUEvar checks that Globals.Set is the union of
// every block's UEvar set.
func TestComputeGlobalsUnionsUEvar(t *testing.T) {
	s := mustVar(t, "s", 32)
	i := mustVar(t, "i", 32)
	tmp0 := mustVar(t, "t0", 32)
	tmp1 := mustVar(t, "t1", 32)

	op0, err := rreil.Unary(rreil.OpMove, s)
	require.NoError(t, err)
	op1, err := rreil.Unary(rreil.OpMove, i)
	require.NoError(t, err)

	fn := function.New("two", 0)
	fn.CFG.AddNode(function.Node{Kind: function.NodeResolved, Block: mustBlock(t, 0, 1, tmp0, op0)})
	fn.CFG.AddNode(function.Node{Kind: function.NodeResolved, Block: mustBlock(t, 1, 2, tmp1, op1)})
	fn.CFG.AddEdge(0, 1, rreil.True())

	l := graph.ComputeLiveness(fn)
	g := graph.ComputeGlobals(l)

	names := map[string]bool{}
	for idx, ok := g.Set.NextSet(0); ok; idx, ok = g.Set.NextSet(idx + 1) {
		names[g.Variables[idx].Name] = true
	}
	assert.Equal(t, map[string]bool{"s": true, "i": true}, names)
}
