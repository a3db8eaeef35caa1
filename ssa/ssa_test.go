package ssa_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/das-labor/panopticon/function"
	"github.com/das-labor/panopticon/rreil"
	"github.com/das-labor/panopticon/ssa"
)

func mustVar(t *testing.T, name string, width uint16) rreil.Value {
	t.Helper()
	v, err := rreil.NewVariable(name, width)
	require.NoError(t, err)
	return v
}

func mustConst(t *testing.T, val uint64, width uint16) rreil.Value {
	t.Helper()
	v, err := rreil.NewConst(val, width)
	require.NoError(t, err)
	return v
}

func exprBlock(t *testing.T, start, end uint64, assignee rreil.Value, op rreil.Operation) function.BasicBlock {
	t.Helper()
	stmt, err := rreil.Expression(assignee, op)
	require.NoError(t, err)
	m, err := rreil.NewMnemonic("test", rreil.Bound{Start: start, End: end}, nil, []rreil.Statement{stmt})
	require.NoError(t, err)
	return function.BasicBlock{Area: rreil.Bound{Start: start, End: end}, Mnemonics: []rreil.Mnemonic{m}}
}

// TestLiftInsertsPhiAtDiamondMerge builds a diamond: entry defines x,
// branches to two paths (one reads x unchanged, the other redefines
// it), and both merge into a block that reads x again. Lift must place
// a phi for x at the merge block and thread distinct subscripts through
// each path.
func TestLiftInsertsPhiAtDiamondMerge(t *testing.T) {
	x := mustVar(t, "x", 32)
	y := mustVar(t, "y", 32)
	z := mustVar(t, "z", 32)

	opEntry, err := rreil.Unary(rreil.OpMove, mustConst(t, 1, 32))
	require.NoError(t, err)
	opBlock1, err := rreil.Binary(rreil.OpAdd, x, mustConst(t, 1, 32))
	require.NoError(t, err)
	opBlock2, err := rreil.Unary(rreil.OpMove, mustConst(t, 2, 32))
	require.NoError(t, err)
	opMerge, err := rreil.Unary(rreil.OpMove, x)
	require.NoError(t, err)

	fn := function.New("diamond", 0)
	fn.CFG.AddNode(function.Node{Kind: function.NodeResolved, Block: exprBlock(t, 0, 1, x, opEntry)})   // 0 entry
	fn.CFG.AddNode(function.Node{Kind: function.NodeResolved, Block: exprBlock(t, 1, 2, y, opBlock1)})  // 1 then
	fn.CFG.AddNode(function.Node{Kind: function.NodeResolved, Block: exprBlock(t, 2, 3, x, opBlock2)})  // 2 else
	fn.CFG.AddNode(function.Node{Kind: function.NodeResolved, Block: exprBlock(t, 3, 4, z, opMerge)})   // 3 merge
	fn.CFG.AddEdge(0, 1, rreil.NewGuard(rreil.RelEqual, x, x))
	fn.CFG.AddEdge(0, 2, rreil.NewGuard(rreil.RelNotEqual, x, x))
	fn.CFG.AddEdge(1, 3, rreil.True())
	fn.CFG.AddEdge(2, 3, rreil.True())

	ssa.Lift(fn)

	entryAssignee, ok := fn.CFG.Nodes[0].Block.Mnemonics[0].Statements[0].Defines()
	require.True(t, ok)
	require.NotNil(t, entryAssignee.Sub)
	assert.Equal(t, uint32(0), *entryAssignee.Sub)

	block2Assignee, ok := fn.CFG.Nodes[2].Block.Mnemonics[0].Statements[0].Defines()
	require.True(t, ok)
	require.NotNil(t, block2Assignee.Sub)
	assert.Equal(t, uint32(1), *block2Assignee.Sub)

	// merge block must now have a prepended phi mnemonic for x, ahead
	// of the original "z := x" statement.
	mergeBlock := fn.CFG.Nodes[3].Block
	require.Len(t, mergeBlock.Mnemonics, 2)
	assert.Equal(t, "phi", mergeBlock.Mnemonics[0].Opcode)
	phiStmt := mergeBlock.Mnemonics[0].Statements[0]
	assert.Equal(t, rreil.OpPhi, phiStmt.Operation.Op)
	require.Len(t, phiStmt.Operation.Args, 2)

	subs := map[uint32]bool{}
	for _, arg := range phiStmt.Operation.Args {
		require.True(t, arg.IsVariable())
		require.NotNil(t, arg.Sub)
		subs[*arg.Sub] = true
	}
	assert.Equal(t, map[uint32]bool{0: true, 1: true}, subs)

	// The merge block's own "z := x" statement must now read the phi's
	// freshly subscripted result, not either branch's definition.
	mergeStmt := mergeBlock.Mnemonics[1].Statements[0]
	require.Len(t, mergeStmt.Operation.Operands(), 1)
	used := mergeStmt.Operation.Operands()[0]
	require.NotNil(t, used.Sub)
	assert.Equal(t, uint32(2), *used.Sub)

	// The branch guards out of the entry block read x too, and must be
	// renamed to the definition reaching the end of that block, so
	// guard-based refinement can later match them against the phi's
	// subscripted arguments.
	for _, e := range fn.CFG.Edges {
		if e.From != 0 {
			continue
		}
		for _, v := range []rreil.Value{e.Guard.A, e.Guard.B} {
			require.True(t, v.IsVariable())
			require.NotNil(t, v.Sub)
			assert.Equal(t, uint32(0), *v.Sub)
		}
	}
}

// TestLiftRenamesLocalWithoutPhi ensures a variable defined and
// used only within one block (never a Globals member) gets no phi and
// is still renamed to a fresh subscript at its one definition.
func TestLiftRenamesLocalWithoutPhi(t *testing.T) {
	a := mustVar(t, "a", 32)
	b := mustVar(t, "b", 32)

	op, err := rreil.Unary(rreil.OpMove, mustConst(t, 5, 32))
	require.NoError(t, err)
	stmt1, err := rreil.Expression(a, op)
	require.NoError(t, err)
	op2, err := rreil.Unary(rreil.OpMove, a)
	require.NoError(t, err)
	stmt2, err := rreil.Expression(b, op2)
	require.NoError(t, err)

	m, err := rreil.NewMnemonic("test", rreil.Bound{Start: 0, End: 1}, nil, []rreil.Statement{stmt1, stmt2})
	require.NoError(t, err)

	fn := function.New("single", 0)
	fn.CFG.AddNode(function.Node{Kind: function.NodeResolved, Block: function.BasicBlock{
		Area:      rreil.Bound{Start: 0, End: 1},
		Mnemonics: []rreil.Mnemonic{m},
	}})

	ssa.Lift(fn)

	stmts := fn.CFG.Nodes[0].Block.Mnemonics[0].Statements
	def1, _ := stmts[0].Defines()
	assert.Equal(t, uint32(0), *def1.Sub)
	used := stmts[1].Operation.Operands()[0]
	assert.Equal(t, uint32(0), *used.Sub)
}
