package absint_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/das-labor/panopticon/absint"
	"github.com/das-labor/panopticon/domain"
	"github.com/das-labor/panopticon/function"
	"github.com/das-labor/panopticon/rreil"
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

func constantLift(v rreil.Value) domain.Constant { return domain.ConstantFromValue(v) }

// TestApproximateConstantFixedPoint builds t0 := 2; t1 := t0 + 3 as
// already-subscripted SSA values and checks the fixed-point loop
// resolves t1 to the exact constant 5.
func TestApproximateConstantFixedPoint(t *testing.T) {
	t0 := mustVar(t, "t0", 32).Subscripted(0)
	t1 := mustVar(t, "t1", 32).Subscripted(0)

	opMove, err := rreil.Unary(rreil.OpMove, mustConst(t, 2, 32))
	require.NoError(t, err)
	stmt0, err := rreil.Expression(t0, opMove)
	require.NoError(t, err)

	opAdd, err := rreil.Binary(rreil.OpAdd, t0, mustConst(t, 3, 32))
	require.NoError(t, err)
	stmt1, err := rreil.Expression(t1, opAdd)
	require.NoError(t, err)

	m, err := rreil.NewMnemonic("test", rreil.Bound{Start: 0, End: 1}, nil, []rreil.Statement{stmt0, stmt1})
	require.NoError(t, err)

	fn := function.New("const", 0)
	fn.CFG.AddNode(function.Node{Kind: function.NodeResolved, Block: function.BasicBlock{
		Area:      rreil.Bound{Start: 0, End: 1},
		Mnemonics: []rreil.Mnemonic{m},
	}})

	approx := absint.Approximate[domain.Constant](fn, constantLift, domain.ConstantBottom())
	v, ok := approx.Get(1).Value()
	assert.True(t, ok)
	assert.Equal(t, uint64(5), v)
}

// TestApproximateDivergingBranchGoesTop builds a diamond where each arm
// defines x to a different constant and a merge Phi combines them; the
// result must be Top, not either constant, since the two paths disagree.
func TestApproximateDivergingBranchGoesTop(t *testing.T) {
	xThen := mustVar(t, "x", 32).Subscripted(0)
	xElse := mustVar(t, "x", 32).Subscripted(1)
	xPhi := mustVar(t, "x", 32).Subscripted(2)

	opThen, err := rreil.Unary(rreil.OpMove, mustConst(t, 1, 32))
	require.NoError(t, err)
	stmtThen, err := rreil.Expression(xThen, opThen)
	require.NoError(t, err)

	opElse, err := rreil.Unary(rreil.OpMove, mustConst(t, 2, 32))
	require.NoError(t, err)
	stmtElse, err := rreil.Expression(xElse, opElse)
	require.NoError(t, err)

	phiOp, err := rreil.PhiOf(xThen, xElse)
	require.NoError(t, err)
	stmtPhi, err := rreil.Expression(xPhi, phiOp)
	require.NoError(t, err)

	mThen, err := rreil.NewMnemonic("m", rreil.Bound{Start: 1, End: 2}, nil, []rreil.Statement{stmtThen})
	require.NoError(t, err)
	mElse, err := rreil.NewMnemonic("m", rreil.Bound{Start: 2, End: 3}, nil, []rreil.Statement{stmtElse})
	require.NoError(t, err)
	mPhi, err := rreil.NewMnemonic("phi", rreil.Bound{Start: 3, End: 3}, nil, []rreil.Statement{stmtPhi})
	require.NoError(t, err)

	fn := function.New("diamond", 0)
	fn.CFG.AddNode(function.Node{Kind: function.NodeResolved, Block: function.BasicBlock{
		Area: rreil.Bound{Start: 0, End: 1},
	}})
	fn.CFG.AddNode(function.Node{Kind: function.NodeResolved, Block: function.BasicBlock{
		Area: rreil.Bound{Start: 1, End: 2}, Mnemonics: []rreil.Mnemonic{mThen},
	}})
	fn.CFG.AddNode(function.Node{Kind: function.NodeResolved, Block: function.BasicBlock{
		Area: rreil.Bound{Start: 2, End: 3}, Mnemonics: []rreil.Mnemonic{mElse},
	}})
	fn.CFG.AddNode(function.Node{Kind: function.NodeResolved, Block: function.BasicBlock{
		Area: rreil.Bound{Start: 3, End: 4}, Mnemonics: []rreil.Mnemonic{mPhi},
	}})
	fn.CFG.AddEdge(0, 1, rreil.NewGuard(rreil.RelEqual, mustVar(t, "c", 1), mustConst(t, 1, 1)))
	fn.CFG.AddEdge(0, 2, rreil.NewGuard(rreil.RelNotEqual, mustVar(t, "c", 1), mustConst(t, 1, 1)))
	fn.CFG.AddEdge(1, 3, rreil.True())
	fn.CFG.AddEdge(2, 3, rreil.True())

	approx := absint.Approximate[domain.Constant](fn, constantLift, domain.ConstantBottom())
	assert.True(t, approx.Get(2).IsTop())
}

// TestRefineGuardEqualityNarrowsConstant: an `x == c` guard replaces an
// unconstrained value with the singleton constant c.
func TestRefineGuardEqualityNarrowsConstant(t *testing.T) {
	x := mustVar(t, "x", 32)
	guard := rreil.NewGuard(rreil.RelEqual, x, mustConst(t, 0, 32))

	refined, ok := absint.RefineGuard(guard, x, domain.ConstantTop(), constantLift)
	assert.True(t, ok)
	v, isVal := refined.Value()
	assert.True(t, isVal)
	assert.Equal(t, uint64(0), v)
}

// TestRefineGuardKsetBranch: x injected as {0,1}, refined on the true
// edge of `x == 0` to {0} and on the false edge to {1}.
func TestRefineGuardKsetBranch(t *testing.T) {
	const k = 4
	x := mustVar(t, "x", 32)
	base := domain.KsetOf(k, domain.KsetElem{Val: 0, Width: 32}, domain.KsetElem{Val: 1, Width: 32})
	liftK := func(v rreil.Value) domain.Kset { return domain.KsetFromValue(k, v) }

	trueGuard := rreil.NewGuard(rreil.RelEqual, x, mustConst(t, 0, 32))
	trueRefined, ok := absint.RefineGuard(trueGuard, x, base, liftK)
	require.True(t, ok)
	trueElems, _ := trueRefined.Elements()
	assert.Equal(t, []domain.KsetElem{{Val: 0, Width: 32}}, trueElems)

	falseGuard := trueGuard.Negate()
	falseRefined, ok := absint.RefineGuard(falseGuard, x, base, liftK)
	require.True(t, ok)
	falseElems, _ := falseRefined.Elements()
	assert.Equal(t, []domain.KsetElem{{Val: 1, Width: 32}}, falseElems)
}

// TestSchedulerSupersedesOlderTask schedules two runs for the same
// function back to back. The older run is dropped if it is still running
// when the newer one supersedes it, but it may already have delivered,
// so one or two results arrive; the scheduler must drain cleanly.
func TestSchedulerSupersedesOlderTask(t *testing.T) {
	t0 := mustVar(t, "t0", 32).Subscripted(0)
	opMove, err := rreil.Unary(rreil.OpMove, mustConst(t, 7, 32))
	require.NoError(t, err)
	stmt0, err := rreil.Expression(t0, opMove)
	require.NoError(t, err)
	m, err := rreil.NewMnemonic("test", rreil.Bound{Start: 0, End: 1}, nil, []rreil.Statement{stmt0})
	require.NoError(t, err)

	fn := function.New("sched", 0)
	fn.CFG.AddNode(function.Node{Kind: function.NodeResolved, Block: function.BasicBlock{
		Area:      rreil.Bound{Start: 0, End: 1},
		Mnemonics: []rreil.Mnemonic{m},
	}})

	sched := absint.NewScheduler()
	var mu sync.Mutex
	var results []*absint.Approximation[domain.Constant]
	deliver := func(a *absint.Approximation[domain.Constant]) {
		mu.Lock()
		results = append(results, a)
		mu.Unlock()
	}

	absint.Schedule[domain.Constant](sched, fn, constantLift, domain.ConstantBottom(), deliver)
	absint.Schedule[domain.Constant](sched, fn, constantLift, domain.ConstantBottom(), deliver)
	sched.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, results)
	require.LessOrEqual(t, len(results), 2)
	v, ok := results[len(results)-1].Get(0).Value()
	require.True(t, ok)
	require.Equal(t, uint64(7), v)
}
