package program_test

import (
	"context"
	"testing"
	"time"

	"github.com/das-labor/panopticon/arch/amd64"
	"github.com/das-labor/panopticon/function"
	"github.com/das-labor/panopticon/program"
	"github.com/das-labor/panopticon/region"
	"github.com/das-labor/panopticon/rreil"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertCreatesTodoForUnresolvedCall(t *testing.T) {
	code := []byte{
		0xe8, 0x00, 0x00, 0x00, 0x00, // 0: call +0 -> target 5 (itself isn't decoded yet)
	}
	r := region.Wrap("text", code)
	d := amd64.New(amd64.Config{Mode: amd64.Long})
	b := function.NewBuilder(d, r)
	fn := b.Build("caller", 0)

	p := program.New("test")
	todos := p.Insert(fn)

	require.Len(t, todos, 1)
	idx, ok := p.Graph.FindByUUID(todos[0])
	require.True(t, ok)
	assert.Equal(t, program.TargetTodo, p.Graph.Nodes[idx].Kind)
	assert.True(t, p.Graph.HasEdge(0, idx))
}

func TestInsertReplacesExistingNode(t *testing.T) {
	code := []byte{0xc3} // ret
	r := region.Wrap("text", code)
	d := amd64.New(amd64.Config{Mode: amd64.Long})
	b := function.NewBuilder(d, r)
	fn := b.Build("f", 0)

	p := program.New("test")
	p.Insert(fn)
	require.Len(t, p.Graph.Nodes, 1)

	// Re-inserting the same Function identity must update in place, not
	// append a second node.
	p.Insert(fn)
	assert.Len(t, p.Graph.Nodes, 1)
}

// TestCallTargetCBORRoundTripPreservesUUID guards a session round trip
// of a Program whose call graph still has Symbolic/Todo nodes:
// their identity lives in an unexported field, so encoding must go
// through CallTarget's own MarshalCBOR rather than default struct
// reflection or it would silently come back as the zero UUID.
func TestCallTargetCBORRoundTripPreservesUUID(t *testing.T) {
	sym := program.Symbolic("puts")
	target, err := rreil.NewConst(0x1000, 64)
	require.NoError(t, err)
	todo := program.NewTodo(target, "helper")

	for _, want := range []program.CallTarget{sym, todo} {
		data, err := cbor.Marshal(want)
		require.NoError(t, err)

		var got program.CallTarget
		require.NoError(t, cbor.Unmarshal(data, &got))

		assert.Equal(t, want.Kind, got.Kind)
		assert.Equal(t, want.UUID(), got.UUID())
	}
}

func TestDispatcherFollowsCallChain(t *testing.T) {
	code := make([]byte, 32)
	// 0: call 10 ; 5: ret
	copy(code[0:5], []byte{0xe8, 0x05, 0x00, 0x00, 0x00})
	code[5] = 0xc3
	// 10: ret
	code[10] = 0xc3

	r := region.Wrap("text", code)
	d := amd64.New(amd64.Config{Mode: amd64.Long})
	p := program.New("test")
	disp := program.NewDispatcher(d, r)
	disp.Workers = 2

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := disp.Run(ctx, p, []uint64{0})
	require.NoError(t, err)

	_, hasEntry := p.Graph.FindConcreteByEntry(0)
	_, hasCallee := p.Graph.FindConcreteByEntry(10)
	assert.True(t, hasEntry)
	assert.True(t, hasCallee)
}
