package session_test

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/das-labor/panopticon/function"
	"github.com/das-labor/panopticon/program"
	"github.com/das-labor/panopticon/region"
	"github.com/das-labor/panopticon/session"
)

func buildProject(t *testing.T) *session.Project {
	t.Helper()
	r := region.Wrap("base", []byte{0x90, 0x90, 0xc3})

	p := session.New("demo", r)
	p.SetComment("base", 0, "entry point")
	p.SetImportName(0x1000, "puts")

	fn := function.New("main", 0)
	fn.CFG.AddNode(function.Node{Kind: function.NodeResolved})

	prog := program.New("demo-binary")
	prog.Insert(fn)
	p.Code = append(p.Code, prog)

	return p
}

// regionBytesEqual compares two regions by their resolved byte content
// rather than reflecting over their unexported overlay stack, which is
// an implementation detail a session round trip need not preserve
// byte-for-byte (only the bytes it resolves to).
func regionBytesEqual(t *testing.T, a, b *region.Region) {
	t.Helper()
	require.Equal(t, a.Name(), b.Name())
	require.Equal(t, a.Size(), b.Size())
	want, ok := a.ReadAt(0, int(a.Size()))
	require.True(t, ok)
	got, ok := b.ReadAt(0, int(b.Size()))
	require.True(t, ok)
	require.Equal(t, want, got)
}

// TestSessionRoundTrip: a Project written to disk and read back
// compares equal to the one written.
func TestSessionRoundTrip(t *testing.T) {
	p := buildProject(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "session.panop")
	require.NoError(t, session.Save(p, path))

	got, err := session.Open(path)
	require.NoError(t, err)

	require.Equal(t, p.Name, got.Name)
	regionBytesEqual(t, p.Region(), got.Region())

	require.Equal(t, p.Data.Root, got.Data.Root)
	require.Equal(t, p.Data.Projection(), got.Data.Projection())

	require.Len(t, got.Code, len(p.Code))
	for i, wantProg := range p.Code {
		gotProg := got.Code[i]
		require.Equal(t, wantProg.Name, gotProg.Name)
		require.Equal(t, wantProg.UUID, gotProg.UUID)
		require.Len(t, gotProg.Graph.Nodes, len(wantProg.Graph.Nodes))
		for j, wantNode := range wantProg.Graph.Nodes {
			gotNode := gotProg.Graph.Nodes[j]
			require.Equal(t, wantNode.Kind, gotNode.Kind)
			if diff := cmp.Diff(wantNode.Function, gotNode.Function); diff != "" {
				t.Fatalf("function %d mismatch (-want +got):\n%s", j, diff)
			}
		}
	}

	c, ok := got.Comment("base", 0)
	require.True(t, ok)
	require.Equal(t, "entry point", c)

	name, ok := got.ImportName(0x1000)
	require.True(t, ok)
	require.Equal(t, "puts", name)
}

// TestSessionEncodeDecodeInMemory exercises the byte-buffer variant used
// by callers that do not want a temp file.
func TestSessionEncodeDecodeInMemory(t *testing.T) {
	p := buildProject(t)

	data, err := session.Encode(p)
	require.NoError(t, err)

	got, err := session.Decode(data)
	require.NoError(t, err)
	require.Equal(t, p.Name, got.Name)
	require.Len(t, got.Code, 1)

	c, ok := got.Comment("base", 0)
	require.True(t, ok)
	require.Equal(t, "entry point", c)

	name, ok := got.ImportName(0x1000)
	require.True(t, ok)
	require.Equal(t, "puts", name)
}

func TestSessionRejectsWrongMagic(t *testing.T) {
	_, err := session.Decode([]byte("not a panopticon session file!!"))
	require.Error(t, err)
}
