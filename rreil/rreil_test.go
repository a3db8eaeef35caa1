package rreil_test

import (
	"bytes"
	"testing"

	"github.com/das-labor/panopticon/rreil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardNegationInvolution(t *testing.T) {
	a, err := rreil.NewVariable("a", 32)
	require.NoError(t, err)
	b, err := rreil.NewVariable("b", 32)
	require.NoError(t, err)

	guards := []rreil.Guard{
		rreil.True(),
		rreil.False(),
		rreil.NewGuard(rreil.RelLessOrEqualUnsigned, a, b),
		rreil.NewGuard(rreil.RelLessUnsigned, a, b),
		rreil.NewGuard(rreil.RelLessOrEqualSigned, a, b),
		rreil.NewGuard(rreil.RelLessSigned, a, b),
		rreil.NewGuard(rreil.RelEqual, a, b),
		rreil.NewGuard(rreil.RelNotEqual, a, b),
	}
	for _, g := range guards {
		assert.Equal(t, g, g.Negate().Negate())
	}
}

func TestGuardNegateOperandSwap(t *testing.T) {
	a, _ := rreil.NewVariable("a", 32)
	b, _ := rreil.NewVariable("b", 32)
	g := rreil.NewGuard(rreil.RelLessOrEqualUnsigned, a, b)
	neg := g.Negate()
	assert.Equal(t, rreil.RelLessUnsigned, neg.Relation)
	assert.True(t, neg.A.Equal(b))
	assert.True(t, neg.B.Equal(a))
}

func TestConstantWidthValidation(t *testing.T) {
	_, err := rreil.NewConst(256, 8)
	require.Error(t, err)

	v, err := rreil.NewConst(255, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(255), v.Val)
}

func TestBitcodeRoundTrip(t *testing.T) {
	sub := uint32(3)
	values := []rreil.Value{
		mustConst(t, 42, 32),
		mustVar(t, "eax", 32),
		rreil.Value{Kind: rreil.Var, Name: "t0", Width: 64, Sub: &sub},
		rreil.Undefined(),
	}

	var buf bytes.Buffer
	rreil.EncodeValues(&buf, values)

	r := bytes.NewReader(buf.Bytes())
	got, err := rreil.DecodeValues(r)
	require.NoError(t, err)
	require.Len(t, got, len(values))
	for i := range values {
		assert.True(t, values[i].Equal(got[i]), "value %d: %v != %v", i, values[i], got[i])
	}
}

func mustConst(t *testing.T, v uint64, w uint16) rreil.Value {
	t.Helper()
	val, err := rreil.NewConst(v, w)
	require.NoError(t, err)
	return val
}

func mustVar(t *testing.T, name string, w uint16) rreil.Value {
	t.Helper()
	val, err := rreil.NewVariable(name, w)
	require.NoError(t, err)
	return val
}

func TestOperationOperands(t *testing.T) {
	a := mustVar(t, "a", 32)
	b := mustVar(t, "b", 32)
	op, err := rreil.Binary(rreil.OpAdd, a, b)
	require.NoError(t, err)
	assert.Equal(t, []rreil.Value{a, b}, op.Operands())

	phi, err := rreil.PhiOf(a, b)
	require.NoError(t, err)
	assert.Equal(t, []rreil.Value{a, b}, phi.Operands())
}

func TestStatementDefinesAndUses(t *testing.T) {
	a := mustVar(t, "a", 32)
	b := mustVar(t, "b", 32)
	c := mustVar(t, "c", 32)
	op, err := rreil.Binary(rreil.OpAdd, b, c)
	require.NoError(t, err)
	stmt, err := rreil.Expression(a, op)
	require.NoError(t, err)

	def, ok := stmt.Defines()
	require.True(t, ok)
	assert.True(t, def.Equal(a))
	assert.Equal(t, []rreil.Value{b, c}, stmt.Uses())
}

func TestBitcodeStatementRoundTrip(t *testing.T) {
	eax := mustVar(t, "eax", 32)
	ebx := mustVar(t, "ebx", 32)
	flag := mustVar(t, "zf", 1)

	addOp, err := rreil.Binary(rreil.OpAdd, eax, ebx)
	require.NoError(t, err)
	addStmt, err := rreil.Expression(eax, addOp)
	require.NoError(t, err)

	cmpOp, err := rreil.Binary(rreil.OpCompareEqual, eax, mustConst(t, 0, 32))
	require.NoError(t, err)
	cmpStmt, err := rreil.Expression(flag, cmpOp)
	require.NoError(t, err)

	mem := rreil.Memory{Region: "ram", Bytes: 4, Endianess: rreil.LittleEndian, Offset: ebx}
	loadStmt, err := rreil.Expression(eax, rreil.LoadMem(mem))
	require.NoError(t, err)

	phi, err := rreil.PhiOf(eax, ebx, rreil.Undefined())
	require.NoError(t, err)
	phiStmt, err := rreil.Expression(eax, phi)
	require.NoError(t, err)

	stmts := []rreil.Statement{
		addStmt,
		cmpStmt,
		loadStmt,
		phiStmt,
		rreil.Call(0x400100),
		rreil.IndirectCall(ebx),
		rreil.Store(mem, eax),
		rreil.Return(),
	}

	data := rreil.EncodeStatements(stmts)
	it, err := rreil.NewBitcodeIter(data)
	require.NoError(t, err)
	require.Equal(t, len(stmts), it.Len())

	// Two passes over the same iterator: Reset rewinds without
	// re-reading the dictionary.
	for pass := 0; pass < 2; pass++ {
		for i := range stmts {
			got, ok, err := it.Next()
			require.NoError(t, err)
			require.True(t, ok, "pass %d statement %d", pass, i)
			assert.Equal(t, stmts[i], got, "pass %d statement %d", pass, i)
		}
		_, ok, err := it.Next()
		require.NoError(t, err)
		assert.False(t, ok)
		it.Reset()
	}
}

func TestParseFormatHolesAndLiterals(t *testing.T) {
	toks, err := rreil.ParseFormat("{u:32}, [{p:ram}]", 2)
	require.NoError(t, err)

	var holes []rreil.FormatToken
	var lits []rune
	for _, tok := range toks {
		if tok.Kind == rreil.TokenOperand {
			holes = append(holes, tok)
		} else {
			lits = append(lits, tok.Literal)
		}
	}
	require.Len(t, holes, 2)
	assert.Equal(t, uint16(32), holes[0].Width)
	assert.False(t, holes[0].Signed)
	assert.Equal(t, 0, holes[0].OpIndex)
	assert.Equal(t, "ram", holes[1].Alias)
	assert.Equal(t, 1, holes[1].OpIndex)
	assert.Equal(t, ", []", string(lits))
}

func TestParseFormatRejectsExcessHoles(t *testing.T) {
	_, err := rreil.ParseFormat("{u:8} {u:8}", 1)
	require.Error(t, err)
}

func TestMnemonicDisplaySignedHole(t *testing.T) {
	neg := mustConst(t, 0xff, 8) // -1 as a signed 8-bit immediate
	m, err := rreil.NewMnemonicFormat("add", rreil.Bound{Start: 0, End: 2}, "{s:8}", []rreil.Value{neg}, nil)
	require.NoError(t, err)
	assert.Equal(t, "add -1", m.Display())
}
