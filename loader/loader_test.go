package loader_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/das-labor/panopticon/loader"
)

// buildMinimalELF64 assembles a tiny valid ELF64 executable: one
// PT_LOAD segment covering payload at vaddr, no sections, no symbol
// table — just enough for debug/elf.Open to parse successfully.
func buildMinimalELF64(t *testing.T, machine uint16, entry, vaddr uint64, payload []byte) []byte {
	t.Helper()
	const ehsize = 64
	const phentsize = 56

	var buf bytes.Buffer

	ident := [16]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0}
	buf.Write(ident[:])
	binary.Write(&buf, binary.LittleEndian, uint16(2)) // e_type = ET_EXEC
	binary.Write(&buf, binary.LittleEndian, machine)   // e_machine
	binary.Write(&buf, binary.LittleEndian, uint32(1)) // e_version
	binary.Write(&buf, binary.LittleEndian, entry)
	binary.Write(&buf, binary.LittleEndian, uint64(ehsize)) // e_phoff
	binary.Write(&buf, binary.LittleEndian, uint64(0))      // e_shoff
	binary.Write(&buf, binary.LittleEndian, uint32(0))      // e_flags
	binary.Write(&buf, binary.LittleEndian, uint16(ehsize))
	binary.Write(&buf, binary.LittleEndian, uint16(phentsize))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // e_phnum
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shentsize
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shnum
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shstrndx

	require.Equal(t, ehsize, buf.Len())

	off := uint64(ehsize + phentsize)
	binary.Write(&buf, binary.LittleEndian, uint32(1)) // p_type = PT_LOAD
	binary.Write(&buf, binary.LittleEndian, uint32(5)) // p_flags = R+X
	binary.Write(&buf, binary.LittleEndian, off)        // p_offset
	binary.Write(&buf, binary.LittleEndian, vaddr)       // p_vaddr
	binary.Write(&buf, binary.LittleEndian, vaddr)       // p_paddr
	binary.Write(&buf, binary.LittleEndian, uint64(len(payload)))
	binary.Write(&buf, binary.LittleEndian, uint64(len(payload)))
	binary.Write(&buf, binary.LittleEndian, uint64(0x1000)) // p_align

	buf.Write(payload)

	return buf.Bytes()
}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoadELFAmd64BuildsEntryTodo(t *testing.T) {
	const entry, vaddr = 0x401000, 0x400000
	payload := []byte{0x90, 0x90, 0xc3}
	path := writeTemp(t, "tiny", buildMinimalELF64(t, 62 /* EM_X86_64 */, entry, vaddr, payload))

	proj, machine, err := loader.Load(path)
	require.NoError(t, err)
	assert.Equal(t, loader.Amd64, machine)
	require.Len(t, proj.Code, 1)
	require.Len(t, proj.Code[0].Graph.Nodes, 1)

	c, ok := proj.Comment("RAM", entry)
	assert.True(t, ok)
	assert.Equal(t, "main", c)

	region := proj.Region()
	data, ok := region.ReadAt(vaddr, len(payload))
	require.True(t, ok)
	assert.Equal(t, payload, data)
}

func TestLoadRejectsUnknownMagic(t *testing.T) {
	path := writeTemp(t, "junk", []byte("not an object file at all"))
	_, _, err := loader.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnsupportedMachine(t *testing.T) {
	path := writeTemp(t, "tiny", buildMinimalELF64(t, 0xbeef, 0x1000, 0x1000, []byte{1}))
	_, _, err := loader.Load(path)
	require.Error(t, err)
}
