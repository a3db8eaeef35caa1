// Package arch defines the architecture-adapter contract: each
// concrete ISA package plugs a token type, a configuration value, and a
// decode entry point into the function-builder's recursive-descent loop.
package arch

import (
	"github.com/das-labor/panopticon/disasm"
	"github.com/das-labor/panopticon/region"
)

// Decoder is the contract every per-ISA adapter satisfies:
// given a byte Region and an address, decode exactly one instruction
// (possibly composed of several rreil Mnemonics, e.g. an instruction
// prefix plus opcode), returning the disassembler State that records
// what was produced and which addresses to visit next.
//
// Name reports the architecture's identifier (e.g. "amd64", "avr") for
// logging and Project metadata. MaxInstructionLength is the longest
// encoding the adapter decodes, in bytes; the amd64 adapter uses it as
// the size of the window it reads at addr. The function builder does not
// call it.
type Decoder interface {
	Name() string
	MaxInstructionLength() uint64
	Decode(r *region.Region, addr uint64) (*disasm.State, error)
}
