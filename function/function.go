package function

import (
	"github.com/google/uuid"
)

// Function is one analyzed procedure: its entry address, the CFG built
// from it by recursive descent, and the naming metadata a loader or the
// user may attach.
type Function struct {
	UUID    uuid.UUID
	Name    string
	Entry   uint64
	CFG     CFG
	Aliases []string

	// PLT holds the import-stub target name this function resolves to
	// when it is a Procedure Linkage Table trampoline, nil otherwise.
	// Neither the loader nor the CFG builder sets it.
	PLT *string
}

// New creates an (as yet empty) Function at the given entry address
// with a fresh identity, so two functions at the same address in
// different Projects never collide.
func New(name string, entry uint64) *Function {
	return &Function{
		UUID:  uuid.New(),
		Name:  name,
		Entry: entry,
	}
}

// EntryNode returns the CFG node index for the function's entry block,
// if the CFG has been built.
func (f *Function) EntryNode() (int, bool) {
	return f.CFG.NodeAt(f.Entry)
}
