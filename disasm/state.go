package disasm

import (
	"github.com/das-labor/panopticon/rreil"
)

// State carries one decode attempt's input tokens and accumulates its
// output: the Mnemonics lifted so far and the outgoing jumps/branches
// discovered along the way. Actions read Address/tokens/groups
// and call Mnemonic/Jump to produce output; NextMatch drives State
// through one or more Actions until a full instruction has been emitted
// or decoding fails.
type State struct {
	Address     uint64
	tokens      []uint64
	groups      map[string]uint64
	nextAddress uint64

	Mnemonics []rreil.Mnemonic
	Jumps     []Jump
}

// Jump records one outgoing control-flow edge discovered while
// decoding: a target (constant or symbolic Value) guarded by a Guard
// condition.
type Jump struct {
	Target rreil.Value
	Guard  rreil.Guard
}

// NewState creates a decode State at address addr over the given input
// tokens (one array entry per token already read from the Region).
func NewState(addr uint64, tokens []uint64) *State {
	return &State{Address: addr, tokens: tokens, nextAddress: addr}
}

// Mnemonic appends a decoded instruction of length len bytes named
// opcode, with the given operands and rreil statements, and advances the
// State's internal cursor so a following Mnemonic call in the same
// Action continues after it.
func (s *State) Mnemonic(length uint64, opcode string, operands []rreil.Value, stmts []rreil.Statement) error {
	area := rreil.Bound{Start: s.nextAddress, End: s.nextAddress + length}
	m, err := rreil.NewMnemonic(opcode, area, operands, stmts)
	if err != nil {
		return err
	}
	s.Mnemonics = append(s.Mnemonics, m)
	s.nextAddress += length
	return nil
}

// Jump records an outgoing edge from the instruction(s) decoded so far.
func (s *State) Jump(target rreil.Value, guard rreil.Guard) {
	s.Jumps = append(s.Jumps, Jump{Target: target, Guard: guard})
}

// NextAddress returns the address immediately following the last
// Mnemonic emitted (or Address if none have been emitted yet).
func (s *State) NextAddress() uint64 { return s.nextAddress }

// Token returns the i-th input token, used by actions that need the raw
// byte beyond what a capture group exposes (e.g. a full immediate byte).
func (s *State) Token(i int) (uint64, bool) {
	if i < 0 || i >= len(s.tokens) {
		return 0, false
	}
	return s.tokens[i], true
}

// TokenCount reports how many tokens are available to this decode
// attempt.
func (s *State) TokenCount() int { return len(s.tokens) }
