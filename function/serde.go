package function

import (
	"errors"

	"github.com/fxamacker/cbor/v2"

	"github.com/das-labor/panopticon/perror"
	"github.com/das-labor/panopticon/rreil"
)

// nodeSnapshot is Node's exported CBOR shape: FailErr is an interface
// the encoder cannot reflect over, so it travels as its message string
// and comes back as an opaque error.
type nodeSnapshot struct {
	Kind       NodeKind
	Block      BasicBlock
	FailedAt   uint64
	FailMsg    string
	Unresolved rreil.Value
}

// MarshalCBOR implements cbor.Marshaler so a Function's CFG can be
// embedded in a persisted session even when it contains Failed nodes.
func (n Node) MarshalCBOR() ([]byte, error) {
	snap := nodeSnapshot{Kind: n.Kind, Block: n.Block, FailedAt: n.FailedAt, Unresolved: n.Unresolved}
	if n.FailErr != nil {
		snap.FailMsg = n.FailErr.Error()
	}
	b, err := cbor.Marshal(snap)
	if err != nil {
		return nil, perror.Serde(err)
	}
	return b, nil
}

// UnmarshalCBOR implements cbor.Unmarshaler, the inverse of MarshalCBOR.
func (n *Node) UnmarshalCBOR(data []byte) error {
	var snap nodeSnapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return perror.Serde(err)
	}
	n.Kind = snap.Kind
	n.Block = snap.Block
	n.FailedAt = snap.FailedAt
	n.Unresolved = snap.Unresolved
	n.FailErr = nil
	if snap.FailMsg != "" {
		n.FailErr = errors.New(snap.FailMsg)
	}
	return nil
}
