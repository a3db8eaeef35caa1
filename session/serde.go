package session

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/das-labor/panopticon/perror"
	"github.com/das-labor/panopticon/program"
	"github.com/das-labor/panopticon/region"
)

// projectSnapshot is the exported CBOR shape of a Project: comments keys
// a Go map directly on a struct (commentKey), since CBOR, unlike JSON,
// does not require map keys to be strings.
type projectSnapshot struct {
	Name     string
	Code     []*program.Program
	Data     *region.World
	Comments map[commentKey]string
	Imports  map[uint64]string
}

// MarshalCBOR implements cbor.Marshaler.
func (p *Project) MarshalCBOR() ([]byte, error) {
	snap := projectSnapshot{
		Name:     p.Name,
		Code:     p.Code,
		Data:     p.Data,
		Comments: p.comments,
		Imports:  p.imports,
	}
	b, err := cbor.Marshal(snap)
	if err != nil {
		return nil, perror.Serde(err)
	}
	return b, nil
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (p *Project) UnmarshalCBOR(data []byte) error {
	var snap projectSnapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return perror.Serde(err)
	}
	p.Name = snap.Name
	p.Code = snap.Code
	p.Data = snap.Data
	p.comments = snap.Comments
	if p.comments == nil {
		p.comments = map[commentKey]string{}
	}
	p.imports = snap.Imports
	if p.imports == nil {
		p.imports = map[uint64]string{}
	}
	return nil
}
