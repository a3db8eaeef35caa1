package region

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/das-labor/panopticon/perror"
)

// The types below are never touched directly; they exist only so Layer,
// Region and World can round-trip through CBOR without exposing their
// internal fields.

type layerSnapshot struct {
	Kind   LayerKind
	Bytes  []byte
	Length uint64
	Sparse map[uint64]byte
}

func (l Layer) MarshalCBOR() ([]byte, error) {
	snap := layerSnapshot{Kind: l.kind, Bytes: l.bytes, Length: l.length, Sparse: l.sparse}
	b, err := cbor.Marshal(snap)
	if err != nil {
		return nil, perror.Serde(err)
	}
	return b, nil
}

func (l *Layer) UnmarshalCBOR(data []byte) error {
	var snap layerSnapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return perror.Serde(err)
	}
	l.kind = snap.Kind
	l.bytes = snap.Bytes
	l.length = snap.Length
	l.sparse = snap.Sparse
	return nil
}

type overlaySnapshot struct {
	Bound Bound
	Layer Layer
}

type regionSnapshot struct {
	Name     string
	Size     uint64
	Overlays []overlaySnapshot
}

// MarshalCBOR implements cbor.Marshaler so a Region can be embedded in a
// session.Project despite keeping its overlay stack unexported.
func (r *Region) MarshalCBOR() ([]byte, error) {
	snap := regionSnapshot{Name: r.name, Size: r.size}
	for _, ov := range r.overlays {
		snap.Overlays = append(snap.Overlays, overlaySnapshot{Bound: ov.bound, Layer: ov.layer})
	}
	b, err := cbor.Marshal(snap)
	if err != nil {
		return nil, perror.Serde(err)
	}
	return b, nil
}

// UnmarshalCBOR implements cbor.Unmarshaler, the inverse of MarshalCBOR.
func (r *Region) UnmarshalCBOR(data []byte) error {
	var snap regionSnapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return perror.Serde(err)
	}
	r.name = snap.Name
	r.size = snap.Size
	r.overlays = r.overlays[:0]
	for _, ov := range snap.Overlays {
		r.overlays = append(r.overlays, overlay{bound: ov.Bound, layer: ov.Layer})
	}
	return nil
}

type childEdgeSnapshot struct {
	Bound Bound
	Child string
}

type worldSnapshot struct {
	Root     string
	Regions  map[string]*Region
	Children map[string][]childEdgeSnapshot
}

// MarshalCBOR implements cbor.Marshaler so a World can be embedded in a
// session.Project despite keeping its region/overlay graph unexported.
func (w *World) MarshalCBOR() ([]byte, error) {
	snap := worldSnapshot{Root: w.Root, Regions: w.regions, Children: map[string][]childEdgeSnapshot{}}
	for parent, edges := range w.children {
		for _, e := range edges {
			snap.Children[parent] = append(snap.Children[parent], childEdgeSnapshot{Bound: e.bound, Child: e.child})
		}
	}
	b, err := cbor.Marshal(snap)
	if err != nil {
		return nil, perror.Serde(err)
	}
	return b, nil
}

// UnmarshalCBOR implements cbor.Unmarshaler, the inverse of MarshalCBOR.
func (w *World) UnmarshalCBOR(data []byte) error {
	var snap worldSnapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return perror.Serde(err)
	}
	w.Root = snap.Root
	w.regions = snap.Regions
	w.children = map[string][]childEdge{}
	for parent, edges := range snap.Children {
		for _, e := range edges {
			w.children[parent] = append(w.children[parent], childEdge{bound: e.Bound, child: e.Child})
		}
	}
	return nil
}
