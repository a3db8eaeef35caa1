// Package region models Panopticon's addressable byte image: a Region is
// a named [0,size) address space built by overlaying Layers, and a World
// is a graph of Regions that overlay or alias one another.
package region

import (
	"os"
	"sort"

	"github.com/das-labor/panopticon/perror"
)

// Bound is a half-open integer range [Start, End).
type Bound struct {
	Start uint64
	End   uint64
}

// NewBound constructs a Bound, swapping start/end if given in reverse.
func NewBound(start, end uint64) Bound {
	if end < start {
		start, end = end, start
	}
	return Bound{Start: start, End: end}
}

// Len returns the number of addresses covered by b.
func (b Bound) Len() uint64 { return b.End - b.Start }

// Contains reports whether addr lies in [Start,End).
func (b Bound) Contains(addr uint64) bool { return addr >= b.Start && addr < b.End }

// Overlaps reports whether b and o share any address.
func (b Bound) Overlaps(o Bound) bool { return b.Start < o.End && o.Start < b.End }

// LayerKind discriminates the three Layer shapes.
type LayerKind int

const (
	// LayerOpaque is a concrete byte block.
	LayerOpaque LayerKind = iota
	// LayerUndefined is an undefined block of known length.
	LayerUndefined
	// LayerSparse is a writable overlay mapping address to byte.
	LayerSparse
)

// Layer is one of the three overlay shapes: an opaque concrete
// byte block, an undefined block of known length, or a sparse
// address-keyed overlay.
type Layer struct {
	kind   LayerKind
	bytes  []byte
	length uint64
	sparse map[uint64]byte
}

// WrapLayer builds an opaque Layer from concrete bytes.
func WrapLayer(bytes []byte) Layer {
	return Layer{kind: LayerOpaque, bytes: bytes}
}

// UndefinedLayer builds an undefined Layer of the given length.
func UndefinedLayer(length uint64) Layer {
	return Layer{kind: LayerUndefined, length: length}
}

// SparseLayer builds a writable address->byte overlay.
func SparseLayer() Layer {
	return Layer{kind: LayerSparse, sparse: make(map[uint64]byte)}
}

// Len reports the Layer's length in bytes.
func (l Layer) Len() uint64 {
	switch l.kind {
	case LayerOpaque:
		return uint64(len(l.bytes))
	case LayerUndefined:
		return l.length
	default:
		// A sparse layer has no fixed length; callers size it by the
		// Bound it covers.
		return 0
	}
}

// At returns the byte at offset off within the layer, or (0, false) if the
// layer has no defined value there (undefined layer, or unset sparse
// entry).
func (l Layer) At(off uint64) (byte, bool) {
	switch l.kind {
	case LayerOpaque:
		if off >= uint64(len(l.bytes)) {
			return 0, false
		}
		return l.bytes[off], true
	case LayerSparse:
		b, ok := l.sparse[off]
		return b, ok
	default:
		return 0, false
	}
}

// Set writes a byte into a sparse layer. No-op on other layer kinds.
func (l Layer) Set(off uint64, b byte) {
	if l.kind == LayerSparse {
		l.sparse[off] = b
	}
}

// overlay pairs a Bound with the Layer covering it; later overlays in a
// Region's slice shadow earlier ones at overlapping addresses
// (topmost overlay wins).
type overlay struct {
	bound Bound
	layer Layer
}

// Region is a named byte address space of the given size, built by
// overlaying ranges with concrete or undefined Layers.
type Region struct {
	name     string
	size     uint64
	overlays []overlay
}

// Open loads file bytes at offset 0 into a new Region named name.
func Open(name string, path string) (*Region, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, perror.Io(err)
	}
	r := &Region{name: name, size: uint64(len(data))}
	if err := r.Cover(NewBound(0, uint64(len(data))), WrapLayer(data)); err != nil {
		return nil, err
	}
	return r, nil
}

// Wrap builds a Region named name whose entire extent is the given bytes.
func Wrap(name string, bytes []byte) *Region {
	r := &Region{name: name, size: uint64(len(bytes))}
	_ = r.Cover(NewBound(0, uint64(len(bytes))), WrapLayer(bytes))
	return r
}

// Undefined builds a Region named name consisting of length undefined
// bytes.
func Undefined(name string, length uint64) *Region {
	r := &Region{name: name, size: length}
	_ = r.Cover(NewBound(0, length), UndefinedLayer(length))
	return r
}

// Name returns the region's name.
func (r *Region) Name() string { return r.name }

// Size returns the region's size in bytes.
func (r *Region) Size() uint64 { return r.size }

// Cover overlays layer at bound. It fails if bound.End exceeds the
// region's size, or if an opaque layer's length does not match the
// bound's length. Later covers shadow earlier ones at overlapping
// addresses.
func (r *Region) Cover(bound Bound, layer Layer) error {
	if bound.End > r.size {
		return &perror.RegionOutOfBoundsError{Region: r.name, Start: bound.Start, End: bound.End, Size: r.size}
	}
	if layer.kind == LayerOpaque && uint64(len(layer.bytes)) != bound.Len() {
		return &perror.OverlayMismatchError{Region: r.name, BoundLen: bound.Len(), LayerLen: len(layer.bytes)}
	}
	r.overlays = append(r.overlays, overlay{bound: bound, layer: layer})
	return nil
}

// Iter returns a lazy sequence of optional bytes starting at addr,
// resolved top-down through the overlay stack: the topmost overlay
// covering an address wins, and addresses outside every overlay are nil.
func (r *Region) Iter(addr uint64) *Iterator {
	return &Iterator{region: r, pos: addr}
}

// Iterator is a lazy cursor over a Region's bytes starting at some
// address, yielding exactly size-addr items.
type Iterator struct {
	region *Region
	pos    uint64
}

// Next returns the byte at the current position (or nil if undefined),
// and advances. ok is false once the cursor has passed the region's end.
func (it *Iterator) Next() (b *byte, ok bool) {
	if it.pos >= it.region.size {
		return nil, false
	}
	val := it.region.resolve(it.pos)
	it.pos++
	return val, true
}

// Remaining returns size - pos, the number of items Next will still yield.
func (it *Iterator) Remaining() uint64 {
	if it.pos >= it.region.size {
		return 0
	}
	return it.region.size - it.pos
}

// Peek reads count bytes starting at the iterator's current position
// without advancing, returning nil for undefined positions. Used by
// disassembler token sources that need random-access lookahead.
func (it *Iterator) Peek(count int) []*byte {
	out := make([]*byte, count)
	for i := 0; i < count; i++ {
		out[i] = it.region.resolve(it.pos + uint64(i))
	}
	return out
}

// resolve finds the topmost overlay covering addr and returns its byte,
// or nil if no overlay defines a value there.
func (r *Region) resolve(addr uint64) *byte {
	for i := len(r.overlays) - 1; i >= 0; i-- {
		ov := r.overlays[i]
		if !ov.bound.Contains(addr) {
			continue
		}
		off := addr - ov.bound.Start
		if v, ok := ov.layer.At(off); ok {
			return &v
		}
		// This overlay covers addr but leaves it undefined (e.g. an
		// undefined layer, or an unset sparse slot). The topmost
		// covering overlay wins even when it yields no byte, so stop
		// here rather than falling through to an older overlay.
		return nil
	}
	return nil
}

// ReadAt reads count bytes starting at addr, stopping early (returning a
// shorter slice) if any byte is undefined. Convenience for architecture
// adapters that need a contiguous concrete window.
func (r *Region) ReadAt(addr uint64, count int) ([]byte, bool) {
	var out []byte
	for i := 0; i < count; i++ {
		b := r.resolve(addr + uint64(i))
		if b == nil {
			break
		}
		out = append(out, *b)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// World represents a graph of Regions that overlay or alias one another
// (e.g. a decompressed view of an archived segment). Edges point from an
// overlaying region to the region it overlays, labelled with the Bound of
// the overlaid area.
type World struct {
	Root      string
	regions   map[string]*Region
	children  map[string][]childEdge
}

type childEdge struct {
	bound Bound
	child string
}

// NewWorld creates a World rooted at a single Region.
func NewWorld(root *Region) *World {
	w := &World{Root: root.Name(), regions: map[string]*Region{root.Name(): root}, children: map[string][]childEdge{}}
	return w
}

// AddRegion registers an additional Region in the world, not yet linked
// to any parent.
func (w *World) AddRegion(r *Region) { w.regions[r.Name()] = r }

// Overlay records that parent overlays child across bound: the region
// named child is only visible through the "window" bound cut out of
// parent's linear address space (e.g. a decompressed archive member).
func (w *World) Overlay(parent string, bound Bound, child string) {
	w.children[parent] = append(w.children[parent], childEdge{bound: bound, child: child})
}

// Region looks up a region by name.
func (w *World) Region(name string) (*Region, bool) {
	r, ok := w.regions[name]
	return r, ok
}

// Projection flattens the world to a list of (Bound, regionName) in
// address order with no gap and no overlap, used by the disassembler to
// iterate contiguous bytes across overlaid regions: a depth-first walk
// of the overlay graph that, between each pair of consecutive outgoing
// edges (sorted by start address), emits the free space in the parent
// as belonging to the parent itself.
func (w *World) Projection() []struct {
	Bound  Bound
	Region string
} {
	var ret []struct {
		Bound  Bound
		Region string
	}
	visited := map[string]bool{}
	var step func(name string)
	step = func(name string) {
		reg, ok := w.regions[name]
		if !ok {
			return
		}
		edges := append([]childEdge(nil), w.children[name]...)
		sort.Slice(edges, func(i, j int) bool { return edges[i].bound.Start < edges[j].bound.Start })

		var last uint64
		for _, e := range edges {
			if last < e.bound.Start {
				ret = append(ret, struct {
					Bound  Bound
					Region string
				}{NewBound(last, e.bound.Start), name})
			}
			last = e.bound.End
			if !visited[e.child] {
				visited[e.child] = true
				step(e.child)
			}
		}
		if last < reg.Size() {
			ret = append(ret, struct {
				Bound  Bound
				Region string
			}{NewBound(last, reg.Size()), name})
		}
	}
	if len(w.regions) > 0 {
		step(w.Root)
	}
	return ret
}
