package domain

import (
	"sort"

	"github.com/das-labor/panopticon/rreil"
)

type ksetTag int

const (
	ksetBottom ksetTag = iota
	ksetSet
	ksetTop
)

// KsetElem is one concrete (value, width) pair a K-set may hold.
type KsetElem struct {
	Val   uint64
	Width uint16
}

// Kset is the finite-set domain used for jump-table recovery:
// a value is either unreached, a small set of the concrete values it
// might hold, or Top once the set would grow past the threshold K.
type Kset struct {
	tag   ksetTag
	elems []KsetElem // sorted, deduped, len <= k when tag == ksetSet
	k     int
}

// KsetBottom is the unreached element for a K-set domain thresholded at k.
func KsetBottom(k int) Kset { return Kset{tag: ksetBottom, k: k} }

// KsetTop is "could be any value", thresholded at k (k travels with the
// value so Combine/Widen of two Tops, or a Top meeting a Set, stays
// thresholded the same way).
func KsetTop(k int) Kset { return Kset{tag: ksetTop, k: k} }

// KsetOf builds a known finite set, collapsing to Top if it exceeds k
// elements.
func KsetOf(k int, elems ...KsetElem) Kset {
	sorted := sortDedupElems(elems)
	if len(sorted) > k {
		return KsetTop(k)
	}
	return Kset{tag: ksetSet, elems: sorted, k: k}
}

// KsetFromValue abstracts a literal as a singleton set, anything else as
// Top.
func KsetFromValue(k int, v rreil.Value) Kset {
	if v.IsConst() {
		return KsetOf(k, KsetElem{Val: v.Val, Width: v.Width})
	}
	return KsetTop(k)
}

func (c Kset) IsTop() bool    { return c.tag == ksetTop }
func (c Kset) IsBottom() bool { return c.tag == ksetBottom }

// Elements returns the concrete values c holds, if it is a bounded set.
func (c Kset) Elements() ([]KsetElem, bool) {
	if c.tag != ksetSet {
		return nil, false
	}
	return append([]KsetElem(nil), c.elems...), true
}

// Exclude removes val from a bounded set, the operation a `!=` guard
// uses to refine a branch's incoming K-set: excluding the only
// remaining candidate collapses the set to Bottom (that edge is
// actually unreachable); excluding from Top or Bottom is a no-op since
// neither carries a concrete candidate list to narrow.
func (c Kset) Exclude(val uint64) Kset {
	if c.tag != ksetSet {
		return c
	}
	var out []KsetElem
	for _, e := range c.elems {
		if e.Val != val {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return KsetBottom(c.k)
	}
	return Kset{tag: ksetSet, elems: out, k: c.k}
}

func (c Kset) Equal(o Kset) bool {
	if c.tag != o.tag {
		return false
	}
	if c.tag != ksetSet {
		return true
	}
	if len(c.elems) != len(o.elems) {
		return false
	}
	for i := range c.elems {
		if c.elems[i] != o.elems[i] {
			return false
		}
	}
	return true
}

func sortDedupElems(elems []KsetElem) []KsetElem {
	cp := append([]KsetElem(nil), elems...)
	sort.Slice(cp, func(i, j int) bool {
		if cp[i].Val != cp[j].Val {
			return cp[i].Val < cp[j].Val
		}
		return cp[i].Width < cp[j].Width
	})
	out := cp[:0]
	for i, e := range cp {
		if i == 0 || e != cp[i-1] {
			out = append(out, e)
		}
	}
	return out
}

func unionElems(a, b []KsetElem) []KsetElem {
	return sortDedupElems(append(append([]KsetElem(nil), a...), b...))
}

// Combine is the lattice join: set union, capped at k. Bottom is the
// identity; Top absorbs.
func (c Kset) Combine(o Kset) Kset {
	switch {
	case c.tag == ksetBottom:
		return o
	case o.tag == ksetBottom:
		return c
	case c.tag == ksetTop || o.tag == ksetTop:
		return KsetTop(c.k)
	default:
		merged := unionElems(c.elems, o.elems)
		if len(merged) > c.k {
			return KsetTop(c.k)
		}
		return Kset{tag: ksetSet, elems: merged, k: c.k}
	}
}

// Widen jumps straight to Top on any growth at all, not just growth
// past k: a back edge whose incoming set keeps adding new elements
// would otherwise take up to k iterations to saturate.
func (c Kset) Widen(o Kset) Kset {
	switch {
	case c.tag == ksetBottom:
		return o
	case o.tag == ksetBottom:
		return c
	case c.tag == ksetTop || o.tag == ksetTop:
		return KsetTop(c.k)
	default:
		merged := unionElems(c.elems, o.elems)
		if len(merged) > len(c.elems) {
			return KsetTop(c.k)
		}
		return c
	}
}

func ksetRank(c Kset) int {
	switch c.tag {
	case ksetBottom:
		return 0
	case ksetSet:
		return 1 + len(c.elems)
	default:
		return c.k + 2
	}
}

// IsBetter holds when c's rank (Bottom=0, a set ranked by its size, Top
// highest) is strictly greater than o's — the same bounded-ascent
// argument as Constant, just with k+2 instead of 3 levels.
func (c Kset) IsBetter(o Kset) bool {
	return ksetRank(c) > ksetRank(o)
}

// Execute evaluates op over the cross product of its operands' sets,
// collapsing to Top if the threshold is exceeded or any operand is Top;
// Bottom operands make the statement unreached.
func (c Kset) Execute(pp int, op rreil.Op, width uint16, args []Kset) Kset {
	if op == rreil.OpPhi {
		return combineAllKset(args)
	}
	for _, a := range args {
		if a.tag == ksetBottom {
			return KsetBottom(c.k)
		}
	}
	for _, a := range args {
		if a.tag == ksetTop {
			return KsetTop(c.k)
		}
	}

	mask := widthMask(width)
	switch op {
	case rreil.OpZeroExtend, rreil.OpSignExtend, rreil.OpMove, rreil.OpInitialize:
		return mapElems(c.k, args[0].elems, width, func(e KsetElem) (uint64, bool) {
			if op == rreil.OpSignExtend {
				return uint64(signExtendTo64(e.Val, e.Width)) & mask, true
			}
			return e.Val & mask, true
		})
	case rreil.OpSelect, rreil.OpLoad:
		return KsetTop(c.k)
	}

	return cartesian(c.k, args[0].elems, args[1].elems, width, func(a, b uint64) (uint64, bool) {
		switch op {
		case rreil.OpAdd:
			return (a + b) & mask, true
		case rreil.OpSubtract:
			return (a - b) & mask, true
		case rreil.OpMultiply:
			return (a * b) & mask, true
		case rreil.OpDivideUnsigned:
			if b == 0 {
				return 0, false
			}
			return a / b, true
		case rreil.OpDivideSigned:
			if b == 0 {
				return 0, false
			}
			sa, sb := signExtendTo64(a, args[0].elems[0].Width), signExtendTo64(b, args[1].elems[0].Width)
			return uint64(sa/sb) & mask, true
		case rreil.OpModulo:
			if b == 0 {
				return 0, false
			}
			return (a % b) & mask, true
		case rreil.OpShiftLeft:
			return (a << b) & mask, true
		case rreil.OpShiftRightUnsigned:
			return (a >> b) & mask, true
		case rreil.OpShiftRightSigned:
			return uint64(signExtendTo64(a, width)>>b) & mask, true
		case rreil.OpAnd:
			return a & b, true
		case rreil.OpOr:
			return a | b, true
		case rreil.OpXor:
			return a ^ b, true
		case rreil.OpCompareEqual:
			return boolElem(a == b), true
		case rreil.OpCompareNotEqual:
			return boolElem(a != b), true
		case rreil.OpCompareLessUnsigned:
			return boolElem(a < b), true
		case rreil.OpCompareLessOrEqualUnsigned:
			return boolElem(a <= b), true
		case rreil.OpCompareLessSigned:
			sa, sb := signExtendTo64(a, args[0].elems[0].Width), signExtendTo64(b, args[1].elems[0].Width)
			return boolElem(sa < sb), true
		case rreil.OpCompareLessOrEqualSigned:
			sa, sb := signExtendTo64(a, args[0].elems[0].Width), signExtendTo64(b, args[1].elems[0].Width)
			return boolElem(sa <= sb), true
		default:
			return 0, false
		}
	})
}

func boolElem(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func mapElems(k int, elems []KsetElem, width uint16, f func(KsetElem) (uint64, bool)) Kset {
	var out []KsetElem
	for _, e := range elems {
		v, ok := f(e)
		if !ok {
			continue
		}
		out = append(out, KsetElem{Val: v, Width: width})
	}
	if len(out) == 0 {
		return KsetBottom(k)
	}
	return KsetOf(k, out...)
}

func cartesian(k int, as, bs []KsetElem, width uint16, f func(a, b uint64) (uint64, bool)) Kset {
	var out []KsetElem
	for _, a := range as {
		for _, b := range bs {
			v, ok := f(a.Val, b.Val)
			if !ok {
				continue
			}
			out = append(out, KsetElem{Val: v, Width: width})
		}
	}
	if len(out) == 0 {
		return KsetBottom(k)
	}
	return KsetOf(k, out...)
}

func combineAllKset(args []Kset) Kset {
	if len(args) == 0 {
		return KsetBottom(0)
	}
	acc := args[0]
	for _, a := range args[1:] {
		acc = acc.Combine(a)
	}
	return acc
}
