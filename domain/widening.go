package domain

import "github.com/das-labor/panopticon/rreil"

// Widening wraps a child domain with the program point at which its
// value was produced (Mihaila et al.'s widening-point inferring
// cofibered domain). At a Phi, if any incoming value's point is no
// earlier than the Phi's own point — meaning it arrived along a back
// edge — the merge uses Widen instead of Combine, which is what
// guarantees the fixed-point loop terminates even when the child
// domain has infinite ascending chains (K-set without a wrapper only
// terminates because Combine itself is capped at K; Widening makes
// that safety net unnecessary by converging in one pass).
type Widening[A Value[A]] struct {
	value A
	point *int
}

// NewWidening lifts a freshly constructed child value with no known
// program point yet.
func NewWidening[A Value[A]](v A) Widening[A] {
	return Widening[A]{value: v}
}

// Unwrap returns the wrapped child value.
func (w Widening[A]) Unwrap() A { return w.value }

func (w Widening[A]) Combine(o Widening[A]) Widening[A] {
	return Widening[A]{value: w.value.Combine(o.value), point: w.point}
}

func (w Widening[A]) Widen(o Widening[A]) Widening[A] {
	return Widening[A]{value: w.value.Widen(o.value), point: w.point}
}

func (w Widening[A]) IsBetter(o Widening[A]) bool {
	return w.value.IsBetter(o.value)
}

// Execute special-cases Phi to decide combine vs. widen from the
// operands' program points, then otherwise delegates to the child
// domain's Execute and stamps the result with pp.
func (w Widening[A]) Execute(pp int, op rreil.Op, width uint16, args []Widening[A]) Widening[A] {
	if op == rreil.OpPhi {
		if len(args) == 0 {
			var zero Widening[A]
			return zero
		}
		// An argument with no recorded point yet (a constant, or a
		// variable never executed) carries no information about where
		// it came from and is not a back edge. Only an argument whose
		// point is at or after the phi's own point — including a
		// self-referential loop variable whose only definition is this
		// same phi — is one.
		widen := false
		for _, a := range args {
			if a.point != nil && *a.point >= pp {
				widen = true
				break
			}
		}

		acc := args[0]
		for _, a := range args[1:] {
			if widen {
				acc = acc.Widen(a)
			} else {
				acc = acc.Combine(a)
			}
		}
		pt := pp
		return Widening[A]{value: acc.value, point: &pt}
	}

	plain := make([]A, len(args))
	for i, a := range args {
		plain[i] = a.value
	}
	var receiver A
	if len(plain) > 0 {
		receiver = plain[0]
	}
	result := receiver.Execute(pp, op, width, plain)
	pt := pp
	return Widening[A]{value: result, point: &pt}
}
