package absint

import (
	"github.com/das-labor/panopticon/domain"
	"github.com/das-labor/panopticon/rreil"
)

// RefineGuard narrows current using the knowledge that g holds on the
// edge carrying v into a Phi: an equality guard comparing v against a
// constant narrows v to
// that constant outright — the guard is ground truth about the branch
// actually taken, strictly more precise than anything execute alone
// could derive — so refinement here is a direct replacement rather
// than a join. A disequality guard can only narrow a bounded K-set, by
// dropping the excluded candidate (handled via a type assertion on the
// concrete domain, since excluding one element from an otherwise
// unconstrained value has no meaning for Constant). Any other relation,
// or a non-constant comparison, says nothing usable and leaves current
// untouched.
func RefineGuard[A domain.Value[A]](g rreil.Guard, v rreil.Value, current A, liftConst func(rreil.Value) A) (A, bool) {
	other, ok := guardedConstant(g, v)
	if !ok {
		return current, false
	}

	switch g.Relation {
	case rreil.RelEqual:
		return liftConst(other), true
	case rreil.RelNotEqual:
		if kc, ok := any(current).(domain.Kset); ok {
			refined := kc.Exclude(other.Val)
			return any(refined).(A), true
		}
		return current, false
	default:
		return current, false
	}
}

// guardedConstant reports the constant g compares v against, if g is a
// binary relation with v on one side and a literal on the other.
func guardedConstant(g rreil.Guard, v rreil.Value) (rreil.Value, bool) {
	switch {
	case v.IsVariable() && g.A.Equal(v) && g.B.IsConst():
		return g.B, true
	case v.IsVariable() && g.B.Equal(v) && g.A.IsConst():
		return g.A, true
	default:
		return rreil.Value{}, false
	}
}
