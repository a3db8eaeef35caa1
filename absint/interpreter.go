package absint

import (
	"sync/atomic"

	"github.com/das-labor/panopticon/domain"
	"github.com/das-labor/panopticon/function"
	"github.com/das-labor/panopticon/rreil"
)

// Approximation holds one abstract value per lifted statement, indexed
// by its program point.
type Approximation[A domain.Value[A]] struct {
	values []A
}

// Get returns the current abstraction at program point pp.
func (a *Approximation[A]) Get(pp int) A { return a.values[pp] }

// Approximate runs the fixed-point loop over fn's SSA form:
// starting every statement at bottom, it repeatedly re-executes every
// lifted statement and keeps the result only when IsBetter reports
// progress, until a full pass makes no change. liftConst abstracts a
// literal rreil.Value (the domain's own constructor, since
// domain.Value[A] has no "from" method of its own — Constant's and
// Kset's constructors take a threshold/no extra state Widening's don't,
// so the caller supplies the right one). bottom is the starting value
// for every statement, letting the caller carry domain configuration
// (e.g. a K-set's threshold) that a zero A value would not.
//
// At every Phi, each incoming value is first refined against its
// predecessor edge's Guard (RefineGuard) before the domain's Execute
// combines or widens them, implementing "Constraint propagation".
func Approximate[A domain.Value[A]](fn *function.Function, liftConst func(rreil.Value) A, bottom A) *Approximation[A] {
	return approximate(fn, liftConst, bottom, nil)
}

// approximate is Approximate plus an optional cancellation flag checked
// between full passes; a cancelled run returns nil.
func approximate[A domain.Value[A]](fn *function.Function, liftConst func(rreil.Value) A, bottom A, cancelled *atomic.Bool) *Approximation[A] {
	stmts := lift(fn)
	values := make([]A, len(stmts))
	for i := range values {
		values[i] = bottom
	}

	resolve := func(p proxy) A {
		if p.isConst {
			return liftConst(p.orig)
		}
		return values[p.index]
	}

	for {
		if cancelled != nil && cancelled.Load() {
			return nil
		}
		changed := false
		for _, s := range stmts {
			args := make([]A, len(s.args))
			for i, p := range s.args {
				v := resolve(p)
				if s.guards != nil {
					if refined, ok := RefineGuard(s.guards[i], p.orig, v, liftConst); ok {
						v = refined
					}
				}
				args[i] = v
			}
			receiver := bottom
			if len(args) > 0 {
				receiver = args[0]
			}
			next := receiver.Execute(s.pp, s.op, s.width, args)
			if next.IsBetter(values[s.pp]) {
				values[s.pp] = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	return &Approximation[A]{values: values}
}
