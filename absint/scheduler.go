package absint

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/das-labor/panopticon/domain"
	"github.com/das-labor/panopticon/function"
	"github.com/das-labor/panopticon/rreil"
)

// Scheduler runs abstract interpretation on worker goroutines, keyed by
// function UUID: at most one task per function is live, and scheduling
// a newer task for the same function supersedes the old one, which
// observes cancellation between fixed-point passes and is dropped
// without delivering a result.
type Scheduler struct {
	mu   sync.Mutex
	live map[uuid.UUID]*atomic.Bool
	wg   sync.WaitGroup
}

// NewScheduler creates an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{live: map[uuid.UUID]*atomic.Bool{}}
}

// claim registers a fresh cancellation flag for id, cancelling any task
// already running for it.
func (s *Scheduler) claim(id uuid.UUID) *atomic.Bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.live[id]; ok {
		prev.Store(true)
	}
	flag := &atomic.Bool{}
	s.live[id] = flag
	return flag
}

// release drops id's entry if flag is still the current one.
func (s *Scheduler) release(id uuid.UUID, flag *atomic.Bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live[id] == flag {
		delete(s.live, id)
	}
}

// Wait blocks until every scheduled task has finished or been dropped.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Schedule queues fn for abstract interpretation under sched,
// superseding any task already running for fn's UUID. done is called
// with the result when (and only when) the run completes without being
// superseded. Schedule is a package function rather than a Scheduler
// method because methods cannot carry their own type parameters.
func Schedule[A domain.Value[A]](sched *Scheduler, fn *function.Function, liftConst func(rreil.Value) A, bottom A, done func(*Approximation[A])) {
	flag := sched.claim(fn.UUID)
	sched.wg.Add(1)
	go func() {
		defer sched.wg.Done()
		defer sched.release(fn.UUID, flag)
		result := approximate(fn, liftConst, bottom, flag)
		if result == nil || flag.Load() {
			return
		}
		done(result)
	}()
}
