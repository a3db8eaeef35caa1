package program

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/das-labor/panopticon/arch"
	"github.com/das-labor/panopticon/function"
	"github.com/das-labor/panopticon/region"
	"github.com/das-labor/panopticon/ssa"
)

// Dispatcher drives concurrent recursive-descent disassembly across a
// Program's call graph: seed addresses are built into Functions by a
// bounded pool of workers, and every newly discovered constant-address
// Todo feeds back into the same queue until none remain.
type Dispatcher struct {
	Decoder arch.Decoder
	Region  *region.Region
	Workers int

	Log *logrus.Logger
}

// NewDispatcher builds a Dispatcher with a default logger and worker
// count if unset.
func NewDispatcher(dec arch.Decoder, r *region.Region) *Dispatcher {
	return &Dispatcher{Decoder: dec, Region: r, Workers: 4, Log: logrus.StandardLogger()}
}

// Run builds a Function at each of seeds, inserts it into prog, and
// keeps following any new constant-address call targets discovered
// along the way until the graph stops growing or ctx is cancelled. The
// work queue is a channel of capacity 10; every newly discovered address
// is sent on its own goroutine, so a full queue parks that goroutine
// rather than a worker, and the number of pending sends is not bounded.
func (d *Dispatcher) Run(ctx context.Context, prog *Program, seeds []uint64) error {
	const queueCapacity = 10

	workers := d.Workers
	if workers <= 0 {
		workers = 1
	}
	log := d.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	var mu sync.Mutex
	visited := map[uint64]bool{}
	jobs := make(chan uint64, queueCapacity)
	var wg sync.WaitGroup

	// enqueue hands addr to the bounded job queue without blocking the
	// caller: a worker mid-process that discovers several new call
	// targets must stay free to keep draining jobs itself, so the
	// actual channel send happens on its own goroutine rather than
	// inline — otherwise every worker could end up parked trying to
	// send into a full queue with none left to receive.
	enqueue := func(addr uint64) {
		mu.Lock()
		if visited[addr] {
			mu.Unlock()
			return
		}
		visited[addr] = true
		mu.Unlock()
		wg.Add(1)
		go func() { jobs <- addr }()
	}

	for _, s := range seeds {
		enqueue(s)
	}

	closed := make(chan struct{})
	go func() {
		wg.Wait()
		close(jobs)
		close(closed)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case addr, ok := <-jobs:
					if !ok {
						return nil
					}
					d.process(log, prog, &mu, addr, enqueue)
					wg.Done()
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		})
	}

	err := g.Wait()
	<-closed
	return err
}

// process builds one Function at addr and folds it into prog, queueing
// any freshly discovered constant call targets.
func (d *Dispatcher) process(log *logrus.Logger, prog *Program, mu *sync.Mutex, addr uint64, enqueue func(uint64)) {
	log.WithField("address", fmt.Sprintf("0x%x", addr)).Debug("building function")

	b := function.NewBuilder(d.Decoder, d.Region)
	fn := b.Build(fmt.Sprintf("fn_%x", addr), addr)

	if idx, ok := fn.EntryNode(); ok && fn.CFG.Nodes[idx].Kind == function.NodeFailed {
		log.WithField("address", fmt.Sprintf("0x%x", addr)).Warn("entry point failed to decode")
	}

	ssa.Lift(fn)

	mu.Lock()
	newUUIDs := prog.Insert(fn)
	var newTargets []uint64
	for _, id := range newUUIDs {
		idx, ok := prog.Graph.FindByUUID(id)
		if !ok {
			continue
		}
		node := prog.Graph.Nodes[idx]
		if node.Kind == TargetTodo && node.TodoTarget.IsConst() {
			newTargets = append(newTargets, node.TodoTarget.Val)
		}
	}
	mu.Unlock()

	for _, t := range newTargets {
		enqueue(t)
	}
}
