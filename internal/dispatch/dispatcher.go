// Package dispatch implements the Load Balancer tier: one Dispatcher per
// goroutine, each owning a contiguous slice of worker queues and routing
// every work item to one of them by hashing its five-tuple.
package dispatch

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"dpisieve/internal/tuplehash"
	"dpisieve/internal/workqueue"
)

// Dispatcher consumes its own input queue and fans work out to the
// workers it owns.
type Dispatcher struct {
	id       int
	input    *workqueue.Queue
	workers  []*workqueue.Queue

	received   atomic.Uint64
	dispatched atomic.Uint64
	perWorker  []atomic.Uint64
}

// New returns a dispatcher with its own input queue, owning workers
// (a contiguous slice assigned by the caller).
func New(id int, inputSize int, workers []*workqueue.Queue) *Dispatcher {
	return &Dispatcher{
		id:        id,
		input:     workqueue.New(inputSize),
		workers:   workers,
		perWorker: make([]atomic.Uint64, len(workers)),
	}
}

// Input returns the queue the reader pushes into for this dispatcher.
func (d *Dispatcher) Input() *workqueue.Queue { return d.input }

// Run drains the input queue until ctx is cancelled or the queue shuts
// down and drains. PopTimeout's 100ms wait mirrors the reference
// LoadBalancer::run's popWithTimeout poll, giving Run a cheap place to
// notice ctx cancellation without a second channel.
func (d *Dispatcher) Run(ctx context.Context) {
	log.Printf("dispatcher %d started, serving %d workers", d.id, len(d.workers))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, ok, timedOut := d.input.PopTimeout(100 * time.Millisecond)
		if timedOut {
			continue
		}
		if !ok {
			log.Printf("dispatcher %d shutting down", d.id)
			return
		}

		d.received.Add(1)
		idx := tuplehash.Mod(item.Tuple, len(d.workers))
		d.workers[idx].Push(item)
		d.dispatched.Add(1)
		d.perWorker[idx].Add(1)
	}
}

// Stats summarises this dispatcher's lifetime counters.
type Stats struct {
	ID         int
	Received   uint64
	Dispatched uint64
	PerWorker  []uint64
}

// Stats is safe to call from any goroutine concurrently with Run.
func (d *Dispatcher) Stats() Stats {
	perWorker := make([]uint64, len(d.perWorker))
	for i := range d.perWorker {
		perWorker[i] = d.perWorker[i].Load()
	}
	return Stats{ID: d.id, Received: d.received.Load(), Dispatched: d.dispatched.Load(), PerWorker: perWorker}
}
