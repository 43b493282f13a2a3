// Package workqueue implements a bounded FIFO queue of work items with
// explicit shutdown, grounded on the reference implementation's
// ThreadSafeQueue<T>: a mutex plus two condition variables (not-empty
// for consumers, not-full for producers), a timed pop so idle consumers
// can run periodic housekeeping instead of blocking forever, and a
// shutdown flag that wakes every waiter.
//
// Go's buffered channels give FIFO ordering and blocking push/pop for
// free, but they don't expose a distinct "not full" wait a producer can
// time out on, nor a clean multi-waiter shutdown signal without closing
// the channel out from under in-flight sends — so this is a genuine
// condition-variable queue rather than a channel wrapper, matching the
// reference semantics byte-for-byte rather than approximating them.
package workqueue

import (
	"sync"
	"time"

	"dpisieve/internal/workitem"
)

// Queue is a bounded FIFO of workitem.Item values.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []workitem.Item
	maxSize  int
	shutdown bool

	pushed  uint64
	popped  uint64
	dropped uint64
}

// New returns a queue that blocks producers once it holds maxSize items.
func New(maxSize int) *Queue {
	if maxSize <= 0 {
		maxSize = 10_000
	}
	q := &Queue{maxSize: maxSize}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push blocks until there is room, the queue shuts down, or the item is
// accepted. Pushing after shutdown silently drops the item (the
// reference queue's push() returns without inserting once shutdown_ is
// set) and counts it as dropped.
func (q *Queue) Push(item workitem.Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) >= q.maxSize && !q.shutdown {
		q.notFull.Wait()
	}
	if q.shutdown {
		q.dropped++
		return
	}
	q.items = append(q.items, item)
	q.pushed++
	q.notEmpty.Signal()
}

// TryPush attempts a non-blocking push, returning false if the queue is
// full or shut down.
func (q *Queue) TryPush(item workitem.Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shutdown || len(q.items) >= q.maxSize {
		return false
	}
	q.items = append(q.items, item)
	q.pushed++
	q.notEmpty.Signal()
	return true
}

// Pop blocks until an item is available or the queue is shut down and
// drained, in which case ok is false.
func (q *Queue) Pop() (item workitem.Item, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.shutdown {
		q.notEmpty.Wait()
	}
	return q.popLocked()
}

// PopTimeout blocks for at most timeout waiting for an item. timedOut is
// true when the wait expired with nothing available; the caller is
// expected to run housekeeping (e.g. a flow-table sweep) and call again,
// matching the reference queue's popWithTimeout usage in FastPath's
// run loop.
func (q *Queue) PopTimeout(timeout time.Duration) (item workitem.Item, ok bool, timedOut bool) {
	deadline := time.Now().Add(timeout)

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.shutdown {
		remaining := deadline.Sub(time.Now())
		if remaining <= 0 {
			return workitem.Item{}, false, true
		}
		timer := time.AfterFunc(remaining, func() {
			q.mu.Lock()
			q.notEmpty.Broadcast()
			q.mu.Unlock()
		})
		q.notEmpty.Wait()
		timer.Stop()
		if time.Now().After(deadline) && len(q.items) == 0 && !q.shutdown {
			return workitem.Item{}, false, true
		}
	}

	item, ok = q.popLocked()
	return item, ok, false
}

func (q *Queue) popLocked() (workitem.Item, bool) {
	if len(q.items) == 0 {
		return workitem.Item{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	q.popped++
	q.notFull.Signal()
	return item, true
}

// Shutdown wakes every waiter; producers blocked in Push drop their item
// and return, consumers blocked in Pop/PopTimeout drain whatever remains
// and then return ok == false.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.shutdown = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats reports lifetime push/pop/drop counts, for the dispatcher's
// distribution tracking and the status endpoint.
type Stats struct {
	Pushed  uint64
	Popped  uint64
	Dropped uint64
	Depth   int
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Pushed: q.pushed, Popped: q.popped, Dropped: q.dropped, Depth: len(q.items)}
}
