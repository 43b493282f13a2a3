// Package engine wires the reader, dispatcher tier, worker tier, and
// writer into a single pipeline and manages their startup and shutdown
// order.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"dpisieve/internal/dispatch"
	"dpisieve/internal/fastpath"
	"dpisieve/internal/reader"
	"dpisieve/internal/ruleset"
	"dpisieve/internal/workitem"
	"dpisieve/internal/workqueue"
	"dpisieve/internal/writer"
)

// Config tunes the pipeline's shape. Zero values fall back to the same
// defaults the individual tiers use on their own.
type Config struct {
	Dispatchers   int           // L: number of Load Balancer goroutines
	WorkersPerLB  int           // W_lb: workers owned by each dispatcher
	QueueSize     int           // bound on every dispatcher/worker/output queue
	FlowTableSize int           // per-worker flow table capacity
	FlowIdle      time.Duration // idle timeout before a flow is swept
}

func (c Config) workerCount() int { return c.Dispatchers * c.WorkersPerLB }

// Engine owns every goroutine in the pipeline plus the shared rule set
// and aggregate run statistics.
type Engine struct {
	cfg    Config
	rules  *ruleset.Set
	reader *reader.Reader
	writer *writer.Writer

	dispatchers []*dispatch.Dispatcher
	workers     []*fastpath.Worker

	outputQueue *workqueue.Queue

	cancel context.CancelFunc
	wg     sync.WaitGroup
	ready  atomic.Bool
}

// New constructs the full pipeline against src/sink, but starts nothing.
// Call Start to begin processing and Stop to drain it in order.
func New(cfg Config, rules *ruleset.Set, src reader.Source, sink writer.Sink) *Engine {
	if cfg.Dispatchers <= 0 {
		cfg.Dispatchers = 2
	}
	if cfg.WorkersPerLB <= 0 {
		cfg.WorkersPerLB = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10_000
	}

	e := &Engine{cfg: cfg, rules: rules}
	e.outputQueue = workqueue.New(cfg.QueueSize)
	e.writer = writer.New(sink, e.outputQueue)

	// Workers are constructed first, each owning its own input queue and
	// flow table, then sliced contiguously across the dispatchers that
	// will feed them — the same order the reference DPIEngine builds
	// FastPath objects before the LoadBalancers that own slices of them.
	e.workers = make([]*fastpath.Worker, e.cfg.workerCount())
	for i := range e.workers {
		e.workers[i] = fastpath.New(i, cfg.QueueSize, cfg.FlowTableSize, cfg.FlowIdle, rules, e.onVerdict)
	}

	e.dispatchers = make([]*dispatch.Dispatcher, cfg.Dispatchers)
	for i := range e.dispatchers {
		lo := i * cfg.WorkersPerLB
		hi := lo + cfg.WorkersPerLB
		owned := make([]*workqueue.Queue, 0, cfg.WorkersPerLB)
		for _, w := range e.workers[lo:hi] {
			owned = append(owned, w.Input())
		}
		e.dispatchers[i] = dispatch.New(i, cfg.QueueSize, owned)
	}

	dispatcherQueues := make([]*workqueue.Queue, len(e.dispatchers))
	for i, d := range e.dispatchers {
		dispatcherQueues[i] = d.Input()
	}
	e.reader = reader.New(src, dispatcherQueues)

	return e
}

// onVerdict is every worker's OutputFunc: forwarded frames go on the
// single output queue for the writer, dropped frames are just counted.
func (e *Engine) onVerdict(item workitem.Item, action fastpath.Action, _ ruleset.Reason) {
	if action == fastpath.Forward {
		e.outputQueue.Push(item)
	}
}

// Start brings up the writer, then every worker, then every dispatcher —
// consumers before producers, so nothing is ever pushed into a queue
// with no one yet reading it. The reader itself is driven synchronously
// by Run, not started here.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.writer.WriteHeader(e.reader.Header()); err != nil {
		return fmt.Errorf("engine: writing output header: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.writer.Run(ctx)
	}()

	for _, w := range e.workers {
		e.wg.Add(1)
		go func(w *fastpath.Worker) {
			defer e.wg.Done()
			w.Run(ctx)
		}(w)
	}

	for _, d := range e.dispatchers {
		e.wg.Add(1)
		go func(d *dispatch.Dispatcher) {
			defer e.wg.Done()
			d.Run(ctx)
		}(d)
	}

	e.ready.Store(true)
	log.Printf("engine started: %d dispatchers, %d workers", len(e.dispatchers), len(e.workers))
	return nil
}

// Ready reports whether Start has launched every writer/worker/dispatcher
// goroutine. The status endpoint's liveness probe gates on this instead of
// always answering 200, so a client can't observe success before the
// pipeline exists.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// Run drains the configured source to completion, feeding the pipeline
// started by Start. It returns once the source is exhausted or errors;
// the caller must still call Stop to drain and shut down cleanly.
func (e *Engine) Run() error {
	return e.reader.Run()
}

// Stop drains the pipeline in dependency order: dispatcher input queues
// first (so the reader's work finishes flowing through), then worker
// input queues, then the output queue — each shut down only once every
// queue that feeds it has drained and its goroutines have returned. This
// replaces the reference implementation's fixed 500ms sleep before
// shutdown with an actual drain-then-signal sequence.
func (e *Engine) Stop() {
	for _, d := range e.dispatchers {
		d.Input().Shutdown()
	}
	e.waitDispatchers()

	for _, w := range e.workers {
		w.Input().Shutdown()
	}
	e.waitWorkers()

	e.outputQueue.Shutdown()

	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.ready.Store(false)

	final := e.Stats()
	log.Printf("engine stopped: forwarded=%d dropped=%d", final.Forwarded, final.Dropped)
}

// waitDispatchers blocks until every dispatcher input queue has drained.
// Dispatchers themselves exit their Run loop once Shutdown is observed
// and the queue is empty; this just waits for that to have happened by
// polling queue depth, since the WaitGroup covers all tiers at once and
// can't be waited on per-tier.
func (e *Engine) waitDispatchers() {
	for _, d := range e.dispatchers {
		for d.Input().Len() > 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func (e *Engine) waitWorkers() {
	for _, w := range e.workers {
		for w.Input().Len() > 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// Stats aggregates per-tier counters for the status endpoint and event
// sink. Every counter behind it is atomic, so this is safe to call from
// any goroutine at any point in the pipeline's life, including
// concurrently with a live Run/Start.
type Stats struct {
	Forwarded   uint64
	Dropped     uint64
	Reader      reader.Stats
	Dispatchers []dispatch.Stats
	Workers     []fastpath.Stats
	Rules       ruleset.Stats
	Written     uint64
}

func (e *Engine) Stats() Stats {
	s := Stats{
		Reader:  e.reader.Stats(),
		Rules:   e.rules.Stats(),
		Written: e.writer.Written(),
	}
	for _, d := range e.dispatchers {
		s.Dispatchers = append(s.Dispatchers, d.Stats())
	}
	for _, w := range e.workers {
		ws := w.Stats()
		s.Workers = append(s.Workers, ws)
		s.Forwarded += ws.Forwarded
		s.Dropped += ws.Dropped
	}
	return s
}
