// Package fastpath implements the Fast Path worker tier: each Worker
// owns one flow table and one input queue, classifies flows from their
// payload, evaluates the rule set, and emits a forward/drop verdict.
package fastpath

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"dpisieve/internal/classify"
	"dpisieve/internal/flow"
	"dpisieve/internal/flowtable"
	"dpisieve/internal/ruleset"
	"dpisieve/internal/sniff"
	"dpisieve/internal/workitem"
	"dpisieve/internal/workqueue"
)

// Action is the verdict a worker reaches for one work item.
type Action uint8

const (
	Forward Action = iota
	Drop
)

// defaultIdleTimeout is how stale a flow must be before SweepStale
// removes it; the worker calls SweepStale on every queue-timeout tick
// rather than a separate ticker, mirroring the reference FastPath's
// "timeout on pop -> cleanupStale" pattern.
const defaultIdleTimeout = 300 * time.Second

// OutputFunc receives each work item together with its verdict. The
// engine wires this to the writer's queue for Forward and to a no-op
// (plus a counter bump) for Drop.
type OutputFunc func(item workitem.Item, action Action, reason ruleset.Reason)

// Worker processes one contiguous shard of flows, selected for it by a
// dispatcher's consistent hash.
type Worker struct {
	id         int
	input      *workqueue.Queue
	table      *flowtable.Table
	rules      *ruleset.Set
	idleTimeout time.Duration
	output     OutputFunc

	processed atomic.Uint64
	forwarded atomic.Uint64
	dropped   atomic.Uint64
	sniHits   atomic.Uint64
}

// New returns a worker with its own input queue and flow table. An
// idleTimeout of zero falls back to defaultIdleTimeout.
func New(id int, inputSize, flowTableSize int, idleTimeout time.Duration, rules *ruleset.Set, output OutputFunc) *Worker {
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	return &Worker{
		id:          id,
		input:       workqueue.New(inputSize),
		table:       flowtable.New(flowTableSize),
		rules:       rules,
		idleTimeout: idleTimeout,
		output:      output,
	}
}

// Input returns the queue a dispatcher pushes into for this worker.
func (w *Worker) Input() *workqueue.Queue { return w.input }

// Run drains the input queue until it shuts down and drains. Timeouts
// on the queue wait double as the idle-sweep trigger.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("worker %d started", w.id)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, ok, timedOut := w.input.PopTimeout(100 * time.Millisecond)
		if timedOut {
			removed := w.table.SweepStale(time.Now(), w.idleTimeout)
			if removed > 0 {
				log.Printf("worker %d swept %d stale flows", w.id, removed)
			}
			continue
		}
		if !ok {
			log.Printf("worker %d shutting down (processed=%d forwarded=%d dropped=%d)",
				w.id, w.processed.Load(), w.forwarded.Load(), w.dropped.Load())
			return
		}

		w.processItem(item)
	}
}

func (w *Worker) processItem(item workitem.Item) {
	now := time.Now()
	w.processed.Add(1)

	f := w.table.GetOrCreate(item.Tuple, now)
	w.table.Update(f, len(item.Data), now)

	if item.Tuple.Protocol == flow.ProtoTCP {
		w.table.UpdateTCPState(f, item.TCPFlags)
	}

	if f.State == flowtable.StateBlocked {
		w.emit(item, Drop, ruleset.Reason{})
		return
	}

	if !f.Classified && item.PayloadLength > 0 {
		w.inspectPayload(item, f)
	}

	reason, blocked := w.rules.ShouldBlock(item.Tuple.SrcIP, item.Tuple.DstPort, f.App, f.ServerName)
	if blocked {
		w.table.Block(f)
		ruleset.LogBlock(item.Tuple, reason)
		w.emit(item, Drop, reason)
		return
	}

	w.emit(item, Forward, ruleset.Reason{})
}

// inspectPayload runs the sniffers in the fixed order
// TLS -> HTTP -> DNS -> port fallback, stopping at first success. The
// TLS and HTTP gates use strict AND conditions on destination port and
// minimum payload length rather than the looser "port OR length"
// heuristic a reference implementation might use, so a stray long UDP
// datagram to an unrelated port is never mistaken for a ClientHello.
func (w *Worker) inspectPayload(item workitem.Item, f *flowtable.Flow) {
	payload := item.Payload()

	if item.Tuple.DstPort == 443 && len(payload) > 5 {
		if name, ok := sniff.TLSClientHelloSNI(payload); ok {
			w.sniHits.Add(1)
			w.table.Classify(f, classify.FromName(name), name)
			return
		}
	}

	if item.Tuple.DstPort == 80 && len(payload) > 10 {
		if host, ok := sniff.HTTPHost(payload); ok {
			w.table.Classify(f, classify.FromName(host), host)
			return
		}
	}

	if item.Tuple.DstPort == 53 || item.Tuple.SrcPort == 53 {
		if name, ok := sniff.DNSQueryName(payload); ok {
			w.table.Classify(f, classify.DNS, name)
			return
		}
	}

	switch item.Tuple.DstPort {
	case 80:
		w.table.SetTentativeApp(f, classify.HTTP)
	case 443:
		w.table.SetTentativeApp(f, classify.HTTPS)
	}
}

func (w *Worker) emit(item workitem.Item, action Action, reason ruleset.Reason) {
	if action == Forward {
		w.forwarded.Add(1)
	} else {
		w.dropped.Add(1)
	}
	if w.output != nil {
		w.output(item, action, reason)
	}
}

// Stats summarises this worker's lifetime counters and flow table.
type Stats struct {
	ID        int
	Processed uint64
	Forwarded uint64
	Dropped   uint64
	SNIHits   uint64
	Flows     flowtable.Stats
}

// Stats is safe to call from any goroutine concurrently with Run.
func (w *Worker) Stats() Stats {
	return Stats{
		ID:        w.id,
		Processed: w.processed.Load(),
		Forwarded: w.forwarded.Load(),
		Dropped:   w.dropped.Load(),
		SNIHits:   w.sniHits.Load(),
		Flows:     w.table.Stats(),
	}
}
