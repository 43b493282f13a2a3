// Package flowtable holds the per-worker map from five-tuple to flow
// record. A Table is owned by exactly one worker goroutine — the
// consistent-hash dispatch upstream guarantees that — so the map itself
// holds no lock. Its summary counters are atomics anyway, since the
// status endpoint reads Stats() from a different goroutine while the
// owner keeps mutating the table underneath it.
package flowtable

import (
	"sync/atomic"
	"time"

	"dpisieve/internal/classify"
	"dpisieve/internal/flow"
)

// State is a flow's coarse lifecycle stage.
type State uint8

const (
	StateNew State = iota
	StateEstablished
	StateClassified
	StateBlocked
	StateClosed
)

// Flow is one tracked connection, owned by a single worker.
type Flow struct {
	Tuple      flow.Tuple
	State      State
	App        classify.App
	ServerName string
	Classified bool

	PacketsIn  uint64
	BytesIn    uint64

	FirstSeen time.Time
	LastSeen  time.Time

	SynSeen    bool
	SynAckSeen bool
	FinSeen    bool
}

// Table is a bounded, LRU-evicting map of flows for one worker.
type Table struct {
	flows   map[flow.Tuple]*Flow
	maxSize int

	active          atomic.Int64
	totalSeen       atomic.Uint64
	classifiedCount atomic.Uint64
	blockedCount    atomic.Uint64
}

// New returns an empty table capped at maxSize entries.
func New(maxSize int) *Table {
	if maxSize <= 0 {
		maxSize = 100_000
	}
	return &Table{flows: make(map[flow.Tuple]*Flow), maxSize: maxSize}
}

// GetOrCreate returns the existing flow for t, or creates one, evicting
// the oldest entry by LastSeen first if the table is at capacity.
func (tb *Table) GetOrCreate(t flow.Tuple, now time.Time) *Flow {
	if f, ok := tb.flows[t]; ok {
		return f
	}

	if len(tb.flows) >= tb.maxSize {
		tb.evictOldest()
	}

	f := &Flow{Tuple: t, State: StateNew, FirstSeen: now, LastSeen: now}
	tb.flows[t] = f
	tb.active.Add(1)
	tb.totalSeen.Add(1)
	return f
}

func (tb *Table) evictOldest() {
	var oldestKey flow.Tuple
	var oldest *Flow
	for k, f := range tb.flows {
		if oldest == nil || f.LastSeen.Before(oldest.LastSeen) {
			oldestKey, oldest = k, f
		}
	}
	if oldest != nil {
		delete(tb.flows, oldestKey)
		tb.active.Add(-1)
	}
}

// Update records a newly seen packet on f.
func (tb *Table) Update(f *Flow, byteCount int, now time.Time) {
	f.LastSeen = now
	f.PacketsIn++
	f.BytesIn += uint64(byteCount)
}

// UpdateTCPState folds a TCP flag byte into f's substate machine. It
// never gates classification or blocking decisions — it exists purely
// as tracked state, per the reference implementation and the explicit
// decision to preserve that behavior (see DESIGN.md).
func (tb *Table) UpdateTCPState(f *Flow, tcpFlags uint8) {
	syn := tcpFlags&flow.TCPFlagSYN != 0
	ack := tcpFlags&flow.TCPFlagACK != 0
	fin := tcpFlags&flow.TCPFlagFIN != 0
	rst := tcpFlags&flow.TCPFlagRST != 0

	switch {
	case syn && !ack:
		f.SynSeen = true
	case syn && ack:
		f.SynAckSeen = true
	}
	if f.SynSeen && f.SynAckSeen && ack && f.State == StateNew {
		f.State = StateEstablished
	}
	if fin {
		f.FinSeen = true
	}
	if rst {
		f.State = StateClosed
	}
	if f.FinSeen && ack && f.State != StateClosed {
		f.State = StateClosed
	}
}

// Classify sets f's application tag and server name, but only the first
// time: once classified, further calls are ignored so a port-based
// fallback never overwrites a sniffer-derived result.
func (tb *Table) Classify(f *Flow, app classify.App, name string) {
	if f.Classified {
		return
	}
	f.App = app
	f.ServerName = name
	f.Classified = true
	if f.State != StateBlocked {
		f.State = StateClassified
	}
	tb.classifiedCount.Add(1)
}

// SetTentativeApp sets a port-based guess without marking the flow
// classified, so a later sniffer success can still upgrade it.
func (tb *Table) SetTentativeApp(f *Flow, app classify.App) {
	if f.Classified {
		return
	}
	f.App = app
}

// Block marks f as blocked. Sticky: once set, every later lookup for
// this tuple sees State == StateBlocked.
func (tb *Table) Block(f *Flow) {
	if f.State != StateBlocked {
		tb.blockedCount.Add(1)
	}
	f.State = StateBlocked
}

// SweepStale removes flows whose LastSeen is older than idle, or that
// are already StateClosed. Workers call this on every queue-wait
// timeout rather than on a separate timer, so housekeeping only runs
// when there is otherwise nothing to do.
func (tb *Table) SweepStale(now time.Time, idle time.Duration) int {
	removed := 0
	for k, f := range tb.flows {
		if f.State == StateClosed || now.Sub(f.LastSeen) > idle {
			delete(tb.flows, k)
			removed++
		}
	}
	if removed > 0 {
		tb.active.Add(-int64(removed))
	}
	return removed
}

// Stats summarises the table for the status endpoint and event sink.
type Stats struct {
	Active     int
	TotalSeen  uint64
	Classified uint64
	Blocked    uint64
}

// Stats is safe to call from any goroutine, including concurrently with
// the owning worker mutating the table: every field it reports is an
// atomic counter maintained alongside the map, not derived from it.
func (tb *Table) Stats() Stats {
	return Stats{
		Active:     int(tb.active.Load()),
		TotalSeen:  tb.totalSeen.Load(),
		Classified: tb.classifiedCount.Load(),
		Blocked:    tb.blockedCount.Load(),
	}
}

// ForEach iterates every flow currently tracked. Only called from the
// owning worker (e.g. for a final stats snapshot at shutdown).
func (tb *Table) ForEach(fn func(*Flow)) {
	for _, f := range tb.flows {
		fn(f)
	}
}
