package flowtable

import (
	"testing"
	"time"

	"dpisieve/internal/classify"
	"dpisieve/internal/flow"
)

func tuple(n uint32) flow.Tuple {
	return flow.Tuple{SrcIP: n, DstIP: n + 1, SrcPort: uint16(n), DstPort: 80, Protocol: flow.ProtoTCP}
}

func TestGetOrCreateReturnsSameFlow(t *testing.T) {
	tb := New(10)
	now := time.Now()
	f1 := tb.GetOrCreate(tuple(1), now)
	f2 := tb.GetOrCreate(tuple(1), now)
	if f1 != f2 {
		t.Error("GetOrCreate returned different *Flow for the same tuple")
	}
	if tb.Stats().Active != 1 {
		t.Errorf("Active = %d, want 1", tb.Stats().Active)
	}
}

func TestGetOrCreateEvictsOldestAtCapacity(t *testing.T) {
	tb := New(2)
	base := time.Now()

	tb.GetOrCreate(tuple(1), base)
	tb.GetOrCreate(tuple(2), base.Add(time.Second))
	if tb.Stats().Active != 2 {
		t.Fatalf("Active = %d, want 2", tb.Stats().Active)
	}

	// tuple(1) is the oldest by LastSeen; inserting a third flow should
	// evict it rather than grow past maxSize.
	tb.GetOrCreate(tuple(3), base.Add(2*time.Second))
	if tb.Stats().Active != 2 {
		t.Errorf("Active after eviction = %d, want 2", tb.Stats().Active)
	}
	if _, ok := tb.flows[tuple(1)]; ok {
		t.Error("expected tuple(1) to have been evicted as the oldest entry")
	}
	if _, ok := tb.flows[tuple(3)]; !ok {
		t.Error("expected the newly inserted tuple(3) to be present")
	}
}

func TestClassifyIsStickyOnFirstCall(t *testing.T) {
	tb := New(10)
	f := tb.GetOrCreate(tuple(1), time.Now())

	tb.Classify(f, classify.YouTube, "youtube.com")
	tb.Classify(f, classify.Google, "google.com")

	if f.App != classify.YouTube || f.ServerName != "youtube.com" {
		t.Errorf("second Classify call overwrote the first: App=%v ServerName=%q", f.App, f.ServerName)
	}
	if tb.Stats().Classified != 1 {
		t.Errorf("Classified = %d, want 1", tb.Stats().Classified)
	}
}

func TestSetTentativeAppDoesNotStickAfterClassify(t *testing.T) {
	tb := New(10)
	f := tb.GetOrCreate(tuple(1), time.Now())

	tb.Classify(f, classify.YouTube, "youtube.com")
	tb.SetTentativeApp(f, classify.Google)

	if f.App != classify.YouTube {
		t.Errorf("SetTentativeApp overwrote a sticky classification: App=%v", f.App)
	}
}

func TestBlockIsStickyAndCountsOnce(t *testing.T) {
	tb := New(10)
	f := tb.GetOrCreate(tuple(1), time.Now())

	tb.Block(f)
	tb.Block(f)

	if f.State != StateBlocked {
		t.Errorf("State = %v, want StateBlocked", f.State)
	}
	if tb.Stats().Blocked != 1 {
		t.Errorf("Blocked = %d, want 1 (Block called twice)", tb.Stats().Blocked)
	}
}

func TestUpdateTCPStateNeverGatesClassifyOrBlock(t *testing.T) {
	tb := New(10)
	f := tb.GetOrCreate(tuple(1), time.Now())

	// No SYN/ACK handshake observed at all, yet Classify/Block still work.
	tb.Classify(f, classify.YouTube, "youtube.com")
	tb.Block(f)

	if !f.Classified {
		t.Error("expected Classify to succeed regardless of TCP substate")
	}
	if f.State != StateBlocked {
		t.Error("expected Block to succeed regardless of TCP substate")
	}
}

func TestUpdateTCPStateTransitionsToEstablished(t *testing.T) {
	tb := New(10)
	f := tb.GetOrCreate(tuple(1), time.Now())

	tb.UpdateTCPState(f, flow.TCPFlagSYN)
	tb.UpdateTCPState(f, flow.TCPFlagSYN|flow.TCPFlagACK)
	tb.UpdateTCPState(f, flow.TCPFlagACK)

	if f.State != StateEstablished {
		t.Errorf("State = %v, want StateEstablished", f.State)
	}
}

func TestUpdateTCPStateRSTClosesImmediately(t *testing.T) {
	tb := New(10)
	f := tb.GetOrCreate(tuple(1), time.Now())
	tb.UpdateTCPState(f, flow.TCPFlagRST)
	if f.State != StateClosed {
		t.Errorf("State after RST = %v, want StateClosed", f.State)
	}
}

func TestSweepStaleRemovesIdleAndClosedFlows(t *testing.T) {
	tb := New(10)
	now := time.Now()

	stale := tb.GetOrCreate(tuple(1), now.Add(-time.Hour))
	_ = stale
	closed := tb.GetOrCreate(tuple(2), now)
	tb.Block(closed) // does not close it
	closed.State = StateClosed
	fresh := tb.GetOrCreate(tuple(3), now)

	removed := tb.SweepStale(now, time.Minute)
	if removed != 2 {
		t.Fatalf("SweepStale removed %d, want 2", removed)
	}
	if _, ok := tb.flows[tuple(3)]; !ok {
		t.Error("expected the fresh flow to survive the sweep")
	}
	_ = fresh
	if tb.Stats().Active != 1 {
		t.Errorf("Active after sweep = %d, want 1", tb.Stats().Active)
	}
}

func TestForEachVisitsEveryFlow(t *testing.T) {
	tb := New(10)
	now := time.Now()
	tb.GetOrCreate(tuple(1), now)
	tb.GetOrCreate(tuple(2), now)

	seen := 0
	tb.ForEach(func(*Flow) { seen++ })
	if seen != 2 {
		t.Errorf("ForEach visited %d flows, want 2", seen)
	}
}
