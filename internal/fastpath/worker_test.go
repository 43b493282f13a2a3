package fastpath

import (
	"context"
	"testing"
	"time"

	"dpisieve/internal/classify"
	"dpisieve/internal/flow"
	"dpisieve/internal/ruleset"
	"dpisieve/internal/workitem"
)

type verdict struct {
	item   workitem.Item
	action Action
	reason ruleset.Reason
}

func httpFrame(host string, srcIP, dstIP uint32) workitem.Item {
	req := []byte("GET / HTTP/1.1\r\nHost: " + host + "\r\n\r\n")
	data := append(make([]byte, 10), req...) // fake non-payload prefix bytes
	return workitem.Item{
		Data:          data,
		Tuple:         flow.Tuple{SrcIP: srcIP, DstIP: dstIP, SrcPort: 5555, DstPort: 80, Protocol: flow.ProtoTCP},
		PayloadOffset: 10,
		PayloadLength: len(req),
	}
}

func runOne(t *testing.T, rules *ruleset.Set, item workitem.Item) verdict {
	t.Helper()
	results := make(chan verdict, 1)
	w := New(0, 4, 16, time.Minute, rules, func(it workitem.Item, a Action, r ruleset.Reason) {
		results <- verdict{it, a, r}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Input().Push(item)
	select {
	case v := <-results:
		return v
	case <-time.After(time.Second):
		t.Fatal("worker never emitted a verdict")
	}
	return verdict{}
}

func TestWorkerClassifiesAndForwardsUnblockedHTTP(t *testing.T) {
	rules := ruleset.New()
	v := runOne(t, rules, httpFrame("example.com", 1, 2))

	if v.action != Forward {
		t.Errorf("action = %v, want Forward", v.action)
	}
}

func TestWorkerClassifiesByAppAndBlocksApp(t *testing.T) {
	rules := ruleset.New()
	rules.BlockApp(classify.YouTube)

	v := runOne(t, rules, httpFrame("www.youtube.com", 10, 20))

	if v.action != Drop {
		t.Fatalf("action = %v, want Drop", v.action)
	}
	if v.reason.Kind != ruleset.ReasonApp {
		t.Errorf("reason.Kind = %v, want ReasonApp", v.reason.Kind)
	}
}

func TestWorkerBlocksByIPRegardlessOfPayload(t *testing.T) {
	rules := ruleset.New()
	rules.BlockIP(1)

	v := runOne(t, rules, httpFrame("example.com", 1, 2))

	if v.action != Drop || v.reason.Kind != ruleset.ReasonIP {
		t.Errorf("verdict = %+v, want Drop/ReasonIP", v)
	}
}

func TestWorkerStickyBlockSkipsRuleReevaluation(t *testing.T) {
	rules := ruleset.New()
	rules.BlockApp(classify.YouTube)

	results := make(chan verdict, 2)
	w := New(0, 4, 16, time.Minute, rules, func(it workitem.Item, a Action, r ruleset.Reason) {
		results <- verdict{it, a, r}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	item := httpFrame("www.youtube.com", 5, 6)
	w.Input().Push(item)
	first := <-results

	// Second packet on the same tuple, now with no identifiable payload;
	// it should still be dropped because the flow is already blocked.
	item2 := item
	item2.PayloadLength = 0
	w.Input().Push(item2)
	second := <-results

	if first.action != Drop || second.action != Drop {
		t.Errorf("expected both packets dropped, got %v then %v", first.action, second.action)
	}
	if second.reason != (ruleset.Reason{}) {
		t.Errorf("sticky-block drop should carry an empty reason (already blocked), got %+v", second.reason)
	}
}

func TestWorkerStatsReflectProcessing(t *testing.T) {
	rules := ruleset.New()
	results := make(chan verdict, 1)
	w := New(0, 4, 16, time.Minute, rules, func(it workitem.Item, a Action, r ruleset.Reason) {
		results <- verdict{it, a, r}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Input().Push(httpFrame("example.com", 1, 2))
	<-results

	stats := w.Stats()
	if stats.Processed != 1 || stats.Forwarded != 1 || stats.Dropped != 0 {
		t.Errorf("Stats() = %+v, want Processed=1 Forwarded=1 Dropped=0", stats)
	}
}
