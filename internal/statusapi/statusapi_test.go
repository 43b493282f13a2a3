package statusapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"dpisieve/internal/engine"
	"dpisieve/internal/ruleset"
	"dpisieve/pkg/capture"
)

type noopSource struct{}

func (noopSource) Header() capture.GlobalHeader { return capture.GlobalHeader{} }
func (noopSource) Next() (capture.Frame, error) { return capture.Frame{}, io.EOF }

type noopSink struct{}

func (noopSink) WriteHeader(capture.GlobalHeader) error { return nil }
func (noopSink) WriteFrame(capture.Frame) error          { return nil }

func newTestServer() (*Server, *engine.Engine) {
	eng := engine.New(engine.Config{Dispatchers: 1, WorkersPerLB: 1, QueueSize: 4}, ruleset.New(), noopSource{}, noopSink{})
	return New("127.0.0.1:0", eng), eng
}

func TestHandleHealthzReportsUnavailableBeforeStart(t *testing.T) {
	s, _ := newTestServer()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	s.handleHealthz(rec, req)

	if rec.Code != 503 {
		t.Errorf("status = %d, want 503 before the engine has started", rec.Code)
	}
}

func TestHandleHealthzReportsOKOnceStarted(t *testing.T) {
	s, eng := newTestServer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	s.handleHealthz(rec, req)

	if rec.Code != 200 {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "ok")
	}
}

func TestHandleStatsReturnsValidJSON(t *testing.T) {
	s, _ := newTestServer()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/stats", nil)
	s.handleStats(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got engine.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("response body is not valid engine.Stats JSON: %v", err)
	}
}
