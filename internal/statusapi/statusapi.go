// Package statusapi exposes a small gorilla/mux-routed HTTP surface for
// operators: a liveness probe and a JSON snapshot of engine counters.
package statusapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"dpisieve/internal/engine"
)

// Server wraps an http.Server routed with gorilla/mux.
type Server struct {
	httpServer *http.Server
	eng        *engine.Engine
}

// New builds a status server bound to addr, reporting on eng.
func New(addr string, eng *engine.Engine) *Server {
	r := mux.NewRouter()
	s := &Server{eng: eng}

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	s.httpServer = &http.Server{Addr: addr, Handler: r}
	return s
}

// Start runs ListenAndServe in a background goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("statusapi listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("statusapi: %v", err)
		}
	}()
}

// Stop shuts the HTTP server down within timeout.
func (s *Server) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.eng.Ready() {
		http.Error(w, "starting", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.eng.Stats()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
