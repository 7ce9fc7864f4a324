package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/nebula/pkg/metrics"
	"github.com/cuemby/nebula/pkg/storage"
)

// Server mounts a RequestEngine alongside health checks and the metrics
// endpoint on one mux.
type Server struct {
	engine *RequestEngine
	mux    *http.ServeMux
	http   *http.Server
}

// NewServer builds a Server over store.
func NewServer(store storage.StorageMechanism, authenticate bool) *Server {
	mux := http.NewServeMux()
	s := &Server{
		engine: NewRequestEngine(store, authenticate),
		mux:    mux,
	}

	mux.Handle("/repository/", s.engine)
	mux.HandleFunc("/health", s.healthHandler)
	mux.Handle("/metrics", metrics.Handler())

	return s
}

// Handler exposes the underlying mux, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves on addr until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(HealthResponse{Status: "healthy", Timestamp: time.Now()})
}
