// Package httpapi exposes the HTTP surface named in spec.md §6: submit
// memory, agent drop, inbox action, and retrieval search, plus an SSE
// event stream wired to the Notifier. Grounded on the teacher's
// internal/httpapi/server.go (ServeMux + http.Handler wrapper) and
// handlers.go (respondJSON/respondError convention).
package httpapi

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"memoria/internal/ingest"
	"memoria/internal/notify"
	"memoria/internal/retrieve"
	"memoria/internal/store"
	"memoria/internal/tasks"
	"memoria/internal/vectorstore"
)

// Server wires the HTTP surface to the domain services. The Dedupe Monitor
// is not wired here: it runs out of cmd/worker's ingest handler once a
// chunk embedding exists, never inline in a request path.
type Server struct {
	Store       store.Store
	VectorStore vectorstore.VectorStore
	Pipeline    *ingest.Pipeline
	Planner     *retrieve.Planner
	Notifier    *notify.Hub
	Queue       tasks.Queue

	mux *http.ServeMux

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// NewServer builds the Server and registers routes.
func NewServer(st store.Store, vs vectorstore.VectorStore, pipeline *ingest.Pipeline, planner *retrieve.Planner, hub *notify.Hub, queue tasks.Queue) *Server {
	s := &Server{
		Store:       st,
		VectorStore: vs,
		Pipeline:    pipeline,
		Planner:     planner,
		Notifier:    hub,
		Queue:       queue,
		mux:         http.NewServeMux(),
		limiters:    make(map[string]*rate.Limiter),
	}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /memories", s.handleSubmitMemory)
	s.mux.HandleFunc("POST /inbox/drop/{token}", s.handleAgentDrop)
	s.mux.HandleFunc("POST /inbox/{id}/action", s.handleInboxAction)
	s.mux.HandleFunc("POST /retrieval/search", s.handleSearch)
	s.mux.HandleFunc("GET /events/{userId}", s.handleEvents)
}
