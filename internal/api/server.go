// Package api exposes the HTTP surface: send submission, job lifecycle,
// suppression management, admin operations, and webhook ingestion.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/relay/internal/admission"
	"github.com/ignite/relay/internal/config"
	"github.com/ignite/relay/internal/event"
	"github.com/ignite/relay/internal/pkg/logger"
	"github.com/ignite/relay/internal/provider"
	"github.com/ignite/relay/internal/queue"
	"github.com/ignite/relay/internal/suppression"
	"github.com/ignite/relay/internal/webhook"
)

// Server is the API server.
type Server struct {
	cfg       config.ServerConfig
	handler   http.Handler
	server    *http.Server
	startTime time.Time
}

// Deps carries everything the handlers need. Fields may be nil only where
// a handler tolerates it (pauser, counters).
type Deps struct {
	Admission   *admission.Controller
	Store       queue.Store
	Pauser      *queue.Pauser
	Registry    *provider.Registry
	Prober      *provider.Prober
	Suppression *suppression.Service
	Processor   *event.Processor
	Counters    event.Counters
	Ingestors   []webhook.Ingestor
	Health      *HealthChecker
	MaxBodyBytes int64 // webhook body cap
}

// NewServer builds the server and its route tree.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{cfg: cfg, startTime: time.Now()}
	h := newHandlers(deps)
	s.handler = setupRoutes(h, cfg)
	return s
}

// ListenAndServe starts the HTTP server and blocks.
func (s *Server) ListenAndServe() error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	logger.Info("api server listening", "addr", s.cfg.Addr)
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler { return s.handler }
