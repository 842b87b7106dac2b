// Package server exposes the research engine over HTTP: job submission,
// polling, the SSE progress stream, lifecycle controls, and results.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/auctionintel/research-engine/internal/config"
	"github.com/auctionintel/research-engine/internal/orchestrator"
	"github.com/auctionintel/research-engine/internal/store"
)

// Server is the HTTP API server.
type Server struct {
	cfg       config.ServerConfig
	streamCfg config.StreamConfig
	store     store.Store
	manager   *orchestrator.Manager
}

// New creates a server.
func New(cfg config.ServerConfig, streamCfg config.StreamConfig, st store.Store, m *orchestrator.Manager) *Server {
	return &Server{cfg: cfg, streamCfg: streamCfg, store: st, manager: m}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1/jobs", func(r chi.Router) {
		r.Post("/", s.handleCreateJob)
		r.Get("/", s.handleListJobs)
		r.Route("/{jobID}", func(r chi.Router) {
			r.Get("/", s.handleGetJob)
			r.Get("/events", s.handleEvents)
			r.Get("/results", s.handleResults)
			r.Post("/cancel", s.handleCancel)
			r.Post("/pause", s.handlePause)
			r.Post("/resume", s.handleResume)
		})
	})

	return r
}

// ListenAndServe runs the server until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", s.cfg.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}
