// Package server exposes the two HTTP surfaces of the measurement daemon:
// the Guide server for user-facing queue and counter control, and the
// Controller server that spawned workers report to. Handlers never touch
// scheduler state directly; they decode requests, submit them to the loop,
// and render the reply.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/me/mem/internal/history"
	"github.com/me/mem/internal/listener"
	"github.com/me/mem/internal/scheduler"
)

// GuideServer is the user-facing REST API: queue manipulation, the fetch
// counter, the active run, run history, and the live completion stream.
type GuideServer struct {
	router    chi.Router
	logger    *slog.Logger
	loop      *scheduler.Loop
	hub       *listener.Hub
	store     history.Store
	gatherer  prometheus.Gatherer
	startTime time.Time
}

// GuideOption configures optional GuideServer dependencies.
type GuideOption func(*GuideServer)

// WithHistory sets the run-history store backing /history endpoints. Without
// it, history requests return 404s.
func WithHistory(st history.Store) GuideOption {
	return func(s *GuideServer) {
		s.store = st
	}
}

// WithGatherer sets the Prometheus gatherer served at /metrics. Defaults to
// the global gatherer.
func WithGatherer(g prometheus.Gatherer) GuideOption {
	return func(s *GuideServer) {
		s.gatherer = g
	}
}

// NewGuide creates the Guide server with all routes registered.
func NewGuide(loop *scheduler.Loop, hub *listener.Hub, logger *slog.Logger, opts ...GuideOption) *GuideServer {
	s := &GuideServer{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "guide"),
		loop:      loop,
		hub:       hub,
		gatherer:  prometheus.DefaultGatherer,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *GuideServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *GuideServer) Handler() http.Handler {
	return s.router
}

func (s *GuideServer) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/queue", func(r chi.Router) {
			r.Get("/", s.handleQueueList)
			r.Post("/", s.handleQueueAdd)
			r.Post("/remove", s.handleQueueRemove)
			r.Get("/length", s.handleQueueLength)
		})

		r.Route("/fetch", func(r chi.Router) {
			r.Get("/", s.handleFetchGet)
			r.Put("/", s.handleFetchSet)
		})

		r.Get("/current", s.handleCurrent)

		r.Route("/history", func(r chi.Router) {
			r.Get("/", s.handleHistoryList)
			r.Get("/{id}", s.handleHistoryGet)
		})

		r.Route("/sse", func(r chi.Router) {
			r.Get("/completed", s.handleSSECompleted)
		})
	})
}
