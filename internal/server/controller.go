package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/mem/internal/scheduler"
	"github.com/me/mem/pkg/model"
)

// ControllerServer is the worker-facing surface. Spawned measurement workers
// dial it to fetch the instrument config and their measurement, and to report
// start and end. It listens on its own address so instrument hosts can be
// firewalled off from the user-facing Guide port.
type ControllerServer struct {
	router chi.Router
	logger *slog.Logger
	loop   *scheduler.Loop
}

// NewController creates the Controller server with all routes registered.
func NewController(loop *scheduler.Loop, logger *slog.Logger) *ControllerServer {
	s := &ControllerServer{
		router: chi.NewRouter(),
		logger: logger.With("component", "controller"),
		loop:   loop,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *ControllerServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *ControllerServer) Handler() http.Handler {
	return s.router
}

func (s *ControllerServer) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/config", s.handleConfig)
		r.Get("/measurement", s.handleMeasurement)
		r.Post("/start", s.handleStart)
		r.Post("/end", s.handleEnd)
	})
}

// handleConfig returns the instrument configuration loaded at daemon start.
// GET /api/v1/config
func (s *ControllerServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	rep, err := s.loop.SubmitControl(r.Context(), scheduler.ControlRequest{Op: scheduler.ControlConfig})
	if err != nil {
		respondError(w, reqID, http.StatusServiceUnavailable, model.NewInternalError(err.Error()))
		return
	}
	if rep.Err != nil {
		respondSchedulerError(w, reqID, rep.Err)
		return
	}
	respondOK(w, reqID, rep.Config)
}

// handleMeasurement returns the measurement of the active run. Answers 400
// when no run is active; a worker asking outside a run is a protocol error.
// GET /api/v1/measurement
func (s *ControllerServer) handleMeasurement(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	rep, err := s.loop.SubmitControl(r.Context(), scheduler.ControlRequest{Op: scheduler.ControlNext})
	if err != nil {
		respondError(w, reqID, http.StatusServiceUnavailable, model.NewInternalError(err.Error()))
		return
	}
	if rep.Err != nil {
		respondSchedulerError(w, reqID, rep.Err)
		return
	}
	respondOK(w, reqID, rep.Record)
}

type startRequest struct {
	Handle string `json:"handle"`
}

// handleStart records that the worker holding handle has begun measuring.
// Stale handles are rejected with a conflict.
// POST /api/v1/start
func (s *ControllerServer) handleStart(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var body startRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewProtocolError("invalid JSON body: "+err.Error()))
		return
	}

	rep, err := s.loop.SubmitControl(r.Context(), scheduler.ControlRequest{
		Op:     scheduler.ControlStart,
		Handle: body.Handle,
	})
	if err != nil {
		respondError(w, reqID, http.StatusServiceUnavailable, model.NewInternalError(err.Error()))
		return
	}
	if rep.Err != nil {
		respondSchedulerError(w, reqID, rep.Err)
		return
	}
	respondOK(w, reqID, map[string]string{"handle": body.Handle, "state": "started"})
}

type endRequest struct {
	Handle      string             `json:"handle"`
	Status      model.RunStatus    `json:"status"`
	Measurement *model.Measurement `json:"measurement,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// handleEnd records the terminal outcome of the run holding handle. An
// accepted end clears the active run and broadcasts the outcome.
// POST /api/v1/end
func (s *ControllerServer) handleEnd(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var body endRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewProtocolError("invalid JSON body: "+err.Error()))
		return
	}

	rep, err := s.loop.SubmitControl(r.Context(), scheduler.ControlRequest{
		Op:     scheduler.ControlEnd,
		Handle: body.Handle,
		Status: body.Status,
		Record: body.Measurement,
		ErrMsg: body.Error,
	})
	if err != nil {
		respondError(w, reqID, http.StatusServiceUnavailable, model.NewInternalError(err.Error()))
		return
	}
	if rep.Err != nil {
		respondSchedulerError(w, reqID, rep.Err)
		return
	}
	respondOK(w, reqID, map[string]string{"handle": body.Handle, "state": "ended"})
}
