package server

import (
	"encoding/json"
	"net/http"

	"github.com/me/mem/internal/scheduler"
	"github.com/me/mem/pkg/model"
)

type fetchResponse struct {
	Counter int `json:"counter"`
}

// handleFetchGet returns the current fetch counter value.
// GET /api/v1/fetch
func (s *GuideServer) handleFetchGet(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	rep, err := s.loop.SubmitGuide(r.Context(), scheduler.GuideRequest{Op: scheduler.GuideFetchGet})
	if err != nil {
		respondError(w, reqID, http.StatusServiceUnavailable, model.NewInternalError(err.Error()))
		return
	}
	if rep.Err != nil {
		respondSchedulerError(w, reqID, rep.Err)
		return
	}
	respondOK(w, reqID, fetchResponse{Counter: rep.Counter})
}

type fetchSetRequest struct {
	Value int `json:"value"`
}

// handleFetchSet sets the fetch counter. -1 means endless; values below -1
// are clamped to -1 and the effective stored value is echoed back.
// PUT /api/v1/fetch
func (s *GuideServer) handleFetchSet(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var body fetchSetRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewProtocolError("invalid JSON body: "+err.Error()))
		return
	}

	rep, err := s.loop.SubmitGuide(r.Context(), scheduler.GuideRequest{
		Op:    scheduler.GuideFetchSet,
		Value: body.Value,
	})
	if err != nil {
		respondError(w, reqID, http.StatusServiceUnavailable, model.NewInternalError(err.Error()))
		return
	}
	if rep.Err != nil {
		respondSchedulerError(w, reqID, rep.Err)
		return
	}
	respondOK(w, reqID, fetchResponse{Counter: rep.Counter})
}
