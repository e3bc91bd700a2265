package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/me/mem/internal/scheduler"
	"github.com/me/mem/pkg/model"
)

type queueAddRequest struct {
	Measurements []*model.Measurement `json:"measurements"`
}

type queueAddResponse struct {
	Added []int `json:"added"`
}

// handleQueueAdd appends measurements to the back of the queue. The body may
// be a {"measurements": [...]} wrapper, a bare array, or a single record.
// POST /api/v1/queue
func (s *GuideServer) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewProtocolError("read request body: "+err.Error()))
		return
	}
	records, err := decodeAddBody(raw)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewProtocolError("invalid JSON body: "+err.Error()))
		return
	}
	if len(records) == 0 {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("at least one measurement is required"))
		return
	}

	rep, err := s.loop.SubmitGuide(r.Context(), scheduler.GuideRequest{
		Op:      scheduler.GuideAdd,
		Records: records,
	})
	if err != nil {
		respondError(w, reqID, http.StatusServiceUnavailable, model.NewInternalError(err.Error()))
		return
	}
	if rep.Err != nil {
		respondSchedulerError(w, reqID, rep.Err)
		return
	}
	respondCreated(w, reqID, queueAddResponse{Added: rep.Added})
}

// decodeAddBody accepts the three payload shapes for queue add.
func decodeAddBody(raw []byte) ([]*model.Measurement, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []*model.Measurement
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var wrapper queueAddRequest
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return nil, err
	}
	if len(wrapper.Measurements) > 0 {
		return wrapper.Measurements, nil
	}

	// Single bare record. Distinguish it from an empty wrapper by probing
	// the field set.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, err
	}
	if _, isWrapper := probe["measurements"]; isWrapper || len(probe) == 0 {
		return nil, nil
	}
	var rec model.Measurement
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return nil, err
	}
	return []*model.Measurement{&rec}, nil
}

type queueRemoveRequest struct {
	Positions []int `json:"positions"`
}

type queueRemoveResponse struct {
	Removed []int `json:"removed"`
}

// handleQueueRemove removes queue entries by position. Positions resolve
// against the queue as it was when the request is applied; out-of-range
// entries are skipped and the reply lists only what was actually removed.
// POST /api/v1/queue/remove
func (s *GuideServer) handleQueueRemove(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var body queueRemoveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewProtocolError("invalid JSON body: "+err.Error()))
		return
	}

	rep, err := s.loop.SubmitGuide(r.Context(), scheduler.GuideRequest{
		Op:        scheduler.GuideRemove,
		Positions: body.Positions,
	})
	if err != nil {
		respondError(w, reqID, http.StatusServiceUnavailable, model.NewInternalError(err.Error()))
		return
	}
	if rep.Err != nil {
		respondSchedulerError(w, reqID, rep.Err)
		return
	}
	respondOK(w, reqID, queueRemoveResponse{Removed: rep.Removed})
}

type queueListResponse struct {
	Queue []*model.Measurement `json:"queue"`
}

// handleQueueList returns a snapshot of the queue, optionally filtered by
// submitter.
// GET /api/v1/queue?submitter=
func (s *GuideServer) handleQueueList(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	rep, err := s.loop.SubmitGuide(r.Context(), scheduler.GuideRequest{
		Op:        scheduler.GuideQuery,
		Submitter: r.URL.Query().Get("submitter"),
	})
	if err != nil {
		respondError(w, reqID, http.StatusServiceUnavailable, model.NewInternalError(err.Error()))
		return
	}
	if rep.Err != nil {
		respondSchedulerError(w, reqID, rep.Err)
		return
	}
	if rep.Queue == nil {
		rep.Queue = []*model.Measurement{}
	}
	respondOK(w, reqID, queueListResponse{Queue: rep.Queue})
}

type queueLengthResponse struct {
	Length int `json:"length"`
}

// handleQueueLength returns the current queue length.
// GET /api/v1/queue/length
func (s *GuideServer) handleQueueLength(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	rep, err := s.loop.SubmitGuide(r.Context(), scheduler.GuideRequest{Op: scheduler.GuideLen})
	if err != nil {
		respondError(w, reqID, http.StatusServiceUnavailable, model.NewInternalError(err.Error()))
		return
	}
	if rep.Err != nil {
		respondSchedulerError(w, reqID, rep.Err)
		return
	}
	respondOK(w, reqID, queueLengthResponse{Length: rep.Length})
}

type currentResponse struct {
	Running     bool               `json:"running"`
	Measurement *model.Measurement `json:"measurement,omitempty"`
}

// handleCurrent returns the measurement of the active run, if any.
// GET /api/v1/current
func (s *GuideServer) handleCurrent(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	rep, err := s.loop.SubmitGuide(r.Context(), scheduler.GuideRequest{Op: scheduler.GuideCurrent})
	if err != nil {
		respondError(w, reqID, http.StatusServiceUnavailable, model.NewInternalError(err.Error()))
		return
	}
	if rep.Err != nil {
		respondSchedulerError(w, reqID, rep.Err)
		return
	}
	respondOK(w, reqID, currentResponse{
		Running:     rep.Current != nil,
		Measurement: rep.Current,
	})
}
