package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleSSECompleted streams completed-measurement outcomes via Server-Sent
// Events. Each accepted end signal produces one "completed" event; the stream
// stays open until the client disconnects.
// GET /api/v1/sse/completed
func (s *GuideServer) handleSSECompleted(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	outcomes, cancel := s.hub.Subscribe()
	defer cancel()

	// Heartbeats keep idle connections alive through proxies; measurement
	// runs routinely last hours.
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case outcome := <-outcomes:
			if err := sendSSEEvent(w, flusher, "completed", outcome); err != nil {
				s.logger.Debug("sse client disconnected", "error", err)
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	if err != nil {
		return err
	}

	flusher.Flush()
	return nil
}
