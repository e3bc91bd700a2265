// Package listener fans completed-measurement outcomes out to downstream
// collaborators: persistent sinks (the run-history archive) and live
// subscribers (the SSE stream on the Guide server).
package listener

import (
	"context"
	"log/slog"
	"sync"

	"github.com/me/mem/pkg/model"
)

// Sink receives every accepted outcome, typically for archival.
type Sink interface {
	RecordOutcome(ctx context.Context, outcome *model.Outcome) error
}

// Hub broadcasts outcomes. Publish is called from the scheduler loop;
// Subscribe is called from HTTP handler goroutines, so the subscriber set is
// mutex-guarded.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan *model.Outcome]struct{}
	sinks  []Sink
	logger *slog.Logger
}

// NewHub creates a Hub feeding the given sinks.
func NewHub(logger *slog.Logger, sinks ...Sink) *Hub {
	return &Hub{
		subs:   make(map[chan *model.Outcome]struct{}),
		sinks:  sinks,
		logger: logger.With("component", "listener"),
	}
}

// Publish delivers an outcome to all sinks and subscribers. Sink errors are
// logged, never propagated: the scheduler's obligation ends at producing the
// outcome. Slow subscribers are skipped rather than blocking the loop.
func (h *Hub) Publish(ctx context.Context, outcome *model.Outcome) {
	for _, sink := range h.sinks {
		if err := sink.RecordOutcome(ctx, outcome); err != nil {
			h.logger.Error("outcome sink failed",
				"handle", outcome.Handle, "error", err)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- outcome:
		default:
			h.logger.Warn("dropping outcome for slow subscriber", "handle", outcome.Handle)
		}
	}
	h.logger.Info("outcome broadcast",
		"handle", outcome.Handle,
		"status", outcome.Status,
		"subscribers", len(h.subs),
	)
}

// Subscribe registers a live outcome feed. The returned cancel func must be
// called when the subscriber goes away.
func (h *Hub) Subscribe() (<-chan *model.Outcome, func()) {
	ch := make(chan *model.Outcome, 8)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
	return ch, cancel
}
