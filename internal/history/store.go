// Package history archives terminal measurement outcomes. Only completed
// runs are persisted; the live queue is deliberately not (queue state does
// not survive a restart).
package history

import (
	"context"
	"time"

	"github.com/me/mem/pkg/model"
)

// Run is one archived measurement outcome.
type Run struct {
	ID          string             `json:"id"`
	Handle      string             `json:"handle"`
	Submitter   string             `json:"submitter"`
	Status      model.RunStatus    `json:"status"`
	DataPath    string             `json:"data_path,omitempty"`
	Error       string             `json:"error,omitempty"`
	Measurement *model.Measurement `json:"measurement,omitempty"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	EndedAt     *time.Time         `json:"ended_at,omitempty"`
	RecordedAt  time.Time          `json:"recorded_at"`
}

// Store defines the run-history persistence layer.
type Store interface {
	RecordOutcome(ctx context.Context, outcome *model.Outcome) error
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*Run, int, error)
	GetRun(ctx context.Context, id string) (*Run, error)

	Close() error
	Migrate(ctx context.Context) error
}
