package plugin

import (
	"context"
	"log/slog"
	"time"

	"github.com/me/mem/internal/config"
	"github.com/me/mem/internal/sweep"
	"github.com/me/mem/pkg/model"
)

// Sleeper pretends to measure by sleeping once per plan row. It writes no
// data file. Useful for exercising the daemon's scheduling behavior without
// instruments.
type Sleeper struct {
	// Delay is the simulated acquisition time per data point.
	Delay  time.Duration
	logger *slog.Logger
}

// NewSleeper creates a Sleeper with a 100ms per-point delay.
func NewSleeper(logger *slog.Logger) *Sleeper {
	return &Sleeper{
		Delay:  100 * time.Millisecond,
		logger: logger.With("plugin", "sleeper"),
	}
}

func (s *Sleeper) Setup(ctx context.Context, instruments config.InstrumentConfig) error {
	s.logger.Info("setup", "instruments", len(instruments))
	return nil
}

func (s *Sleeper) Preset(ctx context.Context, setvals map[string]map[string]any) error {
	for instr, vals := range setvals {
		s.logger.Info("preset", "instrument", instr, "parameters", len(vals))
	}
	return nil
}

func (s *Sleeper) Measure(ctx context.Context, rec *model.Measurement, plan [][]sweep.Setpoint) (string, error) {
	s.logger.Info("measuring", "points", len(plan), "delay", s.Delay)
	for range plan {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.Delay):
		}
	}
	return "", nil
}
