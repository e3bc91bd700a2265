// Package plugin defines the instrument plugin contract and the two built-in
// plugins: a sleeper for timing and end-to-end tests, and a simulator that
// produces synthetic data files. Real instrument plugins implement the same
// interface against their driver stacks.
package plugin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/me/mem/internal/config"
	"github.com/me/mem/internal/sweep"
	"github.com/me/mem/pkg/model"
)

// Plugin drives the instruments for one measurement run.
type Plugin interface {
	// Setup connects to the instruments named in the configuration. Called
	// once before the measurement is fetched.
	Setup(ctx context.Context, instruments config.InstrumentConfig) error

	// Preset applies the measurement's fixed setvals, instrument by
	// instrument, before the run starts.
	Preset(ctx context.Context, setvals map[string]map[string]any) error

	// Measure executes the sweep plan and returns the path of the produced
	// data file. An empty path means the plugin wrote no file.
	Measure(ctx context.Context, rec *model.Measurement, plan [][]sweep.Setpoint) (string, error)
}

// Lookup resolves a plugin by name.
func Lookup(name string, logger *slog.Logger) (Plugin, error) {
	switch name {
	case "sleeper":
		return NewSleeper(logger), nil
	case "simulator":
		return NewSimulator(logger), nil
	default:
		return nil, fmt.Errorf("unknown plugin %q", name)
	}
}
