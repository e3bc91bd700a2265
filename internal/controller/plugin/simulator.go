package plugin

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/me/mem/internal/config"
	"github.com/me/mem/internal/sweep"
	"github.com/me/mem/pkg/model"
)

// Simulator produces a synthetic CSV data file: one column per sweep axis,
// one column per readout channel. Channel values are a smooth function of the
// setpoints plus noise, so downstream plotting pipelines can be exercised
// with plausible-looking data.
type Simulator struct {
	logger *slog.Logger
	rng    *rand.Rand
}

// NewSimulator creates a Simulator.
func NewSimulator(logger *slog.Logger) *Simulator {
	return &Simulator{
		logger: logger.With("plugin", "simulator"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Simulator) Setup(ctx context.Context, instruments config.InstrumentConfig) error {
	for name, instr := range instruments {
		s.logger.Info("simulating instrument", "name", name, "driver", instr.Driver)
	}
	return nil
}

func (s *Simulator) Preset(ctx context.Context, setvals map[string]map[string]any) error {
	for instr, vals := range setvals {
		for param, val := range vals {
			s.logger.Debug("preset", "instrument", instr, "parameter", param, "value", val)
		}
	}
	return nil
}

func (s *Simulator) Measure(ctx context.Context, rec *model.Measurement, plan [][]sweep.Setpoint) (string, error) {
	dataPath, err := resolveDataPath(rec)
	if err != nil {
		return "", err
	}

	f, err := os.Create(dataPath)
	if err != nil {
		return "", fmt.Errorf("create data file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)

	header := make([]string, 0, len(rec.Sweep)+len(rec.Output.Channels))
	for _, step := range rec.Sweep {
		header = append(header, step.Instrument+"."+step.Parameter)
	}
	for _, ch := range rec.Output.Channels {
		label := ch.Label
		if label == "" {
			label = ch.Instrument + "." + ch.Parameter
		}
		header = append(header, label)
	}
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("write header: %w", err)
	}

	for _, row := range plan {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		record := make([]string, 0, len(header))
		var phase float64
		for _, sp := range row {
			record = append(record, formatFloat(sp.Value))
			phase += sp.Value
		}
		for range rec.Output.Channels {
			reading := math.Sin(phase) + 0.01*s.rng.NormFloat64()
			record = append(record, formatFloat(reading))
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("write data row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush data file: %w", err)
	}
	s.logger.Info("data written", "path", dataPath, "points", len(plan))
	return dataPath, nil
}

// resolveDataPath picks the output file location from the measurement's
// output spec, falling back to a timestamped name in the temp directory.
func resolveDataPath(rec *model.Measurement) (string, error) {
	dir := rec.Output.Directory
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	name := rec.Output.Filename
	if name == "" {
		name = "measurement_" + time.Now().UTC().Format("20060102T150405") + ".csv"
	}
	return filepath.Join(dir, name), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
