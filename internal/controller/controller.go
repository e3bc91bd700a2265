package controller

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/me/mem/internal/controller/plugin"
	"github.com/me/mem/internal/sweep"
	"github.com/me/mem/pkg/model"
)

// Controller owns one measurement run end to end. The sequence is fixed:
// fetch the instrument config, set up the plugin, fetch the measurement,
// apply presets, confirm start, measure, then report the outcome. Any failure
// after start is reported to the daemon as a FAILURE end signal so the
// scheduler can move on.
type Controller struct {
	client *Client
	plugin plugin.Plugin
	handle string
	logger *slog.Logger
}

// New assembles a Controller for the run identified by handle.
func New(client *Client, pl plugin.Plugin, handle string, logger *slog.Logger) *Controller {
	return &Controller{
		client: client,
		plugin: pl,
		handle: handle,
		logger: logger.With("component", "controller", "handle", handle),
	}
}

// Run executes the measurement. The returned error reflects the run outcome;
// the daemon has already been told by the time Run returns.
func (c *Controller) Run(ctx context.Context) error {
	instruments, err := c.client.Config(ctx)
	if err != nil {
		return err
	}
	if err := c.plugin.Setup(ctx, instruments); err != nil {
		return fmt.Errorf("plugin setup: %w", err)
	}

	rec, err := c.client.Measurement(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("measurement fetched", "submitter", rec.Submitter)

	plan, err := sweep.Plan(rec.Sweep)
	if err != nil {
		// The definition was validated at ingestion; an unplannable sweep
		// at this point still ends the run cleanly.
		return c.fail(ctx, rec, fmt.Errorf("expand sweep: %w", err))
	}

	if err := c.plugin.Preset(ctx, rec.Setvals); err != nil {
		return c.fail(ctx, rec, fmt.Errorf("apply presets: %w", err))
	}

	if err := c.client.Start(ctx, c.handle); err != nil {
		return err
	}
	rec.SetStartTime(nil)
	c.logger.Info("run started", "points", len(plan))

	dataPath, measureErr := c.plugin.Measure(ctx, rec, plan)
	rec.SetEndTime(nil)

	if measureErr != nil {
		return c.fail(ctx, rec, fmt.Errorf("measure: %w", measureErr))
	}

	rec.Output.DataPath = dataPath
	if dataPath != "" {
		if err := writeRunConfig(rec, dataPath); err != nil {
			// The data is on disk; a missing sidecar is not worth failing
			// the run over.
			c.logger.Warn("write run config", "error", err)
		}
	}

	if err := c.client.End(ctx, c.handle, model.RunSuccess, rec, ""); err != nil {
		return err
	}
	c.logger.Info("run completed", "data_path", dataPath)
	return nil
}

// fail reports a FAILURE end signal and returns the original error.
func (c *Controller) fail(ctx context.Context, rec *model.Measurement, runErr error) error {
	c.logger.Error("run failed", "error", runErr)
	if err := c.client.End(ctx, c.handle, model.RunFailure, rec, runErr.Error()); err != nil {
		c.logger.Error("report failure", "error", err)
	}
	return runErr
}

// writeRunConfig dumps the measurement definition as YAML beside the data
// file, so a data set always carries its provenance.
func writeRunConfig(rec *model.Measurement, dataPath string) error {
	cfgPath := strings.TrimSuffix(dataPath, filepath.Ext(dataPath)) + ".yaml"
	data, err := yaml.Marshal(rec.AsConfig())
	if err != nil {
		return fmt.Errorf("marshal run config: %w", err)
	}
	if err := os.WriteFile(cfgPath, data, 0o644); err != nil {
		return fmt.Errorf("write run config: %w", err)
	}
	return nil
}
