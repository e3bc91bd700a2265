// Package config holds daemon configuration and the instrument
// configuration loaded once at startup.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds configuration for the memd daemon.
type ServerConfig struct {
	GuideAddr      string        // Guide (control-plane) listen address
	ControllerAddr string        // Controller (worker-plane) listen address
	LogLevel       string        // Log level: debug, info, warn, error
	LogFormat      string        // Log format: text, json
	DBPath         string        // Run-history database path (":memory:" for testing)
	TickInterval   time.Duration // Scheduler tick interval
	FetchCounter   int           // Initial fetch counter value
	DisableLaunch  bool          // Debug: skip spawning the worker process
	WorkerBin      string        // Worker binary spawned per measurement
	// ControllerEndpoint is the address spawned workers dial; derived from
	// ControllerAddr when empty.
	ControllerEndpoint string
}

// DefaultServerConfig returns sensible defaults. The Guide and Controller
// ports follow the historical MEM defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		GuideAddr:      ":9025",
		ControllerAddr: ":9026",
		LogLevel:       "info",
		LogFormat:      "text",
		TickInterval:   5 * time.Second,
		FetchCounter:   0,
		WorkerBin:      "mem-measure",
	}
}

// Instrument describes one instrument driver entry: the driver identifier
// and its ordered launch arguments.
type Instrument struct {
	Driver string `yaml:"driver" json:"driver"`
	Args   []any  `yaml:"args,omitempty" json:"args,omitempty"`
}

// InstrumentConfig maps instrument nickname to its driver entry. Loaded once
// at process start and never re-read at runtime.
type InstrumentConfig map[string]Instrument

// LoadInstrumentConfig reads and parses the YAML instrument configuration.
func LoadInstrumentConfig(path string) (InstrumentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instrument config %s: %w", path, err)
	}
	var cfg InstrumentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse instrument config %s: %w", path, err)
	}
	for name, instr := range cfg {
		if instr.Driver == "" {
			return nil, fmt.Errorf("instrument %q: driver is required", name)
		}
	}
	return cfg, nil
}
