package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "instruments.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadInstrumentConfig(t *testing.T) {
	path := writeConfig(t, `
vna:
  driver: keysight_pna
  args: ["TCPIP0::192.168.1.5::inst0::INSTR", 30]
fridge:
  driver: bluefors_api
`)
	cfg, err := LoadInstrumentConfig(path)
	if err != nil {
		t.Fatalf("LoadInstrumentConfig: %v", err)
	}
	if len(cfg) != 2 {
		t.Fatalf("len = %d, want 2", len(cfg))
	}
	vna := cfg["vna"]
	if vna.Driver != "keysight_pna" {
		t.Errorf("vna driver = %q", vna.Driver)
	}
	if len(vna.Args) != 2 {
		t.Errorf("vna args = %v", vna.Args)
	}
	if cfg["fridge"].Driver != "bluefors_api" {
		t.Errorf("fridge driver = %q", cfg["fridge"].Driver)
	}
}

func TestLoadInstrumentConfigRejectsMissingDriver(t *testing.T) {
	path := writeConfig(t, `
vna:
  args: [1, 2]
`)
	if _, err := LoadInstrumentConfig(path); err == nil {
		t.Fatal("expected error for missing driver")
	}
}

func TestLoadInstrumentConfigMissingFile(t *testing.T) {
	if _, err := LoadInstrumentConfig("/nonexistent/instruments.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	if cfg.GuideAddr != ":9025" || cfg.ControllerAddr != ":9026" {
		t.Errorf("unexpected default addrs: %s / %s", cfg.GuideAddr, cfg.ControllerAddr)
	}
	if cfg.FetchCounter != 0 {
		t.Errorf("default fetch counter = %d, want 0", cfg.FetchCounter)
	}
	if cfg.WorkerBin != "mem-measure" {
		t.Errorf("default worker bin = %q", cfg.WorkerBin)
	}
}
