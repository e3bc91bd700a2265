package model

import (
	"testing"
)

func f64(v float64) *float64 { return &v }

func validMeasurement() *Measurement {
	return &Measurement{
		Submitter: "alice",
		Metadata:  map[string]any{"sample": "S-42"},
		Output: OutputSpec{
			Directory: "/data/runs",
			Filename:  "run.csv",
			Channels: []Channel{
				{Instrument: "vna", Parameter: "s21", Label: "transmission"},
			},
		},
		Setvals: map[string]map[string]any{
			"fridge": {"temperature": 0.012},
		},
		Sweep: []SweepStep{
			{Instrument: "source", Parameter: "power", Start: f64(-30), Stop: f64(0), Count: 7},
			{Instrument: "vna", Parameter: "frequency", Values: []float64{4e9, 5e9, 6e9}},
		},
	}
}

func TestMeasurementValidate(t *testing.T) {
	if err := validMeasurement().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestMeasurementValidateRejectsMissingSubmitter(t *testing.T) {
	m := validMeasurement()
	m.Submitter = ""
	if err := m.Validate(); err == nil {
		t.Fatal("expected error for missing submitter")
	}
}

func TestMeasurementValidateRejectsBadChannel(t *testing.T) {
	m := validMeasurement()
	m.Output.Channels = append(m.Output.Channels, Channel{Instrument: "vna"})
	if err := m.Validate(); err == nil {
		t.Fatal("expected error for channel without parameter")
	}
}

func TestSweepStepValidate(t *testing.T) {
	tests := []struct {
		name    string
		step    SweepStep
		wantErr bool
	}{
		{"values", SweepStep{Instrument: "a", Parameter: "p", Values: []float64{1, 2}}, false},
		{"span", SweepStep{Instrument: "a", Parameter: "p", Start: f64(0), Stop: f64(1), Count: 5}, false},
		{"expr", SweepStep{Instrument: "a", Parameter: "p", Expr: "linspace(0, 1, 3)"}, false},
		{"no source", SweepStep{Instrument: "a", Parameter: "p"}, true},
		{"two sources", SweepStep{Instrument: "a", Parameter: "p", Values: []float64{1}, Expr: "[1]"}, true},
		{"partial span", SweepStep{Instrument: "a", Parameter: "p", Start: f64(0)}, true},
		{"zero count span", SweepStep{Instrument: "a", Parameter: "p", Start: f64(0), Stop: f64(1)}, true},
		{"no target", SweepStep{Values: []float64{1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.step.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAsConfigExcludesRunFields(t *testing.T) {
	m := validMeasurement()
	m.SetStartTime(nil)
	m.SetEndTime(nil)
	m.Output.DataPath = "/data/runs/run.csv"

	cfg := m.AsConfig()
	if _, ok := cfg["start_time"]; ok {
		t.Error("config should not contain start_time")
	}
	if _, ok := cfg["end_time"]; ok {
		t.Error("config should not contain end_time")
	}
	out, ok := cfg["output"].(map[string]any)
	if !ok {
		t.Fatal("config missing output")
	}
	if _, ok := out["data_path"]; ok {
		t.Error("output config should not contain data_path")
	}
	if out["filename"] != "run.csv" {
		t.Errorf("filename = %v, want run.csv", out["filename"])
	}
}

func TestOutcomeAccessors(t *testing.T) {
	m := validMeasurement()
	m.Output.DataPath = "/data/runs/run.csv"
	o := &Outcome{Handle: "run_1", Status: RunSuccess, Measurement: m}
	if got := o.DataPath(); got != "/data/runs/run.csv" {
		t.Errorf("DataPath = %q", got)
	}
	if got := o.Submitter(); got != "alice" {
		t.Errorf("Submitter = %q", got)
	}

	empty := &Outcome{Handle: "run_2", Status: RunFailure}
	if empty.DataPath() != "" || empty.Submitter() != "" {
		t.Error("accessors on outcome without measurement should be empty")
	}
}
