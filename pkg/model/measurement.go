package model

import (
	"fmt"
	"time"
)

// Measurement is a single measurement definition as submitted by a Guide
// client. Once accepted into the queue its contents are never mutated in
// place; edits are modeled as remove-then-add. The spawned Controller
// receives a serialized copy and returns a completed copy (with times and
// data path filled in) when it reports the end of the run.
type Measurement struct {
	// Submitter identifies the person or entity responsible for the
	// measurement.
	Submitter string `json:"submitter"`

	// Metadata holds administrative or informational values that are not
	// passed to the instrument drivers. Opaque to the scheduling core.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Output describes where and how measurement data is written.
	Output OutputSpec `json:"output"`

	// Setvals maps instrument nickname -> parameter -> value. These are
	// applied once before the measurement starts and not changed.
	Setvals map[string]map[string]any `json:"setvals,omitempty"`

	// Sweep is the ordered sequence of sweep dimensions, outermost first;
	// the last entry is the innermost (fastest) loop.
	Sweep []SweepStep `json:"sweep,omitempty"`

	// StartTime and EndTime are stamped by the Controller around the run.
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// OutputSpec describes the measurement output destination.
type OutputSpec struct {
	Directory string `json:"directory,omitempty"`
	// Filename is a template for the data file name; the Controller may
	// substitute run-specific values into it.
	Filename string `json:"filename,omitempty"`
	// Channels lists the instrument parameters to be read out, in column
	// order.
	Channels []Channel `json:"channels,omitempty"`
	// DataPath is the absolute path of the produced data file. Filled in
	// by the Controller after a successful run.
	DataPath string `json:"data_path,omitempty"`
}

// Channel identifies one readout column.
type Channel struct {
	Instrument string `json:"instrument"`
	Parameter  string `json:"parameter"`
	Label      string `json:"label,omitempty"`
}

// SweepStep describes one sweep dimension. Exactly one point source must be
// given: an explicit Values list, a linear Start/Stop/Count span, or an Expr
// JavaScript expression that evaluates to a numeric array.
type SweepStep struct {
	Instrument string `json:"instrument"`
	Parameter  string `json:"parameter"`

	Values []float64 `json:"values,omitempty"`
	Start  *float64  `json:"start,omitempty"`
	Stop   *float64  `json:"stop,omitempty"`
	Count  int       `json:"count,omitempty"`
	Expr   string    `json:"expr,omitempty"`
}

// Validate checks a measurement definition at ingestion time. Definitions
// are validated when added to the queue rather than trusted downstream.
func (m *Measurement) Validate() error {
	if m.Submitter == "" {
		return fmt.Errorf("submitter is required")
	}
	for i, ch := range m.Output.Channels {
		if ch.Instrument == "" || ch.Parameter == "" {
			return fmt.Errorf("output channel %d: instrument and parameter are required", i)
		}
	}
	for instr, vals := range m.Setvals {
		if instr == "" {
			return fmt.Errorf("setvals: empty instrument nickname")
		}
		if len(vals) == 0 {
			return fmt.Errorf("setvals[%s]: no parameters given", instr)
		}
	}
	for i := range m.Sweep {
		if err := m.Sweep[i].Validate(); err != nil {
			return fmt.Errorf("sweep step %d: %w", i, err)
		}
	}
	return nil
}

// Validate checks that a sweep step names its target and carries exactly one
// point source.
func (s *SweepStep) Validate() error {
	if s.Instrument == "" || s.Parameter == "" {
		return fmt.Errorf("instrument and parameter are required")
	}
	sources := 0
	if len(s.Values) > 0 {
		sources++
	}
	if s.Start != nil || s.Stop != nil || s.Count != 0 {
		if s.Start == nil || s.Stop == nil || s.Count < 1 {
			return fmt.Errorf("span requires start, stop, and count >= 1")
		}
		sources++
	}
	if s.Expr != "" {
		sources++
	}
	if sources != 1 {
		return fmt.Errorf("exactly one of values, start/stop/count, or expr must be set")
	}
	return nil
}

// SetStartTime stamps the measurement start; the current time is used when
// t is nil.
func (m *Measurement) SetStartTime(t *time.Time) {
	if t == nil {
		now := time.Now().UTC()
		t = &now
	}
	m.StartTime = t
}

// SetEndTime stamps the measurement end; the current time is used when
// t is nil.
func (m *Measurement) SetEndTime(t *time.Time) {
	if t == nil {
		now := time.Now().UTC()
		t = &now
	}
	m.EndTime = t
}

// AsConfig returns a map representation suitable for dumping as a run
// config, excluding run-specific fields (times, data path).
func (m *Measurement) AsConfig() map[string]any {
	cfg := map[string]any{
		"submitter": m.Submitter,
	}
	if len(m.Metadata) > 0 {
		cfg["metadata"] = m.Metadata
	}
	out := map[string]any{}
	if m.Output.Directory != "" {
		out["directory"] = m.Output.Directory
	}
	if m.Output.Filename != "" {
		out["filename"] = m.Output.Filename
	}
	if len(m.Output.Channels) > 0 {
		channels := make([]map[string]any, 0, len(m.Output.Channels))
		for _, ch := range m.Output.Channels {
			c := map[string]any{
				"instrument": ch.Instrument,
				"parameter":  ch.Parameter,
			}
			if ch.Label != "" {
				c["label"] = ch.Label
			}
			channels = append(channels, c)
		}
		out["channels"] = channels
	}
	if len(out) > 0 {
		cfg["output"] = out
	}
	if len(m.Setvals) > 0 {
		cfg["setvals"] = m.Setvals
	}
	if len(m.Sweep) > 0 {
		sweep := make([]map[string]any, 0, len(m.Sweep))
		for _, st := range m.Sweep {
			s := map[string]any{
				"instrument": st.Instrument,
				"parameter":  st.Parameter,
			}
			switch {
			case len(st.Values) > 0:
				s["values"] = st.Values
			case st.Expr != "":
				s["expr"] = st.Expr
			default:
				s["start"] = *st.Start
				s["stop"] = *st.Stop
				s["count"] = st.Count
			}
			sweep = append(sweep, s)
		}
		cfg["sweep"] = sweep
	}
	return cfg
}
