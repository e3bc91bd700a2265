package model

import "time"

// RunStatus is the terminal status of a measurement run.
type RunStatus string

const (
	RunSuccess RunStatus = "SUCCESS"
	RunFailure RunStatus = "FAILURE"
)

// Valid reports whether s is a recognized terminal status.
func (s RunStatus) Valid() bool {
	return s == RunSuccess || s == RunFailure
}

// Outcome is the terminal result of one measurement run, produced when the
// worker's end signal is accepted. It is broadcast to Listener collaborators
// and archived in the run history; the scheduling core's obligation ends
// there.
type Outcome struct {
	// Handle is the run token issued at launch.
	Handle string `json:"handle"`

	Status RunStatus `json:"status"`

	// Measurement is the completed definition as returned by the worker,
	// including start/end times and the output data path. Falls back to
	// the record captured at launch when the worker reports a failure
	// without a payload.
	Measurement *Measurement `json:"measurement,omitempty"`

	// Error describes the failure; empty on success.
	Error string `json:"error,omitempty"`

	// CompletedAt is when the end signal was accepted by the scheduler.
	CompletedAt time.Time `json:"completed_at"`
}

// DataPath returns the output location, if any.
func (o *Outcome) DataPath() string {
	if o.Measurement == nil {
		return ""
	}
	return o.Measurement.Output.DataPath
}

// Submitter returns the submitter of the measured record, if known.
func (o *Outcome) Submitter() string {
	if o.Measurement == nil {
		return ""
	}
	return o.Measurement.Submitter
}
