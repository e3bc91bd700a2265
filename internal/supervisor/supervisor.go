// Package supervisor owns the Idle/Running transition and the lifecycle of
// the spawned per-measurement worker (the Controller process). At most one
// run is tracked at a time; this is the single-concurrency guarantee of the
// whole design.
//
// Known limitation: if the worker process dies without delivering an end
// signal, the supervisor has no detection mechanism and the run state stays
// Running indefinitely. An operator must restart the memd process. The
// spawned PID is logged at launch to aid manual recovery.
package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/me/mem/pkg/model"
)

// ErrLaunch wraps failures to start the worker process. The caller restores
// the record to the queue front; launch is all-or-nothing.
var ErrLaunch = errors.New("worker launch failed")

// ErrBusy is returned when a launch is attempted while a run is active.
var ErrBusy = errors.New("a measurement is already running")

// ErrStaleHandle is returned for start/end signals whose handle does not
// match the currently tracked run. Such signals never flip the run state.
var ErrStaleHandle = errors.New("handle does not match the active run")

// Launcher starts the external worker process for one run. Implementations
// must return promptly; they never wait for the measurement to finish.
type Launcher interface {
	Launch(handle string) (pid int, err error)
}

// ProcessLauncher spawns the worker binary as a detached OS process, passing
// the Controller-channel endpoint and the run handle on the command line.
type ProcessLauncher struct {
	Bin      string
	Endpoint string
	Logger   *slog.Logger
}

// Launch starts `bin <endpoint> --run-id <handle>` in its own session so the
// worker survives independently of the daemon.
func (p *ProcessLauncher) Launch(handle string) (int, error) {
	cmd := exec.Command(p.Bin, p.Endpoint, "--run-id", handle)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", p.Bin, err)
	}
	pid := cmd.Process.Pid
	// Detach: the worker reports back over the Controller channel, not via
	// process exit status.
	if err := cmd.Process.Release(); err != nil {
		p.Logger.Warn("release worker process", "pid", pid, "error", err)
	}
	return pid, nil
}

// NopLauncher skips the actual process spawn. Used with --disable-launch,
// where the worker is started by hand for debugging; run-state transitions
// behave exactly as with a real launch.
type NopLauncher struct {
	Logger *slog.Logger
}

func (n *NopLauncher) Launch(handle string) (int, error) {
	n.Logger.Warn("launch disabled; start the worker manually", "handle", handle)
	return 0, nil
}

// run tracks the currently executing measurement.
type run struct {
	handle    string
	record    *model.Measurement
	pid       int
	launched  time.Time
	confirmed bool
}

// Supervisor tracks the single active run. It is mutated only from the
// scheduler loop's goroutine and therefore carries no locking.
type Supervisor struct {
	launcher Launcher
	logger   *slog.Logger
	current  *run
}

// New creates a Supervisor using the given launcher.
func New(launcher Launcher, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		launcher: launcher,
		logger:   logger.With("component", "supervisor"),
	}
}

// Running reports whether a run is active.
func (s *Supervisor) Running() bool {
	return s.current != nil
}

// Current returns the record of the active run, or nil when idle.
func (s *Supervisor) Current() *model.Measurement {
	if s.current == nil {
		return nil
	}
	return s.current.record
}

// CurrentHandle returns the handle of the active run, or "" when idle.
func (s *Supervisor) CurrentHandle() string {
	if s.current == nil {
		return ""
	}
	return s.current.handle
}

// Launch issues a fresh handle, spawns the worker, and transitions to
// Running. On failure the state is left Idle and the record untouched; the
// caller keeps ownership.
func (s *Supervisor) Launch(record *model.Measurement) (string, error) {
	if s.current != nil {
		return "", ErrBusy
	}
	handle := "run_" + uuid.New().String()[:8]
	pid, err := s.launcher.Launch(handle)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	s.current = &run{
		handle:   handle,
		record:   record,
		pid:      pid,
		launched: time.Now().UTC(),
	}
	s.logger.Info("worker launched",
		"handle", handle,
		"pid", pid,
		"submitter", record.Submitter,
	)
	return handle, nil
}

// OnWorkerStart acknowledges that the worker has begun. Idempotent and used
// for observability only; the run state became Running at launch.
func (s *Supervisor) OnWorkerStart(handle string) error {
	if s.current == nil || s.current.handle != handle {
		s.logger.Error("start signal with stale handle ignored",
			"handle", handle, "active", s.CurrentHandle())
		return ErrStaleHandle
	}
	if !s.current.confirmed {
		s.current.confirmed = true
		s.logger.Info("measurement started", "handle", handle)
	}
	return nil
}

// OnWorkerEnd accepts an authenticated end signal, transitions to Idle, and
// returns the terminal outcome for broadcast. An end signal whose handle
// does not match the tracked run is a protocol violation: it is logged,
// ErrStaleHandle is returned, and the run state is untouched.
func (s *Supervisor) OnWorkerEnd(handle string, status model.RunStatus, completed *model.Measurement, errMsg string) (*model.Outcome, error) {
	if s.current == nil || s.current.handle != handle {
		s.logger.Error("end signal with stale handle ignored",
			"handle", handle, "active", s.CurrentHandle())
		return nil, ErrStaleHandle
	}
	record := completed
	if record == nil {
		record = s.current.record
	}
	outcome := &model.Outcome{
		Handle:      handle,
		Status:      status,
		Measurement: record,
		Error:       errMsg,
		CompletedAt: time.Now().UTC(),
	}
	s.logger.Info("measurement finished",
		"handle", handle,
		"status", status,
		"data_path", outcome.DataPath(),
		"elapsed", time.Since(s.current.launched).Round(time.Millisecond).String(),
	)
	s.current = nil
	return outcome, nil
}
