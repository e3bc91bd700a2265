package supervisor

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/me/mem/pkg/model"
)

// fakeLauncher records launches and can be told to fail.
type fakeLauncher struct {
	fail     error
	launches []string
}

func (f *fakeLauncher) Launch(handle string) (int, error) {
	if f.fail != nil {
		return 0, f.fail
	}
	f.launches = append(f.launches, handle)
	return 4242, nil
}

func testSupervisor(t *testing.T, l Launcher) *Supervisor {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(l, logger)
}

func TestLaunchTransitionsToRunning(t *testing.T) {
	fl := &fakeLauncher{}
	s := testSupervisor(t, fl)
	rec := &model.Measurement{Submitter: "alice"}

	handle, err := s.Launch(rec)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if handle == "" {
		t.Fatal("Launch returned empty handle")
	}
	if !s.Running() {
		t.Error("supervisor should be Running after launch")
	}
	if s.Current() != rec {
		t.Error("Current() should be the launched record")
	}
	if s.CurrentHandle() != handle {
		t.Errorf("CurrentHandle = %q, want %q", s.CurrentHandle(), handle)
	}
	if len(fl.launches) != 1 || fl.launches[0] != handle {
		t.Errorf("launcher called with %v, want [%s]", fl.launches, handle)
	}
}

func TestLaunchWhileRunningFails(t *testing.T) {
	s := testSupervisor(t, &fakeLauncher{})
	if _, err := s.Launch(&model.Measurement{Submitter: "a"}); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if _, err := s.Launch(&model.Measurement{Submitter: "b"}); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Launch = %v, want ErrBusy", err)
	}
}

func TestLaunchFailureStaysIdle(t *testing.T) {
	fl := &fakeLauncher{fail: errors.New("no such binary")}
	s := testSupervisor(t, fl)

	_, err := s.Launch(&model.Measurement{Submitter: "a"})
	if !errors.Is(err, ErrLaunch) {
		t.Fatalf("Launch = %v, want ErrLaunch", err)
	}
	if s.Running() {
		t.Error("supervisor must stay Idle after a failed launch")
	}
}

func TestOnWorkerStartIsIdempotent(t *testing.T) {
	s := testSupervisor(t, &fakeLauncher{})
	handle, _ := s.Launch(&model.Measurement{Submitter: "a"})

	if err := s.OnWorkerStart(handle); err != nil {
		t.Fatalf("OnWorkerStart: %v", err)
	}
	if err := s.OnWorkerStart(handle); err != nil {
		t.Fatalf("repeated OnWorkerStart: %v", err)
	}
	if !s.Running() {
		t.Error("start signal must not change the run state")
	}
}

func TestOnWorkerStartStaleHandle(t *testing.T) {
	s := testSupervisor(t, &fakeLauncher{})
	s.Launch(&model.Measurement{Submitter: "a"})

	if err := s.OnWorkerStart("run_bogus"); !errors.Is(err, ErrStaleHandle) {
		t.Fatalf("OnWorkerStart(stale) = %v, want ErrStaleHandle", err)
	}
	if !s.Running() {
		t.Error("stale start must not change the run state")
	}
}

func TestOnWorkerEndYieldsOutcomeAndGoesIdle(t *testing.T) {
	s := testSupervisor(t, &fakeLauncher{})
	launched := &model.Measurement{Submitter: "alice"}
	handle, _ := s.Launch(launched)

	completed := &model.Measurement{Submitter: "alice"}
	completed.Output.DataPath = "/data/run.csv"

	outcome, err := s.OnWorkerEnd(handle, model.RunSuccess, completed, "")
	if err != nil {
		t.Fatalf("OnWorkerEnd: %v", err)
	}
	if s.Running() {
		t.Error("supervisor should be Idle after end signal")
	}
	if outcome.Handle != handle {
		t.Errorf("outcome handle = %q, want %q", outcome.Handle, handle)
	}
	if outcome.Status != model.RunSuccess {
		t.Errorf("outcome status = %q", outcome.Status)
	}
	if outcome.DataPath() != "/data/run.csv" {
		t.Errorf("outcome data path = %q", outcome.DataPath())
	}
	if outcome.CompletedAt.IsZero() {
		t.Error("outcome missing completion time")
	}
}

func TestOnWorkerEndWithoutPayloadUsesLaunchedRecord(t *testing.T) {
	s := testSupervisor(t, &fakeLauncher{})
	launched := &model.Measurement{Submitter: "bob"}
	handle, _ := s.Launch(launched)

	outcome, err := s.OnWorkerEnd(handle, model.RunFailure, nil, "driver timeout")
	if err != nil {
		t.Fatalf("OnWorkerEnd: %v", err)
	}
	if outcome.Measurement != launched {
		t.Error("outcome should fall back to the record captured at launch")
	}
	if outcome.Error != "driver timeout" {
		t.Errorf("outcome error = %q", outcome.Error)
	}
}

func TestOnWorkerEndStaleHandleIgnored(t *testing.T) {
	s := testSupervisor(t, &fakeLauncher{})
	s.Launch(&model.Measurement{Submitter: "a"})

	outcome, err := s.OnWorkerEnd("run_stale", model.RunSuccess, nil, "")
	if !errors.Is(err, ErrStaleHandle) {
		t.Fatalf("OnWorkerEnd(stale) = %v, want ErrStaleHandle", err)
	}
	if outcome != nil {
		t.Error("no outcome may be produced for a stale handle")
	}
	if !s.Running() {
		t.Error("stale end must never flip the run state")
	}
}

func TestNopLauncher(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	n := &NopLauncher{Logger: logger}
	pid, err := n.Launch("run_x")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if pid != 0 {
		t.Errorf("pid = %d, want 0", pid)
	}
}
