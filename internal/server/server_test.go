package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/me/mem/internal/config"
	"github.com/me/mem/internal/gate"
	"github.com/me/mem/internal/history"
	"github.com/me/mem/internal/listener"
	"github.com/me/mem/internal/metrics"
	"github.com/me/mem/internal/queue"
	"github.com/me/mem/internal/scheduler"
	"github.com/me/mem/internal/supervisor"
	"github.com/me/mem/pkg/model"
)

// capturingLauncher records issued handles instead of spawning processes.
// Handles are written from the loop goroutine and read from the test
// goroutine, hence the mutex.
type capturingLauncher struct {
	mu     sync.Mutex
	handle string
}

func (c *capturingLauncher) Launch(handle string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handle = handle
	return 0, nil
}

func (c *capturingLauncher) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

type env struct {
	guide    *GuideServer
	ctrl     *ControllerServer
	hub      *listener.Hub
	store    history.Store
	launcher *capturingLauncher
}

// newEnv wires a full stack behind both servers: an in-memory history store,
// a hub, a capturing supervisor, and a fast-ticking loop running in the
// background.
func newEnv(t *testing.T, fetchCounter int) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := history.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hub := listener.NewHub(logger, st)
	reg := prometheus.NewRegistry()
	m := metrics.MustNew(reg)
	launcher := &capturingLauncher{}
	sup := supervisor.New(launcher, logger)
	instruments := config.InstrumentConfig{
		"vna": {Driver: "fake_vna", Args: []any{"GPIB::1"}},
	}

	loop := scheduler.NewLoop(queue.New(), gate.New(fetchCounter), sup, instruments,
		hub, m, scheduler.Config{TickInterval: 2 * time.Millisecond}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &env{
		guide:    NewGuide(loop, hub, logger, WithHistory(st), WithGatherer(reg)),
		ctrl:     NewController(loop, logger),
		hub:      hub,
		store:    st,
		launcher: launcher,
	}
}

// waitForRun blocks until a run is active and returns its handle.
func (e *env) waitForRun(t *testing.T) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var current currentResponse
		_, resp := doJSON(t, e.guide, http.MethodGet, "/api/v1/current", nil)
		remarshal(t, resp.Data, &current)
		if current.Running {
			return e.launcher.last()
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run never became active")
	return ""
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, model.Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var resp model.Response
	if rr.Header().Get("Content-Type") == "application/json" {
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode envelope: %v\nbody: %s", err, rr.Body.String())
		}
	}
	return rr, resp
}

// remarshal re-decodes envelope data into a concrete type.
func remarshal(t *testing.T, data any, dst any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("remarshal: %v", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("remarshal: %v", err)
	}
}

func measurementPayload(submitter string) map[string]any {
	return map[string]any{
		"submitter": submitter,
		"setvals": map[string]any{
			"vna": map[string]any{"power": -10.0},
		},
	}
}

func TestQueueAddAndList(t *testing.T) {
	e := newEnv(t, 0)

	rr, resp := doJSON(t, e.guide, http.MethodPost, "/api/v1/queue", map[string]any{
		"measurements": []any{measurementPayload("alice"), measurementPayload("bob")},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var added queueAddResponse
	remarshal(t, resp.Data, &added)
	if len(added.Added) != 2 || added.Added[0] != 0 || added.Added[1] != 1 {
		t.Errorf("added = %v", added.Added)
	}

	rr, resp = doJSON(t, e.guide, http.MethodGet, "/api/v1/queue", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var list queueListResponse
	remarshal(t, resp.Data, &list)
	if len(list.Queue) != 2 {
		t.Fatalf("queue length = %d", len(list.Queue))
	}

	_, resp = doJSON(t, e.guide, http.MethodGet, "/api/v1/queue?submitter=bob", nil)
	remarshal(t, resp.Data, &list)
	if len(list.Queue) != 1 || list.Queue[0].Submitter != "bob" {
		t.Errorf("filtered queue = %+v", list.Queue)
	}

	_, resp = doJSON(t, e.guide, http.MethodGet, "/api/v1/queue/length", nil)
	var length queueLengthResponse
	remarshal(t, resp.Data, &length)
	if length.Length != 2 {
		t.Errorf("length = %d", length.Length)
	}
}

func TestQueueAddAcceptsBareShapes(t *testing.T) {
	e := newEnv(t, 0)

	// Bare array.
	rr, _ := doJSON(t, e.guide, http.MethodPost, "/api/v1/queue",
		[]any{measurementPayload("alice")})
	if rr.Code != http.StatusCreated {
		t.Fatalf("array body status = %d, body = %s", rr.Code, rr.Body.String())
	}

	// Single bare record.
	rr, _ = doJSON(t, e.guide, http.MethodPost, "/api/v1/queue",
		measurementPayload("bob"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("single body status = %d, body = %s", rr.Code, rr.Body.String())
	}

	_, resp := doJSON(t, e.guide, http.MethodGet, "/api/v1/queue/length", nil)
	var length queueLengthResponse
	remarshal(t, resp.Data, &length)
	if length.Length != 2 {
		t.Errorf("length = %d", length.Length)
	}
}

func TestQueueAddRejectsInvalidRecord(t *testing.T) {
	e := newEnv(t, 0)

	rr, resp := doJSON(t, e.guide, http.MethodPost, "/api/v1/queue", map[string]any{
		"measurements": []any{map[string]any{"setvals": map[string]any{}}},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if resp.Error == nil || resp.Error.Code != model.ErrProtocol {
		t.Errorf("error = %+v", resp.Error)
	}

	// The rejected batch must leave the queue untouched.
	_, lenResp := doJSON(t, e.guide, http.MethodGet, "/api/v1/queue/length", nil)
	var length queueLengthResponse
	remarshal(t, lenResp.Data, &length)
	if length.Length != 0 {
		t.Errorf("length = %d after rejected add", length.Length)
	}
}

func TestQueueRemove(t *testing.T) {
	e := newEnv(t, 0)
	for _, sub := range []string{"a", "b", "c"} {
		doJSON(t, e.guide, http.MethodPost, "/api/v1/queue", map[string]any{
			"measurements": []any{measurementPayload(sub)},
		})
	}

	rr, resp := doJSON(t, e.guide, http.MethodPost, "/api/v1/queue/remove", map[string]any{
		"positions": []int{0, 2, 99, -1},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var removed queueRemoveResponse
	remarshal(t, resp.Data, &removed)
	if len(removed.Removed) != 2 {
		t.Errorf("removed = %v", removed.Removed)
	}

	_, listResp := doJSON(t, e.guide, http.MethodGet, "/api/v1/queue", nil)
	var list queueListResponse
	remarshal(t, listResp.Data, &list)
	if len(list.Queue) != 1 || list.Queue[0].Submitter != "b" {
		t.Errorf("queue after remove = %+v", list.Queue)
	}
}

func TestFetchCounterRoundTrip(t *testing.T) {
	e := newEnv(t, 0)

	_, resp := doJSON(t, e.guide, http.MethodGet, "/api/v1/fetch", nil)
	var fr fetchResponse
	remarshal(t, resp.Data, &fr)
	if fr.Counter != 0 {
		t.Errorf("initial counter = %d", fr.Counter)
	}

	_, resp = doJSON(t, e.guide, http.MethodPut, "/api/v1/fetch", map[string]int{"value": 3})
	remarshal(t, resp.Data, &fr)
	if fr.Counter != 3 {
		t.Errorf("counter = %d after set", fr.Counter)
	}

	// Below -1 clamps to endless.
	_, resp = doJSON(t, e.guide, http.MethodPut, "/api/v1/fetch", map[string]int{"value": -5})
	remarshal(t, resp.Data, &fr)
	if fr.Counter != gate.Endless {
		t.Errorf("counter = %d, want %d", fr.Counter, gate.Endless)
	}
}

func TestWorkerRunLifecycle(t *testing.T) {
	e := newEnv(t, 1)

	doJSON(t, e.guide, http.MethodPost, "/api/v1/queue", map[string]any{
		"measurements": []any{measurementPayload("alice")},
	})
	handle := e.waitForRun(t)

	rr, resp := doJSON(t, e.ctrl, http.MethodGet, "/api/v1/measurement", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("measurement status = %d", rr.Code)
	}
	var rec model.Measurement
	remarshal(t, resp.Data, &rec)
	if rec.Submitter != "alice" {
		t.Errorf("active submitter = %q", rec.Submitter)
	}

	rr, resp = doJSON(t, e.ctrl, http.MethodGet, "/api/v1/config", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("config status = %d", rr.Code)
	}
	var instruments config.InstrumentConfig
	remarshal(t, resp.Data, &instruments)
	if instruments["vna"].Driver != "fake_vna" {
		t.Errorf("config = %+v", instruments)
	}

	// A bogus handle must be rejected without disturbing the run.
	rr, resp = doJSON(t, e.ctrl, http.MethodPost, "/api/v1/start", map[string]string{"handle": "run_bogus"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("stale start status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if resp.Error == nil || resp.Error.Code != model.ErrConflict {
		t.Errorf("stale start error = %+v", resp.Error)
	}

	rr, _ = doJSON(t, e.ctrl, http.MethodPost, "/api/v1/start", map[string]string{"handle": handle})
	if rr.Code != http.StatusOK {
		t.Fatalf("start status = %d", rr.Code)
	}
}

func TestEndBroadcastsAndArchives(t *testing.T) {
	e := newEnv(t, gate.Endless)

	outcomes, cancelSub := e.hub.Subscribe()
	defer cancelSub()

	doJSON(t, e.guide, http.MethodPost, "/api/v1/queue", map[string]any{
		"measurements": []any{measurementPayload("alice")},
	})
	handle := e.waitForRun(t)

	// End with a stale handle first: rejected, run stays active.
	rr, _ := doJSON(t, e.ctrl, http.MethodPost, "/api/v1/end", map[string]any{
		"handle": "run_stale", "status": "SUCCESS",
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("stale end status = %d", rr.Code)
	}

	rr, _ = doJSON(t, e.ctrl, http.MethodPost, "/api/v1/end", map[string]any{
		"handle":      handle,
		"status":      "SUCCESS",
		"measurement": measurementPayload("alice"),
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("end status = %d, body = %s", rr.Code, rr.Body.String())
	}

	select {
	case outcome := <-outcomes:
		if outcome.Status != model.RunSuccess || outcome.Handle != handle {
			t.Errorf("outcome = %+v", outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome broadcast")
	}

	// Archived via the hub's history sink.
	rr, resp := doJSON(t, e.guide, http.MethodGet, "/api/v1/history", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("history status = %d", rr.Code)
	}
	if resp.Pagination == nil || resp.Pagination.Total != 1 {
		t.Errorf("pagination = %+v", resp.Pagination)
	}
	var runs []*history.Run
	remarshal(t, resp.Data, &runs)
	if len(runs) != 1 || runs[0].Handle != handle {
		t.Fatalf("runs = %+v", runs)
	}

	rr, _ = doJSON(t, e.guide, http.MethodGet, "/api/v1/history/"+runs[0].ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("history get status = %d", rr.Code)
	}
	rr, _ = doJSON(t, e.guide, http.MethodGet, "/api/v1/history/hist_missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing run status = %d", rr.Code)
	}
}

func TestMeasurementWhileIdleIsProtocolError(t *testing.T) {
	e := newEnv(t, 0)

	rr, resp := doJSON(t, e.ctrl, http.MethodGet, "/api/v1/measurement", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if resp.Error == nil || resp.Error.Code != model.ErrProtocol {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	e := newEnv(t, 0)

	rr, resp := doJSON(t, e.guide, http.MethodGet, "/api/v1/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("health status = %d", rr.Code)
	}
	var h healthResponse
	remarshal(t, resp.Data, &h)
	if h.Status != "healthy" || h.History != "enabled" {
		t.Errorf("health = %+v", h)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	mrr := httptest.NewRecorder()
	e.guide.ServeHTTP(mrr, req)
	if mrr.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", mrr.Code)
	}
	if !bytes.Contains(mrr.Body.Bytes(), []byte("mem_scheduler_queue_length")) {
		t.Error("metrics output missing queue length gauge")
	}
}

func TestSSECompletedStreamsOutcome(t *testing.T) {
	e := newEnv(t, gate.Endless)

	srv := httptest.NewServer(e.guide)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/sse/completed", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer res.Body.Close()
	if ct := res.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// Drive a completed run while the stream is open.
	doJSON(t, e.guide, http.MethodPost, "/api/v1/queue", map[string]any{
		"measurements": []any{measurementPayload("alice")},
	})
	handle := e.waitForRun(t)
	doJSON(t, e.ctrl, http.MethodPost, "/api/v1/end", map[string]any{
		"handle": handle, "status": "FAILURE", "error": "probe lost lock",
	})

	// Read until the completed event arrives.
	buf := make([]byte, 4096)
	var stream bytes.Buffer
	for {
		n, err := res.Body.Read(buf)
		stream.Write(buf[:n])
		if bytes.Contains(stream.Bytes(), []byte("event: completed")) {
			break
		}
		if err != nil {
			t.Fatalf("stream ended early: %v\n%s", err, stream.String())
		}
	}
	if !bytes.Contains(stream.Bytes(), []byte("probe lost lock")) {
		t.Errorf("completed event missing error detail:\n%s", stream.String())
	}
}
