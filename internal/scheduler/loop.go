// Package scheduler implements the single-threaded event loop coordinating
// the measurement queue, the fetch gate, and the worker supervisor. All
// mutation of those structures happens inside the loop's goroutine; external
// requests arrive as data over two channels and are consumed synchronously
// during the drain steps, which removes the need for locks around the core
// state at the cost of bounding responsiveness to the tick interval.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/me/mem/internal/config"
	"github.com/me/mem/internal/gate"
	"github.com/me/mem/internal/metrics"
	"github.com/me/mem/internal/queue"
	"github.com/me/mem/internal/supervisor"
)

// Config holds scheduler configuration.
type Config struct {
	TickInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{TickInterval: 5 * time.Second}
}

// Loop drives the fixed-order tick: launch attempt, Guide drain, Controller
// drain, sleep. A freshly queued measurement can launch on the very next
// tick before any other request is serviced, and end signals are drained
// every tick regardless of launch outcome.
type Loop struct {
	queue       *queue.Queue
	gate        *gate.Gate
	supervisor  *supervisor.Supervisor
	instruments config.InstrumentConfig
	publisher   Publisher
	metrics     *metrics.Metrics
	config      Config
	logger      *slog.Logger

	guideCh chan *GuideRequest
	ctrlCh  chan *ControlRequest
	wake    chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewLoop assembles a scheduler loop around its owned components.
func NewLoop(
	q *queue.Queue,
	g *gate.Gate,
	sup *supervisor.Supervisor,
	instruments config.InstrumentConfig,
	pub Publisher,
	m *metrics.Metrics,
	cfg Config,
	logger *slog.Logger,
) *Loop {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	return &Loop{
		queue:       q,
		gate:        g,
		supervisor:  sup,
		instruments: instruments,
		publisher:   pub,
		metrics:     m,
		config:      cfg,
		logger:      logger.With("component", "scheduler"),
		guideCh:     make(chan *GuideRequest, 64),
		ctrlCh:      make(chan *ControlRequest, 16),
		wake:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start runs the event loop. Blocks until ctx is cancelled or Stop is
// called. Request arrival wakes the loop early; a woken tick still runs the
// launch attempt before draining.
func (l *Loop) Start(ctx context.Context) error {
	l.logger.Info("scheduler started",
		"tick_interval", l.config.TickInterval,
		"fetch_counter", l.gate.Get(),
	)
	ticker := time.NewTicker(l.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scheduler stopping (context cancelled)")
			close(l.doneCh)
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("scheduler stopping (stop called)")
			close(l.doneCh)
			return nil
		case <-ticker.C:
			l.Tick(ctx)
		case <-l.wake:
			l.Tick(ctx)
		}
	}
}

// Stop shuts down the scheduler and waits for the current tick to finish.
func (l *Loop) Stop() error {
	close(l.stopCh)
	<-l.doneCh
	return nil
}

// wakeup nudges the loop to run a tick ahead of the next ticker fire.
func (l *Loop) wakeup() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Tick runs a single scheduling iteration in strict order: launch attempt,
// Guide drain, Controller drain.
func (l *Loop) Tick(ctx context.Context) {
	l.launchAttempt()
	l.drainGuide()
	l.drainControl(ctx)

	l.metrics.QueueLength.Set(float64(l.queue.Len()))
	l.metrics.FetchCounter.Set(float64(l.gate.Get()))
}

// launchAttempt pops and launches the front measurement when the run state
// is idle, the gate permits a launch, and the queue is non-empty. On launch
// failure the record goes back to the queue front and the gate is left
// untouched; there is no retry within the same tick.
func (l *Loop) launchAttempt() {
	if l.supervisor.Running() {
		l.logger.Debug("a measurement is currently in progress")
		return
	}
	if !l.gate.MayLaunch() {
		l.logger.Debug("fetch counter is at 0; waiting for increase")
		return
	}
	if l.queue.Len() == 0 {
		return
	}

	rec, err := l.queue.PopFront()
	if err != nil {
		// Guarded by the length check above; reaching this is a defect.
		l.logger.Error("pop from non-empty queue failed", "error", err)
		return
	}

	if _, err := l.supervisor.Launch(rec); err != nil {
		l.metrics.LaunchFailures.Inc()
		l.logger.Error("launch failed; restoring record to queue front",
			"submitter", rec.Submitter, "error", err)
		if insErr := l.queue.Insert(rec, 0); insErr != nil {
			l.logger.Error("restore record to queue front", "error", insErr)
		}
		return
	}

	if err := l.gate.ConsumeOne(); err != nil {
		// MayLaunch was checked above; this indicates a logic defect, not a
		// runtime condition.
		l.logger.Error("fetch counter consume after launch", "error", err)
	}
	l.metrics.Launches.Inc()
	l.logger.Info("fetch counter consumed", "counter", l.gate.Get())
}

// drainGuide processes all currently pending Guide requests, replying to
// each before reading the next. Receives are non-blocking; the drain ends as
// soon as no message is already waiting.
func (l *Loop) drainGuide() {
	for {
		select {
		case req := <-l.guideCh:
			rep := l.applyGuide(req)
			if rep.Err != nil && !errors.Is(rep.Err, ErrProtocol) {
				l.logger.Error("guide request failed", "op", string(req.Op), "error", rep.Err)
			}
			req.reply <- rep
		default:
			return
		}
	}
}

// drainControl processes all currently pending Controller requests the same
// way.
func (l *Loop) drainControl(ctx context.Context) {
	for {
		select {
		case req := <-l.ctrlCh:
			rep := l.applyControl(ctx, req)
			if rep.Err != nil && !errors.Is(rep.Err, ErrProtocol) {
				l.logger.Error("controller request failed", "op", string(req.Op), "error", rep.Err)
			}
			req.reply <- rep
		default:
			return
		}
	}
}
