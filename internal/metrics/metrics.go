// Package metrics exposes Prometheus collectors reporting scheduler
// activity.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors updated by the scheduler loop.
type Metrics struct {
	Launches       prometheus.Counter
	LaunchFailures prometheus.Counter
	Completions    *prometheus.CounterVec
	ProtocolErrors prometheus.Counter
	QueueLength    prometheus.Gauge
	FetchCounter   prometheus.Gauge
}

var (
	defaultOnce   sync.Once
	defaultShared *Metrics
)

// Default returns the package-level instance registered with the global
// Prometheus registry. The collectors are created only once to avoid
// duplicate registration panics when the loop is constructed more than once.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultShared = MustNew(prometheus.DefaultRegisterer)
	})
	return defaultShared
}

// MustNew constructs a Metrics instance on the provided registerer. Supply a
// fresh registry in tests that need unique metric names; registration errors
// panic, surfacing configuration bugs early.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Launches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mem",
			Subsystem: "scheduler",
			Name:      "launches_total",
			Help:      "Number of measurement workers launched.",
		}),
		LaunchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mem",
			Subsystem: "scheduler",
			Name:      "launch_failures_total",
			Help:      "Number of launch attempts that failed to start a worker.",
		}),
		Completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mem",
			Subsystem: "scheduler",
			Name:      "completions_total",
			Help:      "Number of accepted measurement end signals by status.",
		}, []string{"status"}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mem",
			Subsystem: "scheduler",
			Name:      "protocol_errors_total",
			Help:      "Number of malformed or unrecognized requests.",
		}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mem",
			Subsystem: "scheduler",
			Name:      "queue_length",
			Help:      "Current number of queued measurements.",
		}),
		FetchCounter: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mem",
			Subsystem: "scheduler",
			Name:      "fetch_counter",
			Help:      "Current fetch counter value (-1 means endless).",
		}),
	}
	reg.MustRegister(
		m.Launches,
		m.LaunchFailures,
		m.Completions,
		m.ProtocolErrors,
		m.QueueLength,
		m.FetchCounter,
	)
	return m
}
