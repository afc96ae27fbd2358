// Package metrics provides Prometheus-compatible instrumentation for the
// LaunchPad scheduler.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LaunchPadMetrics provides the Prometheus metrics a LaunchPad instance
// updates as it dispatches, checks in, and recovers fireworks.
//
// Metrics exposed (all namespaced with "launchpad_"):
//
// 1. fireworks_by_state (gauge): Current count of fireworks per state.
// Labels: state.
// Use: Watch READY/RUNNING/RESERVED backlog in near real time.
//
// 2. dispatch_latency_ms (histogram): Time spent in ReserveReady, from
// query to returned (or empty) result.
// Buckets: [1, 5, 10, 50, 100, 500, 1000, 5000].
//
// 3. checkins_total (counter): Checkins processed, labeled by resulting
// state (COMPLETED, FIZZLED, ...).
//
// 4. lock_wait_ms (histogram): Time spent waiting to acquire a WFLock.
//
// 5. lock_contentions_total (counter): Times a lock acquisition had to
// retry because the workflow was already locked.
//
// 6. janitor_recoveries_total (counter): Reservations or runs recovered
// by the janitor, labeled by kind ("unreserved", "lost_run").
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	m := metrics.New(registry)
//	lp := launchpad.New(st, nil, emitter, m)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// Thread-safe: all methods are safe for concurrent use.
type LaunchPadMetrics struct {
	fireworksByState *prometheus.GaugeVec
	dispatchLatency  prometheus.Histogram
	checkins         *prometheus.CounterVec
	lockWait         prometheus.Histogram
	lockContentions  prometheus.Counter
	janitorRecovered *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// New creates and registers all LaunchPad metrics with the provided
// Prometheus registry. Pass prometheus.DefaultRegisterer for the global
// registry, or a fresh prometheus.NewRegistry() for test isolation.
func New(registry prometheus.Registerer) *LaunchPadMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	m := &LaunchPadMetrics{enabled: true}

	m.fireworksByState = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "launchpad",
		Name:      "fireworks_by_state",
		Help:      "Current number of fireworks in each state",
	}, []string{"state"})

	m.dispatchLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "launchpad",
		Name:      "dispatch_latency_ms",
		Help:      "Time spent selecting and reserving a firework in ReserveReady",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
	})

	m.checkins = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "launchpad",
		Name:      "checkins_total",
		Help:      "Checkins processed, labeled by resulting firework state",
	}, []string{"state"})

	m.lockWait = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "launchpad",
		Name:      "lock_wait_ms",
		Help:      "Time spent waiting to acquire a workflow lock",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 30000},
	})

	m.lockContentions = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "launchpad",
		Name:      "lock_contentions_total",
		Help:      "Workflow lock acquisitions that had to back off and retry",
	})

	m.janitorRecovered = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "launchpad",
		Name:      "janitor_recoveries_total",
		Help:      "Reservations or runs recovered by the janitor",
	}, []string{"kind"})

	return m
}

// SetFireworksByState updates the gauge for a single state.
func (m *LaunchPadMetrics) SetFireworksByState(state string, count int) {
	if !m.isEnabled() {
		return
	}
	m.fireworksByState.WithLabelValues(state).Set(float64(count))
}

// ObserveDispatchLatency records how long a ReserveReady call took.
func (m *LaunchPadMetrics) ObserveDispatchLatency(d time.Duration) {
	if !m.isEnabled() {
		return
	}
	m.dispatchLatency.Observe(float64(d.Milliseconds()))
}

// IncrementCheckins increments the checkin counter for the resulting state.
func (m *LaunchPadMetrics) IncrementCheckins(state string) {
	if !m.isEnabled() {
		return
	}
	m.checkins.WithLabelValues(state).Inc()
}

// ObserveLockWait records how long a WFLock.Acquire call waited before
// succeeding (or giving up).
func (m *LaunchPadMetrics) ObserveLockWait(d time.Duration) {
	if !m.isEnabled() {
		return
	}
	m.lockWait.Observe(float64(d.Milliseconds()))
}

// IncrementLockContention increments the lock contention counter.
func (m *LaunchPadMetrics) IncrementLockContention() {
	if !m.isEnabled() {
		return
	}
	m.lockContentions.Inc()
}

// IncrementJanitorRecovered increments the janitor recovery counter for
// the given kind ("unreserved" or "lost_run").
func (m *LaunchPadMetrics) IncrementJanitorRecovered(kind string) {
	if !m.isEnabled() {
		return
	}
	m.janitorRecovered.WithLabelValues(kind).Inc()
}

func (m *LaunchPadMetrics) isEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Disable temporarily stops metric recording (useful for benchmarks that
// want to exclude instrumentation overhead).
func (m *LaunchPadMetrics) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// Enable re-enables metric recording after Disable.
func (m *LaunchPadMetrics) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}
