// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package metrics provides Prometheus metrics for the PK voting service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns every collector the service exports.
type Manager struct {
	namespace        string
	histogramBuckets []float64
	registry         *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	locksIssued   prometheus.Counter
	locksExpired  prometheus.Counter
	locksReleased prometheus.Counter
	activeLocks   prometheus.Gauge

	votesAccepted prometheus.Counter
	voteConflicts *prometheus.CounterVec
	voteDuration  prometheus.Histogram
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithHistogramBuckets sets custom buckets for the HTTP latency histogram.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.histogramBuckets = buckets
		}
	}
}

// WithRegistry registers collectors on the given registry instead of a fresh one.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}

var global = NewManager() //nolint:gochecknoglobals // process-wide collectors

// NewManager creates a manager on a private registry so Go runtime
// collectors are only exported when explicitly added.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "pkarena",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests by route, method and status code",
	}, []string{"route", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   m.histogramBuckets,
	}, []string{"route", "method"})

	m.locksIssued = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "voting",
		Name:      "locks_issued_total",
		Help:      "Number of PK locks handed out to judges",
	})

	m.locksExpired = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "voting",
		Name:      "locks_expired_total",
		Help:      "Number of PK locks that ran out before a vote",
	})

	m.locksReleased = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "voting",
		Name:      "locks_released_total",
		Help:      "Number of PK locks released because their match was cancelled",
	})

	m.activeLocks = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "voting",
		Name:      "active_locks",
		Help:      "Active PK locks seen by the last sweep",
	})

	m.votesAccepted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "voting",
		Name:      "votes_accepted_total",
		Help:      "Number of votes recorded",
	})

	m.voteConflicts = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "voting",
		Name:      "vote_conflicts_total",
		Help:      "Rejected vote submissions by conflict reason",
	}, []string{"reason"})

	m.voteDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "voting",
		Name:      "vote_duration_seconds",
		Help:      "Time between lock issue and vote submission",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
	})
}

// Handler serves the manager's registry in the Prometheus text format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// Default returns the process-wide manager.
func Default() *Manager { return global }

func RecordHTTPRequest(route, method, statusCode string, seconds float64) {
	global.httpRequests.WithLabelValues(route, method, statusCode).Inc()
	global.httpRequestDuration.WithLabelValues(route, method).Observe(seconds)
}

func RecordLockIssued() { global.locksIssued.Inc() }

func RecordLocksExpired(n int) { global.locksExpired.Add(float64(n)) }

func RecordLocksReleased(n int) { global.locksReleased.Add(float64(n)) }

func SetActiveLocks(n int) { global.activeLocks.Set(float64(n)) }

func RecordVoteAccepted(durationSeconds int) {
	global.votesAccepted.Inc()
	global.voteDuration.Observe(float64(durationSeconds))
}

func RecordVoteConflict(reason string) { global.voteConflicts.WithLabelValues(reason).Inc() }
