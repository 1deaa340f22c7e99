package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	circuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "faultgate",
			Subsystem: "circuit",
			Name:      "state",
			Help:      "Current circuit state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	circuitTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faultgate",
			Subsystem: "circuit",
			Name:      "transitions_total",
			Help:      "Number of circuit state transitions.",
		}, []string{"from", "to"},
	)
	probeLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "faultgate",
			Subsystem: "health",
			Name:      "probe_latency_seconds",
			Help:      "Wall-clock latency of health probes.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	probeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "faultgate",
			Subsystem: "health",
			Name:      "probe_failures_total",
			Help:      "Number of failed health probes.",
		},
	)
	healthStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "faultgate",
			Subsystem: "health",
			Name:      "status",
			Help:      "Current health status (1 = active status, 0 = inactive).",
		}, []string{"status"},
	)
	computedTimeout = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "faultgate",
			Subsystem: "timeout",
			Name:      "computed_seconds",
			Help:      "Effective per-call timeouts handed to the dispatch layer.",
			Buckets:   []float64{1, 2.5, 5, 10, 15, 30, 45, 60, 90, 120},
		}, []string{"category"},
	)
	outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faultgate",
			Subsystem: "commands",
			Name:      "outcomes_total",
			Help:      "Recorded protected-call outcomes by category and result.",
		}, []string{"category", "result"},
	)
)

// Register registers all collectors with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{circuitState, circuitTransitions, probeLatency, probeFailures, healthStatus, computedTimeout, outcomes}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func SetCircuitState(active string) {
	if !regOK.Load() {
		return
	}
	for _, s := range []string{"closed", "open", "half_open"} {
		v := 0.0
		if s == active {
			v = 1
		}
		circuitState.WithLabelValues(s).Set(v)
	}
}

func RecordCircuitTransition(from, to string) {
	if regOK.Load() {
		circuitTransitions.WithLabelValues(from, to).Inc()
	}
}

func ObserveProbe(seconds float64, success bool) {
	if !regOK.Load() {
		return
	}
	probeLatency.Observe(seconds)
	if !success {
		probeFailures.Inc()
	}
}

func SetHealthStatus(active string) {
	if !regOK.Load() {
		return
	}
	for _, s := range []string{"healthy", "degraded", "unhealthy"} {
		v := 0.0
		if s == active {
			v = 1
		}
		healthStatus.WithLabelValues(s).Set(v)
	}
}

func ObserveTimeout(category string, seconds float64) {
	if regOK.Load() {
		computedTimeout.WithLabelValues(category).Observe(seconds)
	}
}

func IncOutcome(category string, success bool) {
	if !regOK.Load() {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	outcomes.WithLabelValues(category, result).Inc()
}
