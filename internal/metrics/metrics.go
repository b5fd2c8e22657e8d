package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "keepr"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful process spawns.",
		}, []string{"process_id"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of supervisor-requested stops, by whether SIGKILL was needed.",
		}, []string{"process_id", "escalated"},
	)
	processFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "failures_total",
			Help:      "Number of transitions into the failed state, by cause.",
		}, []string{"process_id", "cause"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between different process states.",
		}, []string{"from", "to"},
	)
	recordsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "records",
			Help:      "Current number of process records per state.",
		}, []string{"state"},
	)
	outputLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "lines_total",
			Help:      "Number of captured output lines per stream.",
		}, []string{"stream"},
	)
	snapshotDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "snapshot_duration_seconds",
			Help:      "Time taken to write a snapshot.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	snapshotFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "snapshot_failures_total",
			Help:      "Number of snapshot writes that failed.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		processStarts, processStops, processFailures, stateTransitions,
		recordsByState, outputLines, snapshotDuration, snapshotFailures,
		processCPU, processRSS,
	}
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
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(id string) {
	if regOK.Load() {
		processStarts.WithLabelValues(id).Inc()
	}
}

func IncStop(id string, escalated bool) {
	if regOK.Load() {
		e := "false"
		if escalated {
			e = "true"
		}
		processStops.WithLabelValues(id, e).Inc()
	}
}

// Failure causes.
const (
	CauseExit       = "exit"
	CauseValidation = "validation"
	CauseSpawn      = "spawn"
	CauseKill       = "kill"
)

func IncFailure(id, cause string) {
	if regOK.Load() {
		processFailures.WithLabelValues(id, cause).Inc()
	}
}

func RecordStateTransition(from, to string) {
	if regOK.Load() && from != to {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
}

// SetRecordCounts replaces the per-state record gauges.
func SetRecordCounts(counts map[string]int) {
	if !regOK.Load() {
		return
	}
	recordsByState.Reset()
	for state, n := range counts {
		recordsByState.WithLabelValues(state).Set(float64(n))
	}
}

func AddOutputLine(stream string) {
	if regOK.Load() {
		outputLines.WithLabelValues(stream).Inc()
	}
}

func ObserveSnapshot(seconds float64, err error) {
	if !regOK.Load() {
		return
	}
	if err != nil {
		snapshotFailures.Inc()
		return
	}
	snapshotDuration.Observe(seconds)
}

// Forget drops per-process series for a removed record.
func Forget(id string) {
	if !regOK.Load() {
		return
	}
	processStarts.DeleteLabelValues(id)
	processStops.DeletePartialMatch(prometheus.Labels{"process_id": id})
	processFailures.DeletePartialMatch(prometheus.Labels{"process_id": id})
	processCPU.DeleteLabelValues(id)
	processRSS.DeleteLabelValues(id)
}
