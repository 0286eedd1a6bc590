// Package metrics exposes Prometheus collectors for the supervision engine.
// Helpers are no-ops until Register has been called, so callers throughout
// internal/registry and internal/supervisor can record unconditionally.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	regOK atomic.Bool

	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentryd",
			Subsystem: "program",
			Name:      "launches_total",
			Help:      "Number of successful child launches.",
		}, []string{"program"},
	)
	restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentryd",
			Subsystem: "program",
			Name:      "restarts_total",
			Help:      "Number of automatic respawns after a crash.",
		}, []string{"program"},
	)
	stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentryd",
			Subsystem: "program",
			Name:      "stops_total",
			Help:      "Number of stops, graceful or forced.",
		}, []string{"program"},
	)
	retriesExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentryd",
			Subsystem: "program",
			Name:      "retries_exhausted_total",
			Help:      "Number of times a program's start_retries budget ran out.",
		}, []string{"program"},
	)
	reconcileCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentryd",
			Subsystem: "reconciler",
			Name:      "cycles_total",
			Help:      "Number of completed reconcile passes.",
		}, []string{"result"},
	)
	runningReplicas = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sentryd",
			Subsystem: "program",
			Name:      "running_replicas",
			Help:      "Current count of Starting+Running children per program.",
		}, []string{"program"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentryd",
			Subsystem: "program",
			Name:      "state_transitions_total",
			Help:      "Number of per-child state transitions.",
		}, []string{"program", "from", "to"},
	)
)

// Register registers all collectors with r. Safe to call more than once;
// AlreadyRegisteredError is swallowed so callers can share a registry with
// other components.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{launches, restarts, stops, retriesExhausted, reconcileCycles, runningReplicas, stateTransitions}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

// Handler serves the default Prometheus gatherer.
func Handler() http.Handler { return promhttp.Handler() }

func IncLaunch(program string) {
	if regOK.Load() {
		launches.WithLabelValues(program).Inc()
	}
}

func IncRestart(program string) {
	if regOK.Load() {
		restarts.WithLabelValues(program).Inc()
	}
}

func IncStop(program string) {
	if regOK.Load() {
		stops.WithLabelValues(program).Inc()
	}
}

func IncRetriesExhausted(program string) {
	if regOK.Load() {
		retriesExhausted.WithLabelValues(program).Inc()
	}
}

func IncReconcileCycle(result string) {
	if regOK.Load() {
		reconcileCycles.WithLabelValues(result).Inc()
	}
}

func SetRunningReplicas(program string, n int) {
	if regOK.Load() {
		runningReplicas.WithLabelValues(program).Set(float64(n))
	}
}

func RecordStateTransition(program, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(program, from, to).Inc()
	}
}
