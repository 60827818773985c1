package procmon

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsCollector implements MetricsCollector with Prometheus
// instrumentation, exported by the Runner alongside the launch graph's own
// metrics registry.
type PrometheusMetricsCollector struct {
	stateTransitions    *prometheus.CounterVec
	terminationDuration *prometheus.HistogramVec
	errors              *prometheus.CounterVec
	restarts            *prometheus.CounterVec
	backoffDuration     *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewPrometheusMetricsCollector creates a collector registered under the
// given namespace (defaults to "launchgraph").
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "launchgraph"
	}

	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	pmc.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_state_transitions_total",
			Help:      "Total number of node process state transitions",
		},
		[]string{"process_id", "from_state", "to_state"},
	)

	pmc.terminationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_termination_duration_seconds",
			Help:      "Duration of process termination operations",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"process_id"},
	)

	pmc.errors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_errors_total",
			Help:      "Total number of process errors",
		},
		[]string{"process_id", "error_type"},
	)

	pmc.restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_restarts_total",
			Help:      "Total number of process respawns",
		},
		[]string{"process_id"},
	)

	pmc.backoffDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "respawn_backoff_duration_seconds",
			Help:      "Backoff delay computed before a scheduled respawn",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"process_id"},
	)

	pmc.registry.MustRegister(
		pmc.stateTransitions,
		pmc.terminationDuration,
		pmc.errors,
		pmc.restarts,
		pmc.backoffDuration,
	)

	return pmc
}

func (pmc *PrometheusMetricsCollector) ProcessStateTransition(id ProcessID, fromState, toState ProcessState) {
	pmc.stateTransitions.WithLabelValues(string(id), fromState.String(), toState.String()).Inc()
}

func (pmc *PrometheusMetricsCollector) ProcessTerminationDuration(id ProcessID, duration time.Duration) {
	pmc.terminationDuration.WithLabelValues(string(id)).Observe(duration.Seconds())
}

func (pmc *PrometheusMetricsCollector) ProcessError(id ProcessID, errorType string) {
	pmc.errors.WithLabelValues(string(id), errorType).Inc()
}

func (pmc *PrometheusMetricsCollector) ProcessRestart(id ProcessID) {
	pmc.restarts.WithLabelValues(string(id)).Inc()
}

func (pmc *PrometheusMetricsCollector) RespawnBackoffDuration(id ProcessID, duration time.Duration) {
	pmc.backoffDuration.WithLabelValues(string(id)).Observe(duration.Seconds())
}

// Registry returns the Prometheus registry for HTTP handler setup.
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}

var _ MetricsCollector = (*PrometheusMetricsCollector)(nil)
