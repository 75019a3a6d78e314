package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryforge_queries_total",
			Help: "Total number of pipeline runs by intent and terminal status.",
		},
		[]string{"intent", "status"},
	)
	validationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryforge_validation_rejections_total",
			Help: "Total number of pre-validation rejections by error code.",
		},
		[]string{"code"},
	)
	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queryforge_stage_duration_seconds",
			Help:    "Pipeline stage latency.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)
	executionTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryforge_execution_timeouts_total",
			Help: "Total number of executions cancelled by timeout.",
		},
	)
	poolExhaustionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryforge_pool_exhaustions_total",
			Help: "Total number of requests rejected because no pooled connection was available.",
		},
	)
	poolInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "queryforge_pool_connections_in_use",
			Help: "Pooled connections currently held by in-flight executions.",
		},
	)
	bindingsVersion = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queryforge_bindings_loaded_at_seconds",
			Help: "Unix time the active binding snapshot was installed, labeled by version.",
		},
		[]string{"version"},
	)
)

func init() {
	prometheus.MustRegister(
		queriesTotal,
		validationRejectionsTotal,
		stageDurationSeconds,
		executionTimeoutsTotal,
		poolExhaustionsTotal,
		poolInUse,
		bindingsVersion,
	)
}

func ObserveQuery(intent, status string) {
	queriesTotal.WithLabelValues(intent, status).Inc()
}

func ObserveValidationRejection(code string) {
	validationRejectionsTotal.WithLabelValues(code).Inc()
}

func ObserveStage(stage string, elapsed time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func IncrementExecutionTimeout() {
	executionTimeoutsTotal.Inc()
}

func IncrementPoolExhaustion() {
	poolExhaustionsTotal.Inc()
}

func SetPoolInUse(held int) {
	if held < 0 {
		held = 0
	}
	poolInUse.Set(float64(held))
}

func SetBindingsVersion(version string, loadedAt time.Time) {
	bindingsVersion.Reset()
	bindingsVersion.WithLabelValues(version).Set(float64(loadedAt.Unix()))
}
