package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinquery_turns_total",
			Help: "Total number of completed question turns by outcome.",
		},
		[]string{"outcome", "modality"},
	)
	turnLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clinquery_turn_latency_ms",
			Help:    "End-to-end question turn latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
	)
	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinquery_sanitizer_rejections_total",
			Help: "Total number of candidate queries rejected by the sanitizer, by reason.",
		},
		[]string{"reason"},
	)
	completionLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clinquery_completion_latency_ms",
			Help:    "Text-completion service latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"provider", "purpose", "result"},
	)
	executionLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clinquery_execution_latency_ms",
			Help:    "Read-only query execution latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 10000},
		},
	)
	executionRowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clinquery_execution_rows_returned",
			Help:    "Rows returned per executed query.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		},
	)
	executionTruncatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clinquery_execution_truncated_total",
			Help: "Total number of executions truncated at the row cap.",
		},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "clinquery_active_sessions",
			Help: "Current number of open sessions.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		turnsTotal,
		turnLatencyMs,
		rejectionsTotal,
		completionLatencyMs,
		executionLatencyMs,
		executionRowsReturned,
		executionTruncatedTotal,
		activeSessions,
	)
}

func ObserveTurn(outcome, modality string, elapsed time.Duration) {
	turnsTotal.WithLabelValues(outcome, modality).Inc()
	turnLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func IncrementRejection(reason string) {
	rejectionsTotal.WithLabelValues(reason).Inc()
}

func ObserveCompletion(provider, purpose string, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	completionLatencyMs.WithLabelValues(provider, purpose, result).Observe(float64(elapsed.Milliseconds()))
}

func ObserveExecution(rows int, truncated bool, elapsed time.Duration) {
	executionLatencyMs.Observe(float64(elapsed.Milliseconds()))
	executionRowsReturned.Observe(float64(rows))
	if truncated {
		executionTruncatedTotal.Inc()
	}
}

func SetActiveSessions(count int) {
	if count < 0 {
		count = 0
	}
	activeSessions.Set(float64(count))
}
