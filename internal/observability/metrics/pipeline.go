package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
)

const namespace = "opinion"

// PipelineMetrics records analysis run outcomes. It is registered on the
// registry of whichever process executes runs.
type PipelineMetrics struct {
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	selectedRecords  *prometheus.HistogramVec
	deferredRecords  *prometheus.HistogramVec
	apiCallsTotal    *prometheus.CounterVec
	fallbacksTotal   *prometheus.CounterVec
	stateWriteErrors *prometheus.CounterVec
	manualReview     *prometheus.CounterVec
}

func newPipelineMetrics(registry *prometheus.Registry) *PipelineMetrics {
	recordBuckets := []float64{0, 1, 2, 5, 10, 15, 25, 50, 100, 250}

	m := &PipelineMetrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "Total analysis runs by status and error code.",
			},
			[]string{"service", "status", "code"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "run_duration_seconds",
				Help:      "Analysis run duration in seconds by status.",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"service", "status"},
		),
		selectedRecords: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "selected_records",
				Help:      "Records selected for classification per run.",
				Buckets:   recordBuckets,
			},
			[]string{"service"},
		),
		deferredRecords: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "deferred_records",
				Help:      "Records deferred to a later run.",
				Buckets:   recordBuckets,
			},
			[]string{"service"},
		),
		apiCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "llm_calls_total",
				Help:      "External classification calls consumed by completed runs.",
			},
			[]string{"service"},
		),
		fallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "fallbacks_total",
				Help:      "Runs that used the deterministic fallback classification.",
			},
			[]string{"service"},
		),
		stateWriteErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "state_write_errors_total",
				Help:      "Per-record analysis state writes that failed.",
			},
			[]string{"service"},
		),
		manualReview: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "manual_review_flags_total",
				Help:      "Records flagged for manual review.",
			},
			[]string{"service"},
		),
	}

	registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.selectedRecords,
		m.deferredRecords,
		m.apiCallsTotal,
		m.fallbacksTotal,
		m.stateWriteErrors,
		m.manualReview,
	)
	return m
}

// ObserveRun records one finished run. report is nil when err is set.
func (m *PipelineMetrics) ObserveRun(service string, report *domain.RunReport, duration time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.runsTotal.WithLabelValues(service, "error", domain.ErrorCode(err)).Inc()
		m.runDuration.WithLabelValues(service, "error").Observe(duration.Seconds())
		return
	}
	m.runsTotal.WithLabelValues(service, "success", "").Inc()
	m.runDuration.WithLabelValues(service, "success").Observe(duration.Seconds())
	if report == nil {
		return
	}
	m.selectedRecords.WithLabelValues(service).Observe(float64(report.Summary.Selected))
	m.deferredRecords.WithLabelValues(service).Observe(float64(report.Summary.Deferred))
	m.apiCallsTotal.WithLabelValues(service).Add(float64(report.Summary.APICallsUsed))
	if report.Quality.FallbackUsed {
		m.fallbacksTotal.WithLabelValues(service).Inc()
	}
	if report.Quality.StateWriteErrors > 0 {
		m.stateWriteErrors.WithLabelValues(service).Add(float64(report.Quality.StateWriteErrors))
	}
	if report.Quality.ManualReviewCount > 0 {
		m.manualReview.WithLabelValues(service).Add(float64(report.Quality.ManualReviewCount))
	}
}
