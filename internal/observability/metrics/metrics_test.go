package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/v1/projects/abc/analysis-runs":   "/v1/projects/{project_id}/analysis-runs",
		"/v1/projects/abc/analysis-status": "/v1/projects/{project_id}/analysis-status",
		"/v1/projects/abc":                 "/v1/projects/{project_id}",
		"/healthz":                         "/healthz",
	}
	for in, want := range cases {
		if got := normalizePath(in); got != want {
			t.Fatalf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPipelineObserveRun(t *testing.T) {
	m := NewWorkerMetrics("worker").Pipeline()

	m.ObserveRun("worker", &domain.RunReport{
		Summary: domain.ExecutionSummary{Selected: 10, Deferred: 5, APICallsUsed: 1},
		Quality: domain.QualityMetrics{FallbackUsed: true, StateWriteErrors: 2, ManualReviewCount: 3},
	}, time.Second, nil)
	m.ObserveRun("worker", nil, time.Second, domain.NewRunError(domain.WrapError(domain.ErrNotFound, "get project", errors.New("p9"))))

	if got := testutil.ToFloat64(m.runsTotal.WithLabelValues("worker", "success", "")); got != 1 {
		t.Fatalf("success runs = %v", got)
	}
	if got := testutil.ToFloat64(m.runsTotal.WithLabelValues("worker", "error", domain.CodeNotFound)); got != 1 {
		t.Fatalf("not found runs = %v", got)
	}
	if got := testutil.ToFloat64(m.fallbacksTotal.WithLabelValues("worker")); got != 1 {
		t.Fatalf("fallbacks = %v", got)
	}
	if got := testutil.ToFloat64(m.stateWriteErrors.WithLabelValues("worker")); got != 2 {
		t.Fatalf("state write errors = %v", got)
	}
}

func TestNilPipelineMetricsIsSafe(t *testing.T) {
	var m *PipelineMetrics
	m.ObserveRun("cli", nil, 0, nil)
}
