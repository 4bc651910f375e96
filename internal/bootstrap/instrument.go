package bootstrap

import (
	"context"
	"time"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
	"github.com/kirillkom/opinion-analyzer/internal/core/ports"
)

// RunObserver is satisfied by *metrics.PipelineMetrics.
type RunObserver interface {
	ObserveRun(service string, report *domain.RunReport, duration time.Duration, err error)
}

// InstrumentedRunner reports the outcome and duration of every run.
type InstrumentedRunner struct {
	next     ports.AnalysisRunner
	observer RunObserver
	service  string
	now      func() time.Time
}

func NewInstrumentedRunner(next ports.AnalysisRunner, observer RunObserver, service string) *InstrumentedRunner {
	return &InstrumentedRunner{next: next, observer: observer, service: service, now: time.Now}
}

func (r *InstrumentedRunner) Run(ctx context.Context, req domain.RunRequest) (*domain.RunReport, error) {
	start := r.now()
	report, err := r.next.Run(ctx, req)
	r.observer.ObserveRun(r.service, report, r.now().Sub(start), err)
	return report, err
}
