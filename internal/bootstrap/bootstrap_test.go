package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/opinion-analyzer/internal/config"
	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
	"github.com/kirillkom/opinion-analyzer/internal/infrastructure/llm/anthropic"
	"github.com/kirillkom/opinion-analyzer/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/opinion-analyzer/internal/infrastructure/llm/openai"
)

func TestNewGeneratorSelectsProvider(t *testing.T) {
	cfg := config.Config{LLMModel: "m", OllamaURL: "http://localhost:11434", OpenAIAPIKey: "k", AnthropicAPIKey: "k"}

	cfg.LLMProvider = ""
	if gen, err := newGenerator(cfg); err != nil {
		t.Fatalf("default provider: %v", err)
	} else if _, ok := gen.(*ollama.Generator); !ok {
		t.Fatalf("expected ollama generator, got %T", gen)
	}

	cfg.LLMProvider = "OpenAI"
	if gen, err := newGenerator(cfg); err != nil {
		t.Fatalf("openai provider: %v", err)
	} else if _, ok := gen.(*openai.Generator); !ok {
		t.Fatalf("expected openai generator, got %T", gen)
	}

	cfg.LLMProvider = "anthropic"
	if gen, err := newGenerator(cfg); err != nil {
		t.Fatalf("anthropic provider: %v", err)
	} else if _, ok := gen.(*anthropic.Generator); !ok {
		t.Fatalf("expected anthropic generator, got %T", gen)
	}

	cfg.LLMProvider = "gemini"
	if _, err := newGenerator(cfg); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}

func TestResilienceConfigUsesLinearBackoffByDefault(t *testing.T) {
	out, err := resilienceConfig(config.Config{LLMRetryMaxAttempts: 4, LLMRetryBaseDelayMS: 250, LLMBreakerEnabled: true})
	if err != nil {
		t.Fatalf("resilienceConfig() error = %v", err)
	}
	if out.RetryMaxAttempts != 4 || out.RetryInitialBackoff != 250*time.Millisecond || !out.BreakerEnabled {
		t.Fatalf("unexpected config: %+v", out)
	}
	if out.RetryBackoff(1) != 250*time.Millisecond || out.RetryBackoff(2) != 500*time.Millisecond {
		t.Fatalf("expected linear backoff, got %s then %s", out.RetryBackoff(1), out.RetryBackoff(2))
	}
	if _, err := resilienceConfig(config.Config{LLMRetryBackoff: "random"}); err == nil {
		t.Fatalf("expected unknown backoff error")
	}
}

type runnerFake struct {
	report *domain.RunReport
	err    error
}

func (f runnerFake) Run(context.Context, domain.RunRequest) (*domain.RunReport, error) {
	return f.report, f.err
}

type archiveFake struct {
	saved []*domain.RunReport
	err   error
}

func (f *archiveFake) Save(_ context.Context, report *domain.RunReport) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.saved = append(f.saved, report)
	return "/tmp/" + report.Summary.RunID + ".json", nil
}

func TestArchivingRunnerSavesSuccessfulReports(t *testing.T) {
	report := &domain.RunReport{Summary: domain.ExecutionSummary{RunID: "r1", ProjectID: "p1"}}
	archive := &archiveFake{}
	runner := NewArchivingRunner(runnerFake{report: report}, archive)

	got, err := runner.Run(context.Background(), domain.RunRequest{ProjectID: "p1"})
	if err != nil || got != report {
		t.Fatalf("unexpected result: %v %v", got, err)
	}
	if len(archive.saved) != 1 {
		t.Fatalf("expected one archived report, got %d", len(archive.saved))
	}
}

func TestArchivingRunnerIgnoresArchiveFailure(t *testing.T) {
	report := &domain.RunReport{}
	runner := NewArchivingRunner(runnerFake{report: report}, &archiveFake{err: errors.New("disk full")})
	if got, err := runner.Run(context.Background(), domain.RunRequest{ProjectID: "p1"}); err != nil || got != report {
		t.Fatalf("archive failure must not fail the run: %v", err)
	}
}

func TestArchivingRunnerSkipsFailedRuns(t *testing.T) {
	archive := &archiveFake{}
	runner := NewArchivingRunner(runnerFake{err: errors.New("boom")}, archive)
	if _, err := runner.Run(context.Background(), domain.RunRequest{ProjectID: "p1"}); err == nil {
		t.Fatalf("expected run error")
	}
	if len(archive.saved) != 0 {
		t.Fatalf("failed runs must not be archived")
	}
}

type observerFake struct {
	service  string
	report   *domain.RunReport
	duration time.Duration
	err      error
	calls    int
}

func (f *observerFake) ObserveRun(service string, report *domain.RunReport, duration time.Duration, err error) {
	f.calls++
	f.service, f.report, f.duration, f.err = service, report, duration, err
}

func TestInstrumentedRunnerObservesOutcome(t *testing.T) {
	report := &domain.RunReport{Summary: domain.ExecutionSummary{RunID: "r1"}}
	observer := &observerFake{}
	runner := NewInstrumentedRunner(runnerFake{report: report}, observer, "analysis-worker")
	ticks := []time.Time{time.Unix(100, 0), time.Unix(103, 0)}
	runner.now = func() time.Time {
		next := ticks[0]
		ticks = ticks[1:]
		return next
	}

	if _, err := runner.Run(context.Background(), domain.RunRequest{ProjectID: "p1"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if observer.calls != 1 || observer.service != "analysis-worker" || observer.report != report || observer.duration != 3*time.Second {
		t.Fatalf("unexpected observation: %+v", observer)
	}
}

func TestInstrumentedRunnerObservesFailure(t *testing.T) {
	observer := &observerFake{}
	runErr := domain.NewRunError(domain.WrapError(domain.ErrNotFound, "load project", errors.New("p1")))
	runner := NewInstrumentedRunner(runnerFake{err: runErr}, observer, "analysis-api")

	if _, err := runner.Run(context.Background(), domain.RunRequest{ProjectID: "p1"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if observer.err == nil || observer.report != nil {
		t.Fatalf("expected failure to be observed: %+v", observer)
	}
}
