package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/opinion-analyzer/internal/config"
	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
	"github.com/kirillkom/opinion-analyzer/internal/core/ports"
	"github.com/kirillkom/opinion-analyzer/internal/core/usecase"
	"github.com/kirillkom/opinion-analyzer/internal/infrastructure/cache"
	"github.com/kirillkom/opinion-analyzer/internal/infrastructure/llm/anthropic"
	"github.com/kirillkom/opinion-analyzer/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/opinion-analyzer/internal/infrastructure/llm/openai"
	"github.com/kirillkom/opinion-analyzer/internal/infrastructure/lock"
	"github.com/kirillkom/opinion-analyzer/internal/infrastructure/queue/nats"
	"github.com/kirillkom/opinion-analyzer/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/opinion-analyzer/internal/infrastructure/resilience"
	"github.com/kirillkom/opinion-analyzer/internal/infrastructure/storage/localfs"
)

type Options struct {
	// WithQueue connects to NATS; the CLI runs without it.
	WithQueue bool
}

type App struct {
	Config config.Config

	Runner ports.AnalysisRunner
	Status ports.AnalysisStatusReader
	Queue  ports.RunQueue

	closeFns []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	app := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.onClose(func() { _ = db.Close() })
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	generator, err := newGenerator(cfg)
	if err != nil {
		return nil, fmt.Errorf("init text generator: %w", err)
	}
	resCfg, err := resilienceConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init resilience: %w", err)
	}
	guard := resilience.NewGuard(
		resilience.NewExecutor(resCfg),
		resilience.ClassifyTransportError,
		resilience.NewRateLimiter(cfg.LLMRatePerSecond, cfg.LLMRateBurst),
	)

	locker, err := newLocker(ctx, cfg, app)
	if err != nil {
		return nil, fmt.Errorf("init run lock: %w", err)
	}

	pipeline, err := newPipeline(cfg, db, generator, guard, locker)
	if err != nil {
		return nil, err
	}
	app.Status = pipeline
	app.Runner = pipeline

	if cfg.ReportArchiveDir != "" {
		archive, err := localfs.NewReportArchive(cfg.ReportArchiveDir)
		if err != nil {
			return nil, fmt.Errorf("init report archive: %w", err)
		}
		app.Runner = NewArchivingRunner(pipeline, archive)
	}

	if opts.WithQueue {
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()),
		})
		if err != nil {
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.onClose(queue.Close)
		app.Queue = queue
	}

	ok = true
	return app, nil
}

func newPipeline(cfg config.Config, db *sql.DB, generator ports.TextGenerator, guard ports.CallGuard, locker ports.RunLocker) (*usecase.PipelineCoordinator, error) {
	policy, err := domain.ParseSelectionPolicy(cfg.AnalysisPolicy)
	if err != nil {
		return nil, fmt.Errorf("analysis policy: %w", err)
	}
	topics := cache.NewTopicCache(postgres.NewTopicRepository(db), time.Duration(cfg.TopicCacheTTLSeconds)*time.Second)

	return usecase.NewPipelineCoordinator(usecase.PipelineDeps{
		Opinions:  postgres.NewOpinionRepository(db),
		Topics:    topics,
		Writer:    topics,
		States:    postgres.NewStateRepository(db),
		Generator: generator,
		Guard:     guard,
		Locker:    locker,
	}, usecase.PipelineConfig{
		SizeBudget:      cfg.AnalysisSizeBudget,
		CountBudget:     cfg.AnalysisCountBudget,
		Policy:          policy,
		Strict:          cfg.AnalysisStrict,
		IncludeInsights: cfg.AnalysisIncludeInsights,
		BacklogLimit:    cfg.AnalysisBacklogLimit,
		ScoringWorkers:  cfg.AnalysisScoringWorkers,
		Model:           cfg.LLMModel,
		Purpose:         cfg.LLMPurpose,
	}), nil
}

func newGenerator(cfg config.Config) (ports.TextGenerator, error) {
	timeout := time.Duration(cfg.LLMTimeoutSeconds) * time.Second
	switch strings.ToLower(strings.TrimSpace(cfg.LLMProvider)) {
	case "", "ollama":
		return ollama.NewGenerator(ollama.New(cfg.OllamaURL, cfg.LLMModel, timeout)), nil
	case "openai":
		return openai.NewGenerator(openai.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.LLMModel,
			Timeout: timeout,
		})
	case "anthropic":
		return anthropic.NewGenerator(anthropic.Config{
			APIKey:  cfg.AnthropicAPIKey,
			BaseURL: cfg.AnthropicBaseURL,
			Model:   cfg.LLMModel,
			Timeout: timeout,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}
}

func resilienceConfig(cfg config.Config) (resilience.Config, error) {
	out := resilience.DefaultConfig()
	if cfg.LLMRetryMaxAttempts > 0 {
		out.RetryMaxAttempts = cfg.LLMRetryMaxAttempts
	}
	if cfg.LLMRetryBaseDelayMS > 0 {
		out.RetryInitialBackoff = time.Duration(cfg.LLMRetryBaseDelayMS) * time.Millisecond
	}
	out.BreakerEnabled = cfg.LLMBreakerEnabled

	backoff, err := resilience.BackoffByName(cfg.LLMRetryBackoff, out)
	if err != nil {
		return resilience.Config{}, err
	}
	out.RetryBackoff = backoff
	return out, nil
}

func newLocker(ctx context.Context, cfg config.Config, app *App) (ports.RunLocker, error) {
	if cfg.RedisURL == "" {
		slog.Info("run_lock_local", "reason", "REDIS_URL not set")
		return lock.NewLocalLocker(), nil
	}
	client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	app.onClose(func() { _ = client.Close() })
	return lock.NewRedisLocker(client, time.Duration(cfg.RunLockTTLSeconds)*time.Second), nil
}

func (a *App) onClose(fn func()) {
	a.closeFns = append(a.closeFns, fn)
}

func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}
