package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/opinion-analyzer/internal/bootstrap"
	"github.com/kirillkom/opinion-analyzer/internal/config"
	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
	"github.com/kirillkom/opinion-analyzer/internal/observability/logging"
	"github.com/kirillkom/opinion-analyzer/internal/observability/metrics"
)

const (
	serviceName = "analysis-worker"
	runTimeout  = 5 * time.Minute
)

func main() {
	cfg := config.Load()
	logging.Setup(serviceName, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{WithQueue: true})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("worker_metrics_listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	runner := bootstrap.NewInstrumentedRunner(app.Runner, workerMetrics.Pipeline(), serviceName)

	slog.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeRunRequested(ctx, func(handlerCtx context.Context, req domain.RunRequest) error {
		if !req.EnqueuedAt.IsZero() {
			workerMetrics.ObserveQueueLag(serviceName, time.Since(req.EnqueuedAt))
		}
		workerMetrics.StartRun()
		defer workerMetrics.FinishRun()

		runCtx, cancel := context.WithTimeout(handlerCtx, runTimeout)
		defer cancel()
		_, err := runner.Run(runCtx, req)
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
