package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/opinion-analyzer/internal/bootstrap"
	"github.com/kirillkom/opinion-analyzer/internal/cli"
	"github.com/kirillkom/opinion-analyzer/internal/config"
	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
	"github.com/kirillkom/opinion-analyzer/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logging.Setup("analyzer", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory := func(ctx context.Context) (cli.Services, func(), error) {
		app, err := bootstrap.New(ctx, cfg, bootstrap.Options{})
		if err != nil {
			return cli.Services{}, nil, err
		}
		return cli.Services{Runner: app.Runner, Status: app.Status}, app.Close, nil
	}

	if err := cli.NewRootCommand(factory).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", domain.NewRunError(err))
		stop()
		os.Exit(1)
	}
}
