package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/dmorgan81/genrelay/internal/config"
	"github.com/dmorgan81/genrelay/internal/inject"
	"github.com/dmorgan81/genrelay/internal/log"
	"github.com/dmorgan81/genrelay/internal/server"
	"github.com/dmorgan81/genrelay/internal/serverless"
	"github.com/samber/do"
)

func main() {
	onLambda := os.Getenv("AWS_LAMBDA_RUNTIME_API") != ""

	level := new(slog.LevelVar)
	logger := log.New(os.Stderr, log.Options{Level: level, OmitTime: onLambda})
	ctx := log.NewContext(context.Background(), logger)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	injector := inject.Setup(ctx)
	if err := run(ctx, injector, level, onLambda); err != nil {
		logger.Error("exiting", "error", err)
		stop()
		os.Exit(1)
	}
}

// run resolves configuration before anything listens, so a missing
// credential fails startup instead of the first request.
func run(ctx context.Context, injector *do.Injector, level *slog.LevelVar, onLambda bool) error {
	cfg, err := do.Invoke[*config.Config](injector)
	if err != nil {
		return fmt.Errorf("HF_API_KEY is missing or configuration is invalid: %w", err)
	}
	if l, err := log.ParseLevel(cfg.LogLevel); err == nil {
		level.Set(l)
	}

	if onLambda {
		adapter := do.MustInvoke[*serverless.Adapter](injector)
		lambda.StartWithOptions(adapter.Handle, lambda.WithContext(ctx), lambda.WithEnableSIGTERM(func() {
			_ = injector.Shutdown()
		}))
		return nil
	}

	if err := do.MustInvoke[*server.Server](injector).Run(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return injector.Shutdown()
}
