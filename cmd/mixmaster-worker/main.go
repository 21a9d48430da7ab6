// Package main содержит точку входа воркера обработки задач.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/magabrotheeeer/mixmaster/internal/app/worker"
	"github.com/magabrotheeeer/mixmaster/internal/config"
	"github.com/magabrotheeeer/mixmaster/internal/metrics"
)

func main() {
	cfg := config.MustLoad()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger.Info("starting mixmaster-worker", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := worker.New(ctx, cfg, logger, metrics.New(prometheus.DefaultRegisterer))
	if err != nil {
		logger.Error("failed to initialize worker", slog.Any("err", err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("worker stopped with error", slog.Any("err", err))
		os.Exit(1)
	}

	logger.Info("mixmaster-worker stopped gracefully")
}
