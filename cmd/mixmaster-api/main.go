// Package main Mixmaster API
//
// @title           Mixmaster API
// @version         1.0
// @description     API сведения и мастеринга треков: отправка задач, опрос статуса, аккаунт и платежи.

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/magabrotheeeer/mixmaster/internal/app/api"
	"github.com/magabrotheeeer/mixmaster/internal/config"
	"github.com/magabrotheeeer/mixmaster/internal/metrics"
)

func main() {
	cfg := config.MustLoad()
	logger := newLogger(cfg.Env)

	logger.Info("starting mixmaster-api", slog.String("env", cfg.Env), slog.String("dispatch", cfg.Dispatch))
	logger.Debug("config loaded\n" + cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := api.New(ctx, cfg, logger, metrics.New(prometheus.DefaultRegisterer))
	if err != nil {
		logger.Error("failed to initialize app", slog.Any("err", err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("app stopped with error", slog.Any("err", err))
		os.Exit(1)
	}

	logger.Info("mixmaster-api stopped gracefully")
}

func newLogger(env string) *slog.Logger {
	level := slog.LevelInfo
	if env == "local" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
