// Package scheduler собирает процесс периодических служебных задач.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/mixmaster/internal/app"
	"github.com/magabrotheeeer/mixmaster/internal/config"
	"github.com/magabrotheeeer/mixmaster/internal/metrics"
	"github.com/magabrotheeeer/mixmaster/internal/services/orchestrator"
	schedulerservice "github.com/magabrotheeeer/mixmaster/internal/services/scheduler"
)

// App представляет приложение планировщика.
type App struct {
	deps             *app.Deps
	schedulerService *schedulerservice.Service
	logger           *slog.Logger
}

// New создает новый экземпляр приложения планировщика.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*App, error) {
	const op = "scheduler.New"
	if cfg.StorageConnectionString == "" {
		return nil, fmt.Errorf("%s: scheduler requires storage_connection_string", op)
	}
	deps, err := app.Bootstrap(ctx, cfg, logger, m)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var opts []orchestrator.Option
	if cfg.RabbitMQ.URL != "" {
		ch, err := deps.OpenChannel(ctx, 0)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		opts = append(opts, orchestrator.WithNotifier(orchestrator.NewAMQPNotifier(ch)))
	}
	orch := deps.Orchestrator(nil, opts...)

	tasks := schedulerservice.Maintenance(orch, deps.Ledger, cfg.ReaperInterval, cfg.ExpireInterval)
	return &App{
		deps:             deps,
		schedulerService: schedulerservice.New(logger, tasks...),
		logger:           logger,
	}, nil
}

// Run запускает планировщик и блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	defer a.deps.Close()
	a.logger.Info("scheduler started")
	a.schedulerService.Run(ctx)
	a.logger.Info("shutting down scheduler service")
	return nil
}
