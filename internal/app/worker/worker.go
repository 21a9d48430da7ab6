// Package worker собирает процесс, выполняющий задачи из очереди RabbitMQ.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/mixmaster/internal/app"
	"github.com/magabrotheeeer/mixmaster/internal/config"
	"github.com/magabrotheeeer/mixmaster/internal/metrics"
	"github.com/magabrotheeeer/mixmaster/internal/services/orchestrator"
)

// App — процесс воркера.
type App struct {
	deps    *app.Deps
	orch    *orchestrator.Orchestrator
	ch      *amqp.Channel
	metrics *http.Server
	logger  *slog.Logger
}

// New собирает App. Воркеру нужны общий PostgreSQL и RabbitMQ.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*App, error) {
	const op = "worker.New"
	if cfg.StorageConnectionString == "" {
		return nil, fmt.Errorf("%s: worker requires storage_connection_string", op)
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("%s: worker requires rabbitmq.url", op)
	}

	deps, err := app.Bootstrap(ctx, cfg, logger, m)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ch, err := deps.OpenChannel(ctx, cfg.Prefetch)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	notifyCh, err := deps.OpenChannel(ctx, 0)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	orch := deps.Orchestrator(nil, orchestrator.WithNotifier(orchestrator.NewAMQPNotifier(notifyCh)))

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())

	return &App{
		deps: deps,
		orch: orch,
		ch:   ch,
		metrics: &http.Server{
			Addr:              cfg.AddressHTTP,
			Handler:           router,
			ReadHeaderTimeout: cfg.TimeoutHTTP,
		},
		logger: logger,
	}, nil
}

// Run потребляет очередь задач до отмены ctx. Прерванные задачи завершаются
// ошибкой interrupted, их резервирования освобождаются.
func (a *App) Run(ctx context.Context) error {
	defer a.deps.Close()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("worker consuming jobs",
			slog.String("queue", a.deps.Cfg.JobsQueue),
			slog.Int("concurrency", a.deps.Cfg.Workers))
		return orchestrator.ConsumeJobs(gctx, a.ch, a.deps.Cfg.JobsQueue, a.deps.Cfg.Workers, a.orch, a.logger)
	})

	g.Go(func() error {
		a.logger.Info("metrics server starting on", slog.String("address", a.metrics.Addr))
		err := a.metrics.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.Info("shutting down worker")
		return a.metrics.Shutdown(timeoutCtx)
	})

	return g.Wait()
}
