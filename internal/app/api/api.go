// Package api собирает HTTP API: отправку и опрос задач, аккаунт, загрузки
// и приём уведомлений платёжного провайдера.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/mixmaster/internal/app"
	"github.com/magabrotheeeer/mixmaster/internal/config"
	"github.com/magabrotheeeer/mixmaster/internal/lib/jwt"
	"github.com/magabrotheeeer/mixmaster/internal/lib/signature"
	"github.com/magabrotheeeer/mixmaster/internal/metrics"
	"github.com/magabrotheeeer/mixmaster/internal/services/files"
	"github.com/magabrotheeeer/mixmaster/internal/services/orchestrator"
	"github.com/magabrotheeeer/mixmaster/internal/services/payment"
	"github.com/magabrotheeeer/mixmaster/internal/services/scheduler"
	"github.com/magabrotheeeer/mixmaster/internal/services/status"
)

// App — процесс HTTP API.
type App struct {
	server *http.Server
	deps   *app.Deps
	pool   *orchestrator.InProcess
	sched  *scheduler.Service
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

// New собирает App. При dispatch=inprocess задачи выполняются пулом внутри процесса,
// при dispatch=amqp публикуются в очередь для mixmaster-worker.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*App, error) {
	const op = "api.New"
	deps, err := app.Bootstrap(ctx, cfg, logger, m)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := deps.OpenCache(ctx); err != nil {
		deps.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	a := &App{deps: deps, logger: logger}

	var dispatcher orchestrator.Dispatcher
	var opts []orchestrator.Option
	switch cfg.Dispatch {
	case config.DispatchAMQP:
		ch, err := deps.OpenChannel(ctx, 0)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		dispatcher = orchestrator.NewAMQP(ch)
	default:
		a.pool = orchestrator.NewInProcess(cfg.Workers, cfg.Workers*16, logger)
		dispatcher = a.pool
		if cfg.RabbitMQ.URL != "" {
			ch, err := deps.OpenChannel(ctx, 0)
			if err != nil {
				deps.Close()
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			opts = append(opts, orchestrator.WithNotifier(orchestrator.NewAMQPNotifier(ch)))
		}
	}
	a.orch = deps.Orchestrator(dispatcher, opts...)
	if a.pool != nil {
		// единый процесс сам возвращает зависшие задачи и закрывает истёкшие подписки
		a.sched = scheduler.New(logger, scheduler.Maintenance(a.orch, deps.Ledger, cfg.ReaperInterval, cfg.ExpireInterval)...)
	}

	statusOpts := []status.Option{status.WithPresigner(deps.Blobs, cfg.PresignTTL)}
	if deps.Cache != nil {
		statusOpts = append(statusOpts, status.WithCache(deps.Cache, cfg.StatusTTL))
	}

	svc := Services{
		Ledger:       deps.Ledger,
		Orchestrator: a.orch,
		Status:       status.New(deps.Jobs, logger, statusOpts...),
		Files:        files.New(deps.Jobs, deps.Blobs, logger),
		Reconciler: payment.New(deps.Ledger, signature.New(cfg.Webhook.Secret, cfg.Webhook.Tolerance),
			logger, cfg.CentsPerCredit),
		Blobs:    deps.Blobs,
		Verifier: jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.Issuer, cfg.TokenTTL),
	}

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, svc, healthChecks(deps))

	a.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return a, nil
}

// Run запускает сервер и, при локальной обработке, пул воркеров и служебные задачи.
// Возвращается после отмены ctx и корректной остановки.
func (a *App) Run(ctx context.Context) error {
	defer a.deps.Close()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	if a.pool != nil {
		g.Go(func() error {
			a.logger.Info("in-process workers starting", slog.Int("workers", a.deps.Cfg.Workers))
			return a.pool.Start(gctx, a.orch)
		})
		g.Go(func() error {
			a.sched.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		return a.server.Shutdown(timeoutCtx)
	})

	return g.Wait()
}
