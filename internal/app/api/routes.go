package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/mixmaster/internal/app"
	"github.com/magabrotheeeer/mixmaster/internal/blobstore"
	"github.com/magabrotheeeer/mixmaster/internal/config"
	"github.com/magabrotheeeer/mixmaster/internal/http/handlers/account/register"
	"github.com/magabrotheeeer/mixmaster/internal/http/handlers/account/summary"
	"github.com/magabrotheeeer/mixmaster/internal/http/handlers/account/transactions"
	"github.com/magabrotheeeer/mixmaster/internal/http/handlers/health"
	"github.com/magabrotheeeer/mixmaster/internal/http/handlers/jobs/list"
	"github.com/magabrotheeeer/mixmaster/internal/http/handlers/jobs/remove"
	"github.com/magabrotheeeer/mixmaster/internal/http/handlers/jobs/result"
	jobstatus "github.com/magabrotheeeer/mixmaster/internal/http/handlers/jobs/status"
	"github.com/magabrotheeeer/mixmaster/internal/http/handlers/jobs/submit"
	"github.com/magabrotheeeer/mixmaster/internal/http/handlers/payment/paymentwebhook"
	"github.com/magabrotheeeer/mixmaster/internal/http/handlers/uploads/upload"
	"github.com/magabrotheeeer/mixmaster/internal/http/middlewarectx"
	"github.com/magabrotheeeer/mixmaster/internal/storage/repository"
)

// AccountService — операции аккаунта для обработчиков.
type AccountService interface {
	register.Service
	summary.Service
	transactions.Service
}

// StatusService — чтение задач для обработчиков.
type StatusService interface {
	jobstatus.Service
	list.Service
	result.Service
}

// Services — сервисы, которые обслуживает API.
type Services struct {
	Ledger       AccountService
	Orchestrator submit.Service
	Status       StatusService
	Files        remove.Service
	Reconciler   paymentwebhook.Service
	Blobs        upload.Store
	Verifier     middlewarectx.Verifier
}

// RegisterRoutes регистрирует все маршруты API.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config, svc Services, checks map[string]health.Checker) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	limiter := middlewarectx.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)

	r.Route("/api/v1", func(r chi.Router) {
		// Уведомления провайдера аутентифицируются подписью
		r.Post("/webhooks/payment", paymentwebhook.New(logger, svc.Reconciler).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(svc.Verifier, logger))
			r.Use(middlewarectx.RateLimitMiddleware(limiter, logger))

			r.Post("/account", register.New(logger, svc.Ledger).ServeHTTP)
			r.Get("/account", summary.New(logger, svc.Ledger).ServeHTTP)
			r.Get("/account/transactions", transactions.New(logger, svc.Ledger).ServeHTTP)

			r.Post("/uploads", upload.New(logger, svc.Blobs, cfg.MaxUploadMB).ServeHTTP)

			r.Post("/jobs", submit.New(logger, svc.Orchestrator).ServeHTTP)
			r.Get("/jobs", list.New(logger, svc.Status).ServeHTTP)
			r.Get("/jobs/{id}", jobstatus.New(logger, svc.Status).ServeHTTP)
			r.Get("/jobs/{id}/result", result.New(logger, svc.Status).ServeHTTP)
			r.Delete("/jobs/{id}", remove.New(logger, svc.Files).ServeHTTP)
		})
	})

	if mem, ok := svc.Blobs.(*blobstore.Memory); ok {
		r.Get("/blobs/*", memoryBlobs(mem))
	}

	r.Get("/health", health.New(logger, checks).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/docs/*", httpSwagger.WrapHandler)
}

// memoryBlobs отдаёт объекты хранилища в памяти по ссылкам PresignGet.
func memoryBlobs(mem *blobstore.Memory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "*")
		data, ok := mem.Get(key)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", blobstore.ContentType(key))
		_, _ = w.Write(data)
	}
}

func healthChecks(deps *app.Deps) map[string]health.Checker {
	checks := make(map[string]health.Checker)
	if deps.DB != nil {
		checks["postgres"] = func(ctx context.Context) error {
			return repository.CheckDatabaseReady(ctx, deps.DB)
		}
	}
	if deps.Cache != nil {
		checks["redis"] = deps.Cache.Ping
	}
	return checks
}
