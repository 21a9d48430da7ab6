// Package health отдаёт состояние сервиса для балансировщика и оркестратора контейнеров.
package health

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/mixmaster/internal/http/response"
	"github.com/magabrotheeeer/mixmaster/internal/lib/sl"
)

// Checker проверяет готовность зависимости.
type Checker func(ctx context.Context) error

// Handler обрабатывает GET /health.
type Handler struct {
	log    *slog.Logger
	checks map[string]Checker
}

// New создаёт Handler. Без проверок сервис считается готовым всегда.
func New(log *slog.Logger, checks map[string]Checker) *Handler {
	return &Handler{log: log, checks: checks}
}

// ServeHTTP godoc
// @Summary Проверка состояния
// @Tags Health
// @Produce  json
// @Success 200 {object} response.Response "Сервис готов"
// @Failure 503 {object} response.Response "Зависимость недоступна"
// @Router /health [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.health"
	log := h.log.With(slog.String("op", op))

	status := make(map[string]string, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			log.Warn("dependency unhealthy", slog.String("dependency", name), sl.Err(err))
			status[name] = "down"
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	if !healthy {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"healthy":      healthy,
		"dependencies": status,
	}))
}
