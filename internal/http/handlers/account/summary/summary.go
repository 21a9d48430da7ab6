// Package summary отдаёт сводку аккаунта: тариф, баланс и доступность обработки.
package summary

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/mixmaster/internal/http/middlewarectx"
	"github.com/magabrotheeeer/mixmaster/internal/http/response"
	"github.com/magabrotheeeer/mixmaster/internal/services/entitlement"
)

// Service строит сводку.
type Service interface {
	Summary(ctx context.Context, accountID string) (*entitlement.Summary, error)
}

// Handler обрабатывает GET /account.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Сводка аккаунта
// @Tags Account
// @Produce  json
// @Success 200 {object} response.Response "Сводка"
// @Failure 401 {object} response.ErrorResponse "Не авторизован"
// @Failure 404 {object} response.ErrorResponse "Аккаунт не найден"
// @Security BearerAuth
// @Router /account [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.account.summary"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	accountID, ok := middlewarectx.AccountID(r.Context())
	if !ok {
		log.Error("account id not found in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	sum, err := h.service.Summary(r.Context(), accountID)
	if err != nil {
		response.WriteError(w, r, log, err, "could not load account")
		return
	}
	render.JSON(w, r, response.StatusOKWithData(sum))
}
