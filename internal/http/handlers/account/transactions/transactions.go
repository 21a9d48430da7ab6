// Package transactions отдаёт историю платежей аккаунта.
package transactions

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/mixmaster/internal/http/middlewarectx"
	"github.com/magabrotheeeer/mixmaster/internal/http/response"
	"github.com/magabrotheeeer/mixmaster/internal/models"
)

// Service читает историю платежей.
type Service interface {
	Transactions(ctx context.Context, accountID string, limit, offset int) ([]*models.Transaction, error)
}

// Handler обрабатывает GET /account/transactions.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary История платежей
// @Tags Account
// @Produce  json
// @Param limit query int false "Размер страницы" default(20)
// @Param offset query int false "Смещение" default(0)
// @Success 200 {object} response.Response "Платежи, новые первыми"
// @Failure 401 {object} response.ErrorResponse "Не авторизован"
// @Failure 404 {object} response.ErrorResponse "Аккаунт не найден"
// @Security BearerAuth
// @Router /account/transactions [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.account.transactions"
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

	q := r.URL.Query()
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, err := strconv.Atoi(q.Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}

	txs, err := h.service.Transactions(r.Context(), accountID, limit, offset)
	if err != nil {
		response.WriteError(w, r, log, err, "could not load transactions")
		return
	}
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"transactions": txs,
		"limit":        limit,
		"offset":       offset,
	}))
}
