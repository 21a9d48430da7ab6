// Package register создаёт аккаунт для аутентифицированного пользователя.
package register

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/mixmaster/internal/http/middlewarectx"
	"github.com/magabrotheeeer/mixmaster/internal/http/response"
	"github.com/magabrotheeeer/mixmaster/internal/lib/sl"
	"github.com/magabrotheeeer/mixmaster/internal/models"
)

// Service регистрирует аккаунт.
type Service interface {
	Register(ctx context.Context, accountID string) (*models.Account, error)
}

// Handler обрабатывает POST /account.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Регистрация аккаунта
// @Description Создаёт бесплатный аккаунт с одной пробной обработкой. Повторный вызов возвращает существующий аккаунт.
// @Tags Account
// @Produce  json
// @Success 200 {object} response.Response "Аккаунт"
// @Failure 401 {object} response.ErrorResponse "Не авторизован"
// @Security BearerAuth
// @Router /account [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.account.register"
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

	acc, err := h.service.Register(r.Context(), accountID)
	if err != nil {
		response.WriteError(w, r, log, err, "could not register account")
		return
	}

	log.Info("account registered", sl.AccountID(accountID))
	render.JSON(w, r, response.StatusOKWithData(acc))
}
