// Package list реализует HTTP-обработчик списка задач аккаунта.
package list

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

// Service — чтение задач аккаунта.
type Service interface {
	List(ctx context.Context, callerID string, limit, offset int) ([]models.JobStatus, error)
}

// Handler обрабатывает GET /jobs.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Задачи аккаунта
// @Tags Jobs
// @Produce  json
// @Param limit query int false "Размер страницы" default(10)
// @Param offset query int false "Смещение" default(0)
// @Success 200 {object} response.Response "Статусы задач, новые первыми"
// @Failure 401 {object} response.ErrorResponse "Не авторизован"
// @Security BearerAuth
// @Router /jobs [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.jobs.list"
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

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 10
	}
	offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}

	jobs, err := h.service.List(r.Context(), accountID, limit, offset)
	if err != nil {
		response.WriteError(w, r, log, err, "could not list jobs")
		return
	}
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"jobs":   jobs,
		"limit":  limit,
		"offset": offset,
	}))
}
