// Package status реализует HTTP-обработчик опроса статуса задачи.
package status

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/mixmaster/internal/http/middlewarectx"
	"github.com/magabrotheeeer/mixmaster/internal/http/response"
	"github.com/magabrotheeeer/mixmaster/internal/lib/sl"
	"github.com/magabrotheeeer/mixmaster/internal/models"
)

// Service — чтение статуса.
type Service interface {
	GetStatus(ctx context.Context, jobID, callerID string) (*models.JobStatus, error)
}

// Handler обрабатывает GET /jobs/{id}.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Статус задачи
// @Description Возвращает состояние и прогресс задачи. Безопасно вызывать с любой частотой.
// @Tags Jobs
// @Produce  json
// @Param id path string true "ID задачи"
// @Success 200 {object} response.Response "Статус задачи"
// @Failure 401 {object} response.ErrorResponse "Не авторизован"
// @Failure 403 {object} response.ErrorResponse "Задача другого аккаунта"
// @Failure 404 {object} response.ErrorResponse "Задача не найдена"
// @Security BearerAuth
// @Router /jobs/{id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.jobs.status"
	jobID := chi.URLParam(r, "id")
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		sl.JobID(jobID),
	)

	accountID, ok := middlewarectx.AccountID(r.Context())
	if !ok {
		log.Error("account id not found in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	st, err := h.service.GetStatus(r.Context(), jobID, accountID)
	if err != nil {
		response.WriteError(w, r, log, err, "could not read job status")
		return
	}
	render.JSON(w, r, response.StatusOKWithData(st))
}
