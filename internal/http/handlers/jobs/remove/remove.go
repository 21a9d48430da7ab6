// Package remove реализует HTTP-обработчик удаления файлов задачи.
package remove

import (
	"context"
	"errors"
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

// Service удаляет файлы задачи.
type Service interface {
	DeleteJobFiles(ctx context.Context, jobID, callerID string) ([]string, error)
}

// Handler обрабатывает DELETE /jobs/{id}.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Удаление файлов задачи
// @Description Удаляет загруженные файлы и результат завершённой задачи. Статус задачи остаётся доступен.
// @Tags Jobs
// @Produce  json
// @Param id path string true "ID задачи"
// @Success 200 {object} response.Response "Файлы удалены"
// @Failure 403 {object} response.ErrorResponse "Задача другого аккаунта"
// @Failure 404 {object} response.ErrorResponse "Задача не найдена"
// @Failure 409 {object} response.ErrorResponse "Задача ещё обрабатывается"
// @Security BearerAuth
// @Router /jobs/{id} [delete]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.jobs.remove"
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

	deleted, err := h.service.DeleteJobFiles(r.Context(), jobID, accountID)
	if errors.Is(err, models.ErrInvalidState) {
		log.Info("delete requested while job is processing")
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Error("job is still processing"))
		return
	}
	if err != nil {
		response.WriteError(w, r, log, err, "could not delete job files")
		return
	}
	if deleted == nil {
		deleted = []string{}
	}
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"job_id":  jobID,
		"deleted": deleted,
	}))
}
