// Package result реализует HTTP-обработчик выдачи ссылки на готовый трек.
package result

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

// Service выдаёт ссылку на результат.
type Service interface {
	ResultURL(ctx context.Context, jobID, callerID string) (string, error)
}

// Handler обрабатывает GET /jobs/{id}/result.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Ссылка на результат
// @Description Возвращает временную ссылку на скачивание готового трека.
// @Tags Jobs
// @Produce  json
// @Param id path string true "ID задачи"
// @Success 200 {object} response.Response "Ссылка на результат"
// @Failure 403 {object} response.ErrorResponse "Задача другого аккаунта"
// @Failure 404 {object} response.ErrorResponse "Задача не найдена"
// @Failure 409 {object} response.ErrorResponse "Задача ещё не завершена"
// @Security BearerAuth
// @Router /jobs/{id}/result [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.jobs.result"
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

	url, err := h.service.ResultURL(r.Context(), jobID, accountID)
	if errors.Is(err, models.ErrInvalidState) {
		log.Info("result requested before completion")
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Error("job is not complete"))
		return
	}
	if err != nil {
		response.WriteError(w, r, log, err, "could not get result")
		return
	}
	render.JSON(w, r, response.StatusOKWithData(map[string]string{
		"job_id": jobID,
		"url":    url,
	}))
}
