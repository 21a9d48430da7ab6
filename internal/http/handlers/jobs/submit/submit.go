// Package submit реализует HTTP-обработчик отправки трека на сведение и мастеринг.
package submit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/mixmaster/internal/http/middlewarectx"
	"github.com/magabrotheeeer/mixmaster/internal/http/response"
	"github.com/magabrotheeeer/mixmaster/internal/lib/sl"
	"github.com/magabrotheeeer/mixmaster/internal/models"
	"github.com/magabrotheeeer/mixmaster/internal/services/orchestrator"
)

// Request — тело запроса на обработку. Незаданные параметры берутся по умолчанию.
type Request struct {
	VocalHandle       string   `json:"vocal_handle" validate:"required"`
	BeatHandle        string   `json:"beat_handle" validate:"required"`
	Genre             string   `json:"genre,omitempty" validate:"omitempty,max=64"`
	ReverbAmount      *float64 `json:"reverb_amount,omitempty" validate:"omitempty,gte=0,lte=1"`
	CompressionAmount *float64 `json:"compression_amount,omitempty" validate:"omitempty,gte=0,lte=1"`
	OutputFormat      string   `json:"output_format,omitempty" validate:"omitempty,oneof=wav mp3"`
}

// Service — отправка задачи.
type Service interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (*models.Job, error)
}

// Handler обрабатывает POST /jobs.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Отправить трек на обработку
// @Description Резервирует право аккаунта и ставит задачу в очередь. При отказе возвращает 402 с путём повышения тарифа.
// @Tags Jobs
// @Accept  json
// @Produce  json
// @Param request body Request true "Входные файлы и параметры"
// @Success 202 {object} response.Response "Задача поставлена в очередь"
// @Failure 400 {object} response.ErrorResponse "Некорректный запрос"
// @Failure 401 {object} response.ErrorResponse "Не авторизован"
// @Failure 402 {object} response.DeniedResponse "Нет права на обработку"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /jobs [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.jobs.submit"
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
	log = log.With(sl.AccountID(accountID))

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("failed to decode request", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			log.Info("validation failed", sl.Err(err))
			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, response.ValidationError(verrs))
			return
		}
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	job, err := h.service.Submit(r.Context(), orchestrator.SubmitRequest{
		AccountID: accountID,
		Inputs: models.JobInputs{
			VocalHandle: req.VocalHandle,
			BeatHandle:  req.BeatHandle,
		},
		Options: req.options(),
	})
	if err != nil {
		response.WriteError(w, r, log, err, "could not submit job")
		return
	}

	log.Info("job accepted", sl.JobID(job.ID))
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, response.StatusOKWithData(job.Status()))
}

func (req Request) options() models.ProcessingOptions {
	opts := models.DefaultProcessingOptions()
	if req.Genre != "" {
		opts.Genre = req.Genre
	}
	if req.ReverbAmount != nil {
		opts.ReverbAmount = *req.ReverbAmount
	}
	if req.CompressionAmount != nil {
		opts.CompressionAmount = *req.CompressionAmount
	}
	if req.OutputFormat != "" {
		opts.OutputFormat = req.OutputFormat
	}
	return opts
}
