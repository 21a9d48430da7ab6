// Package paymentwebhook принимает уведомления платёжного провайдера.
package paymentwebhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/mixmaster/internal/http/response"
	"github.com/magabrotheeeer/mixmaster/internal/lib/sl"
	"github.com/magabrotheeeer/mixmaster/internal/models"
	"github.com/magabrotheeeer/mixmaster/internal/services/payment"
)

// SignatureHeader — заголовок с подписью тела уведомления.
const SignatureHeader = "Payment-Signature"

const maxBodyBytes = 1 << 20

// Service обрабатывает уведомление.
type Service interface {
	HandleEvent(ctx context.Context, payload []byte, signatureHeader string) (*payment.Ack, error)
}

// Handler обрабатывает POST /webhooks/payment.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Уведомление платёжного провайдера
// @Description Неверная подпись отклоняется с 401. Неразбираемое или слишком большое событие подтверждается с 200, чтобы провайдер не повторял доставку.
// @Tags Payment
// @Accept  json
// @Produce  json
// @Param Payment-Signature header string true "Подпись вида t=<unix>,v1=<base64>"
// @Success 200 {object} response.Response "Событие принято"
// @Failure 401 {object} response.ErrorResponse "Неверная подпись"
// @Failure 500 {object} response.ErrorResponse "Временная ошибка, провайдер повторит доставку"
// @Router /webhooks/payment [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			// обрезанное тело не пройдёт проверку подписи ни при какой доставке
			log.Error("webhook body too large, acknowledged", slog.Int64("limit", tooLarge.Limit))
			render.JSON(w, r, response.Error("payload too large"))
			return
		}
		log.Error("failed to read webhook body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("could not read body"))
		return
	}
	defer r.Body.Close()

	ack, err := h.service.HandleEvent(r.Context(), body, r.Header.Get(SignatureHeader))
	switch {
	case err == nil:
		render.JSON(w, r, response.StatusOKWithData(ack))
	case errors.Is(err, models.ErrSignatureInvalid):
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("invalid signature"))
	case errors.Is(err, models.ErrMalformedEvent):
		// повторная доставка не исправит тело
		log.Warn("malformed webhook acknowledged", sl.Err(err))
		render.JSON(w, r, response.Error("malformed event"))
	default:
		log.Error("failed to process webhook", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("temporary failure"))
	}
}
