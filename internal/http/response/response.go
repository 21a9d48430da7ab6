// Package response содержит единый формат JSON-ответов HTTP-обработчиков
// и отображение доменных ошибок на HTTP-статусы.
package response

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/mixmaster/internal/lib/sl"
	"github.com/magabrotheeeer/mixmaster/internal/models"
)

// Response описывает стандартную структуру JSON-ответа сервера.
// Поле Status — статус запроса ("OK" или "Error").
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// ErrorResponse — структура ошибки для Swagger-документации.
type ErrorResponse struct {
	Status string `json:"status" example:"Error"`
	Error  string `json:"error" example:"invalid request body"`
}

// DeniedResponse — отказ в праве на обработку с путём повышения тарифа.
type DeniedResponse struct {
	Status string              `json:"status" example:"Error"`
	Error  string              `json:"error" example:"entitlement denied"`
	Reason models.DenialReason `json:"reason" example:"upgrade"`
}

const (
	// StatusOK — значение статуса для успешного ответа.
	StatusOK = "OK"
	// StatusError — значение статуса для ответа с ошибкой.
	StatusError = "Error"
)

// StatusOKWithData возвращает успешный Response с переданными данными.
func StatusOKWithData(data any) Response {
	return Response{
		Status: StatusOK,
		Data:   data,
	}
}

// Error возвращает ответ с ошибкой и переданным сообщением.
func Error(msg string) ErrorResponse {
	return ErrorResponse{
		Status: StatusError,
		Error:  msg,
	}
}

// Denied возвращает ответ об отказе в праве.
func Denied(reason models.DenialReason) DeniedResponse {
	return DeniedResponse{
		Status: StatusError,
		Error:  "entitlement denied",
		Reason: reason,
	}
}

// ValidationError формирует Response со статусом Error на основе ошибок валидации.
// Каждое нарушение формируется в человекочитаемый текст, объединённый через запятую.
func ValidationError(errs validator.ValidationErrors) Response {
	var errsMsgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "alphanum":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s can contain only numbers and letters", err.Field()))
		case "numeric":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s can contain only numbers", err.Field()))
		case "oneof":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be one of [%s]", err.Field(), err.Param()))
		case "min", "gte":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be at least %s", err.Field(), err.Param()))
		case "max", "lte":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be at most %s", err.Field(), err.Param()))
		default:
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is not a valid", err.Field()))
		}
	}
	return Response{
		Status: StatusError,
		Error:  strings.Join(errsMsgs, ", "),
	}
}

// WriteError отображает ошибку сервиса на HTTP-статус и пишет ответ.
// msg уходит клиенту только для 500, остальные статусы описывают себя сами.
func WriteError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error, msg string) {
	var denied *models.EntitlementDeniedError
	switch {
	case errors.As(err, &denied):
		log.Info("entitlement denied", slog.String("reason", string(denied.Reason)))
		render.Status(r, http.StatusPaymentRequired)
		render.JSON(w, r, Denied(denied.Reason))
	case errors.Is(err, models.ErrNotFound):
		log.Info("not found", sl.Err(err))
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, Error("not found"))
	case errors.Is(err, models.ErrForbidden):
		log.Warn("forbidden", sl.Err(err))
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, Error("forbidden"))
	case errors.Is(err, models.ErrUnauthenticated):
		log.Warn("unauthenticated", sl.Err(err))
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, Error("unauthorized"))
	case errors.Is(err, models.ErrInvalidInput):
		log.Info("invalid input", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, Error(strings.TrimSpace(inputMessage(err))))
	case errors.Is(err, models.ErrInvalidState):
		log.Error(msg, sl.Err(err), sl.Invariant())
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, Error(msg))
	default:
		log.Error(msg, sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, Error(msg))
	}
}

// inputMessage отрезает от ошибки префиксы op и оставляет описание для клиента.
func inputMessage(err error) string {
	text := err.Error()
	if i := strings.LastIndex(text, ": "+models.ErrInvalidInput.Error()); i >= 0 {
		text = text[:i]
	}
	if i := strings.LastIndex(text, ": "); i >= 0 {
		text = text[i+2:]
	}
	if text == "" {
		return models.ErrInvalidInput.Error()
	}
	return text
}
