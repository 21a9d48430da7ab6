package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/mixmaster/internal/models"
)

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestStatusOKWithData(t *testing.T) {
	data := map[string]string{"key": "value"}
	resp := StatusOKWithData(data)

	assert.Equal(t, StatusOK, resp.Status)
	assert.Empty(t, resp.Error)
	assert.Equal(t, data, resp.Data)
}

func TestError(t *testing.T) {
	resp := Error("something went wrong")

	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "something went wrong", resp.Error)
}

func TestValidationError(t *testing.T) {
	type TestStruct struct {
		Name   string  `validate:"required"`
		Format string  `validate:"oneof=wav mp3"`
		Reverb float64 `validate:"gte=0,lte=1"`
	}

	err := validator.New().Struct(TestStruct{Format: "flac", Reverb: 2})
	require.Error(t, err)

	resp := ValidationError(err.(validator.ValidationErrors))
	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.Error, "field Name is a required field")
	assert.Contains(t, resp.Error, "field Format must be one of [wav mp3]")
	assert.Contains(t, resp.Error, "field Reverb must be at most 1")
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   map[string]any
	}{
		{
			name:       "entitlement denied",
			err:        fmt.Errorf("orchestrator.Submit: %w", &models.EntitlementDeniedError{Reason: models.ReasonPurchase}),
			wantStatus: http.StatusPaymentRequired,
			wantBody:   map[string]any{"status": "Error", "error": "entitlement denied", "reason": "purchase"},
		},
		{
			name:       "not found",
			err:        fmt.Errorf("jobs.Get: %w", models.ErrNotFound),
			wantStatus: http.StatusNotFound,
			wantBody:   map[string]any{"status": "Error", "error": "not found"},
		},
		{
			name:       "forbidden",
			err:        fmt.Errorf("status.GetStatus: %w", models.ErrForbidden),
			wantStatus: http.StatusForbidden,
			wantBody:   map[string]any{"status": "Error", "error": "forbidden"},
		},
		{
			name:       "unauthenticated",
			err:        models.ErrUnauthenticated,
			wantStatus: http.StatusUnauthorized,
			wantBody:   map[string]any{"status": "Error", "error": "unauthorized"},
		},
		{
			name:       "invalid input keeps description",
			err:        fmt.Errorf("orchestrator.Submit: %w", fmt.Errorf("handle x does not exist: %w", models.ErrInvalidInput)),
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]any{"status": "Error", "error": "handle x does not exist"},
		},
		{
			name:       "invalid state",
			err:        fmt.Errorf("entitlement.Commit: %w", models.ErrInvalidState),
			wantStatus: http.StatusInternalServerError,
			wantBody:   map[string]any{"status": "Error", "error": "could not submit job"},
		},
		{
			name:       "unexpected error",
			err:        errors.New("db down"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   map[string]any{"status": "Error", "error": "could not submit job"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()

			WriteError(rec, req, newNoopLogger(), tt.err, "could not submit job")

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body)
		})
	}
}
