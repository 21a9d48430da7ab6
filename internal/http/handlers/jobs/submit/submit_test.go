package submit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/mixmaster/internal/http/middlewarectx"
	"github.com/magabrotheeeer/mixmaster/internal/jobstate"
	"github.com/magabrotheeeer/mixmaster/internal/models"
	"github.com/magabrotheeeer/mixmaster/internal/services/orchestrator"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Submit(ctx context.Context, req orchestrator.SubmitRequest) (*models.Job, error) {
	args := m.Called(ctx, req)
	if res := args.Get(0); res != nil {
		return res.(*models.Job), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestSubmitHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	queued := &models.Job{ID: "job-1", State: jobstate.Queued, UpdatedAt: time.Now()}

	tests := []struct {
		name           string
		accountID      string
		body           string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:      "задача принята с параметрами по умолчанию",
			accountID: "acc-1",
			body:      `{"vocal_handle":"uploads/acc-1/v.wav","beat_handle":"uploads/acc-1/b.wav"}`,
			setupMock: func(m *MockService) {
				m.On("Submit", mock.Anything, orchestrator.SubmitRequest{
					AccountID: "acc-1",
					Inputs:    models.JobInputs{VocalHandle: "uploads/acc-1/v.wav", BeatHandle: "uploads/acc-1/b.wav"},
					Options:   models.DefaultProcessingOptions(),
				}).Return(queued, nil)
			},
			expectedStatus: http.StatusAccepted,
			expectedBody:   `"job_id":"job-1"`,
		},
		{
			name:      "заданные параметры перекрывают умолчания",
			accountID: "acc-1",
			body:      `{"vocal_handle":"v","beat_handle":"b","reverb_amount":0,"output_format":"mp3","genre":"trap"}`,
			setupMock: func(m *MockService) {
				opts := models.DefaultProcessingOptions()
				opts.ReverbAmount = 0
				opts.OutputFormat = "mp3"
				opts.Genre = "trap"
				m.On("Submit", mock.Anything, orchestrator.SubmitRequest{
					AccountID: "acc-1",
					Inputs:    models.JobInputs{VocalHandle: "v", BeatHandle: "b"},
					Options:   opts,
				}).Return(queued, nil)
			},
			expectedStatus: http.StatusAccepted,
			expectedBody:   `"state":"queued"`,
		},
		{
			name:           "нет аккаунта в контексте",
			body:           `{}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"error":"unauthorized"`,
		},
		{
			name:           "битый json",
			accountID:      "acc-1",
			body:           `{`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"error":"invalid request body"`,
		},
		{
			name:           "нет входных файлов",
			accountID:      "acc-1",
			body:           `{"beat_handle":"b"}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `field VocalHandle is a required field`,
		},
		{
			name:           "неизвестный формат",
			accountID:      "acc-1",
			body:           `{"vocal_handle":"v","beat_handle":"b","output_format":"flac"}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `field OutputFormat must be one of [wav mp3]`,
		},
		{
			name:           "реверберация вне диапазона",
			accountID:      "acc-1",
			body:           `{"vocal_handle":"v","beat_handle":"b","reverb_amount":1.5}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `field ReverbAmount must be at most 1`,
		},
		{
			name:      "отказ в праве",
			accountID: "acc-1",
			body:      `{"vocal_handle":"v","beat_handle":"b"}`,
			setupMock: func(m *MockService) {
				m.On("Submit", mock.Anything, mock.Anything).
					Return(nil, &models.EntitlementDeniedError{Reason: models.ReasonUpgrade})
			},
			expectedStatus: http.StatusPaymentRequired,
			expectedBody:   `"reason":"upgrade"`,
		},
		{
			name:      "чужой файл",
			accountID: "acc-1",
			body:      `{"vocal_handle":"uploads/acc-2/v.wav","beat_handle":"b"}`,
			setupMock: func(m *MockService) {
				m.On("Submit", mock.Anything, mock.Anything).
					Return(nil, fmt.Errorf("orchestrator.Submit: handle uploads/acc-2/v.wav is not owned by caller: %w", models.ErrInvalidInput))
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"error":"handle uploads/acc-2/v.wav is not owned by caller"`,
		},
		{
			name:      "ошибка сервиса",
			accountID: "acc-1",
			body:      `{"vocal_handle":"v","beat_handle":"b"}`,
			setupMock: func(m *MockService) {
				m.On("Submit", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `"error":"could not submit job"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)
			handler := New(logger, mockService)

			req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(tt.body))
			if tt.accountID != "" {
				req = req.WithContext(middlewarectx.WithAccountID(req.Context(), tt.accountID))
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
			mockService.AssertExpectations(t)
		})
	}
}
