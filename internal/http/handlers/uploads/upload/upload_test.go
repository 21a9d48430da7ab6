package upload

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/mixmaster/internal/blobstore"
	"github.com/magabrotheeeer/mixmaster/internal/http/middlewarectx"
)

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	fw, err := mw.CreateFormFile(FormField, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func TestUploadHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name           string
		filename       string
		content        []byte
		maxMB          int64
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "wav принят",
			filename:       "vocal.WAV",
			content:        []byte("RIFF....WAVE"),
			expectedStatus: http.StatusCreated,
			expectedBody:   `"handle":"uploads/acc-1/`,
		},
		{
			name:           "mp3 принят",
			filename:       "beat.mp3",
			content:        []byte("ID3"),
			expectedStatus: http.StatusCreated,
			expectedBody:   `.mp3"`,
		},
		{
			name:           "неподдерживаемый формат",
			filename:       "notes.txt",
			content:        []byte("hello"),
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `only wav and mp3 files are accepted`,
		},
		{
			name:           "слишком большой файл",
			filename:       "long.wav",
			content:        bytes.Repeat([]byte{0}, 3<<20),
			maxMB:          1,
			expectedStatus: http.StatusRequestEntityTooLarge,
			expectedBody:   `file too large`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := blobstore.NewMemory("http://blobs.local")
			handler := New(logger, store, tt.maxMB)

			body, contentType := multipartBody(t, tt.filename, tt.content)
			req := httptest.NewRequest(http.MethodPost, "/uploads", body)
			req.Header.Set("Content-Type", contentType)
			req = req.WithContext(middlewarectx.WithAccountID(req.Context(), "acc-1"))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)

			if tt.expectedStatus != http.StatusCreated {
				return
			}
			var resp struct {
				Data struct {
					Handle string `json:"handle"`
				} `json:"data"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.True(t, blobstore.OwnedBy(resp.Data.Handle, "acc-1"))
			stored, ok := store.Get(resp.Data.Handle)
			require.True(t, ok)
			assert.Equal(t, tt.content, stored)
		})
	}
}

func TestUploadHandler_MissingFile(t *testing.T) {
	handler := New(slog.New(slog.NewTextHandler(io.Discard, nil)), blobstore.NewMemory(""), 1)
	req := httptest.NewRequest(http.MethodPost, "/uploads", strings.NewReader("plain"))
	req.Header.Set("Content-Type", "text/plain")
	req = req.WithContext(middlewarectx.WithAccountID(req.Context(), "acc-1"))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "file is required")
}
