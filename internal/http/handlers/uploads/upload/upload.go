// Package upload принимает входные аудиофайлы и кладёт их в blob-хранилище.
package upload

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/mixmaster/internal/blobstore"
	"github.com/magabrotheeeer/mixmaster/internal/http/middlewarectx"
	"github.com/magabrotheeeer/mixmaster/internal/http/response"
	"github.com/magabrotheeeer/mixmaster/internal/lib/sl"
)

// FormField — имя поля multipart-формы с файлом.
const FormField = "file"

// Store — запись файла.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
}

// Handler обрабатывает POST /uploads.
type Handler struct {
	log      *slog.Logger
	store    Store
	maxBytes int64
}

// New создаёт Handler. maxMB ограничивает размер файла.
func New(log *slog.Logger, store Store, maxMB int64) *Handler {
	if maxMB <= 0 {
		maxMB = 100
	}
	return &Handler{log: log, store: store, maxBytes: maxMB << 20}
}

// ServeHTTP godoc
// @Summary Загрузка аудиофайла
// @Description Принимает wav или mp3 и возвращает handle для отправки задачи.
// @Tags Uploads
// @Accept  multipart/form-data
// @Produce  json
// @Param file formData file true "Аудиофайл"
// @Success 201 {object} response.Response "Handle загруженного файла"
// @Failure 400 {object} response.ErrorResponse "Некорректный файл"
// @Failure 401 {object} response.ErrorResponse "Не авторизован"
// @Failure 413 {object} response.ErrorResponse "Файл слишком большой"
// @Security BearerAuth
// @Router /uploads [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.uploads.upload"
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

	// запас на заголовки multipart
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)
	file, header, err := r.FormFile(FormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Info("upload too large")
			render.Status(r, http.StatusRequestEntityTooLarge)
			render.JSON(w, r, response.Error("file too large"))
			return
		}
		log.Warn("failed to read upload", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("file is required"))
		return
	}
	defer file.Close()

	if header.Size > h.maxBytes {
		log.Info("upload too large", slog.Int64("size", header.Size))
		render.Status(r, http.StatusRequestEntityTooLarge)
		render.JSON(w, r, response.Error("file too large"))
		return
	}

	switch strings.ToLower(path.Ext(header.Filename)) {
	case ".wav", ".mp3":
	default:
		log.Info("unsupported upload type", slog.String("filename", header.Filename))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("only wav and mp3 files are accepted"))
		return
	}

	key := blobstore.UploadKey(accountID, header.Filename)
	if err := h.store.Put(r.Context(), key, file, header.Size, blobstore.ContentType(key)); err != nil {
		log.Error("failed to store upload", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not store file"))
		return
	}

	log.Info("file uploaded", slog.String("handle", key), slog.Int64("size", header.Size))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"handle": key,
		"size":   header.Size,
	}))
}
