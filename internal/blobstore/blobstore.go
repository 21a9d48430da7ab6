// Package blobstore хранит входные файлы и результаты задач.
// Файлы адресуются непрозрачными ключами (handle), которые сохраняются в задаче.
package blobstore

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound возвращается, если объекта с ключом нет.
var ErrNotFound = errors.New("blob not found")

// Store — хранилище файлов.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Delete удаляет объект. Отсутствующий объект не считается ошибкой.
	Delete(ctx context.Context, key string) error
}

// UploadKey строит ключ для загруженного пользователем файла.
func UploadKey(accountID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return path.Join("uploads", accountID, uuid.NewString()+ext)
}

// OutputKey строит ключ результата задачи.
func OutputKey(jobID, format string) string {
	if format == "" {
		format = "wav"
	}
	return path.Join("outputs", jobID+"."+format)
}

// OwnedBy сообщает, принадлежит ли ключ загрузок аккаунту.
func OwnedBy(key, accountID string) bool {
	return strings.HasPrefix(key, path.Join("uploads", accountID)+"/")
}

// ContentType подбирает тип содержимого по расширению.
func ContentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	}
	return "application/octet-stream"
}
