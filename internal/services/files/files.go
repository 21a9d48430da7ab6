// Package files удаляет входные файлы и результат задачи по запросу владельца.
// Записи задачи и резервирования не меняются: удаляется только содержимое хранилища.
package files

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/mixmaster/internal/lib/sl"
	"github.com/magabrotheeeer/mixmaster/internal/models"
)

// JobReader — чтение задач.
type JobReader interface {
	Get(ctx context.Context, jobID string) (*models.Job, error)
}

// Deleter удаляет объекты хранилища. Реализуется blobstore.Store.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Service удаляет файлы задач.
type Service struct {
	jobs  JobReader
	blobs Deleter
	log   *slog.Logger
}

// New создаёт Service.
func New(jobs JobReader, blobs Deleter, log *slog.Logger) *Service {
	return &Service{jobs: jobs, blobs: blobs, log: log}
}

// DeleteJobFiles удаляет загруженные файлы и результат задачи jobID.
// Задачу в работе трогать нельзя: для неё возвращается models.ErrInvalidState.
// Повторный вызов безопасен. Возвращает удалённые ключи.
func (s *Service) DeleteJobFiles(ctx context.Context, jobID, callerID string) ([]string, error) {
	const op = "files.DeleteJobFiles"
	log := s.log.With(slog.String("op", op), sl.JobID(jobID), sl.AccountID(callerID))

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if job.OwnerAccountID != callerID {
		return nil, fmt.Errorf("%s: %w", op, models.ErrForbidden)
	}
	if !job.State.Terminal() {
		return nil, fmt.Errorf("%s: job is %s: %w", op, job.State, models.ErrInvalidState)
	}

	var deleted []string
	var errs []error
	for _, key := range jobKeys(job) {
		if err := s.blobs.Delete(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted = append(deleted, key)
	}
	if err := errors.Join(errs...); err != nil {
		log.Error("failed to delete job files", sl.Err(err), slog.Int("deleted", len(deleted)))
		return deleted, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("job files deleted", slog.Int("count", len(deleted)))
	return deleted, nil
}

func jobKeys(job *models.Job) []string {
	var keys []string
	for _, k := range []string{job.Inputs.VocalHandle, job.Inputs.BeatHandle, job.OutputReference} {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
