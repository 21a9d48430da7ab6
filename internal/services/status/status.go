// Package status реализует Status Query Service: чтение статуса задачи
// опрашивающим клиентом. Сервис ничего не изменяет.
//
// Терминальные статусы больше не меняются, поэтому их можно держать в кеше;
// статусы незавершённых задач всегда читаются из Job Store.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/mixmaster/internal/cache"
	"github.com/magabrotheeeer/mixmaster/internal/jobstate"
	"github.com/magabrotheeeer/mixmaster/internal/lib/sl"
	"github.com/magabrotheeeer/mixmaster/internal/models"
)

// JobReader — чтение задач.
type JobReader interface {
	Get(ctx context.Context, jobID string) (*models.Job, error)
	List(ctx context.Context, ownerID string, limit, offset int) ([]*models.Job, error)
}

// Cache — кеш статусов. Реализуется cache.Cache.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
}

// Presigner выдаёт временную ссылку на скачивание результата.
type Presigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// cachedStatus хранит владельца рядом со статусом, чтобы проверять доступ без похода в хранилище.
type cachedStatus struct {
	OwnerAccountID string           `json:"owner_account_id"`
	Status         models.JobStatus `json:"status"`
}

// Service — Status Query Service.
type Service struct {
	jobs       JobReader
	cache      Cache
	cacheTTL   time.Duration
	presigner  Presigner
	presignTTL time.Duration
	log        *slog.Logger
}

// Option настраивает Service.
type Option func(*Service)

// WithCache включает кеширование терминальных статусов на ttl.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithPresigner включает выдачу ссылок на результат.
func WithPresigner(p Presigner, ttl time.Duration) Option {
	return func(s *Service) {
		s.presigner = p
		s.presignTTL = ttl
	}
}

// New создаёт Service.
func New(jobs JobReader, log *slog.Logger, opts ...Option) *Service {
	s := &Service{jobs: jobs, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetStatus возвращает статус задачи jobID для аккаунта callerID.
// Возвращает models.ErrNotFound, если задачи нет, и models.ErrForbidden,
// если задача принадлежит другому аккаунту.
func (s *Service) GetStatus(ctx context.Context, jobID, callerID string) (*models.JobStatus, error) {
	const op = "status.GetStatus"
	log := s.log.With(slog.String("op", op), sl.JobID(jobID))

	if cached, ok := s.fromCache(ctx, jobID, log); ok {
		if cached.OwnerAccountID != callerID {
			return nil, fmt.Errorf("%s: %w", op, models.ErrForbidden)
		}
		return &cached.Status, nil
	}

	job, err := s.owned(ctx, jobID, callerID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	st := job.Status()
	if job.State.Terminal() {
		s.toCache(ctx, job, log)
	}
	return &st, nil
}

// List возвращает статусы задач аккаунта, новые первыми.
func (s *Service) List(ctx context.Context, callerID string, limit, offset int) ([]models.JobStatus, error) {
	const op = "status.List"
	list, err := s.jobs.List(ctx, callerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]models.JobStatus, 0, len(list))
	for _, j := range list {
		out = append(out, j.Status())
	}
	return out, nil
}

// ResultURL возвращает временную ссылку на результат завершённой задачи.
// Для задачи не в состоянии complete возвращает models.ErrInvalidState.
func (s *Service) ResultURL(ctx context.Context, jobID, callerID string) (string, error) {
	const op = "status.ResultURL"
	if s.presigner == nil {
		return "", fmt.Errorf("%s: result download is not configured", op)
	}
	job, err := s.owned(ctx, jobID, callerID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if job.State != jobstate.Complete {
		return "", fmt.Errorf("%s: job is %s: %w", op, job.State, models.ErrInvalidState)
	}
	url, err := s.presigner.PresignGet(ctx, job.OutputReference, s.presignTTL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return url, nil
}

func (s *Service) owned(ctx context.Context, jobID, callerID string) (*models.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerAccountID != callerID {
		return nil, models.ErrForbidden
	}
	return job, nil
}

func (s *Service) fromCache(ctx context.Context, jobID string, log *slog.Logger) (*cachedStatus, bool) {
	if s.cache == nil {
		return nil, false
	}
	var cached cachedStatus
	ok, err := s.cache.Get(ctx, cache.JobStatusKey(jobID), &cached)
	if err != nil {
		log.Warn("status cache read failed", sl.Err(err))
		return nil, false
	}
	return &cached, ok
}

func (s *Service) toCache(ctx context.Context, job *models.Job, log *slog.Logger) {
	if s.cache == nil {
		return
	}
	err := s.cache.Set(ctx, cache.JobStatusKey(job.ID), cachedStatus{
		OwnerAccountID: job.OwnerAccountID,
		Status:         job.Status(),
	}, s.cacheTTL)
	if err != nil {
		log.Warn("status cache write failed", sl.Err(err))
	}
}
