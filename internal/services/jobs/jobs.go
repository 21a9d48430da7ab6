// Package jobs реализует Job Store: создание задач и изменение их состояния
// только по допустимым переходам конечного автомата.
//
// Писатель у задачи один (оркестратор), поэтому изменения применяются сравнением
// с ожидаемым текущим состоянием; конфликт означает нарушение порядка и
// возвращается как models.ErrInvalidState.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/mixmaster/internal/jobstate"
	"github.com/magabrotheeeer/mixmaster/internal/lib/sl"
	"github.com/magabrotheeeer/mixmaster/internal/models"
	"github.com/magabrotheeeer/mixmaster/internal/storage"
)

// Store — сервис задач поверх storage.JobRepository.
type Store struct {
	repo storage.JobRepository
	log  *slog.Logger
	now  func() time.Time
}

// New создаёт Store.
func New(repo storage.JobRepository, log *slog.Logger) *Store {
	return &Store{repo: repo, log: log, now: time.Now}
}

// WithClock подменяет источник времени.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Create сохраняет новую задачу в состоянии queued с прогрессом 0.
func (s *Store) Create(ctx context.Context, jobID, ownerID string, inputs models.JobInputs, opts models.ProcessingOptions) (*models.Job, error) {
	const op = "jobs.Create"
	now := s.now().UTC()
	job := &models.Job{
		ID:             jobID,
		OwnerAccountID: ownerID,
		State:          jobstate.Queued,
		Progress:       jobstate.Queued.Progress(),
		Inputs:         inputs,
		Options:        opts,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("job created", slog.String("op", op), sl.JobID(jobID), sl.AccountID(ownerID))
	return job, nil
}

// Get возвращает задачу или models.ErrNotFound.
func (s *Store) Get(ctx context.Context, jobID string) (*models.Job, error) {
	const op = "jobs.Get"
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return job, nil
}

// List возвращает задачи владельца, новые первыми.
func (s *Store) List(ctx context.Context, ownerID string, limit, offset int) ([]*models.Job, error) {
	const op = "jobs.List"
	list, err := s.repo.ListJobsByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return list, nil
}

// Stale возвращает нетерминальные задачи, созданные раньше cutoff, старые первыми.
func (s *Store) Stale(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	const op = "jobs.Stale"
	list, err := s.repo.ListStaleJobs(ctx, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return list, nil
}

// Advance переводит задачу в следующее состояние обработки.
// Терминальные состояния выставляются через Complete и Fail.
func (s *Store) Advance(ctx context.Context, jobID string, to jobstate.State) (*models.Job, error) {
	const op = "jobs.Advance"
	if to.Terminal() {
		return nil, fmt.Errorf("%s: use Complete or Fail for %s: %w", op, to, models.ErrInvalidState)
	}
	return s.transition(ctx, op, jobID, to, "", "")
}

// Complete переводит задачу из mastering в complete и сохраняет ссылку на результат.
func (s *Store) Complete(ctx context.Context, jobID, outputRef string) (*models.Job, error) {
	const op = "jobs.Complete"
	if outputRef == "" {
		return nil, fmt.Errorf("%s: empty output reference: %w", op, models.ErrInvalidState)
	}
	return s.transition(ctx, op, jobID, jobstate.Complete, outputRef, "")
}

// Fail переводит нетерминальную задачу в error. Прогресс сохраняется.
func (s *Store) Fail(ctx context.Context, jobID, detail string) (*models.Job, error) {
	const op = "jobs.Fail"
	if detail == "" {
		detail = "processing failed"
	}
	return s.transition(ctx, op, jobID, jobstate.Error, "", detail)
}

func (s *Store) transition(ctx context.Context, op, jobID string, to jobstate.State, outputRef, detail string) (*models.Job, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !jobstate.CanTransition(job.State, to) {
		return nil, fmt.Errorf("%s: job %s cannot move %s -> %s: %w", op, jobID, job.State, to, models.ErrInvalidState)
	}

	progress := to.Progress()
	if progress < 0 {
		progress = job.Progress
	}
	upd := storage.JobUpdate{
		State:           to,
		Progress:        progress,
		OutputReference: outputRef,
		ErrorDetail:     detail,
		At:              s.now().UTC(),
	}
	if err := s.repo.UpdateJob(ctx, jobID, job.State, upd); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	job.State = upd.State
	job.Progress = upd.Progress
	if outputRef != "" {
		job.OutputReference = outputRef
	}
	if detail != "" {
		job.ErrorDetail = detail
	}
	job.UpdatedAt = upd.At
	s.log.Debug("job transitioned", slog.String("op", op), sl.JobID(jobID),
		slog.String("state", string(to)), slog.Int("progress", progress))
	return job, nil
}
