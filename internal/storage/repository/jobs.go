package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/mixmaster/internal/jobstate"
	"github.com/magabrotheeeer/mixmaster/internal/models"
	"github.com/magabrotheeeer/mixmaster/internal/storage"
)

const jobColumns = `id, owner_account_id, state, progress, vocal_handle, beat_handle, options,
	output_reference, error_detail, created_at, updated_at`

func scanJob(row interface{ Scan(dest ...any) error }) (*models.Job, error) {
	var (
		job       models.Job
		options   []byte
		outputRef sql.NullString
		errDetail sql.NullString
	)
	err := row.Scan(&job.ID, &job.OwnerAccountID, &job.State, &job.Progress, &job.Inputs.VocalHandle,
		&job.Inputs.BeatHandle, &options, &outputRef, &errDetail, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &job.Options); err != nil {
			return nil, fmt.Errorf("decode options: %w", err)
		}
	}
	job.OutputReference = outputRef.String
	job.ErrorDetail = errDetail.String
	return &job, nil
}

// CreateJob сохраняет новую задачу.
func (s *Storage) CreateJob(ctx context.Context, job *models.Job) error {
	const op = "storage.CreateJob"
	options, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	query := `INSERT INTO jobs (id, owner_account_id, state, progress, vocal_handle, beat_handle, options,
			  output_reference, error_detail, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = s.DB.ExecContext(ctx, query, job.ID, job.OwnerAccountID, job.State, job.Progress,
		job.Inputs.VocalHandle, job.Inputs.BeatHandle, options,
		nullString(job.OutputReference), nullString(job.ErrorDetail), job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if uniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, models.ErrAlreadyExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetJob возвращает задачу по ID.
func (s *Storage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	const op = "storage.GetJob"
	job, err := scanJob(s.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return job, nil
}

// UpdateJob применяет upd, только если задача в состоянии from.
// Условие в WHERE делает проверку и запись одной операцией.
func (s *Storage) UpdateJob(ctx context.Context, id string, from jobstate.State, upd storage.JobUpdate) error {
	const op = "storage.UpdateJob"
	query := `UPDATE jobs SET state = $3, progress = $4,
			  output_reference = COALESCE($5, output_reference),
			  error_detail = COALESCE($6, error_detail),
			  updated_at = $7
			  WHERE id = $1 AND state = $2`
	res, err := s.DB.ExecContext(ctx, query, id, from, upd.State, upd.Progress,
		nullString(upd.OutputReference), nullString(upd.ErrorDetail), upd.At)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 1 {
		return nil
	}

	var current jobstate.State
	err = s.DB.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: job %s is %s, expected %s: %w", op, id, current, from, models.ErrInvalidState)
}

// ListJobsByOwner возвращает задачи владельца, новые первыми.
func (s *Storage) ListJobsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*models.Job, error) {
	const op = "storage.ListJobsByOwner"
	query := `SELECT ` + jobColumns + ` FROM jobs
			  WHERE owner_account_id = $1
			  ORDER BY created_at DESC, id
			  LIMIT $2 OFFSET $3`
	return s.queryJobs(ctx, op, query, ownerID, limitOrAll(limit), offset)
}

// ListStaleJobs возвращает нетерминальные задачи, созданные раньше cutoff, старые первыми.
func (s *Storage) ListStaleJobs(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	const op = "storage.ListStaleJobs"
	query := `SELECT ` + jobColumns + ` FROM jobs
			  WHERE state NOT IN ('complete', 'error') AND created_at < $1
			  ORDER BY created_at
			  LIMIT $2`
	return s.queryJobs(ctx, op, query, cutoff, limitOrAll(limit))
}

func (s *Storage) queryJobs(ctx context.Context, op, query string, args ...any) ([]*models.Job, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	result := []*models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
