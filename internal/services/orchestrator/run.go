package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/mixmaster/internal/blobstore"
	"github.com/magabrotheeeer/mixmaster/internal/dsp"
	"github.com/magabrotheeeer/mixmaster/internal/jobstate"
	"github.com/magabrotheeeer/mixmaster/internal/lib/sl"
	"github.com/magabrotheeeer/mixmaster/internal/models"
)

// Сообщения об ошибке, которые видит клиент. Подробности остаются в логах.
const (
	DetailTimeout     = "timeout"
	DetailInterrupted = "interrupted"
)

// Run выполняет задачу jobID от queued до терминального состояния.
//
// Ошибка этапа переводит задачу в error и возвращает резервирование; в этом
// случае Run возвращает nil. Ошибка возвращается, только если задачу не удалось
// прочитать или изменить. Задача не в состоянии queued уже выполняется
// или завершена и пропускается.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	const op = "orchestrator.Run"
	log := o.log.With(slog.String("op", op), sl.JobID(jobID))

	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if job.State != jobstate.Queued {
		log.Info("job already picked up, skipping", slog.String("state", string(job.State)))
		return nil
	}

	reservation, err := o.ledger.ReservationForJob(ctx, jobID)
	if err != nil {
		log.Error("job has no reservation", sl.Err(err), sl.Invariant())
		o.finishFailed(job, nil, "entitlement missing", log)
		return nil
	}
	if reservation.Status != models.ReservationReserved {
		log.Error("job reservation is not active", slog.String("status", string(reservation.Status)), sl.Invariant())
		o.finishFailed(job, nil, "entitlement missing", log)
		return nil
	}

	// queued → analyzing одновременно захватывает задачу: второй воркер получит ErrInvalidState.
	job, err = o.jobs.Advance(ctx, jobID, jobstate.Analyzing)
	if err != nil {
		if errors.Is(err, models.ErrInvalidState) {
			log.Info("job claimed by another worker")
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	done := o.metrics.JobStarted()
	defer done()
	log.Info("job started", slog.String("reservation_kind", string(reservation.Kind)))

	budget := o.cfg.MaxJobDuration - o.now().Sub(job.CreatedAt)
	if budget <= 0 {
		o.finishFailed(job, reservation, DetailTimeout, log)
		return nil
	}
	jobCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	outputRef, perr := o.process(jobCtx, job, log)
	if perr != nil {
		detail := o.failureDetail(ctx, jobCtx, perr)
		log.Warn("job failed", slog.String("stage", perr.Stage), slog.String("detail", detail), sl.Err(perr))
		o.finishFailed(job, reservation, detail, log)
		return nil
	}

	o.finishComplete(job, reservation, outputRef, log)
	return nil
}

// process выполняет этапы analyzing, mixing и mastering. Задача уже в analyzing.
func (o *Orchestrator) process(ctx context.Context, job *models.Job, log *slog.Logger) (string, *models.ProcessingError) {
	var analysis *dsp.Analysis
	err := o.stage(ctx, jobstate.Analyzing, func(ctx context.Context) error {
		var err error
		analysis, err = o.processor.Analyze(ctx, job)
		return err
	})
	if err != nil {
		return "", err
	}

	if perr := o.advance(ctx, job, jobstate.Mixing); perr != nil {
		return "", perr
	}
	var mixHandle string
	err = o.stage(ctx, jobstate.Mixing, func(ctx context.Context) error {
		var err error
		mixHandle, err = o.processor.Mix(ctx, job, analysis)
		return err
	})
	if err != nil {
		return "", err
	}

	if perr := o.advance(ctx, job, jobstate.Mastering); perr != nil {
		return "", perr
	}
	var outputRef string
	err = o.stage(ctx, jobstate.Mastering, func(ctx context.Context) error {
		var err error
		outputRef, err = o.processor.Master(ctx, job, mixHandle, blobstore.OutputKey(job.ID, job.Options.OutputFormat))
		return err
	})
	if err != nil {
		return "", err
	}

	log.Debug("all stages finished", slog.String("output", outputRef))
	return outputRef, nil
}

func (o *Orchestrator) advance(ctx context.Context, job *models.Job, to jobstate.State) *models.ProcessingError {
	updated, err := o.jobs.Advance(ctx, job.ID, to)
	if err != nil {
		return &models.ProcessingError{Stage: string(to), Detail: "state update failed", Err: err}
	}
	*job = *updated
	return nil
}

// stage выполняет fn с ограничением времени этапа.
func (o *Orchestrator) stage(ctx context.Context, st jobstate.State, fn func(ctx context.Context) error) *models.ProcessingError {
	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	start := o.now()
	err := fn(stageCtx)
	elapsed := o.now().Sub(start)
	if err == nil {
		o.metrics.StageObserved(string(st), "ok", elapsed)
		return nil
	}
	o.metrics.StageObserved(string(st), "error", elapsed)
	if stageCtx.Err() != nil && errors.Is(err, context.DeadlineExceeded) {
		return &models.ProcessingError{Stage: string(st), Detail: DetailTimeout, Err: err}
	}
	return &models.ProcessingError{Stage: string(st), Detail: string(st) + " failed", Err: err}
}

// failureDetail выбирает сообщение для клиента по причине сбоя.
func (o *Orchestrator) failureDetail(parent, jobCtx context.Context, perr *models.ProcessingError) string {
	switch {
	case parent.Err() != nil:
		return DetailInterrupted
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded), perr.Detail == DetailTimeout:
		return DetailTimeout
	default:
		return perr.Detail
	}
}

// finishFailed переводит задачу в error и возвращает резервирование.
// Выполняется в собственном контексте, чтобы завершиться и после отмены родительского.
func (o *Orchestrator) finishFailed(job *models.Job, reservation *models.Reservation, detail string, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	failed, err := o.jobs.Fail(ctx, job.ID, detail)
	if err != nil {
		if !errors.Is(err, models.ErrInvalidState) {
			log.Error("failed to mark job as error", sl.Err(err))
		} else if cur, getErr := o.jobs.Get(ctx, job.ID); getErr == nil && cur.State == jobstate.Error {
			// задачу уже завершил сборщик зависших задач
			log.Warn("job already failed", slog.String("detail", cur.ErrorDetail))
		} else {
			log.Error("failed to mark job as error", sl.Err(err), sl.Invariant())
		}
	}
	if reservation != nil {
		o.release(reservation.ID, log)
	}
	if failed != nil {
		o.metrics.JobFinished(string(jobstate.Error))
		o.notify(ctx, failed, log)
	}
}

// finishComplete переводит задачу в complete и фиксирует резервирование.
func (o *Orchestrator) finishComplete(job *models.Job, reservation *models.Reservation, outputRef string, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	completed, err := o.jobs.Complete(ctx, job.ID, outputRef)
	if err != nil {
		log.Error("failed to complete job", sl.Err(err))
		o.finishFailed(job, reservation, "finalization failed", log)
		return
	}
	if err := o.ledger.Commit(ctx, reservation.ID); err != nil {
		o.logSettlementError(log, "failed to commit reservation", reservation.ID, err)
	}
	o.metrics.JobFinished(string(jobstate.Complete))
	log.Info("job complete", slog.String("output", outputRef))
	o.notify(ctx, completed, log)
}

func (o *Orchestrator) notify(ctx context.Context, job *models.Job, log *slog.Logger) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.JobFinished(ctx, job); err != nil {
		log.Warn("failed to publish job notification", sl.Err(err))
	}
}
