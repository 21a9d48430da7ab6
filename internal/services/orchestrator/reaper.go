package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/mixmaster/internal/jobstate"
	"github.com/magabrotheeeer/mixmaster/internal/lib/sl"
	"github.com/magabrotheeeer/mixmaster/internal/models"
)

const reapBatch = 100

// ReapStale переводит в error задачи, не завершившиеся за MaxJobDuration,
// и возвращает их резервирования. К пределу добавляется StageTimeout,
// чтобы воркер, который ещё выполняет задачу, успел завершить её сам.
// Затем сверяет с исходом задач резервирования, оставшиеся в reserved
// после того же предела. Возвращает число завершённых задач.
func (o *Orchestrator) ReapStale(ctx context.Context) (int, error) {
	const op = "orchestrator.ReapStale"
	log := o.log.With(slog.String("op", op))

	cutoff := o.now().Add(-(o.cfg.MaxJobDuration + o.cfg.StageTimeout))
	stale, err := o.jobs.Stale(ctx, cutoff, reapBatch)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	reaped := 0
	for _, job := range stale {
		if ctx.Err() != nil {
			break
		}
		jlog := log.With(sl.JobID(job.ID), slog.String("state", string(job.State)))

		failed, err := o.jobs.Fail(ctx, job.ID, DetailTimeout)
		if err != nil {
			if errors.Is(err, models.ErrInvalidState) {
				jlog.Info("job finished before reaping")
				continue
			}
			jlog.Error("failed to reap job", sl.Err(err))
			continue
		}

		reservation, err := o.ledger.ReservationForJob(ctx, job.ID)
		switch {
		case err == nil && reservation.Status == models.ReservationReserved:
			if err := o.ledger.Release(ctx, reservation.ID); err != nil {
				o.logSettlementError(jlog, "failed to release reservation", reservation.ID, err)
			}
		case err != nil && !errors.Is(err, models.ErrNotFound):
			jlog.Error("failed to load reservation", sl.Err(err))
		}

		reaped++
		o.metrics.JobFinished(string(jobstate.Error))
		jlog.Warn("stale job timed out")
		o.notify(ctx, failed, jlog)
	}

	if err := o.settleStale(ctx, cutoff, log); err != nil {
		return reaped, fmt.Errorf("%s: %w", op, err)
	}
	return reaped, nil
}

// settleStale доводит до конца резервирования, которые остались в reserved:
// фиксация или возврат не удались после записи исхода задачи, либо процесс
// остановился между резервированием и созданием задачи.
// Резервирование задачи в error или без задачи возвращается, задачи
// в complete фиксируется, задачи в работе не трогается.
func (o *Orchestrator) settleStale(ctx context.Context, cutoff time.Time, log *slog.Logger) error {
	stale, err := o.ledger.StaleReservations(ctx, cutoff, reapBatch)
	if err != nil {
		return err
	}

	for _, r := range stale {
		if ctx.Err() != nil {
			return nil
		}
		rlog := log.With(sl.JobID(r.JobID), slog.String("reservation_id", r.ID))

		job, err := o.jobs.Get(ctx, r.JobID)
		switch {
		case errors.Is(err, models.ErrNotFound):
			rlog.Warn("reservation without job, releasing", sl.Invariant())
			err = o.ledger.Release(ctx, r.ID)
		case err != nil:
			rlog.Error("failed to load job", sl.Err(err))
			continue
		case job.State == jobstate.Error:
			rlog.Warn("releasing reservation of failed job", sl.Invariant())
			err = o.ledger.Release(ctx, r.ID)
		case job.State == jobstate.Complete:
			rlog.Warn("committing reservation of complete job", sl.Invariant())
			err = o.ledger.Commit(ctx, r.ID)
		default:
			continue
		}
		if err != nil {
			if errors.Is(err, models.ErrInvalidState) {
				rlog.Info("reservation settled concurrently")
				continue
			}
			rlog.Error("failed to settle reservation", sl.Err(err))
		}
	}
	return nil
}
