// Package orchestrator проводит задачу через этапы обработки:
// резервирует право при отправке, выполняет анализ, сведение и мастеринг
// и по исходу фиксирует или возвращает резервирование.
//
// Переходы одной задачи выполняет только тот воркер, который перевёл её
// из queued в analyzing. Блокировка аккаунта удерживается лишь на время
// резервирования, этапы обработки выполняются без неё.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/mixmaster/internal/blobstore"
	"github.com/magabrotheeeer/mixmaster/internal/dsp"
	"github.com/magabrotheeeer/mixmaster/internal/jobstate"
	"github.com/magabrotheeeer/mixmaster/internal/lib/sl"
	"github.com/magabrotheeeer/mixmaster/internal/metrics"
	"github.com/magabrotheeeer/mixmaster/internal/models"
)

// Ledger — операции Entitlement Ledger, нужные оркестратору.
type Ledger interface {
	CheckAndReserve(ctx context.Context, accountID, jobID string) (*models.Reservation, error)
	Commit(ctx context.Context, reservationID string) error
	Release(ctx context.Context, reservationID string) error
	ReservationForJob(ctx context.Context, jobID string) (*models.Reservation, error)
	StaleReservations(ctx context.Context, cutoff time.Time, limit int) ([]*models.Reservation, error)
}

// JobStore — операции Job Store.
type JobStore interface {
	Create(ctx context.Context, jobID, ownerID string, inputs models.JobInputs, opts models.ProcessingOptions) (*models.Job, error)
	Get(ctx context.Context, jobID string) (*models.Job, error)
	Advance(ctx context.Context, jobID string, to jobstate.State) (*models.Job, error)
	Complete(ctx context.Context, jobID, outputRef string) (*models.Job, error)
	Fail(ctx context.Context, jobID, detail string) (*models.Job, error)
	Stale(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error)
}

// Processor — внешний сервис обработки звука.
type Processor interface {
	Analyze(ctx context.Context, job *models.Job) (*dsp.Analysis, error)
	Mix(ctx context.Context, job *models.Job, analysis *dsp.Analysis) (string, error)
	Master(ctx context.Context, job *models.Job, mixHandle, outputKey string) (string, error)
}

// Dispatcher передаёт задачу на выполнение.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// Notifier сообщает о завершении задачи внешним получателям.
type Notifier interface {
	JobFinished(ctx context.Context, job *models.Job) error
}

// Config — ограничения времени обработки.
type Config struct {
	StageTimeout   time.Duration
	MaxJobDuration time.Duration
}

// Orchestrator — Job Orchestrator.
type Orchestrator struct {
	ledger     Ledger
	jobs       JobStore
	processor  Processor
	dispatcher Dispatcher
	notifier   Notifier
	blobs      blobstore.Store
	metrics    *metrics.Metrics
	log        *slog.Logger
	cfg        Config
	now        func() time.Time
}

// Option настраивает Orchestrator.
type Option func(*Orchestrator)

// WithNotifier подключает уведомления о завершении задач.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithBlobs включает проверку входных файлов при отправке.
func WithBlobs(b blobstore.Store) Option {
	return func(o *Orchestrator) { o.blobs = b }
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New создаёт Orchestrator. dispatcher может быть nil у процесса,
// который только выполняет задачи.
func New(ledger Ledger, jobs JobStore, processor Processor, dispatcher Dispatcher, cfg Config, log *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		ledger:     ledger,
		jobs:       jobs,
		processor:  processor,
		dispatcher: dispatcher,
		log:        log,
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SubmitRequest — запрос на обработку трека.
type SubmitRequest struct {
	AccountID string
	Inputs    models.JobInputs
	Options   models.ProcessingOptions
}

// Submit резервирует право аккаунта, создаёт задачу в состоянии queued
// и передаёт её на выполнение.
//
// При отказе в праве возвращается *models.EntitlementDeniedError, задача не создаётся.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*models.Job, error) {
	const op = "orchestrator.Submit"
	log := o.log.With(slog.String("op", op), sl.AccountID(req.AccountID))

	if err := o.checkInputs(ctx, req); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	jobID := uuid.NewString()
	log = log.With(sl.JobID(jobID))

	reservation, err := o.ledger.CheckAndReserve(ctx, req.AccountID, jobID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	job, err := o.jobs.Create(ctx, jobID, req.AccountID, req.Inputs, req.Options)
	if err != nil {
		log.Error("failed to create job, releasing reservation", sl.Err(err))
		o.release(reservation.ID, log)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if o.dispatcher != nil {
		if err := o.dispatcher.Dispatch(ctx, jobID); err != nil {
			log.Error("failed to dispatch job", sl.Err(err))
			o.finishFailed(job, reservation, "dispatch failed", log)
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	log.Info("job submitted", slog.String("reservation_kind", string(reservation.Kind)))
	return job, nil
}

func (o *Orchestrator) checkInputs(ctx context.Context, req SubmitRequest) error {
	if req.Inputs.VocalHandle == "" || req.Inputs.BeatHandle == "" {
		return fmt.Errorf("both vocal and beat handles are required: %w", models.ErrInvalidInput)
	}
	if o.blobs == nil {
		return nil
	}
	for _, handle := range []string{req.Inputs.VocalHandle, req.Inputs.BeatHandle} {
		if !blobstore.OwnedBy(handle, req.AccountID) {
			return fmt.Errorf("handle %s is not owned by caller: %w", handle, models.ErrInvalidInput)
		}
		ok, err := o.blobs.Exists(ctx, handle)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("handle %s does not exist: %w", handle, models.ErrInvalidInput)
		}
	}
	return nil
}

// release возвращает резервирование в отдельном контексте:
// исходный мог быть уже отменён.
func (o *Orchestrator) release(reservationID string, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.ledger.Release(ctx, reservationID); err != nil {
		o.logSettlementError(log, "failed to release reservation", reservationID, err)
	}
}

func (o *Orchestrator) logSettlementError(log *slog.Logger, msg, reservationID string, err error) {
	if errors.Is(err, models.ErrInvalidState) {
		log.Error(msg, slog.String("reservation_id", reservationID), sl.Err(err), sl.Invariant())
		return
	}
	log.Error(msg, slog.String("reservation_id", reservationID), sl.Err(err))
}
