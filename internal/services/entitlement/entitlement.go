// Package entitlement реализует Entitlement Ledger — учёт прав аккаунта
// на обработку треков. Право удерживается двухфазно: резервирование до начала
// обработки, затем фиксация при успехе задачи или возврат при ошибке.
//
// Все изменения одного аккаунта выполняются в исключительной области
// хранилища (storage.LedgerRepository.WithAccount), поэтому два параллельных
// резервирования не могут потратить один и тот же кредит.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/mixmaster/internal/lib/sl"
	"github.com/magabrotheeeer/mixmaster/internal/metrics"
	"github.com/magabrotheeeer/mixmaster/internal/models"
	"github.com/magabrotheeeer/mixmaster/internal/storage"
)

// Service — Entitlement Ledger.
type Service struct {
	repo    storage.LedgerRepository
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New создаёт Service.
func New(repo storage.LedgerRepository, log *slog.Logger, opts ...Option) *Service {
	s := &Service{
		repo: repo,
		log:  log,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register создаёт аккаунт бесплатного тарифа. Повторный вызов возвращает существующий аккаунт.
func (s *Service) Register(ctx context.Context, accountID string) (*models.Account, error) {
	const op = "entitlement.Register"
	acc := models.NewAccount(accountID, s.now().UTC())
	err := s.repo.CreateAccount(ctx, acc)
	switch {
	case err == nil:
		s.log.Info("account registered", slog.String("op", op), sl.AccountID(accountID))
		return acc, nil
	case errors.Is(err, models.ErrAlreadyExists):
		return s.repo.GetAccount(ctx, accountID)
	default:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
}

// Account возвращает аккаунт.
func (s *Service) Account(ctx context.Context, accountID string) (*models.Account, error) {
	return s.repo.GetAccount(ctx, accountID)
}

// CheckAndReserve проверяет право аккаунта на обработку и удерживает одну его единицу под задачу jobID.
//
// Порядок проверки: lifetime → действующая подписка → платные кредиты → бесплатный кредит.
// Если ни одно условие не выполнено, возвращается *models.EntitlementDeniedError.
// Для задачи, у которой уже есть активное резервирование этого аккаунта, возвращается оно же.
func (s *Service) CheckAndReserve(ctx context.Context, accountID, jobID string) (*models.Reservation, error) {
	const op = "entitlement.CheckAndReserve"
	log := s.log.With(slog.String("op", op), sl.AccountID(accountID), sl.JobID(jobID))

	var reservation *models.Reservation
	err := s.repo.WithAccount(ctx, accountID, func(tx storage.AccountTx) error {
		existing, err := tx.FindActiveReservation(ctx, jobID)
		switch {
		case err == nil:
			if existing.AccountID != accountID {
				return fmt.Errorf("job %s is reserved by another account: %w", jobID, models.ErrInvalidState)
			}
			reservation = existing
			return nil
		case !errors.Is(err, models.ErrNotFound):
			return err
		}

		now := s.now().UTC()
		acc := tx.Account().Clone()
		kind, reason, ok := decide(acc, now)
		if !ok {
			return &models.EntitlementDeniedError{Reason: reason}
		}

		switch kind {
		case models.KindCredit:
			acc.PaidCredits--
		case models.KindFree:
			acc.FreeCreditsUsed = 1
		}
		if kind.Consuming() {
			acc.UpdatedAt = now
			if err := tx.SaveAccount(ctx, acc); err != nil {
				return err
			}
		}

		reservation = &models.Reservation{
			ID:        uuid.NewString(),
			AccountID: accountID,
			JobID:     jobID,
			Kind:      kind,
			Status:    models.ReservationReserved,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.InsertReservation(ctx, reservation)
	})
	if err != nil {
		var denied *models.EntitlementDeniedError
		if errors.As(err, &denied) {
			log.Info("entitlement denied", slog.String("reason", string(denied.Reason)))
			s.metrics.EntitlementDenied(string(denied.Reason))
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("entitlement reserved",
		slog.String("reservation_id", reservation.ID),
		slog.String("kind", string(reservation.Kind)))
	s.metrics.ReservationGranted(string(reservation.Kind))
	return reservation, nil
}

// Commit фиксирует резервирование после успешной задачи и увеличивает счётчик обработанных треков.
// Баланс не меняется: единица списана при резервировании.
func (s *Service) Commit(ctx context.Context, reservationID string) error {
	const op = "entitlement.Commit"
	r, err := s.repo.GetReservation(ctx, reservationID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = s.repo.WithAccount(ctx, r.AccountID, func(tx storage.AccountTx) error {
		cur, err := tx.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if cur.Status != models.ReservationReserved {
			return fmt.Errorf("reservation %s is %s: %w", reservationID, cur.Status, models.ErrInvalidState)
		}
		now := s.now().UTC()
		if err := tx.UpdateReservationStatus(ctx, reservationID, models.ReservationCommitted, now); err != nil {
			return err
		}
		acc := tx.Account().Clone()
		acc.TotalSongsProcessed++
		acc.UpdatedAt = now
		return tx.SaveAccount(ctx, acc)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("reservation committed", slog.String("op", op),
		slog.String("reservation_id", reservationID), sl.JobID(r.JobID))
	s.metrics.ReservationSettled("commit", string(r.Kind))
	return nil
}

// Release возвращает удержанную единицу после неуспешной задачи.
// Повторный возврат уже возвращённого резервирования ничего не делает.
func (s *Service) Release(ctx context.Context, reservationID string) error {
	const op = "entitlement.Release"
	r, err := s.repo.GetReservation(ctx, reservationID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	released := false
	err = s.repo.WithAccount(ctx, r.AccountID, func(tx storage.AccountTx) error {
		cur, err := tx.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		switch cur.Status {
		case models.ReservationReleased:
			return nil
		case models.ReservationCommitted:
			return fmt.Errorf("reservation %s is committed: %w", reservationID, models.ErrInvalidState)
		}

		now := s.now().UTC()
		if err := tx.UpdateReservationStatus(ctx, reservationID, models.ReservationReleased, now); err != nil {
			return err
		}
		if cur.Kind.Consuming() {
			acc := tx.Account().Clone()
			switch cur.Kind {
			case models.KindCredit:
				acc.PaidCredits++
			case models.KindFree:
				acc.FreeCreditsUsed = 0
			}
			acc.UpdatedAt = now
			if err := tx.SaveAccount(ctx, acc); err != nil {
				return err
			}
		}
		released = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if released {
		s.log.Info("reservation released", slog.String("op", op),
			slog.String("reservation_id", reservationID), sl.JobID(r.JobID),
			slog.String("kind", string(r.Kind)))
		s.metrics.ReservationSettled("release", string(r.Kind))
	}
	return nil
}

// ReservationForJob возвращает резервирование задачи.
func (s *Service) ReservationForJob(ctx context.Context, jobID string) (*models.Reservation, error) {
	return s.repo.GetReservationByJob(ctx, jobID)
}

// StaleReservations возвращает резервирования, остающиеся в статусе reserved дольше,
// чем до cutoff. Используется сборщиком для сверки с исходом задач.
func (s *Service) StaleReservations(ctx context.Context, cutoff time.Time, limit int) ([]*models.Reservation, error) {
	const op = "entitlement.StaleReservations"
	rs, err := s.repo.ListStaleReservations(ctx, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rs, nil
}

// decide выбирает источник права для аккаунта в момент now.
func decide(acc *models.Account, now time.Time) (models.ReservationKind, models.DenialReason, bool) {
	switch {
	case acc.Type == models.AccountLifetime:
		return models.KindLifetime, "", true
	case acc.SubscriptionUsable(now):
		return models.KindSubscription, "", true
	case acc.PaidCredits > 0:
		return models.KindCredit, "", true
	case acc.FreeCreditsUsed == 0:
		return models.KindFree, "", true
	}
	return "", denialReason(acc), false
}

// denialReason подбирает путь повышения тарифа по типу аккаунта.
func denialReason(acc *models.Account) models.DenialReason {
	switch acc.Type {
	case models.AccountFree:
		return models.ReasonUpgrade
	case models.AccountPayPerUse:
		return models.ReasonPurchase
	case models.AccountSubscription:
		return models.ReasonRenew
	default:
		return models.ReasonSubscribe
	}
}
