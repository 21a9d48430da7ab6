package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/mixmaster/internal/lib/sl"
	"github.com/magabrotheeeer/mixmaster/internal/models"
	"github.com/magabrotheeeer/mixmaster/internal/storage"
)

// ApplyPaymentEvent применяет событие провайдера к аккаунту.
//
// Проверка ProviderEventID и изменение баланса выполняются в одной области,
// поэтому повторная доставка того же события ничего не меняет.
// Возвращает false, если событие уже было применено.
func (s *Service) ApplyPaymentEvent(ctx context.Context, ev *models.PaymentEvent) (bool, error) {
	const op = "entitlement.ApplyPaymentEvent"
	log := s.log.With(slog.String("op", op), sl.AccountID(ev.AccountID),
		slog.String("provider_event_id", ev.ProviderEventID),
		slog.String("type", string(ev.Type)))

	applied, err := s.applyEvent(ctx, ev)
	if errors.Is(err, models.ErrNotFound) {
		// оплата может прийти раньше первого запроса клиента: аккаунт
		// создаётся так же, как при регистрации, и событие применяется к нему
		if _, regErr := s.Register(ctx, ev.AccountID); regErr != nil {
			s.metrics.PaymentEvent(string(ev.Type), "error")
			return false, fmt.Errorf("%s: %w", op, regErr)
		}
		log.Warn("account created by payment event")
		applied, err = s.applyEvent(ctx, ev)
	}
	if err != nil {
		s.metrics.PaymentEvent(string(ev.Type), "error")
		return false, fmt.Errorf("%s: %w", op, err)
	}

	if !applied {
		log.Warn("duplicate payment event ignored")
		s.metrics.PaymentEvent(string(ev.Type), "duplicate")
		return false, nil
	}
	log.Info("payment event applied")
	s.metrics.PaymentEvent(string(ev.Type), "applied")
	return true, nil
}

// applyEvent выполняет отметку события и изменение аккаунта в одной области.
func (s *Service) applyEvent(ctx context.Context, ev *models.PaymentEvent) (bool, error) {
	applied := false
	err := s.repo.WithAccount(ctx, ev.AccountID, func(tx storage.AccountTx) error {
		now := s.now().UTC()
		fresh, err := tx.MarkEventProcessed(ctx, ev.ProviderEventID, now)
		if err != nil {
			return err
		}
		if !fresh {
			return nil
		}

		acc := tx.Account().Clone()
		if mutate(acc, ev) {
			acc.UpdatedAt = now
			if err := tx.SaveAccount(ctx, acc); err != nil {
				return err
			}
		}

		if err := tx.InsertTransaction(ctx, &models.Transaction{
			ID:              uuid.NewString(),
			AccountID:       ev.AccountID,
			ProviderEventID: ev.ProviderEventID,
			Type:            ev.Type,
			Amount:          ev.Amount,
			Currency:        ev.Currency,
			Credits:         ev.CreditsGranted,
			CreatedAt:       now,
		}); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// mutate меняет аккаунт согласно событию и сообщает, изменилось ли что-нибудь.
func mutate(acc *models.Account, ev *models.PaymentEvent) bool {
	switch ev.Type {
	case models.EventCreditPurchase:
		if ev.CreditsGranted <= 0 {
			return false
		}
		acc.PaidCredits += ev.CreditsGranted
		if acc.Type == models.AccountFree {
			acc.Type = models.AccountPayPerUse
		}
		return true

	case models.EventSubscriptionCreated, models.EventSubscriptionRenewed:
		if staleSubscriptionEvent(acc, ev) {
			return false
		}
		acc.SubscriptionState = models.SubscriptionActive
		acc.CurrentPeriodEnd = copyTime(ev.PeriodEnd)
		if acc.Type != models.AccountLifetime {
			acc.Type = models.AccountSubscription
		}
		markSubscriptionEvent(acc, ev)
		return true

	case models.EventSubscriptionCanceled:
		if staleSubscriptionEvent(acc, ev) {
			return false
		}
		acc.SubscriptionState = models.SubscriptionCanceledPendingPeriodEnd
		if ev.PeriodEnd != nil {
			acc.CurrentPeriodEnd = copyTime(ev.PeriodEnd)
		}
		markSubscriptionEvent(acc, ev)
		return true

	case models.EventLifetimePurchase:
		acc.Type = models.AccountLifetime
		return true
	}
	// payment_failed фиксируется только в истории транзакций.
	return false
}

// staleSubscriptionEvent сообщает, что событие подписки старше уже применённого.
// События могут приходить в любом порядке. Событие с более поздним концом периода
// применяется всегда, иначе состояние определяет последнее по времени провайдера.
func staleSubscriptionEvent(acc *models.Account, ev *models.PaymentEvent) bool {
	if ev.PeriodEnd != nil && acc.CurrentPeriodEnd != nil && ev.PeriodEnd.After(*acc.CurrentPeriodEnd) {
		return false
	}
	if acc.SubscriptionEventAt == nil || ev.OccurredAt.IsZero() {
		return false
	}
	return ev.OccurredAt.Before(*acc.SubscriptionEventAt)
}

func markSubscriptionEvent(acc *models.Account, ev *models.PaymentEvent) {
	if ev.OccurredAt.IsZero() {
		return
	}
	t := ev.OccurredAt.UTC()
	if acc.SubscriptionEventAt == nil || t.After(*acc.SubscriptionEventAt) {
		acc.SubscriptionEventAt = &t
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := t.UTC()
	return &c
}

// ExpireSubscriptions переводит в expired подписки, чей оплаченный период закончился.
// Возвращает число изменённых аккаунтов.
func (s *Service) ExpireSubscriptions(ctx context.Context) (int, error) {
	const op = "entitlement.ExpireSubscriptions"
	now := s.now().UTC()
	ids, err := s.repo.ListLapsedSubscriptions(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	expired := 0
	for _, id := range ids {
		changed := false
		err := s.repo.WithAccount(ctx, id, func(tx storage.AccountTx) error {
			acc := tx.Account().Clone()
			// период мог быть продлён между выборкой и блокировкой
			if acc.CurrentPeriodEnd == nil || acc.CurrentPeriodEnd.After(now) ||
				acc.SubscriptionState == models.SubscriptionExpired ||
				acc.SubscriptionState == models.SubscriptionNone {
				return nil
			}
			acc.SubscriptionState = models.SubscriptionExpired
			acc.UpdatedAt = now
			changed = true
			return tx.SaveAccount(ctx, acc)
		})
		if err != nil {
			s.log.Error("failed to expire subscription", slog.String("op", op), sl.AccountID(id), sl.Err(err))
			continue
		}
		if changed {
			expired++
			s.log.Info("subscription expired", slog.String("op", op), sl.AccountID(id))
		}
	}
	return expired, nil
}

// Summary — сводка аккаунта для клиента.
type Summary struct {
	Account      *models.Account     `json:"account"`
	CanProcess   bool                `json:"can_process"`
	NextKind     string              `json:"next_kind,omitempty"`
	DenialReason models.DenialReason `json:"denial_reason,omitempty"`
}

// Summary возвращает аккаунт и результат проверки права без резервирования.
func (s *Service) Summary(ctx context.Context, accountID string) (*Summary, error) {
	const op = "entitlement.Summary"
	acc, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	kind, reason, ok := decide(acc, s.now().UTC())
	return &Summary{
		Account:      acc,
		CanProcess:   ok,
		NextKind:     string(kind),
		DenialReason: reason,
	}, nil
}

// Transactions возвращает историю платежей аккаунта.
func (s *Service) Transactions(ctx context.Context, accountID string, limit, offset int) ([]*models.Transaction, error) {
	const op = "entitlement.Transactions"
	if _, err := s.repo.GetAccount(ctx, accountID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	txs, err := s.repo.ListTransactions(ctx, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return txs, nil
}

// IsDenied сообщает, является ли err отказом в праве, и возвращает причину.
func IsDenied(err error) (models.DenialReason, bool) {
	var denied *models.EntitlementDeniedError
	if errors.As(err, &denied) {
		return denied.Reason, true
	}
	return "", false
}
