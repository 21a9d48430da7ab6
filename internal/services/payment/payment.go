// Package payment реализует Payment Reconciler: проверку подписи уведомлений
// провайдера, разбор их в models.PaymentEvent и применение к Entitlement Ledger.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/mixmaster/internal/lib/sl"
	"github.com/magabrotheeeer/mixmaster/internal/models"
)

// Ledger — часть Entitlement Ledger, нужная для применения событий.
type Ledger interface {
	ApplyPaymentEvent(ctx context.Context, ev *models.PaymentEvent) (bool, error)
}

// Verifier проверяет подпись тела уведомления.
type Verifier interface {
	Verify(body []byte, header string) error
}

// Ack — результат обработки уведомления.
type Ack struct {
	EventID   string                  `json:"event_id"`
	Type      models.PaymentEventType `json:"type,omitempty"`
	Applied   bool                    `json:"applied"`
	Duplicate bool                    `json:"duplicate,omitempty"`
	Ignored   bool                    `json:"ignored,omitempty"`
}

// Reconciler переводит уведомления провайдера в изменения баланса.
type Reconciler struct {
	ledger         Ledger
	verifier       Verifier
	log            *slog.Logger
	centsPerCredit int64
}

// New создаёт Reconciler. centsPerCredit используется, когда событие покупки
// не указывает число кредитов явно.
func New(ledger Ledger, verifier Verifier, log *slog.Logger, centsPerCredit int64) *Reconciler {
	if centsPerCredit <= 0 {
		centsPerCredit = 500
	}
	return &Reconciler{
		ledger:         ledger,
		verifier:       verifier,
		log:            log,
		centsPerCredit: centsPerCredit,
	}
}

// envelope — формат уведомления провайдера.
type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		AccountID string            `json:"account_id"`
		Amount    int64             `json:"amount"`
		Currency  string            `json:"currency"`
		Credits   *int              `json:"credits"`
		PeriodEnd *int64            `json:"period_end"`
		Metadata  map[string]string `json:"metadata"`
	} `json:"data"`
}

// providerTypes сопоставляет имена событий провайдера доменным типам.
// Доменные имена принимаются как есть.
var providerTypes = map[string]models.PaymentEventType{
	"payment_intent.succeeded":      models.EventCreditPurchase,
	"checkout.lifetime.completed":   models.EventLifetimePurchase,
	"customer.subscription.created": models.EventSubscriptionCreated,
	"customer.subscription.updated": models.EventSubscriptionRenewed,
	"invoice.paid":                  models.EventSubscriptionRenewed,
	"customer.subscription.deleted": models.EventSubscriptionCanceled,
	"invoice.payment_failed":        models.EventPaymentFailed,
}

// HandleEvent проверяет и применяет одно уведомление.
//
// Ошибки: models.ErrSignatureInvalid при неверной подписи,
// models.ErrMalformedEvent при неразбираемом теле. Неизвестные типы событий
// подтверждаются без изменений. Повторная доставка возвращает Ack с Duplicate.
func (r *Reconciler) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) (*Ack, error) {
	const op = "payment.HandleEvent"
	log := r.log.With(slog.String("op", op))

	if err := r.verifier.Verify(payload, signatureHeader); err != nil {
		log.Warn("webhook signature rejected", sl.Err(err))
		return nil, fmt.Errorf("%s: %w: %v", op, models.ErrSignatureInvalid, err)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Error("failed to unmarshal webhook payload", sl.Err(err))
		return nil, fmt.Errorf("%s: %w: %v", op, models.ErrMalformedEvent, err)
	}
	log = log.With(slog.String("provider_event_id", env.ID), slog.String("event", env.Type))

	evType, known := eventType(env.Type)
	if env.ID == "" {
		log.Error("webhook payload without event id")
		return nil, fmt.Errorf("%s: %w: missing id", op, models.ErrMalformedEvent)
	}
	if !known {
		log.Info("ignored webhook event")
		return &Ack{EventID: env.ID, Ignored: true}, nil
	}

	ev, err := r.toDomain(&env, evType, payload)
	if err != nil {
		log.Error("malformed webhook event", sl.Err(err))
		return nil, fmt.Errorf("%s: %w: %v", op, models.ErrMalformedEvent, err)
	}

	applied, err := r.ledger.ApplyPaymentEvent(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("webhook processed", sl.AccountID(ev.AccountID), slog.Bool("applied", applied))
	return &Ack{
		EventID:   ev.ProviderEventID,
		Type:      ev.Type,
		Applied:   applied,
		Duplicate: !applied,
	}, nil
}

func eventType(name string) (models.PaymentEventType, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if t := models.PaymentEventType(name); t.Valid() {
		return t, true
	}
	t, ok := providerTypes[name]
	return t, ok
}

func (r *Reconciler) toDomain(env *envelope, evType models.PaymentEventType, raw []byte) (*models.PaymentEvent, error) {
	accountID := env.Data.AccountID
	if accountID == "" {
		accountID = env.Data.Metadata["account_id"]
	}
	if accountID == "" {
		return nil, errors.New("missing account_id")
	}
	if env.Data.Amount < 0 {
		return nil, errors.New("negative amount")
	}

	ev := &models.PaymentEvent{
		ProviderEventID: env.ID,
		Type:            evType,
		AccountID:       accountID,
		Amount:          env.Data.Amount,
		Currency:        strings.ToLower(env.Data.Currency),
		RawPayload:      raw,
	}
	if env.Created > 0 {
		ev.OccurredAt = time.Unix(env.Created, 0).UTC()
	}
	if env.Data.PeriodEnd != nil {
		end := time.Unix(*env.Data.PeriodEnd, 0).UTC()
		ev.PeriodEnd = &end
	}

	switch evType {
	case models.EventCreditPurchase:
		credits := int(env.Data.Amount / r.centsPerCredit)
		if env.Data.Credits != nil {
			credits = *env.Data.Credits
		}
		if credits <= 0 {
			return nil, errors.New("credit purchase grants no credits")
		}
		ev.CreditsGranted = credits
	case models.EventSubscriptionCreated, models.EventSubscriptionRenewed:
		if ev.PeriodEnd == nil {
			return nil, errors.New("missing period_end")
		}
	}
	return ev, nil
}
