package models

import "time"

// PaymentEventType — тип события платёжного провайдера.
type PaymentEventType string

const (
	EventCreditPurchase       PaymentEventType = "credit_purchase"
	EventSubscriptionCreated  PaymentEventType = "subscription_created"
	EventSubscriptionRenewed  PaymentEventType = "subscription_renewed"
	EventSubscriptionCanceled PaymentEventType = "subscription_canceled"
	EventLifetimePurchase     PaymentEventType = "lifetime_purchase"
	EventPaymentFailed        PaymentEventType = "payment_failed"
)

// Valid сообщает, известен ли тип события.
func (t PaymentEventType) Valid() bool {
	switch t {
	case EventCreditPurchase, EventSubscriptionCreated, EventSubscriptionRenewed,
		EventSubscriptionCanceled, EventLifetimePurchase, EventPaymentFailed:
		return true
	}
	return false
}

// PaymentEvent — проверенное событие провайдера, приведённое к доменной форме.
// ProviderEventID применяется к балансу не более одного раза.
type PaymentEvent struct {
	ProviderEventID string           `json:"provider_event_id"`
	Type            PaymentEventType `json:"type"`
	AccountID       string           `json:"account_id"`
	Amount          int64            `json:"amount"` // в центах
	Currency        string           `json:"currency"`
	CreditsGranted  int              `json:"credits_granted"`
	PeriodEnd       *time.Time       `json:"period_end,omitempty"`
	OccurredAt      time.Time        `json:"occurred_at"`
	RawPayload      []byte           `json:"-"`
}

// Transaction — запись в истории платежей аккаунта.
type Transaction struct {
	ID              string           `json:"id"`
	AccountID       string           `json:"account_id"`
	ProviderEventID string           `json:"provider_event_id"`
	Type            PaymentEventType `json:"type"`
	Amount          int64            `json:"amount"`
	Currency        string           `json:"currency"`
	Credits         int              `json:"credits"`
	CreatedAt       time.Time        `json:"created_at"`
}
