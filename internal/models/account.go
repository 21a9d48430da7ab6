// Package models содержит доменные структуры сервиса сведения и мастеринга:
// аккаунт с его балансом прав на обработку, резервирование права под задачу,
// задачу обработки аудио, платёжные события провайдера и историю транзакций.
package models

import "time"

// AccountType описывает тарифную модель аккаунта.
type AccountType string

const (
	AccountFree         AccountType = "free"
	AccountPayPerUse    AccountType = "pay_per_use"
	AccountSubscription AccountType = "subscription"
	AccountLifetime     AccountType = "lifetime"
)

// SubscriptionState описывает состояние подписки аккаунта.
type SubscriptionState string

const (
	SubscriptionNone                     SubscriptionState = "none"
	SubscriptionActive                   SubscriptionState = "active"
	SubscriptionPastDue                  SubscriptionState = "past_due"
	SubscriptionCanceledPendingPeriodEnd SubscriptionState = "canceled_pending_period_end"
	SubscriptionExpired                  SubscriptionState = "expired"
)

// Account хранит баланс прав пользователя.
// Изменяется только операциями Entitlement Ledger, никогда не удаляется.
type Account struct {
	ID                  string            `json:"id"`
	Type                AccountType       `json:"account_type"`
	FreeCreditsUsed     int               `json:"free_credits_used"` // 0 или 1
	PaidCredits         int               `json:"paid_credits"`      // >= 0
	SubscriptionState   SubscriptionState `json:"subscription_state"`
	CurrentPeriodEnd    *time.Time        `json:"current_period_end,omitempty"`
	SubscriptionEventAt *time.Time        `json:"-"` // время последнего применённого события подписки
	TotalSongsProcessed int               `json:"total_songs_processed"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// NewAccount возвращает аккаунт бесплатного тарифа с неиспользованным бесплатным кредитом.
func NewAccount(id string, now time.Time) *Account {
	return &Account{
		ID:                id,
		Type:              AccountFree,
		SubscriptionState: SubscriptionNone,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// SubscriptionUsable сообщает, даёт ли подписка доступ в момент now.
// Отменённая подписка сохраняет доступ до конца оплаченного периода.
func (a *Account) SubscriptionUsable(now time.Time) bool {
	if a.CurrentPeriodEnd == nil || !now.Before(*a.CurrentPeriodEnd) {
		return false
	}
	return a.SubscriptionState == SubscriptionActive ||
		a.SubscriptionState == SubscriptionCanceledPendingPeriodEnd
}

// Clone возвращает независимую копию аккаунта.
func (a *Account) Clone() *Account {
	c := *a
	if a.CurrentPeriodEnd != nil {
		t := *a.CurrentPeriodEnd
		c.CurrentPeriodEnd = &t
	}
	if a.SubscriptionEventAt != nil {
		t := *a.SubscriptionEventAt
		c.SubscriptionEventAt = &t
	}
	return &c
}
