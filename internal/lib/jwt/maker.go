// Package jwt выдаёт и проверяет токены доступа к API.
// Субъект токена (sub) — идентификатор аккаунта.
package jwt

import (
	"time"
)

// Maker выдаёт и проверяет токены.
type Maker interface {
	GenerateToken(accountID string) (string, error)
	ParseToken(tokenStr string) (*AccountClaims, error)
	// Verify возвращает идентификатор аккаунта из токена или models.ErrUnauthenticated.
	Verify(tokenStr string) (string, error)
}

// MakerImpl подписывает токены HMAC-SHA256 секретным ключом.
type MakerImpl struct {
	secretKey string
	issuer    string
	tokenTTL  time.Duration
	now       func() time.Time
}

// NewJWTMaker создаёт MakerImpl. Пустой issuer не проверяется.
func NewJWTMaker(secretKey, issuer string, ttl time.Duration) *MakerImpl {
	return &MakerImpl{
		secretKey: secretKey,
		issuer:    issuer,
		tokenTTL:  ttl,
		now:       time.Now,
	}
}
