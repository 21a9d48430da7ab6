package jwt

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/magabrotheeeer/mixmaster/internal/models"
)

// AccountClaims — claims токена доступа.
type AccountClaims struct {
	jwt.RegisteredClaims
}

// AccountID возвращает идентификатор аккаунта из subject.
func (c *AccountClaims) AccountID() string {
	return c.Subject
}

// GenerateToken создаёт токен для accountID со временем жизни tokenTTL.
func (j *MakerImpl) GenerateToken(accountID string) (string, error) {
	now := j.now()
	claims := AccountClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.secretKey))
}

// ParseToken проверяет подпись, срок и издателя токена.
func (j *MakerImpl) ParseToken(tokenStr string) (*AccountClaims, error) {
	const op = "jwt.ParseToken"
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
		jwt.WithExpirationRequired(),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, &AccountClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(j.secretKey), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, ok := token.Claims.(*AccountClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: invalid token", op)
	}
	return claims, nil
}

// Verify реализует IdentityVerifier: токен → идентификатор аккаунта.
func (j *MakerImpl) Verify(tokenStr string) (string, error) {
	const op = "jwt.Verify"
	claims, err := j.ParseToken(tokenStr)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%s: token expired: %w", op, models.ErrUnauthenticated)
		}
		return "", fmt.Errorf("%s: %w", op, models.ErrUnauthenticated)
	}
	if claims.AccountID() == "" {
		return "", fmt.Errorf("%s: empty subject: %w", op, models.ErrUnauthenticated)
	}
	return claims.AccountID(), nil
}
