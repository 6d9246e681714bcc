package sandbox

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenIssuer mints and verifies the sandbox's bearer tokens. Logout revokes
// by token ID so /logout has a visible server-side effect.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration

	mu      sync.Mutex
	revoked map[string]struct{} // jti set
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:  []byte(secret),
		ttl:     ttl,
		revoked: map[string]struct{}{},
	}
}

// Issue mints a token for userID.
func (t *TokenIssuer) Issue(userID, tokenID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ID:        tokenID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Verify returns the user ID for a valid, unrevoked token.
func (t *TokenIssuer) Verify(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}

	t.mu.Lock()
	_, revoked := t.revoked[claims.ID]
	t.mu.Unlock()
	if revoked {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Revoke invalidates a token server-side.
func (t *TokenIssuer) Revoke(raw string) error {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	t.mu.Lock()
	t.revoked[claims.ID] = struct{}{}
	t.mu.Unlock()
	return nil
}
