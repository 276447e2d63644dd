package jwtx

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aussiebroadwan/sessionauth/pkg/cryptox"
)

// Default lifetimes.
const (
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

const jtiBytes = 20

// TokenUse separates access tokens from refresh tokens so one can never be
// replayed as the other, even when both are signed with the same secret.
type TokenUse string

const (
	UseAccess  TokenUse = "access"
	UseRefresh TokenUse = "refresh"
)

// Claims carried by both token kinds. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims

	Email string   `json:"email"`
	Role  string   `json:"role"`
	Use   TokenUse `json:"token_use"`
}

// Subject is the principal a token pair is minted for.
type Subject struct {
	ID    string
	Email string
	Role  string
}

func newClaims(sub Subject, use TokenUse, issuer, jti string, ttl time.Duration, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   sub.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
		Email: sub.Email,
		Role:  sub.Role,
		Use:   use,
	}
}

// NewJTI returns a random URL-safe "jti". Two pairs minted for the same user
// in the same second still differ because of it.
func NewJTI() (string, error) {
	jti, err := cryptox.GenerateToken(jtiBytes)
	if err != nil {
		return "", fmt.Errorf("jwtx: jti: %w", err)
	}
	return jti, nil
}

// ExpiresAtTime is a nil-safe accessor for the exp claim.
func (c Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}
