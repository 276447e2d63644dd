package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidOrExpiredToken is the only error verification reports. Bad
// signatures, malformed payloads, wrong token kinds and expiry all wrap it so
// callers cannot tell them apart.
var ErrInvalidOrExpiredToken = errors.New("jwtx: invalid or expired token")

// Verifier validates a JWT and returns its claims.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// HS256Verifier checks signature, issuer, exp/nbf and token_use.
type HS256Verifier struct {
	key    []byte
	issuer string
	use    TokenUse
	now    func() time.Time
}

func NewVerifierHS256(secret []byte, issuer string, use TokenUse, now func() time.Time) *HS256Verifier {
	if now == nil {
		now = time.Now
	}
	return &HS256Verifier{key: secret, issuer: issuer, use: use, now: now}
}

func (v *HS256Verifier) Verify(tokenStr string) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	token, err := jwt.NewParser(opts...).ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidOrExpiredToken, err)
	}
	if !token.Valid {
		return Claims{}, ErrInvalidOrExpiredToken
	}
	if claims.Use != v.use {
		return Claims{}, fmt.Errorf("%w: token_use %q", ErrInvalidOrExpiredToken, claims.Use)
	}
	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidOrExpiredToken)
	}
	return claims, nil
}
