package jwtx

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenPair is the result of Issue.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

type IssuerConfig struct {
	// Secret signs access tokens.
	Secret []byte
	// RefreshSecret signs refresh tokens. Falls back to Secret when empty.
	RefreshSecret []byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Now           func() time.Time
	// NewID mints the jti claim. Defaults to NewJTI.
	NewID func() (string, error)
}

// TokenIssuer mints and verifies access/refresh pairs.
type TokenIssuer struct {
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	newID      func() (string, error)

	accessSigner    Signer
	refreshSigner   Signer
	accessVerifier  *HS256Verifier
	refreshVerifier *HS256Verifier
}

func NewTokenIssuer(cfg IssuerConfig) (*TokenIssuer, error) {
	if len(cfg.RefreshSecret) == 0 {
		cfg.RefreshSecret = cfg.Secret
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTokenTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = NewJTI
	}

	access, err := NewSignerHS256(cfg.Secret)
	if err != nil {
		return nil, err
	}
	refresh, err := NewSignerHS256(cfg.RefreshSecret)
	if err != nil {
		return nil, errors.Join(errors.New("jwtx: refresh secret"), err)
	}

	return &TokenIssuer{
		issuer:          cfg.Issuer,
		accessTTL:       cfg.AccessTTL,
		refreshTTL:      cfg.RefreshTTL,
		now:             cfg.Now,
		newID:           cfg.NewID,
		accessSigner:    access,
		refreshSigner:   refresh,
		accessVerifier:  NewVerifierHS256(cfg.Secret, cfg.Issuer, UseAccess, cfg.Now),
		refreshVerifier: NewVerifierHS256(cfg.RefreshSecret, cfg.Issuer, UseRefresh, cfg.Now),
	}, nil
}

func (i *TokenIssuer) AccessTTL() time.Duration  { return i.accessTTL }
func (i *TokenIssuer) RefreshTTL() time.Duration { return i.refreshTTL }

// AccessVerifier exposes access-token verification for middleware.
func (i *TokenIssuer) AccessVerifier() Verifier { return i.accessVerifier }

// Issue signs a fresh pair for sub.
func (i *TokenIssuer) Issue(sub Subject) (TokenPair, error) {
	now := i.now().UTC()

	accessID, err := i.newID()
	if err != nil {
		return TokenPair{}, err
	}
	refreshID, err := i.newID()
	if err != nil {
		return TokenPair{}, err
	}

	ac := newClaims(sub, UseAccess, i.issuer, accessID, i.accessTTL, now)
	access, err := i.accessSigner.Sign(ac)
	if err != nil {
		return TokenPair{}, err
	}

	rc := newClaims(sub, UseRefresh, i.issuer, refreshID, i.refreshTTL, now)
	refresh, err := i.refreshSigner.Sign(rc)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  ac.ExpiresAtTime(),
		RefreshExpiresAt: rc.ExpiresAtTime(),
	}, nil
}

// Verify checks token as an access token, or as a refresh token when
// isRefresh is set. Every failure is ErrInvalidOrExpiredToken.
func (i *TokenIssuer) Verify(token string, isRefresh bool) (Claims, error) {
	if isRefresh {
		return i.refreshVerifier.Verify(token)
	}
	return i.accessVerifier.Verify(token)
}

// Decode parses token without checking its signature or expiry. The result
// is for inspection only and must never be trusted for access decisions.
func Decode(token string) *Claims {
	var c Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return nil
	}
	return &c
}

// Decode is the method form of the package-level Decode.
func (i *TokenIssuer) Decode(token string) *Claims { return Decode(token) }
