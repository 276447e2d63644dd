package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/sessionauth/internal/auth/domain"
	"github.com/aussiebroadwan/sessionauth/internal/auth/store"
	"github.com/aussiebroadwan/sessionauth/pkg/cryptox"
	"github.com/aussiebroadwan/sessionauth/pkg/idx"
)

// createAttempts bounds deactivate-and-retry when a concurrent login for the
// same user wins the partial unique index on active sessions.
const createAttempts = 3

// SessionService owns the session lifecycle. At most one session per user is
// active; creating one deactivates the rest in the same transaction.
type SessionService struct {
	Store store.Store
	Now   func() time.Time
}

type CreateSessionParams struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	IPAddress    string
	UserAgent    string
}

type RefreshSessionParams struct {
	SessionID       string
	OldRefreshToken string
	AccessToken     string
	RefreshToken    string
	ExpiresAt       time.Time
}

func (s *SessionService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Create deactivates every active session of p.UserID and inserts a new
// active one.
func (s *SessionService) Create(ctx context.Context, p CreateSessionParams) (domain.Session, error) {
	var sess domain.Session
	err := s.inTx(ctx, func(tx store.Tx) error {
		var err error
		sess, err = s.createIn(ctx, tx, p)
		return err
	})
	return sess, err
}

// inTx runs fn in a transaction and retries it from scratch when the store
// reports a conflicting active session.
func (s *SessionService) inTx(ctx context.Context, fn func(tx store.Tx) error) error {
	var err error
	for range createAttempts {
		err = s.Store.WithTx(ctx, fn)
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("create session: %w", err)
}

func (s *SessionService) createIn(ctx context.Context, tx store.Store, p CreateSessionParams) (domain.Session, error) {
	now := s.now()

	if _, err := tx.Sessions().DeactivateUserSessions(ctx, p.UserID); err != nil {
		return domain.Session{}, fmt.Errorf("deactivate sessions: %w", err)
	}

	sess := domain.Session{
		ID:               idx.New().String(),
		UserID:           p.UserID,
		AccessTokenHash:  cryptox.FingerprintToken(p.AccessToken),
		RefreshTokenHash: cryptox.FingerprintToken(p.RefreshToken),
		ExpiresAt:        p.ExpiresAt.UTC(),
		IsActive:         true,
		IPAddress:        p.IPAddress,
		UserAgent:        p.UserAgent,
		CreatedAt:        now,
		LastActivityAt:   now,
	}
	if err := tx.Sessions().CreateSession(ctx, sess); err != nil {
		return domain.Session{}, err
	}
	return sess, nil
}

// FindByAccessToken returns the active session for token together with its
// owner, or ErrSessionNotFound.
func (s *SessionService) FindByAccessToken(ctx context.Context, token string) (domain.SessionWithPrincipal, error) {
	sp, err := s.Store.Sessions().GetActiveSessionByAccessHash(ctx, cryptox.FingerprintToken(token), s.now())
	return sp, mapSessionErr(err)
}

func (s *SessionService) FindByRefreshToken(ctx context.Context, token string) (domain.SessionWithPrincipal, error) {
	sp, err := s.Store.Sessions().GetActiveSessionByRefreshHash(ctx, cryptox.FingerprintToken(token), s.now())
	return sp, mapSessionErr(err)
}

// UpdateActivity bumps last activity. Inactive or expired sessions are left
// alone and no error is returned.
func (s *SessionService) UpdateActivity(ctx context.Context, sessionID string) error {
	err := s.Store.Sessions().TouchSession(ctx, sessionID, s.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// TouchByAccessToken bumps activity on the active session behind token in a
// single update. ErrSessionNotFound when no active session matches.
func (s *SessionService) TouchByAccessToken(ctx context.Context, token string) error {
	err := s.Store.Sessions().TouchSessionByAccessHash(ctx, cryptox.FingerprintToken(token), s.now())
	return mapSessionErr(err)
}

// Refresh swaps both tokens and the expiry in a single conditional update.
// A session that was logged out, expired or already rotated past
// p.OldRefreshToken yields ErrInvalidRefreshToken.
func (s *SessionService) Refresh(ctx context.Context, p RefreshSessionParams) error {
	err := s.Store.Sessions().RotateSession(ctx, store.RotateParams{
		ID:             p.SessionID,
		OldRefreshHash: cryptox.FingerprintToken(p.OldRefreshToken),
		NewAccessHash:  cryptox.FingerprintToken(p.AccessToken),
		NewRefreshHash: cryptox.FingerprintToken(p.RefreshToken),
		NewExpiresAt:   p.ExpiresAt.UTC(),
		Now:            s.now(),
	})
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) {
		return ErrInvalidRefreshToken
	}
	return err
}

// Invalidate is idempotent.
func (s *SessionService) Invalidate(ctx context.Context, sessionID string) error {
	return s.Store.Sessions().DeactivateSession(ctx, sessionID)
}

func (s *SessionService) InvalidateAllForUser(ctx context.Context, userID string) (int64, error) {
	return s.Store.Sessions().DeactivateUserSessions(ctx, userID)
}

// Cleanup deletes expired and inactive sessions and returns how many went.
// Only rows matching at the current instant are removed, so a session created
// while a sweep runs survives it.
func (s *SessionService) Cleanup(ctx context.Context) (int64, error) {
	return s.Store.Sessions().DeleteStaleSessions(ctx, s.now())
}

// Validate resolves accessToken to a usable session. A session found past
// its expiry is deactivated on the spot and reported as ErrSessionExpired.
func (s *SessionService) Validate(ctx context.Context, accessToken string) (domain.Session, error) {
	sess, err := s.Store.Sessions().GetSessionByAccessHash(ctx, cryptox.FingerprintToken(accessToken))
	if err != nil {
		return domain.Session{}, mapSessionErr(err)
	}
	if !sess.IsActive {
		return domain.Session{}, ErrSessionNotFound
	}

	now := s.now()
	if !sess.ActiveAt(now) {
		if err := s.Invalidate(ctx, sess.ID); err != nil {
			return domain.Session{}, fmt.Errorf("deactivate expired session: %w", err)
		}
		return domain.Session{}, ErrSessionExpired
	}

	if err := s.UpdateActivity(ctx, sess.ID); err != nil {
		return domain.Session{}, err
	}
	sess.LastActivityAt = now
	return sess, nil
}

func mapSessionErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}
