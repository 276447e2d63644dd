package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/sessionauth/internal/auth/domain"
	"github.com/aussiebroadwan/sessionauth/internal/auth/metrics"
	"github.com/aussiebroadwan/sessionauth/internal/auth/store"
	"github.com/aussiebroadwan/sessionauth/pkg/cryptox"
	"github.com/aussiebroadwan/sessionauth/pkg/idx"
	"github.com/aussiebroadwan/sessionauth/pkg/jwtx"
	"github.com/aussiebroadwan/sessionauth/pkg/slogx"
)

// ClientInfo is recorded on new sessions for operators. It plays no part in
// any access decision.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Username  string
	Password  string
}

type AuthResult struct {
	User    domain.UserWithRole
	Tokens  jwtx.TokenPair
	Session domain.Session
}

// AuthService drives login, registration, refresh and logout.
type AuthService struct {
	Store       store.Store
	Credentials *CredentialValidator
	Hasher      *PasswordHasher
	Tokens      *jwtx.TokenIssuer
	Sessions    *SessionService
	Metrics     *metrics.Metrics

	// DefaultRole is assigned on registration. Defaults to "user".
	DefaultRole string
	// SessionTTL is how long a session record lives. Zero means the refresh
	// token lifetime, so the record and the token it backs expire together.
	SessionTTL time.Duration
	Now        func() time.Time
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *AuthService) sessionTTL() time.Duration {
	if s.SessionTTL > 0 {
		return s.SessionTTL
	}
	return s.Tokens.RefreshTTL()
}

func (s *AuthService) defaultRole() string {
	if s.DefaultRole != "" {
		return s.DefaultRole
	}
	return domain.RoleUser
}

// Login checks credentials and opens a new session, closing any other.
func (s *AuthService) Login(ctx context.Context, email, password string, ci ClientInfo) (res AuthResult, err error) {
	defer func() { s.record("login", err) }()
	l := slogx.FromContext(ctx)

	u, err := s.Credentials.Validate(ctx, email, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			l.Info("login rejected", "reason", "invalid_credentials")
		}
		return AuthResult{}, err
	}
	if !u.IsActive {
		l.Info("login rejected", "reason", "account_disabled", "user_id", u.ID)
		return AuthResult{}, ErrAccountDisabled
	}

	pair, err := s.Tokens.Issue(subjectOf(u))
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue tokens: %w", err)
	}

	now := s.now()
	var sess domain.Session
	err = s.Sessions.inTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().UpdateLastLogin(ctx, u.ID, now); err != nil {
			return fmt.Errorf("update last login: %w", err)
		}
		var err error
		sess, err = s.Sessions.createIn(ctx, tx, s.sessionParams(u.ID, pair, now, ci))
		return err
	})
	if err != nil {
		return AuthResult{}, err
	}
	u.LastLoginAt = &now

	if cryptox.NeedsRehash(u.PasswordHash) {
		s.rehash(ctx, u.ID, password)
	}

	l.Info("login succeeded", "user_id", u.ID, "session_id", sess.ID)
	return AuthResult{User: u, Tokens: pair, Session: sess}, nil
}

// rehash upgrades a legacy or outdated hash after a successful login. A
// failure only means the upgrade waits for the next login.
func (s *AuthService) rehash(ctx context.Context, userID, password string) {
	l := slogx.FromContext(ctx)

	hash, err := s.Hasher.Hash(ctx, password)
	if err != nil {
		l.Warn("password rehash failed", "user_id", userID, "err", err)
		return
	}
	if err := s.Store.Users().UpdatePasswordHash(ctx, userID, hash, s.now()); err != nil {
		l.Warn("password rehash failed", "user_id", userID, "err", err)
		return
	}
	l.Info("password hash upgraded", "user_id", userID)
}

// Register creates an active user with the default role and logs it in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, ci ClientInfo) (res AuthResult, err error) {
	defer func() { s.record("register", err) }()
	l := slogx.FromContext(ctx)

	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)

	users := s.Store.Users()
	if _, err := users.GetUserByEmail(ctx, in.Email); err == nil {
		return AuthResult{}, ErrDuplicateEmail
	} else if !errors.Is(err, store.ErrNotFound) {
		return AuthResult{}, err
	}
	if _, err := users.GetUserByUsername(ctx, in.Username); err == nil {
		return AuthResult{}, ErrDuplicateUsername
	} else if !errors.Is(err, store.ErrNotFound) {
		return AuthResult{}, err
	}

	role, err := s.Store.Roles().GetRoleByName(ctx, s.defaultRole())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			l.Error("default role is missing, seed data not applied", "role", s.defaultRole())
			return AuthResult{}, fmt.Errorf("%w: %q", ErrDefaultRoleMissing, s.defaultRole())
		}
		return AuthResult{}, err
	}

	hash, err := s.Hasher.Hash(ctx, in.Password)
	if err != nil {
		return AuthResult{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	u := domain.UserWithRole{
		User: domain.User{
			ID:           idx.New().String(),
			Email:        in.Email,
			Username:     in.Username,
			FirstName:    strings.TrimSpace(in.FirstName),
			LastName:     strings.TrimSpace(in.LastName),
			PasswordHash: hash,
			RoleID:       role.ID,
			IsActive:     true,
			LastLoginAt:  &now,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		RoleName: role.Name,
	}

	pair, err := s.Tokens.Issue(subjectOf(u))
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue tokens: %w", err)
	}

	var sess domain.Session
	err = s.Sessions.inTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().CreateUser(ctx, u.User); err != nil {
			return err
		}
		if err := tx.Users().UpdateLastLogin(ctx, u.ID, now); err != nil {
			return fmt.Errorf("update last login: %w", err)
		}
		var err error
		sess, err = s.Sessions.createIn(ctx, tx, s.sessionParams(u.ID, pair, now, ci))
		return err
	})
	if err != nil {
		// The pre-checks above race with concurrent registrations.
		var dup *store.DuplicateError
		if errors.As(err, &dup) {
			if dup.Field == "username" {
				return AuthResult{}, ErrDuplicateUsername
			}
			return AuthResult{}, ErrDuplicateEmail
		}
		return AuthResult{}, err
	}

	l.Info("user registered", "user_id", u.ID, "role", role.Name)
	return AuthResult{User: u, Tokens: pair, Session: sess}, nil
}

// Refresh rotates the session behind refreshToken and returns the new pair.
// The old refresh token stops working as soon as this returns.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (pair jwtx.TokenPair, err error) {
	defer func() { s.record("refresh", err) }()

	claims, err := s.Tokens.Verify(refreshToken, true)
	if err != nil {
		return jwtx.TokenPair{}, ErrInvalidRefreshToken
	}

	sp, err := s.Sessions.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return jwtx.TokenPair{}, ErrInvalidRefreshToken
		}
		return jwtx.TokenPair{}, err
	}
	if sp.UserID != claims.Subject || !sp.User.IsActive {
		return jwtx.TokenPair{}, ErrInvalidRefreshToken
	}

	pair, err = s.Tokens.Issue(subjectOf(domain.UserWithRole{User: sp.User, RoleName: sp.RoleName}))
	if err != nil {
		return jwtx.TokenPair{}, fmt.Errorf("issue tokens: %w", err)
	}

	err = s.Sessions.Refresh(ctx, RefreshSessionParams{
		SessionID:       sp.ID,
		OldRefreshToken: refreshToken,
		AccessToken:     pair.AccessToken,
		RefreshToken:    pair.RefreshToken,
		ExpiresAt:       s.now().Add(s.sessionTTL()),
	})
	if err != nil {
		return jwtx.TokenPair{}, err
	}

	slogx.FromContext(ctx).Info("session refreshed", "user_id", sp.UserID, "session_id", sp.ID)
	return pair, nil
}

// Logout deactivates the session behind accessToken. Unknown tokens are not
// an error.
func (s *AuthService) Logout(ctx context.Context, accessToken string) (err error) {
	defer func() { s.record("logout", err) }()

	sess, err := s.Store.Sessions().GetSessionByAccessHash(ctx, cryptox.FingerprintToken(accessToken))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.Sessions.Invalidate(ctx, sess.ID); err != nil {
		return err
	}

	slogx.FromContext(ctx).Info("logged out", "user_id", sess.UserID, "session_id", sess.ID)
	return nil
}

func (s *AuthService) sessionParams(userID string, pair jwtx.TokenPair, now time.Time, ci ClientInfo) CreateSessionParams {
	return CreateSessionParams{
		UserID:       userID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    now.Add(s.sessionTTL()),
		IPAddress:    ci.IPAddress,
		UserAgent:    ci.UserAgent,
	}
}

func (s *AuthService) record(op string, err error) {
	s.Metrics.AuthResult(op, Outcome(err))
}

var outcomeErrors = []error{
	ErrInvalidCredentials,
	ErrAccountDisabled,
	ErrInvalidRefreshToken,
	ErrDuplicateEmail,
	ErrDuplicateUsername,
}

// Outcome labels err with its taxonomy code, "success" for nil and
// "server_error" for anything unexpected.
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	for _, target := range outcomeErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "server_error"
}

func subjectOf(u domain.UserWithRole) jwtx.Subject {
	return jwtx.Subject{ID: u.ID, Email: u.Email, Role: u.RoleName}
}
