package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/sessionauth/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	// ErrConflict is a uniqueness violation that a retry may resolve, such
	// as a second active session racing in for the same user.
	ErrConflict = errors.New("store: conflict")
)

// DuplicateError names the unique column behind an ErrAlreadyExists.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string { return "store: duplicate " + e.Field }
func (e *DuplicateError) Unwrap() error { return ErrAlreadyExists }

// Store is the root data access interface implemented by the sqlite and
// postgres drivers. Repositories hang off it as methods so that code inside
// a transaction only ever sees the transaction's repositories.
type Store interface {
	Users() Users
	Roles() Roles
	Sessions() Sessions

	ApplyMigrations() error

	// Tx starts a read/write transaction. The caller MUST Commit or Rollback.
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise. A cancelled ctx rolls back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
	Ping(ctx context.Context) error
}

// Tx is a transaction-scoped Store. Tx and WithTx on it fail; nesting is not
// supported.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	GetUserByID(ctx context.Context, id string) (domain.UserWithRole, error)
	GetUserByEmail(ctx context.Context, email string) (domain.UserWithRole, error)
	GetUserByUsername(ctx context.Context, username string) (domain.UserWithRole, error)

	// CreateUser inserts u. Email or username collisions return
	// ErrAlreadyExists.
	CreateUser(ctx context.Context, u domain.User) error

	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error
	UpdateRole(ctx context.Context, userID, roleID string, at time.Time) error
	SetActive(ctx context.Context, userID string, active bool, at time.Time) error
}

type Roles interface {
	GetRoleByID(ctx context.Context, id string) (domain.Role, error)
	GetRoleByName(ctx context.Context, name string) (domain.Role, error)
	// ListAll returns every role with its permissions, ordered by name.
	ListAll(ctx context.Context) ([]domain.Role, error)
}

// Sessions persists session records. Every "active" lookup applies
// is_active AND expires_at > now, with now supplied by the caller.
type Sessions interface {
	// CreateSession inserts s. A second active session for the same user
	// returns ErrConflict.
	CreateSession(ctx context.Context, s domain.Session) error

	GetActiveSessionByAccessHash(ctx context.Context, hash string, now time.Time) (domain.SessionWithPrincipal, error)
	GetActiveSessionByRefreshHash(ctx context.Context, hash string, now time.Time) (domain.SessionWithPrincipal, error)

	// GetSessionByAccessHash ignores state and expiry.
	GetSessionByAccessHash(ctx context.Context, hash string) (domain.Session, error)

	// TouchSession bumps last_activity_at on an active session. Returns
	// ErrNotFound when the session is not active at now.
	TouchSession(ctx context.Context, id string, now time.Time) error
	// TouchSessionByAccessHash is TouchSession keyed by access token hash.
	TouchSessionByAccessHash(ctx context.Context, hash string, now time.Time) error

	// RotateSession replaces both token hashes and the expiry in one
	// conditional update. It only matches when the session is still active
	// and oldRefreshHash is still current; otherwise ErrNotFound.
	RotateSession(ctx context.Context, p RotateParams) error

	// DeactivateSession is idempotent.
	DeactivateSession(ctx context.Context, id string) error

	// DeactivateUserSessions returns how many sessions flipped.
	DeactivateUserSessions(ctx context.Context, userID string) (int64, error)

	// DeleteStaleSessions removes every session with expires_at < now or
	// is_active false, and returns the count.
	DeleteStaleSessions(ctx context.Context, now time.Time) (int64, error)

	CountActiveUserSessions(ctx context.Context, userID string, now time.Time) (int64, error)
}

type RotateParams struct {
	ID             string
	OldRefreshHash string
	NewAccessHash  string
	NewRefreshHash string
	NewExpiresAt   time.Time
	Now            time.Time
}
