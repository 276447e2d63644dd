package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/sessionauth/internal/auth/domain"
	"github.com/aussiebroadwan/sessionauth/internal/auth/store"
)

type sessionsRepo struct {
	db dbtx
}

const sessionColumns = `s.id, s.user_id, s.access_token_hash, s.refresh_token_hash, s.expires_at,
       s.is_active, s.ip_address, s.user_agent, s.created_at, s.last_activity_at`

const selectSessionWithPrincipal = `
SELECT ` + sessionColumns + `,
       u.id, u.email, u.username, u.first_name, u.last_name, u.password_hash,
       u.role_id, u.is_active, u.last_login_at, u.created_at, u.updated_at, r.name
FROM sessions s
JOIN users u ON u.id = s.user_id
JOIN roles r ON r.id = u.role_id
`

func sessionDest(s *domain.Session, expires, created, activity *int64) []any {
	return []any{
		&s.ID, &s.UserID, &s.AccessTokenHash, &s.RefreshTokenHash, expires,
		&s.IsActive, &s.IPAddress, &s.UserAgent, created, activity,
	}
}

func scanSessionWithPrincipal(row rowScanner) (domain.SessionWithPrincipal, error) {
	var (
		out                        domain.SessionWithPrincipal
		expires, created, activity int64
		lastLogin                  sql.NullInt64
		uCreated, uUpdated         int64
	)
	u := &out.User
	dest := append(sessionDest(&out.Session, &expires, &created, &activity),
		&u.ID, &u.Email, &u.Username, &u.FirstName, &u.LastName, &u.PasswordHash,
		&u.RoleID, &u.IsActive, &lastLogin, &uCreated, &uUpdated, &out.RoleName,
	)
	if err := row.Scan(dest...); err != nil {
		return domain.SessionWithPrincipal{}, mapNotFound(err)
	}

	out.ExpiresAt = fromMillis(expires)
	out.CreatedAt = fromMillis(created)
	out.LastActivityAt = fromMillis(activity)
	u.LastLoginAt = fromNullMillis(lastLogin)
	u.CreatedAt = fromMillis(uCreated)
	u.UpdatedAt = fromMillis(uUpdated)
	return out, nil
}

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, access_token_hash, refresh_token_hash, expires_at,
		                      is_active, ip_address, user_agent, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.AccessTokenHash, s.RefreshTokenHash, toMillis(s.ExpiresAt),
		s.IsActive, s.IPAddress, s.UserAgent, toMillis(s.CreatedAt), toMillis(s.LastActivityAt),
	)
	if _, ok := uniqueViolation(err); ok {
		return store.ErrConflict
	}
	return err
}

func (r *sessionsRepo) GetActiveSessionByAccessHash(ctx context.Context, hash string, now time.Time) (domain.SessionWithPrincipal, error) {
	return scanSessionWithPrincipal(r.db.QueryRowContext(ctx,
		selectSessionWithPrincipal+`WHERE s.access_token_hash = ? AND s.is_active = 1 AND s.expires_at > ?`,
		hash, toMillis(now)))
}

func (r *sessionsRepo) GetActiveSessionByRefreshHash(ctx context.Context, hash string, now time.Time) (domain.SessionWithPrincipal, error) {
	return scanSessionWithPrincipal(r.db.QueryRowContext(ctx,
		selectSessionWithPrincipal+`WHERE s.refresh_token_hash = ? AND s.is_active = 1 AND s.expires_at > ?`,
		hash, toMillis(now)))
}

func (r *sessionsRepo) GetSessionByAccessHash(ctx context.Context, hash string) (domain.Session, error) {
	var (
		s                          domain.Session
		expires, created, activity int64
	)
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.access_token_hash = ?`, hash)
	if err := row.Scan(sessionDest(&s, &expires, &created, &activity)...); err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	s.ExpiresAt = fromMillis(expires)
	s.CreatedAt = fromMillis(created)
	s.LastActivityAt = fromMillis(activity)
	return s, nil
}

func (r *sessionsRepo) TouchSession(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET last_activity_at = ?
		WHERE id = ? AND is_active = 1 AND expires_at > ?`,
		toMillis(now), id, toMillis(now))
	return requireOne(res, err)
}

func (r *sessionsRepo) TouchSessionByAccessHash(ctx context.Context, hash string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET last_activity_at = ?
		WHERE access_token_hash = ? AND is_active = 1 AND expires_at > ?`,
		toMillis(now), hash, toMillis(now))
	return requireOne(res, err)
}

func (r *sessionsRepo) RotateSession(ctx context.Context, p store.RotateParams) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET access_token_hash = ?, refresh_token_hash = ?, expires_at = ?, last_activity_at = ?
		WHERE id = ? AND refresh_token_hash = ? AND is_active = 1 AND expires_at > ?`,
		p.NewAccessHash, p.NewRefreshHash, toMillis(p.NewExpiresAt), toMillis(p.Now),
		p.ID, p.OldRefreshHash, toMillis(p.Now))
	if _, ok := uniqueViolation(err); ok {
		return store.ErrConflict
	}
	return requireOne(res, err)
}

func (r *sessionsRepo) DeactivateSession(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET is_active = 0 WHERE id = ?`, id)
	return err
}

func (r *sessionsRepo) DeactivateUserSessions(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE sessions SET is_active = 0 WHERE user_id = ? AND is_active = 1`, userID)
	if err != nil {
		return 0, err
	}
	return affected(res)
}

func (r *sessionsRepo) DeleteStaleSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ? OR is_active = 0`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return affected(res)
}

func (r *sessionsRepo) CountActiveUserSessions(ctx context.Context, userID string, now time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE user_id = ? AND is_active = 1 AND expires_at > ?`,
		userID, toMillis(now)).Scan(&n)
	return n, err
}

// requireOne maps an UPDATE that matched nothing to ErrNotFound.
func requireOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
