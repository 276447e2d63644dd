package postgres

import (
	"context"
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

func sessionDest(s *domain.Session) []any {
	return []any{
		&s.ID, &s.UserID, &s.AccessTokenHash, &s.RefreshTokenHash, &s.ExpiresAt,
		&s.IsActive, &s.IPAddress, &s.UserAgent, &s.CreatedAt, &s.LastActivityAt,
	}
}

func scanSessionWithPrincipal(row rowScanner) (domain.SessionWithPrincipal, error) {
	var (
		out domain.SessionWithPrincipal
		u   domain.UserWithRole
	)
	if err := row.Scan(append(sessionDest(&out.Session), userDest(&u)...)...); err != nil {
		return domain.SessionWithPrincipal{}, mapNotFound(err)
	}
	out.User = u.User
	out.RoleName = u.RoleName
	return out, nil
}

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO sessions (id, user_id, access_token_hash, refresh_token_hash, expires_at,
		                      is_active, ip_address, user_agent, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.UserID, s.AccessTokenHash, s.RefreshTokenHash, s.ExpiresAt,
		s.IsActive, s.IPAddress, s.UserAgent, s.CreatedAt, s.LastActivityAt,
	)
	if _, ok := uniqueViolation(err); ok {
		return store.ErrConflict
	}
	return err
}

func (r *sessionsRepo) GetActiveSessionByAccessHash(ctx context.Context, hash string, now time.Time) (domain.SessionWithPrincipal, error) {
	return scanSessionWithPrincipal(r.db.QueryRow(ctx,
		selectSessionWithPrincipal+`WHERE s.access_token_hash = $1 AND s.is_active AND s.expires_at > $2`,
		hash, now))
}

func (r *sessionsRepo) GetActiveSessionByRefreshHash(ctx context.Context, hash string, now time.Time) (domain.SessionWithPrincipal, error) {
	return scanSessionWithPrincipal(r.db.QueryRow(ctx,
		selectSessionWithPrincipal+`WHERE s.refresh_token_hash = $1 AND s.is_active AND s.expires_at > $2`,
		hash, now))
}

func (r *sessionsRepo) GetSessionByAccessHash(ctx context.Context, hash string) (domain.Session, error) {
	var s domain.Session
	err := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.access_token_hash = $1`, hash).
		Scan(sessionDest(&s)...)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	return s, nil
}

func (r *sessionsRepo) TouchSession(ctx context.Context, id string, now time.Time) error {
	return requireOne(r.db.Exec(ctx, `
		UPDATE sessions SET last_activity_at = $1
		WHERE id = $2 AND is_active AND expires_at > $1`, now, id))
}

func (r *sessionsRepo) TouchSessionByAccessHash(ctx context.Context, hash string, now time.Time) error {
	return requireOne(r.db.Exec(ctx, `
		UPDATE sessions SET last_activity_at = $1
		WHERE access_token_hash = $2 AND is_active AND expires_at > $1`, now, hash))
}

func (r *sessionsRepo) RotateSession(ctx context.Context, p store.RotateParams) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE sessions
		SET access_token_hash = $1, refresh_token_hash = $2, expires_at = $3, last_activity_at = $4
		WHERE id = $5 AND refresh_token_hash = $6 AND is_active AND expires_at > $4`,
		p.NewAccessHash, p.NewRefreshHash, p.NewExpiresAt, p.Now, p.ID, p.OldRefreshHash)
	if _, ok := uniqueViolation(err); ok {
		return store.ErrConflict
	}
	return requireOne(tag, err)
}

func (r *sessionsRepo) DeactivateSession(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `UPDATE sessions SET is_active = FALSE WHERE id = $1`, id)
	return err
}

func (r *sessionsRepo) DeactivateUserSessions(ctx context.Context, userID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE sessions SET is_active = FALSE WHERE user_id = $1 AND is_active`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *sessionsRepo) DeleteStaleSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1 OR NOT is_active`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *sessionsRepo) CountActiveUserSessions(ctx context.Context, userID string, now time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM sessions WHERE user_id = $1 AND is_active AND expires_at > $2`,
		userID, now).Scan(&n)
	return n, err
}
