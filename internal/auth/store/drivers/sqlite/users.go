package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/aussiebroadwan/sessionauth/internal/auth/domain"
	"github.com/aussiebroadwan/sessionauth/internal/auth/store"
)

type usersRepo struct {
	db dbtx
}

const selectUser = `
SELECT u.id, u.email, u.username, u.first_name, u.last_name, u.password_hash,
       u.role_id, u.is_active, u.last_login_at, u.created_at, u.updated_at, r.name
FROM users u
JOIN roles r ON r.id = u.role_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (domain.UserWithRole, error) {
	var (
		u                domain.UserWithRole
		lastLogin        sql.NullInt64
		created, updated int64
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.Username, &u.FirstName, &u.LastName, &u.PasswordHash,
		&u.RoleID, &u.IsActive, &lastLogin, &created, &updated, &u.RoleName,
	)
	if err != nil {
		return domain.UserWithRole{}, mapNotFound(err)
	}
	u.LastLoginAt = fromNullMillis(lastLogin)
	u.CreatedAt = fromMillis(created)
	u.UpdatedAt = fromMillis(updated)
	return u, nil
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.UserWithRole, error) {
	return scanUser(r.db.QueryRowContext(ctx, selectUser+`WHERE u.id = ?`, id))
}

// GetUserByEmail matches case-insensitively (the column is NOCASE).
func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.UserWithRole, error) {
	return scanUser(r.db.QueryRowContext(ctx, selectUser+`WHERE u.email = ?`, email))
}

func (r *usersRepo) GetUserByUsername(ctx context.Context, username string) (domain.UserWithRole, error) {
	return scanUser(r.db.QueryRowContext(ctx, selectUser+`WHERE u.username = ?`, username))
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, username, first_name, last_name, password_hash,
		                   role_id, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Username, u.FirstName, u.LastName, u.PasswordHash,
		u.RoleID, u.IsActive, toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	)
	if msg, ok := uniqueViolation(err); ok {
		switch {
		case strings.Contains(msg, "users.email"):
			return &store.DuplicateError{Field: "email"}
		case strings.Contains(msg, "users.username"):
			return &store.DuplicateError{Field: "username"}
		}
		return store.ErrAlreadyExists
	}
	return err
}

func (r *usersRepo) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	return r.update(ctx, `UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?`,
		toMillis(at), toMillis(at), userID)
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error {
	return r.update(ctx, `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, toMillis(at), userID)
}

func (r *usersRepo) UpdateRole(ctx context.Context, userID, roleID string, at time.Time) error {
	return r.update(ctx, `UPDATE users SET role_id = ?, updated_at = ? WHERE id = ?`,
		roleID, toMillis(at), userID)
}

func (r *usersRepo) SetActive(ctx context.Context, userID string, active bool, at time.Time) error {
	return r.update(ctx, `UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, toMillis(at), userID)
}

// update runs a single-row UPDATE and maps zero rows to ErrNotFound.
func (r *usersRepo) update(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
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
