package postgres

import (
	"context"
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

func userDest(u *domain.UserWithRole) []any {
	return []any{
		&u.ID, &u.Email, &u.Username, &u.FirstName, &u.LastName, &u.PasswordHash,
		&u.RoleID, &u.IsActive, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt, &u.RoleName,
	}
}

func scanUser(row rowScanner) (domain.UserWithRole, error) {
	var u domain.UserWithRole
	if err := row.Scan(userDest(&u)...); err != nil {
		return domain.UserWithRole{}, mapNotFound(err)
	}
	return u, nil
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.UserWithRole, error) {
	return scanUser(r.db.QueryRow(ctx, selectUser+`WHERE u.id = $1`, id))
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.UserWithRole, error) {
	return scanUser(r.db.QueryRow(ctx, selectUser+`WHERE lower(u.email) = lower($1)`, email))
}

func (r *usersRepo) GetUserByUsername(ctx context.Context, username string) (domain.UserWithRole, error) {
	return scanUser(r.db.QueryRow(ctx, selectUser+`WHERE lower(u.username) = lower($1)`, username))
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (id, email, username, first_name, last_name, password_hash,
		                   role_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, u.Email, u.Username, u.FirstName, u.LastName, u.PasswordHash,
		u.RoleID, u.IsActive, u.CreatedAt, u.UpdatedAt,
	)
	if constraint, ok := uniqueViolation(err); ok {
		switch constraint {
		case "users_email_key":
			return &store.DuplicateError{Field: "email"}
		case "users_username_key":
			return &store.DuplicateError{Field: "username"}
		}
		return store.ErrAlreadyExists
	}
	return err
}

func (r *usersRepo) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	return requireOne(r.db.Exec(ctx,
		`UPDATE users SET last_login_at = $1, updated_at = $1 WHERE id = $2`, at, userID))
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error {
	return requireOne(r.db.Exec(ctx,
		`UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`, hash, at, userID))
}

func (r *usersRepo) UpdateRole(ctx context.Context, userID, roleID string, at time.Time) error {
	return requireOne(r.db.Exec(ctx,
		`UPDATE users SET role_id = $1, updated_at = $2 WHERE id = $3`, roleID, at, userID))
}

func (r *usersRepo) SetActive(ctx context.Context, userID string, active bool, at time.Time) error {
	return requireOne(r.db.Exec(ctx,
		`UPDATE users SET is_active = $1, updated_at = $2 WHERE id = $3`, active, at, userID))
}
