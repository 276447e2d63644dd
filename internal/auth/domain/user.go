package domain

import "time"

// User is a principal. PasswordHash is empty for accounts without local
// credentials; such accounts can never pass credential validation.
type User struct {
	ID           string
	Email        string
	Username     string
	FirstName    string
	LastName     string
	PasswordHash string // argon2id PHC, or a legacy bcrypt hash
	RoleID       string
	IsActive     bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword reports whether the user can log in with a password.
func (u User) HasPassword() bool { return u.PasswordHash != "" }

// UserWithRole is a user joined with its role name.
type UserWithRole struct {
	User
	RoleName string
}
