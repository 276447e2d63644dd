package service

import "errors"

var (
	ErrInvalidCredentials  = errors.New("invalid_credentials")
	ErrAccountDisabled     = errors.New("account_disabled")
	ErrInvalidRefreshToken = errors.New("invalid_refresh_token")
	ErrDuplicateEmail      = errors.New("duplicate_email")
	ErrDuplicateUsername   = errors.New("duplicate_username")
	ErrSessionExpired      = errors.New("session_expired")
	ErrSessionNotFound     = errors.New("session_not_found")
	ErrPrincipalInactive   = errors.New("principal_inactive")
	ErrUserNotFound        = errors.New("user_not_found")
	ErrRoleNotFound        = errors.New("role_not_found")

	// ErrDefaultRoleMissing means the role table was never seeded. It is a
	// deployment defect, not a client error.
	ErrDefaultRoleMissing = errors.New("default_role_missing")
)
