package authsdk

import "time"

// Request bodies carry validate tags; the server checks them with
// go-playground/validator before touching the database.

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

type RegisterRequest struct {
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"required,max=100"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Username  string `json:"username" validate:"required,min=3,max=50,alphanum"`
	Password  string `json:"password" validate:"required,min=8,max=1024"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type SetRoleRequest struct {
	Role string `json:"role" validate:"required,max=50"`
}

// Tokens is the pair handed out by login and register.
type Tokens struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	TokenType        string    `json:"tokenType"`
	ExpiresIn        int       `json:"expiresIn"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// User is the principal summary returned to clients. It never carries the
// password hash.
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Username    string     `json:"username"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	Role        string     `json:"role"`
	IsActive    bool       `json:"isActive"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// AuthResponse is returned by login (200) and register (201).
type AuthResponse struct {
	User   User   `json:"user"`
	Tokens Tokens `json:"tokens"`
}

// RefreshResponse carries only the rotated pair.
type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

type CleanupResponse struct {
	DeletedCount int64     `json:"deletedCount"`
	Timestamp    time.Time `json:"timestamp"`
}

// TaskStatusResponse describes the session janitor.
type TaskStatusResponse struct {
	IsRunning       bool       `json:"isRunning"`
	HourlyCleanup   string     `json:"hourlyCleanup"`
	FrequentCleanup string     `json:"frequentCleanup"`
	LastRunAt       *time.Time `json:"lastRunAt,omitempty"`
	LastDeleted     int64      `json:"lastDeleted"`
	NextRunAt       *time.Time `json:"nextRunAt,omitempty"`
}

type Role struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

type RolesResponse struct {
	Roles []Role `json:"roles"`
}

// DeactivateResponse reports how many sessions the deactivation revoked.
type DeactivateResponse struct {
	User            User  `json:"user"`
	RevokedSessions int64 `json:"revokedSessions"`
}

// HealthResponse is served by /livez and /readyz. Checks is readyz only.
type HealthResponse struct {
	Status  string            `json:"status"`
	Uptime  string            `json:"uptime,omitempty"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}
