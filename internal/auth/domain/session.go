package domain

import "time"

// Session ties an issued token pair to a user. Tokens are held as SHA-256
// fingerprints; the raw values never reach storage.
type Session struct {
	ID               string
	UserID           string
	AccessTokenHash  string
	RefreshTokenHash string
	ExpiresAt        time.Time
	IsActive         bool
	IPAddress        string
	UserAgent        string
	CreatedAt        time.Time
	LastActivityAt   time.Time
}

// ActiveAt reports whether the session is usable at now. Both predicates
// always apply together.
func (s Session) ActiveAt(now time.Time) bool {
	return s.IsActive && s.ExpiresAt.After(now)
}

// SessionWithPrincipal is a session read together with its owner and the
// owner's role name.
type SessionWithPrincipal struct {
	Session
	User     User
	RoleName string
}
