package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/aussiebroadwan/sessionauth/internal/auth/domain"
	"github.com/aussiebroadwan/sessionauth/internal/auth/store"
	"github.com/aussiebroadwan/sessionauth/pkg/cryptox"
)

// Every validation runs one argon2id and one bcrypt comparison. The stored
// hash replaces the dummy of its own scheme, so an unknown email, a current
// hash, an imported bcrypt hash and an unreadable hash all do the same work.
var (
	dummyArgon2Hash = sync.OnceValue(func() string {
		h, err := cryptox.HashPassword("dummy-password-for-timing")
		if err != nil {
			panic("cryptox: cannot build dummy hash: " + err.Error())
		}
		return h
	})
	dummyBcryptHash = sync.OnceValue(func() string {
		h, err := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), bcrypt.DefaultCost)
		if err != nil {
			panic("bcrypt: cannot build dummy hash: " + err.Error())
		}
		return string(h)
	})
)

// CredentialValidator checks an email/password pair. It never looks at
// IsActive; callers decide what a disabled account means.
type CredentialValidator struct {
	Store  store.Store
	Hasher *PasswordHasher

	// Compare replaces each hash comparison. Tests use it to observe the
	// sequence of hashes compared on every path.
	Compare func(ctx context.Context, password, encodedHash string) error
}

// Validate returns the user when email exists, has a password, and password
// matches it. Every other outcome is ErrInvalidCredentials, except store or
// context failures which are returned as is.
func (v *CredentialValidator) Validate(ctx context.Context, email, password string) (domain.UserWithRole, error) {
	email = strings.TrimSpace(email)

	u, err := v.Store.Users().GetUserByEmail(ctx, email)
	found := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.UserWithRole{}, err
	}

	argonHash, bcryptHash := dummyArgon2Hash(), dummyBcryptHash()
	scheme := cryptox.SchemeUnknown
	if found && u.HasPassword() {
		scheme = cryptox.HashScheme(u.PasswordHash)
		switch scheme {
		case cryptox.SchemeArgon2id:
			argonHash = u.PasswordHash
		case cryptox.SchemeBcrypt:
			bcryptHash = u.PasswordHash
		}
	}

	argonErr := v.compare(ctx, password, argonHash)
	bcryptErr := v.compare(ctx, password, bcryptHash)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.UserWithRole{}, ctxErr
	}

	matched := (scheme == cryptox.SchemeArgon2id && argonErr == nil) ||
		(scheme == cryptox.SchemeBcrypt && bcryptErr == nil)
	if !matched {
		return domain.UserWithRole{}, ErrInvalidCredentials
	}
	return u, nil
}

func (v *CredentialValidator) compare(ctx context.Context, password, encodedHash string) error {
	if v.Compare != nil {
		return v.Compare(ctx, password, encodedHash)
	}
	return v.Hasher.Verify(ctx, password, encodedHash)
}
