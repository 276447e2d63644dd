package service

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// The same two comparisons run on every path, so an unknown email and a
// wrong password do the same work whatever scheme the stored hash uses.
func TestValidateAlwaysCompares(t *testing.T) {
	t.Parallel()

	legacy, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.DefaultCost)
	require.NoError(t, err)

	cases := []struct {
		name     string
		email    string
		password string
		wantErr  error
		want     func(stored, legacy string) []string
	}{
		{
			name:     "unknown email",
			email:    "nobody@x.com",
			password: "secret123",
			wantErr:  ErrInvalidCredentials,
			want: func(string, string) []string {
				return []string{dummyArgon2Hash(), dummyBcryptHash()}
			},
		},
		{
			name:     "wrong password",
			email:    "alice@x.com",
			password: "wrong-password",
			wantErr:  ErrInvalidCredentials,
			want:     func(stored, _ string) []string { return []string{stored, dummyBcryptHash()} },
		},
		{
			name:     "correct password",
			email:    "alice@x.com",
			password: "secret123",
			want:     func(stored, _ string) []string { return []string{stored, dummyBcryptHash()} },
		},
		{
			name:     "imported bcrypt wrong password",
			email:    "legacy@x.com",
			password: "wrong-password",
			wantErr:  ErrInvalidCredentials,
			want:     func(_, legacy string) []string { return []string{dummyArgon2Hash(), legacy} },
		},
		{
			name:     "imported bcrypt correct password",
			email:    "legacy@x.com",
			password: "secret123",
			want:     func(_, legacy string) []string { return []string{dummyArgon2Hash(), legacy} },
		},
		{
			name:     "unreadable stored hash",
			email:    "broken@x.com",
			password: "secret123",
			wantErr:  ErrInvalidCredentials,
			want: func(string, string) []string {
				return []string{dummyArgon2Hash(), dummyBcryptHash()}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.register(t, "alice", "alice@x.com", "secret123")
			createUser(t, env, "legacy", string(legacy))
			createUser(t, env, "broken", "$argon2id$v=19$not-a-hash")

			stored, err := env.store.Users().GetUserByEmail(testCtx(), "alice@x.com")
			require.NoError(t, err)

			_, err = env.auth.Credentials.Validate(testCtx(), tc.email, tc.password)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tc.want(stored.PasswordHash, string(legacy)), env.comparisons())
		})
	}
}

// schemeOf reduces a compared hash to the primitive and cost that ran.
func schemeOf(t *testing.T, hash string) string {
	t.Helper()
	if strings.HasPrefix(hash, "$argon2id$") {
		return strings.Join(strings.Split(hash, "$")[1:4], "$")
	}
	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	return fmt.Sprintf("bcrypt-%d", cost)
}

func TestValidatePrimitivesMatchAcrossUsers(t *testing.T) {
	t.Parallel()

	legacy, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.DefaultCost)
	require.NoError(t, err)

	var sequences [][]string
	for _, email := range []string{"nobody@x.com", "alice@x.com", "legacy@x.com"} {
		env := newTestEnv(t)
		env.register(t, "alice", "alice@x.com", "secret123")
		createUser(t, env, "legacy", string(legacy))

		_, err := env.auth.Credentials.Validate(testCtx(), email, "wrong-password")
		require.ErrorIs(t, err, ErrInvalidCredentials)

		var seq []string
		for _, h := range env.comparisons() {
			seq = append(seq, schemeOf(t, h))
		}
		sequences = append(sequences, seq)
	}

	require.Len(t, sequences[0], 2)
	require.Equal(t, sequences[0], sequences[1], "current argon2id user")
	require.Equal(t, sequences[0], sequences[2], "imported bcrypt user")
}

func TestValidateUserWithoutPassword(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	u := createUser(t, env, "sso", "")

	_, err := env.auth.Credentials.Validate(testCtx(), u.Email, "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.Equal(t, []string{dummyArgon2Hash(), dummyBcryptHash()}, env.comparisons())
}

func TestValidateIgnoresActiveFlag(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	reg := env.register(t, "alice", "alice@x.com", "secret123")
	require.NoError(t, env.store.Users().SetActive(testCtx(), reg.User.ID, false, env.clock.Now()))

	u, err := env.auth.Credentials.Validate(testCtx(), "alice@x.com", "secret123")
	require.NoError(t, err)
	require.False(t, u.IsActive)
}
