//go:build e2e

package auth_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/sessionauth/internal/auth/domain"
	"github.com/aussiebroadwan/sessionauth/pkg/authsdk"
)

// TestRegisterLoginLogout walks a new account through registration, a bad
// and a good login, profile, and logout followed by a refresh attempt.
func TestRegisterLoginLogout(t *testing.T) {
	client := startService(t, nil)
	ctx := t.Context()

	reg := authsdk.RegisterRequest{
		FirstName: "Alice",
		LastName:  "Liddell",
		Email:     "alice@x.com",
		Username:  "alice",
		Password:  testPassword,
	}
	created, err := client.Register(ctx, reg)
	require.NoError(t, err)
	require.True(t, created.User.IsActive)
	require.Equal(t, domain.RoleUser, created.User.Role)
	require.NotEmpty(t, created.Tokens.AccessToken)

	_, err = client.Register(ctx, reg)
	requireAPIError(t, err, authsdk.ErrDuplicateEmail)

	_, err = client.Login(ctx, reg.Email, "wrong-password")
	requireAPIError(t, err, authsdk.ErrInvalidCredentials)

	session, err := client.AuthenticateWithPassword(ctx, reg.Email, reg.Password)
	require.NoError(t, err)

	profile, err := session.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, created.User.ID, profile.ID)
	require.Equal(t, reg.Email, profile.Email)
	require.Equal(t, reg.Username, profile.Username)
	require.Equal(t, domain.RoleUser, profile.Role)
	require.NotNil(t, profile.LastLoginAt)

	refreshToken := session.RefreshToken()
	require.NoError(t, session.Logout(ctx))

	_, err = client.Refresh(ctx, refreshToken)
	requireAPIError(t, err, authsdk.ErrInvalidRefreshToken)

	_, err = session.Profile(ctx)
	requireAPIError(t, err, authsdk.ErrInvalidOrExpiredToken)
}

func TestSingleActiveSession(t *testing.T) {
	client := startService(t, nil)
	ctx := t.Context()

	req := newUser("solo")
	out, err := client.Register(ctx, req)
	require.NoError(t, err)

	first, err := client.AuthenticateWithPassword(ctx, req.Email, req.Password)
	require.NoError(t, err)
	second, err := client.AuthenticateWithPassword(ctx, req.Email, req.Password)
	require.NoError(t, err)

	require.EqualValues(t, 1, activeSessions(t, out.User.ID))

	_, err = first.Profile(ctx)
	requireAPIError(t, err, authsdk.ErrInvalidOrExpiredToken)
	_, err = second.Profile(ctx)
	require.NoError(t, err)
}

func TestRefreshRotation(t *testing.T) {
	client := startService(t, nil)
	ctx := t.Context()

	_, session := registerAndLogin(t, client, "rotor")
	oldAccess, oldRefresh := session.AccessToken(), session.RefreshToken()

	rotated, err := client.Refresh(ctx, oldRefresh)
	require.NoError(t, err)
	require.NotEqual(t, oldRefresh, rotated.RefreshToken)
	require.NotEqual(t, oldAccess, rotated.AccessToken)

	_, err = client.Refresh(ctx, oldRefresh)
	requireAPIError(t, err, authsdk.ErrInvalidRefreshToken)

	resumed := client.NewSessionFromTokens(rotated.AccessToken, rotated.RefreshToken, rotated.ExpiresIn)
	_, err = resumed.Profile(ctx)
	require.NoError(t, err)
}

func TestAccessTokenIsNotARefreshToken(t *testing.T) {
	client := startService(t, nil)

	_, session := registerAndLogin(t, client, "mixup")
	_, err := client.Refresh(t.Context(), session.AccessToken())
	requireAPIError(t, err, authsdk.ErrInvalidRefreshToken)
}
