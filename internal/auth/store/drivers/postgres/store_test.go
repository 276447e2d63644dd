//go:build e2e

package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aussiebroadwan/sessionauth/internal/auth/domain"
	"github.com/aussiebroadwan/sessionauth/internal/auth/store"
	"github.com/aussiebroadwan/sessionauth/internal/auth/store/drivers/postgres"
	"github.com/aussiebroadwan/sessionauth/pkg/idx"
)

// startPostgres runs a throwaway postgres and returns a migrated Store.
func startPostgres(t *testing.T) *postgres.Store {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "auth",
				"POSTGRES_PASSWORD": "auth",
				"POSTGRES_DB":       "auth",
			},
			// postgres logs readiness twice: once for the init run, once for real.
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	url := fmt.Sprintf("postgres://auth:auth@%s:%s/auth?sslmode=disable", host, port.Port())
	st, err := postgres.NewStore(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	require.NoError(t, st.ApplyMigrations())
	return st
}

func TestPostgresStore(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	u := domain.User{
		ID:        idx.New().String(),
		Email:     "alice@x.com",
		Username:  "alice",
		RoleID:    "role_user",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, st.Users().CreateUser(ctx, u))

	t.Run("duplicate email", func(t *testing.T) {
		dup := u
		dup.ID = idx.New().String()
		dup.Email = "ALICE@x.com"
		dup.Username = "alice2"
		var de *store.DuplicateError
		require.ErrorAs(t, st.Users().CreateUser(ctx, dup), &de)
		require.Equal(t, "email", de.Field)
	})

	t.Run("roles seeded", func(t *testing.T) {
		roles, err := st.Roles().ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, roles, 3)
	})

	t.Run("session lifecycle", func(t *testing.T) {
		s := domain.Session{
			ID:               idx.New().String(),
			UserID:           u.ID,
			AccessTokenHash:  "a1",
			RefreshTokenHash: "r1",
			ExpiresAt:        now.Add(time.Hour),
			IsActive:         true,
			CreatedAt:        now,
			LastActivityAt:   now,
		}
		require.NoError(t, st.Sessions().CreateSession(ctx, s))

		second := s
		second.ID = idx.New().String()
		second.AccessTokenHash = "a2"
		second.RefreshTokenHash = "r2"
		require.ErrorIs(t, st.Sessions().CreateSession(ctx, second), store.ErrConflict)

		got, err := st.Sessions().GetActiveSessionByAccessHash(ctx, "a1", now)
		require.NoError(t, err)
		require.Equal(t, "user", got.RoleName)

		rotate := store.RotateParams{
			ID: s.ID, OldRefreshHash: "r1",
			NewAccessHash: "a3", NewRefreshHash: "r3",
			NewExpiresAt: now.Add(2 * time.Hour), Now: now,
		}
		require.NoError(t, st.Sessions().RotateSession(ctx, rotate))
		require.ErrorIs(t, st.Sessions().RotateSession(ctx, rotate), store.ErrNotFound)

		later := now.Add(time.Minute)
		require.NoError(t, st.Sessions().TouchSessionByAccessHash(ctx, "a3", later))
		touched, err := st.Sessions().GetSessionByAccessHash(ctx, "a3")
		require.NoError(t, err)
		require.True(t, later.Equal(touched.LastActivityAt))
		require.ErrorIs(t, st.Sessions().TouchSessionByAccessHash(ctx, "a1", later), store.ErrNotFound)

		require.NoError(t, st.Sessions().DeactivateSession(ctx, s.ID))
		n, err := st.Sessions().DeleteStaleSessions(ctx, now)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)
	})
}
