//go:build e2e

package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/sessionauth/internal/auth/store"
	"github.com/aussiebroadwan/sessionauth/internal/auth/store/drivers/postgres"
	"github.com/aussiebroadwan/sessionauth/pkg/cryptox"
)

// TestCleanupRemovesExpiredSessions lets one session lapse on a short
// session lifetime, then sweeps from a second, fresh session.
func TestCleanupRemovesExpiredSessions(t *testing.T) {
	client := startService(t, map[string]string{"SESSION_TTL": "2s"})
	ctx := t.Context()

	_, stale := registerAndLogin(t, client, "stale")
	staleHash := cryptox.FingerprintToken(stale.AccessToken())

	time.Sleep(3 * time.Second)

	_, sweeper := registerAndLogin(t, client, "sweeper")
	out, err := sweeper.CleanupSessions(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, out.DeletedCount, int64(1))
	require.False(t, out.Timestamp.IsZero())

	st, err := postgres.NewStore(ctx, databaseURL)
	require.NoError(t, err)
	defer st.Close()

	_, err = st.Sessions().GetSessionByAccessHash(ctx, staleHash)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestTaskStatus(t *testing.T) {
	client := startService(t, map[string]string{
		"JANITOR_HOURLY_SPEC":   "15 * * * *",
		"JANITOR_FREQUENT_SPEC": "*/10 * * * *",
	})
	ctx := t.Context()

	_, session := registerAndLogin(t, client, "status")
	_, err := session.CleanupSessions(ctx)
	require.NoError(t, err)

	status, err := session.TaskStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, "15 * * * *", status.HourlyCleanup)
	require.Equal(t, "*/10 * * * *", status.FrequentCleanup)
	require.NotNil(t, status.LastRunAt)
}
