package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, "test:"), mr
}

func TestTryLockExclusive(t *testing.T) {
	ctx := context.Background()
	l, mr := newLocker(t)

	release, ok, err := l.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, mr.Exists("test:sweep"))

	_, ok, err = l.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, release(ctx))
	require.False(t, mr.Exists("test:sweep"))

	_, ok, err = l.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReleaseAfterExpiryDoesNotStealLock(t *testing.T) {
	ctx := context.Background()
	l, mr := newLocker(t)

	release, ok, err := l.TryLock(ctx, "sweep", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = l.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.ErrorIs(t, release(ctx), ErrNotHeld)
	require.True(t, mr.Exists("test:sweep"))
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()

	client, err := Connect(context.Background(), addr, "", 0)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	// A closed server no longer answers on addr.
	mr.Close()
	_, err = Connect(context.Background(), addr, "", 0)
	require.Error(t, err)
}
