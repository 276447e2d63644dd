package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/sessionauth/internal/auth/metrics"
	"github.com/aussiebroadwan/sessionauth/pkg/cryptox"
)

const defaultTouchTimeout = 5 * time.Second

// ActivityTracker connects the request authenticator to session state. Touch
// runs in the background so the store never sits on the authorization path.
type ActivityTracker struct {
	Sessions *SessionService
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Timeout  time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// CheckSession reports whether token still has an active session.
func (t *ActivityTracker) CheckSession(ctx context.Context, token string) (bool, error) {
	_, err := t.Sessions.FindByAccessToken(ctx, token)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrSessionNotFound):
		return false, nil
	default:
		t.Metrics.SessionTrackingFailure()
		return false, err
	}
}

// Touch bumps activity for token without blocking the caller. Failures are
// logged and dropped.
func (t *ActivityTracker) Touch(ctx context.Context, token string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout())
		defer cancel()

		err := t.Sessions.TouchByAccessToken(ctx, token)
		if err == nil || errors.Is(err, ErrSessionNotFound) {
			return
		}
		t.Metrics.SessionTrackingFailure()
		t.logger().Warn("session tracking failure",
			"session", cryptox.FingerprintToken(token)[:8],
			"err", err,
		)
	}()
}

// Close stops accepting work and waits for in-flight touches.
func (t *ActivityTracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *ActivityTracker) timeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return defaultTouchTimeout
}

func (t *ActivityTracker) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}
