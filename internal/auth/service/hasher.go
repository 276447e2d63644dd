package service

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"

	"github.com/aussiebroadwan/sessionauth/pkg/cryptox"
)

// PasswordHasher bounds how many argon2 computations run at once.
type PasswordHasher struct {
	sem *semaphore.Weighted
}

// NewPasswordHasher allows n concurrent hashes; n <= 0 means one per CPU.
func NewPasswordHasher(n int) *PasswordHasher {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return &PasswordHasher{sem: semaphore.NewWeighted(int64(n))}
}

func (h *PasswordHasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.acquire(ctx); err != nil {
		return "", err
	}
	defer h.release()
	return cryptox.HashPassword(password)
}

// Verify waits for a slot and compares password with encodedHash.
func (h *PasswordHasher) Verify(ctx context.Context, password, encodedHash string) error {
	if err := h.acquire(ctx); err != nil {
		return err
	}
	defer h.release()
	return cryptox.VerifyPassword(password, encodedHash)
}

func (h *PasswordHasher) acquire(ctx context.Context) error {
	if h == nil || h.sem == nil {
		return nil
	}
	return h.sem.Acquire(ctx, 1)
}

func (h *PasswordHasher) release() {
	if h == nil || h.sem == nil {
		return
	}
	h.sem.Release(1)
}
