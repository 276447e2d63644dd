package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/sessionauth/internal/auth/domain"
	"github.com/aussiebroadwan/sessionauth/internal/auth/store"
	"github.com/aussiebroadwan/sessionauth/pkg/slogx"
)

type UserService struct {
	Store store.Store
	Now   func() time.Time
}

func (s *UserService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// GetUser fetches a user with its role name.
func (s *UserService) GetUser(ctx context.Context, userID string) (domain.UserWithRole, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.UserWithRole{}, ErrUserNotFound
	}
	return u, err
}

// GetPrincipal is GetUser restricted to users allowed to act.
func (s *UserService) GetPrincipal(ctx context.Context, userID string) (domain.UserWithRole, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return domain.UserWithRole{}, err
	}
	if !u.IsActive {
		return domain.UserWithRole{}, ErrPrincipalInactive
	}
	return u, nil
}

// SetRole moves a user to roleName and ends all of its sessions so the new
// role is carried by the next token pair. It returns the updated user and
// the number of sessions closed.
func (s *UserService) SetRole(ctx context.Context, userID, roleName string) (domain.UserWithRole, int64, error) {
	role, err := s.Store.Roles().GetRoleByName(ctx, roleName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.UserWithRole{}, 0, ErrRoleNotFound
		}
		return domain.UserWithRole{}, 0, err
	}

	var (
		u       domain.UserWithRole
		revoked int64
	)
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().UpdateRole(ctx, userID, role.ID, s.now()); err != nil {
			return err
		}
		n, err := tx.Sessions().DeactivateUserSessions(ctx, userID)
		if err != nil {
			return fmt.Errorf("deactivate sessions: %w", err)
		}
		revoked = n
		u, err = tx.Users().GetUserByID(ctx, userID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return domain.UserWithRole{}, 0, ErrUserNotFound
	}
	if err != nil {
		return domain.UserWithRole{}, 0, err
	}

	slogx.FromContext(ctx).Info("user role changed", "target_user_id", userID, "role", role.Name, "revoked_sessions", revoked)
	return u, revoked, nil
}

// Deactivate disables a user and cascades to its sessions.
func (s *UserService) Deactivate(ctx context.Context, userID string) (domain.UserWithRole, int64, error) {
	var (
		u       domain.UserWithRole
		revoked int64
	)
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().SetActive(ctx, userID, false, s.now()); err != nil {
			return err
		}
		n, err := tx.Sessions().DeactivateUserSessions(ctx, userID)
		if err != nil {
			return fmt.Errorf("deactivate sessions: %w", err)
		}
		revoked = n
		u, err = tx.Users().GetUserByID(ctx, userID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return domain.UserWithRole{}, 0, ErrUserNotFound
	}
	if err != nil {
		return domain.UserWithRole{}, 0, err
	}

	slogx.FromContext(ctx).Info("user deactivated", "target_user_id", userID, "revoked_sessions", revoked)
	return u, revoked, nil
}
