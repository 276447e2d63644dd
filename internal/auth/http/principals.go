package http

import (
	"context"
	"errors"

	"github.com/aussiebroadwan/sessionauth/internal/auth/domain"
	"github.com/aussiebroadwan/sessionauth/internal/auth/service"
	"github.com/aussiebroadwan/sessionauth/pkg/authsdk"
	"github.com/aussiebroadwan/sessionauth/pkg/httpx"
)

// principalResolver adapts UserService to the authn middleware.
type principalResolver struct {
	users *service.UserService
}

func (p principalResolver) ResolvePrincipal(ctx context.Context, userID string) (httpx.Principal, error) {
	u, err := p.users.GetPrincipal(ctx, userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) || errors.Is(err, service.ErrPrincipalInactive) {
			return httpx.Principal{}, httpx.ErrNoPrincipal
		}
		return httpx.Principal{}, err
	}
	return httpx.Principal{
		UserID:   u.ID,
		Email:    u.Email,
		Username: u.Username,
		Role:     u.RoleName,
	}, nil
}

func toUser(u domain.UserWithRole) authsdk.User {
	return authsdk.User{
		ID:          u.ID,
		Email:       u.Email,
		Username:    u.Username,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Role:        u.RoleName,
		IsActive:    u.IsActive,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}
