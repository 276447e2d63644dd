package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/aussiebroadwan/sessionauth/internal/auth/service"
	"github.com/aussiebroadwan/sessionauth/pkg/authsdk"
	"github.com/aussiebroadwan/sessionauth/pkg/slogx"
)

// writeServiceError maps a service error onto the wire taxonomy. Anything
// unrecognised is logged and reported as server_error with no detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *authsdk.APIError
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		apiErr = authsdk.ErrInvalidCredentials
	case errors.Is(err, service.ErrAccountDisabled):
		apiErr = authsdk.ErrAccountDisabled
	case errors.Is(err, service.ErrInvalidRefreshToken):
		apiErr = authsdk.ErrInvalidRefreshToken
	case errors.Is(err, service.ErrDuplicateEmail):
		apiErr = authsdk.ErrDuplicateEmail
	case errors.Is(err, service.ErrDuplicateUsername):
		apiErr = authsdk.ErrDuplicateUsername
	case errors.Is(err, service.ErrUserNotFound):
		apiErr = authsdk.ErrNotFound.WithDescription("user not found")
	case errors.Is(err, service.ErrRoleNotFound):
		apiErr = authsdk.ErrInvalidRequest.WithDescription("unknown role")
	case errors.Is(err, context.Canceled):
		slogx.FromContext(r.Context()).Debug("request cancelled", "err", err)
		apiErr = authsdk.ErrServerError
	default:
		slogx.FromContext(r.Context()).Error("request failed", "err", err)
		apiErr = authsdk.ErrServerError
	}
	apiErr.WriteError(w)
}
