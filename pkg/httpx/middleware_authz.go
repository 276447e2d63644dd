package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
)

var ErrUnauthenticated = errors.New("httpx: unauthenticated")

// InsufficientRoleError names the roles that would have been accepted.
type InsufficientRoleError struct {
	Role     string
	Accepted []string
}

func (e *InsufficientRoleError) Error() string {
	return fmt.Sprintf("role %q is not permitted, requires one of: %s", e.Role, strings.Join(e.Accepted, ", "))
}

// Authorize decides whether p may call a route declaring required roles.
// No declared roles allows any caller, including an anonymous one.
func Authorize(required []string, p *Principal) error {
	if len(required) == 0 {
		return nil
	}
	if p == nil {
		return ErrUnauthenticated
	}
	if slices.Contains(required, p.Role) {
		return nil
	}
	return &InsufficientRoleError{Role: p.Role, Accepted: slices.Clone(required)}
}

// RequireRoles guards a handler with Authorize. It must run after
// AuthnMiddleware.
func RequireRoles(roles ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var principal *Principal
			if p, ok := PrincipalFromContext(r.Context()); ok {
				principal = &p
			}

			err := Authorize(roles, principal)
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}

			var roleErr *InsufficientRoleError
			if errors.As(err, &roleErr) {
				w.Header().Set("WWW-Authenticate",
					`Bearer error="insufficient_role", roles="`+strings.Join(roleErr.Accepted, " ")+`"`)
				WriteError(w, http.StatusForbidden, "insufficient_role",
					"requires one of roles: "+strings.Join(roleErr.Accepted, ", "))
				return
			}
			writeBearerError(w, "unauthenticated", "authentication required")
		})
	}
}
