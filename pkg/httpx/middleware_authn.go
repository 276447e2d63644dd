package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/sessionauth/pkg/jwtx"
	"github.com/aussiebroadwan/sessionauth/pkg/slogx"
)

// DefaultAccessCookie is the cookie AuthnMiddleware reads first.
const DefaultAccessCookie = "access_token"

// ErrNoPrincipal is returned by a PrincipalResolver when the subject does not
// exist or is not allowed to act (inactive account).
var ErrNoPrincipal = errors.New("httpx: no such principal")

type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, userID string) (Principal, error)
}

// SessionTracker ties a verified access token to server-side session state.
type SessionTracker interface {
	// CheckSession reports whether an active session exists for token.
	CheckSession(ctx context.Context, token string) (bool, error)
	// Touch records activity for token. It must not block the request.
	Touch(ctx context.Context, token string)
}

type AuthnConfig struct {
	Verifier   jwtx.Verifier
	Principals PrincipalResolver
	// Sessions is optional. Without it only the token itself is checked.
	Sessions SessionTracker
	// CookieName defaults to DefaultAccessCookie.
	CookieName string
	// RequireSession rejects tokens whose session was logged out or
	// swept, making logout take effect immediately.
	RequireSession bool
}

// AuthnMiddleware resolves the request principal from an access token taken
// from the cookie first and the Authorization header second.
func AuthnMiddleware(cfg AuthnConfig) Middleware {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultAccessCookie
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			raw := TokenFromRequest(r, cfg.CookieName)
			if raw == "" {
				writeBearerError(w, "unauthenticated", "missing access token")
				return
			}

			claims, err := cfg.Verifier.Verify(raw)
			if err != nil {
				log.Debug("access token rejected", "err", err)
				writeBearerError(w, "invalid_or_expired_token", "access token is invalid or expired")
				return
			}

			p, err := cfg.Principals.ResolvePrincipal(ctx, claims.Subject)
			if err != nil {
				if errors.Is(err, ErrNoPrincipal) {
					writeBearerError(w, "invalid_or_expired_token", "access token is invalid or expired")
					return
				}
				log.Error("failed to resolve principal", "user_id", claims.Subject, "err", err)
				WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
				return
			}

			if cfg.Sessions != nil {
				if cfg.RequireSession {
					active, err := cfg.Sessions.CheckSession(ctx, raw)
					switch {
					case err != nil:
						// Store trouble never turns a valid token into a rejection.
						log.Warn("session tracking failure", "user_id", p.UserID, "err", err)
					case !active:
						writeBearerError(w, "invalid_or_expired_token", "session is no longer active")
						return
					}
				}
				cfg.Sessions.Touch(ctx, raw)
			}

			ctx = WithPrincipal(ctx, p)
			ctx = context.WithValue(ctx, CtxKeyClaims, claims)
			ctx = context.WithValue(ctx, CtxKeyToken, raw)
			ctx = slogx.WithAttrs(ctx, "user_id", p.UserID)
			slogx.Annotate(ctx, "user_id", p.UserID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromRequest returns the access token from cookieName, falling back to
// an "Authorization: Bearer" header.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}

	authz := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(authz, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeBearerError(w http.ResponseWriter, code, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+desc+`"`)
	WriteError(w, http.StatusUnauthorized, code, desc)
}
