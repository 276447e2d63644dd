package httpx

import (
	"context"

	"github.com/aussiebroadwan/sessionauth/pkg/jwtx"
)

type ctxKey string

const (
	CtxKeyPrincipal ctxKey = "principal"
	CtxKeyClaims    ctxKey = "claims"
	CtxKeyToken     ctxKey = "access_token"
)

// Principal is the authenticated identity a request acts as.
type Principal struct {
	UserID   string
	Email    string
	Username string
	Role     string
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, CtxKeyPrincipal, p)
}

// PrincipalFromContext returns the principal attached by AuthnMiddleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(CtxKeyPrincipal).(Principal)
	return p, ok
}

func ClaimsFromContext(ctx context.Context) (jwtx.Claims, bool) {
	c, ok := ctx.Value(CtxKeyClaims).(jwtx.Claims)
	return c, ok
}

// AccessTokenFromContext returns the raw token the request authenticated
// with. Logout uses it to find the session.
func AccessTokenFromContext(ctx context.Context) string {
	s, _ := ctx.Value(CtxKeyToken).(string)
	return s
}
