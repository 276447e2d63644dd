package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/sessionauth/internal/auth/domain"
	"github.com/aussiebroadwan/sessionauth/internal/auth/metrics"
	"github.com/aussiebroadwan/sessionauth/internal/auth/service"
	"github.com/aussiebroadwan/sessionauth/internal/auth/store"
	"github.com/aussiebroadwan/sessionauth/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/sessionauth/pkg/authsdk"
	"github.com/aussiebroadwan/sessionauth/pkg/cryptox"
	"github.com/aussiebroadwan/sessionauth/pkg/httpx"
	"github.com/aussiebroadwan/sessionauth/pkg/jwtx"
	"github.com/aussiebroadwan/sessionauth/pkg/slogx"
)

func TestMain(m *testing.M) {
	cryptox.SetPepper("router-test-pepper")
	os.Exit(m.Run())
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	t       *testing.T
	handler http.Handler
	clock   *clock
	store   store.Store
	users   *service.UserService

	// remoteAddr and header are applied to every request when set.
	remoteAddr string
	header     http.Header
}

func newHarness(t *testing.T, limits RateLimits, opts ...func(*RouterConfig)) *harness {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	c := &clock{t: time.Now().UTC().Truncate(time.Second)}
	tokens, err := jwtx.NewTokenIssuer(jwtx.IssuerConfig{
		Secret: []byte("router-test-secret-router-test-secret"),
		Issuer: "sessionauth-test",
		Now:    c.Now,
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	hasher := service.NewPasswordHasher(2)
	sessions := &service.SessionService{Store: st, Now: c.Now}
	users := &service.UserService{Store: st, Now: c.Now}
	auth := &service.AuthService{
		Store:       st,
		Credentials: &service.CredentialValidator{Store: st, Hasher: hasher},
		Hasher:      hasher,
		Tokens:      tokens,
		Sessions:    sessions,
		Metrics:     m,
		Now:         c.Now,
	}
	janitor, err := service.NewSessionJanitor(service.JanitorConfig{
		Sessions: sessions,
		Logger:   slogx.Discard(),
		Metrics:  m,
		Now:      c.Now,
	})
	require.NoError(t, err)

	tracker := &service.ActivityTracker{Sessions: sessions, Logger: slogx.Discard(), Metrics: m}
	t.Cleanup(tracker.Close)

	cfg := RouterConfig{
		Store:          st,
		Auth:           auth,
		Users:          users,
		Roles:          &service.RolesService{Store: st},
		Janitor:        janitor,
		Sessions:       tracker,
		RequireSession: true,
		Limits:         limits,
		Gatherer:       reg,
		Logger:         slogx.Discard(),
		Version:        "test",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	r := NewRouter(cfg)
	r.ApplyRoutes()

	return &harness{t: t, handler: r, clock: c, store: st, users: users}
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.10:40000"
	if h.remoteAddr != "" {
		req.RemoteAddr = h.remoteAddr
	}
	for k, v := range h.header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) register(username string) authsdk.AuthResponse {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/api/auth/register", "", authsdk.RegisterRequest{
		FirstName: strings.ToUpper(username[:1]) + username[1:],
		LastName:  "Tester",
		Email:     username + "@x.com",
		Username:  username,
		Password:  "secret123",
	})
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[authsdk.AuthResponse](h.t, rec)
}

func (h *harness) login(email, password string) *httptest.ResponseRecorder {
	h.t.Helper()
	return h.do(http.MethodPost, "/api/auth/login", "", authsdk.LoginRequest{Email: email, Password: password})
}

// promote gives username a role and returns a fresh access token carrying it.
func (h *harness) promote(userID, email, role string) string {
	h.t.Helper()
	_, _, err := h.users.SetRole(context.Background(), userID, role)
	require.NoError(h.t, err)

	rec := h.login(email, "secret123")
	require.Equal(h.t, http.StatusOK, rec.Code)
	return decode[authsdk.AuthResponse](h.t, rec).Tokens.AccessToken
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func requireAPIError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decode[httpx.ErrorBody](t, rec)
	require.Equal(t, code, body.Error)
}

func noLimits() RateLimits { return RateLimits{} }

func TestRegisterCreatesActiveUser(t *testing.T) {
	h := newHarness(t, noLimits())

	res := h.register("alice")
	require.True(t, res.User.IsActive)
	require.Equal(t, domain.RoleUser, res.User.Role)
	require.Equal(t, "alice@x.com", res.User.Email)
	require.Equal(t, "Bearer", res.Tokens.TokenType)
	require.Equal(t, 3600, res.Tokens.ExpiresIn)

	rec := h.do(http.MethodPost, "/api/auth/register", "", authsdk.RegisterRequest{
		FirstName: "A", LastName: "B", Email: "alice@x.com", Username: "alice2", Password: "secret123",
	})
	requireAPIError(t, rec, http.StatusConflict, authsdk.ErrorCodeDuplicateEmail)

	rec = h.do(http.MethodPost, "/api/auth/register", "", authsdk.RegisterRequest{
		FirstName: "A", LastName: "B", Email: "alice2@x.com", Username: "alice", Password: "secret123",
	})
	requireAPIError(t, rec, http.StatusConflict, authsdk.ErrorCodeDuplicateUsername)
}

func TestRegisterValidation(t *testing.T) {
	h := newHarness(t, noLimits())

	cases := map[string]any{
		"bad email": authsdk.RegisterRequest{
			FirstName: "A", LastName: "B", Email: "not-an-email", Username: "alice", Password: "secret123",
		},
		"short password": authsdk.RegisterRequest{
			FirstName: "A", LastName: "B", Email: "a@x.com", Username: "alice", Password: "short",
		},
		"unknown field": map[string]string{"email": "a@x.com", "role": "sysadmin"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := h.do(http.MethodPost, "/api/auth/register", "", body)
			requireAPIError(t, rec, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest)
		})
	}
}

func TestLoginWrongPassword(t *testing.T) {
	h := newHarness(t, noLimits())
	h.register("alice")

	rec := h.login("alice@x.com", "wrong-password")
	requireAPIError(t, rec, http.StatusUnauthorized, authsdk.ErrorCodeInvalidCredentials)
	require.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = h.login("nobody@x.com", "secret123")
	requireAPIError(t, rec, http.StatusUnauthorized, authsdk.ErrorCodeInvalidCredentials)
}

func TestLoginThenProfile(t *testing.T) {
	h := newHarness(t, noLimits())
	reg := h.register("alice")

	rec := h.login("alice@x.com", "secret123")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[authsdk.AuthResponse](t, rec)
	require.NotEmpty(t, res.Tokens.AccessToken)
	require.NotEmpty(t, res.Tokens.RefreshToken)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = h.do(http.MethodGet, "/api/auth/profile", res.Tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	profile := decode[authsdk.User](t, rec)
	require.Equal(t, reg.User.ID, profile.ID)
	require.Equal(t, "alice@x.com", profile.Email)
	require.Equal(t, "alice", profile.Username)
	require.Equal(t, domain.RoleUser, profile.Role)

	// The registration session was replaced by the login.
	rec = h.do(http.MethodGet, "/api/auth/profile", reg.Tokens.AccessToken, nil)
	requireAPIError(t, rec, http.StatusUnauthorized, authsdk.ErrorCodeInvalidOrExpiredToken)
}

func TestAccessCookieTransport(t *testing.T) {
	h := newHarness(t, noLimits())
	h.register("alice")

	rec := h.login("alice@x.com", "secret123")
	require.Equal(t, http.StatusOK, rec.Code)

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == httpx.DefaultAccessCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	require.True(t, cookie.HttpOnly)
	require.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/profile", nil)
	req.AddCookie(cookie)
	out := httptest.NewRecorder()
	h.handler.ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code, out.Body.String())

	// A refresh token is never accepted from a cookie.
	req = httptest.NewRequest(http.MethodPost, "/api/auth/refresh", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)
	out = httptest.NewRecorder()
	h.handler.ServeHTTP(out, req)
	requireAPIError(t, out, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest)
}

func TestLogoutRevokesTokens(t *testing.T) {
	h := newHarness(t, noLimits())
	h.register("alice")
	res := decode[authsdk.AuthResponse](t, h.login("alice@x.com", "secret123"))

	rec := h.do(http.MethodPost, "/api/auth/logout", res.Tokens.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(http.MethodPost, "/api/auth/refresh", "", authsdk.RefreshRequest{RefreshToken: res.Tokens.RefreshToken})
	requireAPIError(t, rec, http.StatusUnauthorized, authsdk.ErrorCodeInvalidRefreshToken)

	rec = h.do(http.MethodGet, "/api/auth/profile", res.Tokens.AccessToken, nil)
	requireAPIError(t, rec, http.StatusUnauthorized, authsdk.ErrorCodeInvalidOrExpiredToken)
}

func TestRefreshEndpointRotates(t *testing.T) {
	h := newHarness(t, noLimits())
	reg := h.register("alice")

	rec := h.do(http.MethodPost, "/api/auth/refresh", "", authsdk.RefreshRequest{RefreshToken: reg.Tokens.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	pair := decode[authsdk.RefreshResponse](t, rec)
	require.NotEqual(t, reg.Tokens.RefreshToken, pair.RefreshToken)

	rec = h.do(http.MethodPost, "/api/auth/refresh", "", authsdk.RefreshRequest{RefreshToken: reg.Tokens.RefreshToken})
	requireAPIError(t, rec, http.StatusUnauthorized, authsdk.ErrorCodeInvalidRefreshToken)

	rec = h.do(http.MethodGet, "/api/auth/profile", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestManualCleanupRemovesExpiredSession(t *testing.T) {
	h := newHarness(t, noLimits())
	alice := h.register("alice")

	h.clock.Advance(8 * 24 * time.Hour)
	bob := h.register("bob")

	rec := h.do(http.MethodPost, "/api/tasks/cleanup/sessions", bob.Tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[authsdk.CleanupResponse](t, rec)
	require.GreaterOrEqual(t, res.DeletedCount, int64(1))
	require.False(t, res.Timestamp.IsZero())

	_, err := h.store.Sessions().GetSessionByAccessHash(context.Background(), cryptox.FingerprintToken(alice.Tokens.AccessToken))
	require.ErrorIs(t, err, store.ErrNotFound)

	rec = h.do(http.MethodGet, "/api/tasks/status", bob.Tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[authsdk.TaskStatusResponse](t, rec)
	require.Equal(t, service.DefaultHourlySpec, st.HourlyCleanup)
	require.Equal(t, service.DefaultFrequentSpec, st.FrequentCleanup)
	require.Equal(t, res.DeletedCount, st.LastDeleted)
}

func TestRoleAuthorization(t *testing.T) {
	h := newHarness(t, noLimits())
	alice := h.register("alice")
	root := h.register("root")
	rootToken := h.promote(root.User.ID, "root@x.com", domain.RoleSysadmin)

	setRole := func(token string) *httptest.ResponseRecorder {
		return h.do(http.MethodPut, "/api/users/"+alice.User.ID+"/role", token, authsdk.SetRoleRequest{Role: domain.RoleAdmin})
	}

	t.Run("user is rejected from sysadmin route", func(t *testing.T) {
		rec := setRole(alice.Tokens.AccessToken)
		requireAPIError(t, rec, http.StatusForbidden, authsdk.ErrorCodeInsufficientRole)
	})

	t.Run("route without roles accepts user", func(t *testing.T) {
		rec := h.do(http.MethodGet, "/api/auth/profile", alice.Tokens.AccessToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("anonymous is rejected", func(t *testing.T) {
		rec := setRole("")
		requireAPIError(t, rec, http.StatusUnauthorized, authsdk.ErrorCodeUnauthenticated)
	})

	t.Run("sysadmin is accepted", func(t *testing.T) {
		rec := setRole(rootToken)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.Equal(t, domain.RoleAdmin, decode[authsdk.User](t, rec).Role)
	})

	t.Run("admin may list roles", func(t *testing.T) {
		rec := h.do(http.MethodGet, "/api/roles", rootToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, decode[authsdk.RolesResponse](t, rec).Roles, 3)
	})

	t.Run("unknown role", func(t *testing.T) {
		rec := h.do(http.MethodPut, "/api/users/"+alice.User.ID+"/role", rootToken, authsdk.SetRoleRequest{Role: "overlord"})
		requireAPIError(t, rec, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest)
	})

	t.Run("unknown user", func(t *testing.T) {
		rec := h.do(http.MethodPost, "/api/users/missing/deactivate", rootToken, nil)
		requireAPIError(t, rec, http.StatusNotFound, authsdk.ErrorCodeNotFound)
	})
}

func TestDeactivateLocksUserOut(t *testing.T) {
	h := newHarness(t, noLimits())
	alice := h.register("alice")
	root := h.register("root")
	rootToken := h.promote(root.User.ID, "root@x.com", domain.RoleSysadmin)

	rec := h.do(http.MethodPost, "/api/users/"+alice.User.ID+"/deactivate", rootToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[authsdk.DeactivateResponse](t, rec)
	require.False(t, res.User.IsActive)
	require.Equal(t, int64(1), res.RevokedSessions)

	rec = h.do(http.MethodGet, "/api/auth/profile", alice.Tokens.AccessToken, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.login("alice@x.com", "secret123")
	requireAPIError(t, rec, http.StatusUnauthorized, authsdk.ErrorCodeAccountDisabled)
}

func TestExpiredAccessTokenRejected(t *testing.T) {
	h := newHarness(t, noLimits())
	alice := h.register("alice")

	h.clock.Advance(2 * time.Hour)
	rec := h.do(http.MethodGet, "/api/auth/profile", alice.Tokens.AccessToken, nil)
	requireAPIError(t, rec, http.StatusUnauthorized, authsdk.ErrorCodeInvalidOrExpiredToken)

	// The refresh token outlives the access token.
	rec = h.do(http.MethodPost, "/api/auth/refresh", "", authsdk.RefreshRequest{RefreshToken: alice.Tokens.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginRateLimited(t *testing.T) {
	limits := noLimits()
	limits.Strict = httpx.RateLimit{Requests: 2, Window: time.Minute, Burst: 2}
	h := newHarness(t, limits)

	for range 2 {
		rec := h.login("alice@x.com", "nope-nope")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := h.login("alice@x.com", "nope-nope")
	requireAPIError(t, rec, http.StatusTooManyRequests, authsdk.ErrorCodeRateLimited)

	rec = h.login("bob@x.com", "nope-nope")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionRecordsClientAddress(t *testing.T) {
	ip, err := httpx.NewClientIP([]string{"192.0.2.0/24"})
	require.NoError(t, err)
	h := newHarness(t, noLimits(), func(cfg *RouterConfig) { cfg.ClientIP = ip })
	h.header = http.Header{"X-Forwarded-For": {"203.0.113.9"}}

	sessionIP := func(access string) string {
		s, err := h.store.Sessions().GetSessionByAccessHash(context.Background(), cryptox.FingerprintToken(access))
		require.NoError(t, err)
		return s.IPAddress
	}

	// Through the trusted proxy the forwarded client is recorded.
	alice := h.register("alice")
	require.Equal(t, "203.0.113.9", sessionIP(alice.Tokens.AccessToken))

	// A direct caller cannot claim another address.
	h.remoteAddr = "198.51.100.7:5000"
	rec := h.login("alice@x.com", "secret123")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "198.51.100.7", sessionIP(decode[authsdk.AuthResponse](t, rec).Tokens.AccessToken))
}

// Rotating X-Forwarded-For from an untrusted peer stays in one bucket.
func TestLoginRateLimitIgnoresSpoofedForwarding(t *testing.T) {
	limits := noLimits()
	limits.Strict = httpx.RateLimit{Requests: 2, Window: time.Minute, Burst: 2}
	h := newHarness(t, limits)

	for i := range 3 {
		h.header = http.Header{"X-Forwarded-For": {fmt.Sprintf("203.0.113.%d", i+1)}}
		rec := h.login("alice@x.com", "nope-nope")
		if i < 2 {
			require.Equal(t, http.StatusUnauthorized, rec.Code)
			continue
		}
		requireAPIError(t, rec, http.StatusTooManyRequests, authsdk.ErrorCodeRateLimited)
	}
}

func TestSystemEndpoints(t *testing.T) {
	h := newHarness(t, noLimits())
	h.register("alice")

	rec := h.do(http.MethodGet, "/livez", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decode[authsdk.HealthResponse](t, rec).Status)

	rec = h.do(http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decode[authsdk.HealthResponse](t, rec).Checks["database"])

	rec = h.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `sessionauth_auth_operations_total{op="register",outcome="success"} 1`)

	require.NoError(t, h.store.Close())
	rec = h.do(http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
