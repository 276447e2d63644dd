package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aussiebroadwan/sessionauth/internal/auth/domain"
	"github.com/aussiebroadwan/sessionauth/internal/auth/service"
	"github.com/aussiebroadwan/sessionauth/internal/auth/store"
	"github.com/aussiebroadwan/sessionauth/pkg/httpx"
	"github.com/aussiebroadwan/sessionauth/pkg/slogx"
)

// RateLimits are the three profiles applied across the routes. A zero
// profile disables limiting for the routes that use it.
type RateLimits struct {
	Strict   httpx.RateLimit
	Moderate httpx.RateLimit
	Lenient  httpx.RateLimit
}

// DefaultRateLimits mirrors the httpx profiles.
func DefaultRateLimits() RateLimits {
	return RateLimits{Strict: httpx.StrictLimit, Moderate: httpx.ModerateLimit, Lenient: httpx.LenientLimit}
}

type CookieConfig struct {
	Name   string
	Secure bool
}

type RouterConfig struct {
	Store    store.Store
	Auth     *service.AuthService
	Users    *service.UserService
	Roles    *service.RolesService
	Janitor  *service.SessionJanitor
	Sessions httpx.SessionTracker

	// RequireSession makes logout revoke access tokens immediately.
	RequireSession bool
	Cookie         CookieConfig
	Limits         RateLimits
	// ClientIP resolves caller addresses for rate limits and session
	// metadata. Nil uses the direct peer address.
	ClientIP *httpx.ClientIP

	// Gatherer backs GET /metrics. Nil means the default registry.
	Gatherer prometheus.Gatherer

	Logger  *slog.Logger
	Version string
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	cfg       RouterConfig
	authn     httpx.Middleware
	ip        httpx.KeyExtractor
	startTime time.Time
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Cookie.Name == "" {
		cfg.Cookie.Name = httpx.DefaultAccessCookie
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	r := &Router{
		Mux:       http.NewServeMux(),
		cfg:       cfg,
		ip:        cfg.ClientIP.Extract,
		startTime: time.Now(),
	}
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(cfg.Logger),
	}
	r.authn = httpx.AuthnMiddleware(httpx.AuthnConfig{
		Verifier:       cfg.Auth.Tokens.AccessVerifier(),
		Principals:     principalResolver{users: cfg.Users},
		Sessions:       cfg.Sessions,
		CookieName:     cfg.Cookie.Name,
		RequireSession: cfg.RequireSession,
	})
	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerTasks()
	r.registerAdmin()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{
		Auth:   r.cfg.Auth,
		Users:  r.cfg.Users,
		Cookie: r.cfg.Cookie,
		IP:     r.ip,
	}
	limits := r.cfg.Limits

	// Credential endpoints: strict, keyed by IP and the submitted email so
	// one address cannot be sprayed from many accounts or vice versa.
	r.Mux.Handle("POST /api/auth/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin),
			httpx.RateLimitByIPAndJSONField(limits.Strict, r.ip, "email"),
		),
	)
	r.Mux.Handle("POST /api/auth/register",
		httpx.Chain(http.HandlerFunc(h.HandleRegister),
			httpx.RateLimitByIP(limits.Strict, r.ip),
		),
	)
	r.Mux.Handle("POST /api/auth/refresh",
		httpx.Chain(http.HandlerFunc(h.HandleRefresh),
			httpx.RateLimitByIP(limits.Moderate, r.ip),
		),
	)

	r.Mux.Handle("POST /api/auth/logout",
		httpx.Chain(http.HandlerFunc(h.HandleLogout),
			r.authn,
			httpx.RateLimitByPrincipal(limits.Moderate, r.ip),
		),
	)
	r.Mux.Handle("GET /api/auth/profile",
		httpx.Chain(http.HandlerFunc(h.HandleProfile),
			r.authn,
			httpx.RateLimitByPrincipal(limits.Lenient, r.ip),
		),
	)
}

func (r *Router) registerTasks() {
	h := &TasksHandler{Janitor: r.cfg.Janitor}

	// Any authenticated principal may trigger or inspect the sweep.
	r.Mux.Handle("POST /api/tasks/cleanup/sessions",
		httpx.Chain(http.HandlerFunc(h.HandleCleanup),
			r.authn,
			httpx.RateLimitByPrincipal(r.cfg.Limits.Moderate, r.ip),
		),
	)
	r.Mux.Handle("GET /api/tasks/status",
		httpx.Chain(http.HandlerFunc(h.HandleStatus),
			r.authn,
			httpx.RateLimitByPrincipal(r.cfg.Limits.Lenient, r.ip),
		),
	)
}

func (r *Router) registerAdmin() {
	roles := &RolesHandler{Roles: r.cfg.Roles}
	r.Mux.Handle("GET /api/roles",
		httpx.Chain(roles,
			r.authn,
			httpx.RequireRoles(domain.RoleAdmin, domain.RoleSysadmin),
			httpx.RateLimitByPrincipal(r.cfg.Limits.Moderate, r.ip),
		),
	)

	users := &UsersHandler{Users: r.cfg.Users}
	r.Mux.Handle("PUT /api/users/{id}/role",
		httpx.Chain(http.HandlerFunc(users.HandleSetRole),
			r.authn,
			httpx.RequireRoles(domain.RoleSysadmin),
			httpx.RateLimitByPrincipal(r.cfg.Limits.Moderate, r.ip),
		),
	)
	r.Mux.Handle("POST /api/users/{id}/deactivate",
		httpx.Chain(http.HandlerFunc(users.HandleDeactivate),
			r.authn,
			httpx.RequireRoles(domain.RoleSysadmin),
			httpx.RateLimitByPrincipal(r.cfg.Limits.Moderate, r.ip),
		),
	)
}

func (r *Router) registerSystem() {
	// Probes and scrapes poll often.
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.cfg.Version),
			httpx.RateLimitByIP(r.cfg.Limits.Lenient, r.ip),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.cfg.Version, r.cfg.Store),
			httpx.RateLimitByIP(r.cfg.Limits.Lenient, r.ip),
		),
	)
	r.Mux.Handle("GET /metrics", promhttp.HandlerFor(r.cfg.Gatherer, promhttp.HandlerOpts{}))
}
