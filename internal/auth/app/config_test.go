package app

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/sessionauth/pkg/httpx"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "dev", cfg.Env)
	require.Equal(t, "sqlite", cfg.DatabaseDriver)
	require.Equal(t, "auth.db", cfg.DatabaseFile)
	require.Equal(t, "sessionauth", cfg.JWTIssuer)
	require.Equal(t, time.Hour, cfg.AccessTTL)
	require.Equal(t, 168*time.Hour, cfg.RefreshTTL)
	require.Equal(t, 10*time.Second, cfg.ShutdownGracePeriod)
	require.Equal(t, "user", cfg.DefaultRole)
	require.Equal(t, httpx.DefaultAccessCookie, cfg.CookieName)
	require.True(t, cfg.RequireActiveSession)
	require.False(t, cfg.CookieSecure)
	require.Equal(t, 5*time.Minute, cfg.JanitorLockTTL)

	require.True(t, cfg.EphemeralSecret)
	require.GreaterOrEqual(t, len(cfg.JWTSecret), 32)

	strict, moderate, lenient := cfg.RateLimits()
	require.Equal(t, httpx.StrictLimit, strict)
	require.Equal(t, httpx.ModerateLimit, moderate)
	require.Equal(t, httpx.LenientLimit, lenient)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "PROD")
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("JWT_ACCESS_TTL", "15m")
	t.Setenv("JWT_REFRESH_TTL", "24h")
	t.Setenv("SESSION_TTL", "12h")
	t.Setenv("REQUIRE_ACTIVE_SESSION", "false")
	t.Setenv("RATELIMIT_STRICT_REQUESTS", "2")
	t.Setenv("RATELIMIT_STRICT_WINDOW", "10s")

	cfg, err := loadConfig("")
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, "prod", cfg.Env)
	require.Equal(t, testSecret, cfg.JWTSecret)
	require.False(t, cfg.EphemeralSecret)
	require.Equal(t, 15*time.Minute, cfg.AccessTTL)
	require.Equal(t, 12*time.Hour, cfg.EffectiveSessionTTL())
	require.False(t, cfg.RequireActiveSession)

	strict, _, _ := cfg.RateLimits()
	require.Equal(t, 2, strict.Requests)
	require.Equal(t, 10*time.Second, strict.Window)
}

func TestLoadConfigEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("DEFAULT_ROLE=member\nJWT_ISSUER=from-file\n"), 0o600))
	t.Setenv("JWT_ISSUER", "from-env")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "member", cfg.DefaultRole)
	require.Equal(t, "from-env", cfg.JWTIssuer)
}

func TestConfigClientIP(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.1")
	cfg, err := loadConfig("")
	require.NoError(t, err)

	ip, err := cfg.ClientIP()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.1")
	req.RemoteAddr = "10.0.0.2:4000"
	require.Equal(t, "203.0.113.1", ip.Extract(req))

	req.RemoteAddr = "198.51.100.7:4000"
	require.Equal(t, "198.51.100.7", ip.Extract(req))
}

func TestEffectiveSessionTTLFallsBackToRefresh(t *testing.T) {
	cfg := Config{RefreshTTL: 48 * time.Hour}
	require.Equal(t, 48*time.Hour, cfg.EffectiveSessionTTL())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"secret required in prod", map[string]string{"ENV": "prod"}, "JWT_SECRET is required"},
		{"short secret", map[string]string{"JWT_SECRET": "short"}, "JWT_SECRET must be at least"},
		{"short refresh secret", map[string]string{"JWT_REFRESH_SECRET": "short"}, "JWT_REFRESH_SECRET"},
		{"unknown driver", map[string]string{"DATABASE_DRIVER": "mysql"}, "unknown DATABASE_DRIVER"},
		{"postgres without url", map[string]string{"DATABASE_DRIVER": "postgres"}, "DATABASE_URL is required"},
		{"refresh not longer than access", map[string]string{"JWT_ACCESS_TTL": "2h", "JWT_REFRESH_TTL": "1h"}, "JWT_REFRESH_TTL"},
		{"negative session ttl", map[string]string{"SESSION_TTL": "-1h"}, "SESSION_TTL"},
		{"bad port", map[string]string{"PORT": "70000"}, "PORT"},
		{"bad trusted proxy", map[string]string{"TRUSTED_PROXIES": "10.0.0.0/8,not-a-cidr"}, "TRUSTED_PROXIES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := loadConfig("")
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tt.want), "got %q", err)
		})
	}
}
