package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/aussiebroadwan/sessionauth/pkg/cryptox"
	"github.com/aussiebroadwan/sessionauth/pkg/httpx"
	"github.com/aussiebroadwan/sessionauth/pkg/jwtx"
)

// Config is loaded from the environment, optionally seeded by a .env file in
// the working directory. Real environment variables win over .env values.
type Config struct {
	Port                int           `mapstructure:"PORT"`
	Env                 string        `mapstructure:"ENV"`        // dev, test, staging, prod
	LogLevel            string        `mapstructure:"LOG_LEVEL"`  // debug, info, warn, error
	LogFormat           string        `mapstructure:"LOG_FORMAT"` // json, text
	ShutdownGracePeriod time.Duration `mapstructure:"SHUTDOWN_GRACE_PERIOD"`

	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"` // sqlite, postgres
	DatabaseFile   string `mapstructure:"DATABASE_FILE"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	PepperFile     string `mapstructure:"PEPPER_FILE"`

	JWTSecret        string        `mapstructure:"JWT_SECRET"`
	JWTRefreshSecret string        `mapstructure:"JWT_REFRESH_SECRET"`
	JWTIssuer        string        `mapstructure:"JWT_ISSUER"`
	AccessTTL        time.Duration `mapstructure:"JWT_ACCESS_TTL"`
	RefreshTTL       time.Duration `mapstructure:"JWT_REFRESH_TTL"`
	// SessionTTL of zero follows RefreshTTL.
	SessionTTL time.Duration `mapstructure:"SESSION_TTL"`

	DefaultRole             string `mapstructure:"DEFAULT_ROLE"`
	CookieName              string `mapstructure:"AUTH_COOKIE_NAME"`
	CookieSecure            bool   `mapstructure:"AUTH_COOKIE_SECURE"`
	RequireActiveSession    bool   `mapstructure:"REQUIRE_ACTIVE_SESSION"`
	PasswordHashConcurrency int    `mapstructure:"PASSWORD_HASH_CONCURRENCY"`

	JanitorHourlySpec   string        `mapstructure:"JANITOR_HOURLY_SPEC"`
	JanitorFrequentSpec string        `mapstructure:"JANITOR_FREQUENT_SPEC"`
	JanitorRedisAddr    string        `mapstructure:"JANITOR_REDIS_ADDR"`
	JanitorRedisPass    string        `mapstructure:"JANITOR_REDIS_PASSWORD"`
	JanitorRedisDB      int           `mapstructure:"JANITOR_REDIS_DB"`
	JanitorLockTTL      time.Duration `mapstructure:"JANITOR_LOCK_TTL"`

	StrictRequests   int           `mapstructure:"RATELIMIT_STRICT_REQUESTS"`
	StrictWindow     time.Duration `mapstructure:"RATELIMIT_STRICT_WINDOW"`
	StrictBurst      int           `mapstructure:"RATELIMIT_STRICT_BURST"`
	ModerateRequests int           `mapstructure:"RATELIMIT_MODERATE_REQUESTS"`
	ModerateWindow   time.Duration `mapstructure:"RATELIMIT_MODERATE_WINDOW"`
	ModerateBurst    int           `mapstructure:"RATELIMIT_MODERATE_BURST"`
	LenientRequests  int           `mapstructure:"RATELIMIT_LENIENT_REQUESTS"`
	LenientWindow    time.Duration `mapstructure:"RATELIMIT_LENIENT_WINDOW"`
	LenientBurst     int           `mapstructure:"RATELIMIT_LENIENT_BURST"`

	// TrustedProxies is a comma-separated list of CIDRs or addresses whose
	// X-Forwarded-For and X-Real-IP headers are believed. Empty trusts nobody.
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`

	// EphemeralSecret is set when JWT_SECRET was generated at startup.
	EphemeralSecret bool `mapstructure:"-"`
}

// LoadConfig reads configuration from .env and the environment.
func LoadConfig() (Config, error) {
	return loadConfig(".env")
}

func loadConfig(envFile string) (Config, error) {
	v := viper.New()
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		_ = v.ReadInConfig()
	}
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.JWTSecret == "" {
		secret, err := cryptox.GenerateToken(jwtx.MinSecretLength)
		if err != nil {
			return Config{}, fmt.Errorf("config: generate JWT secret: %w", err)
		}
		cfg.JWTSecret = secret
		cfg.EphemeralSecret = true
	}
	return cfg, nil
}

// Every key needs a default so AutomaticEnv picks it up during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8080)
	v.SetDefault("ENV", "dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("SHUTDOWN_GRACE_PERIOD", "10s")

	v.SetDefault("DATABASE_DRIVER", "sqlite")
	v.SetDefault("DATABASE_FILE", "auth.db")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("PEPPER_FILE", "pepper")

	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_REFRESH_SECRET", "")
	v.SetDefault("JWT_ISSUER", "sessionauth")
	v.SetDefault("JWT_ACCESS_TTL", "1h")
	v.SetDefault("JWT_REFRESH_TTL", "168h")
	v.SetDefault("SESSION_TTL", "0s")

	v.SetDefault("DEFAULT_ROLE", "user")
	v.SetDefault("AUTH_COOKIE_NAME", httpx.DefaultAccessCookie)
	v.SetDefault("AUTH_COOKIE_SECURE", false)
	v.SetDefault("REQUIRE_ACTIVE_SESSION", true)
	v.SetDefault("PASSWORD_HASH_CONCURRENCY", 0)

	v.SetDefault("JANITOR_HOURLY_SPEC", "0 * * * *")
	v.SetDefault("JANITOR_FREQUENT_SPEC", "*/30 * * * *")
	v.SetDefault("JANITOR_REDIS_ADDR", "")
	v.SetDefault("JANITOR_REDIS_PASSWORD", "")
	v.SetDefault("JANITOR_REDIS_DB", 0)
	v.SetDefault("JANITOR_LOCK_TTL", "5m")

	for name, l := range map[string]httpx.RateLimit{
		"STRICT":   httpx.StrictLimit,
		"MODERATE": httpx.ModerateLimit,
		"LENIENT":  httpx.LenientLimit,
	} {
		v.SetDefault("RATELIMIT_"+name+"_REQUESTS", l.Requests)
		v.SetDefault("RATELIMIT_"+name+"_WINDOW", l.Window.String())
		v.SetDefault("RATELIMIT_"+name+"_BURST", l.Burst)
	}
	v.SetDefault("TRUSTED_PROXIES", "")
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.DatabaseDriver = strings.ToLower(strings.TrimSpace(c.DatabaseDriver))
	c.DefaultRole = strings.TrimSpace(c.DefaultRole)
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT %d out of range", c.Port)
	}
	switch c.DatabaseDriver {
	case "sqlite":
		if c.DatabaseFile == "" {
			return errors.New("config: DATABASE_FILE is required for sqlite")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required for postgres")
		}
	default:
		return fmt.Errorf("config: unknown DATABASE_DRIVER %q", c.DatabaseDriver)
	}

	if c.JWTSecret == "" && !c.IsDevelopment() {
		return errors.New("config: JWT_SECRET is required outside dev and test")
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < jwtx.MinSecretLength {
		return fmt.Errorf("config: JWT_SECRET must be at least %d bytes", jwtx.MinSecretLength)
	}
	if c.JWTRefreshSecret != "" && len(c.JWTRefreshSecret) < jwtx.MinSecretLength {
		return fmt.Errorf("config: JWT_REFRESH_SECRET must be at least %d bytes", jwtx.MinSecretLength)
	}
	if c.JWTIssuer == "" {
		return errors.New("config: JWT_ISSUER is required")
	}
	if c.AccessTTL <= 0 {
		return errors.New("config: JWT_ACCESS_TTL must be positive")
	}
	if c.RefreshTTL <= c.AccessTTL {
		return errors.New("config: JWT_REFRESH_TTL must exceed JWT_ACCESS_TTL")
	}
	if c.SessionTTL < 0 {
		return errors.New("config: SESSION_TTL must not be negative")
	}
	if c.DefaultRole == "" {
		return errors.New("config: DEFAULT_ROLE is required")
	}
	if c.CookieName == "" {
		return errors.New("config: AUTH_COOKIE_NAME is required")
	}
	if c.JanitorLockTTL <= 0 {
		return errors.New("config: JANITOR_LOCK_TTL must be positive")
	}
	if _, err := c.ClientIP(); err != nil {
		return fmt.Errorf("config: TRUSTED_PROXIES: %w", err)
	}
	return nil
}

// IsDevelopment reports whether insecure conveniences such as a generated
// signing secret are allowed.
func (c Config) IsDevelopment() bool {
	return c.Env == "dev" || c.Env == "test"
}

// EffectiveSessionTTL is the lifetime stamped on new and refreshed sessions.
func (c Config) EffectiveSessionTTL() time.Duration {
	if c.SessionTTL > 0 {
		return c.SessionTTL
	}
	return c.RefreshTTL
}

// RateLimits assembles the three route profiles.
func (c Config) RateLimits() (strict, moderate, lenient httpx.RateLimit) {
	strict = httpx.RateLimit{Requests: c.StrictRequests, Window: c.StrictWindow, Burst: c.StrictBurst}
	moderate = httpx.RateLimit{Requests: c.ModerateRequests, Window: c.ModerateWindow, Burst: c.ModerateBurst}
	lenient = httpx.RateLimit{Requests: c.LenientRequests, Window: c.LenientWindow, Burst: c.LenientBurst}
	return strict, moderate, lenient
}

// ClientIP builds the caller address resolver from TRUSTED_PROXIES.
func (c Config) ClientIP() (*httpx.ClientIP, error) {
	return httpx.NewClientIP(strings.Split(c.TrustedProxies, ","))
}
