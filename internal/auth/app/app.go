package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	httpapi "github.com/aussiebroadwan/sessionauth/internal/auth/http"
	"github.com/aussiebroadwan/sessionauth/internal/auth/lock"
	"github.com/aussiebroadwan/sessionauth/internal/auth/metrics"
	"github.com/aussiebroadwan/sessionauth/internal/auth/service"
	"github.com/aussiebroadwan/sessionauth/internal/auth/store"
	"github.com/aussiebroadwan/sessionauth/internal/auth/store/drivers/postgres"
	"github.com/aussiebroadwan/sessionauth/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/sessionauth/pkg/cryptox"
	"github.com/aussiebroadwan/sessionauth/pkg/jwtx"
	"github.com/aussiebroadwan/sessionauth/pkg/slogx"
)

// BuildVersion is overridden at build time via -ldflags.
var BuildVersion = "v0.1.0"

// Application owns every long-lived dependency of the auth service.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db      store.Store
	redis   *redis.Client
	metrics *metrics.Metrics
	tokens  *jwtx.TokenIssuer

	authService    *service.AuthService
	userService    *service.UserService
	rolesService   *service.RolesService
	sessionService *service.SessionService
	tracker        *service.ActivityTracker
	janitor        *service.SessionJanitor

	server *http.Server
	router *httpapi.Router
}

func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "sessionauth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
		metrics: metrics.New(nil),
	}

	cryptox.SetPepperPath(cfg.PepperFile)
	if cfg.EphemeralSecret {
		app.logger.Warn("JWT_SECRET not set, using an ephemeral secret; tokens will not survive a restart")
	}

	ctx := context.Background()
	if err := app.initDatabase(ctx); err != nil {
		return nil, err
	}
	if err := app.initServices(ctx); err != nil {
		_ = app.closeResources()
		return nil, err
	}
	if err := app.initHTTP(); err != nil {
		_ = app.closeResources()
		return nil, err
	}

	return app, nil
}

// Run starts the janitor and HTTP server and blocks until a signal or a
// server failure.
func (app *Application) Run() error {
	app.janitor.Start()

	app.logger.Info("auth service starting",
		"port", app.cfg.Port,
		"driver", app.cfg.DatabaseDriver,
		"require_active_session", app.cfg.RequireActiveSession,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = app.Shutdown()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig.String())
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}
	return nil
}

// Handler exposes the routed API without a listener.
func (app *Application) Handler() http.Handler { return app.router }

// Shutdown stops accepting requests, lets in-flight sweeps and activity
// updates finish, then releases the store.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if err := app.janitor.Stop(ctx); err != nil {
		app.logger.Warn("janitor did not stop in time", "error", err)
	}
	app.tracker.Close()

	if err := app.closeResources(); err != nil {
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

func (app *Application) closeResources() error {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database", "error", err)
			return err
		}
	}
	return nil
}

func (app *Application) initDatabase(ctx context.Context) error {
	var (
		db  store.Store
		err error
	)
	switch app.cfg.DatabaseDriver {
	case "postgres":
		db, err = postgres.NewStore(ctx, app.cfg.DatabaseURL)
	default:
		db, err = sqlite.NewStore(app.cfg.DatabaseFile)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}
	app.db = db

	app.logger.Info("database migrations applied", "driver", app.cfg.DatabaseDriver)
	return nil
}

func (app *Application) initServices(ctx context.Context) error {
	tokens, err := jwtx.NewTokenIssuer(jwtx.IssuerConfig{
		Secret:        []byte(app.cfg.JWTSecret),
		RefreshSecret: []byte(app.cfg.JWTRefreshSecret),
		Issuer:        app.cfg.JWTIssuer,
		AccessTTL:     app.cfg.AccessTTL,
		RefreshTTL:    app.cfg.RefreshTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token issuer: %w", err)
	}
	app.tokens = tokens

	if _, err := app.db.Roles().GetRoleByName(ctx, app.cfg.DefaultRole); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %q", service.ErrDefaultRoleMissing, app.cfg.DefaultRole)
		}
		return fmt.Errorf("failed to look up default role: %w", err)
	}

	hasher := service.NewPasswordHasher(app.cfg.PasswordHashConcurrency)
	app.sessionService = &service.SessionService{Store: app.db}
	app.userService = &service.UserService{Store: app.db}
	app.rolesService = &service.RolesService{Store: app.db}
	app.authService = &service.AuthService{
		Store:       app.db,
		Credentials: &service.CredentialValidator{Store: app.db, Hasher: hasher},
		Hasher:      hasher,
		Tokens:      tokens,
		Sessions:    app.sessionService,
		Metrics:     app.metrics,
		DefaultRole: app.cfg.DefaultRole,
		SessionTTL:  app.cfg.EffectiveSessionTTL(),
	}
	app.tracker = &service.ActivityTracker{
		Sessions: app.sessionService,
		Logger:   app.logger,
		Metrics:  app.metrics,
	}

	var locker service.Locker
	if app.cfg.JanitorRedisAddr != "" {
		client, err := lock.Connect(ctx, app.cfg.JanitorRedisAddr, app.cfg.JanitorRedisPass, app.cfg.JanitorRedisDB)
		if err != nil {
			return fmt.Errorf("failed to connect janitor lock: %w", err)
		}
		app.redis = client
		locker = lock.NewRedisLocker(client, "")
		app.logger.Info("janitor lock enabled", "addr", app.cfg.JanitorRedisAddr)
	}

	janitor, err := service.NewSessionJanitor(service.JanitorConfig{
		Sessions:     app.sessionService,
		Logger:       app.logger,
		Metrics:      app.metrics,
		HourlySpec:   app.cfg.JanitorHourlySpec,
		FrequentSpec: app.cfg.JanitorFrequentSpec,
		Locker:       locker,
		LockTTL:      app.cfg.JanitorLockTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize session janitor: %w", err)
	}
	app.janitor = janitor
	return nil
}

func (app *Application) initHTTP() error {
	strict, moderate, lenient := app.cfg.RateLimits()
	clientIP, err := app.cfg.ClientIP()
	if err != nil {
		return fmt.Errorf("invalid trusted proxies: %w", err)
	}

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Store:          app.db,
		Auth:           app.authService,
		Users:          app.userService,
		Roles:          app.rolesService,
		Janitor:        app.janitor,
		Sessions:       app.tracker,
		RequireSession: app.cfg.RequireActiveSession,
		Cookie: httpapi.CookieConfig{
			Name:   app.cfg.CookieName,
			Secure: app.cfg.CookieSecure,
		},
		Limits:   httpapi.RateLimits{Strict: strict, Moderate: moderate, Lenient: lenient},
		ClientIP: clientIP,
		Logger:   app.logger,
		Version:  BuildVersion,
	})
	router.ApplyRoutes()
	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
	return nil
}
