package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aussiebroadwan/sessionauth/internal/auth/metrics"
)

// Default sweep cadences.
const (
	DefaultHourlySpec   = "0 * * * *"
	DefaultFrequentSpec = "*/30 * * * *"

	sweepLockName  = "session-sweep"
	sweepJobName   = "session_sweep"
	defaultLockTTL = 5 * time.Minute

	lockReleaseTimeout = 5 * time.Second
)

// Locker keeps scheduled sweeps from overlapping across replicas. ok is false
// when another holder owns name.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

type CleanupResult struct {
	DeletedCount int64
	Timestamp    time.Time
}

type JanitorStatus struct {
	IsRunning    bool
	HourlySpec   string
	FrequentSpec string
	LastRunAt    *time.Time
	LastDeleted  int64
	NextRunAt    *time.Time
}

type JanitorConfig struct {
	Sessions     *SessionService
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	HourlySpec   string
	FrequentSpec string
	// Locker is optional. Without it every replica sweeps on schedule,
	// which is safe since deletes are idempotent.
	Locker Locker
	// LockTTL also bounds each scheduled sweep, so a sweep never outlives
	// the lock it holds.
	LockTTL time.Duration
	Now     func() time.Time
}

// SessionJanitor deletes stale sessions on two cron cadences and on demand.
// Both cadences and the manual trigger share SessionService.Cleanup.
type SessionJanitor struct {
	cfg  JanitorConfig
	cron *cron.Cron

	sweepMu sync.Mutex

	mu          sync.Mutex
	running     bool
	lastRunAt   *time.Time
	lastDeleted int64
}

func NewSessionJanitor(cfg JanitorConfig) (*SessionJanitor, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("janitor: sessions service is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HourlySpec == "" {
		cfg.HourlySpec = DefaultHourlySpec
	}
	if cfg.FrequentSpec == "" {
		cfg.FrequentSpec = DefaultFrequentSpec
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	for name, spec := range map[string]string{"hourly": cfg.HourlySpec, "frequent": cfg.FrequentSpec} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return nil, fmt.Errorf("janitor: invalid %s spec %q: %w", name, spec, err)
		}
	}

	logger := cronLogger{l: cfg.Logger.With("component", "janitor")}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	j := &SessionJanitor{cfg: cfg, cron: c}
	if _, err := c.AddFunc(cfg.HourlySpec, func() { j.scheduled("hourly") }); err != nil {
		return nil, err
	}
	if _, err := c.AddFunc(cfg.FrequentSpec, func() { j.scheduled("frequent") }); err != nil {
		return nil, err
	}
	return j, nil
}

// Start is non-blocking. Call Stop to shut the scheduler down.
func (j *SessionJanitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return
	}
	j.cron.Start()
	j.running = true
	j.cfg.Logger.Info("session janitor started",
		"hourly", j.cfg.HourlySpec,
		"frequent", j.cfg.FrequentSpec,
	)
}

// Stop halts scheduling and waits for a running sweep until ctx ends.
func (j *SessionJanitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = false
	j.mu.Unlock()

	select {
	case <-j.cron.Stop().Done():
		j.cfg.Logger.Info("session janitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow sweeps immediately, waiting for any sweep already in progress.
func (j *SessionJanitor) RunNow(ctx context.Context) (CleanupResult, error) {
	j.sweepMu.Lock()
	defer j.sweepMu.Unlock()
	return j.sweep(ctx, "manual")
}

func (j *SessionJanitor) Status() JanitorStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	st := JanitorStatus{
		IsRunning:    j.running,
		HourlySpec:   j.cfg.HourlySpec,
		FrequentSpec: j.cfg.FrequentSpec,
		LastDeleted:  j.lastDeleted,
	}
	if j.lastRunAt != nil {
		t := *j.lastRunAt
		st.LastRunAt = &t
	}
	if j.running {
		var next time.Time
		for _, e := range j.cron.Entries() {
			if !e.Next.IsZero() && (next.IsZero() || e.Next.Before(next)) {
				next = e.Next
			}
		}
		if !next.IsZero() {
			st.NextRunAt = &next
		}
	}
	return st
}

// scheduled runs one cron-triggered sweep. The two cadences coincide on the
// hour; whichever arrives second finds sweepMu held and skips.
func (j *SessionJanitor) scheduled(cadence string) {
	if !j.sweepMu.TryLock() {
		j.cfg.Logger.Debug("sweep already running, skipping", "cadence", cadence)
		return
	}
	defer j.sweepMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), j.cfg.LockTTL)
	defer cancel()

	if j.cfg.Locker != nil {
		release, ok, err := j.cfg.Locker.TryLock(ctx, sweepLockName, j.cfg.LockTTL)
		switch {
		case err != nil:
			j.cfg.Logger.Warn("sweep lock unavailable, sweeping anyway", "cadence", cadence, "err", err)
		case !ok:
			j.cfg.Logger.Debug("sweep held by another replica", "cadence", cadence)
			return
		default:
			defer func() {
				// The sweep context may have expired by now.
				rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
				defer rcancel()
				if err := release(rctx); err != nil {
					j.cfg.Logger.Warn("sweep lock release failed", "err", err)
				}
			}()
		}
	}

	// Errors are already logged; the schedule carries on regardless.
	_, _ = j.sweep(ctx, cadence)
}

func (j *SessionJanitor) sweep(ctx context.Context, cadence string) (CleanupResult, error) {
	tracker := j.cfg.Metrics.Track(sweepJobName)

	n, err := j.cfg.Sessions.Cleanup(ctx)
	if err = tracker.End(err); err != nil {
		j.cfg.Logger.Error("session sweep failed", "cadence", cadence, "err", err)
		return CleanupResult{}, err
	}

	now := j.cfg.Now().UTC()
	j.cfg.Metrics.SessionsDeleted(n)

	j.mu.Lock()
	j.lastRunAt = &now
	j.lastDeleted = n
	j.mu.Unlock()

	j.cfg.Logger.Info("session sweep completed", "cadence", cadence, "deleted", n)
	return CleanupResult{DeletedCount: n, Timestamp: now}, nil
}

// cronLogger routes cron's own logging into slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
