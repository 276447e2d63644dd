package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	authOps          *prometheus.CounterVec
	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	sessionsDeleted  prometheus.Counter
	trackingFailures prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// New registers the collectors against registerer, or against the default
// registerer (once per process) when registerer is nil.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = build(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return build(registerer)
}

// AuthResult counts one login, register, refresh or logout. outcome is
// "success" or an error code such as "invalid_credentials".
func (m *Metrics) AuthResult(op, outcome string) {
	if m == nil {
		return
	}
	m.authOps.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) SessionsDeleted(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsDeleted.Add(float64(n))
}

func (m *Metrics) SessionTrackingFailure() {
	if m == nil {
		return
	}
	m.trackingFailures.Inc()
}

// Tracker instruments a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the run and returns err untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	t.metrics.jobRuns.WithLabelValues(t.job, status).Inc()
	t.metrics.jobDuration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

func build(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		authOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionauth_auth_operations_total",
			Help: "Authentication operations partitioned by operation and outcome.",
		}, []string{"op", "outcome"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionauth_jobs_total",
			Help: "Background job executions partitioned by job and status.",
		}, []string{"job", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sessionauth_job_duration_seconds",
			Help:    "Duration in seconds of background job executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		sessionsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessionauth_sessions_deleted_total",
			Help: "Stale session records removed by sweeps.",
		}),
		trackingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessionauth_session_tracking_failures_total",
			Help: "Session lookups or activity updates that failed and were ignored.",
		}),
	}
	registerer.MustRegister(m.authOps, m.jobRuns, m.jobDuration, m.sessionsDeleted, m.trackingFailures)
	return m
}
