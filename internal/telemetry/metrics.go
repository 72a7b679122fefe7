// Package telemetry owns chime's observability primitives: prometheus
// collectors behind a per-instance registry, an atomic snapshot mirror for
// the status endpoint, and the OTLP trace bootstrap.
//
// Metric labels carry outcome and sink names only. Identities and token
// material never become label values.
package telemetry

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh outcome label values.
const (
	OutcomeSuccess        = "success"
	OutcomeFailed         = "failed"
	OutcomeStaleFallback  = "stale_fallback"
	OutcomeNoRefreshToken = "no_refresh_token"
)

// Metrics aggregates chime's counters and gauges. All recording methods are
// safe on a nil receiver so subsystems can run without telemetry wired.
type Metrics struct {
	registry *prometheus.Registry

	refreshTotal   *prometheus.CounterVec
	revokeTotal    *prometheus.CounterVec
	jobFiresTotal  prometheus.Counter
	callbackErrors prometheus.Counter
	notifyTotal    *prometheus.CounterVec
	activeJobs     prometheus.Gauge

	snap snapshot
}

// snapshot mirrors the counters with atomics so /status can report them
// without scraping the prometheus registry.
type snapshot struct {
	refreshSuccess atomic.Int64
	refreshFailed  atomic.Int64
	staleFallbacks atomic.Int64
	jobFires       atomic.Int64
	callbackErrors atomic.Int64
	notifySent     atomic.Int64
	notifyFailed   atomic.Int64
	activeJobs     atomic.Int64
}

// Snapshot is a point-in-time view of the counters for the status endpoint.
type Snapshot struct {
	RefreshSuccess int64 `json:"refresh_success"`
	RefreshFailed  int64 `json:"refresh_failed"`
	StaleFallbacks int64 `json:"stale_fallbacks"`
	JobFires       int64 `json:"job_fires"`
	CallbackErrors int64 `json:"callback_errors"`
	NotifySent     int64 `json:"notify_sent"`
	NotifyFailed   int64 `json:"notify_failed"`
	ActiveJobs     int64 `json:"active_jobs"`
}

// NewMetrics creates a Metrics instance backed by its own registry,
// pre-registered with the standard Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		refreshTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chime_credential_refresh_total",
			Help: "Credential refresh attempts by outcome.",
		}, []string{"outcome"}),
		revokeTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chime_credential_revoke_total",
			Help: "Credential revocations by outcome.",
		}, []string{"outcome"}),
		jobFiresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chime_scheduler_fires_total",
			Help: "Scheduled job firings.",
		}),
		callbackErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "chime_scheduler_callback_errors_total",
			Help: "Notification callback errors caught by the engine.",
		}),
		notifyTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chime_notify_deliveries_total",
			Help: "Notification deliveries by sink and outcome.",
		}, []string{"sink", "outcome"}),
		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chime_scheduler_active_jobs",
			Help: "Jobs currently registered with the scheduler.",
		}),
	}
}

// Handler returns the /metrics HTTP handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RefreshOutcome records one refresh attempt.
func (m *Metrics) RefreshOutcome(outcome string) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(outcome).Inc()
	switch outcome {
	case OutcomeSuccess:
		m.snap.refreshSuccess.Add(1)
	case OutcomeStaleFallback:
		m.snap.staleFallbacks.Add(1)
	default:
		m.snap.refreshFailed.Add(1)
	}
}

// RevokeOutcome records one revocation attempt.
func (m *Metrics) RevokeOutcome(ok bool) {
	if m == nil {
		return
	}
	outcome := OutcomeFailed
	if ok {
		outcome = OutcomeSuccess
	}
	m.revokeTotal.WithLabelValues(outcome).Inc()
}

// JobFired records one scheduler firing.
func (m *Metrics) JobFired() {
	if m == nil {
		return
	}
	m.jobFiresTotal.Inc()
	m.snap.jobFires.Add(1)
}

// CallbackError records a notification callback failure caught by the engine.
func (m *Metrics) CallbackError() {
	if m == nil {
		return
	}
	m.callbackErrors.Inc()
	m.snap.callbackErrors.Add(1)
}

// NotifyResult records one sink delivery attempt.
func (m *Metrics) NotifyResult(sink string, ok bool) {
	if m == nil {
		return
	}
	outcome := OutcomeFailed
	if ok {
		outcome = OutcomeSuccess
	}
	m.notifyTotal.WithLabelValues(sink, outcome).Inc()
	if ok {
		m.snap.notifySent.Add(1)
	} else {
		m.snap.notifyFailed.Add(1)
	}
}

// SetActiveJobs records the current scheduler job count.
func (m *Metrics) SetActiveJobs(n int) {
	if m == nil {
		return
	}
	m.activeJobs.Set(float64(n))
	m.snap.activeJobs.Store(int64(n))
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		RefreshSuccess: m.snap.refreshSuccess.Load(),
		RefreshFailed:  m.snap.refreshFailed.Load(),
		StaleFallbacks: m.snap.staleFallbacks.Load(),
		JobFires:       m.snap.jobFires.Load(),
		CallbackErrors: m.snap.callbackErrors.Load(),
		NotifySent:     m.snap.notifySent.Load(),
		NotifyFailed:   m.snap.notifyFailed.Load(),
		ActiveJobs:     m.snap.activeJobs.Load(),
	}
}
