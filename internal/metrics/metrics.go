package metrics

import (
	"sync"
	"time"

	"github.com/go-authgate/authcore/internal/core"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is an alias so callers do not need to import core for the type.
type Recorder = core.Recorder

// Ensure Metrics implements Recorder interface at compile time
var _ Recorder = (*Metrics)(nil)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Scheme dispatch
	AuthenticateTotal      *prometheus.CounterVec
	AuthenticateDuration   *prometheus.HistogramVec
	AuthenticateCacheHits  *prometheus.CounterVec
	ChallengesTotal        *prometheus.CounterVec
	ForbidsTotal           *prometheus.CounterVec
	SignInsTotal           *prometheus.CounterVec
	SignOutsTotal          *prometheus.CounterVec
	FederatedSignOutsTotal *prometheus.CounterVec

	// Back-channel logout
	LogoutNotificationsTotal   *prometheus.CounterVec
	LogoutNotificationDuration prometheus.Histogram

	// Startup
	StartupValidationsTotal *prometheus.CounterVec

	// Storage
	StoreErrorsTotal *prometheus.CounterVec

	// HTTP Request Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Init returns the process-wide Prometheus recorder, or a no-op recorder
// when metrics are disabled.
func Init(enabled bool) Recorder {
	if !enabled {
		return NewNoopMetrics()
	}

	once.Do(func() {
		defaultMetrics = initMetrics()
	})
	return defaultMetrics
}

func initMetrics() *Metrics {
	return &Metrics{
		AuthenticateTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authn_authenticate_total",
				Help: "Total number of credential verifications per scheme",
			},
			[]string{"scheme", "outcome"}, // outcome: success, failure, none
		),
		AuthenticateDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authn_authenticate_duration_seconds",
				Help:    "Time taken to verify credentials",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"scheme"},
		),
		AuthenticateCacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authn_authenticate_cache_hits_total",
				Help: "Authenticate calls answered from the per-request cache",
			},
			[]string{"scheme"},
		),
		ChallengesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authn_challenges_total",
				Help: "Total number of challenges issued",
			},
			[]string{"scheme"},
		),
		ForbidsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authn_forbids_total",
				Help: "Total number of forbid responses issued",
			},
			[]string{"scheme"},
		),
		SignInsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authn_sign_ins_total",
				Help: "Total number of sign-in attempts",
			},
			[]string{"scheme", "result"},
		),
		SignOutsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authn_sign_outs_total",
				Help: "Total number of sign-out attempts",
			},
			[]string{"scheme", "result"},
		),
		FederatedSignOutsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authn_federated_sign_outs_total",
				Help: "Federated sign-out callbacks handled",
			},
			[]string{"scheme", "result"}, // result: signed_out, no_session, error
		),
		LogoutNotificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backchannel_logout_notifications_total",
				Help: "Back-channel logout notifications sent to relying parties",
			},
			[]string{"result"},
		),
		LogoutNotificationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "backchannel_logout_notification_duration_seconds",
				Help:    "Time taken to deliver a back-channel logout notification",
				Buckets: prometheus.DefBuckets,
			},
		),
		StartupValidationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "startup_validations_total",
				Help: "Startup service validation outcomes",
			},
			[]string{"result"}, // ready, aborted
		),
		StoreErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_errors_total",
				Help: "Errors returned by grant, client and resource stores",
			},
			[]string{"store", "operation"},
		),
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),
	}
}

func result(success bool) string {
	if success {
		return resultSuccess
	}
	return resultFailure
}

// RecordAuthenticate records one credential verification
func (m *Metrics) RecordAuthenticate(scheme, outcome string, duration time.Duration) {
	m.AuthenticateTotal.WithLabelValues(scheme, outcome).Inc()
	m.AuthenticateDuration.WithLabelValues(scheme).Observe(duration.Seconds())
}

// RecordAuthenticateCacheHit records an Authenticate answered from the request cache
func (m *Metrics) RecordAuthenticateCacheHit(scheme string) {
	m.AuthenticateCacheHits.WithLabelValues(scheme).Inc()
}

func (m *Metrics) RecordChallenge(scheme string) {
	m.ChallengesTotal.WithLabelValues(scheme).Inc()
}

func (m *Metrics) RecordForbid(scheme string) {
	m.ForbidsTotal.WithLabelValues(scheme).Inc()
}

func (m *Metrics) RecordSignIn(scheme string, success bool) {
	m.SignInsTotal.WithLabelValues(scheme, result(success)).Inc()
}

func (m *Metrics) RecordSignOut(scheme string, success bool) {
	m.SignOutsTotal.WithLabelValues(scheme, result(success)).Inc()
}

// RecordFederatedSignOut records the outcome of a sign-out callback
func (m *Metrics) RecordFederatedSignOut(scheme, res string) {
	m.FederatedSignOutsTotal.WithLabelValues(scheme, res).Inc()
}

// RecordLogoutNotification records one back-channel delivery
func (m *Metrics) RecordLogoutNotification(success bool, duration time.Duration) {
	m.LogoutNotificationsTotal.WithLabelValues(result(success)).Inc()
	m.LogoutNotificationDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordStartupValidation(res string) {
	m.StartupValidationsTotal.WithLabelValues(res).Inc()
}

func (m *Metrics) RecordStoreError(store, operation string) {
	m.StoreErrorsTotal.WithLabelValues(store, operation).Inc()
}
