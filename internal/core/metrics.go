package core

import "time"

// Recorder defines the interface for recording application metrics.
// Implementations include Metrics (Prometheus-based) and NoopMetrics (no-op).
type Recorder interface {
	// Scheme dispatch
	RecordAuthenticate(scheme, outcome string, duration time.Duration)
	RecordAuthenticateCacheHit(scheme string)
	RecordChallenge(scheme string)
	RecordForbid(scheme string)
	RecordSignIn(scheme string, success bool)
	RecordSignOut(scheme string, success bool)

	// Federated sign-out
	RecordFederatedSignOut(scheme, result string)
	RecordLogoutNotification(success bool, duration time.Duration)

	// Startup
	RecordStartupValidation(result string)

	// Storage
	RecordStoreError(store, operation string)
}
