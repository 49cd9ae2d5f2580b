package metrics

import "time"

// NoopMetrics is a no-operation implementation of Recorder
// All methods are empty and do nothing, providing zero overhead when metrics are disabled
type NoopMetrics struct{}

// Ensure NoopMetrics implements Recorder interface at compile time
var _ Recorder = (*NoopMetrics)(nil)

// NewNoopMetrics creates a new no-operation metrics recorder
func NewNoopMetrics() Recorder {
	return &NoopMetrics{}
}

func (n *NoopMetrics) RecordAuthenticate(scheme, outcome string, duration time.Duration) {}
func (n *NoopMetrics) RecordAuthenticateCacheHit(scheme string)                          {}
func (n *NoopMetrics) RecordChallenge(scheme string)                                     {}
func (n *NoopMetrics) RecordForbid(scheme string)                                        {}
func (n *NoopMetrics) RecordSignIn(scheme string, success bool)                          {}
func (n *NoopMetrics) RecordSignOut(scheme string, success bool)                         {}
func (n *NoopMetrics) RecordFederatedSignOut(scheme, result string)                      {}
func (n *NoopMetrics) RecordLogoutNotification(success bool, duration time.Duration)     {}
func (n *NoopMetrics) RecordStartupValidation(result string)                             {}
func (n *NoopMetrics) RecordStoreError(store, operation string)                          {}
