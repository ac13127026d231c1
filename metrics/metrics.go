// Package metrics defines the instrumentation facade for the payment gate.
package metrics

import "time"

// Event counter names used across the server.
const (
	EventChallenge         = "challenge"
	EventVerifyValid       = "verify_valid"
	EventVerifyInvalid     = "verify_invalid"
	EventVerifyCacheHit    = "verify_cache_hit"
	EventSettleSuccess     = "settle_success"
	EventSettleFailure     = "settle_failure"
	EventVerificationError = "verification_error"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
