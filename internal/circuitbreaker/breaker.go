// Package circuitbreaker provides composable circuit breaker implementations
// for protecting the gateway against degraded upstream science APIs.
package circuitbreaker

import "time"

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation; calls pass through.
	StateOpen                  // Failing; calls are rejected immediately.
	StateHalfOpen              // Probing; a single call allowed to test recovery.
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is the common interface for all circuit breaker layers.
type Breaker interface {
	// Allow reports whether a call may proceed. Returns false when the
	// circuit is open and the call should be rejected without any
	// network attempt.
	Allow() bool

	// RecordSuccess records a successful upstream response with its latency.
	RecordSuccess(latency time.Duration)

	// RecordFailure records a failed upstream response with its latency.
	RecordFailure(latency time.Duration)

	// State returns the current circuit breaker state.
	State() State

	// Reset forces the breaker back to closed state.
	Reset()
}
