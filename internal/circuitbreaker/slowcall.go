package circuitbreaker

import "time"

// SlowCallBreaker wraps another Breaker and treats slow responses as
// failures. If a call completes successfully but its latency exceeds
// slowThreshold, the success is recorded as a failure on the inner breaker.
type SlowCallBreaker struct {
	inner         Breaker
	slowThreshold time.Duration
}

// NewSlowCallBreaker wraps inner and converts successes slower than
// threshold into failures.
func NewSlowCallBreaker(inner Breaker, slowThreshold time.Duration) *SlowCallBreaker {
	return &SlowCallBreaker{inner: inner, slowThreshold: slowThreshold}
}

func (s *SlowCallBreaker) Allow() bool {
	return s.inner.Allow()
}

func (s *SlowCallBreaker) RecordSuccess(latency time.Duration) {
	if latency > s.slowThreshold {
		s.inner.RecordFailure(latency)
		return
	}
	s.inner.RecordSuccess(latency)
}

func (s *SlowCallBreaker) RecordFailure(latency time.Duration) {
	s.inner.RecordFailure(latency)
}

func (s *SlowCallBreaker) State() State {
	return s.inner.State()
}

func (s *SlowCallBreaker) Reset() {
	s.inner.Reset()
}
