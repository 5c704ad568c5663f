package circuitbreaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/orbitdash/gateway/internal/metrics"
)

// ConsecutiveBreaker opens after a run of consecutive failures. Any success
// while closed resets the run to zero. While open, calls are rejected until
// the cooldown elapses; the first call after that is let through as the single
// half-open probe. Probe success closes the circuit, probe failure re-opens
// it and restarts the cooldown.
type ConsecutiveBreaker struct {
	mu sync.Mutex

	state   State
	service string
	logger  *slog.Logger

	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool

	failureThreshold int
	cooldown         time.Duration

	now func() time.Time // injectable clock for tests
}

// NewConsecutiveBreaker creates a consecutive-failure circuit breaker for the
// given upstream service.
func NewConsecutiveBreaker(service string, failureThreshold int, cooldown time.Duration, logger *slog.Logger) *ConsecutiveBreaker {
	return &ConsecutiveBreaker{
		state:            StateClosed,
		service:          service,
		logger:           logger,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

func (b *ConsecutiveBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.transitionTo(StateHalfOpen)
			b.probeInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		// Exactly one probe at a time. Concurrent callers are rejected
		// until the in-flight probe settles.
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default:
		return true
	}
}

func (b *ConsecutiveBreaker) RecordSuccess(_ time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0
	case StateHalfOpen:
		b.probeInFlight = false
		b.transitionTo(StateClosed)
	}
}

func (b *ConsecutiveBreaker) RecordFailure(_ time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.failureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		b.probeInFlight = false
		b.transitionTo(StateOpen)
	}
}

func (b *ConsecutiveBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *ConsecutiveBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
}

// ConsecutiveFailures returns the current failure run length. Exposed for
// the admin API.
func (b *ConsecutiveBreaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// OpenedAt returns when the breaker last opened (zero if never).
func (b *ConsecutiveBreaker) OpenedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openedAt
}

// transitionTo changes the breaker state, emitting metrics and logging.
// Must be called with b.mu held.
func (b *ConsecutiveBreaker) transitionTo(newState State) {
	if b.state == newState {
		// Re-opening from half-open probe failure still restarts the
		// cooldown even though the state value is unchanged.
		if newState == StateOpen {
			b.openedAt = b.now()
		}
		return
	}

	from := b.state
	b.state = newState

	metrics.CircuitBreakerStateChanges.WithLabelValues(b.service, from.String(), newState.String()).Inc()
	metrics.CircuitBreakerState.WithLabelValues(b.service).Set(float64(newState))

	b.logger.Info("circuit breaker state change",
		"service", b.service,
		"from", from.String(),
		"to", newState.String(),
	)

	switch newState {
	case StateClosed:
		b.consecutiveFailures = 0
		b.probeInFlight = false
	case StateOpen:
		b.openedAt = b.now()
	case StateHalfOpen:
		b.probeInFlight = false
	}
}
