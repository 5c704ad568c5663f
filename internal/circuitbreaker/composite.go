package circuitbreaker

import (
	"context"
	"log/slog"
	"time"

	"github.com/orbitdash/gateway/internal/apierror"
)

// Config holds all circuit breaker configuration. The consecutive-failure
// breaker is always active. Slow-call and bulkhead layers are enabled only
// when their respective settings are non-zero.
type Config struct {
	// Consecutive-failure breaker (always active)
	FailureThreshold int
	Cooldown         time.Duration

	// Slow-call layer (active when SlowThreshold > 0)
	SlowThreshold time.Duration

	// Bulkhead layer (active when MaxConcurrent > 0)
	MaxConcurrent int
}

// CompositeBreaker composes the breaker layers into a single unit. The
// gateway client interacts only with CompositeBreaker; internal layering is
// transparent.
type CompositeBreaker struct {
	core      *ConsecutiveBreaker
	bulkhead  *BulkheadBreaker // nil if bulkhead disabled
	effective Breaker          // outermost layer, what Allow/Record call
	service   string
}

// NewComposite builds a composed breaker stack for the given upstream
// service. Composition order (inside → out): Consecutive → SlowCall → Bulkhead.
func NewComposite(service string, cfg Config, logger *slog.Logger) *CompositeBreaker {
	core := NewConsecutiveBreaker(service, cfg.FailureThreshold, cfg.Cooldown, logger)

	var current Breaker = core

	if cfg.SlowThreshold > 0 {
		current = NewSlowCallBreaker(current, cfg.SlowThreshold)
	}

	cb := &CompositeBreaker{
		core:      core,
		effective: current,
		service:   service,
	}

	if cfg.MaxConcurrent > 0 {
		cb.bulkhead = NewBulkheadBreaker(current, cfg.MaxConcurrent, service)
		cb.effective = cb.bulkhead
	}

	return cb
}

func (c *CompositeBreaker) Allow() bool { return c.effective.Allow() }

func (c *CompositeBreaker) RecordSuccess(latency time.Duration) {
	c.effective.RecordSuccess(latency)
}

func (c *CompositeBreaker) RecordFailure(latency time.Duration) {
	c.effective.RecordFailure(latency)
}

func (c *CompositeBreaker) State() State { return c.effective.State() }

func (c *CompositeBreaker) Reset() { c.effective.Reset() }

// Release frees the bulkhead slot, if a bulkhead layer is active. Safe to
// call unconditionally after Do-less manual composition.
func (c *CompositeBreaker) Release() {
	if c.bulkhead != nil {
		c.bulkhead.Release()
	}
}

// ConsecutiveFailures exposes the core breaker's failure run for the admin API.
func (c *CompositeBreaker) ConsecutiveFailures() int { return c.core.ConsecutiveFailures() }

// OpenedAt exposes when the core breaker last opened.
func (c *CompositeBreaker) OpenedAt() time.Time { return c.core.OpenedAt() }

// Do executes op under the breaker. While the circuit is open, it returns
// CircuitOpenError immediately without invoking op; a bulkhead rejection
// while the circuit is closed surfaces as RateLimitedError, since the
// upstream is healthy and the caller is merely contending for concurrency
// slots. Otherwise op runs and its outcome (including latency) is recorded.
func (c *CompositeBreaker) Do(ctx context.Context, op func(context.Context) (any, error)) (any, error) {
	if !c.Allow() {
		if c.bulkhead != nil && c.core.State() == StateClosed {
			return nil, &apierror.RateLimitedError{Service: c.service}
		}
		return nil, &apierror.CircuitOpenError{Service: c.service}
	}
	defer c.Release()

	start := time.Now()
	v, err := op(ctx)
	latency := time.Since(start)

	if err != nil {
		c.RecordFailure(latency)
		return nil, err
	}
	c.RecordSuccess(latency)
	return v, nil
}
