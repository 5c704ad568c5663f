// Package retry provides bounded exponential backoff for upstream calls.
// Only transient failures are retried: transport errors, timeouts, 5xx,
// and 429. Other 4xx responses surface immediately, and when attempts are
// exhausted the last error is returned unchanged so the original cause
// survives to the caller.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/orbitdash/gateway/internal/apierror"
	"github.com/orbitdash/gateway/internal/metrics"
)

// Config holds backoff settings.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// Delay returns the backoff before retry attempt n (1-based): the delay
// applied after the nth attempt fails. min(base*multiplier^(n-1), max),
// monotonic and capped.
func (c Config) Delay(n int) time.Duration {
	d := float64(c.BaseDelay)
	for i := 1; i < n; i++ {
		d *= c.Multiplier
		if d >= float64(c.MaxDelay) {
			return c.MaxDelay
		}
	}
	if d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// Do runs op up to cfg.MaxAttempts times. The first attempt runs
// immediately; backoff is applied only before retries. Non-retryable errors
// and context cancellation stop the loop at once.
func Do(ctx context.Context, service string, cfg Config, logger *slog.Logger, op func(context.Context) (any, error)) (any, error) {
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := cfg.Delay(attempt - 1)
			metrics.RetryTotal.WithLabelValues(service).Inc()
			logger.Warn("retrying upstream call",
				"service", service,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, lastErr
			}
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !apierror.IsRetryable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, lastErr
		}
	}

	return nil, lastErr
}
