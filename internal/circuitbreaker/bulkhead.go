package circuitbreaker

import (
	"time"

	"github.com/orbitdash/gateway/internal/metrics"
)

// BulkheadBreaker limits the number of concurrent in-flight calls to an
// upstream service. It wraps an inner Breaker and rejects calls when the
// concurrency limit is reached, preventing goroutine pileups when an
// upstream slows down.
type BulkheadBreaker struct {
	inner   Breaker
	sem     chan struct{}
	service string
}

// NewBulkheadBreaker creates a concurrency-limiting breaker that allows at
// most maxConcurrent in-flight calls before rejecting.
func NewBulkheadBreaker(inner Breaker, maxConcurrent int, service string) *BulkheadBreaker {
	return &BulkheadBreaker{
		inner:   inner,
		sem:     make(chan struct{}, maxConcurrent),
		service: service,
	}
}

// Allow tries to acquire a concurrency slot and then checks the inner breaker.
// If the concurrency limit is reached, returns false without blocking.
// If Allow returns true, the caller MUST call Release when the call completes.
func (b *BulkheadBreaker) Allow() bool {
	select {
	case b.sem <- struct{}{}:
		metrics.BulkheadInFlight.WithLabelValues(b.service).Set(float64(len(b.sem)))
		if !b.inner.Allow() {
			// Inner breaker rejected, release the slot immediately.
			<-b.sem
			metrics.BulkheadInFlight.WithLabelValues(b.service).Set(float64(len(b.sem)))
			return false
		}
		return true
	default:
		metrics.BulkheadRejections.WithLabelValues(b.service).Inc()
		return false
	}
}

// Release frees a concurrency slot after a call completes. Must be called
// exactly once for every Allow() that returned true.
func (b *BulkheadBreaker) Release() {
	<-b.sem
	metrics.BulkheadInFlight.WithLabelValues(b.service).Set(float64(len(b.sem)))
}

func (b *BulkheadBreaker) RecordSuccess(latency time.Duration) {
	b.inner.RecordSuccess(latency)
}

func (b *BulkheadBreaker) RecordFailure(latency time.Duration) {
	b.inner.RecordFailure(latency)
}

func (b *BulkheadBreaker) State() State {
	return b.inner.State()
}

func (b *BulkheadBreaker) Reset() {
	b.inner.Reset()
}
