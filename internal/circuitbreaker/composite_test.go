package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/orbitdash/gateway/internal/apierror"
)

func TestComposite_ConsecutiveOnly(t *testing.T) {
	cb := NewComposite("agency", Config{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	}, slog.Default())

	if cb.State() != StateClosed {
		t.Fatal("expected StateClosed")
	}

	cb.RecordFailure(10 * time.Millisecond)
	cb.RecordFailure(10 * time.Millisecond)
	cb.RecordFailure(10 * time.Millisecond)

	if cb.State() != StateOpen {
		t.Fatalf("expected StateOpen, got %v", cb.State())
	}
	if cb.Allow() {
		t.Fatal("expected rejection from open breaker")
	}

	// Release is a no-op without bulkhead.
	cb.Release()
}

func TestComposite_WithSlowCall(t *testing.T) {
	cb := NewComposite("horizons", Config{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
		SlowThreshold:    50 * time.Millisecond,
	}, slog.Default())

	// All "successes" but slow, so they count as failures.
	cb.RecordSuccess(100 * time.Millisecond)
	cb.RecordSuccess(100 * time.Millisecond)
	cb.RecordSuccess(100 * time.Millisecond)

	if cb.State() != StateOpen {
		t.Fatalf("expected StateOpen from slow successes, got %v", cb.State())
	}
}

func TestComposite_WithBulkhead(t *testing.T) {
	cb := NewComposite("agency", Config{
		FailureThreshold: 10,
		Cooldown:         30 * time.Second,
		MaxConcurrent:    2,
	}, slog.Default())

	if !cb.Allow() {
		t.Fatal("expected Allow() for slot 1")
	}
	if !cb.Allow() {
		t.Fatal("expected Allow() for slot 2")
	}
	if cb.Allow() {
		t.Fatal("expected rejection at concurrency limit")
	}

	cb.Release()
	if !cb.Allow() {
		t.Fatal("expected Allow() after Release()")
	}

	cb.Release()
	cb.Release()
}

func TestComposite_Do_Success(t *testing.T) {
	cb := NewComposite("agency", Config{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	}, slog.Default())

	v, err := cb.Do(context.Background(), func(ctx context.Context) (any, error) {
		return "payload", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "payload" {
		t.Fatalf("value = %v", v)
	}
}

func TestComposite_Do_OpenReturnsTypedError(t *testing.T) {
	cb := NewComposite("agency", Config{
		FailureThreshold: 1,
		Cooldown:         time.Hour,
	}, slog.Default())

	wantErr := errors.New("boom")
	if _, err := cb.Do(context.Background(), func(ctx context.Context) (any, error) {
		return nil, wantErr
	}); !errors.Is(err, wantErr) {
		t.Fatalf("expected op error surfaced, got %v", err)
	}

	called := false
	_, err := cb.Do(context.Background(), func(ctx context.Context) (any, error) {
		called = true
		return nil, nil
	})

	var ce *apierror.CircuitOpenError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
	if ce.Service != "agency" {
		t.Fatalf("service = %q", ce.Service)
	}
	if called {
		t.Fatal("op must not run while the circuit is open")
	}
}

func TestComposite_Do_BulkheadRejectionIsRateLimited(t *testing.T) {
	cb := NewComposite("agency", Config{
		FailureThreshold: 10,
		Cooldown:         30 * time.Second,
		MaxConcurrent:    1,
	}, slog.Default())

	if !cb.Allow() {
		t.Fatal("expected Allow() for the only slot")
	}

	// Circuit closed, concurrency saturated: rejection must not masquerade
	// as an open circuit.
	called := false
	_, err := cb.Do(context.Background(), func(ctx context.Context) (any, error) {
		called = true
		return nil, nil
	})

	var rl *apierror.RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rl.Service != "agency" {
		t.Fatalf("service = %q", rl.Service)
	}
	if called {
		t.Fatal("op must not run past a saturated bulkhead")
	}
	if cb.core.State() != StateClosed {
		t.Fatalf("core state = %v, want closed", cb.core.State())
	}

	cb.Release()
	if _, err := cb.Do(context.Background(), func(ctx context.Context) (any, error) {
		return "ok", nil
	}); err != nil {
		t.Fatalf("Do after Release: %v", err)
	}
}

func TestComposite_Do_OpenWithBulkheadStillReportsCircuitOpen(t *testing.T) {
	cb := NewComposite("agency", Config{
		FailureThreshold: 1,
		Cooldown:         time.Hour,
		MaxConcurrent:    2,
	}, slog.Default())

	cb.Do(context.Background(), func(ctx context.Context) (any, error) { //nolint:errcheck
		return nil, errors.New("boom")
	})

	var ce *apierror.CircuitOpenError
	if _, err := cb.Do(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	}); !errors.As(err, &ce) {
		t.Fatalf("expected CircuitOpenError while open, got %v", err)
	}
}

func TestComposite_Do_RecordsOutcomes(t *testing.T) {
	cb := NewComposite("agency", Config{
		FailureThreshold: 2,
		Cooldown:         time.Hour,
	}, slog.Default())

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		cb.Do(context.Background(), func(ctx context.Context) (any, error) { //nolint:errcheck
			return nil, boom
		})
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open after threshold failures via Do, got %v", cb.State())
	}
}
