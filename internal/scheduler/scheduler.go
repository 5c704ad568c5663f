// Package scheduler provides a per-service FIFO request scheduler with a
// fixed-window rate budget. Calls are queued, dispatched in submission order
// by a single dispatch loop, and paced to avoid bursts. When the window's
// budget is exhausted the loop sleeps until the window resets rather than
// dropping or reordering calls.
//
// The agency API enforces its published hourly limit on fixed clock windows;
// the local accounting mirrors that model.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/orbitdash/gateway/internal/metrics"
)

// ErrStopped is returned for calls enqueued or still queued when the
// scheduler shuts down.
var ErrStopped = errors.New("scheduler stopped")

// Config holds scheduler settings for one upstream service.
type Config struct {
	// Capacity is the number of dispatches allowed per Window. Zero
	// disables budget enforcement (pacing still applies).
	Capacity int
	Window   time.Duration

	// PacingDelay is the minimum gap between consecutive dispatches.
	PacingDelay time.Duration

	// QueueSize bounds the dispatch queue. Enqueue blocks (honoring the
	// caller's context) when the queue is full.
	QueueSize int
}

// Result carries one queued call's independent outcome.
type Result struct {
	Value any
	Err   error
}

type task struct {
	op          func(context.Context) (any, error)
	ctx         context.Context
	resultCh    chan Result
	submittedAt time.Time
}

// Scheduler serializes dispatch of upstream calls for a single service.
type Scheduler struct {
	service string
	logger  *slog.Logger

	mu          sync.Mutex
	capacity    int
	window      time.Duration
	windowStart time.Time
	used        int

	pacer  *rate.Limiter
	tasks  chan *task
	stopCh chan struct{}
	done   chan struct{}

	stopOnce sync.Once
	now      func() time.Time // injectable clock for tests
}

// New creates a Scheduler and starts its dispatch loop.
func New(service string, cfg Config, logger *slog.Logger) *Scheduler {
	every := rate.Inf
	if cfg.PacingDelay > 0 {
		every = rate.Every(cfg.PacingDelay)
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 256
	}

	s := &Scheduler{
		service:  service,
		logger:   logger,
		capacity: cfg.Capacity,
		window:   cfg.Window,
		pacer:    rate.NewLimiter(every, 1),
		tasks:    make(chan *task, cfg.QueueSize),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}
	go s.dispatchLoop()
	return s
}

// Enqueue submits op for FIFO dispatch and blocks until its result is
// available or ctx is cancelled. Cancellation stops only the wait; the
// queued call itself runs on a detached context and completes (or fails)
// independently.
func (s *Scheduler) Enqueue(ctx context.Context, op func(context.Context) (any, error)) (any, error) {
	t := &task{
		op:          op,
		ctx:         context.WithoutCancel(ctx),
		resultCh:    make(chan Result, 1),
		submittedAt: s.now(),
	}

	select {
	case s.tasks <- t:
		metrics.SchedulerQueueDepth.WithLabelValues(s.service).Set(float64(len(s.tasks)))
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.stopCh:
		return nil, ErrStopped
	}

	select {
	case r := <-t.resultCh:
		return r.Value, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status reports the current budget for UI badges. ResetAt is zero when no
// window is active (next dispatch starts a fresh one) or when the budget is
// unlimited.
func (s *Scheduler) Status() (remaining int, resetAt time.Time, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capacity == 0 {
		return 0, time.Time{}, 0
	}
	if s.windowStart.IsZero() || s.now().Sub(s.windowStart) >= s.window {
		return s.capacity, time.Time{}, s.capacity
	}
	return s.capacity - s.used, s.windowStart.Add(s.window), s.capacity
}

// UpdateBudget hot-reloads the budget settings. The current window's usage
// count is preserved; a lowered capacity simply stalls dispatch until the
// next reset.
func (s *Scheduler) UpdateBudget(capacity int, window, pacingDelay time.Duration) {
	s.mu.Lock()
	s.capacity = capacity
	s.window = window
	s.mu.Unlock()

	if pacingDelay > 0 {
		s.pacer.SetLimit(rate.Every(pacingDelay))
	} else {
		s.pacer.SetLimit(rate.Inf)
	}
}

// Stop shuts down the dispatch loop and fails all queued calls with
// ErrStopped. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
}

// dispatchLoop is the single goroutine that dequeues and dispatches tasks.
// FIFO order is guaranteed because only this loop reads from the queue.
func (s *Scheduler) dispatchLoop() {
	defer close(s.done)

	for {
		select {
		case <-s.stopCh:
			s.drain()
			return
		case t := <-s.tasks:
			metrics.SchedulerQueueDepth.WithLabelValues(s.service).Set(float64(len(s.tasks)))

			if !s.acquireSlot() {
				t.resultCh <- Result{Err: ErrStopped}
				s.drain()
				return
			}

			// Each call's result is delivered independently; a slow or
			// failing call must not block siblings beyond the pacing gap.
			go func(t *task) {
				v, err := t.op(t.ctx)
				t.resultCh <- Result{Value: v, Err: err}
			}(t)

			if err := s.pacer.Wait(t.ctx); err != nil {
				// Pacing context cancelled; keep dispatching.
				continue
			}
		}
	}
}

// acquireSlot blocks until the fixed-window budget admits one dispatch,
// then consumes one unit. The window-reset check and the budget check are a
// single atomic step under the mutex, so a burst racing a reset can neither
// drop a call nor double-count it. Returns false if the scheduler stopped
// while waiting.
func (s *Scheduler) acquireSlot() bool {
	for {
		s.mu.Lock()
		if s.capacity == 0 {
			s.mu.Unlock()
			return true
		}

		now := s.now()
		if s.windowStart.IsZero() || now.Sub(s.windowStart) >= s.window {
			s.windowStart = now
			s.used = 0
		}

		if s.used < s.capacity {
			s.used++
			metrics.RateBudgetUsed.WithLabelValues(s.service).Set(float64(s.used))
			s.mu.Unlock()
			return true
		}

		wait := s.windowStart.Add(s.window).Sub(now)
		s.mu.Unlock()

		s.logger.Warn("rate budget exhausted, waiting for window reset",
			"service", s.service,
			"wait", wait,
		)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.stopCh:
			timer.Stop()
			return false
		}
	}
}

// drain fails every still-queued task so no caller blocks forever.
func (s *Scheduler) drain() {
	for {
		select {
		case t := <-s.tasks:
			t.resultCh <- Result{Err: ErrStopped}
		default:
			metrics.SchedulerQueueDepth.WithLabelValues(s.service).Set(0)
			return
		}
	}
}
