// Package gateway composes the resilience layers (response cache, request
// scheduler, circuit breaker, retry policy) into one client per upstream
// service family, and exposes typed fetch operations to the HTTP surface.
//
// Control flow for every operation: cache read (fresh short-circuits, stale
// returns immediately and revalidates in the background) → scheduler
// enqueue → circuit breaker → retry policy → HTTP GET → decode (ephemeris
// text parse for the horizons service) → cache write. Cache hits never
// consume rate budget; only actual network dispatches do.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/orbitdash/gateway/internal/cache"
	"github.com/orbitdash/gateway/internal/circuitbreaker"
	"github.com/orbitdash/gateway/internal/config"
	"github.com/orbitdash/gateway/internal/metrics"
	"github.com/orbitdash/gateway/internal/retry"
	"github.com/orbitdash/gateway/internal/scheduler"
)

// Upstream service names.
const (
	ServiceAgency    = "agency"
	ServiceSmallBody = "smallbody"
	ServiceDSN       = "dsn"
	ServiceHorizons  = "horizons"
)

// RateStatus reports one service's fixed-window budget for UI badges.
type RateStatus struct {
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at,omitzero"`
	Limit     int       `json:"limit"`
}

// service bundles the resilience stack for one upstream family. The rate
// budget and breaker are shared across all callers in the process; they are
// explicitly constructed here, never package-level state, so tests and
// multi-tenant embedders get isolated instances.
type service struct {
	name    string
	sched   *scheduler.Scheduler
	breaker *circuitbreaker.CompositeBreaker
	store   *cache.Cache
	client  *http.Client
	logger  *slog.Logger

	mu  sync.RWMutex
	cfg config.ServiceConfig
}

// Client is the process-wide gateway to all upstream science APIs.
type Client struct {
	services map[string]*service
	store    *cache.Cache
	logger   *slog.Logger
}

// New constructs a Client from config. One scheduler and one breaker are
// created per upstream service; the response cache is shared with
// service-prefixed keys.
func New(cfg *config.Config, logger *slog.Logger) *Client {
	store := cache.New(cfg.Cache.JanitorInterval)

	c := &Client{
		services: make(map[string]*service, 4),
		store:    store,
		logger:   logger,
	}

	for name, svcCfg := range cfg.Services.All() {
		c.services[name] = newService(name, *svcCfg, store, logger)
	}
	return c
}

func newService(name string, cfg config.ServiceConfig, store *cache.Cache, logger *slog.Logger) *service {
	return &service{
		name: name,
		sched: scheduler.New(name, scheduler.Config{
			Capacity:    cfg.Budget.Capacity,
			Window:      cfg.Budget.Window,
			PacingDelay: cfg.Budget.PacingDelay,
			QueueSize:   cfg.Budget.QueueSize,
		}, logger),
		breaker: circuitbreaker.NewComposite(name, circuitbreaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Cooldown:         cfg.Breaker.Cooldown,
			SlowThreshold:    cfg.Breaker.SlowThreshold,
			MaxConcurrent:    cfg.Breaker.MaxConcurrent,
		}, logger),
		store:  store,
		client: &http.Client{},
		logger: logger,
		cfg:    cfg,
	}
}

// Stop shuts down all schedulers and the cache janitor.
func (c *Client) Stop() {
	for _, s := range c.services {
		s.sched.Stop()
	}
	c.store.Stop()
}

// UpdateConfig applies hot-reloaded per-service settings. Budgets and cache
// freshness take effect immediately; breaker thresholds apply to new
// breaker decisions.
func (c *Client) UpdateConfig(cfg *config.Config) {
	for name, svcCfg := range cfg.Services.All() {
		s, ok := c.services[name]
		if !ok {
			continue
		}
		s.mu.Lock()
		s.cfg = *svcCfg
		s.mu.Unlock()
		s.sched.UpdateBudget(svcCfg.Budget.Capacity, svcCfg.Budget.Window, svcCfg.Budget.PacingDelay)
	}
}

// RateLimitStatus reports the named service's remaining budget.
func (c *Client) RateLimitStatus(name string) (RateStatus, error) {
	s, ok := c.services[name]
	if !ok {
		return RateStatus{}, fmt.Errorf("unknown service %q", name)
	}
	remaining, resetAt, limit := s.sched.Status()
	return RateStatus{Remaining: remaining, ResetAt: resetAt, Limit: limit}, nil
}

// CircuitState reports the named service's breaker state for health displays.
func (c *Client) CircuitState(name string) (circuitbreaker.State, error) {
	s, ok := c.services[name]
	if !ok {
		return 0, fmt.Errorf("unknown service %q", name)
	}
	return s.breaker.State(), nil
}

// ServiceNames lists the configured upstream services.
func (c *Client) ServiceNames() []string {
	return []string{ServiceAgency, ServiceSmallBody, ServiceDSN, ServiceHorizons}
}

// Breakers exposes the per-service breakers for the health and admin
// surfaces.
func (c *Client) Breakers() map[string]*circuitbreaker.CompositeBreaker {
	out := make(map[string]*circuitbreaker.CompositeBreaker, len(c.services))
	for name, s := range c.services {
		out[name] = s.breaker
	}
	return out
}

// CacheStats exposes response cache counters for the admin surface.
func (c *Client) CacheStats() cache.Stats {
	return c.store.Stats()
}

// snapshot returns a consistent copy of the service config for one call.
func (s *service) snapshot() config.ServiceConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// fetch is the shared composition path. It returns the value, a flag
// marking the value as served from a stale cache entry, and an error only
// when there is no usable cached data at all.
func (s *service) fetch(ctx context.Context, key string, op func(context.Context) (any, error)) (any, bool, error) {
	cfg := s.snapshot()

	v, status := s.store.Get(key)
	metrics.CacheOutcomes.WithLabelValues(s.name, status.String()).Inc()

	switch status {
	case cache.Fresh:
		return v, false, nil
	case cache.Stale:
		// Stale-while-revalidate: answer now, refresh in the background.
		// A failed refresh never evicts the stale entry.
		go s.revalidate(key, op)
		metrics.StaleServed.WithLabelValues(s.name).Inc()
		return v, true, nil
	}

	// Miss: concurrent callers for the same key share one upstream fetch.
	fresh, err := s.store.Fetch(ctx, key, cfg.Cache.TTL, cfg.Cache.StaleWindow, func(ctx context.Context) (any, error) {
		return s.dispatch(ctx, op)
	})
	if err != nil {
		return nil, false, err
	}
	return fresh, false, nil
}

// revalidate refreshes a stale entry outside any caller's request, on the
// background context: page navigation must not cancel the refresh.
func (s *service) revalidate(key string, op func(context.Context) (any, error)) {
	cfg := s.snapshot()
	_, err := s.store.Fetch(context.Background(), key, cfg.Cache.TTL, cfg.Cache.StaleWindow, func(ctx context.Context) (any, error) {
		return s.dispatch(ctx, op)
	})
	if err != nil {
		s.logger.Warn("background revalidation failed, keeping stale entry",
			"service", s.name,
			"key", key,
			"error", err,
		)
	}
}

// dispatch runs op through scheduler → breaker → retry.
func (s *service) dispatch(ctx context.Context, op func(context.Context) (any, error)) (any, error) {
	cfg := s.snapshot()
	return s.sched.Enqueue(ctx, func(ctx context.Context) (any, error) {
		return s.breaker.Do(ctx, func(ctx context.Context) (any, error) {
			return retry.Do(ctx, s.name, retry.Config{
				MaxAttempts: cfg.Retry.MaxAttempts,
				BaseDelay:   cfg.Retry.BaseDelay,
				MaxDelay:    cfg.Retry.MaxDelay,
				Multiplier:  cfg.Retry.Multiplier,
			}, s.logger, op)
		})
	})
}
