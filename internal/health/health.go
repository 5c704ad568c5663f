// Package health provides health check and readiness probe HTTP handlers.
// Readiness is derived from circuit breaker state rather than dialling
// upstreams: probing api.nasa.gov on every /ready poll would burn the very
// request budget the gateway exists to protect.
package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/orbitdash/gateway/internal/circuitbreaker"
)

// Pre-serialized liveness response avoids json.Encoder allocation.
var livenessBody = []byte(`{"status":"ok"}` + "\n")

const readinessCacheTTL = 5 * time.Second

// BreakerSource supplies breaker instances per upstream service.
type BreakerSource interface {
	Breakers() map[string]*circuitbreaker.CompositeBreaker
}

// Handler provides /health and /ready endpoints.
type Handler struct {
	source BreakerSource
	logger *slog.Logger

	// Cached readiness result to avoid rebuilding the response body on
	// every /ready poll. Protected by cacheMu.
	cacheMu      sync.RWMutex
	cachedResult []byte
	cachedStatus int
	cachedAt     time.Time
}

// New creates a new health check Handler.
func New(source BreakerSource, logger *slog.Logger) *Handler {
	return &Handler{source: source, logger: logger}
}

// RegisterRoutes adds health check routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.liveness)
	mux.HandleFunc("/ready", h.readiness)
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(livenessBody)
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	// Serve from cache if fresh.
	h.cacheMu.RLock()
	if h.cachedResult != nil && time.Since(h.cachedAt) < readinessCacheTTL {
		body := h.cachedResult
		status := h.cachedStatus
		h.cacheMu.RUnlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(body)
		return
	}
	h.cacheMu.RUnlock()

	// Not ready only when every upstream's circuit is open: the dashboard
	// degrades per-panel, so one dead provider should not fail the probe.
	services := make(map[string]string)
	total := 0
	open := 0
	for name, cb := range h.source.Breakers() {
		total++
		st := cb.State()
		switch st {
		case circuitbreaker.StateOpen:
			open++
			services[name] = "circuit-open"
		case circuitbreaker.StateHalfOpen:
			services[name] = "circuit-half-open"
		default:
			services[name] = "ok"
		}
	}

	httpStatus := http.StatusOK
	statusStr := "ready"
	if total > 0 && open == total {
		httpStatus = http.StatusServiceUnavailable
		statusStr = "not ready"
		h.logger.Warn("all upstream circuits open")
	}

	body, _ := json.Marshal(map[string]interface{}{
		"status":   statusStr,
		"services": services,
	})
	body = append(body, '\n')

	// Cache the result.
	h.cacheMu.Lock()
	h.cachedResult = body
	h.cachedStatus = httpStatus
	h.cachedAt = time.Now()
	h.cacheMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	w.Write(body)
}
