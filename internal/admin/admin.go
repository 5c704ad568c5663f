// Package admin provides read-only admin API endpoints for runtime inspection
// of gateway state. All endpoints are protected by IP allowlist.
package admin

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/orbitdash/gateway/internal/config"
	"github.com/orbitdash/gateway/internal/gateway"
)

// Handler provides admin API endpoints.
type Handler struct {
	reloader    ConfigProvider
	client      *gateway.Client
	allowedNets []*net.IPNet
	logger      *slog.Logger
}

// ConfigProvider abstracts config access for testability.
type ConfigProvider interface {
	Current() *config.Config
}

// New creates a new admin Handler. The allowlist CIDRs must be pre-validated
// (config validation ensures this).
func New(reloader ConfigProvider, client *gateway.Client, allowlist []string, logger *slog.Logger) *Handler {
	nets := make([]*net.IPNet, 0, len(allowlist))
	for _, cidr := range allowlist {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // already validated by config
		}
		nets = append(nets, ipNet)
	}
	return &Handler{
		reloader:    reloader,
		client:      client,
		allowedNets: nets,
		logger:      logger,
	}
}

// RegisterRoutes adds admin routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/ratelimits", h.guard(h.rateLimitsHandler))
	mux.HandleFunc("/admin/breakers", h.guard(h.breakersHandler))
	mux.HandleFunc("/admin/cache", h.guard(h.cacheHandler))
	mux.HandleFunc("/admin/config", h.guard(h.configHandler))
}

// guard wraps a handler with IP allowlist checking.
func (h *Handler) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
				"error": "Method Not Allowed",
			})
			return
		}

		ip := extractIP(r.RemoteAddr)
		if !h.isAllowed(ip) {
			h.logger.Warn("admin access denied", "client_ip", ip, "path", r.URL.Path)
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error": "Forbidden",
			})
			return
		}
		next(w, r)
	}
}

func (h *Handler) isAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func (h *Handler) rateLimitsHandler(w http.ResponseWriter, r *http.Request) {
	limits := make(map[string]gateway.RateStatus)
	for _, name := range h.client.ServiceNames() {
		if st, err := h.client.RateLimitStatus(name); err == nil {
			limits[name] = st
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"services": limits})
}

// breakerStatus is the response type for /admin/breakers.
type breakerStatus struct {
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
}

func (h *Handler) breakersHandler(w http.ResponseWriter, r *http.Request) {
	statuses := make(map[string]breakerStatus)
	for name, cb := range h.client.Breakers() {
		st := breakerStatus{
			State:               cb.State().String(),
			ConsecutiveFailures: cb.ConsecutiveFailures(),
		}
		if opened := cb.OpenedAt(); !opened.IsZero() {
			st.OpenedAt = &opened
		}
		statuses[name] = st
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"breakers": statuses})
}

func (h *Handler) cacheHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.client.CacheStats())
}

func (h *Handler) configHandler(w http.ResponseWriter, r *http.Request) {
	cfg := h.reloader.Current()

	// Deep copy and redact sensitive fields.
	redacted := *cfg
	if redacted.Auth.JWTSecret != "" {
		redacted.Auth.JWTSecret = "***"
	}
	for _, svc := range redacted.Services.All() {
		if svc.APIKey != "" {
			svc.APIKey = "***"
		}
	}

	writeJSON(w, http.StatusOK, redacted)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
