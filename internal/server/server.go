// Package server exposes the gateway's typed fetch operations as the JSON
// API the dashboard consumes. Handlers never leak raw provider payloads or
// transport errors: responses are typed records in an envelope, failures
// are the stable error codes from apierror.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/orbitdash/gateway/internal/apierror"
	"github.com/orbitdash/gateway/internal/gateway"
)

// Handler serves the dashboard API.
type Handler struct {
	gw     *gateway.Client
	logger *slog.Logger
}

// New creates a Handler backed by the given gateway client.
func New(gw *gateway.Client, logger *slog.Logger) *Handler {
	return &Handler{gw: gw, logger: logger}
}

// RegisterRoutes adds the dashboard API routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/apod", h.apod)
	mux.HandleFunc("GET /api/rovers/{rover}/photos", h.roverPhotos)
	mux.HandleFunc("GET /api/neo/close-approaches", h.closeApproaches)
	mux.HandleFunc("GET /api/dsn/status", h.dsnStatus)
	mux.HandleFunc("GET /api/spacecraft/{id}/position", h.spacecraftPosition)
	mux.HandleFunc("GET /api/spacecraft/{id}/elements", h.orbitalElements)
	mux.HandleFunc("GET /api/status/ratelimits", h.rateLimits)
	mux.HandleFunc("GET /api/status/circuits", h.circuits)
}

// envelope wraps every successful response. Stale marks data served from an
// expired-but-usable cache entry while a background refresh runs; the UI
// shows a "using cached data" badge for it.
type envelope struct {
	Data      any       `json:"data"`
	Stale     bool      `json:"stale,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

func (h *Handler) apod(w http.ResponseWriter, r *http.Request) {
	apod, stale, err := h.gw.GetAPOD(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, apod, stale)
}

func (h *Handler) roverPhotos(w http.ResponseWriter, r *http.Request) {
	rover := r.PathValue("rover")

	sol := 0
	if raw := r.URL.Query().Get("sol"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.CodeBadRequest, "sol must be a non-negative integer")
			return
		}
		sol = v
	}

	photos, stale, err := h.gw.GetRoverPhotos(r.Context(), rover, sol)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, photos, stale)
}

func (h *Handler) closeApproaches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := gateway.CloseApproachQuery{
		DateMin: q.Get("date-min"),
		DateMax: q.Get("date-max"),
	}
	if raw := q.Get("dist-max"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.CodeBadRequest, "dist-max must be a positive number of AU")
			return
		}
		query.DistMaxAU = v
	}
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.CodeBadRequest, "limit must be a positive integer")
			return
		}
		query.Limit = v
	}

	events, stale, err := h.gw.GetCloseApproaches(r.Context(), query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, events, stale)
}

func (h *Handler) dsnStatus(w http.ResponseWriter, r *http.Request) {
	status, stale, err := h.gw.GetDSNStatus(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, status, stale)
}

func (h *Handler) spacecraftPosition(w http.ResponseWriter, r *http.Request) {
	pos, stale, err := h.gw.GetSpacecraftPosition(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, pos, stale)
}

func (h *Handler) orbitalElements(w http.ResponseWriter, r *http.Request) {
	rec, stale, err := h.gw.GetOrbitalElements(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, rec, stale)
}

func (h *Handler) rateLimits(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]gateway.RateStatus)
	for _, name := range h.gw.ServiceNames() {
		if st, err := h.gw.RateLimitStatus(name); err == nil {
			out[name] = st
		}
	}
	writeData(w, out, false)
}

func (h *Handler) circuits(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]string)
	for _, name := range h.gw.ServiceNames() {
		if st, err := h.gw.CircuitState(name); err == nil {
			out[name] = st.String()
		}
	}
	writeData(w, out, false)
}

func writeData(w http.ResponseWriter, data any, stale bool) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(envelope{
		Data:      data,
		Stale:     stale,
		FetchedAt: time.Now().UTC(),
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := apierror.HTTPStatus(err)
	if status >= 500 {
		h.logger.Error("upstream fetch failed", "error", err, "path", r.URL.Path)
	}
	apierror.WriteJSON(w, r, status, code, err.Error())
}
