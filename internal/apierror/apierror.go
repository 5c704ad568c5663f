// Package apierror defines the typed error taxonomy shared by every layer of
// the data gateway, plus a centralized JSON error response format for the
// HTTP surface. Failure kind always survives to the caller; components wrap
// causes with these types instead of collapsing them into nil-with-log.
package apierror

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode is a machine-readable error classification string.
type ErrorCode string

// Gateway error codes. These form a public API contract: the dashboard
// programs against these stable codes. Do not rename or remove existing codes.
const (
	CodeTransport         ErrorCode = "GATEWAY_UPSTREAM_TRANSPORT"
	CodeUpstream          ErrorCode = "GATEWAY_UPSTREAM_ERROR"
	CodeRateLimited       ErrorCode = "GATEWAY_RATE_LIMITED"
	CodeCircuitOpen       ErrorCode = "GATEWAY_CIRCUIT_OPEN"
	CodeMalformedResponse ErrorCode = "GATEWAY_MALFORMED_RESPONSE"
	CodeTimeout           ErrorCode = "GATEWAY_TIMEOUT"
	CodeNotFound          ErrorCode = "GATEWAY_ROUTE_NOT_FOUND"
	CodeMethodNotAllowed  ErrorCode = "GATEWAY_METHOD_NOT_ALLOWED"
	CodeBadRequest        ErrorCode = "GATEWAY_BAD_REQUEST"
	CodeInternal          ErrorCode = "GATEWAY_INTERNAL_ERROR"
	CodeAuthMissingToken  ErrorCode = "GATEWAY_AUTH_MISSING_TOKEN"
	CodeAuthInvalidToken  ErrorCode = "GATEWAY_AUTH_INVALID_TOKEN"
)

// TransportError indicates the HTTP request never produced a response:
// DNS failure, connection refused or reset, TLS handshake failure.
type TransportError struct {
	Service string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Service, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamError indicates the provider answered with a non-2xx status.
// Body holds a truncated copy of the response body for diagnostics.
type UpstreamError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream returned %d", e.Service, e.StatusCode)
}

// Retryable reports whether the status is worth retrying: 5xx and 429 are
// transient, any other 4xx means the request itself is wrong.
func (e *UpstreamError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// RateLimitedError indicates either an upstream 429 or local budget
// exhaustion detected before dispatch.
type RateLimitedError struct {
	Service string
	ResetAt time.Time
}

func (e *RateLimitedError) Error() string {
	if e.ResetAt.IsZero() {
		return fmt.Sprintf("%s: rate limited", e.Service)
	}
	return fmt.Sprintf("%s: rate limited until %s", e.Service, e.ResetAt.UTC().Format(time.RFC3339))
}

// CircuitOpenError indicates the breaker short-circuited the call; no
// network attempt was made. Surfaced distinctly so the UI can render
// "service degraded" instead of a generic failure.
type CircuitOpenError struct {
	Service string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("%s: circuit breaker open", e.Service)
}

// MalformedResponseError indicates a response body that could not be decoded,
// for example missing sentinel markers or an empty data block on the
// ephemeris service. When some fields were recoverable, Partial carries them so callers
// can render what is available.
type MalformedResponseError struct {
	Service string
	Reason  string
	Partial any
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %s", e.Service, e.Reason)
}

// TimeoutError indicates a per-call deadline fired. Timeouts are retryable:
// a hang is converted into a transient failure.
type TimeoutError struct {
	Service string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Service, e.After)
}

// ErrorResponse is the standardized gateway error body.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Pre-serialized JSON bodies for the most common error responses.
// Avoids json.Encoder allocation on every error in the hot path.
// These do NOT include request_id since it varies per request.
var (
	preNotFound    = mustMarshal(http.StatusNotFound, CodeNotFound, "no matching route")
	preCircuitOpen = mustMarshal(http.StatusServiceUnavailable, CodeCircuitOpen, "upstream circuit breaker open")
	preRateLimited = mustMarshal(http.StatusTooManyRequests, CodeRateLimited, "rate budget exhausted, retry later")
	preTimeout     = mustMarshal(http.StatusGatewayTimeout, CodeTimeout, "upstream call timed out")
)

func mustMarshal(status int, code ErrorCode, message string) []byte {
	b, _ := json.Marshal(ErrorResponse{
		Error:     http.StatusText(status),
		ErrorCode: string(code),
		Message:   message,
	})
	return append(b, '\n')
}

// WriteJSON writes a structured JSON error response. For common error
// code+message combinations, pre-serialized bodies are used (no allocation).
// When request_id is available (from X-Request-ID header), it is included in
// the response. The request parameter may be nil for contexts where the
// request is not available.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, code ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	requestID := ""
	if r != nil {
		requestID = r.Header.Get("X-Request-ID")
	}

	if requestID == "" {
		if body := preSerialized(status, code, message); body != nil {
			w.Write(body) //nolint:errcheck
			return
		}
	}

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:     http.StatusText(status),
		ErrorCode: string(code),
		Message:   message,
		RequestID: requestID,
	})
}

// preSerialized returns a pre-built response body for common error
// combinations, or nil if no match.
func preSerialized(status int, code ErrorCode, message string) []byte {
	switch {
	case code == CodeNotFound && status == http.StatusNotFound && message == "no matching route":
		return preNotFound
	case code == CodeCircuitOpen && status == http.StatusServiceUnavailable && message == "upstream circuit breaker open":
		return preCircuitOpen
	case code == CodeRateLimited && status == http.StatusTooManyRequests && message == "rate budget exhausted, retry later":
		return preRateLimited
	case code == CodeTimeout && status == http.StatusGatewayTimeout && message == "upstream call timed out":
		return preTimeout
	}
	return nil
}
