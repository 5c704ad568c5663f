package apierror

import (
	"errors"
	"net/http"
)

// IsRetryable reports whether err represents a transient failure worth
// retrying: transport failures, timeouts, rate limiting, and upstream 5xx.
// A non-429 4xx is not transient; the request itself is malformed.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var to *TimeoutError
	if errors.As(err, &to) {
		return true
	}
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return true
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Retryable()
	}
	return false
}

// HTTPStatus maps a gateway error to the status code and error code the
// HTTP surface should report for it.
func HTTPStatus(err error) (int, ErrorCode) {
	var ce *CircuitOpenError
	if errors.As(err, &ce) {
		return http.StatusServiceUnavailable, CodeCircuitOpen
	}
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return http.StatusTooManyRequests, CodeRateLimited
	}
	var to *TimeoutError
	if errors.As(err, &to) {
		return http.StatusGatewayTimeout, CodeTimeout
	}
	var me *MalformedResponseError
	if errors.As(err, &me) {
		return http.StatusBadGateway, CodeMalformedResponse
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		if ue.StatusCode >= 400 && ue.StatusCode < 500 && ue.StatusCode != http.StatusTooManyRequests {
			return http.StatusBadRequest, CodeBadRequest
		}
		return http.StatusBadGateway, CodeUpstream
	}
	var te *TransportError
	if errors.As(err, &te) {
		return http.StatusBadGateway, CodeTransport
	}
	return http.StatusInternalServerError, CodeInternal
}
