package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/orbitdash/gateway/internal/apierror"
	"github.com/orbitdash/gateway/internal/metrics"
)

// maxBodyBytes caps upstream response reads. Rover photo manifests are the
// largest payloads we see and stay well under this.
const maxBodyBytes = 8 << 20

// errBodySnippet bounds how much upstream body ends up inside error values.
const errBodySnippet = 512

// get performs one HTTP GET against the service's base URL and maps every
// failure into the typed error taxonomy. The per-call deadline converts a
// hang into a retryable TimeoutError. The agency API key, when configured,
// is added as a query parameter.
func (s *service) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	cfg := s.snapshot()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()

	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + path)
	if err != nil {
		return nil, &apierror.TransportError{Service: s.name, Err: err}
	}
	if query == nil {
		query = url.Values{}
	}
	if cfg.APIKey != "" {
		query.Set("api_key", cfg.APIKey)
	}
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &apierror.TransportError{Service: s.name, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	metrics.UpstreamDuration.WithLabelValues(s.name).Observe(latency.Seconds())

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.UpstreamRequestsTotal.WithLabelValues(s.name, "timeout").Inc()
			return nil, &apierror.TimeoutError{Service: s.name, After: cfg.Timeout()}
		}
		metrics.UpstreamRequestsTotal.WithLabelValues(s.name, "transport_error").Inc()
		return nil, &apierror.TransportError{Service: s.name, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.UpstreamRequestsTotal.WithLabelValues(s.name, "timeout").Inc()
			return nil, &apierror.TimeoutError{Service: s.name, After: cfg.Timeout()}
		}
		metrics.UpstreamRequestsTotal.WithLabelValues(s.name, "transport_error").Inc()
		return nil, &apierror.TransportError{Service: s.name, Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		metrics.UpstreamRequestsTotal.WithLabelValues(s.name, "rate_limited").Inc()
		return nil, &apierror.RateLimitedError{Service: s.name, ResetAt: retryAfter(resp)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.UpstreamRequestsTotal.WithLabelValues(s.name, "upstream_error").Inc()
		return nil, &apierror.UpstreamError{
			Service:    s.name,
			StatusCode: resp.StatusCode,
			Body:       snippet(body),
		}
	}

	metrics.UpstreamRequestsTotal.WithLabelValues(s.name, "success").Inc()
	return body, nil
}

// retryAfter derives an absolute reset time from a Retry-After header when
// the upstream provides one.
func retryAfter(resp *http.Response) time.Time {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return time.Time{}
	}
	if secs, err := time.ParseDuration(h + "s"); err == nil {
		return time.Now().Add(secs)
	}
	if t, err := http.ParseTime(h); err == nil {
		return t
	}
	return time.Time{}
}

func snippet(body []byte) string {
	if len(body) > errBodySnippet {
		body = body[:errBodySnippet]
	}
	return string(body)
}
