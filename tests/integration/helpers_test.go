//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/orbitdash/gateway/internal/admin"
	"github.com/orbitdash/gateway/internal/auth"
	"github.com/orbitdash/gateway/internal/config"
	"github.com/orbitdash/gateway/internal/gateway"
	"github.com/orbitdash/gateway/internal/health"
	"github.com/orbitdash/gateway/internal/middleware"
	"github.com/orbitdash/gateway/internal/server"
)

const (
	jwtSecret = "integration-test-secret-key-32chars!!"
	jwtIssuer = "https://auth.example.com"
	jwtAud    = "orbit-dashboard"
)

// stack is a fully assembled gateway wired to an in-process mock upstream.
type stack struct {
	gateway  *httptest.Server
	upstream *upstreamServer
	client   *gateway.Client
}

// upstreamServer is a controllable stand-in for all four upstream families.
type upstreamServer struct {
	srv     *httptest.Server
	failing bool
}

func newUpstream() *upstreamServer {
	u := &upstreamServer{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u.failing {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		switch {
		case strings.HasPrefix(r.URL.Path, "/planetary/apod"):
			json.NewEncoder(w).Encode(map[string]string{
				"date": "2026-08-31", "title": "Earthrise", "url": "https://img", "media_type": "image",
			})
		case strings.HasPrefix(r.URL.Path, "/cad.api"):
			json.NewEncoder(w).Encode(map[string]any{
				"count":  1,
				"fields": []string{"des", "cd", "dist", "v_rel", "h"},
				"data":   [][]any{{"2024 AB", "2026-Sep-01 12:00", "0.0231", "14.2", "22.1"}},
			})
		case strings.HasPrefix(r.URL.Path, "/status.json"):
			json.NewEncoder(w).Encode(map[string]any{
				"stations": []map[string]any{{"name": "gdscc", "friendlyName": "Goldstone"}},
			})
		case strings.HasPrefix(r.URL.Path, "/horizons.api"):
			result := "$$SOE\n" +
				"2462000.500000000 = A.D. 2026-Aug-31 00:00:00.0000 TDB\n" +
				" X = 1.2345E+07 Y =-2.3456E+07 Z = 1.0E+05\n" +
				" VX= 1.0 VY= 2.0 VZ= 0.5\n" +
				"$$EOE\n"
			json.NewEncoder(w).Encode(map[string]string{"result": result})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return u
}

// newStack assembles the gateway the same way cmd/gateway does, minus the
// process-level pieces (signals, config reload watcher).
func newStack(t *testing.T, authEnabled bool) *stack {
	t.Helper()

	upstream := newUpstream()
	t.Cleanup(upstream.srv.Close)

	cfg, err := config.LoadFromBytes([]byte(``))
	if err != nil {
		t.Fatal(err)
	}
	for _, svc := range cfg.Services.All() {
		svc.BaseURL = upstream.srv.URL
		svc.TimeoutMs = 2000
		svc.Budget = config.BudgetConfig{Capacity: 100, Window: time.Hour, QueueSize: 16}
		svc.Retry = config.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
	}
	cfg.Cache.JanitorInterval = 0
	cfg.Auth = config.AuthConfig{
		Enabled:           authEnabled,
		JWTSecret:         jwtSecret,
		Issuer:            jwtIssuer,
		Audience:          jwtAud,
		ProtectedPrefixes: []string{"/api"},
	}
	cfg.Admin = config.AdminConfig{Enabled: true, IPAllowlist: []string{"127.0.0.1/32", "::1/128"}}

	logger := slog.Default()
	client := gateway.New(cfg, logger)
	t.Cleanup(client.Stop)

	apiMux := http.NewServeMux()
	server.New(client, logger).RegisterRoutes(apiMux)

	var handler http.Handler = apiMux
	handler = auth.Middleware(cfg.Auth, logger)(handler)
	handler = middleware.CORS(middleware.DefaultCORSConfig())(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.SecurityHeaders()(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)

	bypassMux := http.NewServeMux()
	health.New(client, logger).RegisterRoutes(bypassMux)
	admin.New(&staticConfig{cfg}, client, cfg.Admin.IPAllowlist, logger).RegisterRoutes(bypassMux)

	root := http.NewServeMux()
	root.Handle("/health", bypassMux)
	root.Handle("/ready", bypassMux)
	root.Handle("/admin/", bypassMux)
	root.Handle("/", handler)

	gw := httptest.NewServer(root)
	t.Cleanup(gw.Close)

	return &stack{gateway: gw, upstream: upstream, client: client}
}

type staticConfig struct {
	cfg *config.Config
}

func (s *staticConfig) Current() *config.Config { return s.cfg }

var httpClient = &http.Client{Timeout: 10 * time.Second}

func generateJWT(sub string, expiry time.Duration) string {
	claims := jwt.MapClaims{
		"sub": sub,
		"iss": jwtIssuer,
		"aud": jwtAud,
		"exp": time.Now().Add(expiry).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		panic(fmt.Sprintf("generateJWT: %v", err))
	}
	return s
}

func httpGet(url string, headers map[string]string) (*http.Response, []byte, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	return resp, data, err
}

func authHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func parseJSON(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("failed to parse JSON %q: %v", string(data), err)
	}
	return m
}

func assertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertBodyContains(t *testing.T, body []byte, substr string) {
	t.Helper()
	if !strings.Contains(string(body), substr) {
		t.Errorf("expected body to contain %q, got %q", substr, string(body))
	}
}

func assertHeaderPresent(t *testing.T, resp *http.Response, key string) {
	t.Helper()
	if resp.Header.Get(key) == "" {
		t.Errorf("expected header %s to be present", key)
	}
}
