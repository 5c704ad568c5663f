package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orbitdash/gateway/internal/apierror"
	"github.com/orbitdash/gateway/internal/circuitbreaker"
	"github.com/orbitdash/gateway/internal/config"
)

// testClient builds a Client whose four services all point at the given
// upstream URL, with fast retries and generous budgets unless the caller
// tightens them afterwards via UpdateConfig.
func testClient(t *testing.T, upstreamURL string) *Client {
	t.Helper()

	cfg, err := config.LoadFromBytes([]byte(``))
	if err != nil {
		t.Fatal(err)
	}
	for _, svc := range cfg.Services.All() {
		svc.BaseURL = upstreamURL
		svc.TimeoutMs = 2000
		svc.Budget = config.BudgetConfig{Capacity: 100, Window: time.Hour, QueueSize: 16}
		svc.Breaker = config.BreakerConfig{FailureThreshold: 100, Cooldown: time.Hour}
		svc.Retry = config.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
		svc.Cache = config.EntryConfig{TTL: time.Hour, StaleWindow: 24 * time.Hour}
	}
	cfg.Cache.JanitorInterval = 0

	c := New(cfg, slog.Default())
	t.Cleanup(c.Stop)
	return c
}

func TestGetAPOD_FetchAndCache(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/planetary/apod" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"date": "2026-08-31", "title": "Saturn", "url": "https://img", "media_type": "image",
		})
	}))
	defer upstream.Close()

	c := testClient(t, upstream.URL)

	apod, stale, err := c.GetAPOD(context.Background())
	if err != nil {
		t.Fatalf("GetAPOD() error: %v", err)
	}
	if stale {
		t.Fatal("first fetch must not be stale")
	}
	if apod.Title != "Saturn" {
		t.Fatalf("title = %q", apod.Title)
	}

	// Second call is served from cache: no upstream call, no budget spent.
	before, _, _ := c.services[ServiceAgency].sched.Status()
	if _, _, err := c.GetAPOD(context.Background()); err != nil {
		t.Fatalf("cached GetAPOD() error: %v", err)
	}
	after, _, _ := c.services[ServiceAgency].sched.Status()

	if got := calls.Load(); got != 1 {
		t.Fatalf("upstream calls = %d, want 1", got)
	}
	if before != after {
		t.Fatalf("cache hit consumed budget: %d -> %d", before, after)
	}
}

func TestGetAPOD_APIKeyForwarded(t *testing.T) {
	var gotKey atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey.Store(r.URL.Query().Get("api_key"))
		json.NewEncoder(w).Encode(map[string]string{"title": "x"})
	}))
	defer upstream.Close()

	c := testClient(t, upstream.URL)
	c.services[ServiceAgency].mu.Lock()
	c.services[ServiceAgency].cfg.APIKey = "test-key"
	c.services[ServiceAgency].mu.Unlock()

	if _, _, err := c.GetAPOD(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gotKey.Load() != "test-key" {
		t.Fatalf("api_key = %v", gotKey.Load())
	}
}

func TestGetAPOD_CancelledCallerDoesNotFailCoalescedWaiter(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		close(started)
		<-release
		json.NewEncoder(w).Encode(map[string]string{"title": "shared"})
	}))
	defer upstream.Close()

	c := testClient(t, upstream.URL)

	ownerCtx, cancel := context.WithCancel(context.Background())
	ownerErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetAPOD(ownerCtx)
		ownerErr <- err
	}()
	<-started

	type outcome struct {
		apod *APOD
		err  error
	}
	waiter := make(chan outcome, 1)
	go func() {
		apod, _, err := c.GetAPOD(context.Background())
		waiter <- outcome{apod, err}
	}()

	// Let the waiter join the in-flight fetch, then cancel its initiator.
	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := <-ownerErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller err = %v, want context.Canceled", err)
	}
	close(release)

	got := <-waiter
	if got.err != nil {
		t.Fatalf("coalesced waiter err = %v, want shared result", got.err)
	}
	if got.apod.Title != "shared" {
		t.Fatalf("title = %q", got.apod.Title)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("upstream calls = %d, want 1", n)
	}

	// The completed fetch was cached despite the initiator's cancellation.
	if _, _, err := c.GetAPOD(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("upstream calls after cached read = %d, want 1", n)
	}
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"title": "recovered"})
	}))
	defer upstream.Close()

	c := testClient(t, upstream.URL)

	apod, _, err := c.GetAPOD(context.Background())
	if err != nil {
		t.Fatalf("GetAPOD() error: %v", err)
	}
	if apod.Title != "recovered" {
		t.Fatalf("title = %q", apod.Title)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("upstream calls = %d, want 2 (one retry)", got)
	}
}

func TestFetch_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	c := testClient(t, upstream.URL)

	_, _, err := c.GetRoverPhotos(context.Background(), "nope", 1000)
	var ue *apierror.UpstreamError
	if !errors.As(err, &ue) || ue.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 UpstreamError, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("upstream calls = %d, want 1 (4xx not retried)", got)
	}
}

func TestFetch_RateLimitedSurfaces(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer upstream.Close()

	c := testClient(t, upstream.URL)

	_, _, err := c.GetAPOD(context.Background())
	var rl *apierror.RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rl.Service != ServiceAgency {
		t.Fatalf("service = %q", rl.Service)
	}
}

func TestFetch_StaleServedOnUpstreamFailure(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"title": "cached-era"})
	}))
	defer upstream.Close()

	c := testClient(t, upstream.URL)

	if _, _, err := c.GetAPOD(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Age the entry past its TTL but inside the stale window, then make the
	// upstream fail. The caller still gets data, flagged stale.
	s := c.services[ServiceAgency]
	s.store.Set("agency:apod", &APOD{Title: "cached-era"}, -time.Hour, 24*time.Hour)
	healthy.Store(false)

	apod, stale, err := c.GetAPOD(context.Background())
	if err != nil {
		t.Fatalf("GetAPOD() with stale entry: %v", err)
	}
	if !stale {
		t.Fatal("expected stale flag on degraded fetch")
	}
	if apod.Title != "cached-era" {
		t.Fatalf("title = %q", apod.Title)
	}
}

func TestFetch_MissPlusFailureIsTypedError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	c := testClient(t, upstream.URL)

	_, _, err := c.GetDSNStatus(context.Background())
	var ue *apierror.UpstreamError
	if !errors.As(err, &ue) || ue.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 UpstreamError on cache miss, got %v", err)
	}
}

func TestFetch_CircuitOpenShortCircuits(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	c := testClient(t, upstream.URL)

	// Tighten the breaker: a single failed dispatch opens it.
	s := c.services[ServiceDSN]
	s.breaker = circuitbreaker.NewComposite(ServiceDSN, circuitbreaker.Config{
		FailureThreshold: 1,
		Cooldown:         time.Hour,
	}, slog.Default())

	if _, _, err := c.GetDSNStatus(context.Background()); err == nil {
		t.Fatal("expected failure")
	}
	before := calls.Load()

	// Evict so the next call is a miss and must go through the breaker.
	s.store.Delete("dsn:status")

	_, _, err := c.GetDSNStatus(context.Background())
	var ce *apierror.CircuitOpenError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
	if calls.Load() != before {
		t.Fatal("open circuit must not dispatch upstream calls")
	}
}

func TestGetCloseApproaches_ColumnarDecode(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"count":  2,
			"fields": []string{"des", "cd", "dist", "v_rel", "h"},
			"data": [][]any{
				{"2024 AB", "2026-Sep-01 12:00", "0.0231", "14.2", "22.1"},
				{"433 Eros", "2026-Sep-03 04:30", "not-a-number", nil, 10.4},
			},
		})
	}))
	defer upstream.Close()

	c := testClient(t, upstream.URL)

	events, _, err := c.GetCloseApproaches(context.Background(), CloseApproachQuery{DateMin: "now", DateMax: "+60"})
	if err != nil {
		t.Fatalf("GetCloseApproaches() error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}

	if events[0].Designation != "2024 AB" {
		t.Fatalf("designation = %q", events[0].Designation)
	}
	if events[0].DistanceAU == nil || *events[0].DistanceAU != 0.0231 {
		t.Fatalf("distance = %v", events[0].DistanceAU)
	}

	// Unparsable and missing values stay nil, never zero.
	if events[1].DistanceAU != nil {
		t.Fatalf("unparsable distance = %v, want nil", *events[1].DistanceAU)
	}
	if events[1].VelocityKmPerSec != nil {
		t.Fatal("null velocity must stay nil")
	}
	// JSON numbers are accepted alongside strings.
	if events[1].AbsoluteMagnitude == nil || *events[1].AbsoluteMagnitude != 10.4 {
		t.Fatalf("magnitude = %v", events[1].AbsoluteMagnitude)
	}
}

func TestDecodeCloseApproaches_EdgeCases(t *testing.T) {
	events, err := decodeCloseApproaches("smallbody", []byte(`{"count":"0"}`))
	if err != nil {
		t.Fatalf("empty result: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("events = %d, want 0", len(events))
	}

	_, err = decodeCloseApproaches("smallbody", []byte(`{"data":[["x"]]}`))
	var me *apierror.MalformedResponseError
	if !errors.As(err, &me) {
		t.Fatalf("expected MalformedResponseError for data without fields, got %v", err)
	}

	_, err = decodeCloseApproaches("smallbody", []byte(`<html>`))
	if !errors.As(err, &me) {
		t.Fatalf("expected MalformedResponseError for non-JSON, got %v", err)
	}
}

func TestGetDSNStatus_Decode(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"stations": []map[string]any{{
				"name":         "gdscc",
				"friendlyName": "Goldstone",
				"dishes": []map[string]any{
					{
						"name":           "DSS24",
						"azimuthAngle":   123.4,
						"elevationAngle": 45.6,
						"targets":        []map[string]any{{"name": "VGR1"}},
					},
					{"name": "DSS14"},
				},
			}},
		})
	}))
	defer upstream.Close()

	c := testClient(t, upstream.URL)

	status, _, err := c.GetDSNStatus(context.Background())
	if err != nil {
		t.Fatalf("GetDSNStatus() error: %v", err)
	}
	if len(status.Stations) != 1 || status.Stations[0].FriendlyName != "Goldstone" {
		t.Fatalf("stations = %+v", status.Stations)
	}

	dishes := status.Stations[0].Dishes
	if len(dishes) != 2 {
		t.Fatalf("dishes = %d", len(dishes))
	}
	if dishes[0].AzimuthDeg == nil || *dishes[0].AzimuthDeg != 123.4 {
		t.Fatalf("azimuth = %v", dishes[0].AzimuthDeg)
	}
	if dishes[0].Targets[0] != "VGR1" {
		t.Fatalf("targets = %v", dishes[0].Targets)
	}
	// Idle dish reports no pointing angles.
	if dishes[1].AzimuthDeg != nil || dishes[1].ElevationDeg != nil {
		t.Fatal("idle dish angles must stay nil")
	}
}

func TestGetSpacecraftPosition_ParsesEnvelope(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("EPHEM_TYPE"); got != "VECTORS" {
			t.Errorf("EPHEM_TYPE = %q", got)
		}
		result := "$$SOE\n" +
			"2462000.500000000 = A.D. 2026-Aug-31 00:00:00.0000 TDB\n" +
			" X = 1.2345E+07 Y =-2.3456E+07 Z = 1.0E+05\n" +
			" VX= 1.0 VY= 2.0 VZ= 0.5\n" +
			"$$EOE\n"
		json.NewEncoder(w).Encode(map[string]string{"result": result})
	}))
	defer upstream.Close()

	c := testClient(t, upstream.URL)

	pos, _, err := c.GetSpacecraftPosition(context.Background(), "-31")
	if err != nil {
		t.Fatalf("GetSpacecraftPosition() error: %v", err)
	}
	if pos.PositionKm == nil || pos.PositionKm.X != 1.2345e7 {
		t.Fatalf("position = %+v", pos.PositionKm)
	}
	if pos.DistanceKm == nil || pos.LightTimeSeconds == nil || pos.CommunicationDelayRoundTripSeconds == nil {
		t.Fatal("expected derived fields")
	}
	if *pos.CommunicationDelayRoundTripSeconds != 2**pos.LightTimeSeconds {
		t.Fatal("round trip delay must be twice the light time")
	}
}

func TestGetOrbitalElements_MalformedTextIsTyped(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"result": "API error: no ephemeris for target"})
	}))
	defer upstream.Close()

	c := testClient(t, upstream.URL)

	_, _, err := c.GetOrbitalElements(context.Background(), "90000033")
	var me *apierror.MalformedResponseError
	if !errors.As(err, &me) {
		t.Fatalf("expected MalformedResponseError, got %v", err)
	}
	if me.Service != ServiceHorizons {
		t.Fatalf("service = %q, want re-tagged horizons", me.Service)
	}
}

func TestFetch_TimeoutIsTyped(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer upstream.Close()

	c := testClient(t, upstream.URL)
	s := c.services[ServiceDSN]
	s.mu.Lock()
	s.cfg.TimeoutMs = 50
	s.cfg.Retry.MaxAttempts = 1
	s.mu.Unlock()

	_, _, err := c.GetDSNStatus(context.Background())
	var to *apierror.TimeoutError
	if !errors.As(err, &to) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
}

func TestFetch_TransportErrorIsTyped(t *testing.T) {
	c := testClient(t, "http://127.0.0.1:1") // nothing listens here

	s := c.services[ServiceDSN]
	s.mu.Lock()
	s.cfg.Retry.MaxAttempts = 1
	s.mu.Unlock()

	_, _, err := c.GetDSNStatus(context.Background())
	var te *apierror.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestUpdateConfig_AppliesNewBudget(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"title": "x"})
	}))
	defer upstream.Close()

	c := testClient(t, upstream.URL)

	cfg, err := config.LoadFromBytes([]byte(``))
	if err != nil {
		t.Fatal(err)
	}
	for _, svc := range cfg.Services.All() {
		svc.BaseURL = upstream.URL
		svc.Budget = config.BudgetConfig{Capacity: 77, Window: time.Hour, QueueSize: 16}
	}
	c.UpdateConfig(cfg)

	st, err := c.RateLimitStatus(ServiceAgency)
	if err != nil {
		t.Fatal(err)
	}
	if st.Limit != 77 {
		t.Fatalf("limit = %d, want 77", st.Limit)
	}
}

func TestRateLimitStatus_UnknownService(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	c := testClient(t, upstream.URL)
	if _, err := c.RateLimitStatus("mystery"); err == nil {
		t.Fatal("expected error for unknown service")
	}
	if _, err := c.CircuitState("mystery"); err == nil {
		t.Fatal("expected error for unknown service")
	}
}
