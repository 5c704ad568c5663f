package config

import "testing"

func FuzzLoadFromBytes(f *testing.F) {
	// Seed corpus: valid configs
	f.Add([]byte(``))
	f.Add([]byte(`
server:
  port: 9090
services:
  agency:
    base_url: http://localhost:3001
    budget:
      capacity: 10
      window: 1m
`))
	f.Add([]byte(`
auth:
  enabled: true
  jwt_secret: secret
  issuer: iss
  audience: aud
  protected_prefixes: ["/api/status"]
admin:
  enabled: true
  ip_allowlist: ["127.0.0.1/32"]
`))

	// Edge cases
	f.Add([]byte(`server: { port: 0 }`))
	f.Add([]byte(`services: { agency: { api_key: "${UNSET_VAR}" } }`))
	f.Add([]byte(`services: { horizons: { breaker: { failure_threshold: -1 } } }`))

	f.Fuzz(func(t *testing.T, data []byte) {
		// LoadFromBytes must never panic regardless of input.
		cfg, err := LoadFromBytes(data)
		if err != nil {
			return
		}
		// If parsing succeeded, verify invariants that validation should enforce.
		if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
			t.Errorf("invalid port escaped validation: %d", cfg.Server.Port)
		}
		for name, svc := range cfg.Services.All() {
			if svc.Budget.Capacity < 0 {
				t.Errorf("%s: negative capacity escaped validation", name)
			}
			if svc.Breaker.FailureThreshold < 1 {
				t.Errorf("%s: non-positive failure threshold escaped validation", name)
			}
			if svc.Retry.MaxAttempts < 1 {
				t.Errorf("%s: non-positive max attempts escaped validation", name)
			}
		}
	})
}
