// Package config provides YAML configuration loading with validation and
// environment variable substitution for the data gateway.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Auth     AuthConfig     `yaml:"auth" json:"auth"`
	Admin    AdminConfig    `yaml:"admin" json:"admin"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Services ServicesConfig `yaml:"services" json:"services"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the hot-reload goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
// Enabled defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	GlobalTimeoutMs int           `yaml:"global_timeout_ms" json:"global_timeout_ms"`
}

// GlobalTimeout returns the global request deadline as a time.Duration.
// Returns 0 (disabled) when GlobalTimeoutMs is not set.
func (s ServerConfig) GlobalTimeout() time.Duration {
	if s.GlobalTimeoutMs <= 0 {
		return 0
	}
	return time.Duration(s.GlobalTimeoutMs) * time.Millisecond
}

// LoggingConfig holds log output and rotation settings.
type LoggingConfig struct {
	Output     string `yaml:"output" json:"output"`           // "stdout", "stderr", or file path; default: "stdout"
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"` // max log file size before rotation; default: 100
	MaxBackups int    `yaml:"max_backups" json:"max_backups"` // number of rotated files to keep; default: 3
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

// AuthConfig holds JWT bearer authentication for the dashboard API.
// When enabled, requests under ProtectedPrefixes must carry a valid token.
type AuthConfig struct {
	Enabled           bool     `yaml:"enabled" json:"enabled"`
	JWTSecret         string   `yaml:"jwt_secret" json:"jwt_secret"`
	Issuer            string   `yaml:"issuer" json:"issuer"`
	Audience          string   `yaml:"audience" json:"audience"`
	ProtectedPrefixes []string `yaml:"protected_prefixes" json:"protected_prefixes"`
}

// AdminConfig holds admin API settings.
type AdminConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`           // default: false
	IPAllowlist []string `yaml:"ip_allowlist" json:"ip_allowlist"` // CIDR notation
}

// CacheConfig holds response cache housekeeping settings.
type CacheConfig struct {
	JanitorInterval time.Duration `yaml:"janitor_interval" json:"janitor_interval"`
}

// ServicesConfig names the four upstream families the gateway talks to.
type ServicesConfig struct {
	Agency    ServiceConfig `yaml:"agency" json:"agency"`
	SmallBody ServiceConfig `yaml:"smallbody" json:"smallbody"`
	DSN       ServiceConfig `yaml:"dsn" json:"dsn"`
	Horizons  ServiceConfig `yaml:"horizons" json:"horizons"`
}

// All returns the per-service configs keyed by service name.
func (s *ServicesConfig) All() map[string]*ServiceConfig {
	return map[string]*ServiceConfig{
		"agency":    &s.Agency,
		"smallbody": &s.SmallBody,
		"dsn":       &s.DSN,
		"horizons":  &s.Horizons,
	}
}

// ServiceConfig holds everything needed to talk to one upstream family.
type ServiceConfig struct {
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	APIKey    string        `yaml:"api_key" json:"api_key,omitempty"`
	TimeoutMs int           `yaml:"timeout_ms" json:"timeout_ms"`
	Budget    BudgetConfig  `yaml:"budget" json:"budget"`
	Breaker   BreakerConfig `yaml:"breaker" json:"breaker"`
	Retry     RetryConfig   `yaml:"retry" json:"retry"`
	Cache     EntryConfig   `yaml:"cache" json:"cache"`
}

// Timeout returns the per-call deadline as a time.Duration.
func (s ServiceConfig) Timeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return 12 * time.Second
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// BudgetConfig holds the fixed-window rate budget and dispatch pacing for
// one upstream service. Capacity 0 disables budget enforcement (services
// with no published limit still get pacing).
type BudgetConfig struct {
	Capacity    int           `yaml:"capacity" json:"capacity"`
	Window      time.Duration `yaml:"window" json:"window"`
	PacingDelay time.Duration `yaml:"pacing_delay" json:"pacing_delay"`
	QueueSize   int           `yaml:"queue_size" json:"queue_size"`
}

// BreakerConfig holds circuit breaker settings for one upstream service.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown" json:"cooldown"`
	SlowThreshold    time.Duration `yaml:"slow_threshold" json:"slow_threshold"`
	MaxConcurrent    int           `yaml:"max_concurrent" json:"max_concurrent"`
}

// RetryConfig holds bounded exponential backoff settings.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier  float64       `yaml:"multiplier" json:"multiplier"`
}

// EntryConfig holds cache freshness settings for one service's responses.
type EntryConfig struct {
	TTL         time.Duration `yaml:"ttl" json:"ttl"`
	StaleWindow time.Duration `yaml:"stale_window" json:"stale_window"`
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution, sets defaults, and validates the result.
// Warnings are stored on cfg.Warnings (goroutine-safe, no package-level state).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for testing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Logging defaults
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}

	if cfg.Cache.JanitorInterval == 0 {
		cfg.Cache.JanitorInterval = 5 * time.Minute
	}

	// Upstream defaults. The agency API publishes 1000 calls/hour; 950
	// leaves headroom for other consumers of the same key.
	applyServiceDefaults(&cfg.Services.Agency, "https://api.nasa.gov", 950, time.Hour, 10*time.Minute)
	applyServiceDefaults(&cfg.Services.SmallBody, "https://ssd-api.jpl.nasa.gov", 0, 0, 30*time.Minute)
	applyServiceDefaults(&cfg.Services.DSN, "https://eyes.nasa.gov/dsn", 0, 0, time.Minute)
	applyServiceDefaults(&cfg.Services.Horizons, "https://ssd.jpl.nasa.gov/api", 0, 0, 15*time.Minute)
}

func applyServiceDefaults(s *ServiceConfig, baseURL string, capacity int, window, ttl time.Duration) {
	if s.BaseURL == "" {
		s.BaseURL = baseURL
	}
	if s.TimeoutMs == 0 {
		s.TimeoutMs = 12000
	}
	if s.Budget.Capacity == 0 {
		s.Budget.Capacity = capacity
	}
	if s.Budget.Window == 0 {
		s.Budget.Window = window
	}
	if s.Budget.PacingDelay == 0 {
		s.Budget.PacingDelay = 100 * time.Millisecond
	}
	if s.Budget.QueueSize == 0 {
		s.Budget.QueueSize = 256
	}
	if s.Breaker.FailureThreshold == 0 {
		s.Breaker.FailureThreshold = 4
	}
	if s.Breaker.Cooldown == 0 {
		s.Breaker.Cooldown = 45 * time.Second
	}
	if s.Retry.MaxAttempts == 0 {
		s.Retry.MaxAttempts = 3
	}
	if s.Retry.BaseDelay == 0 {
		s.Retry.BaseDelay = time.Second
	}
	if s.Retry.MaxDelay == 0 {
		s.Retry.MaxDelay = 30 * time.Second
	}
	if s.Retry.Multiplier == 0 {
		s.Retry.Multiplier = 2
	}
	if s.Cache.TTL == 0 {
		s.Cache.TTL = ttl
	}
	if s.Cache.StaleWindow == 0 {
		s.Cache.StaleWindow = 24 * time.Hour
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.GlobalTimeoutMs < 0 {
		return fmt.Errorf("server.global_timeout_ms must be non-negative")
	}

	if cfg.Auth.Enabled {
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
		}
		if cfg.Auth.Issuer == "" {
			return fmt.Errorf("auth.issuer is required when auth is enabled")
		}
		if cfg.Auth.Audience == "" {
			return fmt.Errorf("auth.audience is required when auth is enabled")
		}
		for i, p := range cfg.Auth.ProtectedPrefixes {
			if !strings.HasPrefix(p, "/") {
				return fmt.Errorf("auth.protected_prefixes[%d] must start with /", i)
			}
		}
	}

	// Admin validation
	if cfg.Admin.Enabled {
		if len(cfg.Admin.IPAllowlist) == 0 {
			return fmt.Errorf("admin.ip_allowlist is required when admin is enabled")
		}
		for i, cidr := range cfg.Admin.IPAllowlist {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("admin.ip_allowlist[%d]: invalid CIDR %q: %w", i, cidr, err)
			}
		}
	}

	// Logging validation
	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}

	for name, svc := range cfg.Services.All() {
		if err := validateService(name, svc); err != nil {
			return err
		}
	}

	return nil
}

func validateService(name string, s *ServiceConfig) error {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return fmt.Errorf("services.%s.base_url: invalid URL: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("services.%s.base_url: scheme must be http or https, got %q", name, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("services.%s.base_url: host is required", name)
	}
	if s.Budget.Capacity < 0 {
		return fmt.Errorf("services.%s.budget.capacity must be non-negative", name)
	}
	if s.Budget.Capacity > 0 && s.Budget.Window <= 0 {
		return fmt.Errorf("services.%s.budget.window must be positive when capacity is set", name)
	}
	if s.Budget.PacingDelay < 0 {
		return fmt.Errorf("services.%s.budget.pacing_delay must be non-negative", name)
	}
	if s.Budget.QueueSize < 1 {
		return fmt.Errorf("services.%s.budget.queue_size must be positive", name)
	}
	if s.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("services.%s.breaker.failure_threshold must be positive", name)
	}
	if s.Breaker.Cooldown <= 0 {
		return fmt.Errorf("services.%s.breaker.cooldown must be positive", name)
	}
	if s.Breaker.SlowThreshold < 0 {
		return fmt.Errorf("services.%s.breaker.slow_threshold must be non-negative", name)
	}
	if s.Breaker.MaxConcurrent < 0 {
		return fmt.Errorf("services.%s.breaker.max_concurrent must be non-negative", name)
	}
	if s.Retry.MaxAttempts < 1 {
		return fmt.Errorf("services.%s.retry.max_attempts must be positive", name)
	}
	if s.Retry.BaseDelay <= 0 {
		return fmt.Errorf("services.%s.retry.base_delay must be positive", name)
	}
	if s.Retry.MaxDelay < s.Retry.BaseDelay {
		return fmt.Errorf("services.%s.retry.max_delay must be >= base_delay", name)
	}
	if s.Retry.Multiplier < 1 {
		return fmt.Errorf("services.%s.retry.multiplier must be >= 1", name)
	}
	if s.Cache.TTL <= 0 {
		return fmt.Errorf("services.%s.cache.ttl must be positive", name)
	}
	if s.Cache.StaleWindow < 0 {
		return fmt.Errorf("services.%s.cache.stale_window must be non-negative", name)
	}
	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	if cfg.Auth.Enabled && strings.Contains(cfg.Auth.JWTSecret, "${") {
		warnings = append(warnings, "auth.jwt_secret contains unresolved environment variable")
	}
	if strings.Contains(cfg.Services.Agency.APIKey, "${") {
		warnings = append(warnings, "services.agency.api_key contains unresolved environment variable")
	}
	if cfg.Services.Agency.APIKey == "" || cfg.Services.Agency.APIKey == "DEMO_KEY" {
		warnings = append(warnings, "services.agency.api_key is unset or DEMO_KEY; the demo key has a much smaller hourly budget")
	}
	return warnings
}
