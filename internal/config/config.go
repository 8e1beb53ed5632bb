package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides. A double underscore
// separates nesting levels: LINTGATE_SERVER__PORT sets server.port.
const EnvPrefix = "LINTGATE_"

// DefaultFile is read when no config path is given.
const DefaultFile = "config.yaml"

type Config struct {
	App       AppConfig       `koanf:"app"`
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Audit     AuditConfig     `koanf:"audit"`
	Auth      AuthConfig      `koanf:"auth"`
	Security  SecurityConfig  `koanf:"security"`
	Cache     CacheConfig     `koanf:"cache"`
	Analyzer  AnalyzerConfig  `koanf:"analyzer"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

type AppConfig struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
	Env     string `koanf:"env"` // production hides key generation
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	RoutePrefix     string        `koanf:"route_prefix"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes"`
}

type LogConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

type AuditConfig struct {
	Path string `koanf:"path"` // empty writes to stdout
}

type AuthConfig struct {
	Enabled        bool              `koanf:"enabled"`
	KeysFile       string            `koanf:"keys_file"`
	Watch          bool              `koanf:"watch"`
	ProtectedPaths []string          `koanf:"protected_paths"`
	PathScopes     map[string]string `koanf:"path_scopes"`
	DefaultScope   string            `koanf:"default_scope"`
	DefaultScopes  []string          `koanf:"default_scopes"`
}

type SecurityConfig struct {
	RateLimit RateLimitConfig   `koanf:"rate_limit"`
	CORS      CORSConfig        `koanf:"cors"`
	Headers   map[string]string `koanf:"headers"`
}

type RateLimitConfig struct {
	Enabled               bool     `koanf:"enabled"`
	RequestsPerMinute     int      `koanf:"requests_per_minute"`
	RequestsPerHour       int      `koanf:"requests_per_hour"`
	AuthRequestsPerMinute int      `koanf:"auth_requests_per_minute"`
	AuthRequestsPerHour   int      `koanf:"auth_requests_per_hour"`
	SensitivePaths        []string `koanf:"sensitive_paths"`
	MaxClients            int      `koanf:"max_clients"`
}

type CORSConfig struct {
	Enabled          bool     `koanf:"enabled"`
	AllowedOrigins   []string `koanf:"allowed_origins"`
	AllowedMethods   []string `koanf:"allowed_methods"`
	AllowedHeaders   []string `koanf:"allowed_headers"`
	ExposeHeaders    []string `koanf:"expose_headers"`
	MaxAge           int      `koanf:"max_age"`
	AllowCredentials bool     `koanf:"allow_credentials"`
}

type CacheConfig struct {
	Enabled bool          `koanf:"enabled"`
	Dir     string        `koanf:"dir"`
	TTL     time.Duration `koanf:"ttl"`
}

type AnalyzerConfig struct {
	PHPCSPath    string        `koanf:"phpcs_path"`
	TempDir      string        `koanf:"temp_dir"`
	Timeout      time.Duration `koanf:"timeout"`
	MaxCodeBytes int           `koanf:"max_code_bytes"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

var defaults = map[string]any{
	"app.name":    "lintgate",
	"app.version": "1.0.0",
	"app.env":     "development",

	"server.port":             8080,
	"server.route_prefix":     "/v1",
	"server.request_timeout":  "60s",
	"server.shutdown_timeout": "10s",
	"server.max_body_bytes":   4 << 20,

	"log.level": "info",

	"auth.enabled":         true,
	"auth.keys_file":       "data/api_keys.json",
	"auth.watch":           true,
	"auth.protected_paths": []string{"/analyze", "/standards", "/cache/*"},
	"auth.path_scopes": map[string]any{
		"/analyze":   "analyze",
		"/standards": "standards",
		"/cache/*":   "admin",
	},
	"auth.default_scope":  "",
	"auth.default_scopes": []string{"analyze", "standards"},

	"security.rate_limit.enabled":                  true,
	"security.rate_limit.requests_per_minute":      60,
	"security.rate_limit.requests_per_hour":        1000,
	"security.rate_limit.auth_requests_per_minute": 10,
	"security.rate_limit.auth_requests_per_hour":   100,
	"security.rate_limit.max_clients":              10000,

	"security.cors.enabled":           true,
	"security.cors.allowed_origins":   []string{"*"},
	"security.cors.allowed_methods":   []string{"GET", "POST", "OPTIONS"},
	"security.cors.allowed_headers":   []string{"Content-Type", "Authorization", "X-API-Key"},
	"security.cors.expose_headers":    []string{},
	"security.cors.max_age":           86400,
	"security.cors.allow_credentials": false,

	"security.headers": map[string]any{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"X-XSS-Protection":          "1; mode=block",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"Content-Security-Policy":   "default-src 'self'; script-src 'self'; object-src 'none'; frame-ancestors 'none'",
	},

	"cache.enabled": true,
	"cache.dir":     "data/cache",
	"cache.ttl":     "24h",

	"analyzer.phpcs_path":     "phpcs",
	"analyzer.temp_dir":       "",
	"analyzer.timeout":        "30s",
	"analyzer.max_code_bytes": 1000000,

	"telemetry.enabled":      false,
	"telemetry.service_name": "lintgate",

	"metrics.enabled": true,
	"metrics.path":    "/metrics",
}

// Load reads path (DefaultFile when empty; a missing file is not an error),
// applies LINTGATE_ environment overrides and fills in defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = DefaultFile
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	// APP_ENV is honoured for compatibility with existing deployments.
	if appEnv := os.Getenv("APP_ENV"); appEnv != "" && !k.Exists("app.env") {
		k.Set("app.env", appEnv)
	}

	// Default values
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// The stricter rate-limit tier covers protected paths and key issuance.
	if !k.Exists("security.rate_limit.sensitive_paths") {
		cfg.Security.RateLimit.SensitivePaths = append(slices.Clone(cfg.Auth.ProtectedPaths), "/keys/*")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.RoutePrefix != "" && !strings.HasPrefix(c.Server.RoutePrefix, "/") {
		errs = append(errs, fmt.Errorf("server.route_prefix %q must start with /", c.Server.RoutePrefix))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}
	if c.Auth.Enabled && c.Auth.KeysFile == "" {
		errs = append(errs, errors.New("auth.keys_file is required when auth is enabled"))
	}
	if c.Cache.Enabled && c.Cache.Dir == "" {
		errs = append(errs, errors.New("cache.dir is required when the cache is enabled"))
	}
	if c.Analyzer.Timeout <= 0 {
		errs = append(errs, errors.New("analyzer.timeout must be positive"))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path))
	}
	return errors.Join(errs...)
}

// Production reports whether the app runs in the production environment.
func (c *Config) Production() bool {
	return c.App.Env == "production"
}
