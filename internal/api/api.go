// Package api implements the HTTP operations served behind the pipeline.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tjfontaine/lintgate/internal/analyzer"
	"github.com/tjfontaine/lintgate/internal/audit"
	"github.com/tjfontaine/lintgate/internal/credential"
	"github.com/tjfontaine/lintgate/internal/router"
)

// Route paths, relative to the mount prefix.
const (
	PathAnalyze      = "/analyze"
	PathStandards    = "/standards"
	PathHealth       = "/health"
	PathCacheClear   = "/cache/clear"
	PathCacheStats   = "/cache/stats"
	PathKeysGenerate = "/keys/generate"
)

// EnvProduction disables key generation over HTTP.
const EnvProduction = "production"

// Config configures the handlers.
type Config struct {
	// Version is reported by the health endpoint.
	Version string
	// Environment is the deployment environment name.
	Environment string
	// MaxCodeBytes bounds submitted source. Zero means analyzer.MaxCodeBytes.
	MaxCodeBytes int
	// KeyScopes are granted to keys generated without explicit scopes.
	KeyScopes []string
}

// KeyStore issues credentials.
type KeyStore interface {
	Generate(p credential.GenerateParams) (string, error)
	Lookup(token string) (credential.Credential, bool)
}

// Handlers serves the API operations.
type Handlers struct {
	cfg      Config
	analyzer *analyzer.Service
	keys     KeyStore
	audit    *audit.Logger
	logger   *slog.Logger
	now      func() time.Time
}

// New creates the handlers. keys may be nil when key generation is not
// offered.
func New(cfg Config, svc *analyzer.Service, keys KeyStore, auditLog *audit.Logger, logger *slog.Logger) *Handlers {
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = analyzer.MaxCodeBytes
	}
	if len(cfg.KeyScopes) == 0 {
		cfg.KeyScopes = credential.DefaultScopes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		cfg:      cfg,
		analyzer: svc,
		keys:     keys,
		audit:    auditLog,
		logger:   logger,
		now:      time.Now,
	}
}

// Register adds every operation to r.
func (h *Handlers) Register(r *router.Router) {
	r.Handle(http.MethodPost, PathAnalyze, h.analyze)
	r.Handle(http.MethodGet, PathStandards, h.standards)
	r.Handle(http.MethodGet, PathHealth, h.health)
	r.Handle(http.MethodPost, PathCacheClear, h.clearCache)
	r.Handle(http.MethodGet, PathCacheStats, h.cacheStats)
	r.Handle(http.MethodPost, PathKeysGenerate, h.generateKey)
}
