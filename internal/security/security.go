// Package security is the outermost pipeline stage. It answers CORS
// preflights, applies rate limits, and stamps security and CORS headers on
// every response that passes back through it.
package security

import (
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/tjfontaine/lintgate/internal/audit"
	"github.com/tjfontaine/lintgate/internal/metrics"
	"github.com/tjfontaine/lintgate/internal/pipeline"
	"github.com/tjfontaine/lintgate/internal/ratelimit"
)

// CORSConfig controls cross-origin negotiation.
type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposeHeaders    []string
	MaxAge           int
	AllowCredentials bool
}

// DefaultCORS returns the stock CORS policy.
func DefaultCORS() CORSConfig {
	return CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key"},
		MaxAge:         86400,
	}
}

// DefaultHeaders returns the static headers added to every response.
func DefaultHeaders() map[string]string {
	return map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"X-XSS-Protection":          "1; mode=block",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"Content-Security-Policy":   "default-src 'self'; script-src 'self'; object-src 'none'; frame-ancestors 'none'",
	}
}

// Config configures the stage.
type Config struct {
	CORS    CORSConfig
	Headers map[string]string
}

// Stage implements pipeline.Stage.
type Stage struct {
	cfg     Config
	limiter *ratelimit.Limiter
	audit   *audit.Logger
	metrics *metrics.Metrics
}

// NewStage creates the security stage. limiter, auditLog and m may be nil.
func NewStage(cfg Config, limiter *ratelimit.Limiter, auditLog *audit.Logger, m *metrics.Metrics) *Stage {
	return &Stage{cfg: cfg, limiter: limiter, audit: auditLog, metrics: m}
}

func (s *Stage) Name() string { return "security" }

func (s *Stage) Handle(req *pipeline.Request, next pipeline.Next) *pipeline.Response {
	if s.cfg.CORS.Enabled && req.Method == http.MethodOptions {
		return s.applyCORS(req, pipeline.NewResponse(http.StatusNoContent))
	}

	var resp *pipeline.Response
	if d, denied := s.checkRate(req); denied {
		resp = d.Error().Response()
	} else {
		resp = next(req)
	}

	for name, value := range s.cfg.Headers {
		resp.WithHeader(name, value)
	}
	if s.cfg.CORS.Enabled {
		s.applyCORS(req, resp)
	}
	return resp
}

func (s *Stage) checkRate(req *pipeline.Request) (ratelimit.Decision, bool) {
	if !s.limiter.Enabled() {
		return ratelimit.Decision{}, false
	}
	client := ratelimit.ClientID(req)
	d := s.limiter.Allow(client, req.Path)
	if d.Allowed {
		return d, false
	}

	s.metrics.RateLimited(string(d.Class), string(d.Window))
	s.audit.Log(req.Context(), audit.RateLimitExceeded, "rate limit exceeded",
		slog.String("client", client),
		slog.String("path", req.Path),
		slog.String("class", string(d.Class)),
		slog.String("window", string(d.Window)),
		slog.Int("limit", d.Limit),
		slog.Duration("retry_after", d.RetryAfter),
	)
	return d, true
}

func (s *Stage) applyCORS(req *pipeline.Request, resp *pipeline.Response) *pipeline.Response {
	cors := s.cfg.CORS

	if origin := s.negotiateOrigin(req.Header.Get("Origin")); origin != "" {
		resp.WithHeader("Access-Control-Allow-Origin", origin)
		if origin != "*" {
			resp.Header.Add("Vary", "Origin")
		}
	}
	if len(cors.AllowedMethods) > 0 {
		resp.WithHeader("Access-Control-Allow-Methods", strings.Join(cors.AllowedMethods, ", "))
	}
	if len(cors.AllowedHeaders) > 0 {
		resp.WithHeader("Access-Control-Allow-Headers", strings.Join(cors.AllowedHeaders, ", "))
	}
	if len(cors.ExposeHeaders) > 0 {
		resp.WithHeader("Access-Control-Expose-Headers", strings.Join(cors.ExposeHeaders, ", "))
	}
	if cors.MaxAge > 0 {
		resp.WithHeader("Access-Control-Max-Age", strconv.Itoa(cors.MaxAge))
	}
	if cors.AllowCredentials {
		resp.WithHeader("Access-Control-Allow-Credentials", "true")
	}
	return resp
}

// negotiateOrigin echoes an allowed origin. A request without Origin gets
// "*"; a disallowed origin gets the first configured origin, which the
// browser will then reject. Existing clients rely on that fallback, which
// go-chi/cors cannot express, so negotiation is done here.
func (s *Stage) negotiateOrigin(origin string) string {
	allowed := s.cfg.CORS.AllowedOrigins
	if origin == "" {
		origin = "*"
	}
	if origin == "*" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin) {
		return origin
	}
	if len(allowed) > 0 {
		return allowed[0]
	}
	return ""
}
