// Package analyzer validates analysis requests and runs them through the
// PHPCS engine behind the result cache.
package analyzer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/tjfontaine/lintgate/internal/cache"
	"github.com/tjfontaine/lintgate/internal/metrics"
)

// Result is the outcome of one analysis.
type Result struct {
	Report json.RawMessage
	Cached bool
}

// Service fronts an Engine with the result cache. Concurrent requests for
// the same fingerprint share a single engine run.
type Service struct {
	engine  Engine
	cache   *cache.Cache
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer

	group singleflight.Group

	versionMu sync.Mutex
	version   string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCache enables result caching.
func WithCache(c *cache.Cache) ServiceOption {
	return func(s *Service) { s.cache = c }
}

// WithMetrics records analysis metrics.
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a Service around engine.
func NewService(engine Engine, opts ...ServiceOption) *Service {
	s := &Service{
		engine: engine,
		logger: slog.Default(),
		tracer: otel.Tracer("lintgate/analyzer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cache returns the result cache, which may be nil.
func (s *Service) Cache() *cache.Cache { return s.cache }

// Analyze returns the report for in, from the cache when possible.
func (s *Service) Analyze(ctx context.Context, in Input) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "analyzer.Analyze", trace.WithAttributes(
		attribute.String("analyzer.standard", in.Standard),
		attribute.String("analyzer.php_version", in.PHPVersion),
		attribute.Int("analyzer.code_bytes", len(in.Code)),
	))
	defer span.End()

	key := cache.Fingerprint(in.Code, in.Standard, in.PHPVersion, in.Options.Map())

	if s.cache.Enabled() {
		report, hit := s.cache.Get(key)
		s.metrics.CacheLookup(hit)
		if hit {
			span.SetAttributes(attribute.Bool("analyzer.cached", true))
			return Result{Report: report, Cached: true}, nil
		}
	}

	// The shared run must not be cancelled because the first caller left.
	runCtx := context.WithoutCancel(ctx)
	v, err, shared := s.group.Do(key, func() (any, error) {
		start := time.Now()
		report, err := s.engine.Analyze(runCtx, in)
		s.metrics.ObserveAnalysis(time.Since(start), err)
		if err != nil {
			return nil, err
		}
		if s.cache.Enabled() && !s.cache.Set(key, report) {
			s.logger.Warn("failed to store analysis result", slog.String("key", key))
		}
		return report, nil
	})
	if shared {
		s.metrics.AnalysisCollapsed()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	return Result{Report: v.(json.RawMessage)}, nil
}

// Standards lists the engine's installed standards.
func (s *Service) Standards(ctx context.Context) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "analyzer.Standards")
	defer span.End()

	standards, err := s.engine.Standards(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return standards, nil
}

// Version reports the engine version. A successful lookup is remembered;
// failures yield "unknown" and are retried on the next call.
func (s *Service) Version(ctx context.Context) string {
	s.versionMu.Lock()
	defer s.versionMu.Unlock()
	if s.version != "" {
		return s.version
	}

	v, err := s.engine.Version(ctx)
	if err != nil {
		s.logger.Warn("failed to read engine version", slog.String("error", err.Error()))
		return "unknown"
	}
	if v != "unknown" {
		s.version = v
	}
	return v
}
