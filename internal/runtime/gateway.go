// Package runtime wires the configured components into a running gateway
// and manages its lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/tjfontaine/lintgate/internal/analyzer"
	"github.com/tjfontaine/lintgate/internal/api"
	"github.com/tjfontaine/lintgate/internal/audit"
	"github.com/tjfontaine/lintgate/internal/auth"
	"github.com/tjfontaine/lintgate/internal/cache"
	"github.com/tjfontaine/lintgate/internal/config"
	"github.com/tjfontaine/lintgate/internal/credential"
	"github.com/tjfontaine/lintgate/internal/metrics"
	"github.com/tjfontaine/lintgate/internal/pipeline"
	"github.com/tjfontaine/lintgate/internal/ratelimit"
	"github.com/tjfontaine/lintgate/internal/router"
	"github.com/tjfontaine/lintgate/internal/security"
	"github.com/tjfontaine/lintgate/internal/server"
)

// Stage order within the pipeline.
const (
	orderSecurity = 10
	orderAuth     = 20
)

// Gateway owns every component of a running gateway.
// Gateway can be embedded in larger applications or run standalone.
type Gateway struct {
	// Dependencies (injected via options)
	cfg         *config.Config
	logger      *slog.Logger
	engine      analyzer.Engine
	auditWriter io.Writer
	metrics     *metrics.Metrics

	// Internal state
	audit    *audit.Logger
	keys     *credential.Store
	analyzer *analyzer.Service
	executor *pipeline.Executor
	server   *server.Server

	// Lifecycle management
	cancel  context.CancelFunc
	mu      sync.Mutex
	running bool
}

// New creates a Gateway with the given options and wires its components.
// Without WithConfig or WithConfigFile, config.yaml and the environment are
// used.
func New(opts ...Option) (*Gateway, error) {
	gw := &Gateway{logger: slog.Default()}

	// Apply options
	for _, opt := range opts {
		if err := opt(gw); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if gw.cfg == nil {
		cfg, err := config.Load("")
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		gw.cfg = cfg
	}
	if gw.metrics == nil && gw.cfg.Metrics.Enabled {
		gw.metrics = metrics.New()
	}

	if err := gw.build(); err != nil {
		return nil, err
	}
	return gw, nil
}

func (g *Gateway) build() error {
	cfg := g.cfg

	var err error
	if g.auditWriter != nil {
		g.audit = audit.New(g.auditWriter, audit.WithRequestID(server.GetRequestID))
	} else if g.audit, err = audit.Open(cfg.Audit.Path, audit.WithRequestID(server.GetRequestID)); err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	g.keys = credential.NewStore(cfg.Auth.KeysFile,
		credential.WithDefaultScopes(cfg.Auth.DefaultScopes),
		credential.WithLogger(g.logger),
	)

	if g.engine == nil {
		g.engine = analyzer.NewPHPCS(analyzer.PHPCSConfig{
			Path:    cfg.Analyzer.PHPCSPath,
			TempDir: cfg.Analyzer.TempDir,
			Timeout: cfg.Analyzer.Timeout,
		}, g.logger)
	}
	resultCache := cache.New(cache.Config{
		Enabled: cfg.Cache.Enabled,
		Dir:     cfg.Cache.Dir,
		TTL:     cfg.Cache.TTL,
	}, cache.WithLogger(g.logger))
	g.analyzer = analyzer.NewService(g.engine,
		analyzer.WithCache(resultCache),
		analyzer.WithMetrics(g.metrics),
		analyzer.WithLogger(g.logger),
	)

	limiter, err := ratelimit.New(ratelimit.Config{
		Enabled:               cfg.Security.RateLimit.Enabled,
		RequestsPerMinute:     cfg.Security.RateLimit.RequestsPerMinute,
		RequestsPerHour:       cfg.Security.RateLimit.RequestsPerHour,
		AuthRequestsPerMinute: cfg.Security.RateLimit.AuthRequestsPerMinute,
		AuthRequestsPerHour:   cfg.Security.RateLimit.AuthRequestsPerHour,
		SensitivePaths:        cfg.Security.RateLimit.SensitivePaths,
		MaxClients:            cfg.Security.RateLimit.MaxClients,
	})
	if err != nil {
		return fmt.Errorf("create rate limiter: %w", err)
	}

	cors := cfg.Security.CORS
	securityStage := security.NewStage(security.Config{
		CORS: security.CORSConfig{
			Enabled:          cors.Enabled,
			AllowedOrigins:   cors.AllowedOrigins,
			AllowedMethods:   cors.AllowedMethods,
			AllowedHeaders:   cors.AllowedHeaders,
			ExposeHeaders:    cors.ExposeHeaders,
			MaxAge:           cors.MaxAge,
			AllowCredentials: cors.AllowCredentials,
		},
		Headers: cfg.Security.Headers,
	}, limiter, g.audit, g.metrics)

	authStage := auth.NewStage(auth.StageConfig{
		Enabled:        cfg.Auth.Enabled,
		ProtectedPaths: cfg.Auth.ProtectedPaths,
		PathScopes:     cfg.Auth.PathScopes,
		DefaultScope:   cfg.Auth.DefaultScope,
	}, auth.NewAuthenticator(g.keys), g.audit, g.metrics)

	routes := router.New(g.logger)
	api.New(api.Config{
		Version:      cfg.App.Version,
		Environment:  cfg.App.Env,
		MaxCodeBytes: cfg.Analyzer.MaxCodeBytes,
		KeyScopes:    cfg.Auth.DefaultScopes,
	}, g.analyzer, g.keys, g.audit, g.logger).Register(routes)

	g.executor = pipeline.NewExecutor(pipeline.ExecutorConfig{
		Stages: []pipeline.StageConfig{
			{Name: securityStage.Name(), Order: orderSecurity, Stage: securityStage},
			{Name: authStage.Name(), Order: orderAuth, Stage: authStage},
		},
		Terminal: routes,
	})

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	g.server = server.New(server.Config{
		Port:           cfg.Server.Port,
		RoutePrefix:    cfg.Server.RoutePrefix,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		APIVersion:     cfg.App.Version,
		MetricsPath:    metricsPath,
		ServiceName:    cfg.App.Name,
	}, g.executor, g.metrics, g.logger)

	g.logger.Debug("pipeline assembled", slog.Any("stages", g.executor.Stages()))
	return nil
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler { return g.server }

// Config returns the configuration the gateway was built with.
func (g *Gateway) Config() *config.Config { return g.cfg }

// Keys returns the credential store.
func (g *Gateway) Keys() *credential.Store { return g.keys }

// Start binds the configured port and serves in the background.
func (g *Gateway) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", g.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve serves on ln in the background until Shutdown.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		ln.Close()
		return errors.New("gateway already running")
	}

	ctx, g.cancel = context.WithCancel(ctx)

	// Watch for key file changes made by the keygen CLI
	if g.cfg.Auth.Enabled && g.cfg.Auth.Watch {
		if err := g.keys.Watch(ctx); err != nil {
			g.logger.Warn("api key watch unavailable", slog.String("error", err.Error()))
		}
	}

	if err := g.server.Serve(ln); err != nil {
		g.cancel()
		return fmt.Errorf("start server: %w", err)
	}
	g.running = true

	g.logger.Info("gateway started",
		slog.String("addr", ln.Addr().String()),
		slog.String("route_prefix", g.cfg.Server.RoutePrefix),
		slog.Bool("auth", g.cfg.Auth.Enabled),
		slog.Bool("rate_limit", g.cfg.Security.RateLimit.Enabled),
		slog.Bool("cache", g.cfg.Cache.Enabled),
		slog.String("env", g.cfg.App.Env))

	return nil
}

// Shutdown gracefully stops the gateway.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("shutting down gateway")

	if g.cancel != nil {
		g.cancel()
	}

	var errs []error
	if err := g.server.Shutdown(ctx); err != nil {
		g.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := g.audit.Close(); err != nil {
		g.logger.Error("failed to close audit log", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	g.running = false

	g.logger.Info("gateway shutdown complete")
	return errors.Join(errs...)
}
