package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/lintgate/internal/apierror"
	"github.com/tjfontaine/lintgate/internal/metrics"
	"github.com/tjfontaine/lintgate/internal/pipeline"
)

// HeaderAPIVersion reports the API version on every pipeline response.
const HeaderAPIVersion = "X-API-Version"

// Config configures the HTTP server.
type Config struct {
	Port           int
	RoutePrefix    string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	APIVersion     string
	// MetricsPath serves Prometheus metrics outside the pipeline when set.
	MetricsPath string
	ServiceName string
}

type Server struct {
	Router *chi.Mux
	cfg    Config
	logger *slog.Logger
	m      *metrics.Metrics
	srv    *http.Server
}

// New builds the HTTP front end. Every request under the route prefix is
// handed to pipe with the prefix removed from its path. The metrics endpoint
// is served directly and anything else is not found.
func New(cfg Config, pipe pipeline.Handler, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.RoutePrefix = strings.TrimRight(cfg.RoutePrefix, "/")
	if cfg.ServiceName == "" {
		cfg.ServiceName = "lintgate"
	}

	r := chi.NewRouter()

	// Apply middleware in order
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(cfg.RequestTimeout))
	r.Use(middleware.Recoverer)

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, cfg.ServiceName)
	})

	s := &Server{Router: r, cfg: cfg, logger: logger, m: m}

	if cfg.MetricsPath != "" && m != nil {
		r.Method(http.MethodGet, cfg.MetricsPath, m.Handler())
	}
	r.Handle("/*", s.pipelineHandler(pipe))

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// pipelineHandler adapts net/http to the pipeline.
func (s *Server) pipelineHandler(pipe pipeline.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var resp *pipeline.Response
		req, err := pipeline.NewRequest(r, s.cfg.MaxBodyBytes)
		switch {
		case errors.Is(err, pipeline.ErrBodyTooLarge):
			resp = pipeline.JSON(http.StatusRequestEntityTooLarge, apierror.Envelope{
				Error:   "Payload too large",
				Message: fmt.Sprintf("Request body exceeds %d bytes", s.cfg.MaxBodyBytes),
			})
		case err != nil:
			AddError(r.Context(), err)
			resp = apierror.New(apierror.ValidationFailed, "Could not read request body").Response()
		default:
			AddLogField(r.Context(), "client_ip", req.ClientIP())
			if path, ok := s.stripPrefix(req.Path); ok {
				req.Path = path
				resp = pipe.Serve(req)
			} else {
				resp = apierror.New(apierror.NotFound, "Route not found").Response()
			}
		}

		if s.cfg.APIVersion != "" {
			resp.WithHeader(HeaderAPIVersion, s.cfg.APIVersion)
		}
		if err := resp.Write(w); err != nil {
			AddError(r.Context(), err)
		}

		// Only registered route templates become label values.
		route := resp.Route
		if route == "" {
			route = "unmatched"
		}
		s.m.ObserveRequest(r.Method, route, resp.Status, time.Since(start))
	})
}

// stripPrefix removes the route prefix. ok is false for paths outside it.
func (s *Server) stripPrefix(path string) (string, bool) {
	if s.cfg.RoutePrefix == "" {
		return path, true
	}
	if path == s.cfg.RoutePrefix {
		return "/", true
	}
	if rest, ok := strings.CutPrefix(path, s.cfg.RoutePrefix+"/"); ok {
		return "/" + rest, true
	}
	return "", false
}

// Start listens on the configured port in the background. It returns once
// the listener is bound, so callers see address errors synchronously.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve serves on ln in the background.
func (s *Server) Serve(ln net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.cfg.RequestTimeout + 10*time.Second,
	}

	s.logger.Info("HTTP server listening", slog.String("addr", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
