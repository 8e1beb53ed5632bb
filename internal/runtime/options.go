package runtime

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/tjfontaine/lintgate/internal/analyzer"
	"github.com/tjfontaine/lintgate/internal/config"
	"github.com/tjfontaine/lintgate/internal/metrics"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithConfigFile loads configuration from path plus LINTGATE_ environment
// overrides.
func WithConfigFile(path string) Option {
	return func(g *Gateway) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		g.cfg = cfg
		return nil
	}
}

// WithConfig uses an already loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(g *Gateway) error {
		if cfg == nil {
			return errors.New("nil config")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		g.cfg = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// WithEngine replaces the PHPCS runner, for example with a remote engine or
// a test double.
func WithEngine(engine analyzer.Engine) Option {
	return func(g *Gateway) error {
		g.engine = engine
		return nil
	}
}

// WithAuditWriter sends security events to w instead of audit.path.
func WithAuditWriter(w io.Writer) Option {
	return func(g *Gateway) error {
		g.auditWriter = w
		return nil
	}
}

// WithMetrics uses m instead of a fresh set of collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) error {
		g.metrics = m
		return nil
	}
}
