// Package gateway provides the public API for embedding the analysis gateway.
// This is the stable API for external consumers.
package gateway

import (
	"github.com/tjfontaine/lintgate/internal/runtime"
)

// Gateway is the main entry point for running the analysis gateway.
// See internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := gateway.New(
//	    gateway.WithConfigFile("config.yaml"),
//	    gateway.WithLogger(logger),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithConfigFile = runtime.WithConfigFile
	WithConfig     = runtime.WithConfig

	// Analysis
	WithEngine = runtime.WithEngine

	// Observability
	WithLogger      = runtime.WithLogger
	WithAuditWriter = runtime.WithAuditWriter
	WithMetrics     = runtime.WithMetrics
)
