package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tjfontaine/lintgate/internal/analyzer"
	"github.com/tjfontaine/lintgate/internal/apierror"
	"github.com/tjfontaine/lintgate/internal/audit"
	"github.com/tjfontaine/lintgate/internal/pipeline"
)

// HeaderCache reports whether an analysis was served from the result cache.
const HeaderCache = "X-Cache"

type analyzeResponse struct {
	Success bool            `json:"success"`
	Results json.RawMessage `json:"results"`
}

func (h *Handlers) analyze(req *pipeline.Request) (*pipeline.Response, error) {
	in, err := h.analyzeInput(req)
	if err != nil {
		return nil, err
	}

	if in.PHPVersion != "" && isCompatibilityStandard(in.Standard) {
		h.logger.InfoContext(req.Context(), "php version compatibility testing requested",
			slog.String("standard", in.Standard),
			slog.String("php_version", in.PHPVersion),
			slog.String("ip", req.ClientIP()),
		)
	}

	start := time.Now()
	res, err := h.analyzer.Analyze(req.Context(), in)
	if err != nil {
		return nil, apierror.Wrap(apierror.UpstreamFailure, "Code analysis failed", err)
	}
	h.logger.DebugContext(req.Context(), "analysis completed",
		slog.String("standard", in.Standard),
		slog.Bool("cached", res.Cached),
		slog.Duration("duration", time.Since(start)),
	)

	cacheState := "MISS"
	if res.Cached {
		cacheState = "HIT"
	}
	return pipeline.JSON(http.StatusOK, analyzeResponse{Success: true, Results: res.Report}).
		WithHeader(HeaderCache, cacheState), nil
}

// analyzeInput validates and normalizes the request body.
func (h *Handlers) analyzeInput(req *pipeline.Request) (analyzer.Input, error) {
	if req.JSONErr != nil {
		return analyzer.Input{}, apierror.New(apierror.ValidationFailed, "Request body must be valid JSON")
	}

	code, ok := req.JSON["code"].(string)
	if !ok || code == "" {
		return analyzer.Input{}, apierror.New(apierror.ValidationFailed, "Missing code parameter")
	}
	if len(code) > h.cfg.MaxCodeBytes {
		h.audit.Log(req.Context(), audit.DoSAttempt, "code exceeds maximum size limit",
			slog.Int("size", len(code)),
			slog.String("ip", req.ClientIP()),
		)
		return analyzer.Input{}, apierror.New(apierror.ValidationFailed, "Code exceeds maximum size limit (1MB)")
	}

	in := analyzer.Input{Code: code, Standard: analyzer.DefaultStandard}
	if s, ok := req.JSON["standard"].(string); ok {
		in.Standard = analyzer.SanitizeStandard(s)
	}
	if v, ok := req.JSON["phpVersion"].(string); ok {
		in.PHPVersion = analyzer.SanitizeVersion(v)
	}

	var raw map[string]any
	switch v := req.JSON["options"].(type) {
	case nil:
	case map[string]any:
		raw = v
	default:
		return analyzer.Input{}, apierror.New(apierror.ValidationFailed, "The options parameter must be an object")
	}
	opts, err := analyzer.ParseOptions(raw)
	if err != nil {
		return analyzer.Input{}, apierror.Wrap(apierror.ValidationFailed, err.Error(), err)
	}
	in.Options = opts
	return in, nil
}

func isCompatibilityStandard(standard string) bool {
	s := strings.ToLower(standard)
	return strings.Contains(s, "phpcompatibility") || strings.Contains(s, "php-compatibility")
}
