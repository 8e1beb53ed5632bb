package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tjfontaine/lintgate/internal/apierror"
	"github.com/tjfontaine/lintgate/internal/audit"
	"github.com/tjfontaine/lintgate/internal/cache"
	"github.com/tjfontaine/lintgate/internal/pipeline"
)

type standardsResponse struct {
	Success   bool     `json:"success"`
	Standards []string `json:"standards"`
}

type healthResponse struct {
	Status       string      `json:"status"`
	Version      string      `json:"version"`
	PHPCSVersion string      `json:"phpcs_version"`
	Timestamp    int64       `json:"timestamp"`
	Cache        cache.Stats `json:"cache"`
}

type cacheClearResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type cacheStatsResponse struct {
	Success bool        `json:"success"`
	Stats   cache.Stats `json:"stats"`
}

func (h *Handlers) standards(req *pipeline.Request) (*pipeline.Response, error) {
	start := time.Now()
	standards, err := h.analyzer.Standards(req.Context())
	if err != nil {
		return nil, apierror.Wrap(apierror.UpstreamFailure, "Failed to list coding standards", err)
	}
	h.logger.DebugContext(req.Context(), "standards listed",
		slog.Int("count", len(standards)),
		slog.Duration("duration", time.Since(start)),
	)
	return pipeline.JSON(http.StatusOK, standardsResponse{Success: true, Standards: standards}), nil
}

func (h *Handlers) health(req *pipeline.Request) (*pipeline.Response, error) {
	return pipeline.JSON(http.StatusOK, healthResponse{
		Status:       "ok",
		Version:      h.cfg.Version,
		PHPCSVersion: h.analyzer.Version(req.Context()),
		Timestamp:    h.now().Unix(),
		Cache:        h.analyzer.Cache().Stats(),
	}), nil
}

func (h *Handlers) clearCache(req *pipeline.Request) (*pipeline.Response, error) {
	c := h.analyzer.Cache()
	before := c.Stats()
	ok := c.Clear()

	h.audit.Log(req.Context(), audit.CacheCleared, "cache cleared",
		slog.Bool("successful", ok),
		slog.Int("items_cleared", before.Count),
		slog.Int64("size_cleared", before.Size),
		slog.String("ip", req.ClientIP()),
	)

	msg := "Cache cleared successfully"
	if !ok {
		msg = "Failed to clear cache"
	}
	return pipeline.JSON(http.StatusOK, cacheClearResponse{Success: ok, Message: msg}), nil
}

func (h *Handlers) cacheStats(req *pipeline.Request) (*pipeline.Response, error) {
	return pipeline.JSON(http.StatusOK, cacheStatsResponse{Success: true, Stats: h.analyzer.Cache().Stats()}), nil
}
