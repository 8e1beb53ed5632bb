package auth

import (
	"sort"
	"strings"

	"github.com/tjfontaine/lintgate/internal/apierror"
	"github.com/tjfontaine/lintgate/internal/audit"
	"github.com/tjfontaine/lintgate/internal/credential"
	"github.com/tjfontaine/lintgate/internal/metrics"
	"github.com/tjfontaine/lintgate/internal/pipeline"
)

const (
	msgMissing = "API key is required for this endpoint"
	msgInvalid = "The provided API key is invalid or does not have the required permissions"
)

// StageConfig decides which paths require a credential and which scope each
// one needs.
type StageConfig struct {
	Enabled bool
	// ProtectedPaths lists exact paths or "prefix*" patterns.
	ProtectedPaths []string
	// PathScopes maps exact paths or "prefix*" patterns to a required scope.
	PathScopes map[string]string
	// DefaultScope applies to protected paths with no PathScopes entry. Empty
	// admits any valid credential.
	DefaultScope string
}

// Stage enforces authentication on protected paths and attaches the caller's
// identity to the request.
type Stage struct {
	cfg      StageConfig
	authn    *Authenticator
	audit    *audit.Logger
	metrics  *metrics.Metrics
	patterns []string
}

// NewStage creates the auth stage. auditLog and m may be nil.
func NewStage(cfg StageConfig, authn *Authenticator, auditLog *audit.Logger, m *metrics.Metrics) *Stage {
	s := &Stage{cfg: cfg, authn: authn, audit: auditLog, metrics: m}
	for pattern := range cfg.PathScopes {
		if strings.HasSuffix(pattern, "*") {
			s.patterns = append(s.patterns, pattern)
		}
	}
	// Longest prefix first so the most specific pattern wins.
	sort.Slice(s.patterns, func(i, j int) bool {
		if len(s.patterns[i]) != len(s.patterns[j]) {
			return len(s.patterns[i]) > len(s.patterns[j])
		}
		return s.patterns[i] < s.patterns[j]
	})
	return s
}

func (s *Stage) Name() string { return "auth" }

func (s *Stage) Handle(req *pipeline.Request, next pipeline.Next) *pipeline.Response {
	if !s.cfg.Enabled || !pipeline.MatchAny(s.cfg.ProtectedPaths, req.Path) {
		return next(req)
	}

	ctx := req.Context()
	ip := req.ClientIP()
	res := s.authn.Authorize(req, s.ScopeFor(req.Path))

	masked := "none"
	if res.Token != "" {
		masked = credential.Mask(res.Token)
	}

	if !res.Granted {
		s.audit.AuthAttempt(ctx, req.Path, masked, ip, false, string(res.Reason))
		s.metrics.AuthOutcome(string(res.Reason))
		if res.Reason == ReasonMissing {
			return apierror.New(apierror.AuthenticationMissing, msgMissing).Response()
		}
		return apierror.New(apierror.AuthorizationDenied, msgInvalid).Response()
	}

	s.audit.AuthAttempt(ctx, req.Path, masked, ip, true, "")
	s.metrics.AuthOutcome("granted")
	return next(req.WithCredential(res.Token, res.Credential))
}

// ScopeFor returns the scope required for path: an exact PathScopes entry,
// then the longest matching "prefix*" entry, then DefaultScope.
func (s *Stage) ScopeFor(path string) string {
	if scope, ok := s.cfg.PathScopes[path]; ok {
		return scope
	}
	for _, pattern := range s.patterns {
		if pipeline.MatchPath(pattern, path) {
			return s.cfg.PathScopes[pattern]
		}
	}
	return s.cfg.DefaultScope
}
