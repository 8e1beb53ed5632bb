package security

import (
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/tjfontaine/lintgate/internal/audit"
	"github.com/tjfontaine/lintgate/internal/pipeline"
	"github.com/tjfontaine/lintgate/internal/ratelimit"
)

func request(method, path, origin string) *pipeline.Request {
	h := http.Header{}
	if origin != "" {
		h.Set("Origin", origin)
	}
	return &pipeline.Request{Method: method, Path: path, Header: h, RemoteAddr: "198.51.100.4:5555"}
}

func okNext(called *int) pipeline.Next {
	return func(req *pipeline.Request) *pipeline.Response {
		*called++
		return pipeline.JSON(http.StatusOK, map[string]bool{"success": true})
	}
}

func TestStage_Preflight(t *testing.T) {
	limiter, _ := ratelimit.New(ratelimit.Config{Enabled: true, RequestsPerMinute: 1})
	s := NewStage(Config{CORS: DefaultCORS(), Headers: DefaultHeaders()}, limiter, nil, nil)

	var called int
	for i := 0; i < 3; i++ {
		resp := s.Handle(request(http.MethodOptions, "/analyze", "https://app.example"), okNext(&called))
		if resp.Status != http.StatusNoContent {
			t.Fatalf("preflight status = %d", resp.Status)
		}
		if len(resp.Body) != 0 {
			t.Error("preflight must have no body")
		}
		if resp.Header.Get("Access-Control-Allow-Origin") != "https://app.example" {
			t.Errorf("Allow-Origin = %q", resp.Header.Get("Access-Control-Allow-Origin"))
		}
		if resp.Header.Get("Access-Control-Allow-Methods") != "GET, POST, OPTIONS" {
			t.Errorf("Allow-Methods = %q", resp.Header.Get("Access-Control-Allow-Methods"))
		}
		if resp.Header.Get("Access-Control-Allow-Headers") != "Content-Type, Authorization, X-API-Key" {
			t.Errorf("Allow-Headers = %q", resp.Header.Get("Access-Control-Allow-Headers"))
		}
		if resp.Header.Get("Access-Control-Max-Age") != "86400" {
			t.Errorf("Max-Age = %q", resp.Header.Get("Access-Control-Max-Age"))
		}
	}
	if called != 0 {
		t.Error("preflight must not reach later stages")
	}
	if g, _ := limiter.Clients(); g != 0 {
		t.Error("preflight must not be counted by the rate limiter")
	}
}

func TestStage_OptionsWithoutCORS(t *testing.T) {
	s := NewStage(Config{CORS: CORSConfig{Enabled: false}}, nil, nil, nil)

	var called int
	resp := s.Handle(request(http.MethodOptions, "/analyze", ""), okNext(&called))
	if called != 1 || resp.Status != http.StatusOK {
		t.Error("OPTIONS should pass through when CORS is disabled")
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "" {
		t.Error("no CORS headers expected when disabled")
	}
}

func TestStage_SecurityHeaders(t *testing.T) {
	s := NewStage(Config{CORS: DefaultCORS(), Headers: DefaultHeaders()}, nil, nil, nil)

	var called int
	resp := s.Handle(request(http.MethodGet, "/health", ""), okNext(&called))
	if called != 1 {
		t.Fatal("next not called")
	}
	for name, value := range DefaultHeaders() {
		if got := resp.Header.Get(name); got != value {
			t.Errorf("%s = %q, want %q", name, got, value)
		}
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Allow-Origin without Origin header = %q", resp.Header.Get("Access-Control-Allow-Origin"))
	}
}

func TestStage_OriginNegotiation(t *testing.T) {
	cors := DefaultCORS()
	cors.AllowedOrigins = []string{"https://a.example", "https://b.example"}
	cors.AllowCredentials = true
	cors.ExposeHeaders = []string{"X-Request-ID"}
	s := NewStage(Config{CORS: cors}, nil, nil, nil)

	tests := []struct {
		origin string
		want   string
	}{
		{"https://b.example", "https://b.example"},
		{"https://evil.example", "https://a.example"},
		{"", "*"},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			var called int
			resp := s.Handle(request(http.MethodGet, "/health", tt.origin), okNext(&called))
			if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.want)
			}
			if resp.Header.Get("Access-Control-Allow-Credentials") != "true" {
				t.Error("credentials flag missing")
			}
			if resp.Header.Get("Access-Control-Expose-Headers") != "X-Request-ID" {
				t.Error("expose headers missing")
			}
		})
	}
}

func TestStage_RateLimit(t *testing.T) {
	limiter, err := ratelimit.New(ratelimit.Config{
		Enabled:               true,
		RequestsPerMinute:     2,
		AuthRequestsPerMinute: 1,
		SensitivePaths:        []string{"/keys/*"},
	})
	if err != nil {
		t.Fatal(err)
	}
	var auditBuf bytes.Buffer
	s := NewStage(Config{CORS: DefaultCORS(), Headers: DefaultHeaders()}, limiter, audit.New(&auditBuf), nil)

	var called int
	s.Handle(request(http.MethodGet, "/health", ""), okNext(&called))
	s.Handle(request(http.MethodGet, "/health", ""), okNext(&called))
	resp := s.Handle(request(http.MethodGet, "/health", ""), okNext(&called))

	if resp.Status != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.Status)
	}
	if called != 2 {
		t.Errorf("next called %d times, want 2", called)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("429 must carry Retry-After")
	}
	if resp.Header.Get("X-Frame-Options") != "DENY" {
		t.Error("429 should still carry security headers")
	}
	if !strings.Contains(string(resp.Body), `"retry_after":`) {
		t.Errorf("body missing retry_after: %s", resp.Body)
	}
	if !strings.Contains(auditBuf.String(), `"event":"rate_limit_exceeded"`) {
		t.Error("rate-limit denial not audited")
	}

	s.Handle(request(http.MethodPost, "/keys/generate", ""), okNext(&called))
	resp = s.Handle(request(http.MethodPost, "/keys/generate", ""), okNext(&called))
	if resp.Status != http.StatusTooManyRequests {
		t.Fatalf("auth tier status = %d", resp.Status)
	}
	if !strings.Contains(string(resp.Body), "Too many authentication attempts") {
		t.Errorf("auth tier message missing: %s", resp.Body)
	}
}
