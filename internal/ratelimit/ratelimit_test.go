package ratelimit

import (
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/lintgate/internal/pipeline"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newLimiter(t *testing.T, cfg Config) (*Limiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	l, err := New(cfg, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return l, clock
}

func TestLimiter_MinuteCeiling(t *testing.T) {
	l, clock := newLimiter(t, Config{Enabled: true, RequestsPerMinute: 3})

	for i := 1; i <= 3; i++ {
		if d := l.Allow("client", "/analyze"); !d.Allowed {
			t.Fatalf("request %d denied", i)
		}
	}

	clock.Advance(20 * time.Second)
	d := l.Allow("client", "/analyze")
	if d.Allowed {
		t.Fatal("4th request should be denied")
	}
	if d.Window != WindowMinute || d.Limit != 3 || d.Class != ClassGeneral {
		t.Errorf("unexpected decision: %+v", d)
	}
	if d.RetryAfter != 40*time.Second {
		t.Errorf("RetryAfter = %v, want 40s", d.RetryAfter)
	}

	clock.Advance(40 * time.Second)
	if d := l.Allow("client", "/analyze"); !d.Allowed {
		t.Error("request at the window boundary should start a new window")
	}
	for i := 2; i <= 3; i++ {
		if d := l.Allow("client", "/analyze"); !d.Allowed {
			t.Fatalf("request %d of the new window denied; counter did not restart at 1", i)
		}
	}
	if d := l.Allow("client", "/analyze"); d.Allowed {
		t.Error("new window should enforce the same ceiling")
	}
}

func TestLimiter_HourCeiling(t *testing.T) {
	l, clock := newLimiter(t, Config{Enabled: true, RequestsPerMinute: 2, RequestsPerHour: 3})

	l.Allow("c", "/")
	l.Allow("c", "/")
	clock.Advance(time.Minute)
	if d := l.Allow("c", "/"); !d.Allowed {
		t.Fatal("third request in a new minute should pass")
	}
	d := l.Allow("c", "/")
	if d.Allowed {
		t.Fatal("fourth request should exceed the hourly ceiling")
	}
	if d.Window != WindowHour {
		t.Errorf("Window = %s, want hour", d.Window)
	}
	if d.RetryAfter != 59*time.Minute {
		t.Errorf("RetryAfter = %v, want 59m", d.RetryAfter)
	}
}

func TestLimiter_MinuteDenialNotCountedAgainstHour(t *testing.T) {
	l, clock := newLimiter(t, Config{Enabled: true, RequestsPerMinute: 1, RequestsPerHour: 2})

	l.Allow("c", "/")
	for i := 0; i < 5; i++ {
		if d := l.Allow("c", "/"); d.Allowed || d.Window != WindowMinute {
			t.Fatalf("expected minute denial, got %+v", d)
		}
	}
	clock.Advance(time.Minute)
	if d := l.Allow("c", "/"); !d.Allowed {
		t.Errorf("minute denials leaked into the hourly counter: %+v", d)
	}
}

func TestLimiter_ZeroDisablesWindow(t *testing.T) {
	l, _ := newLimiter(t, Config{Enabled: true, RequestsPerMinute: 0, RequestsPerHour: 2})

	l.Allow("c", "/")
	l.Allow("c", "/")
	d := l.Allow("c", "/")
	if d.Allowed || d.Window != WindowHour {
		t.Errorf("expected hourly denial with minute window disabled, got %+v", d)
	}

	off, _ := newLimiter(t, Config{Enabled: true})
	for i := 0; i < 100; i++ {
		if !off.Allow("c", "/").Allowed {
			t.Fatal("no ceilings configured should never deny")
		}
	}
}

func TestLimiter_Disabled(t *testing.T) {
	l, _ := newLimiter(t, Config{Enabled: false, RequestsPerMinute: 1})
	for i := 0; i < 5; i++ {
		if !l.Allow("c", "/").Allowed {
			t.Fatal("disabled limiter denied a request")
		}
	}
	if l.Enabled() {
		t.Error("Enabled() should be false")
	}
}

func TestLimiter_AuthTier(t *testing.T) {
	cfg := Config{
		Enabled:               true,
		RequestsPerMinute:     100,
		AuthRequestsPerMinute: 2,
		SensitivePaths:        []string{"/keys/*", "/analyze"},
	}
	l, _ := newLimiter(t, cfg)

	if l.Classify("/keys/generate") != ClassAuth || l.Classify("/analyze") != ClassAuth {
		t.Error("sensitive paths not classified as auth")
	}
	if l.Classify("/health") != ClassGeneral {
		t.Error("/health should be general")
	}

	l.Allow("c", "/analyze")
	l.Allow("c", "/keys/generate")
	d := l.Allow("c", "/analyze")
	if d.Allowed {
		t.Fatal("third sensitive request should be denied")
	}
	if d.Class != ClassAuth || d.Limit != 2 {
		t.Errorf("unexpected decision: %+v", d)
	}

	if !l.Allow("c", "/health").Allowed {
		t.Error("general tier should be unaffected by auth-tier exhaustion")
	}
}

func TestLimiter_ClientsIndependent(t *testing.T) {
	l, _ := newLimiter(t, Config{Enabled: true, RequestsPerMinute: 1})

	if !l.Allow("a", "/").Allowed || !l.Allow("b", "/").Allowed {
		t.Fatal("first request from each client should pass")
	}
	if l.Allow("a", "/").Allowed {
		t.Error("client a should be limited")
	}
	if g, _ := l.Clients(); g != 2 {
		t.Errorf("tracked clients = %d, want 2", g)
	}
}

func TestLimiter_BoundedTable(t *testing.T) {
	l, _ := newLimiter(t, Config{Enabled: true, RequestsPerMinute: 1, MaxClients: 2})

	l.Allow("a", "/")
	l.Allow("b", "/")
	l.Allow("c", "/")
	if g, _ := l.Clients(); g != 2 {
		t.Errorf("tracked clients = %d, want 2", g)
	}
	// a was evicted, so its window starts over.
	if !l.Allow("a", "/").Allowed {
		t.Error("evicted client should get a fresh window")
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	const limit = 50
	l, _ := newLimiter(t, Config{Enabled: true, RequestsPerMinute: limit})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("burst", "/").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != limit {
		t.Errorf("allowed = %d, want exactly %d", allowed, limit)
	}
}

func TestDecision_Error(t *testing.T) {
	tests := []struct {
		d    Decision
		want string
	}{
		{
			Decision{Class: ClassGeneral, Window: WindowMinute, Limit: 60},
			"You have exceeded the 60 requests per minute rate limit.",
		},
		{
			Decision{Class: ClassGeneral, Window: WindowHour, Limit: 1000},
			"You have exceeded the 1000 requests per hour rate limit.",
		},
		{
			Decision{Class: ClassAuth, Window: WindowMinute, Limit: 10},
			"Too many authentication attempts. You have exceeded the 10 attempts per minute rate limit.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.d.Error().Message; got != tt.want {
				t.Errorf("message = %q", got)
			}
			if tt.d.Error().Response().Status != http.StatusTooManyRequests {
				t.Error("denial should render as 429")
			}
		})
	}
}

func TestClientID(t *testing.T) {
	req := &pipeline.Request{Header: http.Header{}, RemoteAddr: "192.0.2.5:999"}
	if got := ClientID(req); got != "ip:192.0.2.5" {
		t.Errorf("ClientID() = %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ClientID(req); got != "ip:203.0.113.9" {
		t.Errorf("ClientID() = %q", got)
	}

	req.Token = "abc"
	if got := ClientID(req); got != fmt.Sprintf("key:%s", "abc") {
		t.Errorf("ClientID() = %q", got)
	}
}
