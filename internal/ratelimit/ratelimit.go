// Package ratelimit implements per-client fixed-window request ceilings.
//
// Each client has a minute and an hour counter. Requests to
// authentication-sensitive paths are counted in a separate table with
// stricter ceilings so credential guessing is throttled even when the
// general API is configured generously. Counters live in memory only.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tjfontaine/lintgate/internal/apierror"
	"github.com/tjfontaine/lintgate/internal/pipeline"
)

// Config holds the ceilings. A zero ceiling disables that window.
type Config struct {
	Enabled               bool
	RequestsPerMinute     int
	RequestsPerHour       int
	AuthRequestsPerMinute int
	AuthRequestsPerHour   int
	// SensitivePaths are exact paths or "prefix*" patterns counted against
	// the auth ceilings.
	SensitivePaths []string
	// MaxClients bounds each client table; the least recently seen client
	// is dropped first.
	MaxClients int
}

// DefaultConfig returns the stock ceilings.
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		RequestsPerMinute:     60,
		RequestsPerHour:       1000,
		AuthRequestsPerMinute: 10,
		AuthRequestsPerHour:   100,
		MaxClients:            10000,
	}
}

// Class distinguishes the general and auth-sensitive tables.
type Class string

const (
	ClassGeneral Class = "general"
	ClassAuth    Class = "auth"
)

// Window names a counting period.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
)

func (w Window) length() time.Duration {
	if w == WindowHour {
		return time.Hour
	}
	return time.Minute
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Class      Class
	Window     Window
	Limit      int
	RetryAfter time.Duration
}

// Error renders a denial.
func (d Decision) Error() *apierror.Error {
	var msg string
	if d.Class == ClassAuth {
		msg = fmt.Sprintf("Too many authentication attempts. You have exceeded the %d attempts per %s rate limit.", d.Limit, d.Window)
	} else {
		msg = fmt.Sprintf("You have exceeded the %d requests per %s rate limit.", d.Limit, d.Window)
	}
	return &apierror.Error{Kind: apierror.RateLimited, Message: msg, RetryAfter: d.RetryAfter}
}

type counter struct {
	count   int
	resetAt time.Time
}

// hit counts one request at now and reports whether it stays within limit.
func (c *counter) hit(now time.Time, length time.Duration, limit int) (bool, time.Duration) {
	if !now.Before(c.resetAt) {
		c.count = 1
		c.resetAt = now.Add(length)
		return true, 0
	}
	c.count++
	if c.count > limit {
		return false, c.resetAt.Sub(now)
	}
	return true, 0
}

type clientState struct {
	mu     sync.Mutex
	minute counter
	hour   counter
}

// Limiter tracks request counts per client.
type Limiter struct {
	cfg       Config
	now       func() time.Time
	general   *lru.Cache[string, *clientState]
	sensitive *lru.Cache[string, *clientState]
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter for cfg.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	size := cfg.MaxClients
	if size <= 0 {
		size = DefaultConfig().MaxClients
	}
	general, err := lru.New[string, *clientState](size)
	if err != nil {
		return nil, fmt.Errorf("create client table: %w", err)
	}
	sensitive, err := lru.New[string, *clientState](size)
	if err != nil {
		return nil, fmt.Errorf("create auth client table: %w", err)
	}

	l := &Limiter{cfg: cfg, now: time.Now, general: general, sensitive: sensitive}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Enabled reports whether the limiter applies at all.
func (l *Limiter) Enabled() bool { return l != nil && l.cfg.Enabled }

// Classify returns the table a path is counted in.
func (l *Limiter) Classify(path string) Class {
	if pipeline.MatchAny(l.cfg.SensitivePaths, path) {
		return ClassAuth
	}
	return ClassGeneral
}

// Check counts req against its client's ceilings.
func (l *Limiter) Check(req *pipeline.Request) Decision {
	return l.Allow(ClientID(req), req.Path)
}

// Allow counts one request from clientID to path. The minute window is
// checked first; a request denied there is not counted against the hour.
func (l *Limiter) Allow(clientID, path string) Decision {
	class := l.Classify(path)
	perMinute, perHour := l.cfg.RequestsPerMinute, l.cfg.RequestsPerHour
	table := l.general
	if class == ClassAuth {
		perMinute, perHour = l.cfg.AuthRequestsPerMinute, l.cfg.AuthRequestsPerHour
		table = l.sensitive
	}
	if !l.cfg.Enabled || (perMinute <= 0 && perHour <= 0) {
		return Decision{Allowed: true, Class: class}
	}

	st := l.state(table, clientID)
	now := l.now()

	st.mu.Lock()
	defer st.mu.Unlock()

	if perMinute > 0 {
		if ok, retry := st.minute.hit(now, WindowMinute.length(), perMinute); !ok {
			return Decision{Class: class, Window: WindowMinute, Limit: perMinute, RetryAfter: retry}
		}
	}
	if perHour > 0 {
		if ok, retry := st.hour.hit(now, WindowHour.length(), perHour); !ok {
			return Decision{Class: class, Window: WindowHour, Limit: perHour, RetryAfter: retry}
		}
	}
	return Decision{Allowed: true, Class: class}
}

// Clients returns the number of tracked clients in each table.
func (l *Limiter) Clients() (general, auth int) {
	return l.general.Len(), l.sensitive.Len()
}

func (l *Limiter) state(table *lru.Cache[string, *clientState], id string) *clientState {
	if st, ok := table.Get(id); ok {
		return st
	}
	st := &clientState{}
	if prev, ok, _ := table.PeekOrAdd(id, st); ok {
		return prev
	}
	return st
}

// ClientID identifies the caller: the authenticated token if one is
// attached, otherwise the client IP.
func ClientID(req *pipeline.Request) string {
	if req.Token != "" {
		return "key:" + req.Token
	}
	return "ip:" + req.ClientIP()
}
