// Package audit records security events. Its handler is fixed at Info so
// events are written no matter how verbose the general log is configured.
package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Event names a category of security event.
type Event string

const (
	AuthAttempt        Event = "auth_attempt"
	AuthFailure        Event = "auth_failure"
	RateLimitExceeded  Event = "rate_limit_exceeded"
	DoSAttempt         Event = "dos_attempt"
	UnauthorizedAccess Event = "unauthorized_access"
	KeyGenerated       Event = "key_generated"
	KeyRevoked         Event = "key_revoked"
	CacheCleared       Event = "cache_cleared"
)

// level maps an event to the severity it is written at.
func (e Event) level() slog.Level {
	switch e {
	case RateLimitExceeded, DoSAttempt:
		return slog.LevelError
	case AuthFailure, UnauthorizedAccess:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Logger writes audit events as JSON lines. A nil *Logger discards events.
type Logger struct {
	logger    *slog.Logger
	closer    io.Closer
	requestID func(context.Context) string
}

// Option configures a Logger.
type Option func(*Logger)

// WithRequestID sets the function used to tag events with the request ID.
func WithRequestID(fn func(context.Context) string) Option {
	return func(l *Logger) { l.requestID = fn }
}

// New returns a Logger writing to w.
func New(w io.Writer, opts ...Option) *Logger {
	l := &Logger{
		logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})).With(slog.String("type", "security")),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open returns a Logger appending to path, or writing to stdout when path is empty.
func Open(path string, opts ...Option) (*Logger, error) {
	if path == "" {
		return New(os.Stdout, opts...), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	l := New(f, opts...)
	l.closer = f
	return l, nil
}

// Log records event with the given attributes.
func (l *Logger) Log(ctx context.Context, event Event, msg string, attrs ...slog.Attr) {
	if l == nil {
		return
	}
	all := make([]slog.Attr, 0, len(attrs)+2)
	all = append(all, slog.String("event", string(event)))
	if l.requestID != nil {
		if id := l.requestID(ctx); id != "" {
			all = append(all, slog.String("request_id", id))
		}
	}
	all = append(all, attrs...)
	l.logger.LogAttrs(ctx, event.level(), msg, all...)
}

// AuthAttempt records the outcome of one authentication attempt. Failures
// are recorded a second time as AuthFailure.
func (l *Logger) AuthAttempt(ctx context.Context, path, maskedKey, ip string, ok bool, reason string) {
	attrs := []slog.Attr{
		slog.String("path", path),
		slog.String("api_key", maskedKey),
		slog.String("ip", ip),
		slog.Bool("successful", ok),
	}
	if !ok && reason != "" {
		attrs = append(attrs, slog.String("reason", reason))
	}
	l.Log(ctx, AuthAttempt, "authentication attempt", attrs...)
	if !ok {
		l.Log(ctx, AuthFailure, "authentication failure", attrs...)
	}
}

// Close releases the underlying file, if any.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
