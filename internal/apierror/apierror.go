// Package apierror defines the error taxonomy shared by every stage and
// handler, and renders it as the standard JSON envelope.
package apierror

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/tjfontaine/lintgate/internal/pipeline"
)

// Kind classifies a failure.
type Kind int

const (
	// UpstreamFailure is the zero value so unclassified errors render as 500.
	UpstreamFailure Kind = iota
	AuthenticationMissing
	AuthorizationDenied
	RateLimited
	ValidationFailed
	NotFound
)

// Status returns the HTTP status for k.
func (k Kind) Status() int {
	switch k {
	case AuthenticationMissing:
		return http.StatusUnauthorized
	case AuthorizationDenied:
		return http.StatusForbidden
	case RateLimited:
		return http.StatusTooManyRequests
	case ValidationFailed:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Title returns the short label used in the envelope's error field.
func (k Kind) Title() string {
	switch k {
	case AuthenticationMissing:
		return "Authentication required"
	case AuthorizationDenied:
		return "Invalid API key"
	case RateLimited:
		return "Rate limit exceeded"
	case ValidationFailed:
		return "Bad request"
	case NotFound:
		return "Not found"
	default:
		return "Server error"
	}
}

func (k Kind) String() string {
	switch k {
	case AuthenticationMissing:
		return "authentication_missing"
	case AuthorizationDenied:
		return "authorization_denied"
	case RateLimited:
		return "rate_limited"
	case ValidationFailed:
		return "validation_failed"
	case NotFound:
		return "not_found"
	default:
		return "upstream_failure"
	}
}

// Error is a classified failure carrying the client-facing message.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfter is only meaningful for RateLimited.
	RetryAfter time.Duration
	// Err is the underlying cause; it is logged, never rendered.
	Err error
}

// New returns an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an Error of the given kind wrapping err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Envelope is the JSON body of every error response.
type Envelope = pipeline.ErrorBody

// Response renders e as a pipeline response. Rate-limit denials carry
// Retry-After; missing credentials carry a Bearer challenge.
func (e *Error) Response() *pipeline.Response {
	env := Envelope{Error: e.Kind.Title(), Message: e.Message}

	var retry int
	if e.Kind == RateLimited {
		retry = RetrySeconds(e.RetryAfter)
		env.RetryAfter = retry
	}

	resp := pipeline.JSON(e.Kind.Status(), env)
	switch e.Kind {
	case RateLimited:
		resp.WithHeader("Retry-After", strconv.Itoa(retry))
	case AuthenticationMissing:
		resp.WithHeader("WWW-Authenticate", "Bearer")
	}
	return resp
}

// RetrySeconds rounds d up to whole seconds, never below one.
func RetrySeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// ServerError is the generic response used when a failure must not leak detail.
func ServerError() *pipeline.Response {
	return pipeline.ServerError()
}
