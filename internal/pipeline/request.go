package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/tjfontaine/lintgate/internal/credential"
)

// ErrBodyTooLarge is returned by NewRequest when the body exceeds the configured limit.
var ErrBodyTooLarge = errors.New("request body too large")

// Request is the envelope stages and handlers operate on.
type Request struct {
	Method     string
	Path       string
	Header     http.Header
	Query      url.Values
	RemoteAddr string

	// Body is the raw request body.
	Body []byte
	// JSON is the decoded body for application/json payloads whose top level
	// is an object. It is nil otherwise.
	JSON map[string]any
	// JSONErr records why a JSON payload could not be decoded.
	JSONErr error

	// Token and Credential are attached by the auth stage once the caller
	// has been authenticated.
	Token      string
	Credential *credential.Credential

	ctx context.Context
}

// NewRequest reads r into a Request. Bodies larger than maxBody bytes are
// rejected with ErrBodyTooLarge; maxBody <= 0 disables the limit.
func NewRequest(r *http.Request, maxBody int64) (*Request, error) {
	req := &Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		Header:     r.Header,
		Query:      r.URL.Query(),
		RemoteAddr: r.RemoteAddr,
		ctx:        r.Context(),
	}
	if req.Path == "" {
		req.Path = "/"
	}

	if r.Body == nil || r.Body == http.NoBody {
		return req, nil
	}

	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if maxBody > 0 && int64(len(body)) > maxBody {
		return nil, ErrBodyTooLarge
	}
	req.Body = body

	if len(body) > 0 && strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var parsed map[string]any
		if err := json.Unmarshal(body, &parsed); err != nil {
			req.JSONErr = err
		} else {
			req.JSON = parsed
		}
	}

	return req, nil
}

// Context returns the request context, never nil.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext returns a shallow copy of r carrying ctx.
func (r *Request) WithContext(ctx context.Context) *Request {
	clone := *r
	clone.ctx = ctx
	return &clone
}

// WithCredential returns a shallow copy of r carrying the authenticated identity.
func (r *Request) WithCredential(token string, cred credential.Credential) *Request {
	clone := *r
	clone.Token = token
	clone.Credential = &cred
	return &clone
}

// ClientIP returns the first address in X-Forwarded-For, falling back to the
// host part of the peer address.
func (r *Request) ClientIP() string {
	if r.Header != nil {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	return r.RemoteAddr
}

// QueryParam returns the first value of the named query parameter.
func (r *Request) QueryParam(name string) string {
	if r.Query == nil {
		return ""
	}
	return r.Query.Get(name)
}
