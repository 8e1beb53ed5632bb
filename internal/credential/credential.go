// Package credential stores API keys and the metadata that governs what they
// may do.
//
// Keys are opaque hex tokens. The store never deletes a key; revocation only
// clears its active flag so the record stays available for auditing.
package credential

import (
	"slices"
	"time"
)

// Well-known scopes.
const (
	ScopeAnalyze   = "analyze"
	ScopeStandards = "standards"
	ScopeAdmin     = "admin"
)

// DefaultScopes are granted to keys generated without an explicit scope list.
var DefaultScopes = []string{ScopeAnalyze, ScopeStandards}

// Credential is the record stored for one API key.
type Credential struct {
	Name     string            `json:"name,omitempty"`
	Created  time.Time         `json:"created"`
	Expires  *time.Time        `json:"expires,omitempty"`
	Active   bool              `json:"active"`
	Scopes   []string          `json:"scopes"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Expired reports whether the credential has an expiry at or before now.
func (c Credential) Expired(now time.Time) bool {
	return c.Expires != nil && !c.Expires.After(now)
}

// Valid reports whether the credential may be used at now.
func (c Credential) Valid(now time.Time) bool {
	return c.Active && !c.Expired(now)
}

// HasScope reports whether scope was granted. The empty scope is always held.
func (c Credential) HasScope(scope string) bool {
	if scope == "" {
		return true
	}
	return slices.Contains(c.Scopes, scope)
}

// clone returns a deep copy so callers never share slices or maps with the store.
func (c Credential) clone() Credential {
	out := c
	out.Scopes = slices.Clone(c.Scopes)
	if c.Expires != nil {
		exp := *c.Expires
		out.Expires = &exp
	}
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Mask shortens a token for logs: the first eight characters followed by "...".
func Mask(token string) string {
	if len(token) <= 8 {
		return token + "..."
	}
	return token[:8] + "..."
}
