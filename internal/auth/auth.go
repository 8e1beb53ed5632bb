// Package auth resolves API keys carried by a request and decides whether
// they grant access to a path.
package auth

import (
	"strings"

	"github.com/tjfontaine/lintgate/internal/credential"
	"github.com/tjfontaine/lintgate/internal/pipeline"
)

// Carriers checked by Extract, in priority order.
const (
	HeaderAPIKey = "X-Api-Key"
	QueryAPIKey  = "api_key"
)

// Reason explains a denied authorization.
type Reason string

const (
	// ReasonMissing means no credential was supplied.
	ReasonMissing Reason = "missing"
	// ReasonInvalid means the credential is unknown, expired, revoked or
	// lacks the required scope.
	ReasonInvalid Reason = "invalid"
)

// KeyStore is the subset of the credential store the authenticator needs.
type KeyStore interface {
	Validate(token, scope string) bool
	Lookup(token string) (credential.Credential, bool)
}

// Authenticator validates API keys against a KeyStore.
type Authenticator struct {
	keys KeyStore
}

// NewAuthenticator creates an authenticator backed by keys.
func NewAuthenticator(keys KeyStore) *Authenticator {
	return &Authenticator{keys: keys}
}

// Result is the outcome of Authorize.
type Result struct {
	Granted    bool
	Token      string
	Credential credential.Credential
	Reason     Reason
}

// Authorize extracts the request's credential and checks it holds scope. An
// empty scope admits any valid credential.
func (a *Authenticator) Authorize(req *pipeline.Request, scope string) Result {
	token, ok := Extract(req)
	if !ok {
		return Result{Reason: ReasonMissing}
	}
	if !a.keys.Validate(token, scope) {
		return Result{Token: token, Reason: ReasonInvalid}
	}
	cred, ok := a.keys.Lookup(token)
	if !ok {
		return Result{Token: token, Reason: ReasonInvalid}
	}
	return Result{Granted: true, Token: token, Credential: cred}
}

// Extract returns the API key from the Authorization bearer header, the
// X-Api-Key header, or the api_key query parameter, whichever comes first.
func Extract(req *pipeline.Request) (string, bool) {
	if req.Header != nil {
		if token, ok := bearer(req.Header.Get("Authorization")); ok {
			return token, true
		}
		if token := strings.TrimSpace(req.Header.Get(HeaderAPIKey)); token != "" {
			return token, true
		}
	}
	if token := strings.TrimSpace(req.QueryParam(QueryAPIKey)); token != "" {
		return token, true
	}
	return "", false
}

// bearer parses "Bearer <token>" with a case-insensitive scheme.
func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
