package api

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tjfontaine/lintgate/internal/apierror"
	"github.com/tjfontaine/lintgate/internal/audit"
	"github.com/tjfontaine/lintgate/internal/credential"
	"github.com/tjfontaine/lintgate/internal/pipeline"
)

type generateKeyResponse struct {
	Success bool                  `json:"success"`
	Key     string                `json:"key"`
	Data    credential.Credential `json:"data"`
}

func (h *Handlers) generateKey(req *pipeline.Request) (*pipeline.Response, error) {
	if h.keys == nil || h.cfg.Environment == EnvProduction {
		return nil, apierror.New(apierror.NotFound, "Route not found")
	}
	if req.JSONErr != nil {
		return nil, apierror.New(apierror.ValidationFailed, "Request body must be valid JSON")
	}

	params, err := h.keyParams(req.JSON)
	if err != nil {
		return nil, err
	}

	token, err := h.keys.Generate(params)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	cred, _ := h.keys.Lookup(token)

	h.audit.Log(req.Context(), audit.KeyGenerated, "api key generated",
		slog.String("api_key", credential.Mask(token)),
		slog.String("name", cred.Name),
		slog.String("scopes", strings.Join(cred.Scopes, ",")),
		slog.String("ip", req.ClientIP()),
	)

	return pipeline.JSON(http.StatusOK, generateKeyResponse{Success: true, Key: token, Data: cred}), nil
}

func (h *Handlers) keyParams(body map[string]any) (credential.GenerateParams, error) {
	p := credential.GenerateParams{
		Name:   "API Key " + h.now().Format("2006-01-02 15:04:05"),
		Scopes: h.cfg.KeyScopes,
	}

	if v, ok := body["name"]; ok && v != nil {
		name, ok := v.(string)
		if !ok {
			return p, apierror.New(apierror.ValidationFailed, "The name parameter must be a string")
		}
		if name != "" {
			p.Name = name
		}
	}

	if v, ok := body["scopes"]; ok && v != nil {
		list, ok := v.([]any)
		if !ok {
			return p, apierror.New(apierror.ValidationFailed, "The scopes parameter must be an array of strings")
		}
		scopes := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok || s == "" {
				return p, apierror.New(apierror.ValidationFailed, "The scopes parameter must be an array of strings")
			}
			scopes = append(scopes, s)
		}
		if len(scopes) > 0 {
			p.Scopes = scopes
		}
	}

	expires, err := parseExpiry(body["expires"])
	if err != nil {
		return p, apierror.New(apierror.ValidationFailed, err.Error())
	}
	p.Expires = expires
	return p, nil
}

var errExpiry = errors.New("The expires parameter must be a unix timestamp or RFC 3339 time")

// parseExpiry accepts a unix timestamp (number or numeric string) or an
// RFC 3339 time. Zero and absent mean no expiry.
func parseExpiry(v any) (*time.Time, error) {
	var secs int64
	switch e := v.(type) {
	case nil:
		return nil, nil
	case float64:
		if e != math.Trunc(e) {
			return nil, errExpiry
		}
		secs = int64(e)
	case string:
		if e == "" {
			return nil, nil
		}
		if t, err := time.Parse(time.RFC3339, e); err == nil {
			t = t.UTC()
			return &t, nil
		}
		n, err := strconv.ParseInt(e, 10, 64)
		if err != nil {
			return nil, errExpiry
		}
		secs = n
	default:
		return nil, errExpiry
	}
	if secs == 0 {
		return nil, nil
	}
	t := time.Unix(secs, 0).UTC()
	return &t, nil
}
