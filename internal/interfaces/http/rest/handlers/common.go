// Package handlers translates HTTP requests into service calls. Handlers
// decode and validate, pull the principal off the context, call the service
// and wrap the result in the response envelope; all semantics live below.
package handlers

import (
	"net/http"

	"ctxstore/internal/auth"
	apperrors "ctxstore/internal/errors"
	"ctxstore/internal/interfaces/http/response"
	"ctxstore/internal/service"
)

// principalFrom returns the authenticated principal. The auth middleware
// always sets one on tool routes, so a miss means a wiring bug, but the
// caller still gets a sane 401 rather than a panic.
func principalFrom(r *http.Request) (auth.Principal, error) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		return auth.Principal{}, apperrors.NewAuthRequired("a valid api key is required")
	}
	return p, nil
}

// toWarnings converts service warnings into envelope warnings.
func toWarnings(ws []service.Warning) []response.Warning {
	if len(ws) == 0 {
		return nil
	}
	out := make([]response.Warning, len(ws))
	for i, w := range ws {
		out[i] = response.Warning{Kind: w.Kind, Message: w.Message}
	}
	return out
}
