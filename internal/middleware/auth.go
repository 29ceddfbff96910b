package middleware

import (
	"net/http"

	"ctxstore/internal/auth"
	"ctxstore/internal/interfaces/http/response"
)

// Authenticate resolves the caller's API key to a principal and stores it on
// the request context. Role checks stay in the service layer; this only
// establishes who is calling.
func Authenticate(authenticator *auth.Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := authenticator.Authenticate(r)
			if err != nil {
				response.Error(w, r, err)
				return
			}

			ctx := auth.WithPrincipal(r.Context(), p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
