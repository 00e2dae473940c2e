package httpx

import (
	"context"
	"net/http"

	"github.com/aussiebroadwan/vulntab/pkg/slogx"
)

// BearerSource reports the confirmed session token, if any.
type BearerSource func() (token string, ok bool)

// RequireSession rejects requests while no confirmed session exists and
// injects the bearer token into the request context otherwise.
func RequireSession(src BearerSource) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, ok := src()
			if !ok {
				slogx.FromContext(r.Context()).Debug("request without a confirmed session")
				writeBearerError(w, "no confirmed session")
				return
			}
			ctx := context.WithValue(r.Context(), CtxKeyBearer, tok)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RFC 6750-compliant error response for bearer auth.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	WriteError(w, http.StatusUnauthorized, "unauthorized", desc)
}
