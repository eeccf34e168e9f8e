// Package shield provides the HTTP middleware stack of the storylink bridge:
// security headers, body limits, request IDs and HEAD handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net/http"
)

// DefaultMaxBody caps JSON request bodies.
const DefaultMaxBody = 1 << 20

// APIStack returns the middleware for a JSON API, outermost first:
// HeadToGet → SecurityHeaders → MaxBody → RequestID.
func APIStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(DefaultMaxBody),
		RequestID(logger),
	}
}
