package middleware

import (
	"net"
	"net/http"

	"github.com/jmylchreest/restorr/internal/observability"
	"github.com/jmylchreest/restorr/internal/session"
)

// ClientIdentity stores the caller's normalized network address in the
// request context. Sessions are keyed by it, so it must run after
// chi's RealIP when the server sits behind a proxy.
func ClientIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observability.ContextWithClientIdentity(r.Context(), IdentityFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityFromRequest derives the session identity from RemoteAddr.
func IdentityFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RealIP rewrites RemoteAddr without a port.
		host = r.RemoteAddr
	}
	return session.NormalizeIdentity(host)
}
