// Package metadata records the caller's address and user agent in the
// request context.
package metadata

import (
	"net"
	"net/http"
	"strings"

	"portal/pkg/requestcontext"
)

// ClientMetadata stores the client IP and User-Agent for handlers and
// services. Forwarding headers are honored only when trustProxy is set,
// since any client can send them.
func ClientMetadata(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithClientMetadata(r.Context(),
				ClientIPFromRequest(r, trustProxy),
				r.Header.Get("User-Agent"),
			)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIPFromRequest returns the original client address.
func ClientIPFromRequest(r *http.Request, trustProxy bool) string {
	if trustProxy {
		// X-Forwarded-For is "client, proxy1, proxy2"
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
