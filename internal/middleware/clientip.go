package middleware

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const (
	// ClientIPContextKey is the context key for storing the client IP address
	ClientIPContextKey contextKey = "client_ip"
)

// WithClientIP stores the caller's address in the context for the request
// logger and rate limiter.
//
// Proxy headers are trusted only when trustProxy is set; otherwise anyone
// could pick their own rate-limit bucket by sending X-Forwarded-For.
func WithClientIP(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r)
			if trustProxy {
				ip = GetClientIP(r)
			}
			ctx := context.WithValue(r.Context(), ClientIPContextKey, ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClientIPFromContext retrieves the client IP address from the context.
// Returns an empty string if WithClientIP did not run.
func GetClientIPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(ClientIPContextKey).(string); ok {
		return ip
	}
	return ""
}

// GetClientIP extracts the client IP from the request, preferring the first
// parseable address in X-Forwarded-For, then X-Real-IP, then RemoteAddr.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return addr.String()
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if addr, err := netip.ParseAddr(xri); err == nil {
			return addr.String()
		}
	}

	return remoteIP(r)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
