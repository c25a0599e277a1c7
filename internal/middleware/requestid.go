package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request id in both directions. CORS exposes
	// it next to X-Cart-ID so browser clients can quote it in bug reports.
	RequestIDHeader = "X-Request-ID"

	RequestIDContextKey contextKey = "request_id"

	maxRequestIDLength = 64
)

// RequestID tags each request with an id, reusing an inbound X-Request-ID
// from a proxy or the cart client when it is well formed. Anything else is
// replaced so it cannot reach the logs verbatim.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), RequestIDContextKey, id)))
	})
}

// GetRequestID returns the id RequestID stored in ctx, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDContextKey).(string)
	return id
}

// validRequestID accepts short ids made of letters, digits, '-', '_' and '.'.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}
