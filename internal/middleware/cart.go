package middleware

import (
	"context"
	"net/http"
	"strings"
)

const (
	// CartTokenHeader carries the cart identity token in both directions.
	CartTokenHeader = "X-Cart-ID"

	// CartTokenContextKey is the context key for the token the client sent.
	CartTokenContextKey contextKey = "cart_token"

	maxCartTokenLength = 128
)

// WithCartToken reads the client's cart token from the X-Cart-ID header.
// Oversized or blank values are dropped so the cart service mints a new cart
// instead of looking them up.
func WithCartToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get(CartTokenHeader))
		if len(token) > maxCartTokenLength {
			token = ""
		}
		ctx := context.WithValue(r.Context(), CartTokenContextKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCartToken returns the token the client sent, or "" for none.
func GetCartToken(ctx context.Context) string {
	if token, ok := ctx.Value(CartTokenContextKey).(string); ok {
		return token
	}
	return ""
}
