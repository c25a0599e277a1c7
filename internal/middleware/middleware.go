package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/aroma/internal/domain"
)

// contextKey is the type for values this package stores in a request context.
type contextKey string

// ============================================================================
// MIDDLEWARE ERROR RESPONSE HELPERS
// ============================================================================
//
// These mirror handler.ErrorResponse but live here because the handler
// package imports middleware for GetLogger and GetCartToken.

// respondWithError writes the JSON error envelope used by the whole API.
func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	message := domain.ErrorMessage(err)
	status := errorCodeToHTTPStatus(code)

	logger := GetLogger(r.Context())
	if logger == nil {
		logger = slog.Default()
	}

	attrs := []any{
		"error", err.Error(),
		"code", code,
		"status", status,
	}

	if status >= 500 {
		logger.Error("middleware error", attrs...)
	} else {
		logger.Info("middleware error", attrs...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// respondInternalError logs the error and returns a generic 500 response.
func respondInternalError(w http.ResponseWriter, r *http.Request, err error) {
	respondWithError(w, r, domain.Internal(err, "", "An unexpected error occurred"))
}

// respondTooManyRequests is a convenience wrapper for 429 errors.
func respondTooManyRequests(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, r, domain.Errorf(domain.ERATELIMIT, "", "Too many requests"))
}

// respondTooLarge is a convenience wrapper for 413 errors.
func respondTooLarge(w http.ResponseWriter, r *http.Request, message string) {
	respondWithError(w, r, domain.Errorf(domain.ETOOLARGE, "", "%s", message))
}

// respondUnavailable is a convenience wrapper for 503 errors.
func respondUnavailable(w http.ResponseWriter, r *http.Request, message string) {
	respondWithError(w, r, domain.Unavailable(nil, "", message))
}

// errorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func errorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID, domain.EINVALIDREF:
		return http.StatusBadRequest // 400
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized // 401
	case domain.EPAYMENT:
		return http.StatusPaymentRequired // 402
	case domain.ENOTFOUND, domain.ESTALE:
		return http.StatusNotFound // 404
	case domain.ECONFLICT:
		return http.StatusConflict // 409
	case domain.ETOOLARGE:
		return http.StatusRequestEntityTooLarge // 413
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests // 429
	case domain.EUNAVAILABLE:
		return http.StatusServiceUnavailable // 503
	default:
		return http.StatusInternalServerError // 500
	}
}
