// Package handler holds the HTTP response conventions shared by the API
// handlers: one JSON error envelope, one status mapping and one decoder.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/aroma/internal/domain"
	"github.com/dukerupert/aroma/internal/middleware"
	"github.com/dukerupert/aroma/internal/telemetry"
)

// errorBody is the envelope every error response uses:
// {"error": {"code": "...", "message": "...", "fields": {...}}}
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID, domain.EINVALIDREF:
		return http.StatusBadRequest
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized
	case domain.EPAYMENT:
		return http.StatusPaymentRequired
	case domain.ENOTFOUND, domain.ESTALE:
		return http.StatusNotFound
	case domain.ECONFLICT:
		return http.StatusConflict
	case domain.ETOOLARGE:
		return http.StatusRequestEntityTooLarge
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests
	case domain.EUNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse logs err with the request-scoped logger and writes the JSON
// error envelope. Internal errors are reported to Sentry and their details
// never reach the client.
func ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	status := ErrorCodeToHTTPStatus(code)

	logError(r, err, code, status)
	if status >= http.StatusInternalServerError && code != domain.EUNAVAILABLE {
		telemetry.CaptureErrorFromContext(r.Context(), err, map[string]interface{}{
			"op":   domain.ErrorOp(err),
			"code": code,
		})
	}

	writeError(w, status, errorDetail{
		Code:    code,
		Message: domain.ErrorMessage(err),
		Fields:  domain.GetValidationFields(err),
	})
}

// ValidationErrorResponse writes a 400 with per-field messages.
// Errors that are not validation errors fall back to ErrorResponse.
func ValidationErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	fields := domain.GetValidationFields(err)
	if fields == nil {
		ErrorResponse(w, r, err)
		return
	}

	logError(r, err, domain.EINVALID, http.StatusBadRequest)
	writeError(w, http.StatusBadRequest, errorDetail{
		Code:    domain.EINVALID,
		Message: domain.ErrorMessage(err),
		Fields:  fields,
	})
}

// NotFoundResponse is a convenience wrapper for 404 errors.
func NotFoundResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Errorf(domain.ENOTFOUND, "", "The requested resource was not found"))
}

// UnauthorizedResponse is a convenience wrapper for 401 errors.
func UnauthorizedResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Errorf(domain.EUNAUTHORIZED, "", "Authentication failed"))
}

// MethodNotAllowedResponse is used for the router's fallback.
func MethodNotAllowedResponse(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, errorDetail{
		Code:    "method_not_allowed",
		Message: "Method not allowed",
	})
}

// InternalErrorResponse logs err and returns a generic 500 response.
func InternalErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	ErrorResponse(w, r, domain.Internal(err, "", "An unexpected error occurred"))
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("failed to encode response", "error", err)
	}
}

// DecodeJSON decodes the request body into v.
// An empty body leaves v untouched; unknown fields are ignored so older and
// newer clients can share the API.
func DecodeJSON(r *http.Request, v any) error {
	const op = "http.decode"

	if r.Body == nil {
		return nil
	}

	err := json.NewDecoder(r.Body).Decode(v)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return domain.Errorf(domain.ETOOLARGE, op, "Request body too large")
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return domain.NewValidationError(op, typeErr.Field, "has the wrong type")
	}

	return domain.WrapError(err, domain.EINVALID, op, "Request body must be valid JSON")
}

func writeError(w http.ResponseWriter, status int, detail errorDetail) {
	JSON(w, status, errorBody{Error: detail})
}

func logError(r *http.Request, err error, code string, status int) {
	logger := middleware.GetLogger(r.Context())

	attrs := []any{
		"error", err.Error(),
		"code", code,
		"status", status,
	}
	if op := domain.ErrorOp(err); op != "" {
		attrs = append(attrs, "op", op)
	}

	if status >= 500 {
		logger.Error("request failed", attrs...)
		return
	}
	logger.Info("request failed", attrs...)
}
