package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryConfig holds configuration for Sentry error tracking
type SentryConfig struct {
	// DSN is the Sentry Data Source Name. Empty disables Sentry.
	DSN string

	// Environment identifies the deployment environment (dev, prod)
	Environment string

	// Release is the application version/release identifier
	Release string

	// SampleRate controls the percentage of errors to capture (0.0 to 1.0).
	// Zero means 1.0.
	SampleRate float64

	// TracesSampleRate controls the percentage of transactions to trace.
	TracesSampleRate float64
}

var sentryEnabled bool

// InitSentry initializes the Sentry client.
// Returns a cleanup function that flushes buffered events on shutdown.
func InitSentry(cfg SentryConfig, logger *slog.Logger) (func(), error) {
	if cfg.DSN == "" {
		logger.Info("Sentry disabled (SENTRY_DSN not configured)")
		sentryEnabled = false
		return func() {}, nil
	}

	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		SampleRate:       sampleRate,
		TracesSampleRate: cfg.TracesSampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Sentry: %w", err)
	}
	sentryEnabled = true

	logger.Info("Sentry initialized",
		"environment", cfg.Environment,
		"release", cfg.Release,
		"sample_rate", sampleRate,
	)

	return func() {
		sentry.Flush(2 * time.Second)
	}, nil
}

// IsEnabled returns whether Sentry is currently enabled
func IsEnabled() bool {
	return sentryEnabled
}

// CaptureError captures an error with optional extras.
// Safe to call even when Sentry is disabled.
func CaptureError(err error, extras map[string]interface{}) {
	if !IsEnabled() || err == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		for key, value := range extras {
			scope.SetExtra(key, value)
		}
		sentry.CaptureException(err)
	})
}

// CaptureErrorFromContext captures an error using the hub attached to ctx by
// SentryMiddleware, so request details travel with the event.
func CaptureErrorFromContext(ctx context.Context, err error, extras map[string]interface{}) {
	if !IsEnabled() || err == nil {
		return
	}

	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}

	hub.WithScope(func(scope *sentry.Scope) {
		for key, value := range extras {
			scope.SetExtra(key, value)
		}
		hub.CaptureException(err)
	})
}

// CaptureMessage captures a non-error event
func CaptureMessage(message string, level sentry.Level, extras map[string]interface{}) {
	if !IsEnabled() {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		for key, value := range extras {
			scope.SetExtra(key, value)
		}
		sentry.CaptureMessage(message)
	})
}

// SentryMiddleware attaches a request-scoped hub and reports panics before
// passing them on to the outer recovery middleware.
func SentryMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsEnabled() {
				next.ServeHTTP(w, r)
				return
			}

			hub := sentry.GetHubFromContext(r.Context())
			if hub == nil {
				hub = sentry.CurrentHub().Clone()
			}

			hub.Scope().SetRequest(r)
			ctx := sentry.SetHubOnContext(r.Context(), hub)

			defer func() {
				if err := recover(); err != nil {
					if err != http.ErrAbortHandler {
						hub.RecoverWithContext(ctx, err)
						sentry.Flush(2 * time.Second)
					}
					panic(err)
				}
			}()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HTTPTransport wraps an http.RoundTripper to add Sentry tracing to
// outbound provider calls.
type HTTPTransport struct {
	Transport http.RoundTripper
}

// NewHTTPTransport wraps base, or http.DefaultTransport when base is nil.
func NewHTTPTransport(base http.RoundTripper) *HTTPTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &HTTPTransport{Transport: base}
}

func (t *HTTPTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !IsEnabled() {
		return t.Transport.RoundTrip(req)
	}

	span := sentry.StartSpan(req.Context(), "http.client")
	span.Description = fmt.Sprintf("%s %s%s", req.Method, req.URL.Host, req.URL.Path)
	defer span.Finish()

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
	} else {
		span.SetData("http.status_code", resp.StatusCode)
	}

	return resp, err
}
