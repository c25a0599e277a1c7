package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Common size limits
const (
	KB = 1024
	MB = 1024 * KB

	// DefaultMaxBodySize covers every cart and checkout payload (64KB).
	DefaultMaxBodySize = 64 * KB

	// WebhookMaxBodySize is for provider notifications (1MB).
	WebhookMaxBodySize = 1 * MB
)

// MaxBodySize limits the size of request bodies.
// If no size is provided, DefaultMaxBodySize is used.
// Requests announcing a larger Content-Length get 413 immediately; chunked
// bodies are cut off by http.MaxBytesReader and fail to decode.
func MaxBodySize(maxBytes ...int64) func(http.Handler) http.Handler {
	limit := int64(DefaultMaxBodySize)
	if len(maxBytes) > 0 {
		limit = maxBytes[0]
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.ContentLength > limit {
				respondTooLarge(w, r, "Request body too large")
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// Common timeout values
const (
	// DefaultTimeout bounds a request end to end. It must exceed the payment
	// provider timeout so verify can report the provider's failure itself.
	DefaultTimeout = 45 * time.Second

	// ShortTimeout is for cart operations (10 seconds)
	ShortTimeout = 10 * time.Second
)

// Timeout adds a deadline to request processing.
// If no duration is provided, DefaultTimeout is used.
// The handler's response is buffered; when the deadline passes first the
// client gets 503 and everything the handler wrote is discarded.
func Timeout(timeout ...time.Duration) func(http.Handler) http.Handler {
	duration := DefaultTimeout
	if len(timeout) > 0 {
		duration = timeout[0]
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()

			tw := &timeoutWriter{ResponseWriter: w, header: make(http.Header)}
			done := make(chan struct{})
			panicked := make(chan any, 1)

			go func() {
				defer close(done)
				defer func() {
					if p := recover(); p != nil {
						panicked <- p
					}
				}()
				next.ServeHTTP(tw, r.WithContext(ctx))
			}()

			select {
			case <-done:
				select {
				case p := <-panicked:
					panic(p)
				default:
				}
				tw.mu.Lock()
				defer tw.mu.Unlock()
				tw.flush()
			case <-ctx.Done():
				tw.mu.Lock()
				defer tw.mu.Unlock()
				tw.timedOut = true
				respondUnavailable(w, r, "Request timed out")
			}
		})
	}
}

// timeoutWriter buffers headers until the handler finishes or the deadline
// passes, whichever comes first.
type timeoutWriter struct {
	http.ResponseWriter
	mu          sync.Mutex
	header      http.Header
	wroteHeader bool
	timedOut    bool
	code        int
	body        []byte
}

func (tw *timeoutWriter) Header() http.Header {
	return tw.header
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || tw.wroteHeader {
		return
	}
	tw.wroteHeader = true
	tw.code = code
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, context.DeadlineExceeded
	}
	if !tw.wroteHeader {
		tw.wroteHeader = true
		tw.code = http.StatusOK
	}
	tw.body = append(tw.body, b...)
	return len(b), nil
}

// flush copies the buffered response to the client. Caller holds mu.
func (tw *timeoutWriter) flush() {
	dst := tw.ResponseWriter.Header()
	for k, v := range tw.header {
		dst[k] = v
	}
	if !tw.wroteHeader {
		tw.code = http.StatusOK
	}
	tw.ResponseWriter.WriteHeader(tw.code)
	tw.ResponseWriter.Write(tw.body)
}
