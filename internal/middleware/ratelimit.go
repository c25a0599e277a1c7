package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig configures the rate limiter
type RateLimiterConfig struct {
	// RequestsPerSecond is the rate of token refill
	RequestsPerSecond float64

	// BurstSize is the maximum number of requests allowed in a burst
	BurstSize int

	// IdleTimeout is how long an unused client's limiter is kept
	IdleTimeout time.Duration

	// KeyFunc extracts the rate limit key from the request.
	// Default: the address stored by WithClientIP, falling back to RemoteAddr.
	KeyFunc func(r *http.Request) string
}

// DefaultRateLimiterConfig returns limits suited to cart traffic, where a
// shopper tapping +/- quickly produces short bursts.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 10,
		BurstSize:         20,
		IdleTimeout:       3 * time.Minute,
		KeyFunc:           clientKey,
	}
}

// StrictRateLimiterConfig returns stricter limits for checkout initialization.
func StrictRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 1,
		BurstSize:         5,
		IdleTimeout:       3 * time.Minute,
		KeyFunc:           clientKey,
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client key.
type RateLimiter struct {
	config   RateLimiterConfig
	mu       sync.Mutex
	visitors map[string]*visitor
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a rate limiter and starts its eviction loop.
// Call Stop when the server shuts down.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.KeyFunc == nil {
		config.KeyFunc = clientKey
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 3 * time.Minute
	}
	if config.BurstSize < 1 {
		config.BurstSize = 1
	}

	rl := &RateLimiter{
		config:   config,
		visitors: make(map[string]*visitor),
		stop:     make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

// Allow reports whether a request for key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.limiter(key).Allow()
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize)}
		rl.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

func (rl *RateLimiter) evictLoop() {
	ticker := time.NewTicker(rl.config.IdleTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evict(time.Now())
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.config.IdleTimeout {
			delete(rl.visitors, key)
		}
	}
}

// Stop ends the eviction loop. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Middleware rejects requests over the limit with 429 and a Retry-After hint.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	retryAfter := "1"
	if rl.config.RequestsPerSecond > 0 && rl.config.RequestsPerSecond < 1 {
		retryAfter = strconv.Itoa(int(1/rl.config.RequestsPerSecond + 0.5))
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(rl.config.KeyFunc(r)) {
			w.Header().Set("Retry-After", retryAfter)
			respondTooManyRequests(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit creates a rate limiting middleware with the given config.
// The returned limiter must be stopped by the caller.
func RateLimit(config RateLimiterConfig) (func(http.Handler) http.Handler, *RateLimiter) {
	limiter := NewRateLimiter(config)
	return limiter.Middleware, limiter
}

func clientKey(r *http.Request) string {
	if ip := GetClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return remoteIP(r)
}
