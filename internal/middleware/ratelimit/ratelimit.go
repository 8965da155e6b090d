// Package ratelimit provides per-client rate limiting middleware using a token
// bucket per client IP. Expensive routes can take more than one token.
package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds the configuration for rate limiting
type Config struct {
	// Enabled enables rate limiting
	Enabled bool
	// RequestsPerMin is the number of tokens refilled per minute per client
	RequestsPerMin int
	// BurstSize is the bucket capacity
	BurstSize int
	// CleanupMinutes is how long an idle client is remembered
	CleanupMinutes int
}

// client tracks a bucket and its last access time
type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages per-client token buckets
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	rate    rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time
	stopCh  chan struct{}
	once    sync.Once
}

// New creates a RateLimiter and starts its pruning loop
func New(cfg Config) *RateLimiter {
	idle := time.Duration(cfg.CleanupMinutes) * time.Minute
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}

	rl := &RateLimiter{
		clients: make(map[string]*client),
		rate:    rate.Limit(float64(cfg.RequestsPerMin) / 60.0),
		burst:   burst,
		idle:    idle,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go rl.pruneLoop()
	return rl
}

// Stop stops the pruning loop. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) pruneLoop() {
	ticker := time.NewTicker(rl.idle)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.prune()
		case <-rl.stopCh:
			return
		}
	}
}

// prune forgets clients that have been idle longer than rl.idle
func (rl *RateLimiter) prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idle)
	for key, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, key)
		}
	}
}

// reserve takes cost tokens from key's bucket. When the bucket cannot cover
// the cost it returns false and how long the client should wait.
func (rl *RateLimiter) reserve(key string, cost int) (bool, time.Duration) {
	rl.mu.Lock()
	now := rl.now()
	c, ok := rl.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	// a cost above the burst could never be served
	if cost > rl.burst {
		cost = rl.burst
	}
	r := c.limiter.ReserveN(now, cost)
	if !r.OK() {
		return false, time.Minute
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// healthCheckPaths are exempt from rate limiting
var healthCheckPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/readyz":  true,
}

// Middleware returns an HTTP middleware that takes one token per request
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return rl.Weighted(1)
}

// Weighted returns an HTTP middleware that takes cost tokens per request.
// Mount it on routes whose handlers are expensive to run.
func (rl *RateLimiter) Weighted(cost int) func(http.Handler) http.Handler {
	if cost < 1 {
		cost = 1
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if healthCheckPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			ok, wait := rl.reserve(clientKey(r), cost)
			if !ok {
				retry := int(wait.Seconds())
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{
						"code":    "RATE_LIMIT_EXCEEDED",
						"message": "Too many requests. Please try again later.",
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientKey identifies the caller by the host part of RemoteAddr. Proxy
// headers are resolved by chi's RealIP middleware when it is trusted.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Disabled is a no-op middleware
func Disabled(next http.Handler) http.Handler {
	return next
}
