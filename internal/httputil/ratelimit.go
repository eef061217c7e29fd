package httputil

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiter holds a per-IP token bucket and the last time it was used.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits requests per client IP with a token bucket that allows
// limit requests per window and refills continuously.
type RateLimiter struct {
	mu            sync.Mutex
	limiters      map[string]*ipLimiter
	r             rate.Limit
	b             int
	window        time.Duration // entries idle longer than this are dropped
	requestCount  int           // counter for deterministic cleanup
	cleanupEvery  int           // cleanup every N requests (default: 100)
	cleanupAtSize int           // cleanup when map size exceeds this (default: 200)
	now           func() time.Time
}

// NewRateLimiter creates a new rate limiter with the specified limit and window
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limiters:      make(map[string]*ipLimiter),
		r:             rate.Limit(float64(limit) / window.Seconds()),
		b:             limit,
		window:        window,
		cleanupEvery:  100,
		cleanupAtSize: 200,
		now:           time.Now,
	}
}

// Allow reports whether one more request from ip is within its budget.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	// Deterministic cleanup: run every N requests or when the map gets too large
	rl.requestCount++
	if rl.requestCount%rl.cleanupEvery == 0 || len(rl.limiters) > rl.cleanupAtSize {
		rl.cleanupStale(now)
		if rl.requestCount >= rl.cleanupEvery*10 {
			rl.requestCount = 0
		}
	}

	l, ok := rl.limiters[ip]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(rl.r, rl.b)}
		rl.limiters[ip] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}

// An entry idle for a full window has refilled its bucket, so dropping it
// loses no state.
func (rl *RateLimiter) cleanupStale(now time.Time) {
	for ip, l := range rl.limiters {
		if now.Sub(l.lastSeen) > rl.window {
			delete(rl.limiters, ip)
		}
	}
}

// Cleanup removes all stale entries from the rate limiter.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.cleanupStale(rl.now())
}

// Middleware wraps an HTTP handler with rate limiting.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(ClientIP(r)) {
			WriteMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP extracts the client IP address from the request.
// The first X-Forwarded-For hop wins over RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
