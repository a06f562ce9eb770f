package rpc

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxLimiters bounds the per-caller limiter map.
	maxLimiters = 10000

	// minIdle is the shortest time an unused limiter is kept.
	minIdle = 10 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per caller. Unused buckets are
// dropped once idle long enough to have refilled, so eviction never
// resets a throttled caller.
type RateLimiter struct {
	mu        sync.Mutex
	entries   map[string]*limiterEntry
	rate      rate.Limit
	burst     int
	idle      time.Duration
	max       int
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter creates a limiter allowing rps calls per second per caller
// with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	idle := minIdle
	if refill := time.Duration(float64(burst) / rps * float64(time.Second)); refill > idle {
		idle = refill
	}
	return &RateLimiter{
		entries: make(map[string]*limiterEntry),
		rate:    rate.Limit(rps),
		burst:   burst,
		idle:    idle,
		max:     maxLimiters,
		now:     time.Now,
	}
}

// getLimiter returns the limiter for key, creating it on first use.
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= rl.idle {
		rl.sweep(now)
	}

	e, exists := rl.entries[key]
	if !exists {
		if len(rl.entries) >= rl.max {
			rl.sweep(now)
		}
		if len(rl.entries) >= rl.max {
			rl.evictOldest()
		}
		e = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// sweep drops entries idle for longer than rl.idle.
func (rl *RateLimiter) sweep(now time.Time) {
	rl.lastSweep = now
	for key, e := range rl.entries {
		if now.Sub(e.lastSeen) >= rl.idle {
			delete(rl.entries, key)
		}
	}
}

func (rl *RateLimiter) evictOldest() {
	var oldest string
	var at time.Time
	for key, e := range rl.entries {
		if oldest == "" || e.lastSeen.Before(at) {
			oldest, at = key, e.lastSeen
		}
	}
	delete(rl.entries, oldest)
}

// Len returns the number of tracked callers.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Handler returns the rate limiting middleware. Authenticated requests are
// keyed by account, the rest by client IP.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := limitKey(r)
		if !rl.getLimiter(key).Allow() {
			slog.Warn("rate limit exceeded", "key", key, "path", r.URL.Path, "method", r.Method)
			w.Header().Set("Retry-After", retryAfter(rl.rate))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func limitKey(r *http.Request) string {
	if caller, ok := CallerFrom(r.Context()); ok {
		return "account:" + string(caller.Predecessor)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// retryAfter is the wait, in whole seconds, until the next token.
func retryAfter(limit rate.Limit) string {
	if limit <= 0 || limit >= 1 {
		return "1"
	}
	return strconv.Itoa(int(math.Ceil(1 / float64(limit))))
}
