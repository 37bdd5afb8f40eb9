package analysis

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	// DefaultRateLimit and DefaultRateWindow allow 10 requests per minute per client
	DefaultRateLimit  = 10
	DefaultRateWindow = time.Minute
)

// SlidingWindowLimiter admits at most limit events per key within any window-long span
type SlidingWindowLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	now       func() time.Time
	hits      map[string][]time.Time
	lastSweep time.Time
}

// NewSlidingWindowLimiter creates a limiter. A nil now uses time.Now.
func NewSlidingWindowLimiter(limit int, window time.Duration, now func() time.Time) *SlidingWindowLimiter {
	if now == nil {
		now = time.Now
	}
	return &SlidingWindowLimiter{
		limit:     limit,
		window:    window,
		now:       now,
		hits:      make(map[string][]time.Time),
		lastSweep: now(),
	}
}

// Allow records an event for key and reports whether it is admitted. When it
// is not, the returned duration is the time until the oldest event leaves the window.
func (l *SlidingWindowLimiter) Allow(key string) (bool, time.Duration) {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true, 0
	}

	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > l.window {
		l.sweep(cutoff)
		l.lastSweep = now
	}

	hits := prune(l.hits[key], cutoff)
	if len(hits) >= l.limit {
		l.hits[key] = hits
		return false, hits[0].Sub(cutoff)
	}

	l.hits[key] = append(hits, now)
	return true, 0
}

// sweep drops keys with no events inside the window
func (l *SlidingWindowLimiter) sweep(cutoff time.Time) {
	for key, hits := range l.hits {
		if len(prune(hits, cutoff)) == 0 {
			delete(l.hits, key)
		}
	}
}

// prune removes events at or before cutoff; hits is ordered oldest first
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

// rateLimitMiddleware gates requests per client IP
func rateLimitMiddleware(limiter *SlidingWindowLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, retryAfter := limiter.Allow(clientKey(r))
			if !allowed {
				seconds := int(math.Ceil(retryAfter.Seconds()))
				if seconds <= 0 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				respondError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey identifies the caller by RemoteAddr. Proxy headers only count when
// the server mounted middleware.RealIP, which rewrites RemoteAddr.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
