package internal

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type rateLimiter struct {
	mu        sync.Mutex
	store     map[string]*rateEntry
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type rateEntry struct {
	limiter *rate.Limiter
	last    time.Time
}

// NewRateLimitHandler limits each client IP to rps requests per second.
// Clients idle for longer than ttl are forgotten.
func NewRateLimitHandler(next http.Handler, rps int64, burst int64, ttl time.Duration) http.Handler {
	if rps <= 0 {
		return next
	}
	limiter := newRateLimiter(float64(rps), int(burst), ttl)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.allow(clientIP(r)) {
			IncRequest("rate_limited")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func newRateLimiter(rps float64, burst int, ttl time.Duration) *rateLimiter {
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &rateLimiter{
		store: make(map[string]*rateEntry),
		limit: rate.Limit(rps),
		burst: burst,
		ttl:   ttl,
		now:   time.Now,
	}
}

func (l *rateLimiter) allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > l.ttl {
		for k, entry := range l.store {
			if now.Sub(entry.last) > l.ttl {
				delete(l.store, k)
			}
		}
		l.lastSweep = now
	}

	entry, ok := l.store[key]
	if !ok {
		entry = &rateEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.store[key] = entry
	}
	entry.last = now
	return entry.limiter.AllowN(now, 1)
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
