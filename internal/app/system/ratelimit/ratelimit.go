// Package ratelimit provides a fixed-window request limiter keyed by client,
// used to slow credential stuffing against the authentication endpoints.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// sweepEvery bounds how many Allow calls pass between sweeps of expired
// buckets.
const sweepEvery = 256

// Limiter tracks request counts per key over a fixed window. Expired buckets
// are swept lazily from inside Allow, so a Limiter holds no goroutine.
// Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]bucket
	limit   int
	window  time.Duration
	calls   int
}

type bucket struct {
	n      int
	resets time.Time
}

// New creates a limiter allowing limit requests per window for each key.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		buckets: make(map[string]bucket),
		limit:   limit,
		window:  window,
	}
}

// Allow records a request for key and reports whether it is within the
// limit.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.calls++
	if l.calls >= sweepEvery {
		l.calls = 0
		l.sweep(now)
	}

	b, ok := l.buckets[key]
	if !ok || now.After(b.resets) {
		l.buckets[key] = bucket{n: 1, resets: now.Add(l.window)}
		return true
	}
	if b.n >= l.limit {
		return false
	}
	b.n++
	l.buckets[key] = b
	return true
}

// Remaining reports how many requests key has left in its current window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || time.Now().After(b.resets) {
		return l.limit
	}
	if left := l.limit - b.n; left > 0 {
		return left
	}
	return 0
}

// Reset forgets key. Called after a successful login so legitimate users are
// not penalized for earlier failures.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// sweep drops expired buckets. Caller holds l.mu.
func (l *Limiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.After(b.resets) {
			delete(l.buckets, key)
		}
	}
}

// ClientIP extracts the client address from a request, trusting proxy
// headers when present.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
