package http

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	. "github.com/roelfdiedericks/autoreply/internal/logging"
)

// RateLimiter enforces a minimum gap between manual sends per client IP.
type RateLimiter struct {
	last  map[string]time.Time // IP -> time of last accepted request
	mu    sync.Mutex
	delay time.Duration
	now   func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(delay time.Duration) *RateLimiter {
	return &RateLimiter{
		last:  make(map[string]time.Time),
		delay: delay,
		now:   time.Now,
	}
}

// Allow records a request from ip and reports whether it may proceed. When
// refused it also returns how long the client should wait.
func (r *RateLimiter) Allow(ip string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if prev, ok := r.last[ip]; ok {
		if wait := r.delay - now.Sub(prev); wait > 0 {
			return false, wait
		}
	}
	r.last[ip] = now

	// drop stale entries so the map does not grow without bound
	for k, t := range r.last {
		if now.Sub(t) > r.delay {
			delete(r.last, k)
		}
	}
	return true, 0
}

// rateLimit middleware applies the per-client send cooldown
func (s *Server) rateLimit(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		if ok, wait := s.rateLimiter.Allow(ip); !ok {
			L_warn("http: send rate limited", "ip", ip)
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		handler(w, r)
	}
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
