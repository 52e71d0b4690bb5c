package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter is a sliding-window in-memory limiter. The pairing core itself
// rejects out-of-window and consumed codes uniformly; this limiter is the
// delivery layer's defense against brute-forcing the 6-digit code.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	window   time.Duration
	maxReqs  int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(window time.Duration, maxReqs int) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		window:   window,
		maxReqs:  maxReqs,
	}
	go rl.cleanup()
	return rl
}

// Allow checks if a request is allowed for the given key
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	kept := rl.requests[key][:0]
	for _, t := range rl.requests[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= rl.maxReqs {
		rl.requests[key] = kept
		return false
	}

	rl.requests[key] = append(kept, now)
	return true
}

// cleanup periodically drops idle keys so the map does not grow unbounded.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		cutoff := time.Now().Add(-rl.window)
		for key, reqs := range rl.requests {
			idle := true
			for _, t := range reqs {
				if t.After(cutoff) {
					idle = false
					break
				}
			}
			if idle {
				delete(rl.requests, key)
			}
		}
		rl.mu.Unlock()
	}
}

// GetIPKey extracts IP address from request for rate limiting
func GetIPKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return "ip:" + strings.TrimSpace(ips[0])
	}
	return "ip:" + r.RemoteAddr
}
