package server

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// loginThrottle bounds the number of login_failed audit rows written per
// (username, ip) within a time window. It does not block authentication,
// it only reduces noisy audit writes.
type loginThrottle struct {
	window time.Duration
	burst  int

	mu      sync.Mutex
	buckets map[throttleKey]*throttleBucket
}

type throttleKey struct {
	username string
	ip       string
}

type throttleBucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

func newLoginThrottle(window time.Duration, burst int) *loginThrottle {
	return &loginThrottle{
		window:  window,
		burst:   burst,
		buckets: make(map[throttleKey]*throttleBucket),
	}
}

// Allow returns true if a login_failed audit row should be written for this
// (username, ip).
func (t *loginThrottle) Allow(username, ip string) bool {
	k := throttleKey{username: strings.ToLower(username), ip: ip}
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.buckets[k]
	if b == nil {
		b = &throttleBucket{
			limiter: rate.NewLimiter(rate.Every(t.window/time.Duration(t.burst)), t.burst),
		}
		t.buckets[k] = b
	}
	b.seen = now

	t.cleanup(now)
	return b.limiter.Allow()
}

// cleanup drops stale keys to prevent unbounded growth. Cheap sweep: only
// when the map grows large, drop entries unseen for 2x window.
func (t *loginThrottle) cleanup(now time.Time) {
	if len(t.buckets) < 1024 {
		return
	}
	cutoff := now.Add(-2 * t.window)
	for k, b := range t.buckets {
		if b.seen.Before(cutoff) {
			delete(t.buckets, k)
		}
	}
}
