package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleSweepEvery bounds how often KeyedLimiter scans for idle keys.
const idleSweepEvery = time.Minute

// KeyedLimiter gives every key its own token bucket. Keys are built by the
// caller, e.g. "initiate:203.0.113.7", so each auth flow of each client is
// throttled on its own. Buckets unused for longer than the idle timeout are
// dropped.
type KeyedLimiter struct {
	every rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyedLimiter allows requests per window for every key, on top of burst.
// Non-positive arguments fall back to one request per second, a burst of one
// and a five minute idle timeout.
func NewKeyedLimiter(requests int, window time.Duration, burst int, idle time.Duration) *KeyedLimiter {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	if burst <= 0 {
		burst = 1
	}
	if idle <= 0 {
		idle = 5 * time.Minute
	}
	return &KeyedLimiter{
		every:   rate.Every(window / time.Duration(requests)),
		burst:   burst,
		idle:    idle,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow takes one token from the bucket of key.
func (l *KeyedLimiter) Allow(key string) bool {
	if key == "" {
		key = "unknown"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= min(l.idle, idleSweepEvery) {
		l.sweepLocked(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.every, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *KeyedLimiter) sweepLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idle {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

// WithClock replaces the time source.
func (l *KeyedLimiter) WithClock(now func() time.Time) *KeyedLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	return l
}
