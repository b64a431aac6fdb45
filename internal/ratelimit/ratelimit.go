package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	count       int
	windowStart time.Time
}

// Limiter enforces a fixed window of at most limit messages per window for
// each connection. Exceeding the window is a terminal condition for the
// connection; callers close it rather than queue.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*bucket

	// Now is swappable so tests can control window rollover.
	Now func() time.Time
}

func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*bucket),
		Now:     time.Now,
	}
}

// Allow records one inbound message for connID and reports whether it is
// within the window's budget.
func (l *Limiter) Allow(connID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.Now()
	b, ok := l.buckets[connID]
	if !ok {
		b = &bucket{windowStart: now}
		l.buckets[connID] = b
	}
	if now.Sub(b.windowStart) >= l.window {
		b.count = 0
		b.windowStart = now
	}
	b.count++
	return b.count <= l.limit
}

// Forget drops the bucket for a closed connection.
func (l *Limiter) Forget(connID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, connID)
}
