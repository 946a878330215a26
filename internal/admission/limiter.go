// Package admission sheds excess inbound frame load at the edge. Frames are
// perishable, so an over-budget frame is rejected immediately instead of
// queued.
package admission

import (
	"errors"
	"sync"
	"time"
)

// ErrThrottled is returned when a client has exhausted its frame budget.
var ErrThrottled = errors.New("admission: frame rate limit exceeded")

// Limiter maintains one token bucket per client. The bucket holds at most
// ratePerSec tokens and refills continuously at ratePerSec tokens per second;
// a fresh client starts with a full bucket.
type Limiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	ratePerSec float64
	capacity   float64
	now        func() time.Time
}

type bucket struct {
	allowance float64
	lastCheck time.Time
}

// NewLimiter creates a Limiter allowing ratePerSec frames per second per
// client.
func NewLimiter(ratePerSec float64) *Limiter {
	return &Limiter{
		buckets:    make(map[string]*bucket),
		ratePerSec: ratePerSec,
		capacity:   ratePerSec,
		now:        time.Now,
	}
}

// Allow consumes one token for the client, returning ErrThrottled when the
// bucket is empty. Safe for concurrent use.
func (l *Limiter) Allow(clientID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[clientID]
	if !ok {
		b = &bucket{allowance: l.capacity, lastCheck: now}
		l.buckets[clientID] = b
	}

	b.allowance += now.Sub(b.lastCheck).Seconds() * l.ratePerSec
	b.lastCheck = now
	if b.allowance > l.capacity {
		b.allowance = l.capacity
	}

	if b.allowance < 1.0 {
		return ErrThrottled
	}
	b.allowance -= 1.0
	return nil
}

// Sweep removes buckets that have been idle longer than maxIdle, keeping the
// map bounded alongside session eviction.
func (l *Limiter) Sweep(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxIdle)
	removed := 0
	for id, b := range l.buckets {
		if b.lastCheck.Before(cutoff) {
			delete(l.buckets, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// SetClock overrides the time source, for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
