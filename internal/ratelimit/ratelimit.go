// Package ratelimit implements a per-source-IP token bucket limiter with
// independent per-minute and per-hour ceilings, scoped to a single process
// (spec explicitly excludes horizontal scaling / shared rate-limit state).
package ratelimit

import (
	"sync"
	"time"
)

// Limiter enforces two independent token buckets per key: a per-minute
// bucket and a per-hour bucket. A request is allowed only when both have
// capacity.
type Limiter struct {
	perMinute int
	perHour   int

	mu      sync.Mutex
	buckets map[string]*bucketPair
	idleTTL time.Duration
}

type bucketPair struct {
	minute   *bucket
	hour     *bucket
	lastSeen time.Time
}

type bucket struct {
	capacity   int
	tokens     float64
	refillRate float64 // tokens per second
	updatedAt  time.Time
}

func newBucket(capacity int, window time.Duration, now time.Time) *bucket {
	return &bucket{
		capacity:   capacity,
		tokens:     float64(capacity),
		refillRate: float64(capacity) / window.Seconds(),
		updatedAt:  now,
	}
}

func (b *bucket) allow(now time.Time) bool {
	elapsed := now.Sub(b.updatedAt).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > float64(b.capacity) {
			b.tokens = float64(b.capacity)
		}
		b.updatedAt = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// New builds a Limiter with the given per-minute and per-hour ceilings. A
// ceiling of 0 disables that window's enforcement.
func New(perMinute, perHour int) *Limiter {
	return &Limiter{
		perMinute: perMinute,
		perHour:   perHour,
		buckets:   make(map[string]*bucketPair),
		idleTTL:   2 * time.Hour,
	}
}

// Allow reports whether key (typically source IP) may proceed now.
func (l *Limiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	bp, ok := l.buckets[key]
	if !ok {
		bp = &bucketPair{}
		if l.perMinute > 0 {
			bp.minute = newBucket(l.perMinute, time.Minute, now)
		}
		if l.perHour > 0 {
			bp.hour = newBucket(l.perHour, time.Hour, now)
		}
		l.buckets[key] = bp
	}
	bp.lastSeen = now

	if bp.minute != nil && !bp.minute.allow(now) {
		return false
	}
	if bp.hour != nil && !bp.hour.allow(now) {
		return false
	}
	return true
}

// GC removes buckets idle longer than the configured TTL, bounding memory
// growth from one-off source IPs. Callers run this periodically (e.g. via a
// ticker in main).
func (l *Limiter) GC(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, bp := range l.buckets {
		if now.Sub(bp.lastSeen) > l.idleTTL {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked keys, for diagnostics and tests.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
