package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterAllowsUpToCapacity(t *testing.T) {
	l := New(3, 100)
	now := time.Now()

	assert.True(t, l.Allow("1.2.3.4", now))
	assert.True(t, l.Allow("1.2.3.4", now))
	assert.True(t, l.Allow("1.2.3.4", now))
	assert.False(t, l.Allow("1.2.3.4", now), "fourth request within the same instant should be throttled")
}

func TestLimiterRefillsOverTime(t *testing.T) {
	l := New(1, 100)
	now := time.Now()

	assert.True(t, l.Allow("1.2.3.4", now))
	assert.False(t, l.Allow("1.2.3.4", now))

	later := now.Add(time.Minute)
	assert.True(t, l.Allow("1.2.3.4", later))
}

func TestLimiterIsPerKey(t *testing.T) {
	l := New(1, 100)
	now := time.Now()

	assert.True(t, l.Allow("1.2.3.4", now))
	assert.True(t, l.Allow("5.6.7.8", now))
}

func TestLimiterHourCeilingBindsIndependently(t *testing.T) {
	l := New(100, 1)
	now := time.Now()

	assert.True(t, l.Allow("1.2.3.4", now))
	assert.False(t, l.Allow("1.2.3.4", now), "per-hour bucket should block even though per-minute has room")
}

func TestLimiterGCRemovesIdleBuckets(t *testing.T) {
	l := New(10, 10)
	now := time.Now()
	l.Allow("1.2.3.4", now)
	assert.Equal(t, 1, l.Len())

	removed := l.GC(now.Add(3 * time.Hour))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, l.Len())
}

func TestLimiterZeroCeilingDisablesWindow(t *testing.T) {
	l := New(0, 0)
	now := time.Now()
	for i := 0; i < 1000; i++ {
		assert.True(t, l.Allow("1.2.3.4", now))
	}
}
