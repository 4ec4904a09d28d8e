package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLimiter(capacity int, interval time.Duration) (*rateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	rl := newRateLimiter(capacity, interval)
	rl.now = clock.Now
	rl.lastCheck = clock.now
	return rl, clock
}

// TestRateLimiterBurst allows exactly capacity frames before refusing.
func TestRateLimiterBurst(t *testing.T) {
	rl, _ := newTestLimiter(3, time.Second)

	assert.True(t, rl.allow())
	assert.True(t, rl.allow())
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())
}

// TestRateLimiterRefill restores tokens in proportion to elapsed time.
func TestRateLimiterRefill(t *testing.T) {
	rl, clock := newTestLimiter(2, time.Second)
	assert.True(t, rl.allow())
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())

	clock.Advance(500 * time.Millisecond)
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())

	clock.Advance(10 * time.Second)
	assert.True(t, rl.allow())
	assert.True(t, rl.allow())
	assert.False(t, rl.allow(), "refill must not exceed capacity")
}

// TestRateLimiterDefaults replaces unusable parameters.
func TestRateLimiterDefaults(t *testing.T) {
	rl, _ := newTestLimiter(0, 0)

	assert.True(t, rl.allow())
	assert.False(t, rl.allow())
}
