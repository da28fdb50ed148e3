package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personahub/personahub/pkg/logging"
)

type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time { return c.current }

func (c *fakeClock) advance(d time.Duration) { c.current = c.current.Add(d) }

func newTestLimiter(opts Options) (*Limiter, *fakeClock) {
	clock := &fakeClock{current: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	limiter := New(logging.NewSecurityLog(100), opts)
	limiter.SetClock(clock.now)
	return limiter, clock
}

func TestEleventhCallWithinWindowIsDenied(t *testing.T) {
	limiter, clock := newTestLimiter(Options{Capacity: 10, Window: time.Hour})

	for i := 0; i < 10; i++ {
		decision := limiter.Check("credential:validate")
		require.True(t, decision.Allowed, "call %d should be admitted", i+1)
		clock.advance(time.Second)
	}

	decision := limiter.Check("credential:validate")
	assert.False(t, decision.Allowed)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
}

func TestTokensRefillOverTime(t *testing.T) {
	limiter, clock := newTestLimiter(Options{Capacity: 10, Window: time.Hour})

	for i := 0; i < 10; i++ {
		require.True(t, limiter.Check("k").Allowed)
	}
	require.False(t, limiter.Check("k").Allowed)

	// One window-tenth restores one token.
	clock.advance(6 * time.Minute)
	decision := limiter.Check("k")
	assert.True(t, decision.Allowed)

	assert.False(t, limiter.Check("k").Allowed)
}

func TestBucketInvariantHolds(t *testing.T) {
	limiter, clock := newTestLimiter(Options{Capacity: 5, Window: time.Minute})

	steps := []time.Duration{
		0, time.Second, 0, 0, 30 * time.Second, 0, 0, 0,
		5 * time.Minute, 0, 0, 0, 0, 0, 0, time.Millisecond,
	}
	for _, step := range steps {
		clock.advance(step)
		decision := limiter.Check("k")
		assert.GreaterOrEqual(t, decision.TokensRemaining, 0.0)
		assert.LessOrEqual(t, decision.TokensRemaining, 5.0)
	}
}

func TestCapacityNeverExceededWithinWindow(t *testing.T) {
	limiter, clock := newTestLimiter(Options{Capacity: 5, Window: time.Hour})

	admitted := 0
	// Many calls spread over half a window: at most capacity plus the
	// refilled half-window worth of tokens may be admitted.
	for i := 0; i < 100; i++ {
		if limiter.Check("k").Allowed {
			admitted++
		}
		clock.advance(18 * time.Second) // 100 * 18s = 30min
	}
	assert.LessOrEqual(t, admitted, 5+3)
}

func TestBackwardsClockDoesNotRefillTwice(t *testing.T) {
	limiter, clock := newTestLimiter(Options{Capacity: 2, Window: time.Hour})

	require.True(t, limiter.Check("k").Allowed)

	// Clock jumps back and recovers to where it was: the interval must
	// not be credited as elapsed time.
	clock.advance(-30 * time.Minute)
	require.True(t, limiter.Check("k").Allowed)
	clock.advance(30 * time.Minute)

	decision := limiter.Check("k")
	assert.False(t, decision.Allowed)
	assert.Less(t, decision.TokensRemaining, 1.0)
}

func TestMinDelayBlocksRapidFire(t *testing.T) {
	limiter, clock := newTestLimiter(Options{Capacity: 10, Window: time.Hour, MinDelay: time.Second})

	require.True(t, limiter.Check("k").Allowed)

	decision := limiter.Check("k")
	assert.False(t, decision.Allowed, "burst capacity must not bypass the delay floor")
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, decision.RetryAfter, time.Second)

	clock.advance(time.Second)
	assert.True(t, limiter.Check("k").Allowed)
}

func TestKeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(Options{Capacity: 1, Window: time.Hour})

	assert.True(t, limiter.Check("a").Allowed)
	assert.False(t, limiter.Check("a").Allowed)
	assert.True(t, limiter.Check("b").Allowed)
}

func TestReset(t *testing.T) {
	limiter, _ := newTestLimiter(Options{Capacity: 1, Window: time.Hour})

	require.True(t, limiter.Check("k").Allowed)
	require.False(t, limiter.Check("k").Allowed)

	limiter.Reset("k")
	assert.True(t, limiter.Check("k").Allowed)

	require.False(t, limiter.Check("k").Allowed)
	limiter.ResetAll()
	assert.True(t, limiter.Check("k").Allowed)
}

func TestDenialsAreLogged(t *testing.T) {
	secLog := logging.NewSecurityLog(100)
	limiter := New(secLog, Options{Capacity: 1, Window: time.Hour})

	limiter.Check("k")
	limiter.Check("k")

	assert.NotEmpty(t, secLog.RecentEvents(0))
}
