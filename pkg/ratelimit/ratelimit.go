// Package ratelimit provides token-bucket admission control keyed by
// resource identity. Refill is computed lazily from elapsed wall-clock
// time; there is no background timer.
package ratelimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/personahub/personahub/pkg/logging"
	"github.com/personahub/personahub/pkg/severity"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed         bool
	RetryAfter      time.Duration
	TokensRemaining float64
}

// Options configure one limiter instance. Zero values fall back to the
// defaults.
type Options struct {
	Capacity int
	Window   time.Duration
	MinDelay time.Duration
}

const (
	DefaultCapacity = 10
	DefaultWindow   = time.Hour
)

type bucket struct {
	tokens     float64
	lastRefill time.Time
	lastAdmit  time.Time
}

// Limiter is a per-key token bucket. Mutable bucket state is
// serialized under one mutex; contention is bounded by legitimate
// request rates, so coarse locking is fine.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity float64
	window   time.Duration
	minDelay time.Duration
	secLog   *logging.SecurityLog

	// now is swappable for tests.
	now func() time.Time
}

func New(secLog *logging.SecurityLog, opts Options) *Limiter {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	return &Limiter{
		buckets:  map[string]*bucket{},
		capacity: float64(opts.Capacity),
		window:   opts.Window,
		minDelay: opts.MinDelay,
		secLog:   secLog,
		now:      time.Now,
	}
}

// Check admits or denies one request for key. Tokens refill
// continuously: elapsed/window*capacity, clamped to capacity. The
// minimum delay floor applies between successive admissions regardless
// of remaining burst capacity.
func (l *Limiter) Check(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	state, ok := l.buckets[key]
	if !ok {
		state = &bucket{tokens: l.capacity, lastRefill: now}
		l.buckets[key] = state
	}

	l.refill(state, now)

	if l.minDelay > 0 && !state.lastAdmit.IsZero() {
		if since := now.Sub(state.lastAdmit); since < l.minDelay {
			decision := Decision{
				Allowed:         false,
				RetryAfter:      l.minDelay - since,
				TokensRemaining: state.tokens,
			}
			l.denied(key, decision)
			return decision
		}
	}

	if state.tokens < 1 {
		decision := Decision{
			Allowed:         false,
			RetryAfter:      l.timeForTokens(1 - state.tokens),
			TokensRemaining: state.tokens,
		}
		l.denied(key, decision)
		return decision
	}

	state.tokens--
	state.lastAdmit = now
	return Decision{Allowed: true, TokensRemaining: state.tokens}
}

func (l *Limiter) refill(state *bucket, now time.Time) {
	elapsed := now.Sub(state.lastRefill)
	if elapsed <= 0 {
		// Clock went backwards; keep lastRefill so the interval is not
		// credited a second time once the clock recovers.
		return
	}

	state.tokens += elapsed.Seconds() / l.window.Seconds() * l.capacity
	if state.tokens > l.capacity {
		state.tokens = l.capacity
	}
	state.lastRefill = now
}

func (l *Limiter) timeForTokens(tokens float64) time.Duration {
	perToken := l.window.Seconds() / l.capacity
	return time.Duration(tokens * perToken * float64(time.Second))
}

func (l *Limiter) denied(key string, decision Decision) {
	log.Debug().Str("key", key).Dur("retryAfter", decision.RetryAfter).Msg("Rate limited")
	if l.secLog == nil {
		return
	}
	l.secLog.Record(logging.Event{
		Type:     logging.EventRateLimited,
		Severity: severity.Low,
		Source:   key,
		Details:  "admission denied",
	})
}

// Reset clears the bucket for one key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// ResetAll clears every bucket without restarting the process.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = map[string]*bucket{}
}

// SetClock replaces the time source (tests only).
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
