// Package ratelimit implements a fixed-window rate limiter used to cap how
// many jobs the runtime admits to processing in a given window. A Queue has
// one limiter, consulted for every job whatever its handler.
package ratelimit

import (
	"sync"
	"time"
)

// TimeGenerator supplies the current time, overridable in tests.
type TimeGenerator interface {
	NowUTC() time.Time
}

type realTimeGenerator struct{}

func (realTimeGenerator) NowUTC() time.Time { return time.Now().UTC() }

// Limiter enforces a maximum number of admissions per fixed window. Windows
// don't slide: once a window elapses, the count resets to zero regardless of
// when within the prior window admissions occurred.
type Limiter struct {
	mu       sync.Mutex
	max      int
	duration time.Duration
	time     TimeGenerator

	windowStart time.Time
	count       int
}

// New returns a Limiter admitting at most max operations per duration. A
// non-positive max means unlimited: Allow always returns true.
func New(max int, duration time.Duration) *Limiter {
	return &Limiter{
		max:      max,
		duration: duration,
		time:     realTimeGenerator{},
	}
}

// Allow reports whether another admission is permitted right now, and if
// so, records it. Non-blocking: callers that are denied are responsible for
// retrying later, typically on the next scheduler tick.
func (l *Limiter) Allow() bool {
	if l.max <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.time.NowUTC()

	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.duration {
		l.windowStart = now
		l.count = 0
	}

	if l.count >= l.max {
		return false
	}

	l.count++
	return true
}

// Remaining returns how many further admissions the current window allows,
// for observability purposes only.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max <= 0 {
		return -1
	}

	now := l.time.NowUTC()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.duration {
		return l.max
	}

	remaining := l.max - l.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}
