// Package gate implements the interval-gating decision state machine: given
// the current time, it decides whether one more emission is allowed.
package gate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidInterval is returned when the configured interval is not positive.
	ErrInvalidInterval = errors.New("gate: interval must be positive")
	// ErrInvalidMax is returned when the per-interval cap is negative.
	ErrInvalidMax = errors.New("gate: max per interval must not be negative")
)

// Gate decides, per incoming record, whether it passes through to output.
//
// Uncapped, it allows at most one emission per interval, spaced by the
// interval. With a cap set, it allows up to max emissions within each window
// of the interval's length and then blocks until the next window; spacing
// within the window is not enforced. Windows are reset lazily on the next
// decision, never by a timer.
//
// Gate does no locking; the caller arbitrates concurrency. In the async
// pipeline a single worker goroutine is the only caller, in the synchronous
// thread-safe mode the dispatcher's mutex serializes access.
type Gate struct {
	interval time.Duration
	max      int
	capped   bool

	nowFn func() time.Time

	// Decision state. last is the zero Time before the first emission.
	windowStart time.Time
	count       int
	last        time.Time
	started     bool
}

// Option configures a Gate.
type Option func(*Gate) error

// WithMaxPerInterval caps emissions at n per window. n == 0 is legal and
// suppresses every record unconditionally.
func WithMaxPerInterval(n int) Option {
	return func(g *Gate) error {
		if n < 0 {
			return fmt.Errorf("%w: %d", ErrInvalidMax, n)
		}

		g.max = n
		g.capped = true

		return nil
	}
}

// WithNow overrides the time source, for deterministic tests. The source is
// assumed monotonic non-decreasing; a source that steps backwards makes the
// gate suppress rather than misbehave.
func WithNow(fn func() time.Time) Option {
	return func(g *Gate) error {
		if fn != nil {
			g.nowFn = fn
		}

		return nil
	}
}

// New constructs a Gate. The interval must be positive.
func New(interval time.Duration, opts ...Option) (*Gate, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}

	g := &Gate{
		interval: interval,
		nowFn:    time.Now,
	}

	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}

	return g, nil
}

// Now returns the gate's time source reading.
func (g *Gate) Now() time.Time { return g.nowFn() }

// ShouldEmit decides whether a record observed at now may be emitted, and
// records the emission when it is. It never fails; every call yields a
// decision.
func (g *Gate) ShouldEmit(now time.Time) bool {
	if !g.started {
		g.started = true
		g.windowStart = now

		return g.admit(now)
	}

	// Lazy window reset: the first decision at or past the window's end
	// starts a fresh window. A negative elapsed (time source stepped
	// backwards) stays below the threshold and keeps the current window.
	if now.Sub(g.windowStart) >= g.interval {
		g.windowStart = now
		g.count = 0
	}

	if g.capped {
		return g.admit(now)
	}

	if now.Sub(g.last) >= g.interval {
		g.last = now
		g.count++

		return true
	}

	return false
}

// admit applies the capped emission test, or unconditionally admits the very
// first record of an uncapped gate.
func (g *Gate) admit(now time.Time) bool {
	if g.capped && g.count >= g.max {
		return false
	}

	g.count++
	g.last = now

	return true
}

// Interval returns the configured interval.
func (g *Gate) Interval() time.Duration { return g.interval }
