package pricefeed

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	throttleBase = 5 * time.Second
	throttleMax  = 80 * time.Second
)

// RateLimiter serializes access to the price source. Two constraints
// hold at once: consecutive acquisitions are spaced at least the
// minimum interval apart, and no more than hourlyCap acquisitions
// complete within any sliding 60-minute window. Acquire blocks until
// both are satisfied or the context is cancelled.
type RateLimiter struct {
	floor *rate.Limiter

	mu     sync.Mutex
	cap    int
	window time.Duration
	grants []time.Time

	backoffBase time.Duration
	backoffMax  time.Duration
}

// NewRateLimiter creates a limiter with the given floor and hourly cap
func NewRateLimiter(minInterval time.Duration, hourlyCap int) *RateLimiter {
	return newRateLimiter(minInterval, hourlyCap, time.Hour)
}

func newRateLimiter(minInterval time.Duration, cap int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		floor:       rate.NewLimiter(rate.Every(minInterval), 1),
		cap:         cap,
		window:      window,
		grants:      make([]time.Time, 0, cap),
		backoffBase: throttleBase,
		backoffMax:  throttleMax,
	}
}

// WithThrottleBackoff overrides the throttle backoff ladder. Mainly
// useful in tests; production keeps the 5s..80s defaults.
func (l *RateLimiter) WithThrottleBackoff(base, max time.Duration) *RateLimiter {
	l.backoffBase = base
	l.backoffMax = max
	return l
}

// ThrottleDelay returns the backoff ladder value for the given
// consecutive-throttle count without sleeping
func (l *RateLimiter) ThrottleDelay(attempt int) time.Duration {
	return backoffDelay(l.backoffBase, l.backoffMax, attempt)
}

// Acquire blocks until a request slot is available. Returns the
// context error when cancelled mid-wait.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	if err := l.floor.Wait(ctx); err != nil {
		return err
	}

	for {
		l.mu.Lock()
		now := time.Now()
		l.prune(now)
		if len(l.grants) < l.cap {
			l.grants = append(l.grants, now)
			l.mu.Unlock()
			return nil
		}
		wait := l.grants[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// prune drops grant stamps that fell out of the window. Callers hold l.mu.
func (l *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.grants) && !l.grants[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.grants = append(l.grants[:0], l.grants[i:]...)
	}
}

// ReportThrottled blocks the caller for the backoff ladder delay after
// the provider pushed back: 5s, 10s, 20s, 40s, capped at 80s. attempt
// counts consecutive throttles, starting at 1.
func (l *RateLimiter) ReportThrottled(ctx context.Context, attempt int) error {
	timer := time.NewTimer(backoffDelay(l.backoffBase, l.backoffMax, attempt))
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ThrottleBackoff returns the standard throttle delay for the given
// consecutive-throttle count: base 5 s doubling per attempt, capped at 80 s
func ThrottleBackoff(attempt int) time.Duration {
	return backoffDelay(throttleBase, throttleMax, attempt)
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
