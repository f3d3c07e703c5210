package mengla

import (
	"context"
	"time"

	"mengla-gateway/internal/common/metrics"

	"golang.org/x/time/rate"
)

// Throttle spaces releases to the collection platform by a minimum interval,
// across every caller sharing it. Waiters are admitted one at a time and each
// release is measured from the previous actual release, so no two releases are
// closer than the interval regardless of arrival order or timer lateness.
type Throttle struct {
	limiter  *rate.Limiter
	interval time.Duration

	turn chan struct{} // holds one token while a waiter owns the next release
	last time.Time

	onRelease func(time.Time)
}

// NewThrottle returns a throttle; interval <= 0 disables spacing.
func NewThrottle(interval time.Duration) *Throttle {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Throttle{
		limiter:  rate.NewLimiter(limit, 1),
		interval: interval,
		turn:     make(chan struct{}, 1),
	}
}

// Wait blocks until the caller may dispatch. It only fails when ctx ends
// (or its deadline is closer than the required wait).
func (t *Throttle) Wait(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.ThrottleWait.Observe(time.Since(start).Seconds())
	}()

	select {
	case t.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-t.turn }()

	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := t.waitSinceLast(ctx); err != nil {
		return err
	}

	t.last = time.Now()
	if t.onRelease != nil {
		t.onRelease(t.last)
	}
	return nil
}

// waitSinceLast covers a limiter slot that fired early relative to the
// previous release, e.g. when that release's timer was late.
func (t *Throttle) waitSinceLast(ctx context.Context) error {
	if t.last.IsZero() {
		return nil
	}
	for {
		remaining := t.interval - time.Since(t.last)
		if remaining <= 0 {
			return nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (t *Throttle) Interval() time.Duration {
	return t.interval
}
