package worker

import (
	"context"
	"time"
)

// Backoff blocks until the next attempt may start. It returns ctx.Err() when
// the context ends first.
type Backoff func(context.Context) error

// ExponentialBackoff waits initial, then doubles the interval on every call
// up to maxInterval. A non-positive maxInterval leaves the growth unbounded.
func ExponentialBackoff(initial, maxInterval time.Duration) Backoff {
	interval := initial
	return func(ctx context.Context) error {
		if interval <= 0 {
			return ctx.Err()
		}
		timer := time.NewTimer(interval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			interval *= 2
			if maxInterval > 0 && interval > maxInterval {
				interval = maxInterval
			}
			return nil
		}
	}
}
