// Package backoff provides the retry delay strategy used by the channel
// listener's reconnect loop. Strategies are stateless and safe for
// concurrent use.
package backoff

import "time"

// Strategy computes the delay before reconnect attempt n (1-indexed).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant always returns the same delay regardless of attempt number.
// This is the dispatcher's sole reconnection policy: every broker failure,
// whatever its kind, is retried on the same fixed interval.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}
