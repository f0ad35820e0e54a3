package osfinger

import (
	"context"
	"time"
)

// RetryPolicy configures reconnect behavior after a dropped session or a
// failed connect.
//
// The remote replays the whole stream on every connection, so reconnecting
// is always safe. The default policy reconnects immediately and forever.
type RetryPolicy struct {
	// MaxRetries is the number of consecutive failed attempts tolerated
	// before giving up. An attempt that delivers data resets the count.
	// Zero means unlimited.
	MaxRetries int

	// InitialDelay is the wait before the first reconnect.
	// Default is 0 (reconnect immediately).
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between reconnects.
	// Default is 30s.
	MaxDelay time.Duration

	// Multiplier is the exponential backoff multiplier.
	// Default is 2.0.
	Multiplier float64
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   0,
		InitialDelay: 0,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// backoff tracks consecutive failures under a RetryPolicy.
type backoff struct {
	policy   RetryPolicy
	failures int
	delay    time.Duration
}

func newBackoff(p RetryPolicy) *backoff {
	return &backoff{policy: p, delay: p.InitialDelay}
}

// reset is called after an attempt that made progress.
func (b *backoff) reset() {
	b.failures = 0
	b.delay = b.policy.InitialDelay
}

// next records a failed attempt and returns the wait before the next one.
// ok is false once MaxRetries consecutive failures have been recorded.
func (b *backoff) next() (wait time.Duration, ok bool) {
	b.failures++
	if b.policy.MaxRetries > 0 && b.failures > b.policy.MaxRetries {
		return 0, false
	}

	wait = b.delay
	if b.delay > 0 && b.policy.Multiplier > 1 {
		b.delay = time.Duration(float64(b.delay) * b.policy.Multiplier)
		if b.policy.MaxDelay > 0 && b.delay > b.policy.MaxDelay {
			b.delay = b.policy.MaxDelay
		}
	}
	return wait, true
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
