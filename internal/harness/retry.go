package harness

import (
	"context"
	"math/rand"
	"time"

	"github.com/ljacobsen/foreman/internal/core"
)

// RetryPolicy controls how spawn failures are retried. Only errors the
// domain marks retryable are attempted again; validation failures and
// missing workspaces fail immediately.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
}

// DefaultRetryPolicy retries twice after the first failure with short
// exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// Do runs fn up to MaxAttempts times, sleeping between attempts. It
// stops early when fn succeeds, when the error is not retryable, or
// when ctx is cancelled.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if !core.IsRetryable(err) || attempt == attempts {
			return err
		}
		select {
		case <-ctx.Done():
			return core.ErrCancelled("spawn retry abandoned").WithCause(ctx.Err())
		case <-time.After(p.delay(attempt)):
		}
	}
	return err
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
