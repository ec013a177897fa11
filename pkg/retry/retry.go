package retry

import (
	"context"
	"time"
)

// Policy is an explicit retry policy: attempt cap, backoff schedule and a
// predicate deciding which errors are worth retrying.
type Policy struct {
	MaxAttempts int
	// Backoff returns the wait before the given retry (attempt is 1-based,
	// counting the attempt that just failed). Nil means no wait.
	Backoff func(attempt int) time.Duration
	// Retryable reports whether the error is transient. Nil means all errors
	// are retryable.
	Retryable func(err error) bool
}

// ExponentialBackoff returns a backoff schedule of base*2^(attempt-1) capped
// at max.
func ExponentialBackoff(base, max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := base << (attempt - 1)
		if d > max || d <= 0 {
			return max
		}
		return d
	}
}

// Do runs fn until it succeeds, the policy is exhausted, a non-retryable
// error occurs, or ctx is cancelled. It returns the last error.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}
