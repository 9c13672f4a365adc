// ABOUTME: Retry policy evaluation for outbound requests
// ABOUTME: Computes exponential or linear backoff delays and applies the retry condition

package standard

import (
	"context"
	"math"
	"time"

	"digests-reader/core/errors"
	"digests-reader/core/interfaces"
)

// DefaultRetryPolicy retries three times with exponential backoff from 100ms
func DefaultRetryPolicy() interfaces.RetryPolicy {
	return interfaces.RetryPolicy{
		Attempts:     3,
		Backoff:      interfaces.BackoffExponential,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Factor:       2,
	}
}

// retryDelay returns the wait before retry number n (1-based).
// Exponential: min(initialDelay * factor^(n-1), maxDelay). Linear: initialDelay.
func retryDelay(p interfaces.RetryPolicy, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if p.Backoff == interfaces.BackoffLinear {
		return p.InitialDelay
	}

	factor := p.Factor
	if factor <= 0 {
		factor = 2
	}
	delay := float64(p.InitialDelay) * math.Pow(factor, float64(n-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// shouldRetry applies the caller condition when set, otherwise the default.
// Cancellations are never retried.
func shouldRetry(p interfaces.RetryPolicy, err error) bool {
	if errors.IsCancelled(err) {
		return false
	}
	if p.RetryCondition != nil {
		return p.RetryCondition(err)
	}
	return errors.IsRetryable(err)
}

// sleep waits d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
