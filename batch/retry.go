package batch

import (
	"context"
	"time"

	"github.com/signalpress/signalpress/config"
)

// RetryPolicy is an immutable description of how failed batches are retried.
// It is passed by value; callers can not mutate a scheduler's policy.
type RetryPolicy struct {
	MaxAttempts int
	Backoffs    []time.Duration
}

// DefaultRetryPolicy retries a failed batch up to three times with a fixed
// escalating backoff schedule.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoffs:    []time.Duration{5 * time.Minute, 10 * time.Minute, 20 * time.Minute},
	}
}

// PolicyFromConfig builds a retry policy from configuration, falling back to
// the defaults for missing values.
func PolicyFromConfig(cfg config.BatchConfig) RetryPolicy {
	policy := DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxAttempts = cfg.MaxRetries
	}
	if backoffs := cfg.RetryBackoffs(); len(backoffs) > 0 {
		policy.Backoffs = backoffs
	}
	return policy
}

// BackoffFor returns the delay before the given retry (1-based). Retries
// past the schedule reuse the last backoff.
func (p RetryPolicy) BackoffFor(retry int) time.Duration {
	if len(p.Backoffs) == 0 {
		return 0
	}
	if retry < 1 {
		retry = 1
	}
	if retry > len(p.Backoffs) {
		retry = len(p.Backoffs)
	}
	return p.Backoffs[retry-1]
}

// Exhausted reports whether attemptsMade has used up the retry budget
func (p RetryPolicy) Exhausted(attemptsMade int) bool {
	return attemptsMade >= p.MaxAttempts
}

// sleep waits for d or until ctx is cancelled, whichever comes first
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
