package bus

import (
	"context"
	"time"
)

// Retry defaults.
const (
	DefaultMaxAttempts    = 5
	DefaultAttemptTimeout = 5 * time.Second
	DefaultRetryDelay     = time.Second
)

// RetryPolicy controls how connection establishment is retried.
// Only connecting is retried; bus operations never are.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries (default 5).
	MaxAttempts int
	// AttemptTimeout bounds each try (default 5s). Zero or negative leaves
	// tries bounded only by the caller's context.
	AttemptTimeout time.Duration
	// Backoff returns the pause after the given failed attempt (1-based).
	// Default is LinearBackoff(1s).
	Backoff func(attempt int) time.Duration
	// Sleep pauses for d or until ctx is done (default SleepContext).
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns 5 tries, 5s per try, linear 1s backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    DefaultMaxAttempts,
		AttemptTimeout: DefaultAttemptTimeout,
		Backoff:        LinearBackoff(DefaultRetryDelay),
		Sleep:          SleepContext,
	}
}

// LinearBackoff returns delay × attempt.
func LinearBackoff(delay time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return delay * time.Duration(attempt)
	}
}

// ExponentialBackoff returns base × 2^(attempt-1), capped at maxDelay when
// maxDelay is positive.
func ExponentialBackoff(base, maxDelay time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := base * time.Duration(1<<uint(min(attempt-1, 30)))
		if maxDelay > 0 && d > maxDelay {
			return maxDelay
		}
		return d
	}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
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

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Backoff == nil {
		p.Backoff = LinearBackoff(DefaultRetryDelay)
	}
	if p.Sleep == nil {
		p.Sleep = SleepContext
	}
	return p
}

// Do calls fn until it succeeds or MaxAttempts tries have failed. Each try
// gets a context bounded by AttemptTimeout. It returns the number of tries
// made and the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	p = p.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return attempt - 1, lastErr
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		lastErr = fn(attemptCtx, attempt)
		cancel()

		if lastErr == nil {
			return attempt, nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		if err := p.Sleep(ctx, p.Backoff(attempt)); err != nil {
			return attempt, lastErr
		}
	}
	return p.MaxAttempts, lastErr
}
