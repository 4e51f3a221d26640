// Package retry wraps an operation with bounded attempts and capped
// exponential backoff. The executor is policy-agnostic: callers pick which
// errors are worth retrying with a Condition.
package retry

import (
	"context"
	"time"
)

// Defaults applied when an Options field is zero.
const (
	DefaultMaxRetries        = 3
	DefaultInitialDelay      = time.Second
	DefaultMaxDelay          = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// Options configures Do.
type Options struct {
	// MaxRetries is the total number of attempts, including the first.
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64

	// OnRetry is called after the backoff delay and before the next attempt.
	// attempt is the number of the attempt that just failed (1-based).
	OnRetry func(attempt int, err error)

	// Condition decides whether an error is worth another attempt.
	// The zero value retries every error.
	Condition Condition
}

// DefaultOptions returns the standard policy: 3 attempts, 1s doubling to 30s,
// retrying any error.
func DefaultOptions() Options {
	return Options{
		MaxRetries:        DefaultMaxRetries,
		InitialDelay:      DefaultInitialDelay,
		MaxDelay:          DefaultMaxDelay,
		BackoffMultiplier: DefaultBackoffMultiplier,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.InitialDelay < 0 {
		o.InitialDelay = 0
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.BackoffMultiplier < 1 {
		o.BackoffMultiplier = DefaultBackoffMultiplier
	}
	return o
}

// Do invokes op until it succeeds, the condition rejects the error, or
// MaxRetries attempts have failed. The last error is returned unchanged.
// Calls share no state, so Do is safe to use from concurrent goroutines.
func Do[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	opts = opts.withDefaults()

	var zero T
	delay := opts.InitialDelay
	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= opts.MaxRetries || !opts.Condition.Match(err) {
			return zero, err
		}

		wait := delay
		if wait > opts.MaxDelay {
			wait = opts.MaxDelay
		}
		if !sleep(ctx, wait) {
			return zero, err
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err)
		}
		delay = nextDelay(delay, opts.BackoffMultiplier, opts.MaxDelay)
	}
}

// Run is Do for operations that produce no value.
func Run(ctx context.Context, op func(ctx context.Context) error, opts Options) error {
	_, err := Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts)
	return err
}

func nextDelay(cur time.Duration, mult float64, max time.Duration) time.Duration {
	next := time.Duration(float64(cur) * mult)
	if next > max || next < cur {
		return max
	}
	return next
}

// sleep waits for d or until ctx is done. Returns false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
