// Package retry wraps remote calls with exponential backoff.
//
// The wrapper is stateless across calls: a single Policy value can be shared
// by any number of concurrent callers.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Policy configures backoff behavior for one wrapped operation.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the delay before the first retry; it doubles each attempt.
	BaseDelay time.Duration
	// MaxDelay caps the per-attempt delay.
	MaxDelay time.Duration
	// Jitter randomizes each delay within [delay/2, delay].
	Jitter bool
	// OnRetry, if set, is invoked before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// ExhaustedError wraps the last error after all attempts failed transiently.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do invokes op, retrying transient failures with exponential backoff.
// transient classifies errors: false means permanent, surfaced immediately.
// When attempts run out the last error is wrapped in *ExhaustedError.
func Do(ctx context.Context, p Policy, transient func(error) bool, op func(context.Context) error) error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("retry: MaxAttempts must be positive, got %d", p.MaxAttempts)
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !transient(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, lastErr)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}

	return &ExhaustedError{Attempts: p.MaxAttempts, Err: lastErr}
}

// delay computes the backoff for the 0-indexed attempt:
// min(BaseDelay * 2^attempt, MaxDelay), optionally jittered.
func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter && d > 0 {
		half := d / 2
		d = half + rand.N(half+1)
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
