// Package retry wraps provider calls with bounded, fixed-delay retries.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Outcome is a call result that can report a soft failure without a Go error.
type Outcome interface {
	FailureReason() (string, bool)
}

// Policy configures Do. The delay is constant between attempts.
type Policy struct {
	MaxRetries int
	Delay      time.Duration
	// OnFailure is invoked after every failed attempt (1-based).
	OnFailure func(attempt int, err error)
}

// ExhaustedError is returned once every attempt has failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Backoff returns the wait before the attempt following attempt.
func (p Policy) Backoff(int) time.Duration {
	if p.Delay < 0 {
		return 0
	}
	return p.Delay
}

// Do runs call up to MaxRetries+1 times. A soft failure reported by the
// outcome counts the same as a panic inside call. The last failure is
// returned as an *ExhaustedError together with the last outcome.
func Do[R Outcome](ctx context.Context, p Policy, call func(context.Context) R) (R, error) {
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	var (
		last    R
		lastErr error
	)
	attempts := 0
	for i := 0; i <= maxRetries; i++ {
		attempts++
		res, err := attempt(ctx, call)
		if err == nil {
			return res, nil
		}
		last, lastErr = res, err
		if p.OnFailure != nil {
			p.OnFailure(attempts, err)
		}
		if i == maxRetries {
			break
		}
		if werr := wait(ctx, p.Backoff(attempts)); werr != nil {
			lastErr = errors.Join(lastErr, werr)
			break
		}
	}
	return last, &ExhaustedError{Attempts: attempts, Last: lastErr}
}

func attempt[R Outcome](ctx context.Context, call func(context.Context) R) (res R, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("provider panic: %v", rec)
		}
	}()
	res = call(ctx)
	if reason, failed := res.FailureReason(); failed {
		return res, errors.New(reason)
	}
	return res, nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
