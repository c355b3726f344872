// Package retry runs fallible operations with classified, exponential
// backoff. Callers decide per error whether to stop, retry on the normal
// schedule, or back off longer (rate limiting, overloaded peers).
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Action tells the loop how to treat one failure.
type Action int

const (
	// Stop aborts immediately: the error is permanent.
	Stop Action = iota
	// Retry uses the normal doubling backoff.
	Retry
	// After switches to the longer rate-limit backoff before continuing.
	After
)

// Policy bounds the retry loop. A zero RateLimitBackoff falls back to the
// doubled normal backoff; a nil Clock uses the wall clock.
type Policy struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	RateLimitBackoff time.Duration
	OnRetry          func(attempt int, err error, backoff time.Duration)
	Clock            clockwork.Clock
}

// Classify maps an operation error to the Action the loop should take.
type Classify func(err error) Action

// Operation is one fallible attempt producing a value.
type Operation[T any] func() (T, error)

// VoidOperation is one fallible attempt with no value.
type VoidOperation func() error

// Do runs op until it succeeds, classify says Stop, MaxAttempts is spent, or
// ctx is done. A Stop classification wraps the error in *PermanentError so
// callers can tell give-ups from exhaustion.
func Do[T any](ctx context.Context, p Policy, classify Classify, op Operation[T]) (T, error) {
	clk := p.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	backoff := p.InitialBackoff

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		val, err := op()
		if err == nil {
			return val, nil
		}

		action := classify(err)
		if action == Stop {
			var zero T
			return zero, &PermanentError{Err: err}
		}

		if attempt == p.MaxAttempts {
			var zero T
			return zero, fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, err)
		}

		if action == After && p.RateLimitBackoff > 0 {
			backoff = p.RateLimitBackoff
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err, backoff)
		}

		select {
		case <-clk.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			var zero T
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	panic("unreachable: MaxAttempts must be >= 1")
}

// DoVoid is Do for operations that produce no value.
func DoVoid(ctx context.Context, p Policy, classify Classify, op VoidOperation) error {
	_, err := Do(ctx, p, classify, func() (struct{}, error) { return struct{}{}, op() })
	return err
}

// PermanentError wraps an error the classifier declared unretryable.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }
