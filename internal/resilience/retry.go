package resilience

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrRetriesExhausted is returned when every attempt of a RetryPolicy failed.
// The last attempt's error is joined to it.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryPolicy is a bounded exponential retry: at most MaxAttempts calls,
// waiting Delay * Backoff^(n-1) before attempt n+1. No jitter is applied.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     float64

	// Notify, when set, is called before each wait with the failed attempt's
	// error and the delay about to be slept.
	Notify func(err error, next time.Duration)
}

// Do runs fn until it succeeds, returns a Permanent error, the attempts are
// used up or ctx is done.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	multiplier := p.Backoff
	if multiplier < 1 {
		multiplier = 1
	}

	eb := &backoff.ExponentialBackOff{
		InitialInterval:     p.Delay,
		RandomizationFactor: 0,
		Multiplier:          multiplier,
		MaxInterval:         time.Duration(math.MaxInt64),
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if p.Notify != nil {
		opts = append(opts, backoff.WithNotify(p.Notify))
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return perm.err
	}
	return errors.Join(ErrRetriesExhausted, err)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns it unwrapped after
// the current attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(&permanentError{err: err})
}
