// Package retry runs an operation repeatedly under an exponential backoff
// policy until it succeeds, aborts, or runs out of attempts.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Policy bounds how often and how fast Do retries.
type Policy struct {
	Attempts int           // total calls, including the first
	Base     time.Duration // delay before the second call; doubles after that
}

// backoff returns the jittered sleep after the given zero-based attempt.
// Jitter is +-25% so synchronized callers spread out.
func (p Policy) backoff(attempt int) time.Duration {
	d := p.Base << attempt
	if d <= 0 {
		return 0
	}
	quarter := int64(d / 4)
	return d - time.Duration(quarter) + time.Duration(rand.Int64N(2*quarter+1))
}

type abortError struct{ err error }

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }

// Abort marks err as final: Do returns it immediately without further
// attempts. The marker is stripped before the error is returned.
func Abort(err error) error { return &abortError{err: err} }

// Do calls fn until it returns nil, returns an aborted error, ctx ends,
// or the policy's attempts are exhausted. The last error wins.
func Do(ctx context.Context, p Policy, fn func() error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}

	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}

		var abort *abortError
		if errors.As(err, &abort) {
			return abort.err
		}

		if attempt == p.Attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff(attempt)):
		}
	}
	return err
}
