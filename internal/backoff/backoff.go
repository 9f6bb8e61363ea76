// Package backoff retries idempotent reads with bounded, jittered exponential backoff.
// Mutating calls must not go through it.
package backoff

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go"
)

// Policy bounds the retries of a read.
type Policy struct {
	Attempts uint
	Delay    time.Duration
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return retry.Unrecoverable(err)
}

// Do runs fn until it succeeds, returns a permanent error, ctx ends, or the attempts run out.
// The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	jitter := p.Delay
	if jitter <= 0 {
		jitter = time.Millisecond
	}

	return retry.Do(
		func() error {
			return fn(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(p.Delay),
		retry.MaxJitter(jitter),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.RetryIf(func(err error) bool {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			return retry.IsRecoverable(err)
		}),
		retry.LastErrorOnly(true),
	)
}
