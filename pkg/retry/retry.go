// Package retry provides the single bounded-retry combinator used for every
// remote operation that is allowed to fail transiently.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Permanent marks err as non-retryable: Do returns it immediately without
// consuming further attempts.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do invokes op until it succeeds, returns a permanent error, ctx is
// cancelled, or attempts is exhausted. A constant delay separates attempts.
// attempts below 1 is treated as 1.
func Do(ctx context.Context, attempts uint64, delay time.Duration, op func() error) error {
	return backoff.Retry(op, policy(ctx, attempts, delay))
}

// Notify behaves like Do but calls notify with the error and the upcoming
// delay after every failed attempt. Used where the caller logs retries.
func Notify(
	ctx context.Context,
	attempts uint64,
	delay time.Duration,
	op func() error,
	notify func(error, time.Duration),
) error {
	return backoff.RetryNotify(op, policy(ctx, attempts, delay), notify)
}

func policy(ctx context.Context, attempts uint64, delay time.Duration) backoff.BackOffContext {
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), attempts-1),
		ctx,
	)
}
