// Package retry provides the single retry helper used by the fetch and
// ingest layers. One parameterized loop instead of per-caller copies.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Do runs op up to attempts times with a fixed delay between attempts.
// It stops early when op succeeds or ctx is cancelled.
func Do(ctx context.Context, attempts int, delay time.Duration, op func() error) error {
	return DoIf(ctx, attempts, delay, func(error) bool { return true }, op)
}

// DoIf runs op up to attempts times, retrying only while retryable returns
// true for the failure. The last error is returned wrapped when all attempts
// are exhausted.
func DoIf(ctx context.Context, attempts int, delay time.Duration, retryable func(error) bool, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := op(); err != nil {
			lastErr = err
			if !retryable(err) {
				return err
			}
			continue
		}
		return nil
	}

	return fmt.Errorf("%d attempts exhausted: %w", attempts, lastErr)
}
