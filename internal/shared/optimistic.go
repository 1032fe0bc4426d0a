package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	// OptimisticMaxRetries is the number of re-applications after the first
	// conflicted attempt.
	OptimisticMaxRetries = 3
	// OptimisticBaseDelay is the wait before the first retry; subsequent
	// retries double it (100ms, 200ms, 400ms).
	OptimisticBaseDelay = 100 * time.Millisecond
)

// RetryOptimistic applies fn under the engine-wide optimistic concurrency
// contract: fn must re-read current state and recompute its delta on every
// attempt. ErrVersionConflict triggers a backoff-delayed retry; any other
// error aborts immediately. Once the retry budget is spent the conflict is
// surfaced as ErrConcurrencyExhausted, never dropped.
func RetryOptimistic(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(OptimisticMaxRetries, retry.NewExponential(OptimisticBaseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrVersionConflict) {
		return fmt.Errorf("%w after %d attempts: %v", ErrConcurrencyExhausted, OptimisticMaxRetries+1, err)
	}
	return err
}
