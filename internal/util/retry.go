package util

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryOperation retries the operation with a constant backoff policy.
func RetryOperation(ctx context.Context, wait time.Duration, retries int, operation func() error) error {
	bo := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(wait),
		uint64(retries),
	)
	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}

// RetryOperationForErrors is like RetryOperation but only retries when the operation
// fails with one of retriable (matched with errors.Is). Any other error is returned as is.
func RetryOperationForErrors(ctx context.Context, wait time.Duration, retries int, retriable []error, operation func() error) error {
	err := RetryOperation(ctx, wait, retries, func() error {
		err := operation()
		if err == nil {
			return nil
		}
		for _, r := range retriable {
			if errors.Is(err, r) {
				return err
			}
		}
		return backoff.Permanent(err)
	})
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}
