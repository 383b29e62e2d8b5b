package transport

import (
	"context"

	"github.com/zsiec/camlink/internal/retry"
)

// dialWithRetry runs one connect attempt per retry.Policy step.
func dialWithRetry[T any](ctx context.Context, opts Options, attempt func(context.Context) (T, error)) (T, error) {
	return retry.Do(ctx, opts.retryPolicy(), attempt)
}
