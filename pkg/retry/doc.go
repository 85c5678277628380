// Package retry runs operations that may fail transiently, waiting between
// attempts according to a BackoffStrategy.
//
// DoAttempts hands the attempt number to the operation so a caller can relax
// its checks on the last try. The image fetch loop relies on this to accept an
// undersized page once no attempts are left:
//
//	err := retry.DoAttempts(func(attempt int) error {
//		return fetchOnce(ctx, url, attempt == maxAttempts)
//	}, &retry.Config{
//		MaxAttempts: maxAttempts,
//		Backoff:     &retry.ConstantBackoff{Delay: time.Second},
//		Context:     ctx,
//	})
//
// When attempts run out the returned error wraps ErrExhausted and the last
// failure, so errors.StatusFor still sees the transport status.
package retry
