package embedding

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/errs"
)

// retryConfig: exponential backoff, base 1s, factor 2,
// jitter +-10%, capped at 60s or `retries` attempts, honoring a
// should-retry predicate (default: non-auth errors retryable).
type retryConfig struct {
	retries int
}

func defaultRetryConfig() retryConfig { return retryConfig{retries: 4} }

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxInterval = 60 * time.Second
	b.MaxElapsedTime = 60 * time.Second
	return b
}

// withRetry runs op, retrying per retryConfig while shouldRetry(err) holds.
// A *errs.ProviderError with Retryable=false stops retrying immediately.
func withRetry(ctx context.Context, cfg retryConfig, op func() error) error {
	// WithMaxRetries counts retries after the first call, so retries-1 of
	// them make `retries` attempts in total.
	maxRetries := cfg.retries - 1
	if maxRetries < 0 {
		maxRetries = 0
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), uint64(maxRetries)), ctx)
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !shouldRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

func shouldRetry(err error) bool {
	var pe *errs.ProviderError
	if asProviderError(err, &pe) {
		return pe.Retryable
	}
	return true
}

func asProviderError(err error, target **errs.ProviderError) bool {
	for err != nil {
		if pe, ok := err.(*errs.ProviderError); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
