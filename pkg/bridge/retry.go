package bridge

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy is the explicit retry-policy value design notes §9 calls for,
// replacing the source's ad-hoc promise-based retry with a single driver
// every bridge operation shares.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy builds the policy spec §4.1 mandates: maxRetries=3,
// retryBaseDelayMs=500, linear backoff.
func DefaultRetryPolicy(maxRetries int, baseDelay time.Duration) RetryPolicy {
	return RetryPolicy{MaxRetries: maxRetries, BaseDelay: baseDelay}
}

// attemptFn performs one bridge call attempt. It should return a
// *BrokerError (wrapped or not) or one of the package sentinels so the
// driver can classify retryable vs fatal; any other error is treated as a
// transport failure and is always retryable.
type attemptFn func(ctx context.Context, attempt int) error

// do runs attemptFn up to policy.MaxRetries times with linear backoff
// (baseDelay * attempt) between attempts, stopping early on a fatal
// BrokerError. It never retries past MaxRetries attempts total (spec §4.1,
// boundary scenario S6: three attempts, not three retries-after-first).
func (p RetryPolicy) do(ctx context.Context, fn attemptFn) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxRetries; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		if attempt == p.MaxRetries {
			break
		}

		wait := p.BaseDelay * time.Duration(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}

// isRetryable classifies an attempt error: the package sentinels that
// Client.classify produces (already closed, invalid volume, symbol
// unavailable) are fatal; a *BrokerError defers to its own Retryable()
// classification (the broker code/message matrix); anything else (network
// errors, timeouts, non-2xx transport failures) is treated as retryable,
// matching spec §7's "transport errors are retryable" rule.
func isRetryable(err error) bool {
	if errors.Is(err, ErrPositionAlreadyClosed) || errors.Is(err, ErrInvalidVolume) || errors.Is(err, ErrSymbolUnavailable) {
		return false
	}
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Retryable()
	}
	return true
}
