package extapi

import (
	"errors"
	"fmt"
	"time"
)

// AuthError is fatal: bad credentials cannot be retried away and every
// retry burns rate-limit budget.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("extapi: authentication rejected (http %d)", e.Status)
}

// TransientError covers timeouts, connection failures and 5xx — safe to
// retry with backoff.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extapi: transient failure: %v", e.Err)
	}
	return fmt.Sprintf("extapi: transient failure (http %d)", e.Status)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitedError means the provider returned 429 despite local pacing.
// Retryable after backing off.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("extapi: rate limited, retry after %s", e.RetryAfter)
}

func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsRetryable reports whether the page fetch may be attempted again.
func IsRetryable(err error) bool {
	var te *TransientError
	var re *RateLimitedError
	return errors.As(err, &te) || errors.As(err, &re)
}
