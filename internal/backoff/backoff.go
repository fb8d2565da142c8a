// Package backoff provides the retry policy shared by all network-bound
// stages: bounded attempts, exponential delay, and a transient-error
// predicate. Cancellation is checked between attempts.
package backoff

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// Defaults used by the pipeline stages.
const (
	DefaultAttempts = 3
	DefaultBase     = 2 * time.Second
)

// Retry runs fn with exponential backoff. Only errors marked via
// Transient are retried; everything else fails immediately. attempts is
// the total number of tries, not the number of retries.
func Retry(ctx context.Context, attempts uint64, base time.Duration, fn func(ctx context.Context) error) error {
	if attempts == 0 {
		attempts = 1
	}
	b := retry.WithMaxRetries(attempts-1, retry.NewExponential(base))
	return retry.Do(ctx, b, fn)
}

// Transient marks err as retryable.
func Transient(err error) error {
	return retry.RetryableError(err)
}

// RetryableStatus reports whether an HTTP status code indicates a
// transient failure: rate limiting or a server-side error.
func RetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// RetryableNetErr reports whether err looks like a transient transport
// failure (timeout or temporary network error).
func RetryableNetErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
