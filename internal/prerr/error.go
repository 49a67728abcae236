// Package prerr provides error types shared between the remote API client
// and its callers.
package prerr

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RetryableError marks a failed remote operation as transient.
// prbuilder never retries by itself, the next poll cycle or webhook delivery
// runs the operation again. The type exists so that log entries can state
// when the remote side expects requests again.
type RetryableError struct {
	// Err is the wrapped original error
	Err error
	// After is the earlierst point in time that the opertion can be retried
	After time.Time
}

func NewRetryableError(originalErr error, retryAfter time.Time) *RetryableError {
	return &RetryableError{
		Err:   originalErr,
		After: retryAfter,
	}
}

func NewRetryableAnytimeError(originalErr error) *RetryableError {
	return &RetryableError{
		Err: originalErr,
	}
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) Error() string {
	if e.After.IsZero() {
		return fmt.Sprintf("retryable error: %s", e.Err)
	}

	return fmt.Sprintf("retryable error (after %s): %s", e.After, e.Err)
}

// LogFields returns fields describing err.
// If err wraps a RetryableError the fields contain the retry information.
func LogFields(err error) []zap.Field {
	var retryErr *RetryableError

	if !errors.As(err, &retryErr) {
		return []zap.Field{zap.Error(err)}
	}

	fields := []zap.Field{zap.Error(err), zap.Bool("retryable", true)}
	if !retryErr.After.IsZero() {
		fields = append(fields, zap.Time("retry_after", retryErr.After))
	}

	return fields
}
