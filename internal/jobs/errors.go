package jobs

import (
	"context"
	"errors"
	"net"
	"time"

	"league-jobs-service/internal/backoff"
)

// Category classifies a handler failure for the retry decision.
type Category string

const (
	CategoryTimeout     Category = "timeout"
	CategoryNetwork     Category = "network"
	CategoryRateLimit   Category = "rate_limit"
	CategoryServerError Category = "server_error"
	CategoryValidation  Category = "validation"
	CategoryUnknown     Category = "unknown"
)

// Retryable reports whether a failure of this category may be re-run.
// Validation failures are permanent; everything else is assumed transient,
// with unknown treated as transient conservatively.
func (c Category) Retryable() bool {
	return c != CategoryValidation
}

// Delay is the suggested backoff before retry attempt n for this category.
func (c Category) Delay(attempt int) time.Duration {
	var s backoff.Strategy
	switch c {
	case CategoryRateLimit:
		s = backoff.NewConstant(30 * time.Second)
	case CategoryTimeout, CategoryNetwork, CategoryServerError:
		s = backoff.NewExponentialJitter(2*time.Second, 2*time.Minute)
	default:
		s = backoff.NewExponential(15*time.Second, 5*time.Minute)
	}
	return s.Delay(attempt)
}

// Error is a classified engine error. Code is the short machine-readable
// identifier persisted on the job (or item) for the submitter to inspect.
type Error struct {
	Code     string
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation builds a permanent, never-retried error.
func Validation(code, message string) *Error {
	return &Error{Code: code, Category: CategoryValidation, Message: message}
}

// Transient wraps an upstream failure that is worth retrying.
func Transient(category Category, code string, err error) *Error {
	return &Error{Code: code, Category: category, Message: code, Err: err}
}

// Classify maps an arbitrary error to its category and code. Errors built by
// this package carry their classification; for the rest we recognize context
// deadlines and net timeouts, and fall back to unknown (retryable, with a
// conservative delay).
func Classify(err error) (Category, string) {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Category, engineErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout, "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout, "timeout"
		}
		return CategoryNetwork, "network"
	}
	return CategoryUnknown, "unknown"
}
