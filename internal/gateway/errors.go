package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Code identifies the failure class a processor reported.
type Code string

const (
	// CodeDeclined covers card declines and insufficient funds. Terminal.
	CodeDeclined Code = "declined"
	// CodeInvalidRequest covers malformed or unauthorized requests. Terminal.
	CodeInvalidRequest Code = "invalid_request"
	// CodeRateLimited means the processor asked us to slow down. Retryable.
	CodeRateLimited Code = "rate_limited"
	// CodeNetwork covers connection failures and processor 5xx. Retryable.
	CodeNetwork Code = "network"
	// CodeTimeout covers deadline expiry on an outbound call. Retryable.
	CodeTimeout Code = "timeout"
)

// Error is a classified gateway failure. Retryable errors propagate to
// a backoff-retrying caller; terminal ones are recorded on the order and
// surfaced without retry. Getting the classification wrong is costly in
// both directions: a terminal error marked retryable burns all charge
// attempts, a retryable one marked terminal abandons a chargeable order.
type Error struct {
	Code      Code
	Message   string
	Retryable bool
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return fmt.Sprintf("gateway: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("gateway: %s", e.Code)
}

// Unwrap allows errors.Is/As to inspect the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsRetryable reports whether err is a gateway error safe to retry with
// backoff. Timeouts and cancellations count as retryable even when the
// adapter did not get a chance to classify them.
func IsRetryable(err error) bool {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsTerminal reports whether err is a classified gateway error that must
// not be retried.
func IsTerminal(err error) bool {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return !gwErr.Retryable
	}
	return false
}

func declined(message string, cause error) *Error {
	return &Error{Code: CodeDeclined, Message: message, Err: cause}
}

func invalidRequest(message string, cause error) *Error {
	return &Error{Code: CodeInvalidRequest, Message: message, Err: cause}
}

func rateLimited(message string, cause error) *Error {
	return &Error{Code: CodeRateLimited, Message: message, Retryable: true, Err: cause}
}

func network(message string, cause error) *Error {
	return &Error{Code: CodeNetwork, Message: message, Retryable: true, Err: cause}
}

func timeout(message string, cause error) *Error {
	return &Error{Code: CodeTimeout, Message: message, Retryable: true, Err: cause}
}
