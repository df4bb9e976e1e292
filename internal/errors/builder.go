package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// InternalError is the rich error type carried through the service layers.
// It wraps a cause, carries a user-safe hint and structured details, and is
// marked with exactly one sentinel so callers can branch on category.
type InternalError struct {
	cause             error
	hint              string
	reportableDetails map[string]interface{}
	mark              error
}

// NewError starts building an error from a message.
func NewError(msg string) *InternalError {
	return &InternalError{cause: errors.New(msg)}
}

// NewErrorf starts building an error from a formatted message.
func NewErrorf(format string, args ...interface{}) *InternalError {
	return &InternalError{cause: errors.Newf(format, args...)}
}

// WithError starts building an error that wraps an existing one.
func WithError(err error) *InternalError {
	return &InternalError{cause: err}
}

// WithHint attaches a short, user-safe hint.
func (e *InternalError) WithHint(hint string) *InternalError {
	e.hint = hint
	return e
}

// WithHintf attaches a formatted user-safe hint.
func (e *InternalError) WithHintf(format string, args ...interface{}) *InternalError {
	e.hint = fmt.Sprintf(format, args...)
	return e
}

// WithReportableDetails attaches structured details safe to surface to callers.
func (e *InternalError) WithReportableDetails(details map[string]interface{}) *InternalError {
	e.reportableDetails = details
	return e
}

// Mark finalizes the builder with a sentinel category.
func (e *InternalError) Mark(sentinel error) error {
	e.mark = sentinel
	return e
}

func (e *InternalError) Error() string {
	if e.cause != nil {
		return e.cause.Error()
	}
	if e.mark != nil {
		return e.mark.Error()
	}
	return "unknown error"
}

func (e *InternalError) Unwrap() error {
	return e.cause
}

// Is lets errors.Is match the sentinel this error was marked with.
func (e *InternalError) Is(target error) bool {
	if e.mark != nil && errors.Is(e.mark, target) {
		return true
	}
	return errors.Is(e.cause, target)
}

// Hint returns the user-safe hint from the outermost InternalError in the
// chain, or an empty string.
func Hint(err error) string {
	var ie *InternalError
	if errors.As(err, &ie) {
		return ie.hint
	}
	return ""
}

// ReportableDetails returns the structured details from the outermost
// InternalError in the chain, or nil.
func ReportableDetails(err error) map[string]interface{} {
	var ie *InternalError
	if errors.As(err, &ie) {
		return ie.reportableDetails
	}
	return nil
}
