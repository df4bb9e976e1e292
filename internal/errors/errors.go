package errors

import (
	"github.com/cockroachdb/errors"
)

// Sentinel errors used to mark the category of an error. Services mark
// errors with exactly one of these; callers branch with the Is* helpers.
var (
	ErrValidation           = errors.New("validation_error")
	ErrNotFound             = errors.New("not_found")
	ErrAlreadyExists        = errors.New("already_exists")
	ErrInvalidOperation     = errors.New("invalid_operation")
	ErrInsufficientCredit   = errors.New("insufficient_credit")
	ErrSubscriptionInactive = errors.New("subscription_inactive")
	ErrPermissionDenied     = errors.New("permission_denied")
	ErrDatabase             = errors.New("database_error")
	ErrInternal             = errors.New("internal_error")
)

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsAlreadyExists checks if the error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsInvalidOperation checks if the error is an invalid operation error
func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

// IsInsufficientCredit checks if the error is an insufficient credit error
func IsInsufficientCredit(err error) bool {
	return errors.Is(err, ErrInsufficientCredit)
}

// IsSubscriptionInactive checks if the error is a subscription inactive error
func IsSubscriptionInactive(err error) bool {
	return errors.Is(err, ErrSubscriptionInactive)
}

// IsPermissionDenied checks if the error is a permission denied error
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// IsDatabase checks if the error is a database error
func IsDatabase(err error) bool {
	return errors.Is(err, ErrDatabase)
}

// IsInternal checks if the error is an internal error
func IsInternal(err error) bool {
	return errors.Is(err, ErrInternal)
}
