package validator

import (
	"sync"

	"github.com/go-playground/validator/v10"
	ierr "github.com/storyforge/metering/internal/errors"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// GetValidator returns the shared validator instance.
func GetValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateRequest validates a request struct against its validate tags and
// returns a marked validation error on failure.
func ValidateRequest(req interface{}) error {
	if err := GetValidator().Struct(req); err != nil {
		return ierr.WithError(err).
			WithHint("Request validation failed").
			Mark(ierr.ErrValidation)
	}
	return nil
}
