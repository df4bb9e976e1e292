package errors

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

// ErrorDetail is the inner payload of an ErrorResponse.
type ErrorDetail struct {
	Message          string                 `json:"message"`
	InternalError    string                 `json:"internal_error,omitempty"`
	ReportableDetail map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse is the standard error body returned by the HTTP layer.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// NewErrorResponse builds the user-facing error body. The hint, when set, is
// preferred over the raw error message so internals do not leak to callers.
func NewErrorResponse(err error) *ErrorResponse {
	message := err.Error()
	if hint := Hint(err); hint != "" {
		message = hint
	}

	return &ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Message:          message,
			InternalError:    err.Error(),
			ReportableDetail: ReportableDetails(err),
		},
	}
}

// HTTPStatusFromErr maps an error category to an HTTP status code.
func HTTPStatusFromErr(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidOperation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrInsufficientCredit):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrSubscriptionInactive):
		return http.StatusForbidden
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrDatabase):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
