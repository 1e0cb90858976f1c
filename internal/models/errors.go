package models

import (
	"errors"
	"fmt"
)

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	ErrorCodeInvalidField         ErrorCode = "INVALID_FIELD"
	ErrorCodeInvalidQuantity      ErrorCode = "INVALID_QUANTITY"
	ErrorCodeInsufficientStock    ErrorCode = "INSUFFICIENT_STOCK"
	ErrorCodeReservationUnderflow ErrorCode = "RESERVATION_UNDERFLOW"
	ErrorCodeProductNotFound      ErrorCode = "PRODUCT_NOT_FOUND"
	ErrorCodeRecordExists         ErrorCode = "RECORD_EXISTS"
	ErrorCodeBusy                 ErrorCode = "BUSY"
	ErrorCodeValidationError      ErrorCode = "VALIDATION_ERROR"
	ErrorCodeInternalError        ErrorCode = "INTERNAL_ERROR"
)

const (
	ProblemTypeValidationError = "validation-error"
	ProblemTypeBusinessError   = "business-logic-error"
	ProblemTypeNotFound        = "not-found"
	ProblemTypeBusy            = "busy"
	ProblemTypeInternalError   = "internal-error"
)

// Ledger error taxonomy. InsufficientStock is a normal business outcome
// under contention, never retried by the ledger itself. Busy is transient
// and safe to retry with backoff. ReservationUnderflow and ProductNotFound
// signal a caller-side bug and must not be retried.
var (
	ErrProductNotFound      = errors.New("no stock record for product")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrReservationUnderflow = errors.New("reservation underflow")
	ErrBusy                 = errors.New("record busy, retry later")
	ErrRecordExists         = errors.New("stock record already exists")
)

// IsRetryable reports whether the caller may retry the operation with backoff
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}

// CodeForError maps ledger errors to API error codes
func CodeForError(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrProductNotFound):
		return ErrorCodeProductNotFound
	case errors.Is(err, ErrInvalidQuantity):
		return ErrorCodeInvalidQuantity
	case errors.Is(err, ErrInsufficientStock):
		return ErrorCodeInsufficientStock
	case errors.Is(err, ErrReservationUnderflow):
		return ErrorCodeReservationUnderflow
	case errors.Is(err, ErrBusy):
		return ErrorCodeBusy
	case errors.Is(err, ErrRecordExists):
		return ErrorCodeRecordExists
	default:
		return ErrorCodeInternalError
	}
}

// ValidationError represents validation errors with detailed field information
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Value   any    `json:"value,omitempty"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ProblemDetails follows RFC 7807 for structured API error responses
type ProblemDetails struct {
	Type     string      `json:"type"`
	Title    string      `json:"title"`
	Status   int         `json:"status"`
	Detail   string      `json:"detail,omitempty"`
	Instance string      `json:"instance,omitempty"`
	Field    string      `json:"field,omitempty"`
	Code     string      `json:"code,omitempty"`
	Errors   interface{} `json:"errors,omitempty"`
}

func NewProblemDetails(status int, title, detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:   problemType(status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// NewValidationProblem creates a validation error problem
func NewValidationProblem(field, message string, code ErrorCode) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeValidationError,
		Title:  "Validation Failed",
		Status: 400,
		Detail: message,
		Field:  field,
		Code:   string(code),
	}
}

// NewMultiValidationProblem creates a multi-field validation error problem
func NewMultiValidationProblem(violations []ValidationError) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeValidationError,
		Title:  "Validation Failed",
		Status: 400,
		Detail: "Multiple validation errors occurred",
		Errors: violations,
	}
}

// NewBusinessLogicProblem creates a business logic error problem
func NewBusinessLogicProblem(status int, title, detail string, code ErrorCode) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeBusinessError,
		Title:  title,
		Status: status,
		Detail: detail,
		Code:   string(code),
	}
}

// NewNotFoundProblem creates a not found error problem
func NewNotFoundProblem(resource string) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeNotFound,
		Title:  "Resource Not Found",
		Status: 404,
		Detail: resource + " not found",
	}
}

// NewBusyProblem creates a 503 problem for lock-wait timeouts; the caller
// should retry with backoff.
func NewBusyProblem(detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeBusy,
		Title:  "Ledger Busy",
		Status: 503,
		Detail: detail,
		Code:   string(ErrorCodeBusy),
	}
}

// NewInternalErrorProblem creates an internal server error problem
func NewInternalErrorProblem() *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeInternalError,
		Title:  "Internal Server Error",
		Status: 500,
		Detail: "An unexpected error occurred",
	}
}

func problemType(status int) string {
	switch status {
	case 400:
		return ProblemTypeValidationError
	case 404:
		return ProblemTypeNotFound
	case 409, 422:
		return ProblemTypeBusinessError
	case 503:
		return ProblemTypeBusy
	default:
		return ProblemTypeInternalError
	}
}
