package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code, so callers can write
// errors.Is(err, errors.InvalidType) against sentinels below.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// StatusCode maps the error code to an HTTP status. Consumed by
// middleware.ErrorHandler.
func (e *AppError) StatusCode() int {
	switch e.Code {
	case ErrBadRequest, ErrValidation, ErrInvalidType, ErrEmptyRecipients:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Common error codes
const (
	ErrBadRequest ErrorCode = iota + 1000
	ErrUnauthorized
	ErrInternal
	ErrValidation
	ErrInvalidType
	ErrEmptyRecipients
	ErrPersistence
)

// Sentinels for errors.Is checks.
var (
	InvalidType     = &AppError{Code: ErrInvalidType, Message: "invalid notification type"}
	EmptyRecipients = &AppError{Code: ErrEmptyRecipients, Message: "recipient_ids must not be empty"}
	Validation      = &AppError{Code: ErrValidation, Message: "validation failed"}
	Persistence     = &AppError{Code: ErrPersistence, Message: "persistence failed"}
)

// Error constructors
func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

// InternalMessage is what clients see for any 5xx.
const InternalMessage = "internal server error"

// NewInternal wraps an error that carries no code of its own.
func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: InternalMessage,
		Err:     err,
	}
}

// NewInvalidType reports a type name that is not in the enumeration.
func NewInvalidType(name string) *AppError {
	return &AppError{
		Code:    ErrInvalidType,
		Message: fmt.Sprintf("invalid notification type %q", name),
	}
}

func NewEmptyRecipients() *AppError {
	return &AppError{
		Code:    ErrEmptyRecipients,
		Message: EmptyRecipients.Message,
	}
}

// NewValidation names the violated constraint in the message.
func NewValidation(format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Message: fmt.Sprintf(format, args...),
	}
}

func NewPersistence(op string, err error) *AppError {
	return &AppError{
		Code:    ErrPersistence,
		Message: fmt.Sprintf("failed to %s", op),
		Err:     err,
	}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

// As is a shorthand for extracting an *AppError from a wrapped chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
