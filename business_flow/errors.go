// Package businessflow contains the admin use cases: authentication and queue management
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Admin-related errors
	ErrAdminNotFound     = errors.New("admin not found")
	ErrAdminInactive     = errors.New("admin is inactive")
	ErrIncorrectPassword = errors.New("incorrect password")

	// Dispatch queue errors
	ErrDispatchRecordNotFound = errors.New("dispatch record not found")
	ErrMessageNotFound        = errors.New("message not found")
	ErrInvalidDispatchID      = errors.New("invalid dispatch record id")
	ErrInvalidPhone           = errors.New("invalid phone number")
	ErrDeleteTargetAmbiguous  = errors.New("either id or all must be provided, not both")
	ErrNoPhones               = errors.New("at least one phone number is required")

	// Filter errors
	ErrInvalidPage     = errors.New("page must be at least 1")
	ErrInvalidPageSize = errors.New("page size is out of range")
	ErrInvalidStatus   = errors.New("invalid dispatch status")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsAdminNotFound(err error) bool {
	return errors.Is(err, ErrAdminNotFound)
}

func IsAdminInactive(err error) bool {
	return errors.Is(err, ErrAdminInactive)
}

func IsIncorrectPassword(err error) bool {
	return errors.Is(err, ErrIncorrectPassword)
}

func IsDispatchRecordNotFound(err error) bool {
	return errors.Is(err, ErrDispatchRecordNotFound)
}

func IsMessageNotFound(err error) bool {
	return errors.Is(err, ErrMessageNotFound)
}

func IsInvalidDispatchID(err error) bool {
	return errors.Is(err, ErrInvalidDispatchID)
}

func IsInvalidPhone(err error) bool {
	return errors.Is(err, ErrInvalidPhone)
}

func IsDeleteTargetAmbiguous(err error) bool {
	return errors.Is(err, ErrDeleteTargetAmbiguous)
}

// IsValidationError reports whether err stems from bad client input
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidPage) ||
		errors.Is(err, ErrInvalidPageSize) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrNoPhones) ||
		IsInvalidPhone(err) ||
		IsInvalidDispatchID(err) ||
		IsDeleteTargetAmbiguous(err)
}

// ErrorCode returns the business code carried by err, or fallback
func ErrorCode(err error, fallback string) string {
	var be *BusinessError
	if errors.As(err, &be) && be.Code != "" {
		return be.Code
	}
	return fallback
}
