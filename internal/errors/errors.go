package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Message == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message
func Newf(code, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an error with additional context, keeping the code of the innermost AppError
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Cause:   appErr,
		}
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode adds an error code to an existing error
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    code,
			Message: appErr.Message,
			Cause:   appErr.Cause,
		}
	}
	return &AppError{
		Code:  code,
		Cause: err,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetCode returns the error code if it's an AppError, otherwise returns "UNKNOWN"
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

// HasCode reports whether any AppError in the chain carries code
func HasCode(err error, code string) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// Predefined error codes
const (
	CodeShapeMismatch        = "SHAPE_MISMATCH"
	CodeDegenerateDesign     = "DEGENERATE_DESIGN"
	CodeDegenerateContrast   = "DEGENERATE_CONTRAST"
	CodeExchangeability      = "EXCHANGEABILITY"
	CodeInvalidInput         = "INVALID_INPUT"
	CodeUnsupportedStatistic = "UNSUPPORTED_STATISTIC"
	CodeConfigInvalid        = "CONFIG_INVALID"
	CodeIO                   = "IO_ERROR"
	CodeInternalError        = "INTERNAL_ERROR"
)

// Common error constructors
func ShapeMismatch(input string, format string, args ...interface{}) *AppError {
	return New(CodeShapeMismatch, input+": "+fmt.Sprintf(format, args...))
}

func DegenerateDesign(message string) *AppError {
	return New(CodeDegenerateDesign, message)
}

func DegenerateContrast(message string) *AppError {
	return New(CodeDegenerateContrast, message)
}

func Exchangeability(message string) *AppError {
	return New(CodeExchangeability, message)
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

func UnsupportedStatistic(name, reason string) *AppError {
	return New(CodeUnsupportedStatistic, fmt.Sprintf("%s: %s", name, reason))
}

func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func IOError(path string, cause error) *AppError {
	return &AppError{
		Code:    CodeIO,
		Message: fmt.Sprintf("cannot access %s", path),
		Cause:   cause,
	}
}

func InternalError(message string) *AppError {
	return New(CodeInternalError, message)
}
