// Package apperror provides the structured error taxonomy of the mapping layer.
// Every failure surfaced by entities, models and mappers is an *AppError so
// callers can branch on Code with errors.As.
package apperror

import (
	"errors"
	"fmt"
)

const (
	// Programming errors: the caller asked for something that does not exist.
	CodeInvalidProperty = "INVALID_PROPERTY"
	CodeMethodNotFound  = "METHOD_NOT_FOUND"

	// Input errors: the call shape is right but a value is not acceptable.
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeValidation      = "VALIDATION_ERROR"

	// Storage errors are propagated unchanged from the adapter.
	CodeStorage  = "STORAGE_ERROR"
	CodeConflict = "CONFLICT"

	CodeNotFound = "NOT_FOUND"
)

// AppError carries a Code for branching and Details for logging.
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

// WithDetail records key=value and returns e for chaining.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// WithCause attaches the underlying error.
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// NewInvalidProperty reports access to an undeclared or non-relation property.
func NewInvalidProperty(entity, property string) *AppError {
	return &AppError{
		Code:    CodeInvalidProperty,
		Message: fmt.Sprintf("invalid property %s.%s", entity, property),
		Details: map[string]any{"entity": entity, "property": property},
	}
}

// NewInvalidArgument reports a rejected value.
func NewInvalidArgument(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidArgument,
		Message: message,
	}
}

// NewValidation creates a validation error raised by an entity's own rules.
func NewValidation(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

// NewMethodNotFound reports a convention call whose verb is unknown.
func NewMethodNotFound(entity, method string) *AppError {
	return &AppError{
		Code:    CodeMethodNotFound,
		Message: fmt.Sprintf("method %s not found on %s", method, entity),
		Details: map[string]any{"entity": entity, "method": method},
	}
}

// NewStorage wraps a failure of the storage adapter.
func NewStorage(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeStorage,
		Message: operation + " failed",
		Details: map[string]any{"operation": operation},
		Err:     err,
	}
}

// NewConflict creates a conflict error (foreign-key violations and the like).
func NewConflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
	}
}

// NewNotFound reports a single-row lookup that matched nothing.
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", entity),
		Details: map[string]any{"entity": entity, "id": id},
	}
}

// As extracts the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	if appErr, ok := As(err); ok {
		return appErr.Code == code
	}
	return false
}

func IsInvalidProperty(err error) bool { return HasCode(err, CodeInvalidProperty) }
func IsInvalidArgument(err error) bool { return HasCode(err, CodeInvalidArgument) }
func IsValidation(err error) bool      { return HasCode(err, CodeValidation) }
func IsMethodNotFound(err error) bool  { return HasCode(err, CodeMethodNotFound) }
func IsStorage(err error) bool         { return HasCode(err, CodeStorage) }
func IsNotFound(err error) bool        { return HasCode(err, CodeNotFound) }
