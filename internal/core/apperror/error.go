// Package apperror provides structured errors for flush and cascade-delete operations.
// Every failure the engine surfaces to a caller is an AppError carrying a stable code.
package apperror

import (
	"errors"
	"fmt"
)

// Error codes
const (
	// Infrastructure errors
	CodeInternal = "INTERNAL_ERROR"
	CodeDatabase = "DATABASE_ERROR"

	// Identifier and model errors
	CodeResolution   = "RESOLUTION_ERROR"
	CodeInvalidModel = "INVALID_MODEL"

	// Store state errors
	CodeNotFound             = "ENTITY_NOT_FOUND"
	CodeOptimisticLock       = "OPTIMISTIC_LOCK_CONFLICT"
	CodeConstraintViolation  = "CONSTRAINT_VIOLATION"
	CodeUnsupportedOperation = "UNSUPPORTED_OPERATION"

	// Policy selection, never returned to callers of the engine
	CodeCascadeCycle = "CASCADE_CYCLE_DETECTED"
)

// Resolution failure reasons, stored under the "reason" detail.
const (
	ReasonAttributeCountMismatch = "attribute_count_mismatch"
	ReasonNotComposite           = "not_composite"
	ReasonNullIdentifier         = "null_identifier"
)

// AppError is the standard error type of the module.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (type names, paths, row counts)
	Details map[string]any `json:"details,omitempty"`

	// Err is the underlying error
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewResolution creates an identifier resolution error.
func NewResolution(typeName, reason, message string) *AppError {
	return &AppError{
		Code:    CodeResolution,
		Message: message,
		Details: map[string]any{"type": typeName, "reason": reason},
	}
}

// NewAttributeCountMismatch reports a composite identifier whose populated
// fields do not match the declared identifier attributes.
func NewAttributeCountMismatch(typeName string, declared, got []string) *AppError {
	return NewResolution(typeName, ReasonAttributeCountMismatch,
		fmt.Sprintf("identifier of %s must populate %v, got %v", typeName, declared, got)).
		WithDetail("declared", declared).
		WithDetail("got", got)
}

// NewEntityNotFound creates a not found error for a loader miss.
func NewEntityNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", entity),
		Details: map[string]any{"entity": entity, "id": id},
	}
}

// NewOptimisticLockConflict reports a statement that affected an unexpected number of rows.
func NewOptimisticLockConflict(entity string, id any, expected, actual int64) *AppError {
	return &AppError{
		Code:    CodeOptimisticLock,
		Message: fmt.Sprintf("%s was modified concurrently: expected %d row(s), affected %d", entity, expected, actual),
		Details: map[string]any{"entity": entity, "id": id, "expected": expected, "actual": actual},
	}
}

// NewUnsupportedOperation creates an error for an operation a deleter or flusher cannot perform.
func NewUnsupportedOperation(operation, target string) *AppError {
	return &AppError{
		Code:    CodeUnsupportedOperation,
		Message: fmt.Sprintf("%s is not supported by %s", operation, target),
		Details: map[string]any{"operation": operation, "target": target},
	}
}

// NewCascadeCycle marks an attribute whose cascade chain returns to an already visited type.
func NewCascadeCycle(typeName, attribute string) *AppError {
	return &AppError{
		Code:    CodeCascadeCycle,
		Message: fmt.Sprintf("cascade through %s.%s closes a cycle", typeName, attribute),
		Details: map[string]any{"type": typeName, "attribute": attribute},
	}
}

// NewConstraintViolation wraps a store-reported integrity violation.
func NewConstraintViolation(constraint string, err error) *AppError {
	return &AppError{
		Code:    CodeConstraintViolation,
		Message: "statement violates a store constraint",
		Details: map[string]any{"constraint": constraint},
		Err:     err,
	}
}

// NewInvalidModel creates a metamodel validation error.
func NewInvalidModel(typeName, message string) *AppError {
	return &AppError{
		Code:    CodeInvalidModel,
		Message: message,
		Details: map[string]any{"type": typeName},
	}
}

// NewInternal creates an internal error.
func NewInternal(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal error",
		Err:     err,
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func hasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsResolution checks if error is CodeResolution
func IsResolution(err error) bool { return hasCode(err, CodeResolution) }

// IsAttributeCountMismatch checks for a resolution error caused by a field count mismatch.
func IsAttributeCountMismatch(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == CodeResolution && appErr.Details["reason"] == ReasonAttributeCountMismatch
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsOptimisticLockConflict checks if error is CodeOptimisticLock
func IsOptimisticLockConflict(err error) bool { return hasCode(err, CodeOptimisticLock) }

// IsUnsupportedOperation checks if error is CodeUnsupportedOperation
func IsUnsupportedOperation(err error) bool { return hasCode(err, CodeUnsupportedOperation) }

// IsCascadeCycle checks if error is CodeCascadeCycle
func IsCascadeCycle(err error) bool { return hasCode(err, CodeCascadeCycle) }

// IsConstraintViolation checks if error is CodeConstraintViolation
func IsConstraintViolation(err error) bool { return hasCode(err, CodeConstraintViolation) }

// IsInvalidModel checks if error is CodeInvalidModel
func IsInvalidModel(err error) bool { return hasCode(err, CodeInvalidModel) }
