// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState = errors.New("invalid state")

	// ErrInconsistentState marks a data-integrity incident: a guard record
	// without its award, or a profile that violates its own invariants.
	ErrInconsistentState = errors.New("inconsistent state")

	// Persistence errors
	ErrPersistence            = errors.New("persistence error")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrTimeout                = errors.New("operation timeout")
	ErrServiceUnavailable     = errors.New("service unavailable")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progression", "levels", "guard"
	Op      string // Operation that failed, e.g., "Award", "Reset"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Progression domain errors
var (
	ErrProfileNotFound  = NewDomainError("progression", "Find", ErrNotFound, "profile not found")
	ErrInvalidUserID    = NewDomainError("progression", "Validate", ErrValidation, "user id is required")
	ErrNonPositiveXP    = NewDomainError("progression", "Validate", ErrValidation, "amount must be a positive integer")
	ErrUnknownSource    = NewDomainError("progression", "Validate", ErrValidation, "unrecognized award source")
	ErrNegativeAttrib   = NewDomainError("progression", "Validate", ErrValidation, "attribute points cannot be negative")
	ErrEmailRequired    = NewDomainError("progression", "Reset", ErrValidation, "email is required for account reset")
	ErrOrphanedGuard    = NewDomainError("progression", "Award", ErrInconsistentState, "guard record exists without a profile")
	ErrPaddedUserID     = NewDomainError("progression", "Validate", ErrValidation, "user id has leading or trailing whitespace")
	ErrXPOverflow       = NewDomainError("progression", "Award", ErrValidation, "award would push total xp past the maximum")
	ErrGuardKeyRequired = NewDomainError("guard", "Claim", ErrValidation, "user id and source are required")
)

// Level curve errors
var (
	ErrUnknownLevel      = NewDomainError("levels", "ConfigFor", ErrValueOutOfRange, "level is outside the configured table")
	ErrInvalidLevelCurve = NewDomainError("levels", "Validate", ErrValidation, "invalid level table")
)

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue)
}

// IsPersistence checks if the error came from the store.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsInconsistentState checks if the error is a data-integrity incident.
func IsInconsistentState(err error) bool {
	return errors.Is(err, ErrInconsistentState)
}

// IsRetryable checks if the operation can be retried by the caller.
// Inconsistent state is never retryable.
func IsRetryable(err error) bool {
	if IsInconsistentState(err) || IsValidation(err) {
		return false
	}
	return errors.Is(err, ErrPersistence) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}

// PersistenceError wraps a store failure.
func PersistenceError(op, message string, err error) *DomainError {
	return WrapError("progression", op, ErrPersistence, message, err)
}

// InconsistentStateError wraps a data-integrity incident.
func InconsistentStateError(op, message string, err error) *DomainError {
	return WrapError("progression", op, ErrInconsistentState, message, err)
}

// ValidationError builds a validation failure with a custom message.
func ValidationError(op, message string) *DomainError {
	return NewDomainError("progression", op, ErrValidation, message)
}
