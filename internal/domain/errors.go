package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error categories used across the application. Callers classify failures
// with errors.Is against these sentinels; the typed errors below carry detail.
var (
	// ErrValidation is returned for malformed templates, malformed submission
	// data and invalid state transitions. The caller must correct its input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a template, snapshot, progress record or
	// assignment does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDomain is returned when an operation would violate a domain invariant,
	// e.g. answering an already completed component.
	ErrDomain = errors.New("domain rule violated")

	// ErrStorage is returned when the persistence layer fails.
	ErrStorage = errors.New("storage failure")

	// ErrConflict is returned when a compare-and-swap update kept losing to
	// concurrent writers.
	ErrConflict = errors.New("concurrent modification")

	// ErrForbidden is returned when the acting user may not perform an operation.
	ErrForbidden = errors.New("operation not permitted")

	// ErrInvalidID is returned when an ID is malformed or nil.
	ErrInvalidID = errors.New("invalid ID")

	// ErrUnknownComponentType is returned by every content dispatch site when
	// it meets a component type it does not know.
	ErrUnknownComponentType = errors.New("unknown component type")
)

// ValidationError describes one or more validation failures. Field and Message
// describe a single failure; Violations lists every failure found when a whole
// structure (such as a flow template) is validated at once. Warnings are
// non-fatal findings reported alongside.
type ValidationError struct {
	Field      string
	Message    string
	Violations []string
	Warnings   []string
	Err        error
}

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, message string, err error) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// NewViolationsError creates a ValidationError listing every violation found.
func NewViolationsError(message string, violations, warnings []string) *ValidationError {
	return &ValidationError{
		Message:    message,
		Violations: violations,
		Warnings:   warnings,
	}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Violations) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Violations, "; "))
		b.WriteString("]")
	}
	return b.String()
}

// Unwrap exposes ErrValidation and the optional cause.
func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// NewNotFoundError creates a NotFoundError for the given entity and ID.
func NewNotFoundError(entity string, id fmt.Stringer) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id.String()}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Unwrap returns ErrNotFound.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// DomainError reports an invariant violation with a descriptive reason.
type DomainError struct {
	Reason string
}

// NewDomainError creates a DomainError.
func NewDomainError(format string, args ...any) *DomainError {
	return &DomainError{Reason: fmt.Sprintf(format, args...)}
}

func (e *DomainError) Error() string {
	return "domain rule violated: " + e.Reason
}

// Unwrap returns ErrDomain.
func (e *DomainError) Unwrap() error {
	return ErrDomain
}

// StorageError wraps a persistence failure. Both ErrStorage and the original
// cause remain reachable through errors.Is/errors.As.
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError creates a StorageError for the failed operation.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

// Unwrap exposes ErrStorage and the cause.
func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}
