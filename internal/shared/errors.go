package shared

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrValidation indicates a missing or malformed field caught before any write.
	ErrValidation = errors.New("validation failed")
	// ErrConstraintViolation indicates a uniqueness collision.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrInsufficientInventory indicates a lot cannot cover a requested quantity.
	ErrInsufficientInventory = errors.New("insufficient inventory")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrTransactionAbort indicates the composite write was rolled back by a storage failure.
	ErrTransactionAbort = errors.New("transaction aborted")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConstraintViolation reports a uniqueness collision such as a duplicate order number.
type ConstraintViolation struct {
	Constraint string
	Detail     string
}

func (e *ConstraintViolation) Error() string {
	if e.Detail == "" {
		return "constraint violation: " + e.Constraint
	}
	return fmt.Sprintf("constraint violation: %s: %s", e.Constraint, e.Detail)
}

// Is matches ErrConstraintViolation.
func (e *ConstraintViolation) Is(target error) bool { return target == ErrConstraintViolation }

// InsufficientInventoryError reports the offending consumption line.
type InsufficientInventoryError struct {
	Line             int
	MaterialIntakeID uuid.UUID
	Requested        decimal.Decimal
	Available        decimal.Decimal
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory: line %d lot %s requested %s available %s",
		e.Line, e.MaterialIntakeID, e.Requested.String(), e.Available.String())
}

// Is matches ErrInsufficientInventory.
func (e *InsufficientInventoryError) Is(target error) bool { return target == ErrInsufficientInventory }

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

// NewNotFoundError builds a NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// TransactionAbortError wraps any storage failure raised during a composite write.
type TransactionAbortError struct {
	Op  string
	Err error
}

func (e *TransactionAbortError) Error() string {
	return fmt.Sprintf("transaction aborted: %s: %v", e.Op, e.Err)
}

// Is matches ErrTransactionAbort.
func (e *TransactionAbortError) Is(target error) bool { return target == ErrTransactionAbort }

func (e *TransactionAbortError) Unwrap() error { return e.Err }

// IsDomainError reports whether err belongs to the taxonomy and must be surfaced as-is.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConstraintViolation) ||
		errors.Is(err, ErrInsufficientInventory) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrTransactionAbort)
}

// AbortOnStorageError keeps domain errors untouched and wraps everything else in a
// TransactionAbortError for op.
func AbortOnStorageError(op string, err error) error {
	if err == nil || IsDomainError(err) {
		return err
	}
	return &TransactionAbortError{Op: op, Err: err}
}
