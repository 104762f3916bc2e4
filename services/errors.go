package services

import (
	"errors"
	"fmt"
)

// Sentinel errors, matched with errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInactiveBenefit     = errors.New("benefit is inactive")
	ErrConflict            = errors.New("conflict")
	ErrTransient           = errors.New("transient storage failure")
)

// ValidationError reports malformed input on a named field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError reports an unknown id.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientBalanceError carries the shortfall of a rejected debit.
type InsufficientBalanceError struct {
	UserID    uint
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %d, requested %d, shortfall %d",
		e.Available, e.Requested, e.Requested-e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// InactiveBenefitError is returned when redeeming a benefit whose active flag is off.
type InactiveBenefitError struct {
	BenefitID string
}

func (e *InactiveBenefitError) Error() string {
	return fmt.Sprintf("benefit %s is not active", e.BenefitID)
}

func (e *InactiveBenefitError) Unwrap() error { return ErrInactiveBenefit }

// ConflictError reports a referential or idempotency conflict.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return "conflict: " + e.Reason }

func (e *ConflictError) Unwrap() error { return ErrConflict }

// TransientError wraps a lock timeout, deadlock or serialization failure.
// The operation had no effect and may be retried as a whole.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: temporarily unavailable: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() []error { return []error{ErrTransient, e.Err} }

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsClientError returns true if the error is due to invalid client input or a business rule.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInactiveBenefit) ||
		errors.Is(err, ErrConflict)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
