// Package errors provides standardized error types for the domain layer.
// Conflict conditions on the refund and reconcile paths are sentinel
// errors so handlers can map them to explicit HTTP responses instead of
// pattern-matching message strings.
package errors

import (
	"errors"
	"fmt"
)

// Standard error categories
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates invalid input was provided
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates the request is not authorized
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the request is forbidden
	ErrForbidden = errors.New("forbidden")

	// ErrConflict indicates a conflict with the current state
	ErrConflict = errors.New("conflict")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")
)

// Ledger and deposit conflict conditions
var (
	// ErrDepositNotFound indicates no deposit exists for the given id
	ErrDepositNotFound = fmt.Errorf("deposit: %w", ErrNotFound)

	// ErrDepositNotCredited indicates a refund was requested for a
	// deposit that has not been credited
	ErrDepositNotCredited = fmt.Errorf("deposit not credited: %w", ErrConflict)

	// ErrDepositAlreadyRefunded indicates the deposit was already refunded
	ErrDepositAlreadyRefunded = fmt.Errorf("deposit already refunded: %w", ErrConflict)

	// ErrUserNotFound indicates the balance row for the user is missing
	ErrUserNotFound = fmt.Errorf("user: %w", ErrNotFound)

	// ErrInsufficientStars indicates a deduction would take the balance negative
	ErrInsufficientStars = fmt.Errorf("insufficient star balance: %w", ErrConflict)
)

// DomainError carries an error code and detail map alongside the cause
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(err error, code, message string) *DomainError {
	return &DomainError{Err: err, Code: code, Message: message}
}

// WithDetails adds details to the error
func (e *DomainError) WithDetails(details map[string]interface{}) *DomainError {
	e.Details = details
	return e
}
