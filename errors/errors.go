// Package errors provides error handling for signalpress.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrBudgetExceeded) {
//	    // cancel remaining work
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
)

// Sentinel errors for the orchestrator's failure taxonomy.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrAlreadyExists indicates a conflicting resource already exists,
	// e.g. a non-terminal generation run for the same publication slot
	ErrAlreadyExists = New("already exists")

	// ErrBudgetExceeded indicates a cost reservation was denied because it
	// would push session spend past the configured ceiling. Fatal to the
	// remaining work of the session; never retried.
	ErrBudgetExceeded = New("budget exceeded")

	// ErrInsufficientContent indicates too few qualifying items for a
	// generation run. Recoverable: reschedule later, costs nothing further.
	ErrInsufficientContent = New("insufficient content")

	// ErrAgentFailure indicates an inference call failed. Retryable with
	// bounded backoff.
	ErrAgentFailure = New("agent failure")

	// ErrValidationTimeout indicates the research validation service did
	// not answer in time. Retried once, then the item is INCONCLUSIVE.
	ErrValidationTimeout = New("validation timeout")
)

// IsNotFound checks if an error is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is or wraps ErrAlreadyExists
func IsAlreadyExists(err error) bool {
	return err != nil && Is(err, ErrAlreadyExists)
}

// IsBudgetExceeded checks if an error is or wraps ErrBudgetExceeded
func IsBudgetExceeded(err error) bool {
	return err != nil && Is(err, ErrBudgetExceeded)
}

// IsInsufficientContent checks if an error is or wraps ErrInsufficientContent
func IsInsufficientContent(err error) bool {
	return err != nil && Is(err, ErrInsufficientContent)
}

// NewNotFound creates a not-found error with a formatted message
func NewNotFound(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewAlreadyExists creates an already-exists error with a formatted message
func NewAlreadyExists(format string, args ...interface{}) error {
	return Wrap(ErrAlreadyExists, Newf(format, args...).Error())
}
