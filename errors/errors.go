// Package errors provides error handling for p9ml.
//
// This package re-exports github.com/cockroachdb/errors, providing stack
// traces, wrapping with context and user-facing hints, and defines the
// sentinel failure kinds returned by membrane, namespace and allocation
// operations.
//
// Usage:
//
//	if err := parent.AddChild(child); errors.Is(err, errors.ErrCapacityExceeded) {
//	    // parent is full
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
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is          = crdb.Is
	IsAny       = crdb.IsAny
	As          = crdb.As
	Unwrap      = crdb.Unwrap
	UnwrapAll   = crdb.UnwrapAll
	GetAllHints = crdb.GetAllHints
)

// Failure kinds. Wrap these with Wrapf to add context while keeping them
// matchable with Is.
var (
	// ErrInvalidArgument indicates a required membrane, namespace, config
	// or tensor was absent, or an argument was out of range.
	ErrInvalidArgument = New("invalid argument")

	// ErrCapacityExceeded indicates a bounded container was already full.
	ErrCapacityExceeded = New("capacity exceeded")

	// ErrAllocationFailure indicates tensor storage could not be obtained.
	ErrAllocationFailure = New("allocation failure")

	// ErrExecutionFailure indicates the execution backend reported failure.
	ErrExecutionFailure = New("execution failure")
)

// IsInvalidArgument checks if an error is or wraps ErrInvalidArgument
func IsInvalidArgument(err error) bool {
	return err != nil && Is(err, ErrInvalidArgument)
}

// IsCapacityExceeded checks if an error is or wraps ErrCapacityExceeded
func IsCapacityExceeded(err error) bool {
	return err != nil && Is(err, ErrCapacityExceeded)
}

// InvalidArgumentf wraps ErrInvalidArgument with a formatted message.
func InvalidArgumentf(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidArgument, format, args...)
}

// CapacityExceededf wraps ErrCapacityExceeded with a formatted message.
func CapacityExceededf(format string, args ...interface{}) error {
	return Wrapf(ErrCapacityExceeded, format, args...)
}
