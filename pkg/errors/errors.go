package errors

import (
	"errors"
	"fmt"
)

// Domain error types for business logic

var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates invalid input parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates an operation timeout
	ErrTimeout = errors.New("operation timeout")

	// ErrUnavailable indicates a service is unavailable
	ErrUnavailable = errors.New("service unavailable")
)

// Trading backend errors

var (
	// ErrBackendUnavailable indicates the trading backend API is unreachable
	ErrBackendUnavailable = errors.New("trading backend unavailable")

	// ErrPositionNotFound indicates the backend no longer knows the executor id
	ErrPositionNotFound = errors.New("position not found on backend")

	// ErrRateLimitExceeded indicates API rate limit exceeded
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrCreateRejected indicates the backend rejected a create request
	ErrCreateRejected = errors.New("position create rejected by backend")
)

// Rebalancer errors

var (
	// ErrReconciliationRequired indicates the supervised position vanished
	// from the backend while it may still exist on-chain
	ErrReconciliationRequired = errors.New("position requires external reconciliation")

	// ErrPartialFailure indicates a close succeeded but the paired open did
	// not (or its outcome is unknown), leaving funds idle in the wallet
	ErrPartialFailure = errors.New("rebalance partially failed")

	// ErrPlanInvariant indicates the planner could not produce a valid
	// replacement configuration
	ErrPlanInvariant = errors.New("rebalance plan invariant violated")

	// ErrAlreadySupervised indicates a position is already under supervision
	ErrAlreadySupervised = errors.New("position already supervised")

	// ErrNotSupervised indicates a position is not under supervision
	ErrNotSupervised = errors.New("position not supervised")
)

// StatusError carries an HTTP status code from the trading backend.
type StatusError struct {
	Code int
	Body string
}

// Error implements the error interface
func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("backend returned status %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("backend returned status %d", e.Code)
}

// StatusCode returns the HTTP status code
func (e *StatusError) StatusCode() int {
	return e.Code
}

// Helper functions

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func New(message string) error {
	return errors.New(message)
}

func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
