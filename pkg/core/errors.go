package core

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrStoreClosed is returned when trying to use a closed store
	ErrStoreClosed = errors.New("store is closed")

	// ErrNotFound is returned when a dataset, collection or record does not exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating something whose key is taken
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidName is returned for empty or malformed names
	ErrInvalidName = errors.New("invalid name")

	// ErrInvalidArgument is returned when an argument fails validation
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrLengthMismatch is returned when a column length disagrees with the row count
	ErrLengthMismatch = errors.New("length mismatch")

	// ErrKindMismatch is returned when a dataset of one kind is used as the other
	ErrKindMismatch = errors.New("dataset kind mismatch")

	// ErrColumnNotFound is returned for unknown columns
	ErrColumnNotFound = fmt.Errorf("column %w", ErrNotFound)

	// ErrNodeNotFound is returned for unknown graph nodes
	ErrNodeNotFound = fmt.Errorf("node %w", ErrNotFound)

	// ErrEdgeNotFound is returned for unknown graph edges
	ErrEdgeNotFound = fmt.Errorf("edge %w", ErrNotFound)

	// ErrDatasetNotFound is returned for unknown datasets
	ErrDatasetNotFound = fmt.Errorf("dataset %w", ErrNotFound)
)

// StoreError wraps errors with operation context
type StoreError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("sqdata: %v", e.Err)
	}
	return fmt.Sprintf("sqdata: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapError wraps an error with operation context
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

func wrapError(op string, err error) error {
	return WrapError(op, err)
}
