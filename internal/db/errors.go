package db

import (
	"errors"
	"fmt"

	"github.com/hylla/tt3/internal/domain"
)

// Errors reported by the database layer and its backends.
var (
	ErrInvalidAddress       = errors.New("invalid database address")
	ErrInUse                = errors.New("database in use")
	ErrCorrupt              = errors.New("database corrupt")
	ErrClosed               = errors.New("database closed")
	ErrReadOnly             = errors.New("database is read-only")
	ErrAccessDenied         = errors.New("access denied")
	ErrDoesNotExist         = errors.New("object does not exist")
	ErrInstanceDead         = errors.New("object instance is dead")
	ErrIncompatibleInstance = errors.New("incompatible object instance")
	ErrLockTimeout          = errors.New("lock acquisition timed out")
)

// PropertyError reports a value the Validator or a structural rule rejected.
type PropertyError struct {
	Kind     domain.Kind
	Property string
	Value    any
}

// Error implements error.
func (e *PropertyError) Error() string {
	return fmt.Sprintf("invalid value for %s.%s: %v", e.Kind, e.Property, e.Value)
}

// AlreadyExistsError reports a duplicate value of a unique property.
type AlreadyExistsError struct {
	Kind     domain.Kind
	Property string
	Value    any
}

// Error implements error.
func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s with %s %v already exists", e.Kind, e.Property, e.Value)
}

// StorageError wraps an opaque failure of the storage technology, such as
// a driver or file-system error.
type StorageError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the wrapped cause.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// corruptf builds an ErrCorrupt-wrapping error.
func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

// hiddenValue stands in for secrets in error values.
const hiddenValue = "<hidden>"
