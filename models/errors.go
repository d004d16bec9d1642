package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")

	ErrNotFound       = errors.New("not found")
	ErrBoardNotFound  = fmt.Errorf("board %w", ErrNotFound)
	ErrThreadNotFound = fmt.Errorf("thread %w", ErrNotFound)
	ErrPostNotFound   = fmt.Errorf("post %w", ErrNotFound)

	ErrInvalidPrefix = errors.New("invalid board prefix")
	ErrPrefixNotSet  = errors.New("board prefix not set")
	ErrDuplicateName = errors.New("board name already registered")

	// ErrPartitionExhausted means every slot of a board's partition is taken.
	// Retrying will not help without operator intervention.
	ErrPartitionExhausted = errors.New("identifier partition exhausted")
	// ErrLockTimeout means the partition lock could not be acquired within the bounded wait.
	ErrLockTimeout = errors.New("timed out waiting for partition lock")
)

// Validationf wraps ErrValidation with a client-facing message.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// StorageError is a failure of the underlying store.
type StorageError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient failure worth retrying.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrLockTimeout) {
		return true
	}
	var se *StorageError
	return errors.As(err, &se) && se.Retryable
}
