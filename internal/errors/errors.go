package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for different categories
var (
	// ErrInvalidInput - invalid input (bad role, unparseable time, malformed command)
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - resource not found (unknown reminder id, missing workspace)
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied - user not authorized for the workspace, or path escapes it
	ErrPermissionDenied = errors.New("permission denied")

	// ErrTransient - transient error (collaborator timeout, network failure)
	ErrTransient = errors.New("transient error")

	// ErrInternal - internal error (unexpected state, unrecoverable I/O)
	ErrInternal = errors.New("internal error")
)

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// NotFound wraps a message as not found
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// PermissionDenied wraps a message as permission denied
func PermissionDenied(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrPermissionDenied)
}

// InvalidInput wraps a message as invalid input
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidInput)
}

// Transient wraps a message as transient
func Transient(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrTransient)
}

// Internal wraps a message as internal
func Internal(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInternal)
}

// WrapTransient marks err as transient while keeping its chain
// intact, so both errors.Is checks still match.
func WrapTransient(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", fmt.Sprintf(format, args...), ErrTransient, err)
}

// IsCategory checks if error belongs to specific category
func IsCategory(err error, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}
