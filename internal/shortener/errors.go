package shortener

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown or expired tokens and retry ids.
	ErrNotFound = errors.New("not found")
	// ErrInvalidURL is returned when a shorten request body is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("invalid url")
	// ErrTokenTaken is returned when a freshly minted token is already bound to another URL.
	ErrTokenTaken = errors.New("token already taken")
	// ErrIDSpaceExhausted is returned once an allocator can no longer mint ids.
	ErrIDSpaceExhausted = errors.New("id space exhausted")
	// ErrRetryFailed is returned when the retry phase of a redirect could not run.
	ErrRetryFailed = errors.New("retry failed")
)

// StorageError wraps any failure of the underlying storage engine.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err unless it is nil, already a StorageError or a
// sentinel the caller is expected to match.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}

	var storageErr *StorageError
	if errors.As(err, &storageErr) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrTokenTaken) {
		return err
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return err
	}

	return &StorageError{Op: op, Err: err}
}

// ValidationError is an invariant violation caused by the caller
// (empty token, non-positive id, empty setting name or value).
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error in field '%s': %s", e.Field, e.Message)
	}

	return "validation error: " + e.Message
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// UpstreamFetchError describes a failed fetch of a long URL: either a
// non-2xx status or a transport failure (StatusCode is then synthesized).
type UpstreamFetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *UpstreamFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
	}

	return fmt.Sprintf("fetch %s failed after %d attempt(s): status %d", e.URL, e.Attempts, e.StatusCode)
}

func (e *UpstreamFetchError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err carries a StorageError.
func IsStorageError(err error) bool {
	var storageErr *StorageError

	return errors.As(err, &storageErr)
}

// IsValidationError reports whether err carries a ValidationError.
func IsValidationError(err error) bool {
	var validationErr *ValidationError

	return errors.As(err, &validationErr)
}
