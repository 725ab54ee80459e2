package library

import "errors"

// ErrNotFound covers both a missing entity and an entity owned by another
// user. The two cases are deliberately indistinguishable so the API never
// discloses the existence of other users' data.
var ErrNotFound = errors.New("score or conversion not found")

// ValidationError reports malformed input. The message is user-facing and
// actionable.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a ValidationError with the given message.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// StorageError wraps a blob store failure. Surfaced to callers as a generic
// internal error; the detail is only logged.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage error during " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// MetadataError wraps a metadata store failure. Surfaced to callers as a
// generic internal error; the detail is only logged.
type MetadataError struct {
	Op  string
	Err error
}

func (e *MetadataError) Error() string {
	return "metadata error during " + e.Op + ": " + e.Err.Error()
}

func (e *MetadataError) Unwrap() error {
	return e.Err
}
