package conveyor

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore     = errors.New("conveyor: no store configured")
	ErrStoreClosed = errors.New("conveyor: store closed")

	// Not found errors.
	ErrJobNotFound       = errors.New("conveyor: job not found")
	ErrQueueNotFound     = errors.New("conveyor: queue not found")
	ErrRecurringNotFound = errors.New("conveyor: recurring spec not found")
	ErrDLQNotFound       = errors.New("conveyor: dlq entry not found")

	// Conflict errors.
	ErrJobAlreadyExists   = errors.New("conveyor: job already exists")
	ErrQueueAlreadyExists = errors.New("conveyor: queue already exists")
	ErrDuplicateRecurring = errors.New("conveyor: duplicate recurring spec")

	// State errors.
	ErrInvalidState = errors.New("conveyor: invalid state transition")
	ErrJobActive    = errors.New("conveyor: job is active and can only be cancelled cooperatively")
	ErrNoHandler    = errors.New("conveyor: no handler registered for queue")
)

// ValidationError reports malformed enqueue or scheduling input. It is
// returned synchronously and the offending record is never persisted.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("conveyor: invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// PermanentError marks a handler failure as non-retryable. Jobs failing
// with a PermanentError are dead-lettered immediately, regardless of the
// remaining attempt budget.
type PermanentError struct {
	Err error
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the retry scheduler routes the job straight to
// the dead letter queue. Wrapping nil returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries the non-retryable marker.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
