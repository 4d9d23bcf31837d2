package remote

import (
	"errors"
	"fmt"
)

// NetworkError marks a transient transport failure. Callers retry: pending
// writes stay queued and pulls simply don't advance their cursor.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError marks a remote rejection of a write. Retrying the same
// payload will fail the same way; the record is flagged not-sent but stays
// queued (silently dropping a user's message is worse than retrying).
type ValidationError struct {
	Status int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("remote rejected request (status %d): %s", e.Status, e.Reason)
}

// IsNetwork reports whether err is a transient transport failure.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsValidation reports whether err is a remote rejection.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
