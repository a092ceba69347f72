package dispatch

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("emergency not found")
	ErrStale                = errors.New("emergency modified concurrently, retry")
	ErrAmbulanceNotFound    = errors.New("ambulance not found")
	ErrAmbulanceUnavailable = errors.New("ambulance is not available")
	ErrNotAssignable        = errors.New("emergency is not awaiting assignment")
	ErrConfirmNotAllowed    = errors.New("doctor confirmation only allowed after assignment")
	ErrNotConvertible       = errors.New("emergency can only seed an appointment after arrival")
)

// InvalidTransitionError reports a move outside the emergency lifecycle.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition emergency from %s to %s", e.From, e.To)
}

// CollaboratorUnavailableError wraps a failed or timed-out call to a consumed
// external interface (ambulance feed, staff directory). Retryable; never
// silently swallowed.
type CollaboratorUnavailableError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorUnavailableError) Error() string {
	return fmt.Sprintf("collaborator %s unavailable: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorUnavailableError) Unwrap() error { return e.Err }
