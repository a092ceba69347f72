package availability

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrIntervalNotFound = errors.New("busy interval not found")
	ErrInvalidRange     = errors.New("interval end must be after start")
)

// ConflictError is returned when a hold or promotion loses the race for a
// slot. Callers should re-query availability and retry with a fresh slot.
type ConflictError struct {
	DoctorID uuid.UUID
	Kind     IntervalKind
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot conflicts with an existing %s interval", e.Kind)
}

// IsConflict reports whether err wraps a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// LeadTimeError is returned when a leave block starts inside the minimum
// notice window. EarliestStart is the first instant a leave may begin.
type LeadTimeError struct {
	EarliestStart time.Time
}

func (e *LeadTimeError) Error() string {
	return fmt.Sprintf("leave must start on or after %s", e.EarliestStart.Format(time.RFC3339))
}
