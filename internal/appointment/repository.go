package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all appointment storage needed by the service.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// UpdateStatus is a compare-and-set: the row moves from `from` to `to`
	// only if it is still in `from`, returning ErrStale otherwise.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	// SetReason stores the internal rejection or cancellation reason text.
	SetReason(ctx context.Context, id uuid.UUID, rejection, cancellation *string) error

	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// FindExpiredPending returns pending appointments whose hold TTL has
	// elapsed; the worker expires them through the state machine.
	FindExpiredPending(ctx context.Context, now time.Time) ([]Appointment, error)
}
