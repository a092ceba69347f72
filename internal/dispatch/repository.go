package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EmergencyRepository contains the emergency storage needed by the engine.
type EmergencyRepository interface {
	Create(ctx context.Context, e *Emergency) error
	GetByID(ctx context.Context, id uuid.UUID) (*Emergency, error)

	// UpdateStatus is a compare-and-set, returning ErrStale if the row left
	// `from` concurrently.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Emergency, error)

	// Assign atomically moves the emergency from `from` to assigned, sets
	// the matched resources and stamps dispatched_at. An emergency
	// submitted without a clinic adopts the ambulance's clinic here.
	Assign(ctx context.Context, id uuid.UUID, from Status, amb Ambulance, doctorID *uuid.UUID, at time.Time) (*Emergency, error)

	// SetDoctorConfirmed records the doctor acknowledgment timestamp.
	SetDoctorConfirmed(ctx context.Context, id, doctorID uuid.UUID, at time.Time) (*Emergency, error)

	// ListActive returns non-terminal emergencies in triage order, scoped
	// to a clinic when given.
	ListActive(ctx context.Context, clinicID *uuid.UUID, limit, offset int) ([]Emergency, error)

	// FindStalePending returns pending emergencies created before cutoff;
	// the worker escalates them to needs_attention.
	FindStalePending(ctx context.Context, cutoff time.Time) ([]Emergency, error)
}

// AmbulanceStore is the capability interface over the external Ambulance
// entity. The engine emits status intent through it; the store owns the
// actual status.
type AmbulanceStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Ambulance, error)

	// ListAvailable returns candidate ambulances, clinic-scoped when given.
	// Candidate lists may go stale; MarkDispatched is the authority.
	ListAvailable(ctx context.Context, clinicID *uuid.UUID) ([]Ambulance, error)

	// MarkDispatched flips available to en_route as a compare-and-set,
	// returning ErrAmbulanceUnavailable if the ambulance was claimed or
	// taken out of service since it was listed.
	MarkDispatched(ctx context.Context, id uuid.UUID) error

	// Release returns a dispatched ambulance to the available pool.
	Release(ctx context.Context, id uuid.UUID) error
}
