package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains the interval storage needed by the Ledger. All overlap
// decisions happen in the Ledger inside a per-doctor critical section; the
// repository only stores and retrieves.
type Repository interface {
	Insert(ctx context.Context, iv *BusyInterval) error
	GetByID(ctx context.Context, id uuid.UUID) (*BusyInterval, error)

	// Delete is idempotent: deleting an unknown id is not an error.
	Delete(ctx context.Context, id uuid.UUID) error

	// ConvertKind flips an interval's kind only if it still has the expected
	// current kind, returning ErrIntervalNotFound otherwise.
	ConvertKind(ctx context.Context, id uuid.UUID, from, to IntervalKind) (*BusyInterval, error)

	// ListOverlapping returns intervals for the doctor intersecting
	// [start, end), restricted to kinds when non-empty.
	ListOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time, kinds ...IntervalKind) ([]BusyInterval, error)

	// ListRange returns intervals intersecting [from, to) in render order:
	// by start ascending, ties broken appointment, hold, leave.
	ListRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]BusyInterval, error)

	// FindByRef returns every interval created by the given back-reference.
	FindByRef(ctx context.Context, refID uuid.UUID) ([]BusyInterval, error)

	// DeleteByRef removes every interval created by the given back-reference.
	DeleteByRef(ctx context.Context, refID uuid.UUID) error
}
