package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository backs tests and the local demo binaries.
type MemoryRepository struct {
	mu    sync.RWMutex
	appts map[uuid.UUID]Appointment
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{appts: make(map[uuid.UUID]Appointment)}
}

func (r *MemoryRepository) Create(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appts[a.ID] = *a
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if a.Status != from {
		return nil, ErrStale
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	r.appts[id] = a
	return &a, nil
}

func (r *MemoryRepository) SetReason(_ context.Context, id uuid.UUID, rejection, cancellation *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return ErrNotFound
	}
	if rejection != nil {
		a.RejectionReason = rejection
	}
	if cancellation != nil {
		a.CancellationReason = cancellation
	}
	r.appts[id] = a
	return nil
}

func (r *MemoryRepository) ListByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.list(func(a Appointment) bool { return a.DoctorID == doctorID }, limit, offset), nil
}

func (r *MemoryRepository) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.list(func(a Appointment) bool { return a.PatientID == patientID }, limit, offset), nil
}

func (r *MemoryRepository) FindExpiredPending(_ context.Context, now time.Time) ([]Appointment, error) {
	return r.list(func(a Appointment) bool {
		return a.Status == StatusPending && a.HoldExpiresAt != nil && a.HoldExpiresAt.Before(now)
	}, 0, 0), nil
}

func (r *MemoryRepository) list(match func(Appointment) bool, limit, offset int) []Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Appointment
	for _, a := range r.appts {
		if match(a) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ScheduledStart.After(result[j].ScheduledStart)
	})

	if offset > 0 {
		if offset >= len(result) {
			return nil
		}
		result = result[offset:]
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}
