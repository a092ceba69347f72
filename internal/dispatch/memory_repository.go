package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryEmergencyRepository backs tests and the local demo binaries.
type MemoryEmergencyRepository struct {
	mu          sync.RWMutex
	emergencies map[uuid.UUID]Emergency
}

func NewMemoryEmergencyRepository() *MemoryEmergencyRepository {
	return &MemoryEmergencyRepository{emergencies: make(map[uuid.UUID]Emergency)}
}

func (r *MemoryEmergencyRepository) Create(_ context.Context, e *Emergency) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emergencies[e.ID] = *e
	return nil
}

func (r *MemoryEmergencyRepository) GetByID(_ context.Context, id uuid.UUID) (*Emergency, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.emergencies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (r *MemoryEmergencyRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Emergency, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.emergencies[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Status != from {
		return nil, ErrStale
	}
	e.Status = to
	r.emergencies[id] = e
	return &e, nil
}

func (r *MemoryEmergencyRepository) Assign(_ context.Context, id uuid.UUID, from Status, amb Ambulance, doctorID *uuid.UUID, at time.Time) (*Emergency, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.emergencies[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Status != from {
		return nil, ErrStale
	}
	e.Status = StatusAssigned
	e.AmbulanceID = &amb.ID
	if e.ClinicID == nil {
		clinicID := amb.ClinicID
		e.ClinicID = &clinicID
	}
	e.DoctorID = doctorID
	e.DispatchedAt = &at
	r.emergencies[id] = e
	return &e, nil
}

func (r *MemoryEmergencyRepository) SetDoctorConfirmed(_ context.Context, id, doctorID uuid.UUID, at time.Time) (*Emergency, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.emergencies[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.DoctorID == nil {
		e.DoctorID = &doctorID
	}
	e.DoctorConfirmedAt = &at
	r.emergencies[id] = e
	return &e, nil
}

func (r *MemoryEmergencyRepository) ListActive(_ context.Context, clinicID *uuid.UUID, limit, offset int) ([]Emergency, error) {
	r.mu.RLock()
	var result []Emergency
	for _, e := range r.emergencies {
		if e.Status.Terminal() {
			continue
		}
		if clinicID != nil && (e.ClinicID == nil || *e.ClinicID != *clinicID) {
			continue
		}
		result = append(result, e)
	}
	r.mu.RUnlock()

	SortForTriage(result)

	if offset > 0 {
		if offset >= len(result) {
			return nil, nil
		}
		result = result[offset:]
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *MemoryEmergencyRepository) FindStalePending(_ context.Context, cutoff time.Time) ([]Emergency, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []Emergency
	for _, e := range r.emergencies {
		if e.Status == StatusPending && e.CreatedAt.Before(cutoff) {
			result = append(result, e)
		}
	}
	return result, nil
}

// MemoryAmbulanceStore backs tests and the local demo binaries. Its
// MarkDispatched is a compare-and-set under the store mutex.
type MemoryAmbulanceStore struct {
	mu         sync.RWMutex
	ambulances map[uuid.UUID]Ambulance
}

func NewMemoryAmbulanceStore() *MemoryAmbulanceStore {
	return &MemoryAmbulanceStore{ambulances: make(map[uuid.UUID]Ambulance)}
}

func (s *MemoryAmbulanceStore) Put(a Ambulance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ambulances[a.ID] = a
}

func (s *MemoryAmbulanceStore) GetByID(_ context.Context, id uuid.UUID) (*Ambulance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.ambulances[id]
	if !ok {
		return nil, ErrAmbulanceNotFound
	}
	return &a, nil
}

func (s *MemoryAmbulanceStore) ListAvailable(_ context.Context, clinicID *uuid.UUID) ([]Ambulance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []Ambulance
	for _, a := range s.ambulances {
		if a.Status != AmbulanceAvailable {
			continue
		}
		if clinicID != nil && a.ClinicID != *clinicID {
			continue
		}
		result = append(result, a)
	}
	return result, nil
}

func (s *MemoryAmbulanceStore) MarkDispatched(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.ambulances[id]
	if !ok {
		return ErrAmbulanceNotFound
	}
	if a.Status != AmbulanceAvailable {
		return ErrAmbulanceUnavailable
	}
	a.Status = AmbulanceEnRoute
	s.ambulances[id] = a
	return nil
}

func (s *MemoryAmbulanceStore) Release(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.ambulances[id]
	if !ok {
		return ErrAmbulanceNotFound
	}
	a.Status = AmbulanceAvailable
	s.ambulances[id] = a
	return nil
}
