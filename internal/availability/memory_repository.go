package availability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a mutex-guarded interval store used by tests and the
// local demo binaries. It mirrors the Postgres repository's contract,
// including idempotent delete and compare-and-set kind conversion.
type MemoryRepository struct {
	mu        sync.RWMutex
	intervals map[uuid.UUID]BusyInterval
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{intervals: make(map[uuid.UUID]BusyInterval)}
}

func (r *MemoryRepository) Insert(_ context.Context, iv *BusyInterval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intervals[iv.ID] = *iv
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*BusyInterval, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	iv, ok := r.intervals[id]
	if !ok {
		return nil, ErrIntervalNotFound
	}
	return &iv, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.intervals, id)
	return nil
}

func (r *MemoryRepository) ConvertKind(_ context.Context, id uuid.UUID, from, to IntervalKind) (*BusyInterval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	iv, ok := r.intervals[id]
	if !ok || iv.Kind != from {
		return nil, ErrIntervalNotFound
	}
	iv.Kind = to
	r.intervals[id] = iv
	return &iv, nil
}

func (r *MemoryRepository) ListOverlapping(_ context.Context, doctorID uuid.UUID, start, end time.Time, kinds ...IntervalKind) ([]BusyInterval, error) {
	wanted := make(map[IntervalKind]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []BusyInterval
	for _, iv := range r.intervals {
		if iv.DoctorID != doctorID || !iv.Overlaps(start, end) {
			continue
		}
		if len(kinds) > 0 && !wanted[iv.Kind] {
			continue
		}
		result = append(result, iv)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Start.Before(result[j].Start)
	})
	return result, nil
}

func (r *MemoryRepository) ListRange(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]BusyInterval, error) {
	result, err := r.ListOverlapping(context.Background(), doctorID, from, to)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].Start.Equal(result[j].Start) {
			return result[i].Start.Before(result[j].Start)
		}
		return result[i].Kind.renderRank() < result[j].Kind.renderRank()
	})
	return result, nil
}

func (r *MemoryRepository) FindByRef(_ context.Context, refID uuid.UUID) ([]BusyInterval, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []BusyInterval
	for _, iv := range r.intervals {
		if iv.RefID != nil && *iv.RefID == refID {
			result = append(result, iv)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Start.Before(result[j].Start)
	})
	return result, nil
}

func (r *MemoryRepository) DeleteByRef(_ context.Context, refID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, iv := range r.intervals {
		if iv.RefID != nil && *iv.RefID == refID {
			delete(r.intervals, id)
		}
	}
	return nil
}
