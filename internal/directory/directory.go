// Package directory resolves clinic staff. The scheduling core never
// owns staff records; it consults this collaborator and treats failures
// as unavailability.
package directory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var ErrStaffNotFound = errors.New("directory: staff member not found")

type StaffRole string

const (
	RoleDoctor    StaffRole = "doctor"
	RoleNurse     StaffRole = "nurse"
	RoleParamedic StaffRole = "paramedic"
)

type StaffMember struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	ClinicID uuid.UUID
	Role     StaffRole
	Name     string
	OnDuty   bool
}

// Page is one slice of a staff listing. NextOffset is negative when the
// listing is exhausted.
type Page struct {
	Members    []StaffMember
	NextOffset int
}

type Directory interface {
	// GetByID returns the staff record for a staff ID.
	GetByID(ctx context.Context, id uuid.UUID) (*StaffMember, error)
	// ResolveUser maps an authenticated user to their staff record.
	ResolveUser(ctx context.Context, userID uuid.UUID) (*StaffMember, error)
	// ListOnDuty pages through on-duty staff of a role, clinic-scoped
	// when clinicID is non-nil.
	ListOnDuty(ctx context.Context, role StaffRole, clinicID *uuid.UUID, limit, offset int) (Page, error)
}

type MemoryDirectory struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]StaffMember
	byUser  map[uuid.UUID]uuid.UUID
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:   make(map[uuid.UUID]StaffMember),
		byUser: make(map[uuid.UUID]uuid.UUID),
	}
}

func (d *MemoryDirectory) Put(m StaffMember) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byID[m.ID] = m
	d.byUser[m.UserID] = m.ID
}

func (d *MemoryDirectory) GetByID(_ context.Context, id uuid.UUID) (*StaffMember, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.byID[id]
	if !ok {
		return nil, ErrStaffNotFound
	}
	out := m
	return &out, nil
}

func (d *MemoryDirectory) ResolveUser(_ context.Context, userID uuid.UUID) (*StaffMember, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byUser[userID]
	if !ok {
		return nil, ErrStaffNotFound
	}
	m := d.byID[id]
	return &m, nil
}

func (d *MemoryDirectory) ListOnDuty(_ context.Context, role StaffRole, clinicID *uuid.UUID, limit, offset int) (Page, error) {
	if limit <= 0 {
		limit = 20
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	var all []StaffMember
	for _, m := range d.byID {
		if m.Role != role || !m.OnDuty {
			continue
		}
		if clinicID != nil && m.ClinicID != *clinicID {
			continue
		}
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	if offset >= len(all) {
		return Page{NextOffset: -1}, nil
	}
	end := offset + limit
	next := end
	if end >= len(all) {
		end = len(all)
		next = -1
	}
	return Page{Members: all[offset:end], NextOffset: next}, nil
}
