package dispatch

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

type Status string

const (
	StatusPending Status = "pending"
	// StatusNeedsAttention marks an emergency unhandled past the escalation
	// threshold. Triage lists always surface these first.
	StatusNeedsAttention Status = "needs_attention"
	StatusAssigned       Status = "assigned"
	StatusEnRoute        Status = "en_route"
	StatusArrived        Status = "arrived"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Location is the patient's reported position. Distance computation is a
// collaborator's concern; the engine only carries the value.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

type Emergency struct {
	ID                uuid.UUID
	PatientID         uuid.UUID
	Location          Location
	Priority          Priority
	Status            Status
	ClinicID          *uuid.UUID
	AmbulanceID       *uuid.UUID
	DoctorID          *uuid.UUID
	DoctorConfirmedAt *time.Time
	CreatedAt         time.Time
	DispatchedAt      *time.Time
}

type AmbulanceStatus string

const (
	AmbulanceAvailable AmbulanceStatus = "available"
	AmbulanceEnRoute   AmbulanceStatus = "en_route"
	AmbulanceBusy      AmbulanceStatus = "busy"
)

// Ambulance is an external entity reached through AmbulanceStore. Only
// available ambulances are eligible for matching.
type Ambulance struct {
	ID           uuid.UUID
	ClinicID     uuid.UUID
	Status       AmbulanceStatus
	LicensePlate string
}

// SortForTriage orders emergencies for dispatcher lists: every
// needs_attention entry before all others regardless of age, then newest
// first within the same tier. This ordering is a safety contract, not a
// presentation choice; attention-worthy cases must never be buried by
// recency.
func SortForTriage(list []Emergency) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		aEsc := a.Status == StatusNeedsAttention
		bEsc := b.Status == StatusNeedsAttention
		if aEsc != bEsc {
			return aEsc
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}
