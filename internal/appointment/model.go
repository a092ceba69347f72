package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending            Status = "pending"
	StatusConfirmed          Status = "confirmed"
	StatusCheckedIn          Status = "checked_in"
	StatusInProgress         Status = "in_progress"
	StatusReview             Status = "review"
	StatusCompleted          Status = "completed"
	StatusRejected           Status = "rejected"
	StatusCancelledByDoctor  Status = "cancelled_by_doctor"
	StatusCancelledByPatient Status = "cancelled_by_patient"
	StatusNoShow             Status = "no_show"
	StatusExpired            Status = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusCancelledByDoctor,
		StatusCancelledByPatient, StatusNoShow, StatusExpired:
		return true
	}
	return false
}

type ActorRole string

const (
	RoleDoctor  ActorRole = "doctor"
	RolePatient ActorRole = "patient"
	RoleSystem  ActorRole = "system"
)

// Actor identifies who is requesting a transition. For doctors and patients
// the ID must match the appointment's own doctor or patient; the system
// actor (expiry worker) carries no ID.
type Actor struct {
	Role ActorRole
	ID   uuid.UUID
}

var SystemActor = Actor{Role: RoleSystem}

type Appointment struct {
	ID             uuid.UUID
	PatientID      uuid.UUID
	DoctorID       uuid.UUID
	ClinicID       uuid.UUID
	ScheduledStart time.Time
	ScheduledEnd   time.Time
	Status         Status
	Symptoms       *string
	Notes          *string

	// RejectionReason and CancellationReason are internal only. They are
	// never surfaced verbatim to the patient; the notification collaborator
	// translates them into a generic notice.
	RejectionReason    *string
	CancellationReason *string

	// EmergencyID links an appointment created from an emergency back to it.
	EmergencyID *uuid.UUID

	// HoldExpiresAt bounds how long the appointment may sit in pending
	// before the worker expires it and releases the hold.
	HoldExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
