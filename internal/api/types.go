package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/medigrid/clinic-scheduling/internal/appointment"
	"github.com/medigrid/clinic-scheduling/internal/availability"
	"github.com/medigrid/clinic-scheduling/internal/dispatch"
)

type BookAppointmentRequest struct {
	PatientID string  `json:"patient_id"`
	DoctorID  string  `json:"doctor_id"`
	ClinicID  string  `json:"clinic_id"`
	Start     string  `json:"start"`
	End       string  `json:"end"`
	Symptoms  *string `json:"symptoms,omitempty"`
	Notes     *string `json:"notes,omitempty"`
}

type TransitionRequest struct {
	Target    string `json:"target"`
	ActorRole string `json:"actor_role"`
	ActorID   string `json:"actor_id"`
	Reason    string `json:"reason,omitempty"`
}

type BlockLeaveRequest struct {
	DoctorID string `json:"doctor_id"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Reason   string `json:"reason"`
}

type AppointmentResponse struct {
	ID             uuid.UUID  `json:"id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	DoctorID       uuid.UUID  `json:"doctor_id"`
	ClinicID       uuid.UUID  `json:"clinic_id"`
	ScheduledStart time.Time  `json:"scheduled_start"`
	ScheduledEnd   time.Time  `json:"scheduled_end"`
	Status         string     `json:"status"`
	Symptoms       *string    `json:"symptoms,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
	EmergencyID    *uuid.UUID `json:"emergency_id,omitempty"`
	HoldExpiresAt  *time.Time `json:"hold_expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// toAppointmentResponse deliberately omits the internal rejection and
// cancellation reasons.
func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:             a.ID,
		PatientID:      a.PatientID,
		DoctorID:       a.DoctorID,
		ClinicID:       a.ClinicID,
		ScheduledStart: a.ScheduledStart,
		ScheduledEnd:   a.ScheduledEnd,
		Status:         string(a.Status),
		Symptoms:       a.Symptoms,
		Notes:          a.Notes,
		EmergencyID:    a.EmergencyID,
		HoldExpiresAt:  a.HoldExpiresAt,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

type IntervalResponse struct {
	ID        uuid.UUID  `json:"id"`
	DoctorID  uuid.UUID  `json:"doctor_id"`
	Kind      string     `json:"kind"`
	Start     time.Time  `json:"start"`
	End       time.Time  `json:"end"`
	Reason    *string    `json:"reason,omitempty"`
	RefID     *uuid.UUID `json:"ref_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func toIntervalResponse(iv availability.BusyInterval) IntervalResponse {
	return IntervalResponse{
		ID:        iv.ID,
		DoctorID:  iv.DoctorID,
		Kind:      string(iv.Kind),
		Start:     iv.Start,
		End:       iv.End,
		Reason:    iv.Reason,
		RefID:     iv.RefID,
		CreatedAt: iv.CreatedAt,
	}
}

type SubmitEmergencyRequest struct {
	PatientID string  `json:"patient_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
	Priority  string  `json:"priority"`
	ClinicID  *string `json:"clinic_id,omitempty"`
}

type AssignEmergencyRequest struct {
	AmbulanceID string  `json:"ambulance_id"`
	DoctorID    *string `json:"doctor_id,omitempty"`
}

type EmergencyTransitionRequest struct {
	Target string `json:"target"`
}

type DoctorConfirmRequest struct {
	DoctorID string `json:"doctor_id"`
}

type ConvertEmergencyRequest struct {
	DoctorID string  `json:"doctor_id"`
	ClinicID string  `json:"clinic_id"`
	Start    string  `json:"start"`
	End      string  `json:"end"`
	Notes    *string `json:"notes,omitempty"`
}

type EmergencyResponse struct {
	ID                uuid.UUID  `json:"id"`
	PatientID         uuid.UUID  `json:"patient_id"`
	ClinicID          *uuid.UUID `json:"clinic_id,omitempty"`
	Priority          string     `json:"priority"`
	Status            string     `json:"status"`
	Latitude          float64    `json:"latitude"`
	Longitude         float64    `json:"longitude"`
	Address           string     `json:"address,omitempty"`
	AmbulanceID       *uuid.UUID `json:"ambulance_id,omitempty"`
	DoctorID          *uuid.UUID `json:"doctor_id,omitempty"`
	DoctorConfirmedAt *time.Time `json:"doctor_confirmed_at,omitempty"`
	DispatchedAt      *time.Time `json:"dispatched_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func toEmergencyResponse(e *dispatch.Emergency) EmergencyResponse {
	return EmergencyResponse{
		ID:                e.ID,
		PatientID:         e.PatientID,
		ClinicID:          e.ClinicID,
		Priority:          string(e.Priority),
		Status:            string(e.Status),
		Latitude:          e.Location.Latitude,
		Longitude:         e.Location.Longitude,
		Address:           e.Location.Address,
		AmbulanceID:       e.AmbulanceID,
		DoctorID:          e.DoctorID,
		DoctorConfirmedAt: e.DoctorConfirmedAt,
		DispatchedAt:      e.DispatchedAt,
		CreatedAt:         e.CreatedAt,
	}
}

type AmbulanceResponse struct {
	ID           uuid.UUID `json:"id"`
	ClinicID     uuid.UUID `json:"clinic_id"`
	Status       string    `json:"status"`
	LicensePlate string    `json:"license_plate"`
}

func toAmbulanceResponse(a dispatch.Ambulance) AmbulanceResponse {
	return AmbulanceResponse{
		ID:           a.ID,
		ClinicID:     a.ClinicID,
		Status:       string(a.Status),
		LicensePlate: a.LicensePlate,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
