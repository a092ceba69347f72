// Package notify delivers patient- and staff-facing messages. Delivery
// is fire-and-forget; scheduling outcomes never depend on it.
package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Notifier interface {
	AppointmentConfirmed(ctx context.Context, patientID, appointmentID uuid.UUID)
	AppointmentCancelled(ctx context.Context, patientID, appointmentID uuid.UUID, byDoctor bool)
	SlotLost(ctx context.Context, patientID, appointmentID uuid.UUID)
	EmergencyAssigned(ctx context.Context, patientID, emergencyID uuid.UUID)
}

// LogNotifier writes notifications to the structured log. It stands in
// for the SMS/push gateway in development and tests.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notifier").Logger()}
}

func (n *LogNotifier) AppointmentConfirmed(_ context.Context, patientID, appointmentID uuid.UUID) {
	n.log.Info().
		Str("patient_id", patientID.String()).
		Str("appointment_id", appointmentID.String()).
		Msg("appointment confirmed")
}

func (n *LogNotifier) AppointmentCancelled(_ context.Context, patientID, appointmentID uuid.UUID, byDoctor bool) {
	n.log.Info().
		Str("patient_id", patientID.String()).
		Str("appointment_id", appointmentID.String()).
		Bool("by_doctor", byDoctor).
		Msg("appointment cancelled")
}

func (n *LogNotifier) SlotLost(_ context.Context, patientID, appointmentID uuid.UUID) {
	n.log.Info().
		Str("patient_id", patientID.String()).
		Str("appointment_id", appointmentID.String()).
		Msg("requested slot was taken by another booking")
}

func (n *LogNotifier) EmergencyAssigned(_ context.Context, patientID, emergencyID uuid.UUID) {
	n.log.Info().
		Str("patient_id", patientID.String()).
		Str("emergency_id", emergencyID.String()).
		Msg("ambulance assigned to emergency")
}

// NopNotifier discards everything.
type NopNotifier struct{}

func (NopNotifier) AppointmentConfirmed(context.Context, uuid.UUID, uuid.UUID)       {}
func (NopNotifier) AppointmentCancelled(context.Context, uuid.UUID, uuid.UUID, bool) {}
func (NopNotifier) SlotLost(context.Context, uuid.UUID, uuid.UUID)                   {}
func (NopNotifier) EmergencyAssigned(context.Context, uuid.UUID, uuid.UUID)          {}
