// Package clinic is the orchestration surface tying scheduling,
// dispatch, staff lookup and notifications into the operations the API
// exposes. Handlers call this package only; the underlying services
// stay usable on their own.
package clinic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medigrid/clinic-scheduling/internal/appointment"
	"github.com/medigrid/clinic-scheduling/internal/availability"
	"github.com/medigrid/clinic-scheduling/internal/directory"
	"github.com/medigrid/clinic-scheduling/internal/dispatch"
	"github.com/medigrid/clinic-scheduling/internal/events"
	"github.com/medigrid/clinic-scheduling/internal/notify"
)

// DefaultHoldTTL bounds how long a pending booking keeps its slot
// reserved before the worker expires it.
const DefaultHoldTTL = 10 * time.Minute

// doctorPoolBound caps how many directory pages an automatic dispatch
// walk will read while building a doctor pool.
const doctorPoolBound = 5

type Facade struct {
	appointments *appointment.Service
	ledger       *availability.Ledger
	dispatch     *dispatch.Service
	staff        directory.Directory
	notifier     notify.Notifier
	pub          events.Publisher
	holdTTL      time.Duration
	log          zerolog.Logger
}

func New(appointments *appointment.Service, ledger *availability.Ledger, dsp *dispatch.Service,
	staff directory.Directory, notifier notify.Notifier, pub events.Publisher,
	holdTTL time.Duration, log zerolog.Logger) *Facade {
	if holdTTL <= 0 {
		holdTTL = DefaultHoldTTL
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Facade{
		appointments: appointments,
		ledger:       ledger,
		dispatch:     dsp,
		staff:        staff,
		notifier:     notifier,
		pub:          pub,
		holdTTL:      holdTTL,
		log:          log.With().Str("component", "clinic").Logger(),
	}
}

// BookingRequest carries everything a patient booking needs.
type BookingRequest struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	ClinicID  uuid.UUID
	Start     time.Time
	End       time.Time
	Symptoms  *string
	Notes     *string

	// EmergencyID is set when the booking originates from an emergency
	// conversion rather than a direct patient request.
	EmergencyID *uuid.UUID
}

// BookAppointment reserves the slot with a hold and records a pending
// appointment. A window already held for another patient is refused;
// the race where two bookings pass this check before either hold lands
// is resolved later, at promotion time, when the first confirmation
// wins and the losing holds are released.
func (f *Facade) BookAppointment(ctx context.Context, req BookingRequest) (*appointment.Appointment, error) {
	if err := f.ledger.Bookable(ctx, req.DoctorID, req.Start, req.End); err != nil {
		return nil, err
	}
	if err := f.rejectForeignHolds(ctx, req.PatientID, req.DoctorID, req.Start, req.End); err != nil {
		return nil, err
	}

	appt := &appointment.Appointment{
		ID:             uuid.New(),
		PatientID:      req.PatientID,
		DoctorID:       req.DoctorID,
		ClinicID:       req.ClinicID,
		ScheduledStart: req.Start,
		ScheduledEnd:   req.End,
		Symptoms:       req.Symptoms,
		Notes:          req.Notes,
		EmergencyID:    req.EmergencyID,
	}

	hold, err := f.ledger.PlaceHold(ctx, req.DoctorID, req.Start, req.End, appt.ID)
	if err != nil {
		return nil, err
	}

	expires := hold.CreatedAt.Add(f.holdTTL)
	appt.HoldExpiresAt = &expires

	if err := f.appointments.Create(ctx, appt); err != nil {
		// The hold is orphaned without its appointment; undo it.
		if relErr := f.ledger.Release(ctx, hold.ID); relErr != nil {
			f.log.Error().Err(relErr).
				Str("interval_id", hold.ID.String()).
				Msg("failed to release hold after booking failure")
		}
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	f.pub.Publish(events.Event{
		Type:       events.TypeAppointmentBooked,
		Topic:      events.TopicAppointments,
		ResourceID: appt.ID,
		Data: map[string]any{
			"doctor_id": appt.DoctorID.String(),
			"start":     appt.ScheduledStart,
			"end":       appt.ScheduledEnd,
		},
	})
	return appt, nil
}

// TransitionAppointment drives the appointment lifecycle and fans out
// the human-facing fallout: confirmation notices, cancellation notices,
// and slot-lost notices to bookings whose holds were displaced.
func (f *Facade) TransitionAppointment(ctx context.Context, id uuid.UUID, actor appointment.Actor,
	target appointment.Status, reason string) (*appointment.Appointment, error) {
	res, err := f.appointments.Transition(ctx, id, actor, target, reason)
	if err != nil {
		return nil, err
	}
	appt := res.Appointment

	switch target {
	case appointment.StatusConfirmed:
		f.notifier.AppointmentConfirmed(ctx, appt.PatientID, appt.ID)
	case appointment.StatusCancelledByDoctor:
		f.notifier.AppointmentCancelled(ctx, appt.PatientID, appt.ID, true)
	case appointment.StatusCancelledByPatient:
		f.notifier.AppointmentCancelled(ctx, appt.PatientID, appt.ID, false)
	}

	for _, lost := range res.LostHolds {
		f.notifyHoldLost(ctx, lost)
	}
	return appt, nil
}

// rejectForeignHolds refuses the window when another patient already
// holds part of it. A patient's own holds never block their request.
// Holds whose appointment has since disappeared are ignored; the
// expiry worker sweeps those.
func (f *Facade) rejectForeignHolds(ctx context.Context, patientID, doctorID uuid.UUID, start, end time.Time) error {
	holds, err := f.ledger.OverlappingHolds(ctx, doctorID, start, end)
	if err != nil {
		return err
	}
	for _, h := range holds {
		if h.RefID == nil {
			continue
		}
		owner, err := f.appointments.Get(ctx, *h.RefID)
		if err != nil {
			if errors.Is(err, appointment.ErrNotFound) {
				continue
			}
			return fmt.Errorf("resolve hold owner: %w", err)
		}
		if owner.PatientID != patientID {
			return &availability.ConflictError{DoctorID: doctorID, Kind: availability.KindHold}
		}
	}
	return nil
}

func (f *Facade) notifyHoldLost(ctx context.Context, lost availability.BusyInterval) {
	if lost.RefID == nil {
		return
	}
	loser, err := f.appointments.Get(ctx, *lost.RefID)
	if err != nil {
		f.log.Warn().Err(err).
			Str("appointment_id", lost.RefID.String()).
			Msg("displaced hold has no resolvable appointment")
		return
	}
	f.notifier.SlotLost(ctx, loser.PatientID, loser.ID)
	f.pub.Publish(events.Event{
		Type:       events.TypeSlotLost,
		Topic:      events.TopicAppointments,
		ResourceID: loser.ID,
	})
}

// BlockDoctorTime records doctor leave. The availability ledger
// enforces the advance-notice requirement.
func (f *Facade) BlockDoctorTime(ctx context.Context, doctorID uuid.UUID, start, end time.Time, reason string) (*availability.BusyInterval, error) {
	iv, err := f.ledger.BlockLeave(ctx, doctorID, start, end, reason)
	if err != nil {
		return nil, err
	}
	f.pub.Publish(events.Event{
		Type:       events.TypeLeaveBlocked,
		Topic:      events.TopicAppointments,
		ResourceID: iv.ID,
		Data:       map[string]any{"doctor_id": doctorID.String()},
	})
	return iv, nil
}

// DoctorSchedule renders a doctor's calendar window.
func (f *Facade) DoctorSchedule(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]availability.BusyInterval, error) {
	return f.ledger.Query(ctx, doctorID, from, to)
}

func (f *Facade) SubmitEmergency(ctx context.Context, patientID uuid.UUID, loc dispatch.Location,
	priority dispatch.Priority, clinicID *uuid.UUID) (*dispatch.Emergency, error) {
	return f.dispatch.Submit(ctx, patientID, loc, priority, clinicID)
}

// AssignEmergency dispatches an ambulance. When no doctor is named it
// walks the on-duty directory and attaches the first doctor found; an
// empty or unreachable directory leaves the doctor unset rather than
// failing the dispatch.
func (f *Facade) AssignEmergency(ctx context.Context, emergencyID, ambulanceID uuid.UUID, doctorID *uuid.UUID) (*dispatch.Emergency, error) {
	if doctorID == nil {
		e, err := f.dispatch.Get(ctx, emergencyID)
		if err != nil {
			return nil, err
		}
		if picked := f.pickOnDutyDoctor(ctx, e.ClinicID); picked != nil {
			doctorID = picked
		}
	}

	e, err := f.dispatch.Assign(ctx, emergencyID, ambulanceID, doctorID)
	if err != nil {
		return nil, err
	}
	f.notifier.EmergencyAssigned(ctx, e.PatientID, e.ID)
	return e, nil
}

func (f *Facade) pickOnDutyDoctor(ctx context.Context, clinicID *uuid.UUID) *uuid.UUID {
	offset := 0
	for page := 0; page < doctorPoolBound; page++ {
		p, err := f.staff.ListOnDuty(ctx, directory.RoleDoctor, clinicID, 20, offset)
		if err != nil {
			f.log.Warn().Err(err).Msg("staff directory unavailable, dispatching without doctor")
			return nil
		}
		if len(p.Members) > 0 {
			id := p.Members[0].ID
			return &id
		}
		if p.NextOffset < 0 {
			return nil
		}
		offset = p.NextOffset
	}
	return nil
}

// ConversionRequest schedules a follow-up visit for a treated
// emergency patient.
type ConversionRequest struct {
	EmergencyID uuid.UUID
	DoctorID    uuid.UUID
	ClinicID    uuid.UUID
	Start       time.Time
	End         time.Time
	Notes       *string
}

// ConvertEmergencyToAppointment creates an appointment seeded from an
// emergency that reached the patient. When the treating doctor keeps
// the case the appointment is confirmed outright and the slot is taken
// as a firm booking; handing over to another doctor produces a pending
// appointment that doctor still has to accept. The emergency itself is
// left to run its own lifecycle to completion.
func (f *Facade) ConvertEmergencyToAppointment(ctx context.Context, req ConversionRequest) (*appointment.Appointment, error) {
	seed, err := f.dispatch.ConversionSeed(ctx, req.EmergencyID)
	if err != nil {
		return nil, err
	}

	sameDoctor := seed.DoctorID != nil && *seed.DoctorID == req.DoctorID

	appt := &appointment.Appointment{
		ID:             uuid.New(),
		PatientID:      seed.PatientID,
		DoctorID:       req.DoctorID,
		ClinicID:       req.ClinicID,
		ScheduledStart: req.Start,
		ScheduledEnd:   req.End,
		Notes:          req.Notes,
		EmergencyID:    &seed.ID,
	}

	if sameDoctor {
		// The treating doctor already accepted the patient; book firm.
		if err := f.ledger.Bookable(ctx, req.DoctorID, req.Start, req.End); err != nil {
			return nil, err
		}
		hold, err := f.ledger.PlaceHold(ctx, req.DoctorID, req.Start, req.End, appt.ID)
		if err != nil {
			return nil, err
		}
		_, losers, err := f.ledger.Promote(ctx, hold.ID)
		if err != nil {
			if relErr := f.ledger.Release(ctx, hold.ID); relErr != nil && !errors.Is(relErr, availability.ErrIntervalNotFound) {
				f.log.Error().Err(relErr).Msg("failed to release hold after conversion failure")
			}
			return nil, err
		}
		appt.Status = appointment.StatusConfirmed
		if err := f.appointments.Create(ctx, appt); err != nil {
			if relErr := f.ledger.ReleaseByRef(ctx, appt.ID); relErr != nil {
				f.log.Error().Err(relErr).Msg("failed to release interval after conversion failure")
			}
			return nil, fmt.Errorf("create converted appointment: %w", err)
		}
		f.notifier.AppointmentConfirmed(ctx, appt.PatientID, appt.ID)
		for _, lost := range losers {
			f.notifyHoldLost(ctx, lost)
		}
		return appt, nil
	}

	return f.BookAppointment(ctx, BookingRequest{
		PatientID:   seed.PatientID,
		DoctorID:    req.DoctorID,
		ClinicID:    req.ClinicID,
		Start:       req.Start,
		End:         req.End,
		Notes:       req.Notes,
		EmergencyID: &seed.ID,
	})
}
