package clinic

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medigrid/clinic-scheduling/internal/appointment"
	"github.com/medigrid/clinic-scheduling/internal/audit"
	"github.com/medigrid/clinic-scheduling/internal/availability"
	"github.com/medigrid/clinic-scheduling/internal/clock"
	"github.com/medigrid/clinic-scheduling/internal/directory"
	"github.com/medigrid/clinic-scheduling/internal/dispatch"
	"github.com/medigrid/clinic-scheduling/internal/events"
	"github.com/medigrid/clinic-scheduling/internal/lock"
)

// recordingNotifier captures outbound notifications for assertions.
type recordingNotifier struct {
	mu        sync.Mutex
	confirmed []uuid.UUID
	cancelled []uuid.UUID
	slotLost  []uuid.UUID
	assigned  []uuid.UUID
}

func (n *recordingNotifier) AppointmentConfirmed(_ context.Context, _, appointmentID uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, appointmentID)
}

func (n *recordingNotifier) AppointmentCancelled(_ context.Context, _, appointmentID uuid.UUID, _ bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, appointmentID)
}

func (n *recordingNotifier) SlotLost(_ context.Context, _, appointmentID uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.slotLost = append(n.slotLost, appointmentID)
}

func (n *recordingNotifier) EmergencyAssigned(_ context.Context, _, emergencyID uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.assigned = append(n.assigned, emergencyID)
}

type fixture struct {
	facade     *Facade
	ledger     *availability.Ledger
	ambulances *dispatch.MemoryAmbulanceStore
	staff      *directory.MemoryDirectory
	notifier   *recordingNotifier
	clk        *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	locker := lock.NewMemoryLocker()
	rec := audit.NewMemoryRecorder()
	pub := events.NopPublisher{}
	log := zerolog.Nop()

	ledger := availability.NewLedger(availability.NewMemoryRepository(), locker, clk,
		availability.DefaultLeaveLeadTime, log)
	appts := appointment.NewService(appointment.NewMemoryRepository(), ledger, locker, rec, pub, clk, log)
	ambulances := dispatch.NewMemoryAmbulanceStore()
	dsp := dispatch.NewService(dispatch.NewMemoryEmergencyRepository(), ambulances, locker, rec, pub, clk,
		dispatch.DefaultEscalationThreshold, log)
	staff := directory.NewMemoryDirectory()
	notifier := &recordingNotifier{}

	return &fixture{
		facade:     New(appts, ledger, dsp, staff, notifier, pub, DefaultHoldTTL, log),
		ledger:     ledger,
		ambulances: ambulances,
		staff:      staff,
		notifier:   notifier,
		clk:        clk,
	}
}

func (f *fixture) slot(dayOffset, hour int) (time.Time, time.Time) {
	start := f.clk.Now().AddDate(0, 0, dayOffset).Truncate(time.Hour)
	start = start.Add(time.Duration(hour-start.Hour()) * time.Hour)
	return start, start.Add(30 * time.Minute)
}

func TestBookThenConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doctor := uuid.New()
	start, end := f.slot(1, 10)

	appt, err := f.facade.BookAppointment(ctx, BookingRequest{
		PatientID: uuid.New(), DoctorID: doctor, ClinicID: uuid.New(), Start: start, End: end,
	})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusPending, appt.Status)
	require.NotNil(t, appt.HoldExpiresAt)

	_, err = f.facade.TransitionAppointment(ctx, appt.ID,
		appointment.Actor{Role: appointment.RoleDoctor, ID: doctor}, appointment.StatusConfirmed, "")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{appt.ID}, f.notifier.confirmed)

	// The slot is now a firm booking; a new request for it is refused.
	_, err = f.facade.BookAppointment(ctx, BookingRequest{
		PatientID: uuid.New(), DoctorID: doctor, ClinicID: uuid.New(), Start: start, End: end,
	})
	require.Error(t, err)
	assert.True(t, availability.IsConflict(err))
}

// racePending lands a competing pending booking the way two concurrent
// requests would: both pass the pre-checks before either hold exists.
func (f *fixture) racePending(t *testing.T, ctx context.Context, doctor, clinic uuid.UUID, start, end time.Time) *appointment.Appointment {
	t.Helper()
	appt := &appointment.Appointment{
		ID: uuid.New(), PatientID: uuid.New(), DoctorID: doctor, ClinicID: clinic,
		ScheduledStart: start, ScheduledEnd: end,
	}
	hold, err := f.ledger.PlaceHold(ctx, doctor, start, end, appt.ID)
	require.NoError(t, err)
	expires := hold.CreatedAt.Add(DefaultHoldTTL)
	appt.HoldExpiresAt = &expires
	require.NoError(t, f.facade.appointments.Create(ctx, appt))
	return appt
}

func TestConfirmNotifiesDisplacedBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doctor := uuid.New()
	clinic := uuid.New()
	start, end := f.slot(1, 10)

	first, err := f.facade.BookAppointment(ctx, BookingRequest{
		PatientID: uuid.New(), DoctorID: doctor, ClinicID: clinic, Start: start, End: end,
	})
	require.NoError(t, err)
	second := f.racePending(t, ctx, doctor, clinic, start, end)

	_, err = f.facade.TransitionAppointment(ctx, first.ID,
		appointment.Actor{Role: appointment.RoleDoctor, ID: doctor}, appointment.StatusConfirmed, "")
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{second.ID}, f.notifier.slotLost)
}

func TestBookingRefusedOverForeignHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doctor := uuid.New()
	clinic := uuid.New()
	patient := uuid.New()
	start, end := f.slot(1, 10)

	_, err := f.facade.BookAppointment(ctx, BookingRequest{
		PatientID: patient, DoctorID: doctor, ClinicID: clinic, Start: start, End: end,
	})
	require.NoError(t, err)

	// Another patient sees the window as taken while the hold is live.
	_, err = f.facade.BookAppointment(ctx, BookingRequest{
		PatientID: uuid.New(), DoctorID: doctor, ClinicID: clinic, Start: start, End: end,
	})
	require.Error(t, err)
	assert.True(t, availability.IsConflict(err))
	var conflict *availability.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, availability.KindHold, conflict.Kind)

	// The holding patient is not blocked by their own hold.
	_, err = f.facade.BookAppointment(ctx, BookingRequest{
		PatientID: patient, DoctorID: doctor, ClinicID: clinic, Start: start, End: end,
	})
	require.NoError(t, err)
}

func TestPatientCancelFreesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doctor := uuid.New()
	patient := uuid.New()
	start, end := f.slot(1, 14)

	appt, err := f.facade.BookAppointment(ctx, BookingRequest{
		PatientID: patient, DoctorID: doctor, ClinicID: uuid.New(), Start: start, End: end,
	})
	require.NoError(t, err)

	_, err = f.facade.TransitionAppointment(ctx, appt.ID,
		appointment.Actor{Role: appointment.RolePatient, ID: patient}, appointment.StatusCancelledByPatient, "")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{appt.ID}, f.notifier.cancelled)

	_, err = f.facade.BookAppointment(ctx, BookingRequest{
		PatientID: uuid.New(), DoctorID: doctor, ClinicID: uuid.New(), Start: start, End: end,
	})
	require.NoError(t, err)
}

func TestBlockDoctorTimeRequiresNotice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doctor := uuid.New()

	start := f.clk.Now().Add(24 * time.Hour)
	_, err := f.facade.BlockDoctorTime(ctx, doctor, start, start.Add(8*time.Hour), "conference")
	var lte *availability.LeadTimeError
	require.ErrorAs(t, err, &lte)

	start = f.clk.Now().Add(96 * time.Hour)
	_, err = f.facade.BlockDoctorTime(ctx, doctor, start, start.Add(8*time.Hour), "conference")
	require.NoError(t, err)
}

func TestEmergencyFlowEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clinic := uuid.New()
	patient := uuid.New()
	doctor := uuid.New()

	amb := dispatch.Ambulance{ID: uuid.New(), ClinicID: clinic, Status: dispatch.AmbulanceAvailable}
	f.ambulances.Put(amb)

	e, err := f.facade.SubmitEmergency(ctx, patient, dispatch.Location{Latitude: 12.97, Longitude: 77.59},
		dispatch.PriorityCritical, &clinic)
	require.NoError(t, err)

	assigned, err := f.facade.AssignEmergency(ctx, e.ID, amb.ID, &doctor)
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusAssigned, assigned.Status)
	assert.Equal(t, []uuid.UUID{e.ID}, f.notifier.assigned)

	_, err = f.facade.dispatch.DoctorConfirm(ctx, e.ID, doctor)
	require.NoError(t, err)
	_, err = f.facade.dispatch.Transition(ctx, e.ID, dispatch.StatusEnRoute)
	require.NoError(t, err)
	_, err = f.facade.dispatch.Transition(ctx, e.ID, dispatch.StatusArrived)
	require.NoError(t, err)

	// Same treating doctor keeps the case: the follow-up is confirmed
	// outright and occupies the calendar as a firm booking.
	start, end := f.slot(2, 9)
	appt, err := f.facade.ConvertEmergencyToAppointment(ctx, ConversionRequest{
		EmergencyID: e.ID, DoctorID: doctor, ClinicID: clinic, Start: start, End: end,
	})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, appt.Status)
	assert.Equal(t, patient, appt.PatientID)
	require.NotNil(t, appt.EmergencyID)
	assert.Equal(t, e.ID, *appt.EmergencyID)

	intervals, err := f.ledger.Query(ctx, doctor, start, end)
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	assert.Equal(t, availability.KindAppointment, intervals[0].Kind)

	// The emergency keeps its own lifecycle.
	got, err := f.facade.dispatch.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusArrived, got.Status)
}

func TestConversionNotifiesDisplacedBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clinic := uuid.New()
	doctor := uuid.New()

	start, end := f.slot(2, 9)
	pending, err := f.facade.BookAppointment(ctx, BookingRequest{
		PatientID: uuid.New(), DoctorID: doctor, ClinicID: clinic, Start: start, End: end,
	})
	require.NoError(t, err)

	amb := dispatch.Ambulance{ID: uuid.New(), ClinicID: clinic, Status: dispatch.AmbulanceAvailable}
	f.ambulances.Put(amb)
	e, err := f.facade.SubmitEmergency(ctx, uuid.New(), dispatch.Location{}, dispatch.PriorityCritical, &clinic)
	require.NoError(t, err)
	_, err = f.facade.AssignEmergency(ctx, e.ID, amb.ID, &doctor)
	require.NoError(t, err)
	_, err = f.facade.dispatch.Transition(ctx, e.ID, dispatch.StatusEnRoute)
	require.NoError(t, err)
	_, err = f.facade.dispatch.Transition(ctx, e.ID, dispatch.StatusArrived)
	require.NoError(t, err)

	// The treating doctor takes the held slot for the follow-up; the
	// pending booking loses it and its patient must hear about it.
	appt, err := f.facade.ConvertEmergencyToAppointment(ctx, ConversionRequest{
		EmergencyID: e.ID, DoctorID: doctor, ClinicID: clinic, Start: start, End: end,
	})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, appt.Status)
	assert.Equal(t, []uuid.UUID{pending.ID}, f.notifier.slotLost)

	intervals, err := f.ledger.Query(ctx, doctor, start, end)
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	assert.Equal(t, availability.KindAppointment, intervals[0].Kind)
	assert.Equal(t, appt.ID, *intervals[0].RefID)
}

func TestConvertToDifferentDoctorStaysPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clinic := uuid.New()
	treating := uuid.New()
	followUp := uuid.New()

	amb := dispatch.Ambulance{ID: uuid.New(), ClinicID: clinic, Status: dispatch.AmbulanceAvailable}
	f.ambulances.Put(amb)

	e, err := f.facade.SubmitEmergency(ctx, uuid.New(), dispatch.Location{}, dispatch.PriorityHigh, &clinic)
	require.NoError(t, err)
	_, err = f.facade.AssignEmergency(ctx, e.ID, amb.ID, &treating)
	require.NoError(t, err)
	for _, s := range []dispatch.Status{dispatch.StatusEnRoute, dispatch.StatusArrived, dispatch.StatusCompleted} {
		_, err = f.facade.dispatch.Transition(ctx, e.ID, s)
		require.NoError(t, err)
	}

	start, end := f.slot(3, 11)
	appt, err := f.facade.ConvertEmergencyToAppointment(ctx, ConversionRequest{
		EmergencyID: e.ID, DoctorID: followUp, ClinicID: clinic, Start: start, End: end,
	})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusPending, appt.Status)
	require.NotNil(t, appt.EmergencyID)

	// The handover doctor still has to accept; the slot is only held.
	intervals, err := f.ledger.Query(ctx, followUp, start, end)
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	assert.Equal(t, availability.KindHold, intervals[0].Kind)
}

func TestAssignPicksOnDutyDoctorWhenUnspecified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clinic := uuid.New()

	f.staff.Put(directory.StaffMember{
		ID: uuid.New(), UserID: uuid.New(), ClinicID: clinic,
		Role: directory.RoleDoctor, Name: "Dr. Rao", OnDuty: true,
	})
	offDuty := directory.StaffMember{
		ID: uuid.New(), UserID: uuid.New(), ClinicID: clinic,
		Role: directory.RoleDoctor, Name: "Dr. Iyer", OnDuty: false,
	}
	f.staff.Put(offDuty)

	amb := dispatch.Ambulance{ID: uuid.New(), ClinicID: clinic, Status: dispatch.AmbulanceAvailable}
	f.ambulances.Put(amb)

	e, err := f.facade.SubmitEmergency(ctx, uuid.New(), dispatch.Location{}, dispatch.PriorityHigh, &clinic)
	require.NoError(t, err)

	assigned, err := f.facade.AssignEmergency(ctx, e.ID, amb.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, assigned.DoctorID)
	assert.NotEqual(t, offDuty.ID, *assigned.DoctorID)
}

func TestAssignWithoutDoctorsStillDispatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clinic := uuid.New()

	amb := dispatch.Ambulance{ID: uuid.New(), ClinicID: clinic, Status: dispatch.AmbulanceAvailable}
	f.ambulances.Put(amb)

	e, err := f.facade.SubmitEmergency(ctx, uuid.New(), dispatch.Location{}, dispatch.PriorityMedium, &clinic)
	require.NoError(t, err)

	assigned, err := f.facade.AssignEmergency(ctx, e.ID, amb.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, assigned.DoctorID)
}
