package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medigrid/clinic-scheduling/internal/audit"
	"github.com/medigrid/clinic-scheduling/internal/clock"
	"github.com/medigrid/clinic-scheduling/internal/events"
	"github.com/medigrid/clinic-scheduling/internal/lock"
)

type fixture struct {
	svc        *Service
	repo       *MemoryEmergencyRepository
	ambulances *MemoryAmbulanceStore
	clk        *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	repo := NewMemoryEmergencyRepository()
	ambulances := NewMemoryAmbulanceStore()
	svc := NewService(repo, ambulances, lock.NewMemoryLocker(), audit.NewMemoryRecorder(),
		events.NopPublisher{}, clk, DefaultEscalationThreshold, zerolog.Nop())
	return &fixture{svc: svc, repo: repo, ambulances: ambulances, clk: clk}
}

func (f *fixture) addAmbulance(clinicID uuid.UUID, status AmbulanceStatus) Ambulance {
	a := Ambulance{ID: uuid.New(), ClinicID: clinicID, Status: status, LicensePlate: "KA-01-1234"}
	f.ambulances.Put(a)
	return a
}

func TestSubmitCreatesPending(t *testing.T) {
	f := newFixture(t)
	e, err := f.svc.Submit(context.Background(), uuid.New(), Location{Latitude: 12.9, Longitude: 77.6}, PriorityHigh, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, e.Status)
	assert.Nil(t, e.AmbulanceID)
	assert.Nil(t, e.DispatchedAt)
}

func TestAssignHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clinic := uuid.New()
	amb := f.addAmbulance(clinic, AmbulanceAvailable)
	doctor := uuid.New()

	e, err := f.svc.Submit(ctx, uuid.New(), Location{}, PriorityCritical, &clinic)
	require.NoError(t, err)

	assigned, err := f.svc.Assign(ctx, e.ID, amb.ID, &doctor)
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, assigned.Status)
	require.NotNil(t, assigned.AmbulanceID)
	assert.Equal(t, amb.ID, *assigned.AmbulanceID)
	require.NotNil(t, assigned.DoctorID)
	assert.Equal(t, doctor, *assigned.DoctorID)
	require.NotNil(t, assigned.DispatchedAt)

	got, err := f.ambulances.GetByID(ctx, amb.ID)
	require.NoError(t, err)
	assert.Equal(t, AmbulanceEnRoute, got.Status)
}

func TestAssignWithoutDoctor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	amb := f.addAmbulance(uuid.New(), AmbulanceAvailable)

	e, err := f.svc.Submit(ctx, uuid.New(), Location{}, PriorityMedium, nil)
	require.NoError(t, err)

	assigned, err := f.svc.Assign(ctx, e.ID, amb.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, assigned.DoctorID, "doctor is optional through terminal states")
}

func TestAssignAdoptsAmbulanceClinic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clinic := uuid.New()
	amb := f.addAmbulance(clinic, AmbulanceAvailable)

	e, err := f.svc.Submit(ctx, uuid.New(), Location{}, PriorityHigh, nil)
	require.NoError(t, err)
	require.Nil(t, e.ClinicID)

	assigned, err := f.svc.Assign(ctx, e.ID, amb.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, assigned.ClinicID)
	assert.Equal(t, clinic, *assigned.ClinicID)
}

func TestAssignKeepsSubmittedClinic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	submitted := uuid.New()
	amb := f.addAmbulance(uuid.New(), AmbulanceAvailable)

	e, err := f.svc.Submit(ctx, uuid.New(), Location{}, PriorityHigh, &submitted)
	require.NoError(t, err)

	assigned, err := f.svc.Assign(ctx, e.ID, amb.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, assigned.ClinicID)
	assert.Equal(t, submitted, *assigned.ClinicID)
}

func TestAssignRejectsNonAvailableAmbulance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	amb := f.addAmbulance(uuid.New(), AmbulanceBusy)

	e, err := f.svc.Submit(ctx, uuid.New(), Location{}, PriorityHigh, nil)
	require.NoError(t, err)

	_, err = f.svc.Assign(ctx, e.ID, amb.ID, nil)
	require.ErrorIs(t, err, ErrAmbulanceUnavailable)

	got, err := f.svc.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status, "failed assignment must not advance the emergency")
}

func TestAssignRejectsWrongState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	amb := f.addAmbulance(uuid.New(), AmbulanceAvailable)
	second := f.addAmbulance(uuid.New(), AmbulanceAvailable)

	e, err := f.svc.Submit(ctx, uuid.New(), Location{}, PriorityHigh, nil)
	require.NoError(t, err)
	_, err = f.svc.Assign(ctx, e.ID, amb.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.Assign(ctx, e.ID, second.ID, nil)
	require.ErrorIs(t, err, ErrNotAssignable)

	// The second ambulance was never claimed.
	got, err := f.ambulances.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, AmbulanceAvailable, got.Status)
}

// Two dispatchers race for the same ambulance with different emergencies:
// the status compare-and-set lets exactly one win.
func TestConcurrentAssignSameAmbulance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	amb := f.addAmbulance(uuid.New(), AmbulanceAvailable)

	e1, err := f.svc.Submit(ctx, uuid.New(), Location{}, PriorityHigh, nil)
	require.NoError(t, err)
	e2, err := f.svc.Submit(ctx, uuid.New(), Location{}, PriorityHigh, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []uuid.UUID{e1.ID, e2.ID} {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = f.svc.Assign(ctx, id, amb.ID, nil)
		}(i, id)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			require.ErrorIs(t, err, ErrAmbulanceUnavailable)
		}
	}
	assert.Equal(t, 1, won)
}

func TestDoctorConfirmRecordsWithoutStatusChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	amb := f.addAmbulance(uuid.New(), AmbulanceAvailable)
	doctor := uuid.New()

	e, err := f.svc.Submit(ctx, uuid.New(), Location{}, PriorityHigh, nil)
	require.NoError(t, err)

	_, err = f.svc.DoctorConfirm(ctx, e.ID, doctor)
	require.ErrorIs(t, err, ErrConfirmNotAllowed, "confirmation before assignment is meaningless")

	_, err = f.svc.Assign(ctx, e.ID, amb.ID, &doctor)
	require.NoError(t, err)

	confirmed, err := f.svc.DoctorConfirm(ctx, e.ID, doctor)
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, confirmed.Status, "confirmation acknowledges, it does not advance")
	require.NotNil(t, confirmed.DoctorConfirmedAt)
}

func TestLifecycleToCompletionReleasesAmbulance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	amb := f.addAmbulance(uuid.New(), AmbulanceAvailable)

	e, err := f.svc.Submit(ctx, uuid.New(), Location{}, PriorityCritical, nil)
	require.NoError(t, err)
	_, err = f.svc.Assign(ctx, e.ID, amb.ID, nil)
	require.NoError(t, err)

	for _, target := range []Status{StatusEnRoute, StatusArrived, StatusCompleted} {
		_, err = f.svc.Transition(ctx, e.ID, target)
		require.NoError(t, err, "advance to %s", target)
	}

	got, err := f.ambulances.GetByID(ctx, amb.ID)
	require.NoError(t, err)
	assert.Equal(t, AmbulanceAvailable, got.Status)
}

func TestCancelFromAnyNonTerminalState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, setup := range []Status{StatusPending, StatusNeedsAttention, StatusAssigned, StatusEnRoute, StatusArrived} {
		e := &Emergency{ID: uuid.New(), PatientID: uuid.New(), Priority: PriorityLow, Status: setup, CreatedAt: f.clk.Now()}
		require.NoError(t, f.repo.Create(ctx, e))

		_, err := f.svc.Transition(ctx, e.ID, StatusCancelled)
		require.NoError(t, err, "cancel from %s", setup)
	}

	for _, terminal := range []Status{StatusCompleted, StatusCancelled} {
		e := &Emergency{ID: uuid.New(), PatientID: uuid.New(), Priority: PriorityLow, Status: terminal, CreatedAt: f.clk.Now()}
		require.NoError(t, f.repo.Create(ctx, e))

		_, err := f.svc.Transition(ctx, e.ID, StatusCancelled)
		var ite *InvalidTransitionError
		require.True(t, errors.As(err, &ite), "cancel from terminal %s must fail", terminal)
	}
}

func TestEscalateStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale, err := f.svc.Submit(ctx, uuid.New(), Location{}, PriorityHigh, nil)
	require.NoError(t, err)

	f.clk.Advance(11 * time.Minute)

	fresh, err := f.svc.Submit(ctx, uuid.New(), Location{}, PriorityHigh, nil)
	require.NoError(t, err)

	n, err := f.svc.EscalateStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNeedsAttention, got.Status)

	got, err = f.svc.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestTriageOrderingContract(t *testing.T) {
	t1 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	list := []Emergency{
		{ID: uuid.New(), Status: StatusPending, CreatedAt: t2},
		{ID: uuid.New(), Status: StatusNeedsAttention, CreatedAt: t1},
	}
	SortForTriage(list)

	assert.Equal(t, StatusNeedsAttention, list[0].Status,
		"needs_attention sorts first even when older")

	// Within a tier, newest first.
	list = []Emergency{
		{ID: uuid.New(), Status: StatusPending, CreatedAt: t1},
		{ID: uuid.New(), Status: StatusPending, CreatedAt: t2},
	}
	SortForTriage(list)
	assert.True(t, list[0].CreatedAt.After(list[1].CreatedAt))
}

func TestListActiveScopesToClinic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clinicA := uuid.New()
	clinicB := uuid.New()

	_, err := f.svc.Submit(ctx, uuid.New(), Location{}, PriorityHigh, &clinicA)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, uuid.New(), Location{}, PriorityHigh, &clinicB)
	require.NoError(t, err)

	list, err := f.svc.ListActive(ctx, &clinicA, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, clinicA, *list[0].ClinicID)
}

func TestConversionSeedOnlyAfterArrival(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	amb := f.addAmbulance(uuid.New(), AmbulanceAvailable)

	e, err := f.svc.Submit(ctx, uuid.New(), Location{}, PriorityHigh, nil)
	require.NoError(t, err)

	_, err = f.svc.ConversionSeed(ctx, e.ID)
	require.ErrorIs(t, err, ErrNotConvertible)

	_, err = f.svc.Assign(ctx, e.ID, amb.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, e.ID, StatusEnRoute)
	require.NoError(t, err)
	_, err = f.svc.ConversionSeed(ctx, e.ID)
	require.ErrorIs(t, err, ErrNotConvertible)

	_, err = f.svc.Transition(ctx, e.ID, StatusArrived)
	require.NoError(t, err)

	seed, err := f.svc.ConversionSeed(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.PatientID, seed.PatientID)

	// Conversion does not close the emergency.
	got, err := f.svc.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusArrived, got.Status)
}
