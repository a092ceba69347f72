package availability

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medigrid/clinic-scheduling/internal/clock"
	"github.com/medigrid/clinic-scheduling/internal/lock"
)

func newTestLedger(t *testing.T) (*Ledger, *MemoryRepository, *clock.Fake) {
	t.Helper()
	repo := NewMemoryRepository()
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	ledger := NewLedger(repo, lock.NewMemoryLocker(), clk, DefaultLeaveLeadTime, zerolog.Nop())
	return ledger, repo, clk
}

func slot(clk *clock.Fake, offset, dur time.Duration) (time.Time, time.Time) {
	start := clk.Now().Add(offset)
	return start, start.Add(dur)
}

func TestPlaceHoldRejectsAppointmentOverlap(t *testing.T) {
	ledger, _, clk := newTestLedger(t)
	ctx := context.Background()
	doctor := uuid.New()
	start, end := slot(clk, 24*time.Hour, 30*time.Minute)

	hold, err := ledger.PlaceHold(ctx, doctor, start, end, uuid.New())
	require.NoError(t, err)

	_, _, err = ledger.Promote(ctx, hold.ID)
	require.NoError(t, err)

	_, err = ledger.PlaceHold(ctx, doctor, start.Add(10*time.Minute), end.Add(10*time.Minute), uuid.New())
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindAppointment, ce.Kind)
	assert.Equal(t, doctor, ce.DoctorID)
}

func TestPlaceHoldAllowsCompetingHolds(t *testing.T) {
	ledger, _, clk := newTestLedger(t)
	ctx := context.Background()
	doctor := uuid.New()
	start, end := slot(clk, 24*time.Hour, 30*time.Minute)

	_, err := ledger.PlaceHold(ctx, doctor, start, end, uuid.New())
	require.NoError(t, err)

	_, err = ledger.PlaceHold(ctx, doctor, start, end, uuid.New())
	require.NoError(t, err, "hold-hold overlap is resolved at promotion time")
}

func TestPromoteFirstConfirmedWins(t *testing.T) {
	ledger, _, clk := newTestLedger(t)
	ctx := context.Background()
	doctor := uuid.New()
	start, end := slot(clk, 24*time.Hour, 30*time.Minute)

	first, err := ledger.PlaceHold(ctx, doctor, start, end, uuid.New())
	require.NoError(t, err)
	second, err := ledger.PlaceHold(ctx, doctor, start.Add(15*time.Minute), end.Add(15*time.Minute), uuid.New())
	require.NoError(t, err)

	promoted, losers, err := ledger.Promote(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, KindAppointment, promoted.Kind)
	require.Len(t, losers, 1)
	assert.Equal(t, second.ID, losers[0].ID)

	// The losing hold is gone, and promoting it again cannot succeed.
	_, _, err = ledger.Promote(ctx, second.ID)
	require.Error(t, err)
}

func TestPromoteOverlappingHoldsExactlyOneSucceeds(t *testing.T) {
	ledger, _, clk := newTestLedger(t)
	ctx := context.Background()
	doctor := uuid.New()
	start, end := slot(clk, 24*time.Hour, 30*time.Minute)

	a, err := ledger.PlaceHold(ctx, doctor, start, end, uuid.New())
	require.NoError(t, err)
	b, err := ledger.PlaceHold(ctx, doctor, start, end, uuid.New())
	require.NoError(t, err)

	_, _, errA := ledger.Promote(ctx, a.ID)
	_, _, errB := ledger.Promote(ctx, b.ID)

	succeeded := 0
	for _, err := range []error{errA, errB} {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one of two overlapping promotions may win")
}

// TestNoDoubleBookingUnderConcurrency hammers one doctor's schedule with
// racing hold/promote sequences over a small set of slots, then verifies
// that no instant is covered by more than one appointment interval.
func TestNoDoubleBookingUnderConcurrency(t *testing.T) {
	ledger, repo, clk := newTestLedger(t)
	ctx := context.Background()
	doctor := uuid.New()
	base := clk.Now().Add(24 * time.Hour)

	const (
		workers  = 16
		attempts = 25
		slots    = 6
	)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < attempts; i++ {
				n := rng.Intn(slots)
				start := base.Add(time.Duration(n) * 30 * time.Minute)
				end := start.Add(30 * time.Minute)

				hold, err := ledger.PlaceHold(ctx, doctor, start, end, uuid.New())
				if err != nil {
					continue
				}
				_, _, _ = ledger.Promote(ctx, hold.ID)
			}
		}(int64(w))
	}
	wg.Wait()

	day, err := repo.ListRange(ctx, doctor, base, base.Add(12*time.Hour))
	require.NoError(t, err)

	var appts []BusyInterval
	for _, iv := range day {
		if iv.Kind == KindAppointment {
			appts = append(appts, iv)
		}
	}
	require.NotEmpty(t, appts)
	for i := range appts {
		for j := i + 1; j < len(appts); j++ {
			assert.False(t, appts[i].Overlaps(appts[j].Start, appts[j].End),
				"appointments %s and %s overlap", appts[i].ID, appts[j].ID)
		}
	}
}

func TestBlockLeaveLeadTime(t *testing.T) {
	ledger, _, clk := newTestLedger(t)
	ctx := context.Background()
	doctor := uuid.New()

	tooSoon := clk.Now().Add(48 * time.Hour)
	_, err := ledger.BlockLeave(ctx, doctor, tooSoon, tooSoon.Add(time.Hour), "conference")
	var lte *LeadTimeError
	require.ErrorAs(t, err, &lte)
	assert.Equal(t, clk.Now().Add(72*time.Hour), lte.EarliestStart)

	okStart := clk.Now().Add(72 * time.Hour)
	leave, err := ledger.BlockLeave(ctx, doctor, okStart, okStart.Add(time.Hour), "conference")
	require.NoError(t, err)
	assert.Equal(t, KindLeave, leave.Kind)
	require.NotNil(t, leave.Reason)
	assert.Equal(t, "conference", *leave.Reason)
}

func TestLeaveCoexistsWithExistingAppointment(t *testing.T) {
	ledger, _, clk := newTestLedger(t)
	ctx := context.Background()
	doctor := uuid.New()
	start, end := slot(clk, 96*time.Hour, 30*time.Minute)

	hold, err := ledger.PlaceHold(ctx, doctor, start, end, uuid.New())
	require.NoError(t, err)
	_, _, err = ledger.Promote(ctx, hold.ID)
	require.NoError(t, err)

	// Leave over an already-booked range is accepted; it does not cancel
	// the booking, it only blocks new ones.
	_, err = ledger.BlockLeave(ctx, doctor, start, end, "")
	require.NoError(t, err)

	err = ledger.Bookable(ctx, doctor, start, end)
	assert.True(t, IsConflict(err))
}

func TestQueryOrdering(t *testing.T) {
	ledger, repo, clk := newTestLedger(t)
	ctx := context.Background()
	doctor := uuid.New()
	start, end := slot(clk, 96*time.Hour, time.Hour)

	// Insert in reverse render order to prove sorting is not insertion order.
	for _, kind := range []IntervalKind{KindLeave, KindHold, KindAppointment} {
		require.NoError(t, repo.Insert(ctx, &BusyInterval{
			ID:       uuid.New(),
			DoctorID: doctor,
			Kind:     kind,
			Start:    start,
			End:      end,
		}))
	}

	ivs, err := ledger.Query(ctx, doctor, start.Add(-time.Hour), end.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, ivs, 3)
	assert.Equal(t, KindAppointment, ivs[0].Kind)
	assert.Equal(t, KindHold, ivs[1].Kind)
	assert.Equal(t, KindLeave, ivs[2].Kind)
}

func TestReleaseIsIdempotent(t *testing.T) {
	ledger, _, clk := newTestLedger(t)
	ctx := context.Background()
	doctor := uuid.New()
	start, end := slot(clk, 24*time.Hour, 30*time.Minute)

	hold, err := ledger.PlaceHold(ctx, doctor, start, end, uuid.New())
	require.NoError(t, err)

	require.NoError(t, ledger.Release(ctx, hold.ID))
	require.NoError(t, ledger.Release(ctx, hold.ID))
	require.NoError(t, ledger.Release(ctx, uuid.New()))
}

func TestBookingRoundTripLeavesNoResidue(t *testing.T) {
	ledger, repo, clk := newTestLedger(t)
	ctx := context.Background()
	doctor := uuid.New()
	appointmentID := uuid.New()
	start, end := slot(clk, 24*time.Hour, 30*time.Minute)

	hold, err := ledger.PlaceHold(ctx, doctor, start, end, appointmentID)
	require.NoError(t, err)
	_, _, err = ledger.Promote(ctx, hold.ID)
	require.NoError(t, err)

	require.NoError(t, ledger.ReleaseByRef(ctx, appointmentID))

	ivs, err := repo.ListRange(ctx, doctor, start.Add(-time.Hour), end.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, ivs)
}

func TestPlaceHoldRejectsInvalidRange(t *testing.T) {
	ledger, _, clk := newTestLedger(t)
	start, _ := slot(clk, 24*time.Hour, 30*time.Minute)

	_, err := ledger.PlaceHold(context.Background(), uuid.New(), start, start, uuid.New())
	assert.True(t, errors.Is(err, ErrInvalidRange))
}
