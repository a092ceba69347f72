package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medigrid/clinic-scheduling/internal/clock"
	"github.com/medigrid/clinic-scheduling/internal/lock"
)

// DefaultLeaveLeadTime is the minimum notice a doctor must give before a
// leave block takes effect, protecting patients who already booked.
const DefaultLeaveLeadTime = 72 * time.Hour

// Ledger maintains, per doctor, the set of busy intervals and answers
// conflict and occupancy queries. All writes for one doctor serialize
// through the doctor's lock key, so overlap checks and the insert or
// conversion that follows them are atomic.
type Ledger struct {
	repo     Repository
	locker   lock.Locker
	clock    clock.Clock
	leadTime time.Duration
	log      zerolog.Logger
}

func NewLedger(repo Repository, locker lock.Locker, clk clock.Clock, leadTime time.Duration, log zerolog.Logger) *Ledger {
	if leadTime <= 0 {
		leadTime = DefaultLeaveLeadTime
	}
	return &Ledger{
		repo:     repo,
		locker:   locker,
		clock:    clk,
		leadTime: leadTime,
		log:      log.With().Str("component", "availability").Logger(),
	}
}

// PlaceHold tentatively reserves [start, end) for the doctor. It fails with
// ConflictError if a confirmed appointment overlaps the range. Overlapping
// holds are permitted; the first one promoted wins the slot.
func (l *Ledger) PlaceHold(ctx context.Context, doctorID uuid.UUID, start, end time.Time, refID uuid.UUID) (*BusyInterval, error) {
	if !end.After(start) {
		return nil, ErrInvalidRange
	}

	var created *BusyInterval

	err := l.locker.WithLock(ctx, lock.DoctorKey(doctorID), func(lockCtx context.Context) error {
		booked, err := l.repo.ListOverlapping(lockCtx, doctorID, start, end, KindAppointment)
		if err != nil {
			return fmt.Errorf("check appointment overlap: %w", err)
		}
		if len(booked) > 0 {
			return &ConflictError{DoctorID: doctorID, Kind: KindAppointment}
		}

		iv := &BusyInterval{
			ID:        uuid.New(),
			DoctorID:  doctorID,
			Kind:      KindHold,
			Start:     start,
			End:       end,
			RefID:     &refID,
			CreatedAt: l.clock.Now(),
		}
		if err := l.repo.Insert(lockCtx, iv); err != nil {
			return fmt.Errorf("insert hold: %w", err)
		}
		created = iv
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// Promote converts a hold into a confirmed appointment interval. The
// appointment-overlap check reruns inside the critical section, so of two
// concurrently promoted overlapping holds exactly one succeeds. Every other
// hold overlapping the promoted range is removed and returned so the caller
// can tell its owner the slot was lost.
func (l *Ledger) Promote(ctx context.Context, holdID uuid.UUID) (*BusyInterval, []BusyInterval, error) {
	hold, err := l.repo.GetByID(ctx, holdID)
	if err != nil {
		return nil, nil, fmt.Errorf("load hold: %w", err)
	}
	if hold.Kind != KindHold {
		return nil, nil, &ConflictError{DoctorID: hold.DoctorID, Kind: hold.Kind}
	}

	var (
		promoted *BusyInterval
		losers   []BusyInterval
	)

	err = l.locker.WithLock(ctx, lock.DoctorKey(hold.DoctorID), func(lockCtx context.Context) error {
		booked, err := l.repo.ListOverlapping(lockCtx, hold.DoctorID, hold.Start, hold.End, KindAppointment)
		if err != nil {
			return fmt.Errorf("recheck appointment overlap: %w", err)
		}
		if len(booked) > 0 {
			return &ConflictError{DoctorID: hold.DoctorID, Kind: KindAppointment}
		}

		promoted, err = l.repo.ConvertKind(lockCtx, holdID, KindHold, KindAppointment)
		if err != nil {
			return fmt.Errorf("promote hold: %w", err)
		}

		overlapping, err := l.repo.ListOverlapping(lockCtx, hold.DoctorID, hold.Start, hold.End, KindHold)
		if err != nil {
			return fmt.Errorf("list competing holds: %w", err)
		}
		for _, other := range overlapping {
			if other.ID == holdID {
				continue
			}
			if err := l.repo.Delete(lockCtx, other.ID); err != nil {
				return fmt.Errorf("remove losing hold %s: %w", other.ID, err)
			}
			losers = append(losers, other)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if len(losers) > 0 {
		l.log.Info().
			Str("doctor_id", hold.DoctorID.String()).
			Int("losing_holds", len(losers)).
			Msg("competing holds invalidated by promotion")
	}

	return promoted, losers, nil
}

// PromoteByRef promotes the hold whose back-reference is refID. Used by the
// appointment machine, which knows its own id but not the interval's.
func (l *Ledger) PromoteByRef(ctx context.Context, refID uuid.UUID) (*BusyInterval, []BusyInterval, error) {
	ivs, err := l.repo.FindByRef(ctx, refID)
	if err != nil {
		return nil, nil, fmt.Errorf("find hold by ref: %w", err)
	}
	for _, iv := range ivs {
		if iv.Kind == KindHold {
			return l.Promote(ctx, iv.ID)
		}
	}
	return nil, nil, fmt.Errorf("promote by ref %s: %w", refID, ErrIntervalNotFound)
}

// Release removes an interval. Releasing an already-removed interval is a
// no-op, so cancellation paths can retry safely.
func (l *Ledger) Release(ctx context.Context, intervalID uuid.UUID) error {
	iv, err := l.repo.GetByID(ctx, intervalID)
	if err != nil {
		if errors.Is(err, ErrIntervalNotFound) {
			return nil
		}
		return fmt.Errorf("load interval: %w", err)
	}

	return l.locker.WithLock(ctx, lock.DoctorKey(iv.DoctorID), func(lockCtx context.Context) error {
		if err := l.repo.Delete(lockCtx, intervalID); err != nil {
			return fmt.Errorf("delete interval: %w", err)
		}
		return nil
	})
}

// ReleaseByRef removes every interval created by the given appointment or
// leave request. Idempotent like Release.
func (l *Ledger) ReleaseByRef(ctx context.Context, refID uuid.UUID) error {
	if err := l.repo.DeleteByRef(ctx, refID); err != nil {
		return fmt.Errorf("delete intervals by ref: %w", err)
	}
	return nil
}

// BlockLeave files a leave interval for the doctor. The start must be at
// least the configured lead time after now; otherwise a LeadTimeError
// carrying the earliest valid start is returned. Leave is not checked
// against existing appointments: it does not cancel bookings, and surfacing
// the coexistence is the caller's concern.
func (l *Ledger) BlockLeave(ctx context.Context, doctorID uuid.UUID, start, end time.Time, reason string) (*BusyInterval, error) {
	if !end.After(start) {
		return nil, ErrInvalidRange
	}

	earliest := l.clock.Now().Add(l.leadTime)
	if start.Before(earliest) {
		return nil, &LeadTimeError{EarliestStart: earliest}
	}

	var created *BusyInterval

	err := l.locker.WithLock(ctx, lock.DoctorKey(doctorID), func(lockCtx context.Context) error {
		iv := &BusyInterval{
			ID:        uuid.New(),
			DoctorID:  doctorID,
			Kind:      KindLeave,
			Start:     start,
			End:       end,
			CreatedAt: l.clock.Now(),
		}
		if reason != "" {
			iv.Reason = &reason
		}
		if err := l.repo.Insert(lockCtx, iv); err != nil {
			return fmt.Errorf("insert leave: %w", err)
		}
		created = iv
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// Query returns the doctor's intervals intersecting [from, to), ordered by
// start and, at equal start, appointment before hold before leave.
func (l *Ledger) Query(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]BusyInterval, error) {
	ivs, err := l.repo.ListRange(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query intervals: %w", err)
	}
	return ivs, nil
}

// Bookable reports whether [start, end) can accept a new booking request for
// the doctor: no confirmed appointment and no leave may overlap it. Holds are
// not examined here; callers that must honor other patients' pending holds
// resolve their owners through OverlappingHolds first.
func (l *Ledger) Bookable(ctx context.Context, doctorID uuid.UUID, start, end time.Time) error {
	blocking, err := l.repo.ListOverlapping(ctx, doctorID, start, end, KindAppointment, KindLeave)
	if err != nil {
		return fmt.Errorf("check blocking intervals: %w", err)
	}
	if len(blocking) > 0 {
		return &ConflictError{DoctorID: doctorID, Kind: blocking[0].Kind}
	}
	return nil
}

// OverlappingHolds lists the pending holds intersecting [start, end) for the
// doctor. Ownership of a hold lives on the appointment its RefID points at,
// so this package cannot decide whose hold it is; the caller does.
func (l *Ledger) OverlappingHolds(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]BusyInterval, error) {
	holds, err := l.repo.ListOverlapping(ctx, doctorID, start, end, KindHold)
	if err != nil {
		return nil, fmt.Errorf("list overlapping holds: %w", err)
	}
	return holds, nil
}
