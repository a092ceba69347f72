package availability

import (
	"time"

	"github.com/google/uuid"
)

// IntervalKind discriminates the three ways a doctor's time can be occupied.
type IntervalKind string

const (
	// KindAppointment is a confirmed booking. At most one per doctor at any
	// instant; overlaps are rejected at hold and promotion time.
	KindAppointment IntervalKind = "appointment"
	// KindHold is a tentative reservation placed during booking, before the
	// doctor confirms. Holds may overlap each other; first confirmed wins.
	KindHold IntervalKind = "hold"
	// KindLeave is doctor-filed time off. It blocks new bookings but may
	// coexist with appointments that were already on the calendar.
	KindLeave IntervalKind = "leave"
)

// renderRank fixes the tie-break order for intervals starting at the same
// instant: an appointment dominates a hold, a hold dominates leave.
func (k IntervalKind) renderRank() int {
	switch k {
	case KindAppointment:
		return 0
	case KindHold:
		return 1
	default:
		return 2
	}
}

// BusyInterval is one half-open occupied range [Start, End) on a doctor's
// calendar. RefID points back at the appointment or leave request that
// created it; it is a lookup aid, not ownership.
type BusyInterval struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Kind      IntervalKind
	Start     time.Time
	End       time.Time
	Reason    *string
	RefID     *uuid.UUID
	CreatedAt time.Time
}

// Overlaps reports whether the interval intersects [start, end).
func (b BusyInterval) Overlaps(start, end time.Time) bool {
	return b.Start.Before(end) && start.Before(b.End)
}
