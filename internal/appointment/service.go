package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medigrid/clinic-scheduling/internal/audit"
	"github.com/medigrid/clinic-scheduling/internal/availability"
	"github.com/medigrid/clinic-scheduling/internal/clock"
	"github.com/medigrid/clinic-scheduling/internal/events"
	"github.com/medigrid/clinic-scheduling/internal/lock"
)

// Service owns the appointment lifecycle. Every transition serializes on the
// appointment's lock key, is validated against the transition table, applies
// its ledger side effect, then commits the status change with a
// compare-and-set.
type Service struct {
	repo   Repository
	ledger *availability.Ledger
	locker lock.Locker
	audit  audit.Recorder
	events events.Publisher
	clock  clock.Clock
	log    zerolog.Logger
}

func NewService(repo Repository, ledger *availability.Ledger, locker lock.Locker, rec audit.Recorder, pub events.Publisher, clk clock.Clock, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		ledger: ledger,
		locker: locker,
		audit:  rec,
		events: pub,
		clock:  clk,
		log:    log.With().Str("component", "appointment").Logger(),
	}
}

// TransitionResult carries the updated appointment plus any competing holds
// invalidated by a confirmation, so the caller can tell their owners the
// slot was lost.
type TransitionResult struct {
	Appointment *Appointment
	LostHolds   []availability.BusyInterval
}

// Create stores a new appointment in pending. The booking hold is placed by
// the caller before this; the two are tied by the appointment id as the
// interval's back-reference.
func (s *Service) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	now := s.clock.Now()
	a.CreatedAt = now
	a.UpdatedAt = now

	if err := s.repo.Create(ctx, a); err != nil {
		return fmt.Errorf("create appointment: %w", err)
	}

	s.record(ctx, a.ID, "APPOINTMENT_CREATED", map[string]any{
		"patient_id": a.PatientID.String(),
		"doctor_id":  a.DoctorID.String(),
		"start":      a.ScheduledStart,
		"end":        a.ScheduledEnd,
		"status":     a.Status,
	})
	return nil
}

// Transition requests a move to target on behalf of actor. The ledger side
// effect from the transition table runs before the status commit; if the
// effect fails (e.g. the hold lost a promotion race) the appointment is left
// untouched and the error is returned for the caller to retry or surface.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, actor Actor, target Status, reason string) (*TransitionResult, error) {
	var result *TransitionResult

	err := s.locker.WithLock(ctx, lock.AppointmentKey(id), func(lockCtx context.Context) error {
		appt, err := s.repo.GetByID(lockCtx, id)
		if err != nil {
			return err
		}

		if err := checkOwnership(appt, actor, target); err != nil {
			return err
		}

		effect, err := Resolve(appt.Status, actor.Role, target)
		if err != nil {
			return err
		}

		var losers []availability.BusyInterval
		switch effect {
		case EffectPromoteHold:
			_, losers, err = s.ledger.PromoteByRef(lockCtx, appt.ID)
			if err != nil {
				return fmt.Errorf("promote booking hold: %w", err)
			}
		case EffectReleaseInterval:
			if err := s.ledger.ReleaseByRef(lockCtx, appt.ID); err != nil {
				return fmt.Errorf("release booking interval: %w", err)
			}
		}

		updated, err := s.repo.UpdateStatus(lockCtx, appt.ID, appt.Status, target)
		if err != nil {
			return fmt.Errorf("commit %s -> %s: %w", appt.Status, target, err)
		}

		if reason != "" {
			var rejection, cancellation *string
			switch target {
			case StatusRejected:
				rejection = &reason
			case StatusCancelledByDoctor, StatusCancelledByPatient:
				cancellation = &reason
			}
			if rejection != nil || cancellation != nil {
				if err := s.repo.SetReason(lockCtx, appt.ID, rejection, cancellation); err != nil {
					return fmt.Errorf("store transition reason: %w", err)
				}
				updated.RejectionReason = rejection
				updated.CancellationReason = cancellation
			}
		}

		result = &TransitionResult{Appointment: updated, LostHolds: losers}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, id, "APPOINTMENT_TRANSITIONED", map[string]any{
		"actor":  actor.Role,
		"target": target,
	})
	s.events.Publish(events.Event{
		Type:       events.TypeAppointmentTransitioned,
		Topic:      events.TopicAppointments,
		ResourceID: id,
		At:         s.clock.Now(),
		Data:       map[string]any{"status": string(target)},
	})

	return result, nil
}

// ExpirePending is called by the worker. It moves every pending appointment
// whose hold TTL has elapsed to expired through the normal state machine,
// releasing the hold. Returns how many were expired.
func (s *Service) ExpirePending(ctx context.Context) (int, error) {
	candidates, err := s.repo.FindExpiredPending(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("find expired pending appointments: %w", err)
	}

	expired := 0
	for _, appt := range candidates {
		if _, err := s.Transition(ctx, appt.ID, SystemActor, StatusExpired, "hold ttl elapsed"); err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStale) {
				continue
			}
			s.log.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to expire appointment")
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	return s.repo.ListByDoctor(ctx, doctorID, limit, offset)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func checkOwnership(appt *Appointment, actor Actor, target Status) error {
	denied := &PermissionDeniedError{Role: actor.Role, From: appt.Status, To: target}
	switch actor.Role {
	case RoleDoctor:
		if actor.ID != appt.DoctorID {
			return denied
		}
	case RolePatient:
		if actor.ID != appt.PatientID {
			return denied
		}
	case RoleSystem:
	default:
		return denied
	}
	return nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Service) record(ctx context.Context, id uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal audit payload")
		data = nil
	}
	subject := id
	if err := s.audit.Record(ctx, audit.Entry{
		EventType: eventType,
		SubjectID: &subject,
		Payload:   data,
		CreatedAt: s.clock.Now(),
	}); err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Str("appointment_id", id.String()).Msg("failed to record audit entry")
	}
}
