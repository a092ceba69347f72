package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medigrid/clinic-scheduling/internal/audit"
	"github.com/medigrid/clinic-scheduling/internal/clock"
	"github.com/medigrid/clinic-scheduling/internal/events"
	"github.com/medigrid/clinic-scheduling/internal/lock"
)

// DefaultEscalationThreshold is how long an emergency may sit pending before
// the worker escalates it to needs_attention.
const DefaultEscalationThreshold = 10 * time.Minute

// emergencyTransitions is the closed set of legal lifecycle moves driven
// through Transition. Assignment has its own entry point because it must
// also claim an ambulance.
var emergencyTransitions = map[Status][]Status{
	StatusPending:        {StatusNeedsAttention, StatusCancelled},
	StatusNeedsAttention: {StatusCancelled},
	StatusAssigned:       {StatusEnRoute, StatusCancelled},
	StatusEnRoute:        {StatusArrived, StatusCancelled},
	StatusArrived:        {StatusCompleted, StatusCancelled},
}

func canTransition(from, to Status) bool {
	for _, allowed := range emergencyTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Service is the emergency dispatch engine: it ranks incoming requests,
// matches an available ambulance (and optionally a doctor), and drives each
// emergency to cancellation, completion, or conversion into an appointment.
type Service struct {
	emergencies   EmergencyRepository
	ambulances    AmbulanceStore
	locker        lock.Locker
	audit         audit.Recorder
	events        events.Publisher
	clock         clock.Clock
	escalateAfter time.Duration
	log           zerolog.Logger
}

func NewService(emergencies EmergencyRepository, ambulances AmbulanceStore, locker lock.Locker, rec audit.Recorder, pub events.Publisher, clk clock.Clock, escalateAfter time.Duration, log zerolog.Logger) *Service {
	if escalateAfter <= 0 {
		escalateAfter = DefaultEscalationThreshold
	}
	return &Service{
		emergencies:   emergencies,
		ambulances:    ambulances,
		locker:        locker,
		audit:         rec,
		events:        pub,
		clock:         clk,
		escalateAfter: escalateAfter,
		log:           log.With().Str("component", "dispatch").Logger(),
	}
}

// Submit registers a new emergency in pending.
func (s *Service) Submit(ctx context.Context, patientID uuid.UUID, loc Location, priority Priority, clinicID *uuid.UUID) (*Emergency, error) {
	e := &Emergency{
		ID:        uuid.New(),
		PatientID: patientID,
		Location:  loc,
		Priority:  priority,
		Status:    StatusPending,
		ClinicID:  clinicID,
		CreatedAt: s.clock.Now(),
	}
	if err := s.emergencies.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("create emergency: %w", err)
	}

	s.record(ctx, e.ID, "EMERGENCY_SUBMITTED", map[string]any{
		"patient_id": patientID.String(),
		"priority":   priority,
	})
	s.publish(events.TypeEmergencySubmitted, e.ID, map[string]any{"priority": string(priority)})
	return e, nil
}

// Assign matches an ambulance (and optionally a doctor) to the emergency.
// The ambulance claim is a compare-and-set against its live status, not a
// re-read of the candidate list, so two dispatchers racing for the same
// vehicle cannot both win.
func (s *Service) Assign(ctx context.Context, emergencyID, ambulanceID uuid.UUID, doctorID *uuid.UUID) (*Emergency, error) {
	var assigned *Emergency

	err := s.locker.WithLock(ctx, lock.EmergencyKey(emergencyID), func(lockCtx context.Context) error {
		e, err := s.emergencies.GetByID(lockCtx, emergencyID)
		if err != nil {
			return err
		}
		if e.Status != StatusPending && e.Status != StatusNeedsAttention {
			return ErrNotAssignable
		}

		amb, err := s.ambulances.GetByID(lockCtx, ambulanceID)
		if err != nil {
			if errors.Is(err, ErrAmbulanceNotFound) {
				return err
			}
			return &CollaboratorUnavailableError{Collaborator: "ambulance store", Err: err}
		}
		if err := s.ambulances.MarkDispatched(lockCtx, ambulanceID); err != nil {
			if errors.Is(err, ErrAmbulanceUnavailable) || errors.Is(err, ErrAmbulanceNotFound) {
				return err
			}
			return &CollaboratorUnavailableError{Collaborator: "ambulance store", Err: err}
		}

		assigned, err = s.emergencies.Assign(lockCtx, emergencyID, e.Status, *amb, doctorID, s.clock.Now())
		if err != nil {
			// Give the ambulance back; the claim belongs to no emergency.
			if relErr := s.ambulances.Release(lockCtx, ambulanceID); relErr != nil {
				s.log.Error().Err(relErr).
					Str("ambulance_id", ambulanceID.String()).
					Msg("failed to release ambulance after aborted assignment")
			}
			return fmt.Errorf("commit assignment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	payload := map[string]any{"ambulance_id": ambulanceID.String()}
	if doctorID != nil {
		payload["doctor_id"] = doctorID.String()
	}
	s.record(ctx, emergencyID, "EMERGENCY_ASSIGNED", payload)
	s.publish(events.TypeEmergencyAssigned, emergencyID, payload)
	return assigned, nil
}

// DoctorConfirm records that the assigned doctor is aware of the dispatch.
// It is an acknowledgment, not a lifecycle move: the emergency status is
// untouched, which is what distinguishes "doctor knows" from "ambulance has
// arrived".
func (s *Service) DoctorConfirm(ctx context.Context, emergencyID, doctorID uuid.UUID) (*Emergency, error) {
	var confirmed *Emergency

	err := s.locker.WithLock(ctx, lock.EmergencyKey(emergencyID), func(lockCtx context.Context) error {
		e, err := s.emergencies.GetByID(lockCtx, emergencyID)
		if err != nil {
			return err
		}
		switch e.Status {
		case StatusAssigned, StatusEnRoute, StatusArrived:
		default:
			return ErrConfirmNotAllowed
		}

		confirmed, err = s.emergencies.SetDoctorConfirmed(lockCtx, emergencyID, doctorID, s.clock.Now())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, emergencyID, "EMERGENCY_DOCTOR_CONFIRMED", map[string]any{
		"doctor_id": doctorID.String(),
	})
	return confirmed, nil
}

// Transition drives the post-assignment lifecycle (en_route, arrived,
// completed) and cancellation from any non-terminal state. Entering a
// terminal state returns the claimed ambulance to the pool.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, target Status) (*Emergency, error) {
	var updated *Emergency

	err := s.locker.WithLock(ctx, lock.EmergencyKey(id), func(lockCtx context.Context) error {
		e, err := s.emergencies.GetByID(lockCtx, id)
		if err != nil {
			return err
		}
		if !canTransition(e.Status, target) {
			return &InvalidTransitionError{From: e.Status, To: target}
		}

		updated, err = s.emergencies.UpdateStatus(lockCtx, id, e.Status, target)
		if err != nil {
			return fmt.Errorf("commit %s -> %s: %w", e.Status, target, err)
		}

		if target.Terminal() && updated.AmbulanceID != nil {
			if err := s.ambulances.Release(lockCtx, *updated.AmbulanceID); err != nil {
				// The emergency is already closed; the pool heals on the
				// next feed sync, so log and move on.
				s.log.Error().Err(err).
					Str("ambulance_id", updated.AmbulanceID.String()).
					Msg("failed to release ambulance on terminal transition")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, id, "EMERGENCY_TRANSITIONED", map[string]any{"target": target})
	s.publish(events.TypeEmergencyTransitioned, id, map[string]any{"status": string(target)})
	return updated, nil
}

// EscalateStale is called by the worker. Pending emergencies older than the
// escalation threshold move to needs_attention so triage surfaces them
// first. Returns how many were escalated.
func (s *Service) EscalateStale(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.escalateAfter)
	stale, err := s.emergencies.FindStalePending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find stale pending emergencies: %w", err)
	}

	escalated := 0
	for _, e := range stale {
		if _, err := s.Transition(ctx, e.ID, StatusNeedsAttention); err != nil {
			if errors.Is(err, ErrStale) || errors.Is(err, ErrNotFound) {
				continue
			}
			var ite *InvalidTransitionError
			if errors.As(err, &ite) {
				continue // assigned or cancelled since listing
			}
			s.log.Error().Err(err).Str("emergency_id", e.ID.String()).Msg("failed to escalate emergency")
			continue
		}
		s.publish(events.TypeEmergencyEscalated, e.ID, nil)
		escalated++
	}
	return escalated, nil
}

// CandidateAmbulances lists ambulances eligible for the emergency, scoped to
// its clinic when known. The list is advisory; Assign re-checks.
func (s *Service) CandidateAmbulances(ctx context.Context, emergencyID uuid.UUID) ([]Ambulance, error) {
	e, err := s.emergencies.GetByID(ctx, emergencyID)
	if err != nil {
		return nil, err
	}
	list, err := s.ambulances.ListAvailable(ctx, e.ClinicID)
	if err != nil {
		return nil, &CollaboratorUnavailableError{Collaborator: "ambulance store", Err: err}
	}
	return list, nil
}

// ConversionSeed validates that the emergency may seed a follow-on
// appointment (arrived or completed) and returns it. Creating the
// appointment is the façade's job; conversion does not close the emergency.
func (s *Service) ConversionSeed(ctx context.Context, emergencyID uuid.UUID) (*Emergency, error) {
	e, err := s.emergencies.GetByID(ctx, emergencyID)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusArrived && e.Status != StatusCompleted {
		return nil, ErrNotConvertible
	}
	return e, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Emergency, error) {
	return s.emergencies.GetByID(ctx, id)
}

// ListActive returns open emergencies in triage order.
func (s *Service) ListActive(ctx context.Context, clinicID *uuid.UUID, limit, offset int) ([]Emergency, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return s.emergencies.ListActive(ctx, clinicID, limit, offset)
}

func (s *Service) publish(typ events.Type, id uuid.UUID, data map[string]any) {
	s.events.Publish(events.Event{
		Type:       typ,
		Topic:      events.TopicEmergencies,
		ResourceID: id,
		At:         s.clock.Now(),
		Data:       data,
	})
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
		s.log.Error().Err(err).Str("event_type", eventType).Str("emergency_id", id.String()).Msg("failed to record audit entry")
	}
}
