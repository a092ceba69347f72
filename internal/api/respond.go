package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/medigrid/clinic-scheduling/internal/appointment"
	"github.com/medigrid/clinic-scheduling/internal/availability"
	"github.com/medigrid/clinic-scheduling/internal/dispatch"
	"github.com/medigrid/clinic-scheduling/internal/lock"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeDomainError maps service errors onto HTTP statuses. Unknown
// errors become a 500 without leaking internals.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		invalidAppt  *appointment.InvalidTransitionError
		denied       *appointment.PermissionDeniedError
		invalidEmerg *dispatch.InvalidTransitionError
		leadTime     *availability.LeadTimeError
		collaborator *dispatch.CollaboratorUnavailableError
	)

	switch {
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", "no such appointment")
	case errors.Is(err, dispatch.ErrNotFound):
		writeError(w, http.StatusNotFound, "emergency_not_found", "no such emergency")
	case errors.Is(err, dispatch.ErrAmbulanceNotFound):
		writeError(w, http.StatusNotFound, "ambulance_not_found", "no such ambulance")
	case errors.Is(err, availability.ErrIntervalNotFound):
		writeError(w, http.StatusNotFound, "interval_not_found", "no such interval")
	case availability.IsConflict(err):
		writeError(w, http.StatusConflict, "slot_conflict", err.Error())
	case errors.As(err, &leadTime):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_notice", leadTime.Error())
	case errors.Is(err, availability.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "invalid_time_range", err.Error())
	case errors.As(err, &denied):
		writeError(w, http.StatusForbidden, "permission_denied", denied.Error())
	case errors.As(err, &invalidAppt):
		writeError(w, http.StatusConflict, "invalid_status_transition", invalidAppt.Error())
	case errors.As(err, &invalidEmerg):
		writeError(w, http.StatusConflict, "invalid_status_transition", invalidEmerg.Error())
	case errors.Is(err, dispatch.ErrAmbulanceUnavailable):
		writeError(w, http.StatusConflict, "ambulance_unavailable", "ambulance was claimed by another dispatch")
	case errors.Is(err, dispatch.ErrNotAssignable):
		writeError(w, http.StatusConflict, "not_assignable", err.Error())
	case errors.Is(err, dispatch.ErrConfirmNotAllowed):
		writeError(w, http.StatusConflict, "confirm_not_allowed", err.Error())
	case errors.Is(err, dispatch.ErrNotConvertible):
		writeError(w, http.StatusConflict, "not_convertible", err.Error())
	case errors.As(err, &collaborator):
		writeError(w, http.StatusServiceUnavailable, "collaborator_unavailable", collaborator.Error())
	case errors.Is(err, appointment.ErrStale), errors.Is(err, dispatch.ErrStale):
		writeError(w, http.StatusConflict, "concurrent_update", "resource changed underneath the request, retry")
	case errors.Is(err, lock.ErrNotAcquired):
		writeError(w, http.StatusConflict, "resource_busy", "resource is being modified, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected failure")
	}
}
