package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medigrid/clinic-scheduling/internal/appointment"
	"github.com/medigrid/clinic-scheduling/internal/clinic"
	"github.com/medigrid/clinic-scheduling/internal/dispatch"
)

func bookAppointmentHandler(facade *clinic.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, ok := parseUUID(w, req.PatientID, "patient_id")
		if !ok {
			return
		}
		doctorID, ok := parseUUID(w, req.DoctorID, "doctor_id")
		if !ok {
			return
		}
		clinicID, ok := parseUUID(w, req.ClinicID, "clinic_id")
		if !ok {
			return
		}
		start, end, ok := parseWindow(w, req.Start, req.End)
		if !ok {
			return
		}

		appt, err := facade.BookAppointment(r.Context(), clinic.BookingRequest{
			PatientID: patientID,
			DoctorID:  doctorID,
			ClinicID:  clinicID,
			Start:     start,
			End:       end,
			Symptoms:  req.Symptoms,
			Notes:     req.Notes,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUID(w, chi.URLParam(r, "id"), "id")
		if !ok {
			return
		}
		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pageParams(r)

		if v := r.URL.Query().Get("doctor_id"); v != "" {
			doctorID, ok := parseUUID(w, v, "doctor_id")
			if !ok {
				return
			}
			list, err := svc.ListByDoctor(r.Context(), doctorID, limit, offset)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeAppointmentList(w, list)
			return
		}

		if v := r.URL.Query().Get("patient_id"); v != "" {
			patientID, ok := parseUUID(w, v, "patient_id")
			if !ok {
				return
			}
			list, err := svc.ListByPatient(r.Context(), patientID, limit, offset)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeAppointmentList(w, list)
			return
		}

		writeError(w, http.StatusBadRequest, "missing_filter", "doctor_id or patient_id query parameter required")
	}
}

func transitionAppointmentHandler(facade *clinic.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUID(w, chi.URLParam(r, "id"), "id")
		if !ok {
			return
		}

		var req TransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		actor := appointment.Actor{Role: appointment.ActorRole(req.ActorRole)}
		switch actor.Role {
		case appointment.RoleDoctor, appointment.RolePatient:
			actorID, ok := parseUUID(w, req.ActorID, "actor_id")
			if !ok {
				return
			}
			actor.ID = actorID
		default:
			writeError(w, http.StatusBadRequest, "invalid_actor_role", "actor_role must be doctor or patient")
			return
		}

		appt, err := facade.TransitionAppointment(r.Context(), id, actor,
			appointment.Status(req.Target), req.Reason)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func blockLeaveHandler(facade *clinic.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BlockLeaveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, ok := parseUUID(w, req.DoctorID, "doctor_id")
		if !ok {
			return
		}
		start, end, ok := parseWindow(w, req.Start, req.End)
		if !ok {
			return
		}

		iv, err := facade.BlockDoctorTime(r.Context(), doctorID, start, end, req.Reason)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toIntervalResponse(*iv))
	}
}

func doctorScheduleHandler(facade *clinic.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseUUID(w, chi.URLParam(r, "id"), "id")
		if !ok {
			return
		}
		from, to, ok := parseWindow(w, r.URL.Query().Get("from"), r.URL.Query().Get("to"))
		if !ok {
			return
		}

		intervals, err := facade.DoctorSchedule(r.Context(), doctorID, from, to)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		out := make([]IntervalResponse, 0, len(intervals))
		for _, iv := range intervals {
			out = append(out, toIntervalResponse(iv))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func submitEmergencyHandler(facade *clinic.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SubmitEmergencyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, ok := parseUUID(w, req.PatientID, "patient_id")
		if !ok {
			return
		}
		priority := dispatch.Priority(req.Priority)
		switch priority {
		case dispatch.PriorityLow, dispatch.PriorityMedium, dispatch.PriorityHigh, dispatch.PriorityCritical:
		default:
			writeError(w, http.StatusBadRequest, "invalid_priority", "priority must be low, medium, high or critical")
			return
		}
		var clinicID *uuid.UUID
		if req.ClinicID != nil {
			id, ok := parseUUID(w, *req.ClinicID, "clinic_id")
			if !ok {
				return
			}
			clinicID = &id
		}

		e, err := facade.SubmitEmergency(r.Context(), patientID, dispatch.Location{
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
			Address:   req.Address,
		}, priority, clinicID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toEmergencyResponse(e))
	}
}

func getEmergencyHandler(svc *dispatch.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUID(w, chi.URLParam(r, "id"), "id")
		if !ok {
			return
		}
		e, err := svc.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toEmergencyResponse(e))
	}
}

// listEmergenciesHandler returns the triage queue: emergencies needing
// attention first, then newest submissions.
func listEmergenciesHandler(svc *dispatch.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pageParams(r)

		var clinicID *uuid.UUID
		if v := r.URL.Query().Get("clinic_id"); v != "" {
			id, ok := parseUUID(w, v, "clinic_id")
			if !ok {
				return
			}
			clinicID = &id
		}

		list, err := svc.ListActive(r.Context(), clinicID, limit, offset)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		out := make([]EmergencyResponse, 0, len(list))
		for i := range list {
			out = append(out, toEmergencyResponse(&list[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func assignEmergencyHandler(facade *clinic.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUID(w, chi.URLParam(r, "id"), "id")
		if !ok {
			return
		}

		var req AssignEmergencyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		ambulanceID, ok := parseUUID(w, req.AmbulanceID, "ambulance_id")
		if !ok {
			return
		}
		var doctorID *uuid.UUID
		if req.DoctorID != nil {
			d, ok := parseUUID(w, *req.DoctorID, "doctor_id")
			if !ok {
				return
			}
			doctorID = &d
		}

		e, err := facade.AssignEmergency(r.Context(), id, ambulanceID, doctorID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toEmergencyResponse(e))
	}
}

func confirmEmergencyHandler(svc *dispatch.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUID(w, chi.URLParam(r, "id"), "id")
		if !ok {
			return
		}
		var req DoctorConfirmRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		doctorID, ok := parseUUID(w, req.DoctorID, "doctor_id")
		if !ok {
			return
		}

		e, err := svc.DoctorConfirm(r.Context(), id, doctorID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toEmergencyResponse(e))
	}
}

func transitionEmergencyHandler(svc *dispatch.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUID(w, chi.URLParam(r, "id"), "id")
		if !ok {
			return
		}
		var req EmergencyTransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		e, err := svc.Transition(r.Context(), id, dispatch.Status(req.Target))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toEmergencyResponse(e))
	}
}

func candidateAmbulancesHandler(svc *dispatch.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUID(w, chi.URLParam(r, "id"), "id")
		if !ok {
			return
		}
		list, err := svc.CandidateAmbulances(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		out := make([]AmbulanceResponse, 0, len(list))
		for _, a := range list {
			out = append(out, toAmbulanceResponse(a))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func convertEmergencyHandler(facade *clinic.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUID(w, chi.URLParam(r, "id"), "id")
		if !ok {
			return
		}
		var req ConvertEmergencyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		doctorID, ok := parseUUID(w, req.DoctorID, "doctor_id")
		if !ok {
			return
		}
		clinicID, ok := parseUUID(w, req.ClinicID, "clinic_id")
		if !ok {
			return
		}
		start, end, ok := parseWindow(w, req.Start, req.End)
		if !ok {
			return
		}

		appt, err := facade.ConvertEmergencyToAppointment(r.Context(), clinic.ConversionRequest{
			EmergencyID: id,
			DoctorID:    doctorID,
			ClinicID:    clinicID,
			Start:       start,
			End:         end,
			Notes:       req.Notes,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func parseUUID(w http.ResponseWriter, s, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+field, field+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseWindow(w http.ResponseWriter, startStr, endStr string) (time.Time, time.Time, bool) {
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start", "start must be RFC 3339")
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_end", "end must be RFC 3339")
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func pageParams(r *http.Request) (limit, offset int) {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	return limit, offset
}

func writeAppointmentList(w http.ResponseWriter, list []appointment.Appointment) {
	out := make([]AppointmentResponse, 0, len(list))
	for i := range list {
		out = append(out, toAppointmentResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}
