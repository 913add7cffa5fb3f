package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/caremesh/telehealth-booking/internal/booking"
	"github.com/caremesh/telehealth-booking/internal/identity"
	"github.com/caremesh/telehealth-booking/internal/payment"
)

func createAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := identity.FromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}

		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}

		var patientID uuid.UUID
		if req.PatientID != "" {
			patientID, err = uuid.Parse(req.PatientID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
		}

		appt, pay, err := svc.Create(r.Context(), actor, booking.CreateRequest{
			PatientID:       patientID,
			ProviderID:      providerID,
			Type:            booking.Type(req.Type),
			Mode:            booking.Mode(req.Mode),
			ScheduledAt:     req.ScheduledAt,
			DurationMinutes: req.DurationMinutes,
			Method:          payment.Method(req.Method),
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, CreateAppointmentResponse{
			Appointment: toAppointmentResponse(appt),
			Payment:     toPaymentResponse(pay),
		})
	}
}

func getAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), actor, id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func appointmentHistoryHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		entries, err := svc.History(r.Context(), actor, id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toHistoryResponse(entries))
	}
}

func updateAppointmentStatusHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		appt, err := svc.UpdateStatus(r.Context(), actor, id, booking.Status(req.Status))
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		var req CancelAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		appt, err := svc.Cancel(r.Context(), actor, id, req.Reason)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		var req RescheduleAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		appt, err := svc.Reschedule(r.Context(), actor, id, req.ScheduledAt, req.Reason)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listPatientAppointmentsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := identity.FromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}

		patientID := actor.UserID
		if raw := r.URL.Query().Get("patient_id"); raw != "" {
			patientID, err = uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
		}

		limit := queryInt(r, "limit", 20)
		offset := queryInt(r, "offset", 0)

		appts, err := svc.ListByPatient(r.Context(), actor, patientID, limit, offset)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, appointmentList(appts))
	}
}

func listProviderAppointmentsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		now := time.Now()
		from := queryTime(r, "from", now.AddDate(0, 0, -7))
		to := queryTime(r, "to", now.AddDate(0, 0, 30))

		appts, err := svc.ListByProvider(r.Context(), actor, id, from, to)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, appointmentList(appts))
	}
}

func actorAndID(w http.ResponseWriter, r *http.Request) (identity.Identity, uuid.UUID, bool) {
	actor, err := identity.FromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return identity.Identity{}, uuid.Nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return identity.Identity{}, uuid.Nil, false
	}

	return actor, id, true
}

func appointmentList(appts []booking.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		out = append(out, toAppointmentResponse(&appts[i]))
	}
	return out
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func queryTime(r *http.Request, key string, fallback time.Time) time.Time {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fallback
	}
	return t
}
