package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medibridge/telemed-coordinator/internal/appointment"
	"github.com/medibridge/telemed-coordinator/internal/observability/metrics"
	"github.com/medibridge/telemed-coordinator/internal/payment"
	redisclient "github.com/medibridge/telemed-coordinator/internal/redis"
	"github.com/medibridge/telemed-coordinator/internal/schedule"
	"github.com/medibridge/telemed-coordinator/internal/session"
)

// actorFromRequest reads the identity the auth layer attached upstream. The
// coordinator trusts it; it only checks ownership against the appointment.
func actorFromRequest(r *http.Request) (uuid.UUID, appointment.Role, bool) {
	actorID, err := uuid.Parse(r.Header.Get("X-Actor-ID"))
	if err != nil {
		return uuid.Nil, "", false
	}
	role, ok := appointment.ParseRole(r.Header.Get("X-Actor-Role"))
	if !ok {
		return uuid.Nil, "", false
	}
	return actorID, role, true
}

func appointmentIDFromURL(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func bookAppointmentHandler(svc *appointment.Service, m *metrics.CoordinatorMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		appt, err := svc.Book(r.Context(), patientID, doctorID, req.SlotDate, req.SlotTime)
		if err != nil {
			m.ObserveBooking(outcomeLabel(err))
			handleDomainError(w, err)
			return
		}

		m.ObserveBooking("ok")
		writeJSON(w, http.StatusCreated, newAppointmentResponse(appt))
	}
}

func getStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := appointmentIDFromURL(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		status, err := svc.Status(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, StatusResponse{
			Appointment:          newAppointmentResponse(status.Appointment),
			JoinState:            string(status.JoinState),
			Joinable:             status.Joinable,
			TimeRemainingSeconds: int64(status.TimeRemaining.Seconds()),
		})
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := intQuery(q.Get("limit"), 20)
		offset := intQuery(q.Get("offset"), 0)

		var (
			appts []appointment.Appointment
			err   error
		)
		switch {
		case q.Get("patient_id") != "":
			patientID, parseErr := uuid.Parse(q.Get("patient_id"))
			if parseErr != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			appts, err = svc.ListByPatient(r.Context(), patientID, limit, offset)
		case q.Get("doctor_id") != "":
			doctorID, parseErr := uuid.Parse(q.Get("doctor_id"))
			if parseErr != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			appts, err = svc.ListByDoctor(r.Context(), doctorID, limit, offset)
		default:
			writeError(w, http.StatusBadRequest, "missing_filter", "patient_id or doctor_id query parameter is required")
			return
		}
		if err != nil {
			handleDomainError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, newAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func confirmPaymentHandler(rec *payment.Reconciler, m *metrics.CoordinatorMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := appointmentIDFromURL(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req ConfirmPaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := rec.Confirm(r.Context(), id, req.PaymentRef)
		if err != nil {
			// Replayed webhook: already applied, report the current state as
			// success so gateway retries settle.
			if errors.Is(err, appointment.ErrAlreadyPaid) {
				m.ObservePayment("replay")
				writeJSON(w, http.StatusOK, ErrorResponse{Error: "already_paid", Details: "payment was already recorded"})
				return
			}
			m.ObservePayment(outcomeLabel(err))
			handleDomainError(w, err)
			return
		}

		m.ObservePayment("ok")
		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func createSessionHandler(mgr *session.Manager, m *metrics.CoordinatorMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := appointmentIDFromURL(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		actorID, role, ok := actorFromRequest(r)
		if !ok || role != appointment.RoleDoctor {
			writeError(w, http.StatusForbidden, "doctor_required", "only the doctor may create the session room")
			return
		}

		roomID, err := mgr.Create(r.Context(), id, actorID)
		if err != nil {
			m.ObserveSession("create", outcomeLabel(err))
			handleDomainError(w, err)
			return
		}

		m.ObserveSession("create", "ok")
		writeJSON(w, http.StatusOK, CreateSessionResponse{RoomID: roomID})
	}
}

func joinSessionHandler(mgr *session.Manager, m *metrics.CoordinatorMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := appointmentIDFromURL(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		actorID, role, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusForbidden, "actor_required", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}

		var req JoinSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		identity := req.Identity
		if identity == "" {
			identity = actorID.String()
		}

		result, err := mgr.Join(r.Context(), id, role, actorID, identity)
		if err != nil {
			m.ObserveSession("join", outcomeLabel(err))
			handleDomainError(w, err)
			return
		}

		m.ObserveSession("join", "ok")
		writeJSON(w, http.StatusOK, JoinSessionResponse{
			RoomID:     result.RoomID,
			Credential: result.Credential,
		})
	}
}

func endSessionHandler(mgr *session.Manager, m *metrics.CoordinatorMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := appointmentIDFromURL(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		actorID, role, ok := actorFromRequest(r)
		if !ok || role != appointment.RoleDoctor {
			writeError(w, http.StatusForbidden, "doctor_required", "only the doctor may end the session")
			return
		}

		var req EndSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := mgr.End(r.Context(), id, actorID, req.Notes)
		if err != nil {
			m.ObserveSession("end", outcomeLabel(err))
			handleDomainError(w, err)
			return
		}

		m.ObserveSession("end", "ok")
		writeJSON(w, http.StatusOK, EndSessionResponse{
			DurationMinutes: appt.Session.DurationMinutes,
			Completed:       appt.Completed,
		})
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := appointmentIDFromURL(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		actorID, role, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusForbidden, "actor_required", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}

		appt, err := svc.Cancel(r.Context(), id, actorID, role)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := appointmentIDFromURL(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		actorID, role, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusForbidden, "actor_required", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}

		appt, err := svc.CompleteManually(r.Context(), id, actorID, role)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

// handleDomainError maps the coordinator's error taxonomy onto HTTP:
// conflicts 409, missing preconditions 422, not-found 404, ownership 403,
// malformed input 400, collaborator failure 502.
func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())

	case errors.Is(err, schedule.ErrInvalidDate), errors.Is(err, schedule.ErrInvalidTime):
		writeError(w, http.StatusBadRequest, "invalid_slot", err.Error())
	case errors.Is(err, session.ErrRoleCannotJoin):
		writeError(w, http.StatusBadRequest, "invalid_role", err.Error())

	case errors.Is(err, appointment.ErrNotAllowed):
		writeError(w, http.StatusForbidden, "not_allowed", err.Error())

	case errors.Is(err, appointment.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", "this slot was just taken, pick another")
	case errors.Is(err, appointment.ErrSlotBeingBooked),
		errors.Is(err, appointment.ErrAppointmentBusy),
		errors.Is(err, redisclient.ErrLockNotAcquired),
		errors.Is(err, appointment.ErrStaleState):
		writeError(w, http.StatusConflict, "concurrent_update", "operation is in progress elsewhere, please retry")
	case errors.Is(err, appointment.ErrAlreadyEnded):
		writeError(w, http.StatusConflict, "session_already_ended", err.Error())

	case errors.Is(err, appointment.ErrAlreadyCancelled):
		writeError(w, http.StatusUnprocessableEntity, "appointment_cancelled", err.Error())
	case errors.Is(err, appointment.ErrAlreadyCompleted):
		writeError(w, http.StatusUnprocessableEntity, "appointment_completed", err.Error())
	case errors.Is(err, appointment.ErrNotPaid):
		writeError(w, http.StatusUnprocessableEntity, "payment_not_completed", "payment not completed")
	case errors.Is(err, appointment.ErrNotStarted):
		writeError(w, http.StatusUnprocessableEntity, "session_not_started", err.Error())
	case errors.Is(err, appointment.ErrDoctorUnavailable):
		writeError(w, http.StatusUnprocessableEntity, "doctor_unavailable", err.Error())

	case errors.Is(err, payment.ErrPaymentNotSettled):
		writeError(w, http.StatusBadGateway, "payment_not_settled", err.Error())

	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// outcomeLabel collapses domain errors into low-cardinality metric labels.
func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, appointment.ErrSlotTaken),
		errors.Is(err, appointment.ErrSlotBeingBooked),
		errors.Is(err, appointment.ErrAppointmentBusy),
		errors.Is(err, appointment.ErrAlreadyEnded),
		errors.Is(err, appointment.ErrStaleState):
		return "conflict"
	case errors.Is(err, appointment.ErrAlreadyCancelled),
		errors.Is(err, appointment.ErrAlreadyCompleted),
		errors.Is(err, appointment.ErrNotPaid),
		errors.Is(err, appointment.ErrNotStarted),
		errors.Is(err, appointment.ErrDoctorUnavailable):
		return "precondition"
	case errors.Is(err, appointment.ErrPatientNotFound),
		errors.Is(err, appointment.ErrDoctorNotFound),
		errors.Is(err, appointment.ErrAppointmentNotFound):
		return "not_found"
	case errors.Is(err, payment.ErrPaymentNotSettled):
		return "gateway"
	default:
		return "error"
	}
}

func intQuery(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
