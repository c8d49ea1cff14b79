package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/medibridge/telemed-coordinator/internal/appointment"
)

type BookAppointmentRequest struct {
	PatientID string `json:"patient_id"`
	DoctorID  string `json:"doctor_id"`
	SlotDate  string `json:"slot_date"`
	SlotTime  string `json:"slot_time"`
}

type ConfirmPaymentRequest struct {
	PaymentRef string `json:"payment_ref"`
}

type JoinSessionRequest struct {
	Identity string `json:"identity"`
}

type EndSessionRequest struct {
	Notes string `json:"notes"`
}

type SessionView struct {
	RoomID          *string    `json:"room_id,omitempty"`
	Started         bool       `json:"started"`
	Ended           bool       `json:"ended"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	DoctorJoined    bool       `json:"doctor_joined"`
	PatientJoined   bool       `json:"patient_joined"`
	Notes           string     `json:"notes,omitempty"`
}

type AppointmentResponse struct {
	ID            uuid.UUID   `json:"id"`
	PatientID     uuid.UUID   `json:"patient_id"`
	DoctorID      uuid.UUID   `json:"doctor_id"`
	SlotDate      string      `json:"slot_date"`
	SlotTime      string      `json:"slot_time"`
	Amount        int64       `json:"amount"`
	Paid          bool        `json:"paid"`
	DoctorShare   int64       `json:"doctor_share"`
	PlatformShare int64       `json:"platform_share"`
	Cancelled     bool        `json:"cancelled"`
	Completed     bool        `json:"completed"`
	Session       SessionView `json:"session"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

func newAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:            a.ID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		SlotDate:      a.SlotDate.String(),
		SlotTime:      a.SlotTime.String(),
		Amount:        a.Amount,
		Paid:          a.Paid,
		DoctorShare:   a.DoctorShare,
		PlatformShare: a.PlatformShare,
		Cancelled:     a.Cancelled,
		Completed:     a.Completed,
		Session: SessionView{
			RoomID:          a.Session.RoomID,
			Started:         a.Session.Started,
			Ended:           a.Session.Ended,
			StartedAt:       a.Session.StartedAt,
			EndedAt:         a.Session.EndedAt,
			DurationMinutes: a.Session.DurationMinutes,
			DoctorJoined:    a.Session.DoctorJoined,
			PatientJoined:   a.Session.PatientJoined,
			Notes:           a.Session.Notes,
		},
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

type StatusResponse struct {
	Appointment          AppointmentResponse `json:"appointment"`
	JoinState            string              `json:"join_state"`
	Joinable             bool                `json:"joinable"`
	TimeRemainingSeconds int64               `json:"time_remaining_seconds"`
}

type CreateSessionResponse struct {
	RoomID string `json:"room_id"`
}

type JoinSessionResponse struct {
	RoomID     string `json:"room_id"`
	Credential string `json:"credential"`
}

type EndSessionResponse struct {
	DurationMinutes int  `json:"duration_minutes"`
	Completed       bool `json:"completed"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
