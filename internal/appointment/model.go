package appointment

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/medibridge/telemed-coordinator/internal/schedule"
)

// Role is an explicit actor tag supplied by the auth layer. It is never
// inferred from identity strings.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RolePatient, RoleDoctor, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID              uuid.UUID
	Name            string
	Specialty       *string
	ConsultationFee int64 // minor currency units, fixed onto the appointment at booking
	Available       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Session is the live-video sub-record of an appointment. RoomID is assigned
// at most once and never changes afterward.
type Session struct {
	RoomID          *string
	Started         bool
	Ended           bool
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationMinutes int
	DoctorJoined    bool
	PatientJoined   bool
	Notes           string
}

// Appointment is the aggregate root and permanent audit record of one
// successful booking. It is never deleted, only marked cancelled or
// completed.
type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID

	SlotDate schedule.Date
	SlotTime schedule.TimeOfDay

	Amount        int64
	Paid          bool
	DoctorShare   int64
	PlatformShare int64
	PaymentRef    *string

	Cancelled bool
	Completed bool

	Session Session

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *Appointment) Slot() schedule.Slot {
	return schedule.Slot{Date: a.SlotDate, Time: a.SlotTime}
}

// Terminal reports whether the record has reached a frozen disposition.
func (a *Appointment) Terminal() bool {
	return a.Cancelled || a.Completed
}

// OwnedBy reports whether the actor is a participant of this appointment
// under the given role. Admins own every appointment.
func (a *Appointment) OwnedBy(actorID uuid.UUID, role Role) bool {
	switch role {
	case RolePatient:
		return actorID == a.PatientID
	case RoleDoctor:
		return actorID == a.DoctorID
	case RoleAdmin:
		return true
	}
	return false
}

// SessionDuration converts a started/ended pair into whole minutes, rounding
// to nearest. Both the session-end and manual-completion paths go through
// this so duration bookkeeping is never skipped.
func SessionDuration(start, end time.Time) int {
	return int(math.Round(end.Sub(start).Seconds() / 60.0))
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
