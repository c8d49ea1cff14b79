package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/medibridge/telemed-coordinator/internal/schedule"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotTaken means the (doctor, date, time) triple is already reserved
	// by a non-cancelled appointment.
	ErrSlotTaken = errors.New("slot already reserved")

	// ErrStaleState means a conditional update matched no row: the snapshot
	// the caller gated on changed underneath it.
	ErrStaleState = errors.New("appointment changed concurrently")
)

// Repository contains all DB interactions needed by the coordinator
// services. Every mutating method is a conditional update so a transition
// can never be applied twice even if a caller's lock was lost.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)

	// Slot ledger. ReserveSlot is a single atomic compare-and-set: exactly
	// one concurrent caller for the same triple succeeds, the rest get
	// ErrSlotTaken. ReleaseSlot is idempotent.
	ReserveSlot(ctx context.Context, doctorID uuid.UUID, slot schedule.Slot, appointmentID uuid.UUID) error
	ReleaseSlot(ctx context.Context, doctorID uuid.UUID, slot schedule.Slot) error

	// Payment. Applies the fee split exactly once (guarded on paid = false).
	MarkPaid(ctx context.Context, id uuid.UUID, doctorShare, platformShare int64, paymentRef string) (*Appointment, error)

	// Session bookkeeping.
	SetRoomID(ctx context.Context, id uuid.UUID, roomID string) (*Appointment, error)
	RecordJoin(ctx context.Context, id uuid.UUID, role Role, now time.Time) (*Appointment, error)
	CloseSession(ctx context.Context, id uuid.UUID, endedAt time.Time, durationMinutes int, notes string) (*Appointment, error)

	// Terminal transitions.
	MarkCancelled(ctx context.Context, id uuid.UUID) (*Appointment, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// No-show sweeper.
	FindMissed(ctx context.Context, startedBefore time.Time) ([]Appointment, error)
	MarkMissedLogged(ctx context.Context, id uuid.UUID) error

	// Read views.
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error)

	// Event logging.
	InsertEvent(ctx context.Context, ev EventLog) error
}
