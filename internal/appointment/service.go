package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medibridge/telemed-coordinator/internal/config"
	redisclient "github.com/medibridge/telemed-coordinator/internal/redis"
	"github.com/medibridge/telemed-coordinator/internal/schedule"
)

const (
	EventBooked            = "APPOINTMENT_BOOKED"
	EventCancelled         = "APPOINTMENT_CANCELLED"
	EventCompletedManually = "APPOINTMENT_COMPLETED_MANUALLY"
	EventMissed            = "APPOINTMENT_MISSED"
)

var (
	ErrDoctorUnavailable = errors.New("doctor is not accepting appointments")
	ErrSlotBeingBooked   = errors.New("slot is currently being booked, please retry")
	ErrAppointmentBusy   = errors.New("appointment is being modified, please retry")
	ErrNotAllowed        = errors.New("actor is not a participant of this appointment")
)

// Service coordinates booking, cancellation, manual completion, and status
// reads. Payment and session lifecycles live in their own packages but share
// this package's repository and gatekeeper.
type Service struct {
	repo   Repository
	locker redisclient.Locker
	cfg    config.Config
	logger *zap.Logger
	clock  func() time.Time
	loc    *time.Location
}

type Option func(*Service)

// WithClock overrides the service clock, for tests.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.clock = fn }
}

// WithLocation sets the clinic calendar used to resolve slots to instants.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		logger: logger,
		clock:  time.Now,
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Book reserves the slot for the patient and creates the appointment record.
// The fee is fixed from the doctor's fee schedule at this moment. A redis
// lock serializes bookings per slot triple, and the ledger insert underneath
// is itself a compare-and-set, so exactly one concurrent caller wins.
func (s *Service) Book(ctx context.Context, patientID, doctorID uuid.UUID, slotDate, slotTime string) (*Appointment, error) {
	slot, err := schedule.ParseSlot(slotDate, slotTime)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !doctor.Available {
		return nil, ErrDoctorUnavailable
	}

	var created *Appointment

	key := redisclient.SlotKey(doctorID, slot.Date.String(), slot.Time.String())
	err = s.locker.WithLock(ctx, key, func(lockCtx context.Context) error {
		apptID := uuid.New()

		if err := s.repo.ReserveSlot(lockCtx, doctorID, slot, apptID); err != nil {
			return err
		}

		appt, err := s.repo.CreateAppointment(lockCtx, &Appointment{
			ID:        apptID,
			PatientID: patientID,
			DoctorID:  doctorID,
			SlotDate:  slot.Date,
			SlotTime:  slot.Time,
			Amount:    doctor.ConsultationFee,
		})
		if err != nil {
			// The reservation must not outlive a failed insert.
			if relErr := s.repo.ReleaseSlot(lockCtx, doctorID, slot); relErr != nil {
				s.logger.Error("release slot after failed create",
					zap.String("doctor_id", doctorID.String()),
					zap.Error(relErr))
			}
			return fmt.Errorf("create appointment: %w", err)
		}

		created = appt

		s.logEvent(lockCtx, appt.ID, EventBooked, map[string]any{
			"patient_id": patientID.String(),
			"doctor_id":  doctorID.String(),
			"slot_date":  slot.Date.String(),
			"slot_time":  slot.Time.String(),
			"amount":     appt.Amount,
		})

		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	return created, nil
}

// Cancel marks the appointment cancelled and frees its slot. Allowed for the
// owning patient, the owning doctor, and platform admins.
func (s *Service) Cancel(ctx context.Context, id, actorID uuid.UUID, role Role) (*Appointment, error) {
	var cancelled *Appointment

	err := s.withAppointmentLock(ctx, id, func(lockCtx context.Context) error {
		a, err := s.repo.GetAppointmentByID(lockCtx, id)
		if err != nil {
			return err
		}
		if !a.OwnedBy(actorID, role) {
			return ErrNotAllowed
		}
		if err := Gate(a, OpCancel); err != nil {
			return err
		}

		updated, err := s.repo.MarkCancelled(lockCtx, a.ID)
		if err != nil {
			return fmt.Errorf("cancel appointment: %w", err)
		}
		cancelled = updated

		s.logEvent(lockCtx, a.ID, EventCancelled, map[string]any{
			"actor_id":   actorID.String(),
			"actor_role": string(role),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return cancelled, nil
}

// CompleteManually concludes the encounter without a formal end-session
// call; either participant may do it. A session that was started but never
// ended is closed out first so duration bookkeeping is never skipped.
func (s *Service) CompleteManually(ctx context.Context, id, actorID uuid.UUID, role Role) (*Appointment, error) {
	var completed *Appointment

	err := s.withAppointmentLock(ctx, id, func(lockCtx context.Context) error {
		a, err := s.repo.GetAppointmentByID(lockCtx, id)
		if err != nil {
			return err
		}
		if !a.OwnedBy(actorID, role) {
			return ErrNotAllowed
		}
		if err := Gate(a, OpComplete); err != nil {
			return err
		}

		var updated *Appointment
		if a.Session.Started && !a.Session.Ended {
			endedAt := s.clock()
			duration := SessionDuration(*a.Session.StartedAt, endedAt)
			updated, err = s.repo.CloseSession(lockCtx, a.ID, endedAt, duration, "")
		} else {
			updated, err = s.repo.MarkCompleted(lockCtx, a.ID)
		}
		if err != nil {
			return fmt.Errorf("complete appointment: %w", err)
		}
		completed = updated

		s.logEvent(lockCtx, a.ID, EventCompletedManually, map[string]any{
			"actor_id":   actorID.String(),
			"actor_role": string(role),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return completed, nil
}

// Status is the full snapshot plus the display-only join window computation.
// Mutating operations re-derive their own guards; this never gates anything.
type Status struct {
	Appointment   *Appointment
	JoinState     schedule.JoinState
	Joinable      bool
	TimeRemaining time.Duration
}

func (s *Service) Status(ctx context.Context, id uuid.UUID) (*Status, error) {
	a, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	window := schedule.Window{Length: s.cfg.JoinWindow}
	state, remaining := window.Evaluate(a.Slot().StartAt(s.loc), s.clock())

	return &Status{
		Appointment:   a,
		JoinState:     state,
		Joinable:      state == schedule.JoinOpen && a.Paid && !a.Terminal(),
		TimeRemaining: remaining,
	}, nil
}

// MarkMissedAppointments records an audit event for appointments whose join
// window elapsed without a session. Display freshness only: the window check
// on reads stays authoritative, and nothing here cancels or completes.
func (s *Service) MarkMissedAppointments(ctx context.Context) error {
	cutoff := s.clock().Add(-s.cfg.JoinWindow)

	missed, err := s.repo.FindMissed(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("find missed appointments: %w", err)
	}

	for _, a := range missed {
		s.logEvent(ctx, a.ID, EventMissed, map[string]any{
			"slot_date": a.SlotDate.String(),
			"slot_time": a.SlotTime.String(),
			"paid":      a.Paid,
		})
		if err := s.repo.MarkMissedLogged(ctx, a.ID); err != nil {
			s.logger.Error("mark missed logged", zap.String("appointment_id", a.ID.String()), zap.Error(err))
			continue
		}
	}

	if len(missed) > 0 {
		s.logger.Info("missed appointments recorded", zap.Int("count", len(missed)))
	}
	return nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	appts, err := s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appts, nil
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	appts, err := s.repo.ListAppointmentsByDoctor(ctx, doctorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return appts, nil
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

func (s *Service) withAppointmentLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context) error) error {
	err := s.locker.WithLock(ctx, redisclient.AppointmentKey(id), fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrAppointmentBusy
	}
	return err
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.clock(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error("insert event log",
			zap.String("event_type", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err))
	}
}
