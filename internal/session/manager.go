// Package session governs the lifecycle of the live video encounter bound
// 1:1 to a paid appointment: lazy room creation, participant joins, and the
// terminal end transition.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medibridge/telemed-coordinator/internal/appointment"
	redisclient "github.com/medibridge/telemed-coordinator/internal/redis"
)

const (
	EventRoomCreated  = "SESSION_ROOM_CREATED"
	EventJoined       = "SESSION_JOINED"
	EventSessionEnded = "SESSION_ENDED"
)

var ErrRoleCannotJoin = errors.New("role cannot join a session")

// JoinResult is what a participant needs to enter the room.
type JoinResult struct {
	RoomID     string
	Credential string
}

type Manager struct {
	repo   appointment.Repository
	locker redisclient.Locker
	minter CredentialMinter
	logger *zap.Logger
	clock  func() time.Time
}

type Option func(*Manager)

// WithClock overrides the manager clock, for tests.
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) { m.clock = fn }
}

func NewManager(repo appointment.Repository, locker redisclient.Locker, minter CredentialMinter, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		repo:   repo,
		locker: locker,
		minter: minter,
		logger: logger,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create mints the room for the appointment, doctor only. Idempotent: a
// room that already exists is returned as-is. Join-window enforcement is the
// calling surface's job, precisely so the doctor can pre-create the room
// slightly early.
func (m *Manager) Create(ctx context.Context, id, actorID uuid.UUID) (string, error) {
	var roomID string

	err := m.withAppointmentLock(ctx, id, func(lockCtx context.Context) error {
		a, err := m.repo.GetAppointmentByID(lockCtx, id)
		if err != nil {
			return err
		}
		if a.DoctorID != actorID {
			return appointment.ErrNotAllowed
		}
		if err := appointment.Gate(a, appointment.OpCreateSession); err != nil {
			return err
		}

		room, err := m.ensureRoom(lockCtx, a)
		if err != nil {
			return err
		}
		roomID = room
		return nil
	})
	if err != nil {
		return "", err
	}

	return roomID, nil
}

// Join admits a participant to the room, lazily creating it. The doctor's
// first join starts the session clock; a patient join only flags presence.
// The credential comes from the video provider collaborator before any state
// is persisted.
func (m *Manager) Join(ctx context.Context, id uuid.UUID, role appointment.Role, actorID uuid.UUID, identity string) (*JoinResult, error) {
	if role != appointment.RoleDoctor && role != appointment.RolePatient {
		return nil, ErrRoleCannotJoin
	}

	var result *JoinResult

	err := m.withAppointmentLock(ctx, id, func(lockCtx context.Context) error {
		a, err := m.repo.GetAppointmentByID(lockCtx, id)
		if err != nil {
			return err
		}
		if !a.OwnedBy(actorID, role) {
			return appointment.ErrNotAllowed
		}
		if err := appointment.Gate(a, appointment.OpJoinSession); err != nil {
			return err
		}

		roomID, err := m.ensureRoom(lockCtx, a)
		if err != nil {
			return err
		}

		credential, err := m.minter.Mint(roomID, identity, role)
		if err != nil {
			return fmt.Errorf("mint room credential: %w", err)
		}

		if _, err := m.repo.RecordJoin(lockCtx, a.ID, role, m.clock()); err != nil {
			return fmt.Errorf("record join: %w", err)
		}

		m.logEvent(lockCtx, a.ID, EventJoined, map[string]any{
			"role":     string(role),
			"actor_id": actorID.String(),
			"room_id":  roomID,
		})

		result = &JoinResult{RoomID: roomID, Credential: credential}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// End finalizes the session, doctor only. Duration is computed once here and
// the appointment completes in the same transition.
func (m *Manager) End(ctx context.Context, id, actorID uuid.UUID, notes string) (*appointment.Appointment, error) {
	var ended *appointment.Appointment

	err := m.withAppointmentLock(ctx, id, func(lockCtx context.Context) error {
		a, err := m.repo.GetAppointmentByID(lockCtx, id)
		if err != nil {
			return err
		}
		if a.DoctorID != actorID {
			return appointment.ErrNotAllowed
		}
		if err := appointment.Gate(a, appointment.OpEndSession); err != nil {
			return err
		}

		endedAt := m.clock()
		duration := appointment.SessionDuration(*a.Session.StartedAt, endedAt)

		updated, err := m.repo.CloseSession(lockCtx, a.ID, endedAt, duration, notes)
		if err != nil {
			return fmt.Errorf("close session: %w", err)
		}
		ended = updated

		m.logEvent(lockCtx, a.ID, EventSessionEnded, map[string]any{
			"duration_minutes": duration,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return ended, nil
}

// ensureRoom returns the appointment's room, minting and persisting a new
// id only on first use. Runs under the per-appointment lock.
func (m *Manager) ensureRoom(ctx context.Context, a *appointment.Appointment) (string, error) {
	if a.Session.RoomID != nil {
		return *a.Session.RoomID, nil
	}

	roomID := fmt.Sprintf("room_%s", uuid.NewString())

	updated, err := m.repo.SetRoomID(ctx, a.ID, roomID)
	if err != nil {
		return "", fmt.Errorf("assign room: %w", err)
	}
	*a = *updated

	m.logEvent(ctx, a.ID, EventRoomCreated, map[string]any{
		"room_id": roomID,
	})

	return roomID, nil
}

func (m *Manager) withAppointmentLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context) error) error {
	err := m.locker.WithLock(ctx, redisclient.AppointmentKey(id), fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return appointment.ErrAppointmentBusy
	}
	return err
}

func (m *Manager) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error("marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := appointment.EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
	}

	if err := m.repo.InsertEvent(ctx, ev); err != nil {
		m.logger.Error("insert event log",
			zap.String("event_type", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err))
	}
}
