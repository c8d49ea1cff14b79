// Package apptest provides in-memory doubles for the coordinator's storage
// and locking collaborators, mirroring the Postgres repository's conditional
// update semantics so service tests exercise the same stale-state paths.
package apptest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medibridge/telemed-coordinator/internal/appointment"
	"github.com/medibridge/telemed-coordinator/internal/schedule"
)

// NoopLocker runs the critical section without any locking. Repository-level
// compare-and-set behavior stays in force, which is exactly the second line
// of defense the services rely on.
type NoopLocker struct{}

func (NoopLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// MemoryRepo implements appointment.Repository against process memory. All
// mutating methods apply the same guards as the SQL statements they stand in
// for and return appointment.ErrStaleState when a guard fails.
type MemoryRepo struct {
	mu sync.Mutex

	patients     map[uuid.UUID]appointment.Patient
	doctors      map[uuid.UUID]appointment.Doctor
	appointments map[uuid.UUID]*appointment.Appointment
	reservations map[string]uuid.UUID
	missedLogged map[uuid.UUID]bool
	events       []appointment.EventLog
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		patients:     make(map[uuid.UUID]appointment.Patient),
		doctors:      make(map[uuid.UUID]appointment.Doctor),
		appointments: make(map[uuid.UUID]*appointment.Appointment),
		reservations: make(map[string]uuid.UUID),
		missedLogged: make(map[uuid.UUID]bool),
	}
}

func (m *MemoryRepo) AddPatient(p appointment.Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = p
}

func (m *MemoryRepo) AddDoctor(d appointment.Doctor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[d.ID] = d
}

// Put inserts an appointment snapshot directly, for tests that need to start
// from a mid-lifecycle state.
func (m *MemoryRepo) Put(a *appointment.Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *a
	m.appointments[a.ID] = &clone
}

// Events returns a copy of the recorded event log.
func (m *MemoryRepo) Events() []appointment.EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]appointment.EventLog, len(m.events))
	copy(out, m.events)
	return out
}

// ReservationCount reports how many ledger rows currently exist.
func (m *MemoryRepo) ReservationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reservations)
}

func slotKey(doctorID uuid.UUID, slot schedule.Slot) string {
	return fmt.Sprintf("%s|%s|%s", doctorID, slot.Date, slot.Time)
}

func (m *MemoryRepo) GetPatientByID(ctx context.Context, id uuid.UUID) (*appointment.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, appointment.ErrPatientNotFound
	}
	return &p, nil
}

func (m *MemoryRepo) GetDoctorByID(ctx context.Context, id uuid.UUID) (*appointment.Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, appointment.ErrDoctorNotFound
	}
	return &d, nil
}

func (m *MemoryRepo) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	clone := *a
	return &clone, nil
}

func (m *MemoryRepo) CreateAppointment(ctx context.Context, a *appointment.Appointment) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *a
	if clone.ID == uuid.Nil {
		clone.ID = uuid.New()
	}
	now := time.Now()
	clone.CreatedAt = now
	clone.UpdatedAt = now

	m.appointments[clone.ID] = &clone
	out := clone
	return &out, nil
}

func (m *MemoryRepo) ReserveSlot(ctx context.Context, doctorID uuid.UUID, slot schedule.Slot, appointmentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := slotKey(doctorID, slot)
	if _, taken := m.reservations[key]; taken {
		return appointment.ErrSlotTaken
	}
	m.reservations[key] = appointmentID
	return nil
}

func (m *MemoryRepo) ReleaseSlot(ctx context.Context, doctorID uuid.UUID, slot schedule.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reservations, slotKey(doctorID, slot))
	return nil
}

func (m *MemoryRepo) MarkPaid(ctx context.Context, id uuid.UUID, doctorShare, platformShare int64, paymentRef string) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.Paid || a.Cancelled || a.Completed {
		return nil, appointment.ErrStaleState
	}

	a.Paid = true
	a.DoctorShare = doctorShare
	a.PlatformShare = platformShare
	if paymentRef != "" {
		ref := paymentRef
		a.PaymentRef = &ref
	}
	a.UpdatedAt = time.Now()

	clone := *a
	return &clone, nil
}

func (m *MemoryRepo) SetRoomID(ctx context.Context, id uuid.UUID, roomID string) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.Session.RoomID != nil || a.Cancelled || a.Completed {
		return nil, appointment.ErrStaleState
	}

	room := roomID
	a.Session.RoomID = &room
	a.UpdatedAt = time.Now()

	clone := *a
	return &clone, nil
}

func (m *MemoryRepo) RecordJoin(ctx context.Context, id uuid.UUID, role appointment.Role, now time.Time) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.Cancelled || a.Completed {
		return nil, appointment.ErrStaleState
	}

	switch role {
	case appointment.RoleDoctor:
		a.Session.DoctorJoined = true
		a.Session.Started = true
		if a.Session.StartedAt == nil {
			t := now
			a.Session.StartedAt = &t
		}
	case appointment.RolePatient:
		a.Session.PatientJoined = true
	default:
		return nil, fmt.Errorf("record join: role %q cannot join", role)
	}
	a.UpdatedAt = time.Now()

	clone := *a
	return &clone, nil
}

func (m *MemoryRepo) CloseSession(ctx context.Context, id uuid.UUID, endedAt time.Time, durationMinutes int, notes string) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || !a.Session.Started || a.Session.Ended || a.Cancelled || a.Completed {
		return nil, appointment.ErrStaleState
	}

	t := endedAt
	a.Session.Ended = true
	a.Session.EndedAt = &t
	a.Session.DurationMinutes = durationMinutes
	if notes != "" {
		a.Session.Notes = notes
	}
	a.Completed = true
	a.UpdatedAt = time.Now()

	clone := *a
	return &clone, nil
}

func (m *MemoryRepo) MarkCancelled(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.Cancelled || a.Completed {
		return nil, appointment.ErrStaleState
	}

	a.Cancelled = true
	a.UpdatedAt = time.Now()

	delete(m.reservations, slotKey(a.DoctorID, a.Slot()))

	clone := *a
	return &clone, nil
}

func (m *MemoryRepo) MarkCompleted(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.Cancelled || a.Completed {
		return nil, appointment.ErrStaleState
	}

	a.Completed = true
	a.UpdatedAt = time.Now()

	clone := *a
	return &clone, nil
}

func (m *MemoryRepo) FindMissed(ctx context.Context, startedBefore time.Time) ([]appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []appointment.Appointment
	for _, a := range m.appointments {
		if a.Cancelled || a.Completed || a.Session.Started || m.missedLogged[a.ID] {
			continue
		}
		if a.Slot().StartAt(time.UTC).Before(startedBefore) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *MemoryRepo) MarkMissedLogged(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.appointments[id]; !ok {
		return appointment.ErrAppointmentNotFound
	}
	m.missedLogged[id] = true
	return nil
}

func (m *MemoryRepo) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error) {
	return m.listBy(func(a *appointment.Appointment) bool { return a.PatientID == patientID }, limit, offset)
}

func (m *MemoryRepo) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]appointment.Appointment, error) {
	return m.listBy(func(a *appointment.Appointment) bool { return a.DoctorID == doctorID }, limit, offset)
}

func (m *MemoryRepo) listBy(match func(*appointment.Appointment) bool, limit, offset int) ([]appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []appointment.Appointment
	for _, a := range m.appointments {
		if match(a) {
			all = append(all, *a)
		}
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryRepo) InsertEvent(ctx context.Context, ev appointment.EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}
