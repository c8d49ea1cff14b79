package appointment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/medibridge/telemed-coordinator/internal/appointment"
	"github.com/medibridge/telemed-coordinator/internal/appointment/apptest"
	"github.com/medibridge/telemed-coordinator/internal/config"
	"github.com/medibridge/telemed-coordinator/internal/schedule"
)

var fixedNow = time.Date(2025, time.June, 10, 9, 10, 0, 0, time.UTC)

type fixture struct {
	repo    *apptest.MemoryRepo
	svc     *appointment.Service
	patient appointment.Patient
	doctor  appointment.Doctor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := apptest.NewMemoryRepo()

	patient := appointment.Patient{ID: uuid.New(), Name: "Asha Rao"}
	doctor := appointment.Doctor{ID: uuid.New(), Name: "Dr. Mehta", ConsultationFee: 500, Available: true}
	repo.AddPatient(patient)
	repo.AddDoctor(doctor)

	cfg := config.Config{JoinWindow: 45 * time.Minute, PlatformFeePercent: 20}
	svc := appointment.NewService(repo, apptest.NoopLocker{}, cfg, zap.NewNop(),
		appointment.WithClock(func() time.Time { return fixedNow }),
		appointment.WithLocation(time.UTC),
	)

	return &fixture{repo: repo, svc: svc, patient: patient, doctor: doctor}
}

func (f *fixture) book(t *testing.T, date, timeLabel string) *appointment.Appointment {
	t.Helper()
	a, err := f.svc.Book(context.Background(), f.patient.ID, f.doctor.ID, date, timeLabel)
	require.NoError(t, err)
	return a
}

func TestBook(t *testing.T) {
	f := newFixture(t)

	a := f.book(t, "10_06_2025", "09:00")

	assert.Equal(t, f.patient.ID, a.PatientID)
	assert.Equal(t, f.doctor.ID, a.DoctorID)
	assert.Equal(t, "10_06_2025", a.SlotDate.String())
	assert.Equal(t, "09:00", a.SlotTime.String())
	assert.Equal(t, int64(500), a.Amount, "fee fixed from the doctor's schedule at booking")
	assert.False(t, a.Paid)
	assert.False(t, a.Terminal())

	assert.Equal(t, 1, f.repo.ReservationCount())

	events := f.repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, appointment.EventBooked, events[0].EventType)
}

func TestBookRejectsInvalidSlot(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Book(context.Background(), f.patient.ID, f.doctor.ID, "31_02_2025", "09:00")
	assert.ErrorIs(t, err, schedule.ErrInvalidDate)

	_, err = f.svc.Book(context.Background(), f.patient.ID, f.doctor.ID, "10_06_2025", "25:61")
	assert.ErrorIs(t, err, schedule.ErrInvalidTime)

	assert.Equal(t, 0, f.repo.ReservationCount(), "invalid input must not touch the ledger")
}

func TestBookUnknownParticipants(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Book(context.Background(), uuid.New(), f.doctor.ID, "10_06_2025", "09:00")
	assert.ErrorIs(t, err, appointment.ErrPatientNotFound)

	_, err = f.svc.Book(context.Background(), f.patient.ID, uuid.New(), "10_06_2025", "09:00")
	assert.ErrorIs(t, err, appointment.ErrDoctorNotFound)
}

func TestBookUnavailableDoctor(t *testing.T) {
	f := newFixture(t)

	off := appointment.Doctor{ID: uuid.New(), Name: "Dr. Away", ConsultationFee: 700, Available: false}
	f.repo.AddDoctor(off)

	_, err := f.svc.Book(context.Background(), f.patient.ID, off.ID, "10_06_2025", "09:00")
	assert.ErrorIs(t, err, appointment.ErrDoctorUnavailable)
}

func TestBookTakenSlot(t *testing.T) {
	f := newFixture(t)

	f.book(t, "10_06_2025", "09:00")

	other := appointment.Patient{ID: uuid.New(), Name: "Vikram Shah"}
	f.repo.AddPatient(other)

	_, err := f.svc.Book(context.Background(), other.ID, f.doctor.ID, "10_06_2025", "09:00")
	assert.ErrorIs(t, err, appointment.ErrSlotTaken)

	// Equivalent time spellings collide on the same ledger key.
	_, err = f.svc.Book(context.Background(), other.ID, f.doctor.ID, "10_06_2025", "09:00 am")
	assert.ErrorIs(t, err, appointment.ErrSlotTaken)

	// A different slot or doctor does not.
	_, err = f.svc.Book(context.Background(), other.ID, f.doctor.ID, "10_06_2025", "09:30")
	assert.NoError(t, err)
}

func TestBookConcurrentExactlyOneWins(t *testing.T) {
	f := newFixture(t)

	const attempts = 32

	patients := make([]uuid.UUID, attempts)
	for i := range patients {
		p := appointment.Patient{ID: uuid.New(), Name: "Patient"}
		f.repo.AddPatient(p)
		patients[i] = p.ID
	}

	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.Book(context.Background(), patients[i], f.doctor.ID, "10_06_2025", "09:00")
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, appointment.ErrSlotTaken):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, attempts-1, conflicts)
	assert.Equal(t, 1, f.repo.ReservationCount())
}

func TestCancelFreesSlotForRebooking(t *testing.T) {
	f := newFixture(t)

	a := f.book(t, "10_06_2025", "09:00")

	cancelled, err := f.svc.Cancel(context.Background(), a.ID, f.patient.ID, appointment.RolePatient)
	require.NoError(t, err)
	assert.True(t, cancelled.Cancelled)
	assert.False(t, cancelled.Completed)
	assert.Equal(t, 0, f.repo.ReservationCount())

	// The slot is free again; the cancelled record remains for audit.
	rebooked := f.book(t, "10_06_2025", "09:00")
	assert.NotEqual(t, a.ID, rebooked.ID)

	stored, err := f.repo.GetAppointmentByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, stored.Cancelled)
}

func TestCancelOwnership(t *testing.T) {
	f := newFixture(t)

	a := f.book(t, "10_06_2025", "09:00")

	stranger := uuid.New()
	_, err := f.svc.Cancel(context.Background(), a.ID, stranger, appointment.RolePatient)
	assert.ErrorIs(t, err, appointment.ErrNotAllowed)

	// A doctor id presented under the patient role does not own it either.
	_, err = f.svc.Cancel(context.Background(), a.ID, f.doctor.ID, appointment.RolePatient)
	assert.ErrorIs(t, err, appointment.ErrNotAllowed)

	_, err = f.svc.Cancel(context.Background(), a.ID, f.doctor.ID, appointment.RoleDoctor)
	assert.NoError(t, err)
}

func TestCancelAdminActsOnAnyAppointment(t *testing.T) {
	f := newFixture(t)

	a := f.book(t, "10_06_2025", "09:00")

	_, err := f.svc.Cancel(context.Background(), a.ID, uuid.New(), appointment.RoleAdmin)
	assert.NoError(t, err)
}

func TestCancelIsTerminal(t *testing.T) {
	f := newFixture(t)

	a := f.book(t, "10_06_2025", "09:00")

	_, err := f.svc.Cancel(context.Background(), a.ID, f.patient.ID, appointment.RolePatient)
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), a.ID, f.patient.ID, appointment.RolePatient)
	assert.ErrorIs(t, err, appointment.ErrAlreadyCancelled)

	_, err = f.svc.CompleteManually(context.Background(), a.ID, f.patient.ID, appointment.RolePatient)
	assert.ErrorIs(t, err, appointment.ErrAlreadyCancelled)
}

func TestCompleteManually(t *testing.T) {
	f := newFixture(t)

	a := f.book(t, "10_06_2025", "09:00")

	completed, err := f.svc.CompleteManually(context.Background(), a.ID, f.doctor.ID, appointment.RoleDoctor)
	require.NoError(t, err)
	assert.True(t, completed.Completed)
	assert.False(t, completed.Cancelled)

	_, err = f.svc.Cancel(context.Background(), a.ID, f.patient.ID, appointment.RolePatient)
	assert.ErrorIs(t, err, appointment.ErrAlreadyCompleted)
}

func TestCompleteManuallyClosesRunningSession(t *testing.T) {
	f := newFixture(t)

	a := f.book(t, "10_06_2025", "09:00")
	_, err := f.repo.MarkPaid(context.Background(), a.ID, 400, 100, "pi_1")
	require.NoError(t, err)
	startedAt := fixedNow.Add(-25 * time.Minute)
	_, err = f.repo.RecordJoin(context.Background(), a.ID, appointment.RoleDoctor, startedAt)
	require.NoError(t, err)

	completed, err := f.svc.CompleteManually(context.Background(), a.ID, f.patient.ID, appointment.RolePatient)
	require.NoError(t, err)

	assert.True(t, completed.Completed)
	assert.True(t, completed.Session.Ended)
	assert.Equal(t, 25, completed.Session.DurationMinutes)
	require.NotNil(t, completed.Session.EndedAt)
	assert.Equal(t, fixedNow, *completed.Session.EndedAt)
}

func TestStatusJoinability(t *testing.T) {
	f := newFixture(t)

	// Slot at 09:00, clock at 09:10: inside the window.
	a := f.book(t, "10_06_2025", "09:00")

	st, err := f.svc.Status(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.JoinOpen, st.JoinState)
	assert.False(t, st.Joinable, "unpaid appointments are never joinable")

	_, err = f.repo.MarkPaid(context.Background(), a.ID, 400, 100, "pi_1")
	require.NoError(t, err)

	st, err = f.svc.Status(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, st.Joinable)
	assert.Equal(t, 35*time.Minute, st.TimeRemaining)
}

func TestStatusOutsideWindow(t *testing.T) {
	f := newFixture(t)

	a := f.book(t, "10_06_2025", "11:00")
	_, err := f.repo.MarkPaid(context.Background(), a.ID, 400, 100, "pi_1")
	require.NoError(t, err)

	st, err := f.svc.Status(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.JoinTooEarly, st.JoinState)
	assert.False(t, st.Joinable)
	assert.Equal(t, 110*time.Minute, st.TimeRemaining)

	late := f.book(t, "10_06_2025", "08:00")
	_, err = f.repo.MarkPaid(context.Background(), late.ID, 400, 100, "pi_2")
	require.NoError(t, err)

	st, err = f.svc.Status(context.Background(), late.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.JoinMissed, st.JoinState)
	assert.False(t, st.Joinable)
}

func TestStatusWindowUsesClinicCalendar(t *testing.T) {
	repo := apptest.NewMemoryRepo()

	patient := appointment.Patient{ID: uuid.New(), Name: "Asha Rao"}
	doctor := appointment.Doctor{ID: uuid.New(), Name: "Dr. Mehta", ConsultationFee: 500, Available: true}
	repo.AddPatient(patient)
	repo.AddDoctor(doctor)

	// Slot just past midnight in the clinic's calendar, clock reporting the
	// in-window instant in UTC where it is still the previous day.
	ist := time.FixedZone("IST", 5*3600+30*60)
	slotStart := time.Date(2025, time.June, 10, 0, 15, 0, 0, ist)
	now := slotStart.Add(10 * time.Minute).UTC()

	cfg := config.Config{JoinWindow: 45 * time.Minute, PlatformFeePercent: 20}
	svc := appointment.NewService(repo, apptest.NoopLocker{}, cfg, zap.NewNop(),
		appointment.WithClock(func() time.Time { return now }),
		appointment.WithLocation(ist),
	)

	a, err := svc.Book(context.Background(), patient.ID, doctor.ID, "10_06_2025", "00:15")
	require.NoError(t, err)
	_, err = repo.MarkPaid(context.Background(), a.ID, 400, 100, "pi_1")
	require.NoError(t, err)

	st, err := svc.Status(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.JoinOpen, st.JoinState)
	assert.True(t, st.Joinable)
	assert.Equal(t, 35*time.Minute, st.TimeRemaining)
}

func TestStatusCancelledNeverJoinable(t *testing.T) {
	f := newFixture(t)

	a := f.book(t, "10_06_2025", "09:00")
	_, err := f.repo.MarkPaid(context.Background(), a.ID, 400, 100, "pi_1")
	require.NoError(t, err)
	_, err = f.svc.Cancel(context.Background(), a.ID, f.patient.ID, appointment.RolePatient)
	require.NoError(t, err)

	st, err := f.svc.Status(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, st.Joinable)
}

func TestMarkMissedAppointmentsLogsOnce(t *testing.T) {
	f := newFixture(t)

	// Window elapsed (08:00 + 45m < 09:10), no session started.
	f.book(t, "10_06_2025", "08:00")

	require.NoError(t, f.svc.MarkMissedAppointments(context.Background()))

	var missedEvents int
	for _, ev := range f.repo.Events() {
		if ev.EventType == appointment.EventMissed {
			missedEvents++
		}
	}
	assert.Equal(t, 1, missedEvents)

	// The sweep is idempotent across runs.
	require.NoError(t, f.svc.MarkMissedAppointments(context.Background()))
	missedEvents = 0
	for _, ev := range f.repo.Events() {
		if ev.EventType == appointment.EventMissed {
			missedEvents++
		}
	}
	assert.Equal(t, 1, missedEvents)
}

func TestListByPatientAndDoctor(t *testing.T) {
	f := newFixture(t)

	f.book(t, "10_06_2025", "09:00")
	f.book(t, "10_06_2025", "10:00")

	byPatient, err := f.svc.ListByPatient(context.Background(), f.patient.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, byPatient, 2)

	byDoctor, err := f.svc.ListByDoctor(context.Background(), f.doctor.ID, 1, 0)
	require.NoError(t, err)
	assert.Len(t, byDoctor, 1)

	none, err := f.svc.ListByPatient(context.Background(), uuid.New(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
