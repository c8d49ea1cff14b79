package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medibridge/telemed-coordinator/internal/schedule"
)

var apptColumnNames = []string{
	"id", "patient_id", "doctor_id", "slot_date", "slot_time",
	"amount", "paid", "doctor_share", "platform_share", "payment_ref",
	"cancelled", "completed",
	"room_id", "session_started", "session_ended", "session_started_at", "session_ended_at",
	"session_duration_minutes", "doctor_joined", "patient_joined", "session_notes",
	"created_at", "updated_at",
}

func apptRow(id uuid.UUID, paid bool) *pgxmock.Rows {
	now := time.Now()
	return pgxmock.NewRows(apptColumnNames).AddRow(
		id, uuid.New(), uuid.New(), time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC), "09:00",
		int64(500), paid, int64(0), int64(0), (*string)(nil),
		false, false,
		(*string)(nil), false, false, (*time.Time)(nil), (*time.Time)(nil),
		0, false, false, "",
		now, now,
	)
}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PgRepository) {
	t.Helper()

	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	return mock, NewPgRepository(mock)
}

func TestReserveSlot(t *testing.T) {
	mock, repo := newMockRepo(t)

	doctorID := uuid.New()
	apptID := uuid.New()
	slot, err := schedule.ParseSlot("10_06_2025", "09:00")
	require.NoError(t, err)

	t.Run("first insert wins", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO slot_reservations`).
			WithArgs(doctorID, pgDate(slot.Date), "09:00", apptID).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		assert.NoError(t, repo.ReserveSlot(context.Background(), doctorID, slot, apptID))
	})

	t.Run("conflicting insert affects no rows", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO slot_reservations`).
			WithArgs(doctorID, pgDate(slot.Date), "09:00", apptID).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))

		assert.ErrorIs(t, repo.ReserveSlot(context.Background(), doctorID, slot, apptID), ErrSlotTaken)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseSlotIsIdempotent(t *testing.T) {
	mock, repo := newMockRepo(t)

	doctorID := uuid.New()
	slot, err := schedule.ParseSlot("10_06_2025", "09:00")
	require.NoError(t, err)

	// Deleting an absent row is still success.
	mock.ExpectExec(`DELETE FROM slot_reservations`).
		WithArgs(doctorID, pgDate(slot.Date), "09:00").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	assert.NoError(t, repo.ReleaseSlot(context.Background(), doctorID, slot))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPaidConditionalUpdate(t *testing.T) {
	mock, repo := newMockRepo(t)

	id := uuid.New()

	t.Run("applies when unpaid", func(t *testing.T) {
		mock.ExpectQuery(`UPDATE appointments`).
			WithArgs(id, int64(400), int64(100), "pi_123").
			WillReturnRows(apptRow(id, true))

		a, err := repo.MarkPaid(context.Background(), id, 400, 100, "pi_123")
		require.NoError(t, err)
		assert.True(t, a.Paid)
	})

	t.Run("stale when the guard matches no row", func(t *testing.T) {
		mock.ExpectQuery(`UPDATE appointments`).
			WithArgs(id, int64(400), int64(100), "pi_123").
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.MarkPaid(context.Background(), id, 400, 100, "pi_123")
		assert.ErrorIs(t, err, ErrStaleState)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetRoomIDStaleWhenRoomExists(t *testing.T) {
	mock, repo := newMockRepo(t)

	id := uuid.New()
	mock.ExpectQuery(`UPDATE appointments`).
		WithArgs(id, "room_abc").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.SetRoomID(context.Background(), id, "room_abc")
	assert.ErrorIs(t, err, ErrStaleState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAppointmentByID(t *testing.T) {
	mock, repo := newMockRepo(t)

	id := uuid.New()

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT(.|\n)+FROM appointments`).
			WithArgs(id).
			WillReturnRows(apptRow(id, false))

		a, err := repo.GetAppointmentByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, id, a.ID)
		assert.Equal(t, "10_06_2025", a.SlotDate.String())
		assert.Equal(t, "09:00", a.SlotTime.String())
	})

	t.Run("missing", func(t *testing.T) {
		mock.ExpectQuery(`SELECT(.|\n)+FROM appointments`).
			WithArgs(id).
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.GetAppointmentByID(context.Background(), id)
		assert.ErrorIs(t, err, ErrAppointmentNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindMissedPinsCutoffToUTC(t *testing.T) {
	mock, repo := newMockRepo(t)

	cutoff := time.Date(2025, time.June, 10, 8, 25, 0, 0, time.UTC)
	id := uuid.New()

	// The wall-time comparison is anchored explicitly; a session TimeZone
	// setting must not move the boundary.
	mock.ExpectQuery(`AT TIME ZONE 'UTC'`).
		WithArgs(cutoff).
		WillReturnRows(apptRow(id, false))

	missed, err := repo.FindMissed(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, missed, 1)
	assert.Equal(t, id, missed[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordJoinRejectsAdmin(t *testing.T) {
	_, repo := newMockRepo(t)

	_, err := repo.RecordJoin(context.Background(), uuid.New(), RoleAdmin, time.Now())
	assert.Error(t, err)
}

func TestInsertEvent(t *testing.T) {
	mock, repo := newMockRepo(t)

	apptID := uuid.New()
	mock.ExpectExec(`INSERT INTO event_logs`).
		WithArgs("APPOINTMENT_BOOKED", &apptID, []byte(`{}`), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.InsertEvent(context.Background(), EventLog{
		EventType:     "APPOINTMENT_BOOKED",
		AppointmentID: &apptID,
		Payload:       []byte(`{}`),
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
