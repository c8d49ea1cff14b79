package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medibridge/telemed-coordinator/internal/schedule"
)

// DB is the narrow pgx surface the repository needs. *pgxpool.Pool satisfies
// it, and so does pgxmock in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

const apptColumns = `
	id, patient_id, doctor_id, slot_date, slot_time,
	amount, paid, doctor_share, platform_share, payment_ref,
	cancelled, completed,
	room_id, session_started, session_ended, session_started_at, session_ended_at,
	session_duration_minutes, doctor_joined, patient_joined, session_notes,
	created_at, updated_at`

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string

	err := row.Scan(
		&d.ID,
		&d.Name,
		&specialty,
		&d.ConsultationFee,
		&d.Available,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Specialty = specialty
	return &d, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var slotDate time.Time
	var slotTime string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&slotDate,
		&slotTime,
		&a.Amount,
		&a.Paid,
		&a.DoctorShare,
		&a.PlatformShare,
		&a.PaymentRef,
		&a.Cancelled,
		&a.Completed,
		&a.Session.RoomID,
		&a.Session.Started,
		&a.Session.Ended,
		&a.Session.StartedAt,
		&a.Session.EndedAt,
		&a.Session.DurationMinutes,
		&a.Session.DoctorJoined,
		&a.Session.PatientJoined,
		&a.Session.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.SlotDate = schedule.Date{Day: slotDate.Day(), Month: int(slotDate.Month()), Year: slotDate.Year()}
	tod, err := schedule.ParseTimeOfDay(slotTime)
	if err != nil {
		return nil, fmt.Errorf("stored slot_time %q: %w", slotTime, err)
	}
	a.SlotTime = tod

	return &a, nil
}

// scanCAS interprets a conditional UPDATE's RETURNING row. Callers load and
// gate the appointment under the per-appointment lock first, so a missing
// row means the snapshot went stale, not that the record vanished.
func scanCAS(row pgx.Row) (*Appointment, error) {
	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrStaleState
	}
	return a, err
}

func pgDate(d schedule.Date) time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, specialty, consultation_fee, available, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (
			id, patient_id, doctor_id, slot_date, slot_time, amount,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING `+apptColumns+`
	`, id, a.PatientID, a.DoctorID, pgDate(a.SlotDate), a.SlotTime.String(), a.Amount)

	return scanAppointment(row)
}

// ReserveSlot is the slot ledger's compare-and-set. The primary key on
// (doctor_id, slot_date, slot_time) makes the database arbitrate races:
// exactly one concurrent insert wins.
func (r *PgRepository) ReserveSlot(ctx context.Context, doctorID uuid.UUID, slot schedule.Slot, appointmentID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO slot_reservations (doctor_id, slot_date, slot_time, appointment_id, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (doctor_id, slot_date, slot_time) DO NOTHING
	`, doctorID, pgDate(slot.Date), slot.Time.String(), appointmentID)
	if err != nil {
		return fmt.Errorf("reserve slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotTaken
	}
	return nil
}

func (r *PgRepository) ReleaseSlot(ctx context.Context, doctorID uuid.UUID, slot schedule.Slot) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM slot_reservations
		WHERE doctor_id = $1 AND slot_date = $2 AND slot_time = $3
	`, doctorID, pgDate(slot.Date), slot.Time.String())
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

func (r *PgRepository) MarkPaid(ctx context.Context, id uuid.UUID, doctorShare, platformShare int64, paymentRef string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET paid = true,
		    doctor_share = $2,
		    platform_share = $3,
		    payment_ref = NULLIF($4, ''),
		    updated_at = now()
		WHERE id = $1
		  AND paid = false
		  AND cancelled = false
		  AND completed = false
		RETURNING `+apptColumns+`
	`, id, doctorShare, platformShare, paymentRef)
	return scanCAS(row)
}

func (r *PgRepository) SetRoomID(ctx context.Context, id uuid.UUID, roomID string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET room_id = $2,
		    updated_at = now()
		WHERE id = $1
		  AND room_id IS NULL
		  AND cancelled = false
		  AND completed = false
		RETURNING `+apptColumns+`
	`, id, roomID)
	return scanCAS(row)
}

func (r *PgRepository) RecordJoin(ctx context.Context, id uuid.UUID, role Role, now time.Time) (*Appointment, error) {
	var row pgx.Row
	switch role {
	case RoleDoctor:
		row = r.db.QueryRow(ctx, `
			UPDATE appointments
			SET doctor_joined = true,
			    session_started = true,
			    session_started_at = COALESCE(session_started_at, $2),
			    updated_at = now()
			WHERE id = $1
			  AND cancelled = false
			  AND completed = false
			RETURNING `+apptColumns+`
		`, id, now)
	case RolePatient:
		row = r.db.QueryRow(ctx, `
			UPDATE appointments
			SET patient_joined = true,
			    updated_at = now()
			WHERE id = $1
			  AND cancelled = false
			  AND completed = false
			RETURNING `+apptColumns+`
		`, id)
	default:
		return nil, fmt.Errorf("record join: role %q cannot join", role)
	}
	return scanCAS(row)
}

// CloseSession is the shared terminal transition for both the doctor's end
// call and manual completion of a started session: ending a session always
// completes the appointment in the same statement.
func (r *PgRepository) CloseSession(ctx context.Context, id uuid.UUID, endedAt time.Time, durationMinutes int, notes string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET session_ended = true,
		    session_ended_at = $2,
		    session_duration_minutes = $3,
		    session_notes = CASE WHEN $4 <> '' THEN $4 ELSE session_notes END,
		    completed = true,
		    updated_at = now()
		WHERE id = $1
		  AND session_started = true
		  AND session_ended = false
		  AND cancelled = false
		  AND completed = false
		RETURNING `+apptColumns+`
	`, id, endedAt, durationMinutes, notes)
	return scanCAS(row)
}

// MarkCancelled flips the terminal flag and frees the slot ledger entry in
// one statement, so cancellation can never leave a reservation behind.
func (r *PgRepository) MarkCancelled(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		WITH cancelled AS (
			UPDATE appointments
			SET cancelled = true,
			    updated_at = now()
			WHERE id = $1
			  AND cancelled = false
			  AND completed = false
			RETURNING *
		), freed AS (
			DELETE FROM slot_reservations sr
			USING cancelled c
			WHERE sr.appointment_id = c.id
		)
		SELECT `+apptColumns+`
		FROM cancelled
	`, id)
	return scanCAS(row)
}

func (r *PgRepository) MarkCompleted(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET completed = true,
		    updated_at = now()
		WHERE id = $1
		  AND cancelled = false
		  AND completed = false
		RETURNING `+apptColumns+`
	`, id)
	return scanCAS(row)
}

// FindMissed returns appointments whose scheduled start lies before the
// cutoff with no session ever started. The slot wall time is naive, so the
// cutoff is pinned to UTC explicitly; the session TimeZone setting must not
// move the sweep boundary.
func (r *PgRepository) FindMissed(ctx context.Context, startedBefore time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE cancelled = false
		  AND completed = false
		  AND session_started = false
		  AND missed_logged = false
		  AND (slot_date + slot_time::time) < ($1 AT TIME ZONE 'UTC')
		ORDER BY slot_date, slot_time
		LIMIT 500
	`, startedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) MarkMissedLogged(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET missed_logged = true,
		    updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.list(ctx, `patient_id`, patientID, limit, offset)
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.list(ctx, `doctor_id`, doctorID, limit, offset)
}

func (r *PgRepository) list(ctx context.Context, column string, id uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE `+column+` = $1
		ORDER BY slot_date DESC, slot_time DESC
		LIMIT $2 OFFSET $3
	`, id, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
