package payment_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/medibridge/telemed-coordinator/internal/appointment"
	"github.com/medibridge/telemed-coordinator/internal/appointment/apptest"
	"github.com/medibridge/telemed-coordinator/internal/payment"
	"github.com/medibridge/telemed-coordinator/internal/schedule"
)

type stubVerifier struct {
	err   error
	calls int
}

func (v *stubVerifier) Verify(ctx context.Context, paymentRef string) error {
	v.calls++
	return v.err
}

func newUnpaidAppointment(repo *apptest.MemoryRepo, amount int64) *appointment.Appointment {
	a := &appointment.Appointment{
		ID:        uuid.New(),
		PatientID: uuid.New(),
		DoctorID:  uuid.New(),
		SlotDate:  schedule.Date{Day: 10, Month: 6, Year: 2025},
		SlotTime:  schedule.TimeOfDay{Hour: 9},
		Amount:    amount,
	}
	repo.Put(a)
	return a
}

func TestConfirmAppliesSplitOnce(t *testing.T) {
	repo := apptest.NewMemoryRepo()
	a := newUnpaidAppointment(repo, 500)

	rec := payment.NewReconciler(repo, apptest.NoopLocker{}, nil, 20, zap.NewNop())

	confirmed, err := rec.Confirm(context.Background(), a.ID, "pi_123")
	require.NoError(t, err)

	assert.True(t, confirmed.Paid)
	assert.Equal(t, int64(400), confirmed.DoctorShare)
	assert.Equal(t, int64(100), confirmed.PlatformShare)
	require.NotNil(t, confirmed.PaymentRef)
	assert.Equal(t, "pi_123", *confirmed.PaymentRef)

	// A replayed delivery surfaces ErrAlreadyPaid and changes nothing.
	_, err = rec.Confirm(context.Background(), a.ID, "pi_123_retry")
	assert.ErrorIs(t, err, appointment.ErrAlreadyPaid)

	stored, err := repo.GetAppointmentByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(400), stored.DoctorShare)
	assert.Equal(t, int64(100), stored.PlatformShare)
	assert.Equal(t, "pi_123", *stored.PaymentRef)
}

func TestConfirmBlockedOnTerminalAppointment(t *testing.T) {
	repo := apptest.NewMemoryRepo()
	a := newUnpaidAppointment(repo, 500)
	a.Cancelled = true
	repo.Put(a)

	rec := payment.NewReconciler(repo, apptest.NoopLocker{}, nil, 20, zap.NewNop())

	_, err := rec.Confirm(context.Background(), a.ID, "pi_123")
	assert.ErrorIs(t, err, appointment.ErrAlreadyCancelled)

	stored, err := repo.GetAppointmentByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, stored.Paid)
}

func TestConfirmUnknownAppointment(t *testing.T) {
	repo := apptest.NewMemoryRepo()
	rec := payment.NewReconciler(repo, apptest.NoopLocker{}, nil, 20, zap.NewNop())

	_, err := rec.Confirm(context.Background(), uuid.New(), "pi_123")
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)
}

func TestConfirmVerifierRunsBeforePersistence(t *testing.T) {
	repo := apptest.NewMemoryRepo()
	a := newUnpaidAppointment(repo, 500)

	gatewayErr := errors.New("gateway says no")
	verifier := &stubVerifier{err: gatewayErr}
	rec := payment.NewReconciler(repo, apptest.NoopLocker{}, verifier, 20, zap.NewNop())

	_, err := rec.Confirm(context.Background(), a.ID, "pi_bad")
	assert.ErrorIs(t, err, gatewayErr)
	assert.Equal(t, 1, verifier.calls)

	// Nothing persisted: the same confirmation is safe to retry.
	stored, err := repo.GetAppointmentByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, stored.Paid)
	assert.Zero(t, stored.DoctorShare)

	verifier.err = nil
	confirmed, err := rec.Confirm(context.Background(), a.ID, "pi_good")
	require.NoError(t, err)
	assert.True(t, confirmed.Paid)
}

func TestConfirmRecordsEvent(t *testing.T) {
	repo := apptest.NewMemoryRepo()
	a := newUnpaidAppointment(repo, 500)

	rec := payment.NewReconciler(repo, apptest.NoopLocker{}, nil, 20, zap.NewNop())
	_, err := rec.Confirm(context.Background(), a.ID, "pi_123")
	require.NoError(t, err)

	events := repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, payment.EventPaymentConfirmed, events[0].EventType)
	require.NotNil(t, events[0].AppointmentID)
	assert.Equal(t, a.ID, *events[0].AppointmentID)
}
