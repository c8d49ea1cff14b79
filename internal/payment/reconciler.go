package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medibridge/telemed-coordinator/internal/appointment"
	redisclient "github.com/medibridge/telemed-coordinator/internal/redis"
)

const EventPaymentConfirmed = "PAYMENT_CONFIRMED"

// Verifier checks a gateway reference with the payment provider before any
// state is persisted. A nil Verifier trusts the caller's signal outright.
type Verifier interface {
	Verify(ctx context.Context, paymentRef string) error
}

// Reconciler converts a gateway "paid" callback into an immutable fee split
// on the appointment, exactly once.
type Reconciler struct {
	repo            appointment.Repository
	locker          redisclient.Locker
	verifier        Verifier
	platformPercent int
	logger          *zap.Logger
}

func NewReconciler(repo appointment.Repository, locker redisclient.Locker, verifier Verifier, platformPercent int, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		repo:            repo,
		locker:          locker,
		verifier:        verifier,
		platformPercent: platformPercent,
		logger:          logger,
	}
}

// Confirm marks the appointment paid and records the fee split. Replayed
// webhook deliveries surface appointment.ErrAlreadyPaid, which callers treat
// as success; the persisted shares are identical either way.
func (r *Reconciler) Confirm(ctx context.Context, id uuid.UUID, paymentRef string) (*appointment.Appointment, error) {
	var confirmed *appointment.Appointment

	err := r.locker.WithLock(ctx, redisclient.AppointmentKey(id), func(lockCtx context.Context) error {
		a, err := r.repo.GetAppointmentByID(lockCtx, id)
		if err != nil {
			return err
		}
		if err := appointment.Gate(a, appointment.OpConfirmPayment); err != nil {
			return err
		}

		// Collaborator first: nothing is persisted unless the gateway
		// confirms, so a failed call leaves the record untouched and safe
		// to retry.
		if r.verifier != nil {
			if err := r.verifier.Verify(lockCtx, paymentRef); err != nil {
				return err
			}
		}

		doctorShare, platformShare := Split(a.Amount, r.platformPercent)

		updated, err := r.repo.MarkPaid(lockCtx, a.ID, doctorShare, platformShare, paymentRef)
		if err != nil {
			return fmt.Errorf("mark paid: %w", err)
		}
		confirmed = updated

		r.logEvent(lockCtx, a.ID, map[string]any{
			"amount":         a.Amount,
			"doctor_share":   doctorShare,
			"platform_share": platformShare,
			"payment_ref":    paymentRef,
		})
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, appointment.ErrAppointmentBusy
		}
		return nil, err
	}

	return confirmed, nil
}

func (r *Reconciler) logEvent(ctx context.Context, appointmentID uuid.UUID, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("marshal event payload", zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := appointment.EventLog{
		EventType:     EventPaymentConfirmed,
		AppointmentID: &apptID,
		Payload:       data,
	}

	if err := r.repo.InsertEvent(ctx, ev); err != nil {
		r.logger.Error("insert event log",
			zap.String("event_type", EventPaymentConfirmed),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err))
	}
}
