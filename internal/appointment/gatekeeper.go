package appointment

import "errors"

// Operation identifies the state transition a caller is attempting, for the
// purpose of guard evaluation.
type Operation string

const (
	OpConfirmPayment Operation = "confirm_payment"
	OpCreateSession  Operation = "create_session"
	OpJoinSession    Operation = "join_session"
	OpEndSession     Operation = "end_session"
	OpCancel         Operation = "cancel"
	OpComplete       Operation = "complete"
)

var (
	ErrAlreadyCancelled = errors.New("appointment is cancelled")
	ErrAlreadyCompleted = errors.New("appointment is completed")
	ErrAlreadyPaid      = errors.New("appointment is already paid")
	ErrNotPaid          = errors.New("appointment payment not completed")
	ErrNotStarted       = errors.New("session has not started")
	ErrAlreadyEnded     = errors.New("session has already ended")
)

// Gate is the guard clause consulted before every state-changing operation.
// It is a pure function over the current snapshot: it returns the first
// applicable violation and never mutates anything. Terminal-state checks run
// before any operation-specific check.
func Gate(a *Appointment, op Operation) error {
	if a == nil {
		return ErrAppointmentNotFound
	}
	if a.Cancelled {
		return ErrAlreadyCancelled
	}
	if a.Completed {
		return ErrAlreadyCompleted
	}

	switch op {
	case OpConfirmPayment:
		if a.Paid {
			return ErrAlreadyPaid
		}
	case OpCreateSession, OpJoinSession:
		if !a.Paid {
			return ErrNotPaid
		}
	case OpEndSession:
		if !a.Session.Started {
			return ErrNotStarted
		}
		if a.Session.Ended {
			return ErrAlreadyEnded
		}
	}

	return nil
}
