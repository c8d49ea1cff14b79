package schedule

import "time"

// JoinState classifies a join attempt relative to the appointment's window.
type JoinState string

const (
	JoinTooEarly JoinState = "too_early"
	JoinOpen     JoinState = "open"
	JoinMissed   JoinState = "missed"
)

// Window is the policy interval during which a live session may be entered,
// starting at the scheduled slot time. The length is configuration, not a
// constant.
type Window struct {
	Length time.Duration
}

// Evaluate classifies now against the window anchored at start.
//
// The returned duration is a countdown for display: time until the window
// opens when too early, time until it closes when open, zero once missed.
// Joining is only offered on the scheduled calendar day itself, so a window
// spilling past midnight closes at midnight. The calendar day is start's:
// now is normalized into start's location so the classification of an
// instant never depends on the zone it arrives in.
func (w Window) Evaluate(start, now time.Time) (JoinState, time.Duration) {
	now = now.In(start.Location())

	if now.Before(start) {
		return JoinTooEarly, start.Sub(now)
	}

	closesAt := start.Add(w.Length)
	sameDay := start.Year() == now.Year() && start.YearDay() == now.YearDay()

	if !now.After(closesAt) && sameDay {
		return JoinOpen, closesAt.Sub(now)
	}
	return JoinMissed, 0
}
