// Package schedule holds the scheduling value types shared by booking and
// session logic. A slot is parsed from its wire form exactly once, at booking
// time; everything downstream works with these types and never re-parses
// strings.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidDate = errors.New("invalid slot date")
	ErrInvalidTime = errors.New("invalid slot time")
)

// Date is a calendar day with no timezone attached. The canonical wire form
// is day-first, underscore-separated: "10_06_2025". Input that does not
// decode as a real day-first calendar date is rejected outright rather than
// reinterpreted month-first.
type Date struct {
	Day   int
	Month int
	Year  int
}

func ParseDate(s string) (Date, error) {
	parts := strings.Split(strings.TrimSpace(s), "_")
	if len(parts) != 3 {
		return Date{}, fmt.Errorf("%w: %q is not in DD_MM_YYYY form", ErrInvalidDate, s)
	}

	day, err1 := strconv.Atoi(parts[0])
	month, err2 := strconv.Atoi(parts[1])
	year, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return Date{}, fmt.Errorf("%w: %q contains non-numeric fields", ErrInvalidDate, s)
	}
	if year < 2000 || year > 2200 {
		return Date{}, fmt.Errorf("%w: year %d out of range", ErrInvalidDate, year)
	}
	if month < 1 || month > 12 {
		return Date{}, fmt.Errorf("%w: month %d out of range", ErrInvalidDate, month)
	}

	// Round-trip through time.Date to reject days that do not exist in the
	// given month (31_02_2025 normalizes to March and is therefore invalid).
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || t.Month() != time.Month(month) || t.Year() != year {
		return Date{}, fmt.Errorf("%w: %q is not a real calendar day", ErrInvalidDate, s)
	}

	return Date{Day: day, Month: month, Year: year}, nil
}

// String renders the canonical wire form, zero-padded.
func (d Date) String() string {
	return fmt.Sprintf("%02d_%02d_%04d", d.Day, d.Month, d.Year)
}

func (d Date) IsZero() bool {
	return d == Date{}
}

// TimeOfDay is a wall-clock time label. Accepted wire forms are 24-hour
// ("13:30") and 12-hour with an am/pm suffix ("01:30 pm").
type TimeOfDay struct {
	Hour   int
	Minute int
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	raw := strings.ToLower(strings.TrimSpace(s))

	meridiem := ""
	for _, suffix := range []string{"am", "pm"} {
		if strings.HasSuffix(raw, suffix) {
			meridiem = suffix
			raw = strings.TrimSpace(strings.TrimSuffix(raw, suffix))
			break
		}
	}

	parts := strings.Split(raw, ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("%w: %q is not in HH:MM form", ErrInvalidTime, s)
	}

	hour, err1 := strconv.Atoi(parts[0])
	minute, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q contains non-numeric fields", ErrInvalidTime, s)
	}
	if minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: minute %d out of range", ErrInvalidTime, minute)
	}

	switch meridiem {
	case "":
		if hour < 0 || hour > 23 {
			return TimeOfDay{}, fmt.Errorf("%w: hour %d out of range", ErrInvalidTime, hour)
		}
	case "am":
		if hour < 1 || hour > 12 {
			return TimeOfDay{}, fmt.Errorf("%w: hour %d out of range for am", ErrInvalidTime, hour)
		}
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 1 || hour > 12 {
			return TimeOfDay{}, fmt.Errorf("%w: hour %d out of range for pm", ErrInvalidTime, hour)
		}
		if hour != 12 {
			hour += 12
		}
	}

	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// String renders the canonical 24-hour label used as the slot ledger key.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Slot is one bookable (date, time) pair on a doctor's calendar.
type Slot struct {
	Date Date
	Time TimeOfDay
}

// ParseSlot validates both wire fields together; this is the only place raw
// scheduling strings enter the system.
func ParseSlot(dateStr, timeStr string) (Slot, error) {
	date, err := ParseDate(dateStr)
	if err != nil {
		return Slot{}, err
	}
	tod, err := ParseTimeOfDay(timeStr)
	if err != nil {
		return Slot{}, err
	}
	return Slot{Date: date, Time: tod}, nil
}

// StartAt resolves the slot to an absolute instant in the clinic's calendar.
func (s Slot) StartAt(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(s.Date.Year, time.Month(s.Date.Month), s.Date.Day, s.Time.Hour, s.Time.Minute, 0, 0, loc)
}
