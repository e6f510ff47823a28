package models

import (
	"fmt"
	"time"
)

const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusFailed     = "failed"
)

// Outcome is the closed set of booking-attempt results. It travels as a
// return value through the executor/processor boundary instead of being
// thrown across layers.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeAlreadyBooked   Outcome = "already_booked"
	OutcomeNoCapacity      Outcome = "no_capacity"
	OutcomeFormUnavailable Outcome = "form_unavailable"
	OutcomeNoMatch         Outcome = "no_match"
	OutcomeSessionExpired  Outcome = "session_expired"
	OutcomeError           Outcome = "error"
)

// Actions submitted against a class form on the portal.
const (
	ActionBook   = "book"
	ActionCancel = "cancel"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

var weekdays = map[string]time.Weekday{
	"Monday":    time.Monday,
	"Tuesday":   time.Tuesday,
	"Wednesday": time.Wednesday,
	"Thursday":  time.Thursday,
	"Friday":    time.Friday,
	"Saturday":  time.Saturday,
	"Sunday":    time.Sunday,
}

// ParseWeekday maps a stored day-of-week name to time.Weekday.
func ParseWeekday(name string) (time.Weekday, error) {
	d, ok := weekdays[name]
	if !ok {
		return 0, fmt.Errorf("invalid day of week: %q", name)
	}
	return d, nil
}

// NextOccurrence returns the next calendar date on or after now whose weekday
// matches day, formatted as YYYY-MM-DD.
func NextOccurrence(now time.Time, day time.Weekday) string {
	daysUntil := (int(day) - int(now.Weekday()) + 7) % 7
	return now.AddDate(0, 0, daysUntil).Format(DateLayout)
}
