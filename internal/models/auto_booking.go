package models

import "time"

// AutoBooking is a weekly recurring booking definition. The processor is the
// only writer of Status, RetryCount, LastAttemptAt and LastBookedDate, and it
// mutates them only while holding the in_progress lock.
type AutoBooking struct {
	ID             int64      `json:"id"`
	Username       string     `json:"username"`
	ClassName      string     `json:"class_name"`
	TargetTime     string     `json:"target_time"` // HH:MM
	DayOfWeek      string     `json:"day_of_week"` // Monday..Sunday
	Instructor     string     `json:"instructor"`
	Status         string     `json:"status"`
	RetryCount     int        `json:"retry_count"`
	LastAttemptAt  *time.Time `json:"last_attempt_at,omitempty"`
	LastBookedDate string     `json:"last_booked_date,omitempty"` // YYYY-MM-DD
	CreatedAt      time.Time  `json:"created_at"`
}

// LiveBooking is one row of the local cache of bookings currently held on the
// remote site. AutoBookingID links back to the recurring definition that
// produced it, when there is one.
type LiveBooking struct {
	ID            int64     `json:"id"`
	Username      string    `json:"username"`
	ClassName     string    `json:"class_name"`
	Date          string    `json:"date"` // YYYY-MM-DD
	TimeOfDay     string    `json:"time"` // HH:MM
	Instructor    string    `json:"instructor"`
	AutoBookingID *int64    `json:"auto_booking_id,omitempty"`
	ReminderSent  bool      `json:"reminder_sent"`
	CreatedAt     time.Time `json:"created_at"`
}

// StartsAt combines Date and TimeOfDay in the given location.
func (b LiveBooking) StartsAt(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02 15:04", b.Date+" "+b.TimeOfDay, loc)
}

// Session holds the per-user encrypted credentials plus the serialized
// authenticated session state (cookies and anti-forgery token). It is
// read-mostly: every worker restores from it and revalidates lazily.
type Session struct {
	Username      string    `json:"username"`
	Credentials   string    `json:"-"` // encrypted
	Blob          string    `json:"-"` // serialized portal session state
	LastTouchedAt time.Time `json:"last_touched_at"`
}

// ClassCandidate is one bookable class scraped for a single calendar date.
// Never persisted; it is the universe the matcher searches.
type ClassCandidate struct {
	Name       string `json:"name"`
	Date       string `json:"date"`       // YYYY-MM-DD
	StartTime  string `json:"start_time"` // HH:MM
	Instructor string `json:"instructor"`
	Remaining  int    `json:"remaining"` // -1 when unknown
}

// PushSubscription is a stored web-push subscription for reminder delivery.
type PushSubscription struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Endpoint  string    `json:"endpoint"`
	Keys      string    `json:"keys"` // opaque JSON from the browser
	CreatedAt time.Time `json:"created_at"`
}
