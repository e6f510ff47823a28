package domain

import (
	"context"
	"time"

	"gabs/internal/database"
	"gabs/internal/models"
	"gabs/internal/portal"
)

// Store is the persistent booking store. Implemented by *database.DB;
// consumers depend on this interface so tests can substitute fakes.
type Store interface {
	CreateAutoBooking(ctx context.Context, b *models.AutoBooking) error
	GetAutoBooking(ctx context.Context, id int64) (*models.AutoBooking, error)
	GetPendingAutoBookings(ctx context.Context) ([]*models.AutoBooking, error)
	GetInProgressAutoBookings(ctx context.Context) ([]*models.AutoBooking, error)
	GetAutoBookingsForUser(ctx context.Context, username string) ([]*models.AutoBooking, error)
	LockAutoBooking(ctx context.Context, id int64) (bool, error)
	UpdateAutoBookingStatus(ctx context.Context, id int64, status string, upd database.AutoBookingUpdate) error
	ResetFailedAutoBookings(ctx context.Context, olderThan time.Time) (int64, error)
	DeleteAutoBooking(ctx context.Context, id int64, username string) (bool, error)
	ListAutoBookingUsernames(ctx context.Context) ([]string, error)

	AddOrUpdateLiveBooking(ctx context.Context, b *models.LiveBooking) error
	DeleteLiveBooking(ctx context.Context, id int64) error
	DeleteLiveBookingByKey(ctx context.Context, username, className, date, timeOfDay string) error
	RenameLiveBooking(ctx context.Context, id int64, className string) error
	ListLiveBookingsForUser(ctx context.Context, username string) ([]*models.LiveBooking, error)
	ListUnremindedLiveBookings(ctx context.Context) ([]*models.LiveBooking, error)
	ListLiveBookingsByDateRange(ctx context.Context, start, end string) ([]*models.LiveBooking, error)
	MarkReminderSent(ctx context.Context, id int64) error

	UpsertSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, username string) (*models.Session, error)
	TouchSession(ctx context.Context, username string) error
	DeleteSession(ctx context.Context, username string) error

	CreatePushSubscription(ctx context.Context, sub *models.PushSubscription) error
	ListPushSubscriptions(ctx context.Context, username string) ([]*models.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, username, endpoint string) error
}

// PortalClient is an authenticated client against the remote booking site.
type PortalClient interface {
	Username() string
	Login(ctx context.Context, password string) error
	RestoreState(blob string) error
	ClassesForDate(ctx context.Context, date string) ([]portal.ClassEntry, string, error)
	Submit(ctx context.Context, form portal.BookingForm) error
	CurrentBookings(ctx context.Context) ([]portal.BookingSnapshot, error)
	FetchClasses(ctx context.Context, days int) ([]models.ClassCandidate, error)
	State() (string, error)
}

// SessionProvider hands out authenticated portal clients.
type SessionProvider interface {
	// Obtain restores a client from the persisted session for the user.
	Obtain(ctx context.Context, username string) (PortalClient, error)
	// Login performs a fresh credential login and persists the session.
	Login(ctx context.Context, username, password string) (PortalClient, error)
	// Relogin re-authenticates from stored credentials after expiry.
	Relogin(ctx context.Context, username string) (PortalClient, error)
}

// SessionCache is a read-through cache for serialized session blobs,
// layered over the store as an optimization.
type SessionCache interface {
	Get(ctx context.Context, username string) (string, error)
	Set(ctx context.Context, username, blob string) error
	Invalidate(ctx context.Context, username string) error
}

// DiagnosticSink accepts raw scrape content for best-effort persistence.
// Implementations must never block the caller or propagate failures.
type DiagnosticSink interface {
	Write(label, content string)
}

// Notifier delivers a user-facing notification. The wire protocol is out of
// scope here.
type Notifier interface {
	Notify(ctx context.Context, username, title, body string) error
}

// EventPublisher publishes booking lifecycle events for in-process consumers.
type EventPublisher interface {
	PublishJSON(eventType string, payload any) error
}
