package notify

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gabs/internal/config"
	"gabs/internal/database"
	"gabs/internal/models"
)

type countingNotifier struct {
	sent []string
	err  error
}

func (n *countingNotifier) Notify(_ context.Context, username, _, _ string) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, username)
	return nil
}

func newReminderFixture(t *testing.T, notifier *countingNotifier) (*ReminderService, *database.DB) {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.ReminderConfig{
		LeadMin: 3*time.Hour + 25*time.Minute,
		LeadMax: 3*time.Hour + 35*time.Minute,
	}
	svc := NewReminderService(db, notifier, nil, cfg, time.UTC, &logger)
	svc.now = func() time.Time {
		return time.Date(2026, time.September, 7, 14, 30, 0, 0, time.UTC)
	}
	return svc, db
}

func addBooking(t *testing.T, db *database.DB, username, class, date, at string) {
	t.Helper()
	require.NoError(t, db.AddOrUpdateLiveBooking(context.Background(), &models.LiveBooking{
		Username: username, ClassName: class, Date: date, TimeOfDay: at,
	}))
}

func TestReminderWindow(t *testing.T) {
	notifier := &countingNotifier{}
	svc, db := newReminderFixture(t, notifier)
	ctx := context.Background()

	// Now is 14:30; the window covers classes starting 17:55 to 18:05.
	addBooking(t, db, "alice", "Vinyasa Yoga", "2026-09-07", "18:00")
	addBooking(t, db, "bob", "Boxing", "2026-09-07", "19:00")
	addBooking(t, db, "carol", "Spin", "2026-09-07", "15:00")
	addBooking(t, db, "dave", "Pilates", "2026-09-08", "18:00")

	require.NoError(t, svc.Run(ctx))

	assert.Equal(t, []string{"alice"}, notifier.sent)

	unreminded, err := db.ListUnremindedLiveBookings(ctx)
	require.NoError(t, err)
	assert.Len(t, unreminded, 3)
}

func TestReminderIsOneShot(t *testing.T) {
	notifier := &countingNotifier{}
	svc, db := newReminderFixture(t, notifier)
	ctx := context.Background()

	addBooking(t, db, "alice", "Vinyasa Yoga", "2026-09-07", "18:00")

	require.NoError(t, svc.Run(ctx))
	require.NoError(t, svc.Run(ctx))

	assert.Len(t, notifier.sent, 1)
}

func TestReminderDeliveryFailureKeepsFlagUnset(t *testing.T) {
	notifier := &countingNotifier{err: assert.AnError}
	svc, db := newReminderFixture(t, notifier)
	ctx := context.Background()

	addBooking(t, db, "alice", "Vinyasa Yoga", "2026-09-07", "18:00")
	require.NoError(t, svc.Run(ctx))

	unreminded, err := db.ListUnremindedLiveBookings(ctx)
	require.NoError(t, err)
	assert.Len(t, unreminded, 1)
}
