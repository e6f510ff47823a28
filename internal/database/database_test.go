package database

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gabs/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := New(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestAutoBooking(t *testing.T, db *DB) *models.AutoBooking {
	t.Helper()
	b := &models.AutoBooking{
		Username:   "alice",
		ClassName:  "Vinyasa Yoga",
		TargetTime: "18:00",
		DayOfWeek:  "Monday",
		Instructor: "Sarah",
	}
	require.NoError(t, db.CreateAutoBooking(context.Background(), b))
	return b
}

func TestAutoBookingCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	b := newTestAutoBooking(t, db)
	assert.NotZero(t, b.ID)
	assert.Equal(t, models.StatusPending, b.Status)

	t.Run("Get", func(t *testing.T) {
		got, err := db.GetAutoBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, "Vinyasa Yoga", got.ClassName)
		assert.Equal(t, "18:00", got.TargetTime)
		assert.Equal(t, "Monday", got.DayOfWeek)
		assert.Zero(t, got.RetryCount)
		assert.Nil(t, got.LastAttemptAt)
		assert.Empty(t, got.LastBookedDate)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := db.GetAutoBooking(ctx, 9999)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ListPending", func(t *testing.T) {
		pending, err := db.GetPendingAutoBookings(ctx)
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})

	t.Run("ListForUser", func(t *testing.T) {
		mine, err := db.GetAutoBookingsForUser(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, mine, 1)

		others, err := db.GetAutoBookingsForUser(ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, others)
	})

	t.Run("ListUsernames", func(t *testing.T) {
		names, err := db.ListAutoBookingUsernames(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice"}, names)
	})

	t.Run("DeleteWrongUser", func(t *testing.T) {
		deleted, err := db.DeleteAutoBooking(ctx, b.ID, "bob")
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("Delete", func(t *testing.T) {
		deleted, err := db.DeleteAutoBooking(ctx, b.ID, "alice")
		require.NoError(t, err)
		assert.True(t, deleted)

		_, err = db.GetAutoBooking(ctx, b.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestLockAutoBooking(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	t.Run("OnlyOneWinner", func(t *testing.T) {
		b := newTestAutoBooking(t, db)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				locked, err := db.LockAutoBooking(ctx, b.ID)
				assert.NoError(t, err)
				if locked {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())

		got, err := db.GetAutoBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusInProgress, got.Status)
	})

	t.Run("FailedRecordNotLockable", func(t *testing.T) {
		b := newTestAutoBooking(t, db)
		require.NoError(t, db.UpdateAutoBookingStatus(ctx, b.ID, models.StatusFailed, AutoBookingUpdate{}))

		locked, err := db.LockAutoBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.False(t, locked)
	})
}

func TestUpdateAutoBookingStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	b := newTestAutoBooking(t, db)

	now := time.Now().UTC().Truncate(time.Second)
	date := "2026-09-07"
	retries := 2
	err := db.UpdateAutoBookingStatus(ctx, b.ID, models.StatusPending, AutoBookingUpdate{
		LastBookedDate: &date,
		LastAttemptAt:  &now,
		RetryCount:     &retries,
	})
	require.NoError(t, err)

	got, err := db.GetAutoBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, "2026-09-07", got.LastBookedDate)
	assert.Equal(t, 2, got.RetryCount)
	require.NotNil(t, got.LastAttemptAt)
	assert.WithinDuration(t, now, *got.LastAttemptAt, time.Second)

	t.Run("PartialUpdateKeepsOtherFields", func(t *testing.T) {
		err := db.UpdateAutoBookingStatus(ctx, b.ID, models.StatusFailed, AutoBookingUpdate{})
		require.NoError(t, err)

		got, err := db.GetAutoBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, got.Status)
		assert.Equal(t, "2026-09-07", got.LastBookedDate)
		assert.Equal(t, 2, got.RetryCount)
	})
}

func TestResetFailedAutoBookings(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	old := newTestAutoBooking(t, db)
	recent := newTestAutoBooking(t, db)

	longAgo := time.Now().Add(-48 * time.Hour)
	justNow := time.Now()
	retries := 3
	require.NoError(t, db.UpdateAutoBookingStatus(ctx, old.ID, models.StatusFailed, AutoBookingUpdate{
		LastAttemptAt: &longAgo, RetryCount: &retries,
	}))
	require.NoError(t, db.UpdateAutoBookingStatus(ctx, recent.ID, models.StatusFailed, AutoBookingUpdate{
		LastAttemptAt: &justNow, RetryCount: &retries,
	}))

	n, err := db.ResetFailedAutoBookings(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := db.GetAutoBooking(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Zero(t, got.RetryCount)

	got, err = db.GetAutoBooking(ctx, recent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestLiveBookings(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	add := func(autoID *int64) {
		require.NoError(t, db.AddOrUpdateLiveBooking(ctx, &models.LiveBooking{
			Username:      "alice",
			ClassName:     "Vinyasa Yoga",
			Date:          "2026-09-07",
			TimeOfDay:     "18:00",
			Instructor:    "Sarah",
			AutoBookingID: autoID,
		}))
	}

	t.Run("UpsertIsIdempotent", func(t *testing.T) {
		autoID := int64(42)
		add(&autoID)
		add(nil)

		list, err := db.ListLiveBookingsForUser(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.NotNil(t, list[0].AutoBookingID)
		assert.Equal(t, int64(42), *list[0].AutoBookingID)
	})

	t.Run("RenamePreservesBackReference", func(t *testing.T) {
		list, err := db.ListLiveBookingsForUser(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, list, 1)

		require.NoError(t, db.RenameLiveBooking(ctx, list[0].ID, "VINYASA YOGA"))

		got, err := db.GetLiveBooking(ctx, list[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "VINYASA YOGA", got.ClassName)
		require.NotNil(t, got.AutoBookingID)
		assert.Equal(t, int64(42), *got.AutoBookingID)
	})

	t.Run("DeleteByKeyIsCaseInsensitive", func(t *testing.T) {
		require.NoError(t, db.DeleteLiveBookingByKey(ctx, "alice", "vinyasa yoga", "2026-09-07", "18:00"))

		list, err := db.ListLiveBookingsForUser(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("ReminderFlag", func(t *testing.T) {
		add(nil)
		list, err := db.ListUnremindedLiveBookings(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)

		require.NoError(t, db.MarkReminderSent(ctx, list[0].ID))

		list, err = db.ListUnremindedLiveBookings(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("DateRange", func(t *testing.T) {
		require.NoError(t, db.AddOrUpdateLiveBooking(ctx, &models.LiveBooking{
			Username: "alice", ClassName: "Spin", Date: "2026-10-01", TimeOfDay: "07:00",
		}))

		list, err := db.ListLiveBookingsByDateRange(ctx, "2026-09-01", "2026-09-30")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "2026-09-07", list[0].Date)
	})
}

func TestSessions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	t.Run("UpsertAndGet", func(t *testing.T) {
		require.NoError(t, db.UpsertSession(ctx, &models.Session{
			Username: "alice", Credentials: "enc-creds", Blob: "blob-1",
		}))

		s, err := db.GetSession(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "enc-creds", s.Credentials)
		assert.Equal(t, "blob-1", s.Blob)
	})

	t.Run("EmptyCredentialsKeepStored", func(t *testing.T) {
		require.NoError(t, db.UpsertSession(ctx, &models.Session{
			Username: "alice", Credentials: "", Blob: "blob-2",
		}))

		s, err := db.GetSession(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "enc-creds", s.Credentials)
		assert.Equal(t, "blob-2", s.Blob)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := db.GetSession(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, db.DeleteSession(ctx, "alice"))
		_, err := db.GetSession(ctx, "alice")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPushSubscriptions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreatePushSubscription(ctx, &models.PushSubscription{
		Username: "alice", Endpoint: "https://push.example/1", Keys: `{"p256dh":"x"}`,
	}))

	subs, err := db.ListPushSubscriptions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "https://push.example/1", subs[0].Endpoint)

	require.NoError(t, db.DeletePushSubscription(ctx, "alice", "https://push.example/1"))
	subs, err = db.ListPushSubscriptions(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, subs)
}
