package portal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gabs/internal/models"
)

const classGridFixture = `
<div class="classes">
  <div class="class grid">
    <h2 class="title">Vinyasa Yoga</h2>
    <span itemprop="startDate">18:00:00</span>
    <p>with Sarah.</p>
    <span class="remaining">5</span>
    <form data-request="onBook">
      <input name="id" value="101"/>
      <input name="timestamp" value="1696611600"/>
      <button type="submit" class="signup">Sign up</button>
    </form>
  </div>
  <div class="class grid">
    <h2 class="title">Boxing</h2>
    <span itemprop="startDate">19:45</span>
    <span class="remaining">0</span>
    <form data-request="onBook">
      <input name="id" value="102"/>
      <input name="timestamp" value="1696617900"/>
      <button type="submit" class="waitinglist">Join waiting list</button>
    </form>
  </div>
  <div class="class grid">
    <h2 class="title">Pilates</h2>
    <span itemprop="startDate">07:30:00</span>
    <p>You are already registered for this class</p>
    <form data-request="onBook">
      <input name="id" value="103"/>
      <input name="timestamp" value="1696573800"/>
      <button type="button" class="cancel">Cancel</button>
    </form>
  </div>
  <div class="class grid">
    <h2 class="title">Spin</h2>
    <span itemprop="startDate">12:00:00</span>
  </div>
</div>`

func TestParseClassEntries(t *testing.T) {
	entries, err := parseClassEntries(classGridFixture, "2026-10-06")
	require.NoError(t, err)
	require.Len(t, entries, 4)

	t.Run("BookableClass", func(t *testing.T) {
		e := entries[0]
		assert.Equal(t, "Vinyasa Yoga", e.Candidate.Name)
		assert.Equal(t, "2026-10-06", e.Candidate.Date)
		assert.Equal(t, "18:00", e.Candidate.StartTime)
		assert.Equal(t, "Sarah", e.Candidate.Instructor)
		assert.Equal(t, 5, e.Candidate.Remaining)
		assert.False(t, e.Registered)
		require.NotNil(t, e.Form)
		assert.Equal(t, "onBook", e.Form.Handler)
		assert.Equal(t, "101", e.Form.ClassID)
		assert.Equal(t, "1696611600", e.Form.Timestamp)
		assert.Equal(t, models.ActionBook, e.Form.Action)
		assert.False(t, e.Form.Waitlist)
	})

	t.Run("WaitlistOnlyClass", func(t *testing.T) {
		e := entries[1]
		assert.Equal(t, "Boxing", e.Candidate.Name)
		assert.Equal(t, "19:45", e.Candidate.StartTime)
		assert.Empty(t, e.Candidate.Instructor)
		assert.Equal(t, 0, e.Candidate.Remaining)
		require.NotNil(t, e.Form)
		assert.True(t, e.Form.Waitlist)
	})

	t.Run("RegisteredClassHasCancel", func(t *testing.T) {
		e := entries[2]
		assert.True(t, e.Registered)
		assert.Contains(t, e.Note, "already registered")
		assert.Nil(t, e.Form)
		require.NotNil(t, e.CancelForm)
		assert.Equal(t, models.ActionCancel, e.CancelForm.Action)
		assert.Equal(t, "103", e.CancelForm.ClassID)
	})

	t.Run("ClassWithoutForm", func(t *testing.T) {
		e := entries[3]
		assert.Equal(t, "Spin", e.Candidate.Name)
		assert.Nil(t, e.Form)
		assert.Nil(t, e.CancelForm)
		assert.Equal(t, -1, e.Candidate.Remaining)
	})

	t.Run("EmptyPartial", func(t *testing.T) {
		entries, err := parseClassEntries("   ", "2026-10-06")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestParseCSRFToken(t *testing.T) {
	page := `<html><head><meta name="csrf-token" content="tok-abc123"></head><body></body></html>`
	assert.Equal(t, "tok-abc123", parseCSRFToken(page))
	assert.Empty(t, parseCSRFToken("<html><body>no meta</body></html>"))
}

const membersFixture = `
<html><body>
<div id="upcoming_bookings">
  <ul>
    <li>Vinyasa Yoga - Monday 6th October 19:45</li>
    <li><strong>WAITINGLIST</strong> Boxing - Tuesday 7th October 07:30</li>
    <li>not a booking line</li>
  </ul>
</div>
</body></html>`

func TestParseCurrentBookings(t *testing.T) {
	now := time.Date(2026, time.September, 30, 12, 0, 0, 0, time.UTC)
	snapshots, err := parseCurrentBookings(membersFixture, now)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)

	assert.Equal(t, "Vinyasa Yoga", snapshots[0].ClassName)
	assert.Equal(t, "2026-10-06", snapshots[0].Date)
	assert.Equal(t, "19:45", snapshots[0].TimeOfDay)
	assert.False(t, snapshots[0].Waitlisted)

	assert.Equal(t, "Boxing", snapshots[1].ClassName)
	assert.Equal(t, "2026-10-07", snapshots[1].Date)
	assert.True(t, snapshots[1].Waitlisted)

	t.Run("NoContainer", func(t *testing.T) {
		snapshots, err := parseCurrentBookings("<html><body></body></html>", now)
		require.NoError(t, err)
		assert.Empty(t, snapshots)
	})
}

func TestResolveDateText(t *testing.T) {
	now := time.Date(2026, time.November, 20, 0, 0, 0, 0, time.UTC)

	t.Run("UpcomingSameYear", func(t *testing.T) {
		date, err := resolveDateText("Monday 30th November", now)
		require.NoError(t, err)
		assert.Equal(t, "2026-11-30", date)
	})

	t.Run("PassedMonthRollsToNextYear", func(t *testing.T) {
		date, err := resolveDateText("Tuesday 6th January", now)
		require.NoError(t, err)
		assert.Equal(t, "2027-01-06", date)
	})

	t.Run("NoWeekdayPrefix", func(t *testing.T) {
		date, err := resolveDateText("25th December", now)
		require.NoError(t, err)
		assert.Equal(t, "2026-12-25", date)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := resolveDateText("whenever", now)
		assert.Error(t, err)
	})
}

func TestNormalizeTime(t *testing.T) {
	assert.Equal(t, "19:45", normalizeTime("19:45:00"))
	assert.Equal(t, "19:45", normalizeTime(" 19:45 "))
	assert.Equal(t, "07:45", normalizeTime("7:45"))
}
