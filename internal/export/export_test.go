package export

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"gabs/internal/database"
	"gabs/internal/models"
)

func TestBookingsToExcel(t *testing.T) {
	logger := zerolog.Nop()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, db.AddOrUpdateLiveBooking(ctx, &models.LiveBooking{
		Username: "alice", ClassName: "Vinyasa Yoga", Date: "2026-09-07", TimeOfDay: "18:00", Instructor: "Sarah",
	}))
	require.NoError(t, db.AddOrUpdateLiveBooking(ctx, &models.LiveBooking{
		Username: "bob", ClassName: "Boxing", Date: "2026-09-08", TimeOfDay: "07:30",
	}))
	// Outside the range, must not appear.
	require.NoError(t, db.AddOrUpdateLiveBooking(ctx, &models.LiveBooking{
		Username: "carol", ClassName: "Spin", Date: "2026-10-01", TimeOfDay: "12:00",
	}))

	exporter := NewExporter(db, t.TempDir(), &logger)
	path, err := exporter.BookingsToExcel(ctx, "2026-09-01", "2026-09-30")
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Bookings")
	require.NoError(t, err)
	// Title, header, two data rows.
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"User", "Class", "Date", "Time", "Instructor"}, rows[1])
	assert.Equal(t, "alice", rows[2][0])
	assert.Equal(t, "Vinyasa Yoga", rows[2][1])
	assert.Equal(t, "bob", rows[3][0])
}
