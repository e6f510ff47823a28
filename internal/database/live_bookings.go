package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gabs/internal/models"
)

const liveBookingColumns = `id, username, class_name, date, time, instructor,
	auto_booking_id, reminder_sent, created_at`

// AddOrUpdateLiveBooking upserts on the (username, date, time, class_name)
// key. A re-run of a succeeded occurrence must not produce a second row.
func (db *DB) AddOrUpdateLiveBooking(ctx context.Context, b *models.LiveBooking) error {
	query := `INSERT INTO live_bookings (
				username, class_name, date, time, instructor, auto_booking_id,
				reminder_sent, created_at
			) VALUES (?, ?, ?, ?, ?, ?, 0, ?)
			ON CONFLICT(username, date, time, class_name) DO UPDATE SET
				instructor = excluded.instructor,
				auto_booking_id = COALESCE(excluded.auto_booking_id, live_bookings.auto_booking_id)`
	_, err := db.ExecContext(ctx, query,
		b.Username, b.ClassName, b.Date, b.TimeOfDay, b.Instructor,
		b.AutoBookingID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert live booking: %w", err)
	}
	return nil
}

func (db *DB) DeleteLiveBooking(ctx context.Context, id int64) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM live_bookings WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete live booking: %w", err)
	}
	return nil
}

func (db *DB) DeleteLiveBookingByKey(ctx context.Context, username, className, date, timeOfDay string) error {
	query := `DELETE FROM live_bookings
	          WHERE username = ? AND date = ? AND time = ? AND lower(class_name) = lower(?)`
	if _, err := db.ExecContext(ctx, query, username, date, timeOfDay, className); err != nil {
		return fmt.Errorf("failed to delete live booking: %w", err)
	}
	return nil
}

// RenameLiveBooking updates the cached display name in place so the
// auto-booking back-reference survives a casing change on the remote site.
func (db *DB) RenameLiveBooking(ctx context.Context, id int64, className string) error {
	if _, err := db.ExecContext(ctx,
		`UPDATE live_bookings SET class_name = ? WHERE id = ?`, className, id); err != nil {
		return fmt.Errorf("failed to rename live booking: %w", err)
	}
	return nil
}

func (db *DB) ListLiveBookingsForUser(ctx context.Context, username string) ([]*models.LiveBooking, error) {
	query := `SELECT ` + liveBookingColumns + ` FROM live_bookings
	          WHERE username = ? ORDER BY date, time`
	return db.listLiveBookings(ctx, query, username)
}

// ListUnremindedLiveBookings returns rows with the reminder flag unset,
// regardless of start time; the reminder sender applies the time window.
func (db *DB) ListUnremindedLiveBookings(ctx context.Context) ([]*models.LiveBooking, error) {
	query := `SELECT ` + liveBookingColumns + ` FROM live_bookings
	          WHERE reminder_sent = 0 ORDER BY date, time`
	return db.listLiveBookings(ctx, query)
}

func (db *DB) ListLiveBookingsByDateRange(ctx context.Context, start, end string) ([]*models.LiveBooking, error) {
	query := `SELECT ` + liveBookingColumns + ` FROM live_bookings
	          WHERE date >= ? AND date <= ? ORDER BY date, time`
	return db.listLiveBookings(ctx, query, start, end)
}

func (db *DB) MarkReminderSent(ctx context.Context, id int64) error {
	if _, err := db.ExecContext(ctx,
		`UPDATE live_bookings SET reminder_sent = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to mark reminder sent: %w", err)
	}
	return nil
}

func (db *DB) GetLiveBooking(ctx context.Context, id int64) (*models.LiveBooking, error) {
	query := `SELECT ` + liveBookingColumns + ` FROM live_bookings WHERE id = ?`
	b, err := scanLiveBooking(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get live booking: %w", err)
	}
	return b, nil
}

func (db *DB) listLiveBookings(ctx context.Context, query string, args ...any) ([]*models.LiveBooking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list live bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.LiveBooking
	for rows.Next() {
		b, err := scanLiveBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan live booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func scanLiveBooking(row rowScanner) (*models.LiveBooking, error) {
	b := &models.LiveBooking{}
	var autoID sql.NullInt64
	err := row.Scan(
		&b.ID, &b.Username, &b.ClassName, &b.Date, &b.TimeOfDay, &b.Instructor,
		&autoID, &b.ReminderSent, &b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if autoID.Valid {
		id := autoID.Int64
		b.AutoBookingID = &id
	}
	return b, nil
}
