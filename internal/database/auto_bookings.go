package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gabs/internal/models"
)

const autoBookingColumns = `id, username, class_name, target_time, day_of_week,
	instructor, status, retry_count, last_attempt_at,
	COALESCE(last_booked_date, ''), created_at`

func (db *DB) CreateAutoBooking(ctx context.Context, b *models.AutoBooking) error {
	query := `INSERT INTO auto_bookings (
				username, class_name, target_time, day_of_week, instructor,
				status, retry_count, created_at
			) VALUES (?, ?, ?, ?, ?, ?, 0, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		b.Username, b.ClassName, b.TargetTime, b.DayOfWeek, b.Instructor,
		models.StatusPending, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create auto booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	b.ID = id
	b.Status = models.StatusPending
	b.CreatedAt = now
	return nil
}

func (db *DB) GetAutoBooking(ctx context.Context, id int64) (*models.AutoBooking, error) {
	query := `SELECT ` + autoBookingColumns + ` FROM auto_bookings WHERE id = ?`
	b, err := scanAutoBooking(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get auto booking: %w", err)
	}
	return b, nil
}

func (db *DB) GetPendingAutoBookings(ctx context.Context) ([]*models.AutoBooking, error) {
	return db.listAutoBookings(ctx,
		`SELECT `+autoBookingColumns+` FROM auto_bookings WHERE status = ? ORDER BY id`,
		models.StatusPending)
}

// GetInProgressAutoBookings lists records currently holding the processing
// lock; the caller decides which of them are stale.
func (db *DB) GetInProgressAutoBookings(ctx context.Context) ([]*models.AutoBooking, error) {
	return db.listAutoBookings(ctx,
		`SELECT `+autoBookingColumns+` FROM auto_bookings WHERE status = ? ORDER BY id`,
		models.StatusInProgress)
}

func (db *DB) GetAutoBookingsForUser(ctx context.Context, username string) ([]*models.AutoBooking, error) {
	return db.listAutoBookings(ctx,
		`SELECT `+autoBookingColumns+` FROM auto_bookings WHERE username = ? ORDER BY id`,
		username)
}

// LockAutoBooking atomically transitions pending -> in_progress. Returns
// false when the record was not pending, i.e. another worker holds it. This
// compare-and-swap on the status column is the only cross-worker lock; the
// store is the single shared resource.
func (db *DB) LockAutoBooking(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE auto_bookings SET status = ? WHERE id = ? AND status = ?`
	result, err := db.ExecContext(ctx, query, models.StatusInProgress, id, models.StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to lock auto booking: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows == 1, nil
}

// AutoBookingUpdate carries the optional fields of a status transition.
// Nil fields are left untouched.
type AutoBookingUpdate struct {
	LastBookedDate *string
	LastAttemptAt  *time.Time
	RetryCount     *int
}

func (db *DB) UpdateAutoBookingStatus(ctx context.Context, id int64, status string, upd AutoBookingUpdate) error {
	sets := []string{"status = ?"}
	args := []any{status}
	if upd.LastBookedDate != nil {
		sets = append(sets, "last_booked_date = ?")
		args = append(args, *upd.LastBookedDate)
	}
	if upd.LastAttemptAt != nil {
		sets = append(sets, "last_attempt_at = ?")
		args = append(args, *upd.LastAttemptAt)
	}
	if upd.RetryCount != nil {
		sets = append(sets, "retry_count = ?")
		args = append(args, *upd.RetryCount)
	}
	args = append(args, id)

	query := `UPDATE auto_bookings SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update auto booking status: %w", err)
	}
	return nil
}

// ResetFailedAutoBookings returns failed records whose last attempt is older
// than the cutoff to pending with a cleared retry counter. Reports how many
// rows changed.
func (db *DB) ResetFailedAutoBookings(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `UPDATE auto_bookings SET status = ?, retry_count = 0
	          WHERE status = ? AND (last_attempt_at IS NULL OR last_attempt_at < ?)`
	result, err := db.ExecContext(ctx, query, models.StatusPending, models.StatusFailed, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed auto bookings: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows, nil
}

func (db *DB) DeleteAutoBooking(ctx context.Context, id int64, username string) (bool, error) {
	result, err := db.ExecContext(ctx,
		`DELETE FROM auto_bookings WHERE id = ? AND username = ?`, id, username)
	if err != nil {
		return false, fmt.Errorf("failed to delete auto booking: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows > 0, nil
}

// ListAutoBookingUsernames returns the distinct usernames that own at least
// one recurring booking, for the session refresher.
func (db *DB) ListAutoBookingUsernames(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT username FROM auto_bookings ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to list usernames: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan username: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (db *DB) listAutoBookings(ctx context.Context, query string, args ...any) ([]*models.AutoBooking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list auto bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.AutoBooking
	for rows.Next() {
		b, err := scanAutoBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auto booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAutoBooking(row rowScanner) (*models.AutoBooking, error) {
	b := &models.AutoBooking{}
	var lastAttempt sql.NullTime
	err := row.Scan(
		&b.ID, &b.Username, &b.ClassName, &b.TargetTime, &b.DayOfWeek,
		&b.Instructor, &b.Status, &b.RetryCount, &lastAttempt,
		&b.LastBookedDate, &b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastAttempt.Valid {
		t := lastAttempt.Time
		b.LastAttemptAt = &t
	}
	return b, nil
}
