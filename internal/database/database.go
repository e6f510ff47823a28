package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrNotLocked is returned when a conditional status transition matched
	// zero rows, meaning another worker already claimed the record.
	ErrNotLocked = errors.New("booking not locked")
)

type DB struct {
	db     *sql.DB
	logger *zerolog.Logger
}

func New(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// busy_timeout keeps concurrent workers from failing fast on SQLITE_BUSY.
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{db: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS auto_bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            username TEXT NOT NULL,
            class_name TEXT NOT NULL,
            target_time TEXT NOT NULL,
            day_of_week TEXT NOT NULL,
            instructor TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_attempt_at DATETIME,
            last_booked_date TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS live_bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            username TEXT NOT NULL,
            class_name TEXT NOT NULL,
            date TEXT NOT NULL,
            time TEXT NOT NULL,
            instructor TEXT NOT NULL DEFAULT '',
            auto_booking_id INTEGER,
            reminder_sent BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS sessions (
            username TEXT PRIMARY KEY,
            credentials TEXT NOT NULL DEFAULT '',
            blob TEXT NOT NULL DEFAULT '',
            last_touched_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS push_subscriptions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            username TEXT NOT NULL,
            endpoint TEXT NOT NULL,
            keys TEXT NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            UNIQUE(username, endpoint)
        )`,

		`CREATE INDEX IF NOT EXISTS idx_auto_bookings_status ON auto_bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_auto_bookings_username ON auto_bookings(username)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_live_bookings_key ON live_bookings(username, date, time, class_name)`,
		`CREATE INDEX IF NOT EXISTS idx_live_bookings_username ON live_bookings(username)`,
		`CREATE INDEX IF NOT EXISTS idx_live_bookings_date ON live_bookings(date)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.db.ExecContext(ctx, query, args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.db.QueryRowContext(ctx, query, args...)
}

func (db *DB) Close() error {
	return db.db.Close()
}
