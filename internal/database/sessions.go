package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gabs/internal/models"
)

func (db *DB) UpsertSession(ctx context.Context, s *models.Session) error {
	query := `INSERT INTO sessions (username, credentials, blob, last_touched_at)
	          VALUES (?, ?, ?, ?)
	          ON CONFLICT(username) DO UPDATE SET
	              credentials = CASE WHEN excluded.credentials != '' THEN excluded.credentials ELSE sessions.credentials END,
	              blob = excluded.blob,
	              last_touched_at = excluded.last_touched_at`
	now := time.Now()
	if _, err := db.ExecContext(ctx, query, s.Username, s.Credentials, s.Blob, now); err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	s.LastTouchedAt = now
	return nil
}

func (db *DB) GetSession(ctx context.Context, username string) (*models.Session, error) {
	s := &models.Session{}
	query := `SELECT username, credentials, blob, last_touched_at FROM sessions WHERE username = ?`
	err := db.QueryRowContext(ctx, query, username).Scan(
		&s.Username, &s.Credentials, &s.Blob, &s.LastTouchedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// TouchSession bumps last_touched_at without changing the blob.
func (db *DB) TouchSession(ctx context.Context, username string) error {
	if _, err := db.ExecContext(ctx,
		`UPDATE sessions SET last_touched_at = ? WHERE username = ?`, time.Now(), username); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (db *DB) DeleteSession(ctx context.Context, username string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE username = ?`, username); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (db *DB) CreatePushSubscription(ctx context.Context, sub *models.PushSubscription) error {
	query := `INSERT INTO push_subscriptions (username, endpoint, keys, created_at)
	          VALUES (?, ?, ?, ?)
	          ON CONFLICT(username, endpoint) DO UPDATE SET keys = excluded.keys`
	now := time.Now()
	result, err := db.ExecContext(ctx, query, sub.Username, sub.Endpoint, sub.Keys, now)
	if err != nil {
		return fmt.Errorf("failed to create push subscription: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		sub.ID = id
	}
	sub.CreatedAt = now
	return nil
}

func (db *DB) ListPushSubscriptions(ctx context.Context, username string) ([]*models.PushSubscription, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, username, endpoint, keys, created_at FROM push_subscriptions WHERE username = ?`,
		username)
	if err != nil {
		return nil, fmt.Errorf("failed to list push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*models.PushSubscription
	for rows.Next() {
		s := &models.PushSubscription{}
		if err := rows.Scan(&s.ID, &s.Username, &s.Endpoint, &s.Keys, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan push subscription: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (db *DB) DeletePushSubscription(ctx context.Context, username, endpoint string) error {
	if _, err := db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE username = ? AND endpoint = ?`, username, endpoint); err != nil {
		return fmt.Errorf("failed to delete push subscription: %w", err)
	}
	return nil
}
