package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CountRequestsSince returns how many rate-limit rows exist for the
// (user, endpoint) pair at or after the cutoff, plus the oldest in-window
// timestamp (zero when there are none). Read-only; never mutates state.
func (s *Store) CountRequestsSince(ctx context.Context, userID, endpoint string, since time.Time) (int, time.Time, error) {
	if s == nil || s.DB == nil {
		return 0, time.Time{}, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	userID = strings.TrimSpace(userID)
	endpoint = strings.TrimSpace(endpoint)
	if userID == "" || endpoint == "" {
		return 0, time.Time{}, errors.New("user id and endpoint are required")
	}

	var (
		count  int
		oldest sql.NullInt64
	)
	row := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(window)
		FROM rate_limit_requests
		WHERE user_id = ? AND endpoint = ? AND window >= ?
	`, userID, endpoint, since.UTC().Unix())
	if err := row.Scan(&count, &oldest); err != nil {
		return 0, time.Time{}, fmt.Errorf("count rate limit requests: %w", err)
	}

	var oldestAt time.Time
	if oldest.Valid {
		oldestAt = time.Unix(oldest.Int64, 0).UTC()
	}
	return count, oldestAt, nil
}

// RecordRequest inserts one consumed-quota row for the (user, endpoint)
// pair. Rows are append-only; stale rows simply age out of the window.
func (s *Store) RecordRequest(ctx context.Context, userID, endpoint string, at time.Time) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	userID = strings.TrimSpace(userID)
	endpoint = strings.TrimSpace(endpoint)
	if userID == "" || endpoint == "" {
		return errors.New("user id and endpoint are required")
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO rate_limit_requests (user_id, endpoint, window)
		VALUES (?, ?, ?)
	`, userID, endpoint, at.UTC().Unix())
	if err != nil {
		return fmt.Errorf("record rate limit request: %w", err)
	}
	return nil
}
