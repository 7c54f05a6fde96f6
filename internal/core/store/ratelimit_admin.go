package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tracklens/tracklens/internal/core"
)

// RateLimitQuery scopes admin operations over stored rate-limit rows.
type RateLimitQuery struct {
	All      bool
	UserID   string
	Endpoint string
}

func (q RateLimitQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.UserID) != "" || strings.TrimSpace(q.Endpoint) != "" {
		return nil
	}
	return errors.New("must specify --all, --user, or --endpoint")
}

func (q RateLimitQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}

	conditions := []string{}
	args := []any{}
	if user := strings.TrimSpace(q.UserID); user != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, user)
	}
	if endpoint := strings.TrimSpace(q.Endpoint); endpoint != "" {
		conditions = append(conditions, "endpoint = ?")
		args = append(args, endpoint)
	}
	return "WHERE " + strings.Join(conditions, " AND "), args, nil
}

// ListRateLimitUsage aggregates consumed quota per (user, endpoint) pair.
func (s *Store) ListRateLimitUsage(ctx context.Context, q RateLimitQuery) ([]core.RateLimitUsage, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT user_id, endpoint, COUNT(*), MIN(window), MAX(window)
		FROM rate_limit_requests
		%s
		GROUP BY user_id, endpoint
		ORDER BY user_id, endpoint
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list rate limit usage: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []core.RateLimitUsage{}
	for rows.Next() {
		var (
			usage  core.RateLimitUsage
			oldest int64
			newest int64
		)
		if err := rows.Scan(&usage.UserID, &usage.Endpoint, &usage.Count, &oldest, &newest); err != nil {
			return nil, fmt.Errorf("scan rate limit usage: %w", err)
		}
		usage.Oldest = time.Unix(oldest, 0).UTC()
		usage.Newest = time.Unix(newest, 0).UTC()
		entries = append(entries, usage)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rate limit usage: %w", err)
	}

	return entries, nil
}

// ResetRateLimits deletes stored rate-limit rows in the query's scope and
// returns how many were removed.
func (s *Store) ResetRateLimits(ctx context.Context, q RateLimitQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM rate_limit_requests %s`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset rate limits: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return affected, nil
}
