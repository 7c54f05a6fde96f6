package gateway

import (
	"context"
	"fmt"
	"time"
)

// RateLimitStore persists per-user request counters.
type RateLimitStore interface {
	CountRequestsSince(ctx context.Context, userID, endpoint string, since time.Time) (int, time.Time, error)
	RecordRequest(ctx context.Context, userID, endpoint string, at time.Time) error
}

// RateLimiter enforces a sliding-window quota per (user, endpoint). The
// check and the insert are separate statements, so concurrent callers can
// briefly exceed MaxRequests; the quota is a throttle, not a hard cap.
type RateLimiter struct {
	Store       RateLimitStore
	MaxRequests int
	Window      time.Duration

	// Clock is injectable for tests. Defaults to time.Now.
	Clock func() time.Time
}

func (r *RateLimiter) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}

// Check consumes one request from the quota, or returns a RateLimitError
// when the window is already full.
func (r *RateLimiter) Check(ctx context.Context, userID, endpoint string) error {
	now := r.now()
	count, oldest, err := r.Store.CountRequestsSince(ctx, userID, endpoint, now.Add(-r.Window))
	if err != nil {
		return fmt.Errorf("count requests: %w", err)
	}

	if count >= r.MaxRequests {
		retryAfter := oldest.Add(r.Window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return &RateLimitError{UserID: userID, Endpoint: endpoint, RetryAfter: retryAfter}
	}

	if err := r.Store.RecordRequest(ctx, userID, endpoint, now); err != nil {
		return fmt.Errorf("record request: %w", err)
	}
	return nil
}

// Remaining reports how many requests the user may still make in the current
// window. It never consumes quota.
func (r *RateLimiter) Remaining(ctx context.Context, userID, endpoint string) (int, error) {
	now := r.now()
	count, _, err := r.Store.CountRequestsSince(ctx, userID, endpoint, now.Add(-r.Window))
	if err != nil {
		return 0, fmt.Errorf("count requests: %w", err)
	}

	remaining := r.MaxRequests - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
