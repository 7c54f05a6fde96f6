package gateway

import (
	"context"
	"time"

	"github.com/tracklens/tracklens/internal/gateway/driver"
)

// BackoffPolicy retries transient provider failures with linearly growing
// delays: attempt n waits BaseDelay*(n-1) before running.
type BackoffPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Sleep is injectable for tests. Defaults to a context-aware timer wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do runs op up to MaxAttempts times. Authentication failures and quota
// rejections are never retried; any non-transient error stops immediately.
func (p BackoffPolicy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := p.BaseDelay * time.Duration(attempt-1)
			if err := p.sleep(ctx, delay); err != nil {
				return err
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (p BackoffPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func retryable(err error) bool {
	if IsRateLimited(err) || driver.IsAuth(err) {
		return false
	}
	return driver.IsTransient(err)
}
