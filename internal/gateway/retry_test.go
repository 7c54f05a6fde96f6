package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tracklens/tracklens/internal/gateway/driver"
)

func noSleep(context.Context, time.Duration) error { return nil }

func unavailable() error {
	return &driver.ProviderError{Provider: "stub", StatusCode: 503, Message: "unavailable"}
}

func TestBackoffExhaustsAttempts(t *testing.T) {
	policy := BackoffPolicy{MaxAttempts: 2, BaseDelay: time.Second, Sleep: noSleep}

	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return unavailable()
	})
	require.Error(t, err)
	require.Equal(t, 2, calls)

	var pe *driver.ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, 503, pe.StatusCode)
}

func TestBackoffSucceedsBeforeExhaustion(t *testing.T) {
	policy := BackoffPolicy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: noSleep}

	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return unavailable()
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestBackoffDelaysGrowLinearly(t *testing.T) {
	var delays []time.Duration
	policy := BackoffPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	}

	err := policy.Do(context.Background(), func(context.Context) error {
		return unavailable()
	})
	require.Error(t, err)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestBackoffNeverRetriesAuthFailure(t *testing.T) {
	policy := BackoffPolicy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: noSleep}

	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return &driver.ProviderError{Provider: "stub", StatusCode: 401, Message: "invalid key"}
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestBackoffNeverRetriesQuotaRejection(t *testing.T) {
	policy := BackoffPolicy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: noSleep}

	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return &RateLimitError{UserID: "u", Endpoint: EndpointSummary, RetryAfter: time.Minute}
	})
	require.True(t, IsRateLimited(err))
	require.Equal(t, 1, calls)
}

func TestBackoffRetriesProvider429(t *testing.T) {
	policy := BackoffPolicy{MaxAttempts: 2, BaseDelay: time.Second, Sleep: noSleep}

	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return &driver.ProviderError{Provider: "stub", StatusCode: 429, Message: "slow down"}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestBackoffDoesNotRetryUnclassifiedClientError(t *testing.T) {
	policy := BackoffPolicy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: noSleep}

	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return &driver.ProviderError{Provider: "stub", StatusCode: 400, Message: "bad request"}
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestBackoffStopsOnCanceledContext(t *testing.T) {
	policy := BackoffPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := policy.Do(ctx, func(context.Context) error {
		calls++
		return unavailable()
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}
