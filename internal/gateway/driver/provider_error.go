package driver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ProviderError is returned when a provider responds with a non-2xx status.
//
// Drivers should populate RawResponse with the provider response body bytes.
// RawResponse must never include API keys.
type ProviderError struct {
	Provider    string
	StatusCode  int
	Message     string
	RawResponse []byte
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s request failed: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s request failed: %s", e.Provider, e.Message)
}

// IsAuth reports whether the error is an authentication failure (401/403).
// Authentication failures must never be retried.
func (e *ProviderError) IsAuth() bool {
	return e != nil && (e.StatusCode == 401 || e.StatusCode == 403)
}

// IsTransient reports whether the error is worth retrying: provider-side
// rate limiting (429) or server errors (5xx).
func (e *ProviderError) IsTransient() bool {
	if e == nil {
		return false
	}
	return e.StatusCode == 429 || (e.StatusCode >= 500 && e.StatusCode <= 599)
}

// IsTransient classifies an arbitrary error from a driver call as retryable.
//
// Transient: provider 429/5xx, context deadline, net timeouts, connection
// resets, and errors whose message mentions a timeout or network failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.IsTransient()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "network", "connection reset", "connection refused"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsAuth classifies an arbitrary error from a driver call as an
// authentication failure.
func IsAuth(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.IsAuth()
	}
	return false
}
