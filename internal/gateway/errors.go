package gateway

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotConfigured indicates that no provider has a usable credential, so
// generative operations cannot run at all.
var ErrNotConfigured = errors.New("no ai provider is configured")

// ErrDescriptionTooShort indicates that the issue description does not carry
// enough signal to produce a useful result.
var ErrDescriptionTooShort = errors.New("issue description is too short to analyze")

// NotFoundError indicates that a referenced record does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// RateLimitError indicates that a user exhausted their quota for one
// endpoint. RetryAfter reports how long until the oldest counted request
// leaves the window.
type RateLimitError struct {
	UserID     string
	Endpoint   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for user %s on %s, retry in %s",
		e.UserID, e.Endpoint, e.RetryAfter.Round(time.Second))
}

// IsRateLimited reports whether err is a quota rejection.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsNotFound reports whether err refers to a missing record.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
