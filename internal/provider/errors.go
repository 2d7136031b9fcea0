package provider

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when the remote resource no longer exists, e.g. a
// message deleted between listing and fetch.
var ErrNotFound = errors.New("provider resource not found")

// ErrUnauthorized is returned on an expired or invalid access token. Callers
// refresh the token once and retry; a second failure is persistent.
var ErrUnauthorized = errors.New("provider rejected access token")

// RateLimitError is returned on a 429 response. RetryAfter carries the
// provider-supplied delay, zero when the provider gave none.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("provider rate limit exceeded, retry after %s", e.RetryAfter)
}

// AsRateLimit unwraps err as a RateLimitError if it is one.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return rateErr, true
	}
	return nil, false
}
