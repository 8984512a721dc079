package domain

import "github.com/pkg/errors"

var (
	// ErrStoreUnavailable marks transient failures reaching the store. The
	// poller retries on its next tick; query handlers answer 503.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrTableNotFound means the day table has not been created yet.
	ErrTableNotFound = errors.New("table not found")

	// ErrMalformedRequest marks client input that failed validation.
	ErrMalformedRequest = errors.New("malformed request")
)
