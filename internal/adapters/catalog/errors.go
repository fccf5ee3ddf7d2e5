package catalog

import "errors"

var (
	// ErrNotFound is returned when the catalog does not know an ID.
	ErrNotFound = errors.New("catalog: not found")
	// ErrUnavailable is returned when the catalog could not be reached after retries.
	ErrUnavailable = errors.New("catalog: unavailable")
	// ErrBadResponse is returned for responses that cannot be used.
	ErrBadResponse = errors.New("catalog: unexpected response")
)
