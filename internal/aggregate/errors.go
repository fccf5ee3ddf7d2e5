package aggregate

import "errors"

var (
	// ErrInvalidRange is returned for malformed or reversed day ranges.
	ErrInvalidRange = errors.New("invalid day range")
)
