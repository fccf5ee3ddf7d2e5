package jobs

import "errors"

// Sentinel kinds for job errors.
var (
	ErrNotFound = errors.New("job not found")
	ErrStopped  = errors.New("job manager stopped")
)
