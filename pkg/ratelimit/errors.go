package ratelimit

import "errors"

// ErrExceedsBurst is returned when a single request can never be satisfied.
var ErrExceedsBurst = errors.New("request exceeds limiter burst")
