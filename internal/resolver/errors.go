package resolver

import "errors"

// Sentinel kinds for resolver errors.
var (
	ErrNotFound    = errors.New("reference not found")
	ErrUnknownKind = errors.New("unknown reference kind")
)
