package model

import "errors"

// ErrMalformed marks a feed payload that cannot be turned into a RawEvent.
var ErrMalformed = errors.New("malformed killmail")
