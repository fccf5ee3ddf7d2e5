package cache

import "errors"

// Sentinel kinds for cache errors.
var (
	ErrConnect = errors.New("cache connect")
	ErrEncode  = errors.New("cache encode")
)
