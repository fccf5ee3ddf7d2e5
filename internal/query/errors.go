package query

import "errors"

// Sentinel kinds for query errors. "No data" is never an error; only a
// missing killmail is reported as ErrNotFound.
var (
	ErrNotFound = errors.New("not found")
)
