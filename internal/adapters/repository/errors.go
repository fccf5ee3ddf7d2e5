package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound          = errors.New("record not found")
	ErrUnsupportedDriver = errors.New("unsupported database driver")
	ErrOpen              = errors.New("open database")
	ErrDayChanged        = errors.New("killmails of day changed during rebuild")
)
