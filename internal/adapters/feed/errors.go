package feed

import "errors"

var (
	// ErrUnavailable is returned when the feed could not be reached after retries.
	ErrUnavailable = errors.New("feed unavailable")
	// ErrBadResponse is returned when the feed answers with something that is not a RedisQ envelope.
	ErrBadResponse = errors.New("feed returned an unexpected response")
	// ErrOversized is returned when a response body exceeds the size limit.
	// The package it carried has left the queue and is not delivered again.
	ErrOversized = errors.New("feed response too large")
)
