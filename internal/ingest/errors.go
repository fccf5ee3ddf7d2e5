package ingest

import "errors"

// Sentinel kinds for ingestion errors.
var (
	ErrStore = errors.New("store killmail")
)
