package repository

import "github.com/okian/lostfits/pkg/logger"

const (
	defaultBatchSize = 500
	// SQLite serializes writers; one connection avoids SQLITE_BUSY under
	// concurrent ingestion.
	sqliteMaxOpenConns = 1
)

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithBatchSize sets the row count used for batched reads and inserts.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}
