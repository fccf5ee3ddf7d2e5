// Package repository persists killmails, daily aggregates and reference data
// through gorm. PostgreSQL is the production driver; SQLite serves local
// development and tests.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/okian/lostfits/pkg/logger"
	"github.com/okian/lostfits/pkg/metrics"
)

// Drivers accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store is the gorm-backed repository.
type Store struct {
	db        *gorm.DB
	batchSize int
	logger    logger.Logger
}

// Open connects to the database, migrates the schema and returns a Store.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	var dialector gorm.Dialector
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
		cfg.PrepareStmt = true
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	if driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOpen, err)
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
	}

	s := New(db, opts...)
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection. The schema is not migrated.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:        db,
		batchSize: defaultBatchSize,
		logger:    logger.Get().Named("repository"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates or updates every table.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB exposes the underlying handle for tests and maintenance commands.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func observe(start time.Time) {
	metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
}

// notFound maps gorm's sentinel onto ErrNotFound.
func notFound(err error, what string, id int64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %d", ErrNotFound, what, id)
	}
	return fmt.Errorf("%s %d: %w", what, id, err)
}

// MemoryDSN returns a DSN for a private in-memory SQLite database that lives
// as long as the Store that opened it.
func MemoryDSN() string {
	return "file:lostfits-" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
}
