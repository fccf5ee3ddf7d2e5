package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix  = "LOSTFITS_"
	envFileVar = "LOSTFITS_CONFIG"
	dotEnvFile = ".env"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if LOSTFITS_CONFIG is set
//  3. env (prefix LOSTFITS_), including values from ./.env
func Load(ctx context.Context) (*Config, error) {
	// Existing process env wins over .env entries.
	if err := godotenv.Load(dotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, dotEnvFile, err)
	}

	base := New(ctx)
	k := koanf.New(".")

	if path := os.Getenv(envFileVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// LOSTFITS_POLL_BATCH_SIZE -> poll_batch_size (flat keys).
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.DatabaseDriver != DriverPostgres && c.DatabaseDriver != DriverSQLite:
		return fmt.Errorf("%w: database_driver must be %q or %q, got %q", ErrInvalidConfig, DriverPostgres, DriverSQLite, c.DatabaseDriver)
	case strings.TrimSpace(c.DatabaseURL) == "":
		return fmt.Errorf("%w: database_url must not be empty", ErrInvalidConfig)
	case c.PollIntervalSecs < 1:
		return fmt.Errorf("%w: poll_interval_secs must be >= 1", ErrInvalidConfig)
	case c.PollBatchSize < 1:
		return fmt.Errorf("%w: poll_batch_size must be >= 1", ErrInvalidConfig)
	case c.ESIMaxQPS <= 0:
		return fmt.Errorf("%w: esi_max_qps must be > 0", ErrInvalidConfig)
	case c.ResolverWorkers < 1:
		return fmt.Errorf("%w: resolver_workers must be >= 1", ErrInvalidConfig)
	case c.ResolverQueueSize < 1:
		return fmt.Errorf("%w: resolver_queue_size must be >= 1", ErrInvalidConfig)
	case c.MaxLimit < 1:
		return fmt.Errorf("%w: max_limit must be >= 1", ErrInvalidConfig)
	}
	return nil
}
