// Package config loads catalog runtime configuration from an optional YAML
// file with environment variable overrides, and opens the configured
// infrastructure drivers.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"geocatalog/internal/infra/store/memory"
	"geocatalog/internal/infra/store/postgres"
	"geocatalog/internal/infra/store/sqlite"
	"geocatalog/pkg/domain"
)

// StorageDriver identifies a concrete catalog store implementation.
type StorageDriver string

// Supported storage drivers.
const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// Config is the full runtime configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig selects and parameterises the catalog store.
type StorageConfig struct {
	Driver      StorageDriver `yaml:"driver"`
	SQLitePath  string        `yaml:"sqlite_path"`
	PostgresDSN string        `yaml:"postgres_dsn"`
}

// LoggingConfig controls the structured log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// envAliases maps environment variables to the configuration key they
// override. Several variables may alias one key; when more than one alias is
// set the surviving value is unspecified.
var envAliases = map[string]func(*Config, string){
	"GEOCATALOG_STORAGE_DRIVER": func(c *Config, v string) { c.Storage.Driver = StorageDriver(v) },
	"GEOCATALOG_DB_DRIVER":      func(c *Config, v string) { c.Storage.Driver = StorageDriver(v) },
	"GEOCATALOG_SQLITE_PATH":    func(c *Config, v string) { c.Storage.SQLitePath = v },
	"GEOCATALOG_DB_PATH":        func(c *Config, v string) { c.Storage.SQLitePath = v },
	"GEOCATALOG_POSTGRES_DSN":   func(c *Config, v string) { c.Storage.PostgresDSN = v },
	"GEOCATALOG_DB_DSN":         func(c *Config, v string) { c.Storage.PostgresDSN = v },
	"GEOCATALOG_LOG_LEVEL":      func(c *Config, v string) { c.Logging.Level = v },
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		Storage: StorageConfig{Driver: StorageSQLite, SQLitePath: "geocatalog.db"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the YAML file at path (skipped when empty or absent) and then
// applies environment overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(payload, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg, os.Getenv)
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	for name, apply := range envAliases {
		if v := getenv(name); v != "" {
			apply(cfg, v)
		}
	}
}

// OpenStore opens the configured catalog store.
func OpenStore(ctx context.Context, cfg StorageConfig) (domain.CatalogStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(cfg.SQLitePath)
	case StoragePostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// Logger builds the configured structured logger writing to w.
func (c LoggingConfig) Logger(w *os.File) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil || c.Level == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
