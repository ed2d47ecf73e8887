// Package config loads and validates engine configuration.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Store type names.
const (
	StoreTypeMemory   = "memory"
	StoreTypePostgres = "postgres"
)

// Config holds the recognised engine options. Unknown keys are rejected
// at load time.
type Config struct {
	// AsyncWorkerThreadNumber sizes the engine's worker pool.
	AsyncWorkerThreadNumber int `json:"async_worker_thread_number"`

	// Store selects and configures the persistence backend.
	Store StoreConfig `json:"store"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	StoreType string         `json:"store_type"`
	Postgres  PostgresConfig `json:"postgres"`
}

// PostgresConfig configures the SQL backend.
type PostgresConfig struct {
	DatabaseURL string `json:"database_url"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		AsyncWorkerThreadNumber: 16,
		Store: StoreConfig{
			StoreType: StoreTypeMemory,
		},
	}
}

// Load reads a JSON configuration, rejecting unknown keys, and validates
// it. Absent fields keep their defaults.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a JSON configuration from disk.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Validate checks option values and cross-field requirements.
func (c *Config) Validate() error {
	if c.AsyncWorkerThreadNumber <= 0 {
		return fmt.Errorf("async_worker_thread_number must be positive, got %d", c.AsyncWorkerThreadNumber)
	}

	switch c.Store.StoreType {
	case StoreTypeMemory:
	case StoreTypePostgres:
		if c.Store.Postgres.DatabaseURL == "" {
			return fmt.Errorf("store.postgres.database_url is required when store_type is %q", StoreTypePostgres)
		}
	default:
		return fmt.Errorf("unknown store.store_type %q", c.Store.StoreType)
	}

	return nil
}
