// Package postgres implements the event-sourcing storage engine's backend
// contracts (pkg/es) against a single Postgres database, reusing the
// jackc/pgx/v5 connection-pooling and transaction style the teacher package
// established for its own flat event table (see DESIGN.md).
package postgres

import "time"

// Config mirrors the teacher's EventStoreConfig: a plain struct with a
// defaulting constructor, not a viper/env-based loader (spec.md §6
// "Configuration options").
type Config struct {
	// Schema names a Postgres schema. No DDL statement or query in this
	// package reads it: tables are created and queried in the pool's
	// default search_path.
	Schema string

	// AutoCreateContainers makes New create every table before it returns
	// when true; when false, New returns ContainerNotFoundError for the
	// first missing table.
	AutoCreateContainers bool

	// MaxBatchSize bounds a single multi-event append; larger requests split
	// into sequential batches (spec.md §4.1 algorithm step 5).
	MaxBatchSize int

	// StreamingPageSize is the default page size for ReadAsStream (spec.md
	// §6 "streamingPageSize"). The object-id provider does not read it.
	StreamingPageSize int

	// UseOptimisticConcurrency controls whether DocumentStore.Set requires a
	// matching prevHash; false performs an unconditional upsert (spec.md
	// §4.2).
	UseOptimisticConcurrency bool

	// DefaultTimeToLiveSeconds is applied to events that do not set their
	// own TTL; -1 means infinite (spec.md §6).
	DefaultTimeToLiveSeconds int

	// StatementTimeout is defaulted by NewConfig and withDefaults, but no
	// query or transaction in this package reads it; statements run with
	// only the caller's context as a deadline.
	StatementTimeout time.Duration
}

// NewConfig returns a Config with the engine's documented defaults.
func NewConfig() Config {
	return Config{
		Schema:                   "public",
		AutoCreateContainers:     true,
		MaxBatchSize:             1000,
		StreamingPageSize:        100,
		UseOptimisticConcurrency: true,
		DefaultTimeToLiveSeconds: -1,
		StatementTimeout:         15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.Schema == "" {
		c.Schema = "public"
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 1000
	}
	if c.StreamingPageSize <= 0 {
		c.StreamingPageSize = 100
	}
	if c.DefaultTimeToLiveSeconds == 0 {
		c.DefaultTimeToLiveSeconds = -1
	}
	if c.StatementTimeout <= 0 {
		c.StatementTimeout = 15 * time.Second
	}
	return c
}
