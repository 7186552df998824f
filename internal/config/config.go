// Package config defines service configuration structures and loading hooks.
package config

import (
	"context"
	"runtime"
)

// Storage drivers.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StorageDriver picks the run store: memory or sqlite.
	StorageDriver string `koanf:"storage_driver"`

	// SQLitePath is the database file used by the sqlite driver.
	SQLitePath string `koanf:"sqlite_path"`

	// MaxCommitRetries bounds how often a conflicting commit is retried.
	MaxCommitRetries int `koanf:"max_commit_retries"`

	// LockTimeoutMS bounds the wait for a run's critical section.
	LockTimeoutMS int `koanf:"lock_timeout_ms"`

	// FeedQueueSize bounds the board feed queue.
	FeedQueueSize int `koanf:"feed_queue_size"`

	// FeedWorkerCount sets the number of board feed workers.
	FeedWorkerCount int `koanf:"feed_worker_count"`

	// FeedDedupeSize sets how many delivered board versions are remembered.
	FeedDedupeSize int `koanf:"feed_dedupe_size"`

	// MaxSlots caps the slot count of a run.
	MaxSlots int `koanf:"max_slots"`
}

// New returns a Config holding the defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":9080",
		StorageDriver:    StorageMemory,
		SQLitePath:       "teamrun.db",
		MaxCommitRetries: 3,
		LockTimeoutMS:    5000,
		FeedQueueSize:    4096,
		FeedWorkerCount:  runtime.NumCPU(),
		FeedDedupeSize:   50_000,
		MaxSlots:         40,
	}
}
