package databases

import (
	"os"
	"strconv"
	"time"
)

// Config carries the tunables every zone store shares. All fields have
// defaults; FromEnv overrides them from the environment.
type Config struct {
	// PoolSize bounds the concurrent SQLite handles per zone.
	PoolSize int
	// FlushInterval is the background queue-drain cadence.
	FlushInterval time.Duration
	// MaxQueueRows is the queue depth that triggers an inline flush.
	MaxQueueRows int
	// LRUCacheSize caps the per-zone read cache.
	LRUCacheSize int
	// Driver is the database/sql driver name. Production uses "sqlite3";
	// tests swap in the pure-Go "sqlite".
	Driver string
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		PoolSize:      4,
		FlushInterval: 2 * time.Second,
		MaxQueueRows:  100,
		LRUCacheSize:  2048,
		Driver:        "sqlite3",
	}
}

// FromEnv reads POOL_SIZE, FLUSH_INTERVAL (seconds, fractional allowed),
// MAX_QUEUE_ROWS and LRU_CACHE_SIZE over the defaults. Unset or malformed
// values keep the default.
func FromEnv() Config {
	cfg := DefaultConfig()
	if v, err := strconv.Atoi(os.Getenv("POOL_SIZE")); err == nil && v > 0 {
		cfg.PoolSize = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("FLUSH_INTERVAL"), 64); err == nil && v > 0 {
		cfg.FlushInterval = time.Duration(v * float64(time.Second))
	}
	if v, err := strconv.Atoi(os.Getenv("MAX_QUEUE_ROWS")); err == nil && v > 0 {
		cfg.MaxQueueRows = v
	}
	if v, err := strconv.Atoi(os.Getenv("LRU_CACHE_SIZE")); err == nil && v > 0 {
		cfg.LRUCacheSize = v
	}
	return cfg
}
