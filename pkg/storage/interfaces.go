package storage

import (
	"context"
	"database/sql"
	"time"
)

// Querier is the subset of *sql.DB and *sql.Tx that stores run queries through
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Config for the directory store and the tier cache
type Config struct {
	// Driver is "postgres" or "sqlite3"
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`

	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`

	// TxAttempts bounds retries of serialization failures
	TxAttempts int `yaml:"tx_attempts"`

	// Redis config, optional
	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`

	// Tier cache config
	CacheEnabled bool          `yaml:"cache_enabled"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	L1CacheSize  int           `yaml:"l1_cache_size"`
	L1CacheTTL   time.Duration `yaml:"l1_cache_ttl"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Driver:          string(DialectPostgres),
		MaxConns:        20,
		MinConns:        2,
		Timeout:         10 * time.Second,
		MaxLifetime:     30 * time.Minute,
		TxAttempts:      3,
		RedisDB:         -1,
		RedisMaxRetries: 3,
		RedisPoolSize:   10,
		CacheEnabled:    true,
		CacheTTL:        5 * time.Minute,
		L1CacheSize:     10000,
		L1CacheTTL:      30 * time.Second,
	}
}
