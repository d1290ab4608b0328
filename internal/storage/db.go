package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// DB wraps the ledger database connection and provides health checks
type DB struct {
	conn *sqlx.DB

	// Caches for hot dimension lookups
	modelCache *LRUCache
	priceCache *LRUCache
}

// DBConfig holds database configuration
type DBConfig struct {
	// Connection settings
	DSN string

	// Pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Cache settings
	ModelCacheSize int
	ModelCacheTTL  time.Duration
	PriceCacheSize int
	PriceCacheTTL  time.Duration
}

// DefaultDBConfig returns default database configuration
func DefaultDBConfig() DBConfig {
	return DBConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,

		ModelCacheSize: 500,
		ModelCacheTTL:  15 * time.Minute,
		PriceCacheSize: 1000,
		PriceCacheTTL:  1 * time.Minute,
	}
}

// NewDB creates a new ledger database connection with caching
func NewDB(cfg DBConfig) (*DB, error) {
	conn, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return &DB{
		conn:       conn,
		modelCache: NewLRUCache(cfg.ModelCacheSize, cfg.ModelCacheTTL),
		priceCache: NewLRUCache(cfg.PriceCacheSize, cfg.PriceCacheTTL),
	}, nil
}

// NewDBFromConn wraps an existing connection. Used by tests with sqlmock.
func NewDBFromConn(conn *sqlx.DB, cfg DBConfig) *DB {
	if cfg.ModelCacheSize == 0 {
		cfg = DefaultDBConfig()
	}
	return &DB{
		conn:       conn,
		modelCache: NewLRUCache(cfg.ModelCacheSize, cfg.ModelCacheTTL),
		priceCache: NewLRUCache(cfg.PriceCacheSize, cfg.PriceCacheTTL),
	}
}

// Close closes the database connection and clears caches
func (db *DB) Close() error {
	db.modelCache.Clear()
	db.priceCache.Clear()
	return db.conn.Close()
}

// Ping checks if the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Health returns the health status of the database
func (db *DB) Health(ctx context.Context) error {
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	err := db.conn.GetContext(ctx, &result, "SELECT 1")
	if err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return db.conn.BeginTxx(ctx, opts)
}

// Conn returns the underlying sqlx connection
// Use this for custom queries not covered by repositories
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// CleanupExpiredCacheEntries removes expired entries from all caches
// Should be called periodically (e.g., every minute)
func (db *DB) CleanupExpiredCacheEntries() (modelRemoved, priceRemoved int) {
	modelRemoved = db.modelCache.CleanupExpired()
	priceRemoved = db.priceCache.CleanupExpired()
	return
}
