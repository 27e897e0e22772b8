package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Database wraps the Postgres pool used for incident and alert audit trails.
type Database struct {
	db *sqlx.DB
}

// NewDatabase opens and verifies a Postgres connection.
func NewDatabase(ctx context.Context, cfg DatabaseConfig) (*Database, error) {
	db, err := sqlx.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{db: db}, nil
}

// Health verifies the connection is alive.
func (d *Database) Health(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Stats returns pool utilization for the health snapshot.
func (d *Database) Stats() map[string]float64 {
	s := d.db.Stats()
	return map[string]float64{
		"db_open_connections": float64(s.OpenConnections),
		"db_in_use":           float64(s.InUse),
		"db_idle":             float64(s.Idle),
		"db_wait_count":       float64(s.WaitCount),
	}
}

func (d *Database) Close() error { return d.db.Close() }
