// Package dbpool opens and configures the pgx connection pools used by both
// the system and application databases.
package dbpool

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds database connection pool settings. Sensible defaults are
// applied by DefaultConfig().
type Config struct {
	URI             string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	AcquireTimeout  time.Duration
}

// DefaultConfig returns the standard pool sizing: 25 connections (20 regular
// plus 5 overflow) and a 30 second AcquireTimeout. Connect applies
// AcquireTimeout only to its initial ping; later connection acquisitions
// from the pool are bounded by the caller's context alone.
func DefaultConfig(uri string) Config {
	return Config{
		URI:             uri,
		MaxConns:        25,
		MinConns:        2,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		AcquireTimeout:  30 * time.Second,
	}
}

// Connect creates a PostgreSQL connection pool using cfg and verifies
// connectivity with a ping.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("dbpool: parse database URI: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("dbpool: create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("dbpool: ping database: %w", err)
	}

	return pool, nil
}

// EnsureDatabase connects to the admin "postgres" database under the same
// credentials and creates name if it does not already exist: the bootstrap
// step the system and application databases both need on first boot.
func EnsureDatabase(ctx context.Context, adminURI, name string) error {
	poolCfg, err := pgxpool.ParseConfig(adminURI)
	if err != nil {
		return fmt.Errorf("dbpool: parse admin URI: %w", err)
	}
	poolCfg.MaxConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("dbpool: connect admin database: %w", err)
	}
	defer pool.Close()

	var exists bool
	if err := pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)`, name,
	).Scan(&exists); err != nil {
		return fmt.Errorf("dbpool: check database %s: %w", name, err)
	}
	if exists {
		return nil
	}

	// CREATE DATABASE cannot take a parameter placeholder; name is only ever
	// sourced from this process's own configuration, not untrusted input.
	if _, err := pool.Exec(ctx, fmt.Sprintf(`CREATE DATABASE %s`, quoteIdent(name))); err != nil {
		return fmt.Errorf("dbpool: create database %s: %w", name, err)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}
