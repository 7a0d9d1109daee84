// Package schema declares the durable tables the system and application
// databases need and seeds them via a minimal forward-only migrator. It
// deliberately does not depend on an external migration framework: the set
// of DDL this package ever needs to apply is small and fixed, bundled at
// build time.
package schema

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/sysdb/*.sql
var sysdbMigrations embed.FS

//go:embed migrations/appdb/*.sql
var appdbMigrations embed.FS

const migrationsTableDDL = `
CREATE SCHEMA IF NOT EXISTS dbos;
CREATE TABLE IF NOT EXISTS dbos.schema_migrations (
    version    TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// ApplySysDB applies every bundled sysdb migration that hasn't already run
// against pool, in filename order.
func ApplySysDB(ctx context.Context, pool *pgxpool.Pool) error {
	return apply(ctx, pool, sysdbMigrations, "migrations/sysdb")
}

// ApplyAppDB applies every bundled appdb migration that hasn't already run
// against pool, in filename order.
func ApplyAppDB(ctx context.Context, pool *pgxpool.Pool) error {
	return apply(ctx, pool, appdbMigrations, "migrations/appdb")
}

func apply(ctx context.Context, pool *pgxpool.Pool, migrations embed.FS, dir string) error {
	if _, err := pool.Exec(ctx, migrationsTableDDL); err != nil {
		return fmt.Errorf("schema: create migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrations, dir)
	if err != nil {
		return fmt.Errorf("schema: read %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var applied bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM dbos.schema_migrations WHERE version = $1)`,
			name,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("schema: check migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		content, err := fs.ReadFile(migrations, dir+"/"+name)
		if err != nil {
			return fmt.Errorf("schema: read migration %s: %w", name, err)
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("schema: begin migration %s: %w", name, err)
		}

		if _, err := tx.Exec(ctx, string(content)); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("schema: apply migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO dbos.schema_migrations (version) VALUES ($1)`, name,
		); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("schema: record migration %s: %w", name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("schema: commit migration %s: %w", name, err)
		}
	}

	return nil
}
