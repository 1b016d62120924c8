package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrator is the subset of pgxpool.Pool the migration runner needs.
type Migrator interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// Migrate applies every embedded migration in file name order. Each script
// runs in the same transaction that records it in schema_migrations, so a
// migration is either applied and recorded or neither. A concurrent runner
// blocks on the version row and then skips it.
func Migrate(ctx context.Context, db Migrator, logger *logrus.Logger) error {
	if _, err := db.Exec(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		script, err := migrationFiles.ReadFile(name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		applied, err := applyMigration(ctx, db, name, string(script))
		if err != nil {
			return err
		}
		if !applied {
			logger.WithField("migration", name).Debug("Migration already applied")
			continue
		}
		logger.WithField("migration", name).Info("Migration applied")
	}

	return nil
}

func applyMigration(ctx context.Context, db Migrator, name, script string) (bool, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin migration %s: %w", name, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, name)
	if err != nil {
		return false, fmt.Errorf("failed to record migration %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, script); err != nil {
		return false, fmt.Errorf("failed to apply migration %s: %w", name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit migration %s: %w", name, err)
	}
	return true, nil
}
