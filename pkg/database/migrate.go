package database

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
)

// migrationLockID serializes migration runs of concurrently starting replicas.
const migrationLockID = 7216001

// Migrator is what RunMigrations needs from a pool.
type Migrator interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RunMigrations applies the *.up.sql files at the root of migrations in name
// order, each in its own transaction. Applied versions are tracked in
// schema_migrations and skipped on later runs.
func RunMigrations(ctx context.Context, db Migrator, migrations fs.FS, logger *slog.Logger) error {
	if _, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	versions, err := pendingFiles(migrations)
	if err != nil {
		return err
	}

	for _, version := range versions {
		applied, err := applyMigration(ctx, db, migrations, version)
		if err != nil {
			return err
		}
		if applied {
			logger.Info("migration applied", slog.String("version", version))
		} else {
			logger.Debug("migration already applied", slog.String("version", version))
		}
	}
	return nil
}

func pendingFiles(migrations fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

func applyMigration(ctx context.Context, db Migrator, migrations fs.FS, version string) (applied bool, err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin migration %s: %w", version, err)
	}
	defer func() {
		if err != nil || !applied {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return false, fmt.Errorf("lock migration %s: %w", version, err)
	}

	var exists bool
	err = tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	if exists {
		return false, nil
	}

	sql, err := fs.ReadFile(migrations, version)
	if err != nil {
		return false, fmt.Errorf("read migration %s: %w", version, err)
	}
	if _, err = tx.Exec(ctx, string(sql)); err != nil {
		return false, fmt.Errorf("execute migration %s: %w", version, err)
	}
	if _, err = tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
		return false, fmt.Errorf("record migration %s: %w", version, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", version, err)
	}
	return true, nil
}
