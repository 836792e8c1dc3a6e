// Package postgres stores cart sessions as JSONB rows in the cart_sessions table.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"

	"github.com/timbouc/cart/internal/storage"
	"github.com/timbouc/cart/pkg/database"
)

// Driver is the name the postgres driver registers under.
const Driver = "postgres"

//go:embed migrations/*.up.sql
var migrationFiles embed.FS

// Migrations returns the schema migrations for database.RunMigrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Config configures the postgres driver.
type Config struct {
	DB database.DBTX
}

// Storage implements storage.Storage using PostgreSQL.
type Storage struct {
	pool database.DBTX
}

var _ storage.Storage = (*Storage)(nil)

// New creates a new PostgreSQL-backed cart storage.
func New(pool database.DBTX) *Storage {
	return &Storage{pool: pool}
}

// Factory builds a postgres storage from a Config or *Config.
func Factory(config any) (storage.Storage, error) {
	var cfg Config
	switch c := config.(type) {
	case Config:
		cfg = c
	case *Config:
		if c != nil {
			cfg = *c
		}
	default:
		return nil, storage.InvalidConfig(fmt.Sprintf("postgres storage expects postgres.Config, got %T", config))
	}
	if cfg.DB == nil {
		return nil, storage.InvalidConfig("Make sure to define a connection pool for the postgres storage")
	}
	return New(cfg.DB), nil
}

const (
	hasQuery    = "SELECT EXISTS(SELECT 1 FROM cart_sessions WHERE session_key = $1)"
	getQuery    = "SELECT content FROM cart_sessions WHERE session_key = $1"
	deleteQuery = "DELETE FROM cart_sessions WHERE session_key = $1"
	clearQuery  = "DELETE FROM cart_sessions"
	putQuery    = `
		INSERT INTO cart_sessions (session_key, content, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (session_key) DO UPDATE
		SET content = EXCLUDED.content, updated_at = NOW()`
)

// Has reports whether a session row exists.
func (s *Storage) Has(ctx context.Context, key string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, hasQuery, key).Scan(&exists); err != nil {
		return false, storage.IO("check cart session", err)
	}
	return exists, nil
}

// Get retrieves a session snapshot.
func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	var content []byte
	if err := s.pool.QueryRow(ctx, getQuery, key).Scan(&content); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.KeyNotFound(key)
		}
		return nil, storage.IO("get cart session", err)
	}
	return content, nil
}

// Put inserts or replaces a session snapshot.
func (s *Storage) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.pool.Exec(ctx, putQuery, key, value); err != nil {
		return storage.IO("upsert cart session", err)
	}
	return nil
}

// Delete removes a session row.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, deleteQuery, key); err != nil {
		return storage.IO("delete cart session", err)
	}
	return nil
}

// Clear removes every session row.
func (s *Storage) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, clearQuery); err != nil {
		return storage.IO("clear cart sessions", err)
	}
	return nil
}
