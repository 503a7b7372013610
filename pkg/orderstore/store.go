// Package orderstore persists staging orders, delivery orders and the
// delivery-source ledger in a SQLite database.
//
// The store has no object affinity: every method looks rows up by primary key
// against the shared *sql.DB, so a background goroutine can re-fetch and
// update an order created by a request handler without sharing live objects.
package orderstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	// Path is a local filesystem path to the orders database,
	// or ":memory:" for tests.
	Path string
}

// Store gives CRUD access to the three persisted entity kinds. Mutations
// commit synchronously before returning.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CheckHealth pings the database, so the store can serve as a health probe.
func (s *Store) CheckHealth(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func buildDSN(cfg Config) (string, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("order store path is required")
	}
	if path == ":memory:" {
		return path, nil
	}

	if strings.HasPrefix(path, "file:") {
		return path, nil
	}

	if err := ensureStoreDir(path); err != nil {
		return "", err
	}

	return "file:" + filepath.Clean(path), nil
}

func configureLocalSQLite(ctx context.Context, db *sql.DB, dsn string) error {
	if db == nil {
		return errors.New("store connection is nil")
	}
	if dsn == ":memory:" {
		// In-memory databases must stay on one connection or each
		// connection sees its own empty database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		return nil
	}

	// Keep a single connection and use WAL to reduce lock contention between
	// request handlers and the background copy/transfer goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}

	return nil
}

func ensureStoreDir(path string) error {
	if strings.TrimSpace(path) == "" || path == ":memory:" {
		return nil
	}

	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}

	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
