package orderstore

import (
	"context"
	"database/sql"
	"fmt"
)

const SchemaVersion = 1

// Migrate creates (or upgrades) the order schema in-place.
//
// The unique index on (project_name, source_name) documents the ledger's
// identity key. Registration still does check-then-insert at the service
// layer, so two racing requests for the same source can both pass validation;
// the index limits the damage to one committed row.
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS staging_orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			status TEXT NOT NULL,
			staging_target TEXT,
			size INTEGER,
			pid INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_staging_orders_source ON staging_orders(source);`,

		`CREATE TABLE IF NOT EXISTS delivery_orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			delivery_source TEXT NOT NULL,
			delivery_project TEXT NOT NULL,
			md5sum_file TEXT,
			mover_pid INTEGER,
			mover_delivery_id TEXT,
			delivery_status TEXT NOT NULL,
			-- Logical reference only; the original schema never enforced the
			-- foreign key against staging_orders and callers re-validate.
			staging_order_id INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_orders_source ON delivery_orders(delivery_source);`,

		`CREATE TABLE IF NOT EXISTS delivery_sources (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_name TEXT NOT NULL,
			source_name TEXT NOT NULL,
			path TEXT NOT NULL,
			batch INTEGER
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_delivery_sources_identity
			ON delivery_sources(project_name, source_name);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
