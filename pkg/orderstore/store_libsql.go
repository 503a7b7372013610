//go:build cgo

package orderstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/tursodatabase/go-libsql"
)

const driverSQLite = "libsql"

// Open opens (and creates if needed) the orders database.
//
// Local file paths are created if parent directories do not exist. WAL and
// busy_timeout are applied so the background staging/delivery goroutines do
// not trip over request handlers on the same rows.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("open order store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping order store: %w", err)
	}

	if err := configureLocalSQLite(ctx, db, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
