package orderstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DeliverySource is the idempotency ledger entry for one delivered source.
// (ProjectName, SourceName) is the identity key: a matching row means "this
// exact thing has already been delivered, block unless forced".
type DeliverySource struct {
	ID          int64
	ProjectName string
	SourceName  string
	// Path is the resolved path currently backing this source. Mutable: a
	// forced re-delivery moves it to the new physical source.
	Path string
	// Batch groups the sources of one multi-runfolder delivery attempt.
	// Nil for single-runfolder and arbitrary-directory deliveries.
	Batch *int
}

// AddSource inserts src into the ledger and commits.
func (s *Store) AddSource(ctx context.Context, src *DeliverySource) error {
	if src == nil {
		return errors.New("delivery source is nil")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_sources (project_name, source_name, path, batch)
		 VALUES (?, ?, ?, ?)`,
		src.ProjectName, src.SourceName, src.Path, src.Batch)
	if err != nil {
		return fmt.Errorf("add delivery source %s/%s: %w", src.ProjectName, src.SourceName, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("delivery source id: %w", err)
	}
	src.ID = id
	return nil
}

// GetSource returns the ledger entry for (projectName, sourceName), or
// (nil, nil) when the source has never been delivered.
func (s *Store) GetSource(ctx context.Context, projectName, sourceName string) (*DeliverySource, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_name, source_name, path, batch
		 FROM delivery_sources WHERE project_name = ? AND source_name = ?`,
		projectName, sourceName)

	src, err := scanDeliverySource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return src, err
}

// SourceExists reports whether (projectName, sourceName) is already in the
// ledger. This is the check half of the documented check-then-insert window.
func (s *Store) SourceExists(ctx context.Context, projectName, sourceName string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM delivery_sources WHERE project_name = ? AND source_name = ?`,
		projectName, sourceName).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delivery source exists: %w", err)
	}
	return true, nil
}

// UpdateSourcePath moves the ledger entry to a new physical path. Used by
// forced re-deliveries.
func (s *Store) UpdateSourcePath(ctx context.Context, src *DeliverySource, newPath string) error {
	if src == nil {
		return errors.New("delivery source is nil")
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE delivery_sources SET path = ? WHERE id = ?`, newPath, src.ID)
	if err != nil {
		return fmt.Errorf("update delivery source path: %w", err)
	}
	src.Path = newPath
	return nil
}

// ListSources returns the whole ledger, oldest first.
func (s *Store) ListSources(ctx context.Context) ([]DeliverySource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_name, source_name, path, batch
		 FROM delivery_sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list delivery sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []DeliverySource
	for rows.Next() {
		src, err := scanDeliverySource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *src)
	}
	return out, rows.Err()
}

// MaxBatchNumber returns the highest batch number recorded for the project,
// or 0 when the project has never had a batched delivery.
func (s *Store) MaxBatchNumber(ctx context.Context, projectName string) (int, error) {
	var maxBatch sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(batch) FROM delivery_sources WHERE project_name = ?`,
		projectName).Scan(&maxBatch)
	if err != nil {
		return 0, fmt.Errorf("max batch number for %s: %w", projectName, err)
	}
	if !maxBatch.Valid {
		return 0, nil
	}
	return int(maxBatch.Int64), nil
}

func scanDeliverySource(row rowScanner) (*DeliverySource, error) {
	var src DeliverySource
	var batch sql.NullInt64

	if err := row.Scan(&src.ID, &src.ProjectName, &src.SourceName, &src.Path, &batch); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan delivery source: %w", err)
	}
	if batch.Valid {
		v := int(batch.Int64)
		src.Batch = &v
	}
	return &src, nil
}
