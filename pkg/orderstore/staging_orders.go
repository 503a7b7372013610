package orderstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// StagingStatus is the lifecycle state of a staging order.
//
// NOTE: These values are persisted and are part of the stable database
// contract.
type StagingStatus string

const (
	StagingPending    StagingStatus = "pending"
	StagingInProgress StagingStatus = "staging_in_progress"
	StagingSuccessful StagingStatus = "staging_successful"
	StagingFailed     StagingStatus = "staging_failed"
)

// StagingOrder models an order to stage (copy) a directory or file into the
// staging area. The staging engine updates pid and size as the external copy
// progresses.
type StagingOrder struct {
	ID            int64
	Source        string
	Status        StagingStatus
	StagingTarget string
	// Size is the total file size reported by the copy tool, in bytes.
	// Only set once staging completed successfully.
	Size *int64
	// Pid of the copy process. Retained after completion so a stuck order
	// can be diagnosed or killed.
	Pid *int
}

// CreateStagingOrder inserts a new order in the given status and returns it
// with its assigned id. The staging target is filled in by the staging engine
// once the id is known.
func (s *Store) CreateStagingOrder(ctx context.Context, source string, status StagingStatus) (*StagingOrder, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO staging_orders (source, status) VALUES (?, ?)`,
		source, string(status))
	if err != nil {
		return nil, fmt.Errorf("create staging order: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("staging order id: %w", err)
	}
	return &StagingOrder{ID: id, Source: source, Status: status}, nil
}

// GetStagingOrderByID returns the order, or (nil, nil) when no row matches.
// Absence is translated into domain errors by the engines, not here.
func (s *Store) GetStagingOrderByID(ctx context.Context, id int64) (*StagingOrder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, status, staging_target, size, pid
		 FROM staging_orders WHERE id = ?`, id)
	return scanStagingOrder(row)
}

// GetStagingOrdersBySource returns all orders for the given source path.
func (s *Store) GetStagingOrdersBySource(ctx context.Context, source string) ([]StagingOrder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, status, staging_target, size, pid
		 FROM staging_orders WHERE source = ? ORDER BY id`, source)
	if err != nil {
		return nil, fmt.Errorf("staging orders by source: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []StagingOrder
	for rows.Next() {
		order, err := scanStagingOrderRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *order)
	}
	return out, rows.Err()
}

// ListStagingOrders returns all staging orders, oldest first.
func (s *Store) ListStagingOrders(ctx context.Context) ([]StagingOrder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, status, staging_target, size, pid
		 FROM staging_orders ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list staging orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []StagingOrder
	for rows.Next() {
		order, err := scanStagingOrderRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *order)
	}
	return out, rows.Err()
}

// UpdateStagingOrder commits the mutable fields of order. The insert-time
// fields (id, source) are never rewritten.
func (s *Store) UpdateStagingOrder(ctx context.Context, order *StagingOrder) error {
	if order == nil {
		return errors.New("staging order is nil")
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE staging_orders SET status = ?, staging_target = ?, size = ?, pid = ?
		 WHERE id = ?`,
		string(order.Status), nullableString(order.StagingTarget), order.Size, order.Pid, order.ID)
	if err != nil {
		return fmt.Errorf("update staging order %d: %w", order.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStagingOrder(row *sql.Row) (*StagingOrder, error) {
	order, err := scanStagingOrderRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return order, err
}

func scanStagingOrderRow(row rowScanner) (*StagingOrder, error) {
	var order StagingOrder
	var status string
	var target sql.NullString
	var size sql.NullInt64
	var pid sql.NullInt64

	if err := row.Scan(&order.ID, &order.Source, &status, &target, &size, &pid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan staging order: %w", err)
	}

	order.Status = StagingStatus(status)
	order.StagingTarget = target.String
	if size.Valid {
		v := size.Int64
		order.Size = &v
	}
	if pid.Valid {
		v := int(pid.Int64)
		order.Pid = &v
	}
	return &order, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
