package orderstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DeliveryStatus is the lifecycle state of a delivery order.
//
// NOTE: These values are persisted and are part of the stable database
// contract.
type DeliveryStatus string

const (
	DeliveryPending         DeliveryStatus = "pending"
	MoverProcessingDelivery DeliveryStatus = "mover_processing_delivery"
	MoverFailedDelivery     DeliveryStatus = "mover_failed_delivery"
	DeliveryInProgress      DeliveryStatus = "delivery_in_progress"
	DeliverySuccessful      DeliveryStatus = "delivery_successful"
	DeliveryFailed          DeliveryStatus = "delivery_failed"
	DeliverySkipped         DeliveryStatus = "delivery_skipped"
)

// DeliveryOrder models one hand-off of staged content to the mover tool.
type DeliveryOrder struct {
	ID              int64
	DeliverySource  string
	DeliveryProject string
	MD5SumFile      string
	// MoverPid is the pid of the to_outbox process that started the delivery.
	MoverPid *int
	// MoverDeliveryID is the identifier mover assigns, parsed from to_outbox
	// output and required to poll moverinfo later.
	MoverDeliveryID string
	DeliveryStatus  DeliveryStatus
	// StagingOrderID is a logical reference only; it is validated against the
	// staging table before insert, not enforced by the schema.
	StagingOrderID int64
}

type CreateDeliveryOrderParams struct {
	DeliverySource  string
	DeliveryProject string
	DeliveryStatus  DeliveryStatus
	StagingOrderID  int64
	MD5SumFile      string
}

func (s *Store) CreateDeliveryOrder(ctx context.Context, params CreateDeliveryOrderParams) (*DeliveryOrder, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_orders
		 (delivery_source, delivery_project, md5sum_file, delivery_status, staging_order_id)
		 VALUES (?, ?, ?, ?, ?)`,
		params.DeliverySource, params.DeliveryProject, nullableString(params.MD5SumFile),
		string(params.DeliveryStatus), params.StagingOrderID)
	if err != nil {
		return nil, fmt.Errorf("create delivery order: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("delivery order id: %w", err)
	}
	return &DeliveryOrder{
		ID:              id,
		DeliverySource:  params.DeliverySource,
		DeliveryProject: params.DeliveryProject,
		MD5SumFile:      params.MD5SumFile,
		DeliveryStatus:  params.DeliveryStatus,
		StagingOrderID:  params.StagingOrderID,
	}, nil
}

// GetDeliveryOrderByID returns the order, or (nil, nil) when no row matches.
func (s *Store) GetDeliveryOrderByID(ctx context.Context, id int64) (*DeliveryOrder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, delivery_source, delivery_project, md5sum_file,
		        mover_pid, mover_delivery_id, delivery_status, staging_order_id
		 FROM delivery_orders WHERE id = ?`, id)

	order, err := scanDeliveryOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return order, err
}

// GetDeliveryOrdersForSource returns all delivery orders whose source matches
// the given directory.
func (s *Store) GetDeliveryOrdersForSource(ctx context.Context, sourceDirectory string) ([]DeliveryOrder, error) {
	return s.queryDeliveryOrders(ctx,
		`SELECT id, delivery_source, delivery_project, md5sum_file,
		        mover_pid, mover_delivery_id, delivery_status, staging_order_id
		 FROM delivery_orders WHERE delivery_source = ? ORDER BY id`, sourceDirectory)
}

// ListDeliveryOrders returns all delivery orders, oldest first.
func (s *Store) ListDeliveryOrders(ctx context.Context) ([]DeliveryOrder, error) {
	return s.queryDeliveryOrders(ctx,
		`SELECT id, delivery_source, delivery_project, md5sum_file,
		        mover_pid, mover_delivery_id, delivery_status, staging_order_id
		 FROM delivery_orders ORDER BY id`)
}

// UpdateDeliveryOrder commits the mutable fields of order.
func (s *Store) UpdateDeliveryOrder(ctx context.Context, order *DeliveryOrder) error {
	if order == nil {
		return errors.New("delivery order is nil")
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE delivery_orders
		 SET delivery_status = ?, mover_pid = ?, mover_delivery_id = ?
		 WHERE id = ?`,
		string(order.DeliveryStatus), order.MoverPid,
		nullableString(order.MoverDeliveryID), order.ID)
	if err != nil {
		return fmt.Errorf("update delivery order %d: %w", order.ID, err)
	}
	return nil
}

func (s *Store) queryDeliveryOrders(ctx context.Context, query string, args ...any) ([]DeliveryOrder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query delivery orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []DeliveryOrder
	for rows.Next() {
		order, err := scanDeliveryOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *order)
	}
	return out, rows.Err()
}

func scanDeliveryOrder(row rowScanner) (*DeliveryOrder, error) {
	var order DeliveryOrder
	var status string
	var md5 sql.NullString
	var moverPid sql.NullInt64
	var moverID sql.NullString
	var stagingID sql.NullInt64

	err := row.Scan(&order.ID, &order.DeliverySource, &order.DeliveryProject, &md5,
		&moverPid, &moverID, &status, &stagingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan delivery order: %w", err)
	}

	order.DeliveryStatus = DeliveryStatus(status)
	order.MD5SumFile = md5.String
	order.MoverDeliveryID = moverID.String
	if moverPid.Valid {
		v := int(moverPid.Int64)
		order.MoverPid = &v
	}
	order.StagingOrderID = stagingID.Int64
	return &order, nil
}
