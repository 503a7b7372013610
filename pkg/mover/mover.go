// Package mover hands staged directories to the external mover transfer
// tool and tracks each hand-off as a durable delivery order.
//
// A delivery has two external touch points: `to_outbox`, which enqueues the
// staged source with mover and prints the delivery id mover assigned, and
// `moverinfo`, which reports the current transfer status for that id. Both
// are plain executables under the configured mover directory.
package mover

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/johandahlberg/arteria-delivery/pkg/execservice"
	"github.com/johandahlberg/arteria-delivery/pkg/fileservice"
	"github.com/johandahlberg/arteria-delivery/pkg/orderstore"
)

var (
	// ErrOrderNotFound is returned when no delivery order has the given id.
	ErrOrderNotFound = errors.New("delivery order not found")

	// ErrInvalidState is returned when an order is not in a state that
	// permits the requested transition.
	ErrInvalidState = errors.New("delivery order in invalid state")

	// ErrCannotParseMoverOutput is returned when to_outbox or moverinfo
	// produced output the service does not understand.
	ErrCannotParseMoverOutput = errors.New("cannot parse mover output")
)

// to_outbox prints e.g. "id=db82b5c0-a0ff-4560-9f81-7d976add4be6 Found 1 files".
// A bare token without the id= prefix is not accepted.
var moverIDPattern = regexp.MustCompile(`id=(\S+) Found`)

// moverinfo leads with the status token, e.g. "Delivered: Jun 1 14:32:03".
var moverStatusPattern = regexp.MustCompile(`^(\w+):`)

// ParseMoverID extracts the delivery id mover assigned from to_outbox output.
func ParseMoverID(output string) (string, error) {
	match := moverIDPattern.FindStringSubmatch(output)
	if match == nil {
		return "", fmt.Errorf("%w: no delivery id in %q", ErrCannotParseMoverOutput, strings.TrimSpace(output))
	}
	return match[1], nil
}

// ParseMoverStatus extracts the leading status token from moverinfo output.
func ParseMoverStatus(output string) (string, error) {
	match := moverStatusPattern.FindStringSubmatch(strings.TrimSpace(output))
	if match == nil {
		return "", fmt.Errorf("%w: no status token in %q", ErrCannotParseMoverOutput, strings.TrimSpace(output))
	}
	return match[1], nil
}

// Service drives the delivery order state machine.
type Service struct {
	moverPath string

	// to_outbox and moverinfo get separate runners so each can be
	// substituted independently in tests.
	toOutboxRunner  execservice.Runner
	moverInfoRunner execservice.Runner

	store  *orderstore.Store
	fs     *fileservice.Service
	logger *zap.Logger
}

func NewService(moverPath string, toOutboxRunner, moverInfoRunner execservice.Runner,
	store *orderstore.Store, fs *fileservice.Service, logger *zap.Logger) *Service {
	return &Service{
		moverPath:       moverPath,
		toOutboxRunner:  toOutboxRunner,
		moverInfoRunner: moverInfoRunner,
		store:           store,
		fs:              fs,
		logger:          logger,
	}
}

// DeliverByStagingID creates a delivery order for a successfully staged
// source and, unless skipMover is set, hands it to to_outbox in the
// background. The returned order reflects the state at creation time; poll
// UpdateDeliveryStatus for progress.
func (s *Service) DeliverByStagingID(ctx context.Context, stagingOrderID int64,
	deliveryProject, md5sumFile string, skipMover bool) (*orderstore.DeliveryOrder, error) {

	stagingOrder, err := s.store.GetStagingOrderByID(ctx, stagingOrderID)
	if err != nil {
		return nil, err
	}
	if stagingOrder == nil || stagingOrder.Status != orderstore.StagingSuccessful {
		return nil, fmt.Errorf("%w: staging order %d is not staging_successful",
			ErrInvalidState, stagingOrderID)
	}

	// rsync copies the source into the staging target, so the staged
	// content lives one level below it.
	deliverySource := filepath.Join(stagingOrder.StagingTarget, s.fs.Basename(stagingOrder.Source))

	order, err := s.store.CreateDeliveryOrder(ctx, orderstore.CreateDeliveryOrderParams{
		DeliverySource:  deliverySource,
		DeliveryProject: deliveryProject,
		DeliveryStatus:  orderstore.DeliveryPending,
		StagingOrderID:  stagingOrderID,
		MD5SumFile:      md5sumFile,
	})
	if err != nil {
		return nil, err
	}

	if skipMover {
		s.logger.Info("skipping mover for delivery order",
			zap.Int64("delivery_order_id", order.ID),
			zap.String("delivery_source", order.DeliverySource))
		order.DeliveryStatus = orderstore.DeliverySkipped
		if err := s.store.UpdateDeliveryOrder(ctx, order); err != nil {
			return nil, err
		}
		return order, nil
	}

	order.DeliveryStatus = orderstore.MoverProcessingDelivery
	if err := s.store.UpdateDeliveryOrder(ctx, order); err != nil {
		return nil, err
	}

	go s.runMover(order.ID)
	return order, nil
}

// runMover owns the delivery order from hand-off until a post-mover state is
// committed. It re-fetches the order by id so it never shares a struct with
// request handlers.
func (s *Service) runMover(orderID int64) {
	ctx := context.Background()

	order, err := s.store.GetDeliveryOrderByID(ctx, orderID)
	if err != nil || order == nil {
		s.logger.Error("cannot load delivery order for mover run",
			zap.Int64("delivery_order_id", orderID), zap.Error(err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while running mover",
				zap.Int64("delivery_order_id", orderID), zap.Any("panic", r))
			order.DeliveryStatus = orderstore.DeliveryFailed
		}
		if err := s.store.UpdateDeliveryOrder(ctx, order); err != nil {
			s.logger.Error("cannot commit delivery order state",
				zap.Int64("delivery_order_id", orderID), zap.Error(err))
		}
	}()

	cmd := []string{filepath.Join(s.moverPath, "to_outbox"), order.DeliverySource, order.DeliveryProject}
	if order.MD5SumFile != "" {
		cmd = append(cmd, order.MD5SumFile)
	}

	execution, err := s.toOutboxRunner.Start(cmd)
	if err != nil {
		s.logger.Error("cannot start to_outbox",
			zap.Int64("delivery_order_id", orderID), zap.Error(err))
		order.DeliveryStatus = orderstore.DeliveryFailed
		return
	}

	order.MoverPid = &execution.Pid
	if err := s.store.UpdateDeliveryOrder(ctx, order); err != nil {
		s.logger.Error("cannot record mover pid",
			zap.Int64("delivery_order_id", orderID), zap.Error(err))
	}

	result, err := s.toOutboxRunner.WaitFor(execution)
	if err != nil {
		s.logger.Error("waiting for to_outbox failed",
			zap.Int64("delivery_order_id", orderID), zap.Error(err))
		order.DeliveryStatus = orderstore.DeliveryFailed
		return
	}

	if result.ExitCode != 0 {
		s.logger.Error("to_outbox exited with a non-zero code",
			zap.Int64("delivery_order_id", orderID),
			zap.Int("exit_code", result.ExitCode),
			zap.String("stderr", result.Stderr))
		order.DeliveryStatus = orderstore.MoverFailedDelivery
		return
	}

	moverID, err := ParseMoverID(result.Stdout)
	if err != nil {
		s.logger.Error("to_outbox succeeded but its output is unusable",
			zap.Int64("delivery_order_id", orderID),
			zap.String("stdout", result.Stdout))
		order.DeliveryStatus = orderstore.DeliveryFailed
		return
	}

	s.logger.Info("mover accepted delivery",
		zap.Int64("delivery_order_id", orderID),
		zap.String("mover_delivery_id", moverID))
	order.MoverDeliveryID = moverID
	order.DeliveryStatus = orderstore.DeliveryInProgress
}

// UpdateDeliveryStatus polls moverinfo for an in-flight order and commits
// delivery_successful once mover reports the transfer as Delivered. Orders in
// any other state are returned as-is.
func (s *Service) UpdateDeliveryStatus(ctx context.Context, orderID int64) (*orderstore.DeliveryOrder, error) {
	order, err := s.store.GetDeliveryOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: id %d", ErrOrderNotFound, orderID)
	}

	if order.DeliveryStatus != orderstore.DeliveryInProgress || order.MoverDeliveryID == "" {
		return order, nil
	}

	cmd := []string{filepath.Join(s.moverPath, "moverinfo"), "-i", order.MoverDeliveryID}
	result, err := s.moverInfoRunner.RunAndWait(cmd)
	if err != nil {
		return nil, fmt.Errorf("run moverinfo for order %d: %w", orderID, err)
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("%w: moverinfo exited with %d: %s",
			ErrCannotParseMoverOutput, result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	status, err := ParseMoverStatus(result.Stdout)
	if err != nil {
		return nil, err
	}

	if status == "Delivered" {
		order.DeliveryStatus = orderstore.DeliverySuccessful
		if err := s.store.UpdateDeliveryOrder(ctx, order); err != nil {
			return nil, err
		}
	} else {
		s.logger.Debug("mover has not finished the delivery yet",
			zap.Int64("delivery_order_id", orderID),
			zap.String("mover_status", status))
	}
	return order, nil
}

// GetDeliveryOrderByID returns the order with the given id.
func (s *Service) GetDeliveryOrderByID(ctx context.Context, id int64) (*orderstore.DeliveryOrder, error) {
	order, err := s.store.GetDeliveryOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	return order, nil
}

// GetStatusOfDeliveryOrder refreshes the order via moverinfo when applicable
// and returns its current status.
func (s *Service) GetStatusOfDeliveryOrder(ctx context.Context, id int64) (orderstore.DeliveryStatus, error) {
	order, err := s.UpdateDeliveryStatus(ctx, id)
	if err != nil {
		return "", err
	}
	return order.DeliveryStatus, nil
}
