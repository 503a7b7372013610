// Package staging drives staging orders from pending to a terminal state by
// copying their source into the staging area with rsync.
package staging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/johandahlberg/arteria-delivery/pkg/execservice"
	"github.com/johandahlberg/arteria-delivery/pkg/fileservice"
	"github.com/johandahlberg/arteria-delivery/pkg/orderstore"
)

var (
	// ErrInvalidState rejects operations that would skip or reverse a state
	// transition, e.g. staging an order that is not pending.
	ErrInvalidState = errors.New("invalid staging order state")

	// ErrUnrecognizedSourceType rejects sources that are neither an existing
	// file nor an existing directory.
	ErrUnrecognizedSourceType = errors.New("source is neither a file nor a directory")

	ErrOrderNotFound = errors.New("staging order not found")
)

// rsync --stats prints e.g. "Total file size: 207,707,566 bytes".
var totalFileSizePattern = regexp.MustCompile(`Total file size: ([\d,]+) bytes`)

// ParseTotalFileSize extracts the byte count from rsync's stats output.
// Missing stats are an error, never a silent zero.
func ParseTotalFileSize(rsyncOutput string) (int64, error) {
	match := totalFileSizePattern.FindStringSubmatch(rsyncOutput)
	if match == nil {
		return 0, fmt.Errorf("no total file size found in rsync output")
	}
	size, err := strconv.ParseInt(strings.ReplaceAll(match[1], ",", ""), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse rsync size %q: %w", match[1], err)
	}
	return size, nil
}

// Service is the staging engine. Copy processes run in background goroutines
// which re-fetch their order from the store by id; no live order object ever
// crosses a goroutine boundary.
type Service struct {
	stagingDir string
	runner     execservice.Runner
	store      *orderstore.Store
	fs         *fileservice.Service
	logger     *zap.Logger

	// signalProcess delivers the kill signal; replaced in tests.
	signalProcess func(pid int) error
}

func NewService(stagingDir string, runner execservice.Runner, store *orderstore.Store, fs *fileservice.Service, logger *zap.Logger) *Service {
	return &Service{
		stagingDir: stagingDir,
		runner:     runner,
		store:      store,
		fs:         fs,
		logger:     logger,
		signalProcess: func(pid int) error {
			return syscall.Kill(pid, syscall.SIGTERM)
		},
	}
}

// CreateOrder persists a new pending order for source and computes its
// staging target as <staging_dir>/<id>_<basename(source)>. The target is
// derived once, here, and never recomputed.
func (s *Service) CreateOrder(ctx context.Context, source string) (*orderstore.StagingOrder, error) {
	var baseName string
	switch {
	case s.fs.IsFile(source):
		baseName = s.fs.Basename(source)
	case s.fs.IsDir(source):
		abs, err := s.fs.Abspath(source)
		if err != nil {
			return nil, fmt.Errorf("resolve source %s: %w", source, err)
		}
		baseName = s.fs.Basename(abs)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnrecognizedSourceType, source)
	}

	order, err := s.store.CreateStagingOrder(ctx, source, orderstore.StagingPending)
	if err != nil {
		return nil, err
	}

	order.StagingTarget = fmt.Sprintf("%s/%d_%s", s.stagingDir, order.ID, baseName)
	if err := s.store.UpdateStagingOrder(ctx, order); err != nil {
		return nil, err
	}

	s.logger.Debug("created staging order",
		zap.Int64("staging_order_id", order.ID),
		zap.String("source", source),
		zap.String("staging_target", order.StagingTarget))

	return order, nil
}

// Stage validates the order and hands the copy to a background goroutine.
// It returns once staging_in_progress is committed; the eventual outcome is
// only observable through the order's persisted status.
func (s *Service) Stage(ctx context.Context, order *orderstore.StagingOrder) error {
	if order == nil {
		return ErrOrderNotFound
	}
	if order.Status != orderstore.StagingPending {
		return fmt.Errorf("%w: cannot start staging an order with status %s", ErrInvalidState, order.Status)
	}

	order.Status = orderstore.StagingInProgress
	if err := s.store.UpdateStagingOrder(ctx, order); err != nil {
		return err
	}

	go s.runCopy(order.ID)
	return nil
}

// runCopy owns the order's terminal commit. Whatever happens in here, a
// terminal status is written before the goroutine exits.
func (s *Service) runCopy(orderID int64) {
	ctx := context.Background()

	order, err := s.store.GetStagingOrderByID(ctx, orderID)
	if err != nil || order == nil {
		s.logger.Error("background copy could not re-fetch its order",
			zap.Int64("staging_order_id", orderID), zap.Error(err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			order.Status = orderstore.StagingFailed
			s.logger.Error("panic during staging",
				zap.Int64("staging_order_id", order.ID), zap.Any("panic", r))
		}
		if err := s.store.UpdateStagingOrder(ctx, order); err != nil {
			s.logger.Error("failed to commit terminal staging status",
				zap.Int64("staging_order_id", order.ID), zap.Error(err))
		}
	}()

	execution, err := s.runner.Start([]string{
		"rsync", "--stats", "-r", "--copy-links", order.Source, order.StagingTarget,
	})
	if err != nil {
		order.Status = orderstore.StagingFailed
		s.logger.Error("failed to launch rsync",
			zap.Int64("staging_order_id", order.ID), zap.Error(err))
		return
	}

	order.Pid = &execution.Pid
	if err := s.store.UpdateStagingOrder(ctx, order); err != nil {
		s.logger.Error("failed to record rsync pid",
			zap.Int64("staging_order_id", order.ID), zap.Error(err))
	}

	result, err := s.runner.WaitFor(execution)
	if err != nil {
		order.Status = orderstore.StagingFailed
		s.logger.Error("failed waiting for rsync",
			zap.Int64("staging_order_id", order.ID), zap.Error(err))
		return
	}

	if result.ExitCode != 0 {
		order.Status = orderstore.StagingFailed
		s.logger.Info("staging failed",
			zap.Int64("staging_order_id", order.ID),
			zap.Int("exit_code", result.ExitCode),
			zap.String("stderr", result.Stderr))
		return
	}

	size, err := ParseTotalFileSize(result.Stdout)
	if err != nil {
		order.Status = orderstore.StagingFailed
		s.logger.Error("staging succeeded but stats were unparsable",
			zap.Int64("staging_order_id", order.ID), zap.Error(err))
		return
	}

	order.Size = &size
	order.Status = orderstore.StagingSuccessful
	s.logger.Info("successfully staged",
		zap.Int64("staging_order_id", order.ID),
		zap.String("source", order.Source),
		zap.String("staging_target", order.StagingTarget),
		zap.Int64("size", size))
}

// GetOrderByID returns the order, or nil when it does not exist.
func (s *Service) GetOrderByID(ctx context.Context, id int64) (*orderstore.StagingOrder, error) {
	return s.store.GetStagingOrderByID(ctx, id)
}

// StatusOf returns the persisted status of the order, or ErrOrderNotFound.
func (s *Service) StatusOf(ctx context.Context, id int64) (orderstore.StagingStatus, error) {
	order, err := s.store.GetStagingOrderByID(ctx, id)
	if err != nil {
		return "", err
	}
	if order == nil {
		return "", fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	return order.Status, nil
}

// KillOrder terminates the copy process of an in-progress order.
//
// Only staging_in_progress orders are killable. A signal failure (process
// already gone, permission denied) is reported as false and leaves the status
// untouched; a delivered signal flips the order to staging_failed.
func (s *Service) KillOrder(ctx context.Context, id int64) bool {
	order, err := s.store.GetStagingOrderByID(ctx, id)
	if err != nil || order == nil {
		s.logger.Warn("cannot kill unknown staging order",
			zap.Int64("staging_order_id", id), zap.Error(err))
		return false
	}

	if order.Status != orderstore.StagingInProgress {
		s.logger.Warn("staging order is not in a killable state",
			zap.Int64("staging_order_id", id),
			zap.String("status", string(order.Status)))
		return false
	}
	if order.Pid == nil {
		s.logger.Warn("staging order has no recorded pid",
			zap.Int64("staging_order_id", id))
		return false
	}

	if err := s.signalProcess(*order.Pid); err != nil {
		s.logger.Error("failed to kill staging process",
			zap.Int64("staging_order_id", id),
			zap.Int("pid", *order.Pid), zap.Error(err))
		return false
	}

	s.logger.Debug("killed staging process",
		zap.Int64("staging_order_id", id), zap.Int("pid", *order.Pid))

	order.Status = orderstore.StagingFailed
	if err := s.store.UpdateStagingOrder(ctx, order); err != nil {
		s.logger.Error("failed to commit killed status",
			zap.Int64("staging_order_id", id), zap.Error(err))
		return false
	}
	return true
}
