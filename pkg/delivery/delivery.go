// Package delivery is the policy layer above staging: it resolves which
// runfolders and projects a delivery request refers to, enforces the
// already-delivered ledger, numbers multi-runfolder batches, and builds the
// symlink farms that present several runfolders as one staging source.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/johandahlberg/arteria-delivery/pkg/fileservice"
	"github.com/johandahlberg/arteria-delivery/pkg/orderstore"
	"github.com/johandahlberg/arteria-delivery/pkg/runfolders"
	"github.com/johandahlberg/arteria-delivery/pkg/staging"
)

var (
	// ErrProjectAlreadyDelivered is returned when the ledger already holds a
	// matching source and the caller did not ask for a forced re-delivery.
	ErrProjectAlreadyDelivered = errors.New("project has already been delivered")

	// ErrUnknownDeliveryMode is returned when a mode string is outside the
	// closed CLEAN / BATCH / FORCE set.
	ErrUnknownDeliveryMode = errors.New("unknown delivery mode")
)

// Mode governs how a multi-runfolder delivery treats runfolders that are
// already in the ledger.
type Mode int

const (
	// ModeClean aborts the whole delivery if any runfolder was delivered before.
	ModeClean Mode = iota
	// ModeBatch silently skips previously delivered runfolders.
	ModeBatch
	// ModeForce re-delivers everything, moving ledger paths as needed.
	ModeForce
)

func (m Mode) String() string {
	switch m {
	case ModeClean:
		return "CLEAN"
	case ModeBatch:
		return "BATCH"
	case ModeForce:
		return "FORCE"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode maps the API-facing mode string onto the closed Mode set.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(s) {
	case "CLEAN":
		return ModeClean, nil
	case "BATCH":
		return ModeBatch, nil
	case "FORCE":
		return ModeForce, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDeliveryMode, s)
}

// Service turns user-facing delivery requests into staged sources.
type Service struct {
	stagingService *staging.Service
	runfolderRepo  *runfolders.Repository
	projectRepo    *runfolders.GeneralProjectRepository
	store          *orderstore.Store
	fs             *fileservice.Service

	projectLinksDir string
	logger          *zap.Logger
}

func NewService(stagingService *staging.Service, runfolderRepo *runfolders.Repository,
	projectRepo *runfolders.GeneralProjectRepository, store *orderstore.Store,
	fileService *fileservice.Service, projectLinksDir string, logger *zap.Logger) *Service {
	return &Service{
		stagingService:  stagingService,
		runfolderRepo:   runfolderRepo,
		projectRepo:     projectRepo,
		store:           store,
		fs:              fileService,
		projectLinksDir: projectLinksDir,
		logger:          logger,
	}
}

// DeliverSingleRunfolder stages every project of the named runfolder, or only
// the named subset when onlyProjects is non-empty. Returns a map of project
// name to the staging order that now copies it.
func (s *Service) DeliverSingleRunfolder(ctx context.Context, runfolderName string,
	onlyProjects []string, force bool) (map[string]int64, error) {

	runfolder, err := s.runfolderRepo.Runfolder(runfolderName)
	if err != nil {
		return nil, err
	}

	projects := runfolder.Projects
	if len(onlyProjects) > 0 {
		projects, err = filterProjects(runfolder, onlyProjects)
		if err != nil {
			return nil, err
		}
	}

	orderIDs := make(map[string]int64, len(projects))
	for _, project := range projects {
		sourceName := runfolderName + "/" + project.Name
		if err := s.registerSource(ctx, project.Name, sourceName, project.Path, force); err != nil {
			return nil, err
		}
		orderID, err := s.stage(ctx, project.Path)
		if err != nil {
			return nil, err
		}
		orderIDs[project.Name] = orderID
	}
	return orderIDs, nil
}

// DeliverArbitraryDirectoryProject stages a free-standing project directory.
// dirName overrides the directory looked up on disk; it defaults to the
// project name.
func (s *Service) DeliverArbitraryDirectoryProject(ctx context.Context, projectName,
	dirName string, force bool) (map[string]int64, error) {

	if dirName == "" {
		dirName = projectName
	}
	project, err := s.projectRepo.Project(dirName)
	if err != nil {
		return nil, err
	}

	sourceName := s.fs.Basename(project.Path)
	if err := s.registerSource(ctx, projectName, sourceName, project.Path, force); err != nil {
		return nil, err
	}
	orderID, err := s.stage(ctx, project.Path)
	if err != nil {
		return nil, err
	}
	return map[string]int64{projectName: orderID}, nil
}

// DeliverAllRunfoldersForProject gathers every runfolder containing the
// project into one numbered batch, links them under a single directory and
// stages that directory as one source.
func (s *Service) DeliverAllRunfoldersForProject(ctx context.Context, projectName string,
	mode Mode) (map[string]int64, error) {

	candidates, err := s.runfolderRepo.RunfoldersContainingProject(projectName)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no runfolders contain project %s",
			runfolders.ErrProjectNotFound, projectName)
	}

	maxBatch, err := s.store.MaxBatchNumber(ctx, projectName)
	if err != nil {
		return nil, err
	}
	batch := maxBatch + 1

	included, err := s.registerBatchSources(ctx, projectName, candidates, mode, batch)
	if err != nil {
		return nil, err
	}
	if len(included) == 0 {
		return nil, fmt.Errorf("%w: all runfolders for project %s already delivered",
			ErrProjectAlreadyDelivered, projectName)
	}

	linksDir, err := s.createLinksDirectory(projectName, batch, included)
	if err != nil {
		return nil, err
	}

	batchSourceName := projectName + "/batch" + strconv.Itoa(batch)
	if err := s.store.AddSource(ctx, &orderstore.DeliverySource{
		ProjectName: projectName,
		SourceName:  batchSourceName,
		Path:        linksDir,
		Batch:       &batch,
	}); err != nil {
		return nil, err
	}

	orderID, err := s.stage(ctx, linksDir)
	if err != nil {
		return nil, err
	}
	return map[string]int64{projectName: orderID}, nil
}

// CheckStagingStatus reports the current state of a staging order.
func (s *Service) CheckStagingStatus(ctx context.Context, stagingOrderID int64) (*orderstore.StagingOrder, error) {
	order, err := s.stagingService.GetOrderByID(ctx, stagingOrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: id %d", staging.ErrOrderNotFound, stagingOrderID)
	}
	return order, nil
}

// KillStagingProcess attempts to stop an in-flight staging order.
func (s *Service) KillStagingProcess(ctx context.Context, stagingOrderID int64) bool {
	return s.stagingService.KillOrder(ctx, stagingOrderID)
}

// registerSource is the shared check-then-write ledger primitive. The check
// and the insert are two statements, so two racing requests for the same
// source can both pass; the unique index on (project_name, source_name) makes
// the loser's insert fail instead of double-registering.
func (s *Service) registerSource(ctx context.Context, projectName, sourceName, path string, force bool) error {
	existing, err := s.store.GetSource(ctx, projectName, sourceName)
	if err != nil {
		return err
	}
	if existing != nil {
		if !force {
			return fmt.Errorf("%w: %s/%s", ErrProjectAlreadyDelivered, projectName, sourceName)
		}
		s.logger.Info("forced re-delivery, moving ledger entry",
			zap.String("project", projectName),
			zap.String("source", sourceName),
			zap.String("path", path))
		return s.store.UpdateSourcePath(ctx, existing, path)
	}
	return s.store.AddSource(ctx, &orderstore.DeliverySource{
		ProjectName: projectName,
		SourceName:  sourceName,
		Path:        path,
	})
}

// registerBatchSources applies the mode policy to the candidate runfolders
// and records the survivors in the ledger under the given batch number.
func (s *Service) registerBatchSources(ctx context.Context, projectName string,
	candidates []runfolders.Project, mode Mode, batch int) ([]runfolders.Project, error) {

	var included []runfolders.Project
	for _, project := range candidates {
		sourceName := project.RunfolderName + "/" + project.Name
		existing, err := s.store.GetSource(ctx, projectName, sourceName)
		if err != nil {
			return nil, err
		}

		switch mode {
		case ModeClean:
			if existing != nil {
				return nil, fmt.Errorf("%w: %s/%s", ErrProjectAlreadyDelivered,
					projectName, sourceName)
			}
		case ModeBatch:
			if existing != nil {
				s.logger.Info("skipping previously delivered runfolder",
					zap.String("project", projectName),
					zap.String("source", sourceName))
				continue
			}
		case ModeForce:
			if existing != nil {
				if err := s.store.UpdateSourcePath(ctx, existing, project.Path); err != nil {
					return nil, err
				}
				included = append(included, project)
				continue
			}
		}

		if err := s.store.AddSource(ctx, &orderstore.DeliverySource{
			ProjectName: projectName,
			SourceName:  sourceName,
			Path:        project.Path,
			Batch:       &batch,
		}); err != nil {
			return nil, err
		}
		included = append(included, project)
	}
	return included, nil
}

// createLinksDirectory builds <project_links_dir>/<project>/<batch>/ with one
// symlink per included runfolder. Pre-existing directories and links are
// tolerated so a retried batch can pick up where it stopped.
func (s *Service) createLinksDirectory(projectName string, batch int,
	included []runfolders.Project) (string, error) {

	linksDir := filepath.Join(s.projectLinksDir, projectName, strconv.Itoa(batch))
	if err := s.fs.MkdirAll(linksDir); err != nil {
		return "", err
	}

	for _, project := range included {
		link := filepath.Join(linksDir, project.RunfolderName)
		if err := s.fs.Symlink(project.Path, link); err != nil {
			if errors.Is(err, fs.ErrExist) {
				s.logger.Info("link already exists, leaving it in place",
					zap.String("link", link))
				continue
			}
			return "", err
		}
	}
	return linksDir, nil
}

func (s *Service) stage(ctx context.Context, source string) (int64, error) {
	order, err := s.stagingService.CreateOrder(ctx, source)
	if err != nil {
		return 0, err
	}
	if err := s.stagingService.Stage(ctx, order); err != nil {
		return 0, err
	}
	return order.ID, nil
}

func filterProjects(runfolder *runfolders.Runfolder, onlyProjects []string) ([]runfolders.Project, error) {
	byName := make(map[string]runfolders.Project, len(runfolder.Projects))
	for _, project := range runfolder.Projects {
		byName[project.Name] = project
	}

	out := make([]runfolders.Project, 0, len(onlyProjects))
	for _, name := range onlyProjects {
		project, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a project of runfolder %s",
				runfolders.ErrProjectNotFound, name, runfolder.Name)
		}
		out = append(out, project)
	}
	return out, nil
}
