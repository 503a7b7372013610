// Package runfolders resolves sequencing runfolders and projects from the
// filesystem.
//
// Nothing here is cached or persisted: every call re-reads the directory
// tree, so the view is always current and equality is by path.
package runfolders

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/johandahlberg/arteria-delivery/pkg/fileservice"
)

var (
	ErrRunfolderNotFound    = errors.New("runfolder not found")
	ErrProjectNotFound      = errors.New("project not found")
	ErrTooManyProjectsFound = errors.New("too many projects found")
)

// Runfolder is one sequencing run directory, with its per-project
// subdirectories under <runfolder>/Projects.
type Runfolder struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Projects []Project `json:"projects,omitempty"`
}

// Project is a project directory inside a runfolder.
type Project struct {
	Name          string `json:"name"`
	Path          string `json:"path"`
	RunfolderPath string `json:"runfolder_path"`
	RunfolderName string `json:"runfolder_name"`
}

// GeneralProject is a free-standing project directory outside any runfolder.
type GeneralProject struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Runfolder directories start with a date stamp, e.g.
// 160930_ST-E00216_0111_BH37CWALXX.
var runfolderPattern = regexp.MustCompile(`^\d+_`)

// Repository materializes runfolders and their projects from a base
// directory.
type Repository struct {
	basePath string
	fs       *fileservice.Service
}

func NewRepository(basePath string, fs *fileservice.Service) *Repository {
	return &Repository{basePath: basePath, fs: fs}
}

// Runfolders lists every runfolder under the base directory. Runfolders whose
// fastq files have not yet been divided into projects have an empty Projects
// slice.
func (r *Repository) Runfolders() ([]Runfolder, error) {
	directories, err := r.fs.ListDirectories(r.basePath)
	if err != nil {
		return nil, fmt.Errorf("scan runfolder directory: %w", err)
	}

	var out []Runfolder
	for _, dir := range directories {
		name := r.fs.Basename(dir)
		if !runfolderPattern.MatchString(name) {
			continue
		}

		runfolder := Runfolder{Name: name, Path: dir}

		projectsBase := filepath.Join(dir, "Projects")
		if r.fs.IsDir(projectsBase) {
			projectDirs, err := r.fs.ListDirectories(projectsBase)
			if err != nil {
				return nil, fmt.Errorf("scan projects of %s: %w", name, err)
			}
			for _, projectDir := range projectDirs {
				runfolder.Projects = append(runfolder.Projects, Project{
					Name:          r.fs.Basename(projectDir),
					Path:          projectDir,
					RunfolderPath: dir,
					RunfolderName: name,
				})
			}
		}

		out = append(out, runfolder)
	}
	return out, nil
}

// Runfolder returns the runfolder matching name, or ErrRunfolderNotFound.
func (r *Repository) Runfolder(name string) (*Runfolder, error) {
	all, err := r.Runfolders()
	if err != nil {
		return nil, err
	}

	var matches []Runfolder
	for _, rf := range all {
		if rf.Name == name {
			matches = append(matches, rf)
		}
	}
	if len(matches) > 1 {
		return nil, fmt.Errorf("found more than one runfolder matching %s", name)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunfolderNotFound, name)
	}
	return &matches[0], nil
}

// Projects lists the projects of all known runfolders.
func (r *Repository) Projects() ([]Project, error) {
	all, err := r.Runfolders()
	if err != nil {
		return nil, err
	}

	var out []Project
	for _, rf := range all {
		out = append(out, rf.Projects...)
	}
	return out, nil
}

// RunfoldersContainingProject returns the project entry of every runfolder
// that carries projectName. An empty result is not an error here; the
// orchestration layer decides whether that is ProjectNotFound.
func (r *Repository) RunfoldersContainingProject(projectName string) ([]Project, error) {
	projects, err := r.Projects()
	if err != nil {
		return nil, err
	}

	var out []Project
	for _, p := range projects {
		if p.Name == projectName {
			out = append(out, p)
		}
	}
	return out, nil
}

// GeneralProjectRepository resolves free-standing project directories in a
// configured root directory.
type GeneralProjectRepository struct {
	rootDirectory string
	fs            *fileservice.Service
}

func NewGeneralProjectRepository(rootDirectory string, fs *fileservice.Service) *GeneralProjectRepository {
	return &GeneralProjectRepository{rootDirectory: rootDirectory, fs: fs}
}

// Projects lists all general projects under the root directory.
func (r *GeneralProjectRepository) Projects() ([]GeneralProject, error) {
	directories, err := r.fs.ListDirectories(r.rootDirectory)
	if err != nil {
		return nil, fmt.Errorf("scan project directory: %w", err)
	}

	var out []GeneralProject
	for _, dir := range directories {
		out = append(out, GeneralProject{Name: r.fs.Basename(dir), Path: dir})
	}
	return out, nil
}

// Project returns the general project matching name exactly.
func (r *GeneralProjectRepository) Project(name string) (*GeneralProject, error) {
	projects, err := r.Projects()
	if err != nil {
		return nil, err
	}

	var matches []GeneralProject
	for _, p := range projects {
		if p.Name == name {
			matches = append(matches, p)
		}
	}
	if len(matches) > 1 {
		return nil, fmt.Errorf("%w: %s", ErrTooManyProjectsFound, name)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, name)
	}
	return &matches[0], nil
}
