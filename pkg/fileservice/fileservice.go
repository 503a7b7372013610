// Package fileservice is a thin gateway over the parts of the filesystem the
// delivery service touches. Keeping it behind a small struct makes runfolder
// scanning and symlink-farm creation mockable in unit tests.
package fileservice

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

type Service struct{}

func New() *Service {
	return &Service{}
}

// ListDirectories returns the absolute paths of all directories directly
// under basePath.
func (s *Service) ListDirectories(basePath string) ([]string, error) {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		return nil, fmt.Errorf("list directories in %s: %w", basePath, err)
	}

	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		abs, err := filepath.Abs(filepath.Join(basePath, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", entry.Name(), err)
		}
		dirs = append(dirs, abs)
	}
	return dirs, nil
}

func (s *Service) IsFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (s *Service) IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (s *Service) Basename(path string) string {
	return filepath.Base(path)
}

func (s *Service) Abspath(path string) (string, error) {
	return filepath.Abs(path)
}

// Symlink creates a symlink at dst pointing to src. Callers in the batching
// path treat an already-existing link as a retry, so ErrExist passes through
// unwrapped for errors.Is checks.
func (s *Service) Symlink(src, dst string) error {
	return os.Symlink(src, dst)
}

// MkdirAll creates dir and any missing parents.
func (s *Service) MkdirAll(dir string) error {
	// #nosec G301 -- staging areas are shared with the transfer tooling
	return os.MkdirAll(dir, 0o755)
}

// Mkdir creates a single directory, failing with ErrExist if it is already
// there. The orchestration layer logs and continues on ErrExist.
func (s *Service) Mkdir(dir string) error {
	// #nosec G301 -- staging areas are shared with the transfer tooling
	return os.Mkdir(dir, 0o755)
}

// DirectorySize walks path and sums regular file sizes. Used by tests to
// verify staged byte counts independently of rsync's stats output.
func (s *Service) DirectorySize(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("size of %s: %w", path, err)
	}
	return total, nil
}
