package fs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"attache/internal/attache"
)

// OSFilesystemManager is the real filesystem implementation of FilesystemManager.
// Scratch directories are created under workDir, or the OS temp directory
// when workDir is empty.
type OSFilesystemManager struct {
	workDir string
}

// NewOSFilesystemManager creates a new filesystem manager that operates on the real filesystem.
func NewOSFilesystemManager(workDir string) *OSFilesystemManager {
	return &OSFilesystemManager{workDir: workDir}
}

// Resolve converts a raw path to an absolute path without touching the filesystem.
func (m *OSFilesystemManager) Resolve(rawPath string) (string, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return "", fmt.Errorf("resolving absolute path: %w", err)
	}
	return absPath, nil
}

// Exists reports whether path exists. Symlinks are followed.
func (m *OSFilesystemManager) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("checking existence: %w", err)
}

// Stat returns fresh stat data for path.
func (m *OSFilesystemManager) Stat(path string) (*attache.FileStat, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat path: %w", err)
	}
	return &attache.FileStat{
		Size:       info.Size(),
		ModTime:    info.ModTime(),
		ChangeTime: changeTime(info),
		Regular:    info.Mode().IsRegular(),
	}, nil
}

// MkdirTemp creates a scratch directory.
func (m *OSFilesystemManager) MkdirTemp(pattern string) (string, error) {
	if m.workDir != "" {
		if err := os.MkdirAll(m.workDir, 0755); err != nil {
			return "", fmt.Errorf("creating work directory: %w", err)
		}
	}
	dir, err := os.MkdirTemp(m.workDir, pattern)
	if err != nil {
		return "", fmt.Errorf("creating scratch directory: %w", err)
	}
	return dir, nil
}

// RemoveAll deletes path and everything below it.
func (m *OSFilesystemManager) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// Compile-time check that OSFilesystemManager implements attache.FilesystemManager interface
var _ attache.FilesystemManager = (*OSFilesystemManager)(nil)
