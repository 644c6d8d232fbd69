package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"attache/internal/attache"
)

// FileSystemProvider stores files below a root directory, mirroring the
// storage path:
//
//	<root>/<directory>/<uploadDirectory>/<id>-<style><ext>
type FileSystemProvider struct {
	root    string
	baseURL string
}

// NewFileSystemProvider creates a provider rooted at root. When baseURL is
// empty, URLs are file:// URLs of the stored file.
func NewFileSystemProvider(root, baseURL string) (*FileSystemProvider, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving storage root: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}

	return &FileSystemProvider{
		root:    absRoot,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// URL returns the URL of a storage path.
func (p *FileSystemProvider) URL(storagePath string) string {
	if p.baseURL == "" {
		return "file://" + filepath.ToSlash(p.localPath(storagePath))
	}
	return p.baseURL + path.Clean("/"+storagePath)
}

// CreateOrReplace copies req.Filename to its place below the root.
func (p *FileSystemProvider) CreateOrReplace(_ context.Context, req *attache.PersistRequest) (*attache.PersistResult, error) {
	dest := p.localPath(req.Path)

	mtype, err := mimetype.DetectFile(req.Filename)
	if err != nil {
		return nil, fmt.Errorf("detecting content type: %w", err)
	}

	src, err := os.Open(req.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", req.Filename, err)
	}
	defer src.Close()

	expected := int64(-1)
	if req.Stat != nil {
		expected = req.Stat.Size
	}
	if err := writeFile(dest, src, expected); err != nil {
		return nil, err
	}

	return &attache.PersistResult{DefaultURL: p.URL(req.Path), MIME: mtype.String()}, nil
}

// ValidateSetup verifies that the root directory is accessible.
func (p *FileSystemProvider) ValidateSetup() error {
	info, err := os.Stat(p.root)
	if err != nil {
		return fmt.Errorf("storage root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root is not a directory: %s", p.root)
	}
	return nil
}

// localPath maps a storage path below the root. Storage paths are cleaned
// as rooted paths first, so ".." cannot escape the root.
func (p *FileSystemProvider) localPath(storagePath string) string {
	clean := path.Clean("/" + storagePath)
	return filepath.Join(p.root, filepath.FromSlash(clean))
}

// writeFile writes data from r to destPath using atomic write (temp file + rename).
// A negative expectedSize skips the size check.
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Temp file in the same directory so the rename stays on one filesystem
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if expectedSize >= 0 && written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var (
	_ attache.Provider       = (*FileSystemProvider)(nil)
	_ attache.SetupValidator = (*FileSystemProvider)(nil)
)
