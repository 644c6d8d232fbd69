package attache

import "time"

// FileStat is the subset of stat data the pipeline records for a file.
type FileStat struct {
	Size       int64
	ModTime    time.Time
	ChangeTime time.Time
	Regular    bool
}

// FilesystemManager abstracts the existence and stat checks performed on
// source and derived files, so tests can control failures.
type FilesystemManager interface {
	// Exists reports whether path exists. A non-nil error means existence
	// could not be determined.
	Exists(path string) (bool, error)

	// Stat returns fresh stat data for path.
	Stat(path string) (*FileStat, error)

	// MkdirTemp creates a scratch directory for derived files.
	MkdirTemp(pattern string) (string, error)

	// RemoveAll deletes a scratch directory and its contents.
	RemoveAll(path string) error
}
