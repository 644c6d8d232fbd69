package testutil

import (
	"sync"

	"attache/internal/attache"
	"attache/internal/fs"
)

// FaultyFilesystemManager wraps the real filesystem manager and injects
// errors for chosen paths.
type FaultyFilesystemManager struct {
	*fs.OSFilesystemManager

	mu        sync.Mutex
	existsErr map[string]error
	statErr   map[string]error
	tempErr   error
	removed   []string
}

// NewFaultyFilesystemManager creates a manager whose scratch directories live
// under workDir.
func NewFaultyFilesystemManager(workDir string) *FaultyFilesystemManager {
	return &FaultyFilesystemManager{
		OSFilesystemManager: fs.NewOSFilesystemManager(workDir),
		existsErr:           make(map[string]error),
		statErr:             make(map[string]error),
	}
}

// FailExists makes Exists(path) return err.
func (m *FaultyFilesystemManager) FailExists(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.existsErr[path] = err
}

// FailStat makes Stat(path) return err.
func (m *FaultyFilesystemManager) FailStat(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statErr[path] = err
}

// FailMkdirTemp makes MkdirTemp return err.
func (m *FaultyFilesystemManager) FailMkdirTemp(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tempErr = err
}

// Removed returns the scratch directories removed so far.
func (m *FaultyFilesystemManager) Removed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removed...)
}

func (m *FaultyFilesystemManager) Exists(path string) (bool, error) {
	m.mu.Lock()
	err := m.existsErr[path]
	m.mu.Unlock()
	if err != nil {
		return false, err
	}
	return m.OSFilesystemManager.Exists(path)
}

func (m *FaultyFilesystemManager) Stat(path string) (*attache.FileStat, error) {
	m.mu.Lock()
	err := m.statErr[path]
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.OSFilesystemManager.Stat(path)
}

func (m *FaultyFilesystemManager) MkdirTemp(pattern string) (string, error) {
	m.mu.Lock()
	err := m.tempErr
	m.mu.Unlock()
	if err != nil {
		return "", err
	}
	return m.OSFilesystemManager.MkdirTemp(pattern)
}

func (m *FaultyFilesystemManager) RemoveAll(path string) error {
	m.mu.Lock()
	m.removed = append(m.removed, path)
	m.mu.Unlock()
	return m.OSFilesystemManager.RemoveAll(path)
}

var _ attache.FilesystemManager = (*FaultyFilesystemManager)(nil)
