package storage

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"attache/internal/attache"
)

// Object is a file held by MemoryProvider.
type Object struct {
	Data     []byte
	MIME     string
	Property string
	Style    string
	RecordID string
}

// MemoryProvider is an in-memory implementation of the Provider interface.
// It is useful for testing and for dry runs.
// This implementation is safe for concurrent use.
type MemoryProvider struct {
	baseURL string
	objects map[string]*Object // storage path -> object
	mu      sync.RWMutex
}

// NewMemoryProvider creates an empty provider. URLs are baseURL + path.
func NewMemoryProvider(baseURL string) *MemoryProvider {
	if baseURL == "" {
		baseURL = "memory://attache"
	}
	return &MemoryProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string]*Object),
	}
}

// URL returns the URL of a storage path.
func (m *MemoryProvider) URL(storagePath string) string {
	return m.baseURL + storagePath
}

// CreateOrReplace reads req.Filename into memory under req.Path.
func (m *MemoryProvider) CreateOrReplace(_ context.Context, req *attache.PersistRequest) (*attache.PersistResult, error) {
	data, err := os.ReadFile(req.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", req.Filename, err)
	}
	if req.Stat != nil && int64(len(data)) != req.Stat.Size {
		return nil, fmt.Errorf("size mismatch: expected %d bytes, got %d", req.Stat.Size, len(data))
	}

	obj := &Object{
		Data:     data,
		MIME:     mimetype.Detect(data).String(),
		Property: req.Property,
		Style:    req.Style,
	}
	if req.Record != nil {
		obj.RecordID = req.Record.ID
	}

	m.mu.Lock()
	m.objects[req.Path] = obj
	m.mu.Unlock()

	return &attache.PersistResult{DefaultURL: m.URL(req.Path), MIME: obj.MIME}, nil
}

// Get returns the object stored at storagePath.
func (m *MemoryProvider) Get(storagePath string) (*Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[storagePath]
	return obj, ok
}

// Paths returns every stored path, sorted.
func (m *MemoryProvider) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.objects))
	for p := range m.objects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ValidateSetup always succeeds for the in-memory provider.
func (m *MemoryProvider) ValidateSetup() error {
	return nil
}

var (
	_ attache.Provider       = (*MemoryProvider)(nil)
	_ attache.SetupValidator = (*MemoryProvider)(nil)
)
