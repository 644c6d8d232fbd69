package attache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// PersistRequest asks a provider to store one derived file.
type PersistRequest struct {
	Filename string    // local file holding the bytes to store
	Stat     *FileStat // stat of Filename
	Path     string    // logical storage path, always starting with "/"
	Property string
	Record   *Record
	Style    string
	Features *Identity // nil when the file is not a recognised image
}

// PersistResult is the storage-assigned metadata for a stored file.
type PersistResult struct {
	DefaultURL string
	MIME       string // optional
}

// Provider is a storage backend for derived files.
type Provider interface {
	// URL returns the addressable URL for a storage path.
	URL(storagePath string) string

	// CreateOrReplace stores the bytes of req.Filename at req.Path.
	// It must be safe to call concurrently for different paths; concurrent
	// calls for the same path are last-write-wins.
	CreateOrReplace(ctx context.Context, req *PersistRequest) (*PersistResult, error)
}

// SetupValidator is implemented by providers that can check their backend
// is reachable. Compile calls it once.
type SetupValidator interface {
	ValidateSetup() error
}

// ProviderOptions holds backend-specific provider options as decoded from
// configuration.
type ProviderOptions map[string]any

// String returns the string option key, or "" when absent.
func (o ProviderOptions) String(key string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Bool returns the boolean option key, or false when absent.
func (o ProviderOptions) Bool(key string) bool {
	switch v := o[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1" || v == "yes"
	default:
		return false
	}
}

// Require returns the string option key or an error naming it.
func (o ProviderOptions) Require(key string) (string, error) {
	s := o.String(key)
	if s == "" {
		return "", fmt.Errorf("%w: storage option %q is required", ErrConfig, key)
	}
	return s, nil
}

// ProviderFactory builds a provider instance from its options.
type ProviderFactory func(ctx context.Context, opts ProviderOptions) (Provider, error)

// ProviderRegistry maps provider names to factories.
type ProviderRegistry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

// NewProviderRegistry creates an empty registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{factories: make(map[string]ProviderFactory)}
}

// Register stores factory under name. Names must be non-empty and unique.
func (r *ProviderRegistry) Register(name string, factory ProviderFactory) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidProviderName
	}
	if factory == nil {
		return fmt.Errorf("registering storage provider %q: nil factory", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("storage provider %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Resolve returns the factory registered under name.
func (r *ProviderRegistry) Resolve(name string) (ProviderFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, name)
	}
	return f, nil
}

// Names returns the registered provider names, sorted.
func (r *ProviderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
