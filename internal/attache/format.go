package attache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DefaultFormats is the baseline set of processable formats assumed before any
// capability refresh.
var DefaultFormats = []string{"PNG", "GIF", "TIFF", "JPEG"}

// CapabilityFlags selects which capabilities a format must have to be
// returned by a capability query. All set flags must be satisfied.
type CapabilityFlags struct {
	Read  bool
	Write bool
	Multi bool
	Blob  bool
}

func (f CapabilityFlags) any() bool {
	return f.Read || f.Write || f.Multi || f.Blob
}

func (f CapabilityFlags) match(c FormatCapability) bool {
	if f.Read && !c.Read {
		return false
	}
	if f.Write && !c.Write {
		return false
	}
	if f.Multi && !c.Multi {
		return false
	}
	if f.Blob && !c.Blob {
		return false
	}
	return true
}

// FormatRegistry is the set of source formats the engine is allowed to
// transform. Names are compared case-insensitively.
//
// It is safe for concurrent use, but registration and refreshes are expected
// to happen during startup, before attach traffic begins: a refresh replaces
// the set wholesale and the last writer wins.
type FormatRegistry struct {
	mu      sync.RWMutex
	formats map[string]struct{}
}

// NewFormatRegistry creates a registry holding DefaultFormats.
func NewFormatRegistry() *FormatRegistry {
	r := &FormatRegistry{formats: make(map[string]struct{}, len(DefaultFormats))}
	for _, f := range DefaultFormats {
		r.formats[f] = struct{}{}
	}
	return r
}

func normalizeFormat(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// IsProcessable reports whether name is in the current set.
func (r *FormatRegistry) IsProcessable(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.formats[normalizeFormat(name)]
	return ok
}

// Register adds a format unconditionally.
func (r *FormatRegistry) Register(name string) {
	n := normalizeFormat(name)
	if n == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formats[n] = struct{}{}
}

// Formats returns a sorted snapshot of the current set.
func (r *FormatRegistry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.formats))
	for f := range r.formats {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Query runs a capability query and returns the formats matching flags
// without installing them.
func (r *FormatRegistry) Query(ctx context.Context, q CapabilityQuerier, flags CapabilityFlags) ([]string, error) {
	if !flags.any() {
		return nil, ErrNoCapabilityFlags
	}

	caps, err := q.ListFormats(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying format capabilities: %w", err)
	}

	seen := make(map[string]struct{})
	var out []string
	for _, c := range caps {
		if !flags.match(c) {
			continue
		}
		n := normalizeFormat(c.Name)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w (flags %+v)", ErrNoFormats, flags)
	}
	sort.Strings(out)
	return out, nil
}

// Refresh runs a capability query and, on a non-empty result, replaces the
// whole set with it. On failure the current set is left untouched.
func (r *FormatRegistry) Refresh(ctx context.Context, q CapabilityQuerier, flags CapabilityFlags) ([]string, error) {
	formats, err := r.Query(ctx, q, flags)
	if err != nil {
		return nil, err
	}

	r.Replace(formats)
	return formats, nil
}

// Replace swaps the whole set for names. An empty names leaves the set
// untouched, so the registry never ends up empty.
func (r *FormatRegistry) Replace(names []string) {
	next := make(map[string]struct{}, len(names))
	for _, f := range names {
		if n := normalizeFormat(f); n != "" {
			next[n] = struct{}{}
		}
	}
	if len(next) == 0 {
		return
	}

	r.mu.Lock()
	r.formats = next
	r.mu.Unlock()
}
