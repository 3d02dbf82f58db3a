package export

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// SurfaceInfo describes a surface handed off after an export.
type SurfaceInfo struct {
	ID       string
	OpenedAt time.Time
	Printed  bool
}

type registryEntry struct {
	info    SurfaceInfo
	surface Surface
}

// SurfaceRegistry tracks surfaces the exporter handed off so they can be
// listed and released instead of leaking across invocations.
type SurfaceRegistry struct {
	mu      sync.Mutex
	entries map[string]registryEntry
	Now     func() time.Time
	// Logger reports failures closing replaced surfaces.
	Logger Logger
}

// NewSurfaceRegistry creates an empty registry.
func NewSurfaceRegistry() *SurfaceRegistry {
	return &SurfaceRegistry{entries: make(map[string]registryEntry), Now: time.Now}
}

// Add registers a surface under id, replacing and releasing any previous one.
// The new surface stays registered even when closing the replaced one fails.
func (r *SurfaceRegistry) Add(id string, surface Surface, printed bool) error {
	if r == nil {
		return NewError(KindInternal, "surface registry is nil", nil)
	}
	if id == "" {
		return NewError(KindValidation, "surface id is required", nil)
	}
	if surface == nil {
		return NewError(KindValidation, "surface is required", nil)
	}

	r.mu.Lock()
	if r.entries == nil {
		r.entries = make(map[string]registryEntry)
	}
	previous, replaced := r.entries[id]
	r.entries[id] = registryEntry{
		info:    SurfaceInfo{ID: id, OpenedAt: r.now(), Printed: printed},
		surface: surface,
	}
	r.mu.Unlock()

	if replaced {
		if err := previous.surface.Close(); err != nil {
			r.logger().Errorf("surface %s: closing replaced surface failed: %v", id, err)
		}
	}
	return nil
}

// Get returns the surface registered under id.
func (r *SurfaceRegistry) Get(id string) (Surface, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	return entry.surface, ok
}

// List returns registered surfaces, oldest first.
func (r *SurfaceRegistry) List() []SurfaceInfo {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	out := make([]SurfaceInfo, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.info)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// Len returns the number of registered surfaces.
func (r *SurfaceRegistry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Release closes and forgets the surface registered under id.
func (r *SurfaceRegistry) Release(id string) error {
	if r == nil {
		return NewError(KindInternal, "surface registry is nil", nil)
	}
	r.mu.Lock()
	entry, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return NewError(KindNotFound, fmt.Sprintf("surface %q not found", id), nil)
	}
	return entry.surface.Close()
}

// ReleaseAll closes every registered surface.
func (r *SurfaceRegistry) ReleaseAll() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]registryEntry)
	r.mu.Unlock()

	var errs []error
	for id, entry := range entries {
		if err := entry.surface.Close(); err != nil {
			errs = append(errs, fmt.Errorf("surface %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// ReleaseOlderThan closes surfaces opened before cutoff and returns how many
// were released.
func (r *SurfaceRegistry) ReleaseOlderThan(cutoff time.Time) (int, error) {
	if r == nil {
		return 0, nil
	}
	r.mu.Lock()
	stale := map[string]registryEntry{}
	for id, entry := range r.entries {
		if entry.info.OpenedAt.Before(cutoff) {
			stale[id] = entry
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	var errs []error
	for id, entry := range stale {
		if err := entry.surface.Close(); err != nil {
			errs = append(errs, fmt.Errorf("surface %s: %w", id, err))
		}
	}
	return len(stale), errors.Join(errs...)
}

func (r *SurfaceRegistry) logger() Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return NopLogger{}
}

func (r *SurfaceRegistry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
