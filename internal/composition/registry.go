// Package composition holds the bundle definitions used to expand composed
// products into their components.
package composition

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"posfusion/internal/cache"
	"posfusion/internal/domain"
	"posfusion/internal/store"
)

var (
	ErrDuplicateID = errors.New("composition id already exists")
	ErrUnknownID   = errors.New("composition not found")
)

//go:embed reference_compositions.json
var referenceCompositions []byte

type Options struct {
	Snapshots   cache.SnapshotCache
	SnapshotTTL time.Duration
	// FallbackFile overrides the bundled reference document.
	FallbackFile string
	// Reference replaces the bundled reference document when non-nil.
	Reference []byte
}

// Registry is the in-memory view of the bundle definitions. Every mutation
// re-persists the whole set before it becomes visible.
type Registry struct {
	mu     sync.RWMutex
	items  []domain.Composition
	byID   map[string]int
	source string

	primary      store.CompositionStore
	snapshots    cache.SnapshotCache
	snapshotTTL  time.Duration
	fallbackFile string
	reference    []byte
}

func NewRegistry(primary store.CompositionStore, opts Options) *Registry {
	snapshots := opts.Snapshots
	if snapshots == nil {
		snapshots = cache.NoopSnapshotCache{}
	}
	reference := opts.Reference
	if reference == nil {
		reference = referenceCompositions
	}
	return &Registry{
		byID:         map[string]int{},
		source:       "none",
		primary:      primary,
		snapshots:    snapshots,
		snapshotTTL:  opts.SnapshotTTL,
		fallbackFile: opts.FallbackFile,
		reference:    reference,
	}
}

// Load fills the registry from the primary store, then the snapshot cache,
// then the fallback file, then the bundled reference. It never fails; when
// every source is unavailable the registry is empty. It returns the name of
// the source used.
func (r *Registry) Load(ctx context.Context) string {
	items, source := r.loadFrom(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.setLocked(items)
	r.source = source
	log.Printf("[compositions] loaded %d compositions from %s", len(items), source)
	return source
}

func (r *Registry) loadFrom(ctx context.Context) ([]domain.Composition, string) {
	if r.primary != nil {
		items, err := r.primary.LoadCompositions(ctx)
		switch {
		case err == nil && len(items) > 0:
			return items, "store"
		case err != nil && !errors.Is(err, store.ErrNotFound):
			log.Printf("[compositions] WARN: primary store unavailable: %v", err)
		}
	}

	raw, ok, err := r.snapshots.Get(ctx, cache.CompositionsKey)
	if err != nil {
		log.Printf("[compositions] WARN: snapshot unavailable: %v", err)
	} else if ok {
		items, err := Decode(raw)
		if err != nil {
			log.Printf("[compositions] WARN: snapshot unreadable: %v", err)
		} else if len(items) > 0 {
			return items, "snapshot"
		}
	}

	if r.fallbackFile != "" {
		data, err := os.ReadFile(r.fallbackFile)
		if err == nil {
			var items []domain.Composition
			items, err = Decode(data)
			if err == nil && len(items) > 0 {
				return items, "file"
			}
		}
		if err != nil {
			log.Printf("[compositions] WARN: fallback file %s unreadable: %v", r.fallbackFile, err)
		}
	}

	if len(r.reference) > 0 {
		items, err := Decode(r.reference)
		if err != nil {
			log.Printf("[compositions] WARN: bundled reference unreadable: %v", err)
		} else if len(items) > 0 {
			return items, "reference"
		}
	}

	log.Printf("[compositions] WARN: no composition source available, continuing with an empty registry")
	return nil, "none"
}

func (r *Registry) setLocked(items []domain.Composition) {
	r.items = cloneAll(items)
	r.byID = make(map[string]int, len(items))
	for i, c := range r.items {
		r.byID[c.ID] = i
	}
}

func (r *Registry) Source() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.source
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *Registry) FindByID(id string) (domain.Composition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.byID[strings.TrimSpace(id)]
	if !ok {
		return domain.Composition{}, false
	}
	return clone(r.items[idx]), true
}

func (r *Registry) List() []domain.Composition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneAll(r.items)
}

func (r *Registry) Add(ctx context.Context, c domain.Composition) (domain.Composition, error) {
	c, err := validate(c)
	if err != nil {
		return domain.Composition{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[c.ID]; exists {
		return domain.Composition{}, fmt.Errorf("%w: %s", ErrDuplicateID, c.ID)
	}
	next := append(cloneAll(r.items), c)
	if err := r.persistLocked(ctx, next); err != nil {
		return domain.Composition{}, err
	}
	return clone(c), nil
}

// Modify replaces the definition stored under id. An empty id in updated
// keeps the current one; a new id must not collide with another bundle.
func (r *Registry) Modify(ctx context.Context, id string, updated domain.Composition) (domain.Composition, error) {
	id = strings.TrimSpace(id)
	if strings.TrimSpace(updated.ID) == "" {
		updated.ID = id
	}
	updated, err := validate(updated)
	if err != nil {
		return domain.Composition{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byID[id]
	if !ok {
		return domain.Composition{}, fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	if updated.ID != id {
		if _, taken := r.byID[updated.ID]; taken {
			return domain.Composition{}, fmt.Errorf("%w: %s", ErrDuplicateID, updated.ID)
		}
	}
	next := cloneAll(r.items)
	next[idx] = updated
	if err := r.persistLocked(ctx, next); err != nil {
		return domain.Composition{}, err
	}
	return clone(updated), nil
}

func (r *Registry) Remove(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)

	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	next := slices.Delete(cloneAll(r.items), idx, idx+1)
	return r.persistLocked(ctx, next)
}

func (r *Registry) persistLocked(ctx context.Context, next []domain.Composition) error {
	if r.primary != nil {
		if err := r.primary.SaveCompositions(ctx, next); err != nil {
			return fmt.Errorf("persist compositions: %w", err)
		}
	}
	r.setLocked(next)

	payload, err := Encode(next)
	if err == nil {
		err = r.snapshots.Set(ctx, cache.CompositionsKey, payload, r.snapshotTTL)
	}
	if err != nil {
		log.Printf("[compositions] WARN: snapshot not refreshed: %v", err)
	}
	return nil
}

func validate(c domain.Composition) (domain.Composition, error) {
	c.ID = strings.TrimSpace(c.ID)
	c.Name = strings.TrimSpace(c.Name)
	if c.ID == "" {
		return c, fmt.Errorf("%w: composition id is required", store.ErrInvalid)
	}
	if c.Name == "" {
		return c, fmt.Errorf("%w: composition name is required", store.ErrInvalid)
	}
	if len(c.Components) == 0 {
		return c, fmt.Errorf("%w: composition %s has no components", store.ErrInvalid, c.ID)
	}
	c.Type = domain.ParseCompositionType(string(c.Type))
	components := make([]domain.CompositionComponent, len(c.Components))
	for i, comp := range c.Components {
		comp.ID = strings.TrimSpace(comp.ID)
		comp.Name = strings.TrimSpace(comp.Name)
		if comp.ID == "" && comp.Name == "" {
			return c, fmt.Errorf("%w: component %d of %s has no id or name", store.ErrInvalid, i+1, c.ID)
		}
		if comp.Quantity < 1 {
			return c, fmt.Errorf("%w: component %d of %s has quantity %d", store.ErrInvalid, i+1, c.ID, comp.Quantity)
		}
		components[i] = comp
	}
	c.Components = components
	return c, nil
}

func clone(c domain.Composition) domain.Composition {
	c.Components = slices.Clone(c.Components)
	return c
}

func cloneAll(in []domain.Composition) []domain.Composition {
	if in == nil {
		return nil
	}
	out := make([]domain.Composition, len(in))
	for i, c := range in {
		out[i] = clone(c)
	}
	return out
}
