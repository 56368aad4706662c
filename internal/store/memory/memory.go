package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"posfusion/internal/domain"
	"posfusion/internal/store"
)

type Store struct {
	mu           sync.RWMutex
	catalog      []domain.CatalogEntry
	compositions []domain.Composition
	dataset      domain.Dataset
	exports      []domain.Export
	// maxLines caps dataset lines plus exported lines; zero means unbounded.
	maxLines int
}

type Option func(*Store)

// WithLineCapacity makes writes fail with store.ErrStorageFull once the
// dataset and the saved exports together would hold more than n lines.
func WithLineCapacity(n int) Option {
	return func(s *Store) {
		s.maxLines = n
	}
}

func New(opts ...Option) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSeeded returns a store preloaded with a small demo catalog and two
// bundles, for running the server without a database.
func NewSeeded(opts ...Option) *Store {
	s := New(opts...)
	s.catalog = []domain.CatalogEntry{
		{ID: "1001", Name: "VERRE A VIN 19CL", Category: "verrerie", PurchasePriceExclTax: 0.62, SalePriceInclTax: 1.5},
		{ID: "1002", Name: "FLUTE CHAMPAGNE", Category: "verrerie", PurchasePriceExclTax: 0.85, SalePriceInclTax: 2.2},
		{ID: "1003", Name: "CARAFE 1L", Category: "verrerie", PurchasePriceExclTax: 2.4, SalePriceInclTax: 6.9},
		{ID: "2001", Name: "VASQUE ROSE", Category: "decoration", PurchasePriceExclTax: 4.1, SalePriceInclTax: 12},
		{ID: "2002", Name: "VASQUE ROSE CLAIRE", Category: "decoration", PurchasePriceExclTax: 4.6, SalePriceInclTax: 13.5},
		{ID: "3001", Name: "BOUGIE PARFUMEE", Category: "decoration", PurchasePriceExclTax: 1.9, SalePriceInclTax: 5.5},
	}
	s.compositions = []domain.Composition{
		{ID: "9001", Name: "PACK APERITIF", Type: domain.CompositionPack, Components: []domain.CompositionComponent{
			{ID: "1001", Name: "VERRE A VIN 19CL", Quantity: 6},
			{ID: "1003", Name: "CARAFE 1L", Quantity: 1},
		}},
		{ID: "9101", Name: "VASQUE DECOR", Type: domain.CompositionVasque, Components: []domain.CompositionComponent{
			{Name: "VASQUE ROSE", Quantity: 1},
			{Name: "BOUGIE PARFUMEE", Quantity: 3},
		}},
	}
	return s
}

func (s *Store) LoadCatalog(_ context.Context) ([]domain.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.catalog) == 0 {
		return nil, store.ErrNotFound
	}
	return slices.Clone(s.catalog), nil
}

func (s *Store) SaveCatalog(_ context.Context, entries []domain.CatalogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.catalog = slices.Clone(entries)
	return nil
}

func (s *Store) LoadCompositions(_ context.Context) ([]domain.Composition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.compositions) == 0 {
		return nil, store.ErrNotFound
	}
	return cloneCompositions(s.compositions), nil
}

func (s *Store) SaveCompositions(_ context.Context, compositions []domain.Composition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.compositions = cloneCompositions(compositions)
	return nil
}

func (s *Store) LoadDataset(_ context.Context) (domain.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneDataset(s.dataset), nil
}

func (s *Store) SaveDataset(_ context.Context, dataset domain.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxLines > 0 && len(dataset.Lines)+s.exportedLines() > s.maxLines {
		return store.ErrStorageFull
	}
	s.dataset = cloneDataset(dataset)
	return nil
}

func (s *Store) ClearDataset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dataset = domain.Dataset{}
	return nil
}

func (s *Store) SaveExport(_ context.Context, export domain.Export) error {
	if export.ID == "" {
		return store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxLines > 0 && len(s.dataset.Lines)+s.exportedLines()+len(export.Document.Lines) > s.maxLines {
		return store.ErrStorageFull
	}
	export.Document.Lines = slices.Clone(export.Document.Lines)
	s.exports = append(s.exports, export)
	return nil
}

func (s *Store) GetExport(_ context.Context, id string) (*domain.Export, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, export := range s.exports {
		if export.ID == id {
			found := export
			found.Document.Lines = slices.Clone(export.Document.Lines)
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListExports(_ context.Context, limit int) ([]domain.ExportInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]domain.ExportInfo, 0, len(s.exports))
	for _, export := range s.exports {
		infos = append(infos, domain.ExportInfo{
			ID:        export.ID,
			Kind:      export.Kind,
			Label:     export.Label,
			CreatedAt: export.CreatedAt,
			Lines:     len(export.Document.Lines),
		})
	}
	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}
	return infos, nil
}

func (s *Store) PruneExports(_ context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.exports) <= keep {
		return 0, nil
	}
	sort.SliceStable(s.exports, func(i, j int) bool {
		return s.exports[i].CreatedAt.Before(s.exports[j].CreatedAt)
	})
	removed := len(s.exports) - keep
	s.exports = slices.Clone(s.exports[removed:])
	return removed, nil
}

func (s *Store) exportedLines() int {
	total := 0
	for _, export := range s.exports {
		total += len(export.Document.Lines)
	}
	return total
}

func cloneCompositions(in []domain.Composition) []domain.Composition {
	out := make([]domain.Composition, len(in))
	for i, c := range in {
		c.Components = slices.Clone(c.Components)
		out[i] = c
	}
	return out
}

func cloneDataset(in domain.Dataset) domain.Dataset {
	out := in
	out.Lines = slices.Clone(in.Lines)
	out.Metadata.KnownMonths = slices.Clone(in.Metadata.KnownMonths)
	return out
}
