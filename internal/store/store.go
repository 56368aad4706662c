package store

import (
	"context"
	"errors"

	"posfusion/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid record")
	// ErrStorageFull is returned when the backend refuses a write for lack
	// of space. Callers may free older entries and retry.
	ErrStorageFull = errors.New("storage full")
)

type CatalogStore interface {
	LoadCatalog(ctx context.Context) ([]domain.CatalogEntry, error)
	SaveCatalog(ctx context.Context, entries []domain.CatalogEntry) error
}

type CompositionStore interface {
	LoadCompositions(ctx context.Context) ([]domain.Composition, error)
	SaveCompositions(ctx context.Context, compositions []domain.Composition) error
}

// DatasetStore persists the cumulative dataset. SaveDataset replaces the
// stored lines and metadata in a single write.
type DatasetStore interface {
	LoadDataset(ctx context.Context) (domain.Dataset, error)
	SaveDataset(ctx context.Context, dataset domain.Dataset) error
	ClearDataset(ctx context.Context) error
}

type ExportStore interface {
	SaveExport(ctx context.Context, export domain.Export) error
	GetExport(ctx context.Context, id string) (*domain.Export, error)
	ListExports(ctx context.Context, limit int) ([]domain.ExportInfo, error)
	// PruneExports deletes all but the newest keep exports and reports how
	// many were removed.
	PruneExports(ctx context.Context, keep int) (int, error)
}

type Repository interface {
	CatalogStore
	CompositionStore
	DatasetStore
	ExportStore
}
