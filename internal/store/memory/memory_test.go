package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"posfusion/internal/domain"
	"posfusion/internal/store"
)

func TestEmptyStoreReportsNotFound(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.LoadCatalog(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for catalog, got %v", err)
	}
	if _, err := s.LoadCompositions(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for compositions, got %v", err)
	}
	dataset, err := s.LoadDataset(ctx)
	if err != nil {
		t.Fatalf("load dataset: %v", err)
	}
	if len(dataset.Lines) != 0 {
		t.Fatalf("expected empty dataset, got %d lines", len(dataset.Lines))
	}
}

func TestSavedCompositionsAreNotAliased(t *testing.T) {
	s := New()
	ctx := context.Background()
	in := []domain.Composition{{ID: "1", Name: "PACK", Components: []domain.CompositionComponent{{Name: "A", Quantity: 1}}}}

	if err := s.SaveCompositions(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	in[0].Components[0].Quantity = 99

	out, err := s.LoadCompositions(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out[0].Components[0].Quantity != 1 {
		t.Fatalf("expected stored quantity 1, got %d", out[0].Components[0].Quantity)
	}
}

func TestLineCapacityAndPrune(t *testing.T) {
	s := New(WithLineCapacity(3))
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"e1", "e2"} {
		err := s.SaveExport(ctx, domain.Export{
			ID:        id,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
			Document:  domain.ExportDocument{Lines: []domain.SalesLine{{ID: "x"}}},
		})
		if err != nil {
			t.Fatalf("save export %s: %v", id, err)
		}
	}

	lines := []domain.SalesLine{{ID: "a"}, {ID: "b"}}
	if err := s.SaveDataset(ctx, domain.Dataset{Lines: lines}); !errors.Is(err, store.ErrStorageFull) {
		t.Fatalf("expected ErrStorageFull, got %v", err)
	}

	removed, err := s.PruneExports(ctx, 1)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 export removed, got %d", removed)
	}
	if _, err := s.GetExport(ctx, "e1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected oldest export pruned, got %v", err)
	}
	if err := s.SaveDataset(ctx, domain.Dataset{Lines: lines}); err != nil {
		t.Fatalf("save after prune: %v", err)
	}
}

func TestListExportsNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		if err := s.SaveExport(ctx, domain.Export{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("save export: %v", err)
		}
	}

	infos, err := s.ListExports(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].ID != "new" || infos[1].ID != "mid" {
		t.Fatalf("unexpected order: %+v", infos)
	}
}
