package service

import (
	"context"
	"errors"
	"fmt"

	"posfusion/internal/domain"
	"posfusion/internal/fusion"
	"posfusion/internal/stats"
	"posfusion/internal/store"
)

func (s *Service) Dataset(ctx context.Context) (domain.Dataset, error) {
	ds, err := s.repo.LoadDataset(ctx)
	if err != nil {
		return domain.Dataset{}, err
	}
	if ds.Lines == nil {
		ds.Lines = []domain.SalesLine{}
	}
	if ds.Metadata.KnownMonths == nil {
		ds.Metadata.KnownMonths = []string{}
	}
	return ds, nil
}

func (s *Service) WipeDataset(ctx context.Context) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.ClearDataset(ctx); err != nil {
		return err
	}
	s.audit(ctx, "dataset_wipe", "dataset", "")
	return nil
}

// Restore replaces the cumulative dataset with a saved document. A document
// that cannot be read leaves the dataset untouched.
func (s *Service) Restore(ctx context.Context, data []byte) (domain.RestoreResult, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.RestoreResult{Message: err.Error()}, err
	}
	ds, err := fusion.ParseRestore(data)
	if err != nil {
		return domain.RestoreResult{Message: err.Error()}, err
	}

	ds.Metadata = s.merger.RebuildMetadata(ds.Lines)
	if ds.Lines == nil {
		ds.Lines = []domain.SalesLine{}
	}
	if err := s.saveDataset(ctx, ds); err != nil {
		return domain.RestoreResult{Message: err.Error()}, fmt.Errorf("save dataset: %w", err)
	}
	s.audit(ctx, "dataset_restore", "dataset", fmt.Sprintf("lines=%d", len(ds.Lines)))
	return domain.RestoreResult{
		Success:  true,
		Message:  fmt.Sprintf("%d lines restored", len(ds.Lines)),
		Lines:    len(ds.Lines),
		Metadata: ds.Metadata,
	}, nil
}

// ExportFull returns the whole cumulative dataset as a downloadable document.
func (s *Service) ExportFull(ctx context.Context) (domain.ExportDocument, error) {
	ds, err := s.Dataset(ctx)
	if err != nil {
		return domain.ExportDocument{}, err
	}
	return fusion.Document(ds.Metadata, ds.Lines), nil
}

func (s *Service) ListExports(ctx context.Context, limit int) ([]domain.ExportInfo, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	infos, err := s.repo.ListExports(ctx, limit)
	if err != nil {
		return nil, err
	}
	if infos == nil {
		infos = []domain.ExportInfo{}
	}
	return infos, nil
}

func (s *Service) GetExport(ctx context.Context, id string) (domain.Export, error) {
	export, err := s.repo.GetExport(ctx, id)
	if err != nil {
		return domain.Export{}, err
	}
	return *export, nil
}

type StatsReport struct {
	By      stats.GroupBy `json:"by"`
	Month   string        `json:"month,omitempty"`
	Store   string        `json:"store,omitempty"`
	Summary stats.Summary `json:"summary"`
	Groups  []stats.Group `json:"groups"`
}

func (s *Service) Stats(ctx context.Context, by string, filter stats.Filter) (StatsReport, error) {
	groupBy, err := stats.ParseGroupBy(by)
	if err != nil {
		return StatsReport{}, errors.Join(store.ErrInvalid, err)
	}
	ds, err := s.repo.LoadDataset(ctx)
	if err != nil {
		return StatsReport{}, err
	}
	return StatsReport{
		By:      groupBy,
		Month:   filter.Month,
		Store:   filter.Store,
		Summary: stats.Summarize(ds.Lines, filter),
		Groups:  stats.Aggregate(ds.Lines, groupBy, filter),
	}, nil
}
