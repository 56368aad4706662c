package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"
	"time"

	"posfusion/internal/domain"
	"posfusion/internal/fusion"
	"posfusion/internal/ingest"
	"posfusion/internal/store"
	"posfusion/internal/xid"
)

var ErrNoPendingImport = errors.New("no pending import for this token")

// pendingImportTTL bounds how long a batch waits for a duplicate choice.
const pendingImportTTL = 2 * time.Hour

type ImportRequest struct {
	Lines      []domain.SalesLine
	SourceFile string
	// EliminateDuplicates is the caller's choice. When nil and the batch
	// has internal duplicates, the import waits for ResolvePending.
	EliminateDuplicates *bool
	// Skipped lists source lines rejected before the import.
	Skipped []string
}

type pendingImport struct {
	token     string
	batch     []domain.SalesLine
	outcome   domain.ImportOutcome
	createdAt time.Time
}

// ImportFile reads a tabular sales file, maps it with mapping and imports
// the accepted lines.
func (s *Service) ImportFile(ctx context.Context, r io.Reader, filename string, mapping ingest.Mapping, eliminate *bool) (domain.ImportOutcome, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.ImportOutcome{}, err
	}
	table, err := ingest.ReadTable(r, filename)
	if err != nil {
		return domain.ImportOutcome{}, fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}
	lines, lineErrs, err := ingest.MapSales(table, mapping, ingest.Options{
		PricesInCents: s.pricesInCents,
		SourceFile:    filename,
	})
	if err != nil {
		return domain.ImportOutcome{}, fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}
	skipped := make([]string, 0, len(lineErrs))
	for _, lineErr := range lineErrs {
		skipped = append(skipped, lineErr.Error())
	}
	if len(lines) == 0 {
		return domain.ImportOutcome{State: domain.ImportIdle, Skipped: skipped}, fmt.Errorf("%w: %s has no importable line", store.ErrInvalid, filename)
	}

	return s.Import(ctx, ImportRequest{
		Lines:               lines,
		SourceFile:          filename,
		EliminateDuplicates: eliminate,
		Skipped:             skipped,
	})
}

// Import looks for internal duplicates in the batch. Without duplicates, or
// with an explicit choice, the batch is decomposed, classified and merged
// into the cumulative dataset right away. Otherwise it is held under a token
// until ResolvePending. A newer import replaces a held one.
func (s *Service) Import(ctx context.Context, req ImportRequest) (domain.ImportOutcome, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.ImportOutcome{}, err
	}

	s.importMu.Lock()
	defer s.importMu.Unlock()

	outcome := domain.ImportOutcome{
		State:      domain.ImportDetectingDuplicates,
		InputLines: len(req.Lines),
		Skipped:    req.Skipped,
	}
	outcome.Duplicates = fusion.DetectInternalDuplicates(req.Lines)

	if outcome.Duplicates.Total > 0 && req.EliminateDuplicates == nil {
		if s.pending != nil {
			log.Printf("[import] WARN: pending import %s replaced", s.pending.token)
		}
		preview := s.engine.Decompose(req.Lines, s.registry, s.Catalog())
		outcome.ExpandedLines = len(preview.Expanded)
		outcome.ComponentsAdded = preview.ComponentsAdded
		outcome.Token = xid.New("import")
		outcome.State = domain.ImportAwaitingUserChoice
		s.pending = &pendingImport{
			token:     outcome.Token,
			batch:     slices.Clone(req.Lines),
			outcome:   outcome,
			createdAt: s.now(),
		}
		log.Printf("[import] %d duplicate lines in %s, waiting for a decision (token=%s)", outcome.Duplicates.Total, req.SourceFile, outcome.Token)
		return outcome, nil
	}

	eliminate := false
	if req.EliminateDuplicates != nil {
		eliminate = *req.EliminateDuplicates
	}
	return s.mergeLocked(ctx, req.Lines, outcome, eliminate)
}

// ResolvePending merges the held batch with the given duplicate choice.
func (s *Service) ResolvePending(ctx context.Context, token string, eliminate bool) (domain.ImportOutcome, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.ImportOutcome{}, err
	}

	s.importMu.Lock()
	defer s.importMu.Unlock()

	s.expirePendingLocked()
	if s.pending == nil || s.pending.token != strings.TrimSpace(token) {
		return domain.ImportOutcome{}, ErrNoPendingImport
	}
	pending := s.pending
	outcome, err := s.mergeLocked(ctx, pending.batch, pending.outcome, eliminate)
	if err != nil {
		return outcome, err
	}
	s.pending = nil
	return outcome, nil
}

// PendingImport reports the held import, if any.
func (s *Service) PendingImport() (domain.ImportOutcome, bool) {
	s.importMu.Lock()
	defer s.importMu.Unlock()

	s.expirePendingLocked()
	if s.pending == nil {
		return domain.ImportOutcome{}, false
	}
	return s.pending.outcome, true
}

// expirePendingLocked drops a held import older than pendingImportTTL.
func (s *Service) expirePendingLocked() {
	if s.pending == nil {
		return
	}
	if age := s.now().Sub(s.pending.createdAt); age > pendingImportTTL {
		log.Printf("[import] WARN: pending import %s expired after %s", s.pending.token, age.Round(time.Second))
		s.pending = nil
	}
}

// mergeLocked decomposes raw and merges it. With eliminate, repeated raw
// lines are dropped before decomposition so a dropped bundle contributes no
// component quantity.
func (s *Service) mergeLocked(ctx context.Context, raw []domain.SalesLine, outcome domain.ImportOutcome, eliminate bool) (domain.ImportOutcome, error) {
	batch, dropped := raw, 0
	if eliminate {
		batch, dropped = fusion.DropInternalDuplicates(raw)
	}
	expanded := s.engine.Decompose(batch, s.registry, s.Catalog())
	outcome.ExpandedLines = len(expanded.Expanded)
	outcome.ComponentsAdded = expanded.ComponentsAdded
	outcome.Reclassified = s.classifier.Apply(expanded.Expanded)

	outcome.State = domain.ImportMerging
	existing, err := s.repo.LoadDataset(ctx)
	if err != nil {
		return outcome, fmt.Errorf("load dataset: %w", err)
	}

	res := s.merger.Merge(existing, expanded.Expanded, eliminate)
	if err := s.saveDataset(ctx, domain.Dataset{Metadata: res.Metadata, Lines: res.Lines}); err != nil {
		return outcome, fmt.Errorf("save dataset: %w", err)
	}

	eliminated := dropped + res.DuplicatesEliminated
	summary := &domain.MergeSummary{
		Added:                res.Added,
		DuplicatesEliminated: eliminated,
		TotalLines:           len(res.Lines),
		NewMonths:            res.NewMonths,
		Metadata:             res.Metadata,
	}
	months := fusion.MonthsOf(expanded.Expanded)
	if len(months) > 0 {
		monthLines := fusion.LinesInMonths(res.Lines, months)
		summary.MonthExportID = s.storeExport(ctx, domain.ExportMonth, strings.Join(months, ","), s.merger.RebuildMetadata(monthLines), monthLines)
	}
	summary.FullExportID = s.storeExport(ctx, domain.ExportFull, "full-"+s.now().UTC().Format("2006-01-02"), res.Metadata, res.Lines)

	outcome.State = domain.ImportPersisted
	outcome.Token = ""
	outcome.Merge = summary
	s.audit(ctx, "dataset_merge", strings.Join(months, ","), fmt.Sprintf("added=%d eliminated=%d total=%d", res.Added, eliminated, len(res.Lines)))
	return outcome, nil
}

// saveDataset writes the dataset. When the store is full it prunes old
// exports and retries once.
func (s *Service) saveDataset(ctx context.Context, ds domain.Dataset) error {
	err := s.repo.SaveDataset(ctx, ds)
	if !errors.Is(err, store.ErrStorageFull) {
		return err
	}
	if perr := s.freeSpace(ctx); perr != nil {
		return errors.Join(err, perr)
	}
	return s.repo.SaveDataset(ctx, ds)
}

func (s *Service) freeSpace(ctx context.Context) error {
	removed, err := s.repo.PruneExports(ctx, s.exportsKeep/2)
	if err != nil {
		return fmt.Errorf("prune exports: %w", err)
	}
	log.Printf("[service] WARN: storage full, pruned %d exports", removed)
	return nil
}

// storeExport saves an export document. Exports are best effort: a failure
// is logged and the returned id is empty.
func (s *Service) storeExport(ctx context.Context, kind domain.ExportKind, label string, meta domain.Metadata, lines []domain.SalesLine) string {
	export := domain.Export{
		ID:        xid.New("export"),
		Kind:      kind,
		Label:     label,
		CreatedAt: s.now().UTC(),
		Document:  fusion.Document(meta, lines),
	}
	err := s.repo.SaveExport(ctx, export)
	if errors.Is(err, store.ErrStorageFull) {
		if err = s.freeSpace(ctx); err == nil {
			err = s.repo.SaveExport(ctx, export)
		}
	}
	if err != nil {
		log.Printf("[service] WARN: %s export %s not saved: %v", kind, label, err)
		return ""
	}
	if removed, err := s.repo.PruneExports(ctx, s.exportsKeep); err != nil {
		log.Printf("[service] WARN: prune exports: %v", err)
	} else if removed > 0 {
		log.Printf("[service] pruned %d old exports", removed)
	}
	return export.ID
}
