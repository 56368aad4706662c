// Package sqlite is a single-file backend for running on one workstation
// without a database server.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"posfusion/internal/domain"
	"posfusion/internal/store"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sqlx.DB
}

type catalogRow struct {
	ID            string  `db:"id"`
	Position      int     `db:"position"`
	Name          string  `db:"name"`
	Category      string  `db:"category"`
	PurchasePrice float64 `db:"purchase_price_excl_tax"`
	SalePrice     float64 `db:"sale_price_incl_tax"`
}

type compositionRow struct {
	ID         string `db:"id"`
	Position   int    `db:"position"`
	Name       string `db:"name"`
	Type       string `db:"type"`
	Components string `db:"components"`
}

type lineRow struct {
	Position        int     `db:"position"`
	ProductID       string  `db:"product_id"`
	ProductName     string  `db:"product_name"`
	Quantity        float64 `db:"quantity"`
	UnitPrice       float64 `db:"unit_price_incl_tax"`
	Amount          float64 `db:"amount_incl_tax"`
	SaleDate        string  `db:"sale_date"`
	Store           string  `db:"store"`
	Category        string  `db:"category"`
	OperationNumber string  `db:"operation_number"`
	IsReturn        bool    `db:"is_return"`
	ParentID        string  `db:"parent_id"`
	Component       bool    `db:"component"`
	SourceFile      string  `db:"source_file"`
	SourceRow       int     `db:"source_row"`
}

type exportRow struct {
	ID        string    `db:"id"`
	Kind      string    `db:"kind"`
	Label     string    `db:"label"`
	CreatedAt time.Time `db:"created_at"`
	LineCount int       `db:"line_count"`
	Document  string    `db:"document"`
}

// Open opens (or creates) the database file and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) LoadCatalog(ctx context.Context) ([]domain.CatalogEntry, error) {
	var rows []catalogRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM catalog_entries ORDER BY position`); err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	entries := make([]domain.CatalogEntry, len(rows))
	for i, r := range rows {
		entries[i] = domain.CatalogEntry{
			ID:                   r.ID,
			Name:                 r.Name,
			Category:             r.Category,
			PurchasePriceExclTax: r.PurchasePrice,
			SalePriceInclTax:     r.SalePrice,
		}
	}
	return entries, nil
}

func (s *Store) SaveCatalog(ctx context.Context, entries []domain.CatalogEntry) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM catalog_entries`); err != nil {
			return err
		}
		const q = `
			INSERT INTO catalog_entries (id, position, name, category, purchase_price_excl_tax, sale_price_incl_tax)
			VALUES (:id, :position, :name, :category, :purchase_price_excl_tax, :sale_price_incl_tax)
		`
		for i, e := range entries {
			row := catalogRow{ID: e.ID, Position: i, Name: e.Name, Category: e.Category, PurchasePrice: e.PurchasePriceExclTax, SalePrice: e.SalePriceInclTax}
			if _, err := tx.NamedExecContext(ctx, q, row); err != nil {
				return fmt.Errorf("catalog entry %s: %w", e.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) LoadCompositions(ctx context.Context) ([]domain.Composition, error) {
	var rows []compositionRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM compositions ORDER BY position`); err != nil {
		return nil, fmt.Errorf("load compositions: %w", err)
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	compositions := make([]domain.Composition, len(rows))
	for i, r := range rows {
		c := domain.Composition{ID: r.ID, Name: r.Name, Type: domain.ParseCompositionType(r.Type)}
		if err := json.Unmarshal([]byte(r.Components), &c.Components); err != nil {
			return nil, fmt.Errorf("composition %s: %w", r.ID, err)
		}
		compositions[i] = c
	}
	return compositions, nil
}

func (s *Store) SaveCompositions(ctx context.Context, compositions []domain.Composition) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM compositions`); err != nil {
			return err
		}
		const q = `
			INSERT INTO compositions (id, position, name, type, components)
			VALUES (:id, :position, :name, :type, :components)
		`
		for i, c := range compositions {
			components, err := json.Marshal(c.Components)
			if err != nil {
				return err
			}
			row := compositionRow{ID: c.ID, Position: i, Name: c.Name, Type: string(c.Type), Components: string(components)}
			if _, err := tx.NamedExecContext(ctx, q, row); err != nil {
				return fmt.Errorf("composition %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) LoadDataset(ctx context.Context) (domain.Dataset, error) {
	var ds domain.Dataset

	var meta string
	err := s.db.GetContext(ctx, &meta, `SELECT document FROM dataset_metadata WHERE singleton = 1`)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return ds, fmt.Errorf("load metadata: %w", err)
	default:
		if err := json.Unmarshal([]byte(meta), &ds.Metadata); err != nil {
			return ds, fmt.Errorf("dataset metadata: %w", err)
		}
	}

	var rows []lineRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM dataset_lines ORDER BY position`); err != nil {
		return ds, fmt.Errorf("load lines: %w", err)
	}
	if len(rows) > 0 {
		ds.Lines = make([]domain.SalesLine, len(rows))
	}
	for i, r := range rows {
		ds.Lines[i] = domain.SalesLine{
			ID:               r.ProductID,
			ProductName:      r.ProductName,
			Quantity:         r.Quantity,
			UnitPriceInclTax: r.UnitPrice,
			AmountInclTax:    r.Amount,
			Date:             domain.ParseSaleDate(r.SaleDate),
			Store:            r.Store,
			Category:         r.Category,
			OperationNumber:  r.OperationNumber,
			IsReturn:         r.IsReturn,
			ParentID:         r.ParentID,
			Component:        r.Component,
			SourceFile:       r.SourceFile,
			SourceRow:        r.SourceRow,
		}
	}
	return ds, nil
}

// SaveDataset replaces lines and metadata in one transaction.
func (s *Store) SaveDataset(ctx context.Context, dataset domain.Dataset) error {
	meta, err := json.Marshal(dataset.Metadata)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM dataset_lines`); err != nil {
			return err
		}
		stmt, err := tx.PrepareNamedContext(ctx, `
			INSERT INTO dataset_lines (
				position, product_id, product_name, quantity, unit_price_incl_tax, amount_incl_tax, sale_date,
				store, category, operation_number, is_return, parent_id, component, source_file, source_row
			) VALUES (
				:position, :product_id, :product_name, :quantity, :unit_price_incl_tax, :amount_incl_tax, :sale_date,
				:store, :category, :operation_number, :is_return, :parent_id, :component, :source_file, :source_row
			)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, line := range dataset.Lines {
			if _, err := stmt.ExecContext(ctx, lineRow{
				Position:        i,
				ProductID:       line.ID,
				ProductName:     line.ProductName,
				Quantity:        line.Quantity,
				UnitPrice:       line.UnitPriceInclTax,
				Amount:          line.AmountInclTax,
				SaleDate:        line.Date.String(),
				Store:           line.Store,
				Category:        line.Category,
				OperationNumber: line.OperationNumber,
				IsReturn:        line.IsReturn,
				ParentID:        line.ParentID,
				Component:       line.Component,
				SourceFile:      line.SourceFile,
				SourceRow:       line.SourceRow,
			}); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO dataset_metadata (singleton, document) VALUES (1, ?)
			ON CONFLICT(singleton) DO UPDATE SET document = excluded.document
		`, string(meta))
		return err
	})
}

func (s *Store) ClearDataset(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM dataset_lines`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM dataset_metadata`)
		return err
	})
}

func (s *Store) SaveExport(ctx context.Context, export domain.Export) error {
	if export.ID == "" {
		return store.ErrInvalid
	}
	doc, err := json.Marshal(export.Document)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO exports (id, kind, label, created_at, line_count, document)
		VALUES (:id, :kind, :label, :created_at, :line_count, :document)
	`, exportRow{
		ID:        export.ID,
		Kind:      string(export.Kind),
		Label:     export.Label,
		CreatedAt: export.CreatedAt.UTC(),
		LineCount: len(export.Document.Lines),
		Document:  string(doc),
	})
	return mapError(err)
}

func (s *Store) GetExport(ctx context.Context, id string) (*domain.Export, error) {
	var row exportRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM exports WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	export := domain.Export{ID: row.ID, Kind: domain.ExportKind(row.Kind), Label: row.Label, CreatedAt: row.CreatedAt}
	if err := json.Unmarshal([]byte(row.Document), &export.Document); err != nil {
		return nil, fmt.Errorf("export %s: %w", id, err)
	}
	return &export, nil
}

func (s *Store) ListExports(ctx context.Context, limit int) ([]domain.ExportInfo, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []exportRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, kind, label, created_at, line_count, '' AS document
		FROM exports
		ORDER BY created_at DESC
		LIMIT ?
	`, limit); err != nil {
		return nil, err
	}
	infos := make([]domain.ExportInfo, len(rows))
	for i, r := range rows {
		infos[i] = domain.ExportInfo{ID: r.ID, Kind: domain.ExportKind(r.Kind), Label: r.Label, CreatedAt: r.CreatedAt, Lines: r.LineCount}
	}
	return infos, nil
}

func (s *Store) PruneExports(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM exports
		WHERE id NOT IN (SELECT id FROM exports ORDER BY created_at DESC LIMIT ?)
	`, keep)
	if err != nil {
		return 0, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

// inTx runs fn in a transaction and maps a full disk to store.ErrStorageFull.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit())
}

func mapError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrFull {
		return fmt.Errorf("%w: %v", store.ErrStorageFull, err)
	}
	return err
}
