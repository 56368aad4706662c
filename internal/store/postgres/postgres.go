package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"posfusion/internal/domain"
	"posfusion/internal/store"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// EnsureSchema creates the tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) LoadCatalog(ctx context.Context) ([]domain.CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, purchase_price_excl_tax, sale_price_incl_tax
		FROM catalog_entries
		ORDER BY position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.CatalogEntry, 0, 256)
	for rows.Next() {
		var e domain.CatalogEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.Category, &e.PurchasePriceExclTax, &e.SalePriceInclTax); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, store.ErrNotFound
	}
	return entries, nil
}

func (s *Store) SaveCatalog(ctx context.Context, entries []domain.CatalogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM catalog_entries`); err != nil {
		return mapError(err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO catalog_entries (id, position, name, category, purchase_price_excl_tax, sale_price_incl_tax)
		VALUES ($1,$2,$3,$4,$5,$6)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ID, i, e.Name, e.Category, e.PurchasePriceExclTax, e.SalePriceInclTax); err != nil {
			return mapError(err)
		}
	}
	return mapError(tx.Commit())
}

func (s *Store) LoadCompositions(ctx context.Context) ([]domain.Composition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, components
		FROM compositions
		ORDER BY position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	compositions := make([]domain.Composition, 0, 64)
	for rows.Next() {
		var c domain.Composition
		var kind string
		var components []byte
		if err := rows.Scan(&c.ID, &c.Name, &kind, &components); err != nil {
			return nil, err
		}
		c.Type = domain.ParseCompositionType(kind)
		if err := json.Unmarshal(components, &c.Components); err != nil {
			return nil, fmt.Errorf("composition %s: %w", c.ID, err)
		}
		compositions = append(compositions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(compositions) == 0 {
		return nil, store.ErrNotFound
	}
	return compositions, nil
}

func (s *Store) SaveCompositions(ctx context.Context, compositions []domain.Composition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM compositions`); err != nil {
		return mapError(err)
	}
	for i, c := range compositions {
		components, err := json.Marshal(c.Components)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO compositions (id, position, name, type, components)
			VALUES ($1,$2,$3,$4,$5)
		`, c.ID, i, c.Name, string(c.Type), components); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: duplicate composition %s", store.ErrInvalid, c.ID)
			}
			return mapError(err)
		}
	}
	return mapError(tx.Commit())
}

func (s *Store) LoadDataset(ctx context.Context) (domain.Dataset, error) {
	var ds domain.Dataset

	var meta []byte
	err := s.db.QueryRowContext(ctx, `SELECT document FROM dataset_metadata WHERE singleton`).Scan(&meta)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return ds, err
	default:
		if err := json.Unmarshal(meta, &ds.Metadata); err != nil {
			return ds, fmt.Errorf("dataset metadata: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, quantity, unit_price_incl_tax, amount_incl_tax, sale_date,
			store, category, operation_number, is_return, parent_id, component, source_file, source_row
		FROM dataset_lines
		ORDER BY position
	`)
	if err != nil {
		return ds, err
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.SalesLine
		var saleDate string
		if err := rows.Scan(
			&line.ID, &line.ProductName, &line.Quantity, &line.UnitPriceInclTax, &line.AmountInclTax, &saleDate,
			&line.Store, &line.Category, &line.OperationNumber, &line.IsReturn, &line.ParentID, &line.Component,
			&line.SourceFile, &line.SourceRow,
		); err != nil {
			return ds, err
		}
		line.Date = domain.ParseSaleDate(saleDate)
		ds.Lines = append(ds.Lines, line)
	}
	return ds, rows.Err()
}

// SaveDataset replaces lines and metadata in one transaction.
func (s *Store) SaveDataset(ctx context.Context, dataset domain.Dataset) error {
	meta, err := json.Marshal(dataset.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM dataset_lines`); err != nil {
		return mapError(err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dataset_lines (
			position, product_id, product_name, quantity, unit_price_incl_tax, amount_incl_tax, sale_date,
			store, category, operation_number, is_return, parent_id, component, source_file, source_row
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, line := range dataset.Lines {
		if _, err := stmt.ExecContext(ctx,
			i, line.ID, line.ProductName, line.Quantity, line.UnitPriceInclTax, line.AmountInclTax, line.Date.String(),
			line.Store, line.Category, line.OperationNumber, line.IsReturn, line.ParentID, line.Component,
			line.SourceFile, line.SourceRow,
		); err != nil {
			return mapError(err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO dataset_metadata (singleton, document) VALUES (true, $1)
		ON CONFLICT (singleton) DO UPDATE SET document = EXCLUDED.document
	`, meta); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit())
}

func (s *Store) ClearDataset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM dataset_lines`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM dataset_metadata`); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) SaveExport(ctx context.Context, export domain.Export) error {
	if export.ID == "" {
		return store.ErrInvalid
	}
	doc, err := json.Marshal(export.Document)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO exports (id, kind, label, created_at, line_count, document)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, export.ID, string(export.Kind), export.Label, export.CreatedAt.UTC(), len(export.Document.Lines), doc)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: duplicate export %s", store.ErrInvalid, export.ID)
		}
		return mapError(err)
	}
	return nil
}

func (s *Store) GetExport(ctx context.Context, id string) (*domain.Export, error) {
	var export domain.Export
	var kind string
	var doc []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, label, created_at, document
		FROM exports
		WHERE id = $1
	`, id).Scan(&export.ID, &kind, &export.Label, &export.CreatedAt, &doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	export.Kind = domain.ExportKind(kind)
	if err := json.Unmarshal(doc, &export.Document); err != nil {
		return nil, fmt.Errorf("export %s: %w", id, err)
	}
	return &export, nil
}

func (s *Store) ListExports(ctx context.Context, limit int) ([]domain.ExportInfo, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, label, created_at, line_count
		FROM exports
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	infos := make([]domain.ExportInfo, 0, limit)
	for rows.Next() {
		var info domain.ExportInfo
		var kind string
		if err := rows.Scan(&info.ID, &kind, &info.Label, &info.CreatedAt, &info.Lines); err != nil {
			return nil, err
		}
		info.Kind = domain.ExportKind(kind)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *Store) PruneExports(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM exports
		WHERE id NOT IN (
			SELECT id FROM exports ORDER BY created_at DESC LIMIT $1
		)
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// mapError turns "disk full" (SQLSTATE 53100) into store.ErrStorageFull.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "53100" {
		return fmt.Errorf("%w: %s", store.ErrStorageFull, pgErr.Message)
	}
	return err
}
