// Package postgres provides the shared-deployment catalog store. Documents
// and extracted fields are JSONB columns; the acquisition time range and the
// stored string fields participate in SQL narrowing, everything else is left
// to the resolver's reconciliation.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"geocatalog/internal/infra/store"
	"geocatalog/pkg/domain"
)

// Compile-time contract assertions.
var (
	_ domain.CatalogStore  = (*Store)(nil)
	_ domain.CatalogWriter = (*Store)(nil)
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/geocatalog?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = fn
	openMu.Unlock()
	return func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	}
}

const schema = `CREATE TABLE IF NOT EXISTS datasets (
	id UUID PRIMARY KEY,
	product TEXT NOT NULL,
	document JSONB NOT NULL,
	fields JSONB NOT NULL,
	time_start TIMESTAMPTZ,
	time_end TIMESTAMPTZ,
	archived BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS datasets_product_time_idx ON datasets (product, time_start, time_end)`

// Store is the Postgres-backed catalog store.
type Store struct {
	db *sql.DB
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN) and ensures the schema exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// PutDataset inserts or replaces a dataset row.
func (s *Store) PutDataset(ctx context.Context, ds domain.Dataset) error {
	document, err := json.Marshal(ds.Document)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	fields, err := store.EncodeFields(ds.Fields)
	if err != nil {
		return err
	}
	var start, end any
	if !ds.Time.Start.IsZero() {
		start, end = ds.Time.Start.UTC(), ds.Time.End.UTC()
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO datasets (id, product, document, fields, time_start, time_end, archived)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			product = EXCLUDED.product,
			document = EXCLUDED.document,
			fields = EXCLUDED.fields,
			time_start = EXCLUDED.time_start,
			time_end = EXCLUDED.time_end,
			archived = EXCLUDED.archived`,
		ds.ID, ds.Product, document, fields, start, end, ds.Archived)
	if err != nil {
		return fmt.Errorf("put dataset %s: %w", ds.ID, err)
	}
	return nil
}

// SetArchived flips the retention flag of a row.
func (s *Store) SetArchived(ctx context.Context, id uuid.UUID, archived bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE datasets SET archived = $1 WHERE id = $2`, archived, id)
	if err != nil {
		return fmt.Errorf("set archived %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.DatasetError{DatasetID: id, Reason: "not found"}
	}
	return nil
}

// FetchCandidates streams the product's rows in id order. The acquisition
// time window narrows through the lifted range columns (ranges on other
// datetime fields stay with reconciliation); string equality narrows through
// the fields JSONB, passing rows that never stored the field.
func (s *Store) FetchCandidates(ctx context.Context, product string, fragments []domain.FilterFragment, fn func(domain.Candidate) error) error {
	hints := store.ExtractHints(fragments)

	query := `SELECT id, document, fields, archived FROM datasets WHERE product = $1`
	args := []any{product}
	if hints.Time != nil && hints.Time.Axis {
		query += fmt.Sprintf(` AND (time_start IS NULL OR (time_end >= $%d AND time_start <= $%d))`,
			len(args)+1, len(args)+2)
		args = append(args, hints.Time.Range.Start.UTC(), hints.Time.Range.End.UTC())
	}
	equalFields := make([]string, 0, len(hints.StringEquals))
	for field := range hints.StringEquals {
		equalFields = append(equalFields, field)
	}
	sort.Strings(equalFields)
	for _, field := range equalFields {
		query += fmt.Sprintf(` AND (jsonb_extract_path(fields, $%d) IS NULL OR jsonb_extract_path_text(fields, $%d, 'str') = $%d)`,
			len(args)+1, len(args)+1, len(args)+2)
		args = append(args, field, hints.StringEquals[field])
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("select datasets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var (
			id       uuid.UUID
			document []byte
			fields   []byte
			archived bool
		)
		if err := rows.Scan(&id, &document, &fields, &archived); err != nil {
			return fmt.Errorf("scan dataset: %w", err)
		}
		var doc domain.Document
		if err := json.Unmarshal(document, &doc); err != nil {
			return fmt.Errorf("decode document %s: %w", id, err)
		}
		stored, err := store.DecodeFields(fields)
		if err != nil {
			return fmt.Errorf("dataset %s: %w", id, err)
		}
		cand := domain.Candidate{ID: id, Document: doc, StoredFields: stored, Archived: archived}
		if err := fn(cand); err != nil {
			return err
		}
	}
	return rows.Err()
}
