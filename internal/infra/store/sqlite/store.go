// Package sqlite provides a single-file catalog store for embedded
// deployments. Records are rows in one datasets table; documents and
// extracted fields are stored as JSON payloads with the time range lifted
// into indexed columns for coarse narrowing.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"geocatalog/internal/infra/store"
	"geocatalog/pkg/domain"
)

// Compile-time contract assertions.
var (
	_ domain.CatalogStore  = (*Store)(nil)
	_ domain.CatalogWriter = (*Store)(nil)
)

const schema = `CREATE TABLE IF NOT EXISTS datasets (
	id TEXT PRIMARY KEY,
	product TEXT NOT NULL,
	document BLOB NOT NULL,
	fields BLOB NOT NULL,
	time_start TEXT,
	time_end TEXT,
	archived INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS datasets_product_time ON datasets (product, time_start, time_end);`

// Store is the SQLite-backed catalog store.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) a catalog database at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "geocatalog.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
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
	_, err = s.db.ExecContext(ctx, `INSERT INTO datasets (id, product, document, fields, time_start, time_end, archived)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			product = excluded.product,
			document = excluded.document,
			fields = excluded.fields,
			time_start = excluded.time_start,
			time_end = excluded.time_end,
			archived = excluded.archived`,
		ds.ID.String(), ds.Product, document, fields,
		timeColumn(ds.Time.Start), timeColumn(ds.Time.End), boolColumn(ds.Archived))
	if err != nil {
		return fmt.Errorf("put dataset %s: %w", ds.ID, err)
	}
	return nil
}

// SetArchived flips the retention flag of a row.
func (s *Store) SetArchived(ctx context.Context, id uuid.UUID, archived bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE datasets SET archived = ? WHERE id = ?`,
		boolColumn(archived), id.String())
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
// time window is pushed onto the lifted time columns; ranges on other
// datetime fields and everything else are left to reconciliation. Rows
// without a stored time always pass the time narrowing.
func (s *Store) FetchCandidates(ctx context.Context, product string, fragments []domain.FilterFragment, fn func(domain.Candidate) error) error {
	hints := store.ExtractHints(fragments)

	query := `SELECT id, document, fields, archived FROM datasets WHERE product = ?`
	args := []any{product}
	if hints.Time != nil && hints.Time.Axis {
		query += ` AND (time_start IS NULL OR (time_end >= ? AND time_start <= ?))`
		args = append(args, hints.Time.Range.Start.UTC().Format(time.RFC3339Nano),
			hints.Time.Range.End.UTC().Format(time.RFC3339Nano))
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
			rawID    string
			document []byte
			fields   []byte
			archived int
		)
		if err := rows.Scan(&rawID, &document, &fields, &archived); err != nil {
			return fmt.Errorf("scan dataset: %w", err)
		}
		cand, err := decodeCandidate(rawID, document, fields, archived != 0)
		if err != nil {
			return err
		}
		if err := fn(cand); err != nil {
			return err
		}
	}
	return rows.Err()
}

func decodeCandidate(rawID string, document, fields []byte, archived bool) (domain.Candidate, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return domain.Candidate{}, fmt.Errorf("stored dataset has malformed id %q", rawID)
	}
	var doc domain.Document
	if err := json.Unmarshal(document, &doc); err != nil {
		return domain.Candidate{}, fmt.Errorf("decode document %s: %w", rawID, err)
	}
	stored, err := store.DecodeFields(fields)
	if err != nil {
		return domain.Candidate{}, fmt.Errorf("dataset %s: %w", rawID, err)
	}
	return domain.Candidate{ID: id, Document: doc, StoredFields: stored, Archived: archived}, nil
}

func timeColumn(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolColumn(b bool) int {
	if b {
		return 1
	}
	return 0
}
