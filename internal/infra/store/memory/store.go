// Package memory provides the in-memory catalog store used by tests and
// single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"geocatalog/internal/infra/store"
	"geocatalog/pkg/domain"
)

// Compile-time contract assertions.
var (
	_ domain.CatalogStore  = (*Store)(nil)
	_ domain.CatalogWriter = (*Store)(nil)
)

type record struct {
	id       uuid.UUID
	document domain.Document
	fields   map[string]domain.FieldValue
	archived bool
}

// Store keeps every dataset record in process memory, bucketed by product.
// Fetches stream records in id order after applying the coarse hints shared
// by all drivers.
type Store struct {
	mu       sync.RWMutex
	products map[string]map[uuid.UUID]*record
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{products: map[string]map[uuid.UUID]*record{}}
}

// PutDataset inserts or replaces a dataset record.
func (s *Store) PutDataset(_ context.Context, ds domain.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.products[ds.Product]
	if bucket == nil {
		bucket = map[uuid.UUID]*record{}
		s.products[ds.Product] = bucket
	}
	fields := make(map[string]domain.FieldValue, len(ds.Fields))
	for name, v := range ds.Fields {
		fields[name] = v
	}
	bucket[ds.ID] = &record{
		id:       ds.ID,
		document: ds.Document.Clone(),
		fields:   fields,
		archived: ds.Archived,
	}
	return nil
}

// SetArchived flips the retention flag of a record in any product bucket.
func (s *Store) SetArchived(_ context.Context, id uuid.UUID, archived bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, bucket := range s.products {
		if rec, ok := bucket[id]; ok {
			rec.archived = archived
			return nil
		}
	}
	return domain.DatasetError{DatasetID: id, Reason: "not found"}
}

// Len reports the number of stored records for a product.
func (s *Store) Len(product string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.products[product])
}

// FetchCandidates streams the product's records that pass the coarse hints,
// in ascending id order.
func (s *Store) FetchCandidates(ctx context.Context, product string, fragments []domain.FilterFragment, fn func(domain.Candidate) error) error {
	hints := store.ExtractHints(fragments)

	s.mu.RLock()
	bucket := s.products[product]
	records := make([]*record, 0, len(bucket))
	for _, rec := range bucket {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].id.String() < records[j].id.String() })

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !passesHints(rec, hints) {
			continue
		}
		fields := make(map[string]domain.FieldValue, len(rec.fields))
		for name, v := range rec.fields {
			fields[name] = v
		}
		cand := domain.Candidate{
			ID:           rec.id,
			Document:     rec.document.Clone(),
			StoredFields: fields,
			Archived:     rec.archived,
		}
		if err := fn(cand); err != nil {
			return err
		}
	}
	return nil
}

// passesHints applies coarse narrowing against the stored field values.
// A hint on a field the record never stored passes: only a stored value that
// positively contradicts the hint excludes the record.
func passesHints(rec *record, hints store.Hints) bool {
	for field, want := range hints.StringEquals {
		v, ok := rec.fields[field]
		if !ok || v.Unknown || v.Kind != domain.FieldString {
			continue
		}
		if v.Str != want {
			return false
		}
	}
	if hints.Time != nil {
		if v, ok := rec.fields[hints.Time.Field]; ok && v.Kind == domain.FieldDatetime && !v.Unknown && !v.Time.IsZero() {
			if !v.Time.Overlaps(hints.Time.Range) {
				return false
			}
		}
	}
	return true
}
