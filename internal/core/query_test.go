package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"geocatalog/pkg/domain"
)

// countingStore is an in-test catalog store recording fetch activity. It
// over-fetches deliberately: every record of the product is streamed
// regardless of the filter fragments.
type countingStore struct {
	mu      sync.Mutex
	records []domain.Candidate
	byProd  map[uuid.UUID]string
	fetches int
}

func newCountingStore() *countingStore {
	return &countingStore{byProd: map[uuid.UUID]string{}}
}

func (s *countingStore) add(product string, doc domain.Document, archived bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.MustParse(doc["id"].(string))
	s.records = append(s.records, domain.Candidate{ID: id, Document: doc, Archived: archived})
	s.byProd[id] = product
}

func (s *countingStore) FetchCandidates(ctx context.Context, product string, _ []domain.FilterFragment, fn func(domain.Candidate) error) error {
	s.mu.Lock()
	s.fetches++
	snapshot := append([]domain.Candidate(nil), s.records...)
	byProd := make(map[uuid.UUID]string, len(s.byProd))
	for k, v := range s.byProd {
		byProd[k] = v
	}
	s.mu.Unlock()

	for _, cand := range snapshot {
		if byProd[cand.ID] != product {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(cand); err != nil {
			return err
		}
	}
	return nil
}

func (s *countingStore) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

var _ domain.CatalogStore = (*countingStore)(nil)

func queryFixture(t *testing.T) (*QueryResolver, *countingStore) {
	t.Helper()
	r := newTestRegistry(t)
	registerTestProduct(t, r, "ls8")
	store := newCountingStore()
	store.add("ls8", eo3Doc("11111111-1111-4111-8111-111111111111", "ls8", "landsat-8",
		"2020-01-01T01:00:00Z", 148, -36, 149, -35), false)
	store.add("ls8", eo3Doc("22222222-2222-4222-8222-222222222222", "ls8", "landsat-9",
		"2020-01-02T01:00:00Z", 148, -36, 149, -35), false)
	store.add("ls8", eo3Doc("33333333-3333-4333-8333-333333333333", "ls8", "landsat-8",
		"2020-01-03T01:00:00Z", 10, 10, 11, 11), true)
	return NewQueryResolver(r, store), store
}

func TestSearchCompileErrorsBeforeStoreIO(t *testing.T) {
	q, store := queryFixture(t)

	_, err := q.Search(context.Background(), domain.Query{Product: "nope"})
	var qe domain.QueryError
	if !errors.As(err, &qe) {
		t.Fatalf("unknown product: expected QueryError, got %v", err)
	}

	_, err = q.Search(context.Background(), domain.Query{
		Product: "ls8",
		Terms:   []domain.Term{{Field: "sensor", Op: domain.OpEquals, Args: []any{"oli"}}},
	})
	if !errors.As(err, &qe) {
		t.Fatalf("undeclared field: expected QueryError, got %v", err)
	}

	if store.fetchCount() != 0 {
		t.Fatalf("store touched during compile: %d fetches", store.fetchCount())
	}
}

func TestSearchFiltersByPredicate(t *testing.T) {
	q, _ := queryFixture(t)

	seq, err := q.Search(context.Background(), domain.Query{
		Product: "ls8",
		Terms:   []domain.Term{{Field: "platform", Op: domain.OpEquals, Args: []any{"landsat-9"}}},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	got, err := seq.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 1 || got[0].ID.String() != "22222222-2222-4222-8222-222222222222" {
		t.Fatalf("results = %+v", got)
	}
}

func TestSearchExcludesArchivedByDefault(t *testing.T) {
	q, _ := queryFixture(t)

	seq, err := q.Search(context.Background(), domain.Query{Product: "ls8"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	got, err := seq.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d datasets, want 2 active", len(got))
	}

	seq, err = q.Search(context.Background(), domain.Query{Product: "ls8", IncludeArchived: true})
	if err != nil {
		t.Fatalf("search archived: %v", err)
	}
	got, err = seq.Collect()
	if err != nil {
		t.Fatalf("collect archived: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d datasets, want 3 with archived", len(got))
	}
	var archived int
	for _, ds := range got {
		if ds.Archived {
			archived++
		}
	}
	if archived != 1 {
		t.Fatalf("archived flag not carried: %+v", got)
	}
}

func TestSearchRegionFilter(t *testing.T) {
	q, _ := queryFixture(t)

	region := &domain.Region{
		Geometry: orb.Bound{Min: orb.Point{147, -37}, Max: orb.Point{150, -34}},
		CRS:      domain.EPSG4326,
	}
	seq, err := q.Search(context.Background(), domain.Query{
		Product: "ls8", Region: region, IncludeArchived: true,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	got, err := seq.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	// The third dataset sits far outside the region.
	if len(got) != 2 {
		t.Fatalf("region filter results = %+v", got)
	}
}

func TestSearchEmptyRegionShortCircuits(t *testing.T) {
	q, store := queryFixture(t)

	seq, err := q.Search(context.Background(), domain.Query{
		Product: "ls8",
		Region:  &domain.Region{Geometry: orb.Polygon{}, CRS: domain.EPSG4326},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	got, err := seq.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("empty region returned %d datasets", len(got))
	}
	if store.fetchCount() != 0 {
		t.Fatalf("empty region touched the store")
	}
}

func TestSearchSequenceIsRestartable(t *testing.T) {
	q, store := queryFixture(t)

	seq, err := q.Search(context.Background(), domain.Query{Product: "ls8"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	first, err := seq.Collect()
	if err != nil {
		t.Fatalf("first collect: %v", err)
	}

	// A write between iterations is visible on the next run.
	store.add("ls8", eo3Doc("44444444-4444-4444-8444-444444444444", "ls8", "landsat-8",
		"2020-01-04T01:00:00Z", 148, -36, 149, -35), false)
	second, err := seq.Collect()
	if err != nil {
		t.Fatalf("second collect: %v", err)
	}
	if len(second) != len(first)+1 {
		t.Fatalf("second iteration saw %d, first %d", len(second), len(first))
	}
	if store.fetchCount() != 2 {
		t.Fatalf("fetches = %d, want one per iteration", store.fetchCount())
	}
}

func TestSearchPinsSchemaSnapshot(t *testing.T) {
	q, _ := queryFixture(t)

	seq, err := q.Search(context.Background(), domain.Query{Product: "ls8"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	// A compatible type update may add a required field the stored documents
	// lack. The already-compiled sequence keeps validating against the view
	// it was compiled under.
	updated := DefaultMetadataTypes()[0]
	updated.Fields["tile"] = domain.FieldRule{
		Path:     "properties.odc:tile",
		Kind:     domain.FieldString,
		Required: true,
	}
	if err := q.registry.RegisterMetadataType(updated); err != nil {
		t.Fatalf("update type: %v", err)
	}

	got, err := seq.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("pinned sequence saw %d datasets, want 2", len(got))
	}

	fresh, err := q.Search(context.Background(), domain.Query{Product: "ls8"})
	if err != nil {
		t.Fatalf("fresh search: %v", err)
	}
	after, err := fresh.Collect()
	if err != nil {
		t.Fatalf("fresh collect: %v", err)
	}
	if len(after) != 0 {
		t.Fatalf("fresh search ignored the new required field: %+v", after)
	}
}

func TestSearchResultsOrderedByTimeThenID(t *testing.T) {
	q, _ := queryFixture(t)

	seq, err := q.Search(context.Background(), domain.Query{Product: "ls8", IncludeArchived: true})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	got, err := seq.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		if cur.Time.Start.Before(prev.Time.Start) {
			t.Fatalf("results out of time order at %d", i)
		}
		if cur.Time.Start.Equal(prev.Time.Start) && cur.ID.String() < prev.ID.String() {
			t.Fatalf("id tiebreak violated at %d", i)
		}
	}
}

func TestSearchDropsStoreFalsePositives(t *testing.T) {
	q, store := queryFixture(t)

	// A record whose document no longer validates is a stale store entry.
	broken := eo3Doc("55555555-5555-4555-8555-555555555555", "ls8", "landsat-8",
		"2020-01-05T01:00:00Z", 148, -36, 149, -35)
	delete(broken, "crs")
	store.add("ls8", broken, false)

	// A duplicate candidate must surface once.
	store.records = append(store.records, store.records[0])

	seq, err := q.Search(context.Background(), domain.Query{Product: "ls8"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	got, err := seq.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("reconciliation results = %+v", got)
	}
	for _, ds := range got {
		if ds.ID.String() == "55555555-5555-4555-8555-555555555555" {
			t.Fatalf("invalid record surfaced")
		}
	}
}

func TestSearchHonoursContextCancellation(t *testing.T) {
	q, _ := queryFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	seq, err := q.Search(ctx, domain.Query{Product: "ls8"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if _, err := seq.Collect(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSearchTimeWindow(t *testing.T) {
	q, _ := queryFixture(t)

	window := domain.TimeRange{
		Start: time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2020, 1, 2, 23, 59, 59, 0, time.UTC),
	}
	seq, err := q.Search(context.Background(), domain.Query{Product: "ls8", Time: &window})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	got, err := seq.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 1 || got[0].ID.String() != "22222222-2222-4222-8222-222222222222" {
		t.Fatalf("time window results = %+v", got)
	}
}
