package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"geocatalog/internal/geo"
	"geocatalog/pkg/domain"
)

// DatasetSeq is a restartable result sequence. Each range over the sequence
// re-runs the underlying store fetch with the predicates compiled at search
// time, so two iterations over the same sequence observe the same schema
// view but the store's current contents. Iteration stops early when yield
// returns false.
type DatasetSeq func(yield func(domain.Dataset, error) bool)

// Collect drains the sequence into a slice, stopping at the first error.
func (s DatasetSeq) Collect() ([]domain.Dataset, error) {
	var out []domain.Dataset
	var failure error
	s(func(ds domain.Dataset, err error) bool {
		if err != nil {
			failure = err
			return false
		}
		out = append(out, ds)
		return true
	})
	if failure != nil {
		return nil, failure
	}
	return out, nil
}

// QueryResolver turns queries into dataset sequences. Resolution happens in
// two stages: predicates compile against the schema registry before any
// store IO (undeclared fields fail here), then candidates streamed from the
// store are reconciled in process by re-extracting their fields and applying
// every compiled matcher. Stores are therefore free to over-fetch.
type QueryResolver struct {
	registry *Registry
	store    domain.CatalogStore
}

// NewQueryResolver constructs a resolver over a registry and a store.
func NewQueryResolver(registry *Registry, store domain.CatalogStore) *QueryResolver {
	return &QueryResolver{registry: registry, store: store}
}

// compiledQuery is everything a search run needs, pinned at Search time.
type compiledQuery struct {
	snap       *registrySnapshot
	product    domain.Product
	typ        *compiledType
	predicates []domain.Predicate
	fragments  []domain.FilterFragment
	region     *domain.Region
	time       *domain.TimeRange
	archived   bool
	empty      bool
}

// Search compiles a query and returns its result sequence. All schema
// errors, an unknown product or an undeclared field among them, surface here
// before the store is touched. The sequence yields datasets in ascending
// time order with id as the tiebreak, each dataset at most once.
func (q *QueryResolver) Search(ctx context.Context, query domain.Query) (DatasetSeq, error) {
	cq, err := q.compile(query)
	if err != nil {
		return nil, err
	}
	return func(yield func(domain.Dataset, error) bool) {
		q.run(ctx, cq, yield)
	}, nil
}

func (q *QueryResolver) compile(query domain.Query) (*compiledQuery, error) {
	snap := q.registry.snapshot()
	product, ok := snap.products[query.Product]
	if !ok {
		return nil, domain.QueryError{Reason: fmt.Sprintf("unknown product %q", query.Product)}
	}
	ct, ok := snap.types[product.MetadataType]
	if !ok {
		return nil, domain.QueryError{
			Reason: fmt.Sprintf("product %q references unregistered metadata type %q", query.Product, product.MetadataType)}
	}

	cq := &compiledQuery{
		snap:     snap,
		product:  product,
		typ:      ct,
		region:   query.Region,
		time:     query.Time,
		archived: query.IncludeArchived,
	}
	for _, term := range query.Terms {
		pred, err := q.registry.resolvePredicateIn(snap, product.MetadataType, term.Field, term.Op, term.Args...)
		if err != nil {
			return nil, err
		}
		cq.predicates = append(cq.predicates, pred)
		cq.fragments = append(cq.fragments, pred.Fragment)
	}
	if query.Time != nil {
		// Give the store a chance to narrow on time; reconciliation re-checks.
		cq.fragments = append(cq.fragments, domain.FilterFragment{
			Field:    ct.def.TimeFieldName(),
			Op:       domain.OpRange,
			Args:     []any{query.Time.Start, query.Time.End},
			TimeAxis: true,
		})
	}
	if query.Region != nil {
		if query.Region.Geometry == nil || emptyGeometry(query.Region.Geometry) {
			cq.empty = true
		}
	}
	return cq, nil
}

// run executes one iteration of the sequence: fetch, reconcile, order, yield.
func (q *QueryResolver) run(ctx context.Context, cq *compiledQuery, yield func(domain.Dataset, error) bool) {
	if cq.empty {
		return
	}

	var matched []domain.Dataset
	seen := map[uuid.UUID]struct{}{}
	err := q.store.FetchCandidates(ctx, cq.product.Name, cq.fragments, func(cand domain.Candidate) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if cand.Archived && !cq.archived {
			return nil
		}
		if _, dup := seen[cand.ID]; dup {
			return nil
		}
		ds, ok, err := q.reconcile(cq, cand)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		seen[cand.ID] = struct{}{}
		matched = append(matched, ds)
		return nil
	})
	if err != nil {
		yield(domain.Dataset{}, err)
		return
	}

	domain.SortDatasets(matched)
	for _, ds := range matched {
		if err := ctx.Err(); err != nil {
			yield(domain.Dataset{}, err)
			return
		}
		if !yield(ds, nil) {
			return
		}
	}
}

// reconcile re-validates a raw candidate against the pinned schema view and
// applies every compiled matcher plus the built-in time and region
// constraints. Stored field values are never trusted; the document is the
// source of truth. A candidate whose document no longer validates is a false
// positive from the store and is silently dropped.
func (q *QueryResolver) reconcile(cq *compiledQuery, cand domain.Candidate) (domain.Dataset, bool, error) {
	ds, err := q.registry.validateIn(cq.snap, cq.product.Name, cand.Document)
	if err != nil {
		return domain.Dataset{}, false, nil
	}
	ds.Archived = cand.Archived

	for _, pred := range cq.predicates {
		value, ok := ds.Fields[pred.Field]
		if !ok || !pred.Match(value) {
			return domain.Dataset{}, false, nil
		}
	}
	if cq.time != nil && !cq.time.Overlaps(ds.Time) {
		return domain.Dataset{}, false, nil
	}
	if cq.region != nil {
		hit, err := q.registry.intersector.Intersects(ds.Footprint, ds.CRS, cq.region.Geometry, cq.region.CRS)
		if err != nil {
			return domain.Dataset{}, false, domain.DatasetError{DatasetID: ds.ID,
				Reason: fmt.Sprintf("region check: %v", err)}
		}
		if !hit {
			return domain.Dataset{}, false, nil
		}
	}
	return ds, true, nil
}

// Intersector exposes the resolver's geometry intersection collaborator for
// callers composing their own spatial checks.
func (q *QueryResolver) Intersector() *geo.Intersector {
	return q.registry.intersector
}

// emptyGeometry reports whether a region geometry encloses no area at all,
// which short-circuits a search to an empty result.
func emptyGeometry(g orb.Geometry) bool {
	switch geom := g.(type) {
	case orb.Bound:
		return geom.Min[0] >= geom.Max[0] || geom.Min[1] >= geom.Max[1]
	case orb.Polygon:
		if len(geom) == 0 {
			return true
		}
		return len(geom[0]) == 0
	case orb.MultiPolygon:
		if len(geom) == 0 {
			return true
		}
		for _, p := range geom {
			if !emptyGeometry(p) {
				return false
			}
		}
		return true
	case orb.Collection:
		if len(geom) == 0 {
			return true
		}
		for _, member := range geom {
			if !emptyGeometry(member) {
				return false
			}
		}
		return true
	}
	return false
}
