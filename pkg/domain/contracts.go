package domain

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// CellKey identifies one output cell: a temporal bucket label plus grid tile
// indices. Keys order by time bucket, then tile row, then tile column.
type CellKey struct {
	// Time is the bucket label, e.g. "2020-01-31" for a day bucket.
	Time string `json:"time"`
	// Y, X are tile indices on the grouping GridSpec, counted from the grid
	// origin.
	Y int `json:"y"`
	X int `json:"x"`
}

func (k CellKey) String() string {
	return fmt.Sprintf("%s/%+d/%+d", k.Time, k.Y, k.X)
}

// Less imposes the deterministic cell order used by every group sequence.
func (k CellKey) Less(other CellKey) bool {
	if k.Time != other.Time {
		return k.Time < other.Time
	}
	if k.Y != other.Y {
		return k.Y < other.Y
	}
	return k.X < other.X
}

// LoadGroup is one grid cell's worth of work: the aligned geobox and the
// datasets falling in the cell, in the deterministic dataset order.
type LoadGroup struct {
	Key      CellKey   `json:"key"`
	GeoBox   GeoBox    `json:"geobox"`
	Datasets []Dataset `json:"datasets"`
}

// PlanSource is one ordered alternative source inside a plan group: a
// product, the measurement subset to read, the datasets providing it, and
// the transform tags the raster backend applies to this source's pixels at
// load time, innermost first. Collate priority is source order (first source
// first). Tags ride on the source, not the group, so merging a transformed
// subtree with an untransformed one keeps each chain with its own pixels.
type PlanSource struct {
	Product      string    `json:"product"`
	Measurements []string  `json:"measurements"`
	Datasets     []Dataset `json:"datasets"`
	Transforms   []string  `json:"transforms,omitempty"`
}

// PlanGroup is one resolved output cell of a virtual product: where to read
// (geobox) and what to read (sources).
type PlanGroup struct {
	Key     CellKey      `json:"key"`
	GeoBox  GeoBox       `json:"geobox"`
	Sources []PlanSource `json:"sources"`
}

// LoadPlan is the final product of virtual-product resolution: ordered plan
// groups plus the grid they align to. Resolution is deterministic; equal
// catalog state yields a structurally identical plan.
type LoadPlan struct {
	Grid   GridSpec    `json:"grid"`
	Groups []PlanGroup `json:"groups"`
}

// Candidate is one raw record returned by a CatalogStore fetch: the dataset
// id, its stored metadata document, and whatever field values the store
// indexed at write time. Stored fields may be stale relative to the live
// schema; the resolver re-extracts before trusting them.
type Candidate struct {
	ID           uuid.UUID
	Document     Document
	StoredFields map[string]FieldValue
	Archived     bool
}

// CatalogStore is the persistence contract the query resolver consumes.
//
// FetchCandidates streams every record of the product that may satisfy the
// filter fragments, invoking fn per candidate. Drivers may over-fetch
// (false positives are corrected by reconciliation) but must never drop a
// match. Returning an error from fn stops the stream and propagates; ctx
// cancellation must stop further fetching without side effects.
type CatalogStore interface {
	FetchCandidates(ctx context.Context, product string, fragments []FilterFragment, fn func(Candidate) error) error
}

// CatalogWriter is the write half of a catalog store. Put replaces an
// existing record with the same id; SetArchived flips retention state
// without touching the document.
type CatalogWriter interface {
	PutDataset(ctx context.Context, ds Dataset) error
	SetArchived(ctx context.Context, id uuid.UUID, archived bool) error
}

// CRSTransform is the projection collaborator. The core decides when a
// reprojection is required (differing CRS identifiers) and what tolerance
// applies; implementations supply the actual math.
type CRSTransform interface {
	Transform(from, to CRS, g orb.Geometry) (orb.Geometry, error)
}

// RasterBackend consumes resolved plan groups, performing the actual pixel
// reads, reprojection and resampling. The core only supplies what to read
// and how it is organised.
type RasterBackend interface {
	LoadGroup(ctx context.Context, group PlanGroup) error
}
