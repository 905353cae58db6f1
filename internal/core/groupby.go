package core

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"geocatalog/internal/geo"
	"geocatalog/pkg/domain"
)

// TemporalBucket selects how acquisition times map to bucket labels.
type TemporalBucket int

// Supported temporal bucketings.
const (
	// BucketUTCDay labels each dataset with the calendar day of its center
	// time, in the policy's location (UTC when unset).
	BucketUTCDay TemporalBucket = iota
	// BucketSolarDay adjusts the center time by the footprint's longitude
	// before taking the calendar day, so a single overpass crossing a UTC
	// day boundary stays in one bucket.
	BucketSolarDay
)

const dayLabelLayout = "2006-01-02"

// GroupPolicy describes one grouping: the grid that buckets space and the
// rule that buckets time.
type GroupPolicy struct {
	Grid     domain.GridSpec
	Bucket   TemporalBucket
	Location *time.Location
}

// GroupByEngine buckets validated datasets into grid cells. Grouping is a
// pure function of its inputs: the same datasets and policy always produce
// the same cells in the same order, and repeated datasets collapse to one
// entry per cell.
type GroupByEngine struct {
	transform domain.CRSTransform
}

// NewGroupByEngine constructs an engine. The transform is used to reproject
// footprints into the grouping grid's CRS and to find solar-day longitudes;
// nil restricts grouping to datasets already in the right CRS.
func NewGroupByEngine(transform domain.CRSTransform) *GroupByEngine {
	return &GroupByEngine{transform: transform}
}

// Group assigns every dataset to the cells its footprint overlaps and the
// temporal bucket its acquisition time falls into. Cells no dataset landed
// in are never emitted. The returned groups are ordered by cell key and the
// datasets within a group by time then id.
func (e *GroupByEngine) Group(policy GroupPolicy, datasets []domain.Dataset) ([]domain.LoadGroup, error) {
	if err := policy.Grid.Validate(); err != nil {
		return nil, domain.QueryError{Reason: fmt.Sprintf("group-by grid: %v", err)}
	}

	cells := map[domain.CellKey][]domain.Dataset{}
	seen := map[domain.CellKey]map[uuid.UUID]struct{}{}

	for _, ds := range datasets {
		label, err := e.bucketLabel(policy, ds)
		if err != nil {
			return nil, err
		}
		bound, err := e.gridBound(policy.Grid, ds)
		if err != nil {
			return nil, err
		}
		tiles, err := geo.TilesOverlapping(policy.Grid, bound)
		if err != nil {
			return nil, err
		}
		for _, tile := range tiles {
			key := domain.CellKey{Time: label, Y: tile.Y, X: tile.X}
			if seen[key] == nil {
				seen[key] = map[uuid.UUID]struct{}{}
			}
			if _, dup := seen[key][ds.ID]; dup {
				continue
			}
			seen[key][ds.ID] = struct{}{}
			cells[key] = append(cells[key], ds)
		}
	}

	keys := make([]domain.CellKey, 0, len(cells))
	for key := range cells {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	out := make([]domain.LoadGroup, 0, len(keys))
	for _, key := range keys {
		members := cells[key]
		domain.SortDatasets(members)
		out = append(out, domain.LoadGroup{
			Key:      key,
			GeoBox:   geo.TileGeoBox(policy.Grid, geo.TileIndex{Y: key.Y, X: key.X}),
			Datasets: members,
		})
	}
	return out, nil
}

func (e *GroupByEngine) bucketLabel(policy GroupPolicy, ds domain.Dataset) (string, error) {
	switch policy.Bucket {
	case BucketSolarDay:
		day, err := geo.SolarDay(ds, e.transform)
		if err != nil {
			return "", domain.DatasetError{DatasetID: ds.ID, Reason: err.Error()}
		}
		return day.Format(dayLabelLayout), nil
	default:
		loc := policy.Location
		if loc == nil {
			loc = time.UTC
		}
		return ds.Time.Center().In(loc).Format(dayLabelLayout), nil
	}
}

// gridBound projects a dataset's footprint extent into the grouping grid's
// CRS.
func (e *GroupByEngine) gridBound(gs domain.GridSpec, ds domain.Dataset) (orb.Bound, error) {
	if ds.Footprint == nil {
		return orb.Bound{}, domain.DatasetError{DatasetID: ds.ID, Reason: "dataset has no footprint"}
	}
	if ds.CRS.Equal(gs.CRS) {
		return ds.Footprint.Bound(), nil
	}
	if e.transform == nil {
		return orb.Bound{}, domain.DatasetError{DatasetID: ds.ID,
			Reason: fmt.Sprintf("no CRS transform configured for %s -> %s", ds.CRS, gs.CRS)}
	}
	reprojected, err := e.transform.Transform(ds.CRS, gs.CRS, ds.Footprint)
	if err != nil {
		return orb.Bound{}, domain.DatasetError{DatasetID: ds.ID,
			Reason: fmt.Sprintf("reproject footprint %s -> %s: %v", ds.CRS, gs.CRS, err)}
	}
	return reprojected.Bound(), nil
}
