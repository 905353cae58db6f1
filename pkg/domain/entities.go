// Package domain defines the core catalog entities, metadata document
// access, search predicates, and the contracts geocatalog consumes
// (CatalogStore, CRSTransform) and produces to (RasterBackend).
package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// FieldKind identifies the parser applied to a searchable metadata field.
type FieldKind string

// Supported field parsers. Every extraction rule declares exactly one.
const (
	// FieldString extracts the raw value as a string.
	FieldString FieldKind = "string"
	// FieldNumeric extracts the value as a float64, accepting integers and
	// numeric strings.
	FieldNumeric FieldKind = "numeric"
	// FieldDatetime extracts a time instant or range.
	FieldDatetime FieldKind = "datetime-range"
	// FieldSpatial extracts a geometry (GeoJSON object in the document).
	FieldSpatial FieldKind = "spatial"
)

// FieldRule describes how one searchable field is extracted from a metadata
// document: a dotted path into the document tree plus a parser tag.
type FieldRule struct {
	// Path is a dotted path into the document, e.g. "properties.datetime".
	Path string `json:"path" yaml:"path"`
	// FallbackPath optionally names a second path tried when Path is absent
	// from the document.
	FallbackPath string `json:"fallback_path,omitempty" yaml:"fallback_path,omitempty"`
	// EndPath optionally names a second path holding the end of a range;
	// only meaningful for datetime-range fields.
	EndPath string `json:"end_path,omitempty" yaml:"end_path,omitempty"`
	// Kind selects the value parser.
	Kind FieldKind `json:"kind" yaml:"kind"`
	// Required fields must parse successfully for a dataset to validate.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`
	// Description is free-form documentation carried through definitions.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// MetadataType is a schema mapping field names to extraction rules. Products
// reference exactly one metadata type; datasets validate against it.
type MetadataType struct {
	Name        string               `json:"name" yaml:"name"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
	Fields      map[string]FieldRule `json:"fields" yaml:"fields"`
	// TimeField names the field treated as acquisition time. Defaults to
	// "time" when empty.
	TimeField string `json:"time_field,omitempty" yaml:"time_field,omitempty"`
}

// TimeFieldName returns the field used as the dataset acquisition time.
func (t MetadataType) TimeFieldName() string {
	if t.TimeField != "" {
		return t.TimeField
	}
	return "time"
}

// FieldNames returns the declared field names in sorted order.
func (t MetadataType) FieldNames() []string {
	names := make([]string, 0, len(t.Fields))
	for name := range t.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Measurement describes one band of a product: storage data type, fill
// value, and optional unit and grid reference.
type Measurement struct {
	Name    string   `json:"name" yaml:"name"`
	DType   string   `json:"dtype" yaml:"dtype"`
	NoData  float64  `json:"nodata" yaml:"nodata"`
	Units   string   `json:"units,omitempty" yaml:"units,omitempty"`
	Aliases []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	// Grid names the GridSpec this measurement is stored on; empty means the
	// product default.
	Grid string `json:"grid,omitempty" yaml:"grid,omitempty"`
}

// Product is a named collection of datasets sharing a metadata type and a
// measurement set. Multiple named grids may attach to one product.
type Product struct {
	Name         string                 `json:"name" yaml:"name"`
	Description  string                 `json:"description,omitempty" yaml:"description,omitempty"`
	MetadataType string                 `json:"metadata_type" yaml:"metadata_type"`
	Measurements map[string]Measurement `json:"measurements" yaml:"measurements"`
	Grids        map[string]GridSpec    `json:"grids,omitempty" yaml:"grids,omitempty"`
}

// DefaultGridName is the conventional name of a product's primary grid.
const DefaultGridName = "default"

// DefaultGrid returns the product's default GridSpec if one is registered.
func (p Product) DefaultGrid() (GridSpec, bool) {
	gs, ok := p.Grids[DefaultGridName]
	return gs, ok
}

// CanonicalMeasurement resolves a measurement name or alias to the canonical
// name declared by the product.
func (p Product) CanonicalMeasurement(name string) (string, bool) {
	if _, ok := p.Measurements[name]; ok {
		return name, true
	}
	for canonical, m := range p.Measurements {
		for _, alias := range m.Aliases {
			if alias == name {
				return canonical, true
			}
		}
	}
	return "", false
}

// MeasurementNames returns the canonical measurement names in sorted order.
func (p Product) MeasurementNames() []string {
	names := make([]string, 0, len(p.Measurements))
	for name := range p.Measurements {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TimeRange is a closed time interval. Instants are ranges with Start==End.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewInstant returns a degenerate range covering a single moment.
func NewInstant(t time.Time) TimeRange {
	return TimeRange{Start: t, End: t}
}

// IsZero reports whether the range is unset.
func (r TimeRange) IsZero() bool { return r.Start.IsZero() && r.End.IsZero() }

// Center returns the midpoint of the range.
func (r TimeRange) Center() time.Time {
	return r.Start.Add(r.End.Sub(r.Start) / 2)
}

// Overlaps reports whether two closed ranges share any instant.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return !r.Start.After(other.End) && !other.Start.After(r.End)
}

// Contains reports whether t falls within the closed range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// MeasurementLocation points at the stored pixels for one measurement of one
// dataset. Paths are opaque URIs resolved by the raster backend.
type MeasurementLocation struct {
	Path string `json:"path"`
	Band int    `json:"band,omitempty"`
	// Grid names the dataset grid this measurement was stored on.
	Grid string `json:"grid,omitempty"`
}

// Dataset is one indexed observation: a schema-validated metadata document,
// a footprint in its native CRS, an acquisition time, measurement storage
// locations and lineage references.
type Dataset struct {
	ID       uuid.UUID `json:"id"`
	Label    string    `json:"label,omitempty"`
	Product  string    `json:"product"`
	Document Document  `json:"document"`

	CRS       CRS          `json:"crs"`
	Footprint orb.Geometry `json:"-"`
	Time      TimeRange    `json:"time"`

	Measurements map[string]MeasurementLocation `json:"measurements"`
	// Lineage maps a relation classifier (e.g. "source") to parent ids.
	Lineage map[string][]uuid.UUID `json:"lineage,omitempty"`

	// Fields holds the searchable values extracted at validation time.
	Fields map[string]FieldValue `json:"-"`

	// Archived datasets are retained but excluded from search by default.
	Archived bool `json:"archived,omitempty"`
}

// SortDatasets orders datasets by acquisition time ascending, id ascending on
// ties. This is the total order every result sequence and load group uses.
func SortDatasets(datasets []Dataset) {
	sort.SliceStable(datasets, func(i, j int) bool {
		ti, tj := datasets[i].Time.Start, datasets[j].Time.Start
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return datasets[i].ID.String() < datasets[j].ID.String()
	})
}

// LineageEdge is one directed provenance edge: derived depends on source,
// labeled with a relation classifier.
type LineageEdge struct {
	Source     uuid.UUID `json:"source"`
	Derived    uuid.UUID `json:"derived"`
	Classifier string    `json:"classifier"`
}
