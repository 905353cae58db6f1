package domain

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Operator enumerates the predicate operators the schema registry can
// compile.
type Operator string

// Supported predicate operators.
const (
	// OpEquals matches a field equal to the operand.
	OpEquals Operator = "equals"
	// OpRange matches a field overlapping a [lo, hi] interval.
	OpRange Operator = "range"
	// OpIntersects matches a spatial field intersecting the operand
	// geometry.
	OpIntersects Operator = "spatial-intersects"
	// OpInSet matches a field equal to any operand in a set.
	OpInSet Operator = "in-set"
)

// Term is one unresolved field predicate within a query: a declared field
// name, an operator, and operands interpreted per the field's kind.
type Term struct {
	Field string
	Op    Operator
	Args  []any
}

// Region is an optional spatial constraint on a query.
type Region struct {
	Geometry orb.Geometry
	CRS      CRS
}

// Query is a conjunction of field predicates plus optional spatial and
// temporal range constraints against one product.
type Query struct {
	Product string
	Terms   []Term
	Region  *Region
	Time    *TimeRange
	// IncludeArchived also returns archived datasets.
	IncludeArchived bool
}

// FieldValue is one extracted searchable value. The member matching Kind is
// populated; Unknown marks an optional field absent from the document.
type FieldValue struct {
	Kind    FieldKind
	Unknown bool

	Str  string
	Num  float64
	Time TimeRange
	Geom orb.Geometry
	// CRS is the coordinate system of Geom, taken from the document at
	// extraction time. Empty for non-spatial values.
	CRS CRS
}

// UnknownValue returns the marker for an optional field that could not be
// extracted.
func UnknownValue(kind FieldKind) FieldValue {
	return FieldValue{Kind: kind, Unknown: true}
}

// StringValue wraps a string field value.
func StringValue(s string) FieldValue { return FieldValue{Kind: FieldString, Str: s} }

// NumericValue wraps a numeric field value.
func NumericValue(n float64) FieldValue { return FieldValue{Kind: FieldNumeric, Num: n} }

// TimeValue wraps a datetime-range field value.
func TimeValue(r TimeRange) FieldValue { return FieldValue{Kind: FieldDatetime, Time: r} }

// GeometryValue wraps a spatial field value in its native CRS.
func GeometryValue(g orb.Geometry, crs CRS) FieldValue {
	return FieldValue{Kind: FieldSpatial, Geom: g, CRS: crs}
}

func (v FieldValue) String() string {
	if v.Unknown {
		return "<unknown>"
	}
	switch v.Kind {
	case FieldString:
		return v.Str
	case FieldNumeric:
		return fmt.Sprintf("%g", v.Num)
	case FieldDatetime:
		if v.Time.Start.Equal(v.Time.End) {
			return v.Time.Start.Format("2006-01-02T15:04:05Z07:00")
		}
		return fmt.Sprintf("[%s, %s]",
			v.Time.Start.Format("2006-01-02T15:04:05Z07:00"),
			v.Time.End.Format("2006-01-02T15:04:05Z07:00"))
	case FieldSpatial:
		if v.Geom != nil {
			return string(v.Geom.GeoJSONType())
		}
	}
	return "<empty>"
}

// FilterFragment is the store-executable form of a predicate. CatalogStore
// drivers translate fragments into their native filtering and may over-fetch;
// the resolver re-checks every candidate in process.
type FilterFragment struct {
	Field string
	Op    Operator
	Args  []any
	// TimeAxis marks the fragment carrying the query's acquisition-time
	// window. Only this range may be pushed onto the time columns drivers
	// lift at write time; ranges on other datetime fields must narrow by
	// field name or not at all.
	TimeAxis bool
}

// Predicate is a compiled field predicate: the fragment handed to the store
// plus the in-process matcher used for reconciliation.
type Predicate struct {
	Field    string
	Op       Operator
	Fragment FilterFragment
	Match    func(FieldValue) bool
}
