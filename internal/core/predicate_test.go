package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"geocatalog/pkg/domain"
)

func TestResolvePredicateUndeclaredField(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.ResolvePredicate(EO3MetadataTypeName, "sensor", domain.OpEquals, "oli")
	var qe domain.QueryError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QueryError, got %v", err)
	}
	if qe.Field != "sensor" {
		t.Fatalf("error names field %q", qe.Field)
	}
}

func TestResolvePredicateEquals(t *testing.T) {
	r := newTestRegistry(t)
	p, err := r.ResolvePredicate(EO3MetadataTypeName, "platform", domain.OpEquals, "landsat-8")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !p.Match(domain.StringValue("landsat-8")) {
		t.Errorf("exact match rejected")
	}
	if p.Match(domain.StringValue("sentinel-2a")) {
		t.Errorf("mismatch accepted")
	}
	if p.Match(domain.UnknownValue(domain.FieldString)) {
		t.Errorf("unknown value matched equals")
	}
	if p.Fragment.Field != "platform" || p.Fragment.Op != domain.OpEquals {
		t.Errorf("fragment = %+v", p.Fragment)
	}
}

func TestResolvePredicateInSet(t *testing.T) {
	r := newTestRegistry(t)
	p, err := r.ResolvePredicate(EO3MetadataTypeName, "platform", domain.OpInSet,
		"landsat-8", "landsat-9")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, want := range []string{"landsat-8", "landsat-9"} {
		if !p.Match(domain.StringValue(want)) {
			t.Errorf("%s not matched by set", want)
		}
	}
	if p.Match(domain.StringValue("landsat-7")) {
		t.Errorf("non-member matched")
	}
}

func TestResolvePredicateNumericRange(t *testing.T) {
	r := newTestRegistry(t)
	p, err := r.ResolvePredicate(EO3MetadataTypeName, "cloud_cover", domain.OpRange, 10, 50.0)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !p.Match(domain.NumericValue(10)) || !p.Match(domain.NumericValue(50)) {
		t.Errorf("closed endpoints rejected")
	}
	if p.Match(domain.NumericValue(50.01)) {
		t.Errorf("out-of-range value matched")
	}

	// Swapped operands normalize rather than fail.
	p, err = r.ResolvePredicate(EO3MetadataTypeName, "cloud_cover", domain.OpRange, 50, 10)
	if err != nil {
		t.Fatalf("resolve swapped: %v", err)
	}
	if !p.Match(domain.NumericValue(30)) {
		t.Errorf("swapped range rejected interior value")
	}
}

func TestResolvePredicateTimeRangeOverlaps(t *testing.T) {
	r := newTestRegistry(t)
	p, err := r.ResolvePredicate(EO3MetadataTypeName, "time", domain.OpRange,
		"2020-01-01", "2020-01-31T23:59:59Z")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	inside := domain.TimeValue(domain.NewInstant(time.Date(2020, 1, 15, 12, 0, 0, 0, time.UTC)))
	if !p.Match(inside) {
		t.Errorf("interior instant rejected")
	}
	// A dataset range that merely overlaps the window matches.
	straddling := domain.TimeValue(domain.TimeRange{
		Start: time.Date(2019, 12, 30, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	if !p.Match(straddling) {
		t.Errorf("overlapping range rejected")
	}
	outside := domain.TimeValue(domain.NewInstant(time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)))
	if p.Match(outside) {
		t.Errorf("disjoint instant matched")
	}
}

func TestResolvePredicateSpatialOnNonSpatialField(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.ResolvePredicate(EO3MetadataTypeName, "platform", domain.OpIntersects,
		polyNode(0, 0, 1, 1))
	var qe domain.QueryError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QueryError, got %v", err)
	}
}

func TestResolvePredicateSpatialIntersects(t *testing.T) {
	r := newTestRegistry(t)
	p, err := r.ResolvePredicate(EO3MetadataTypeName, "footprint", domain.OpIntersects,
		polyNode(148, -36, 149, -35))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	hit, err := coerceGeometry(polyNode(148.5, -35.5, 150, -34))
	if err != nil {
		t.Fatalf("geometry: %v", err)
	}
	if !p.Match(domain.GeometryValue(hit, domain.EPSG4326)) {
		t.Errorf("overlapping footprint rejected")
	}
	miss, err := coerceGeometry(polyNode(10, 10, 11, 11))
	if err != nil {
		t.Fatalf("geometry: %v", err)
	}
	if p.Match(domain.GeometryValue(miss, domain.EPSG4326)) {
		t.Errorf("disjoint footprint matched")
	}
}

// shiftTransform fakes a projected CRS whose x axis sits 100 units east of
// longitude.
type shiftTransform struct{ calls int }

const shiftedCRS = domain.CRS("TEST:shifted")

func (tr *shiftTransform) Transform(from, to domain.CRS, g orb.Geometry) (orb.Geometry, error) {
	tr.calls++
	if from != shiftedCRS || to != domain.EPSG4326 {
		return nil, fmt.Errorf("unexpected transform %s to %s", from, to)
	}
	poly, ok := g.(orb.Polygon)
	if !ok {
		return nil, fmt.Errorf("unexpected geometry %T", g)
	}
	out := make(orb.Polygon, len(poly))
	for i, ring := range poly {
		shifted := make(orb.Ring, len(ring))
		for j, pt := range ring {
			shifted[j] = orb.Point{pt[0] - 100, pt[1]}
		}
		out[i] = shifted
	}
	return out, nil
}

func TestResolvePredicateSpatialReprojectsFootprint(t *testing.T) {
	tr := &shiftTransform{}
	r := NewRegistry(tr)
	if err := RegisterDefaults(r); err != nil {
		t.Fatalf("register defaults: %v", err)
	}

	p, err := r.ResolvePredicate(EO3MetadataTypeName, "footprint", domain.OpIntersects,
		polyNode(148, -36, 149, -35), string(domain.EPSG4326))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// The footprint is stored in its own projected CRS; only after
	// reprojection does it overlap the query polygon.
	foot := orb.Polygon{{
		{248.2, -35.8}, {248.8, -35.8}, {248.8, -35.2}, {248.2, -35.2}, {248.2, -35.8},
	}}
	if !p.Match(domain.GeometryValue(foot, shiftedCRS)) {
		t.Fatalf("intersecting footprint dropped instead of reprojected")
	}
	if tr.calls == 0 {
		t.Fatalf("transform never invoked")
	}

	far := orb.Polygon{{
		{110, 10}, {111, 10}, {111, 11}, {110, 11}, {110, 10},
	}}
	if p.Match(domain.GeometryValue(far, shiftedCRS)) {
		t.Fatalf("disjoint footprint matched after reprojection")
	}
}

func TestResolvePredicateOperandArity(t *testing.T) {
	r := newTestRegistry(t)
	cases := []struct {
		name string
		op   domain.Operator
		args []any
	}{
		{"equals two operands", domain.OpEquals, []any{"a", "b"}},
		{"in-set empty", domain.OpInSet, nil},
		{"range one operand", domain.OpRange, []any{"2020-01-01"}},
	}
	for _, tc := range cases {
		if _, err := r.ResolvePredicate(EO3MetadataTypeName, "platform", tc.op, tc.args...); err == nil {
			t.Errorf("%s: accepted", tc.name)
		}
	}
}
