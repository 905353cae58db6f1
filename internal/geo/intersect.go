package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"geocatalog/pkg/domain"
)

// Intersector tests footprint intersection across coordinate systems. When
// the two geometries carry different CRS identifiers the second is
// reprojected into the first's CRS through the transform collaborator; the
// test itself is planar with a configurable tolerance in projected units.
type Intersector struct {
	transform domain.CRSTransform
	epsilon   float64
}

// DefaultEpsilon is the intersection tolerance applied when none is
// configured, in projected units.
const DefaultEpsilon = 1e-9

// NewIntersector builds an intersector around the supplied CRS transform.
// A nil transform restricts the intersector to same-CRS comparisons.
func NewIntersector(transform domain.CRSTransform, epsilon float64) *Intersector {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	return &Intersector{transform: transform, epsilon: epsilon}
}

// Intersects reports whether footprint b touches footprint a, reprojecting b
// into a's CRS first when the identifiers differ.
func (ix *Intersector) Intersects(a orb.Geometry, crsA domain.CRS, b orb.Geometry, crsB domain.CRS) (bool, error) {
	if a == nil || b == nil {
		return false, nil
	}
	if !crsA.Equal(crsB) {
		if ix.transform == nil {
			return false, fmt.Errorf("intersect: no CRS transform configured for %s vs %s", crsA, crsB)
		}
		reprojected, err := ix.transform.Transform(crsB, crsA, b)
		if err != nil {
			return false, fmt.Errorf("intersect: reproject %s to %s: %w", crsB, crsA, err)
		}
		b = reprojected
	}
	return geometriesIntersect(a, b, ix.epsilon), nil
}

func geometriesIntersect(a, b orb.Geometry, eps float64) bool {
	ba, bb := a.Bound(), b.Bound()
	if !boundsOverlap(ba, bb, eps) {
		return false
	}
	pa, okA := asPolygons(a)
	pb, okB := asPolygons(b)
	if !okA || !okB {
		// Non-polygonal footprints fall back to the bound test above.
		return true
	}
	for _, polyA := range pa {
		for _, polyB := range pb {
			if polygonsIntersect(polyA, polyB, eps) {
				return true
			}
		}
	}
	return false
}

func boundsOverlap(a, b orb.Bound, eps float64) bool {
	return a.Min[0] <= b.Max[0]+eps && b.Min[0] <= a.Max[0]+eps &&
		a.Min[1] <= b.Max[1]+eps && b.Min[1] <= a.Max[1]+eps
}

func asPolygons(g orb.Geometry) ([]orb.Polygon, bool) {
	switch geom := g.(type) {
	case orb.Polygon:
		return []orb.Polygon{geom}, true
	case orb.MultiPolygon:
		return []orb.Polygon(geom), true
	case orb.Bound:
		return []orb.Polygon{geom.ToPolygon()}, true
	}
	return nil, false
}

// polygonsIntersect covers the three ways two polygons can touch: a vertex
// of one inside the other (containment either way), or a pair of crossing
// edges.
func polygonsIntersect(a, b orb.Polygon, eps float64) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	for _, pt := range b[0] {
		if planar.PolygonContains(a, pt) {
			return true
		}
	}
	for _, pt := range a[0] {
		if planar.PolygonContains(b, pt) {
			return true
		}
	}
	return ringsCross(a[0], b[0], eps)
}

func ringsCross(a, b orb.Ring, eps float64) bool {
	for i := 0; i+1 < len(a); i++ {
		for j := 0; j+1 < len(b); j++ {
			if segmentsIntersect(a[i], a[i+1], b[j], b[j+1], eps) {
				return true
			}
		}
	}
	return false
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point, eps float64) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)

	if ((d1 > eps && d2 < -eps) || (d1 < -eps && d2 > eps)) &&
		((d3 > eps && d4 < -eps) || (d3 < -eps && d4 > eps)) {
		return true
	}
	// Collinear touching within tolerance.
	if math.Abs(d1) <= eps && onSegment(q1, q2, p1, eps) {
		return true
	}
	if math.Abs(d2) <= eps && onSegment(q1, q2, p2, eps) {
		return true
	}
	if math.Abs(d3) <= eps && onSegment(p1, p2, q1, eps) {
		return true
	}
	if math.Abs(d4) <= eps && onSegment(p1, p2, q2, eps) {
		return true
	}
	return false
}

func cross(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func onSegment(a, b, p orb.Point, eps float64) bool {
	return math.Min(a[0], b[0])-eps <= p[0] && p[0] <= math.Max(a[0], b[0])+eps &&
		math.Min(a[1], b[1])-eps <= p[1] && p[1] <= math.Max(a[1], b[1])+eps
}
