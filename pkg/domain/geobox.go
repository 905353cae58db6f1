package domain

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
)

// CRS identifies a coordinate reference system by authority code, e.g.
// "EPSG:4326". The projection math itself lives behind the CRSTransform
// contract; the core only compares identifiers.
type CRS string

// EPSG4326 is the geographic WGS 84 system used for solar-day bucketing.
const EPSG4326 CRS = "EPSG:4326"

// Equal compares two CRS identifiers, ignoring case.
func (c CRS) Equal(other CRS) bool {
	return strings.EqualFold(string(c), string(other))
}

// IsZero reports whether the identifier is unset.
func (c CRS) IsZero() bool { return c == "" }

func (c CRS) String() string { return string(c) }

// Affine is a 2D affine transform from pixel space to world space:
//
//	x_world = A*col + B*row + C
//	y_world = D*col + E*row + F
//
// For axis-aligned grids B and D are zero, A is the x resolution and E the
// (usually negative) y resolution.
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// Apply maps a pixel coordinate to world coordinates.
func (t Affine) Apply(col, row float64) (x, y float64) {
	return t.A*col + t.B*row + t.C, t.D*col + t.E*row + t.F
}

// Shape is a raster extent in pixels.
type Shape struct {
	Rows int `json:"rows" yaml:"rows"`
	Cols int `json:"cols" yaml:"cols"`
}

// GeoBox is a concrete grid-aligned rectangular extent: a CRS, an affine
// transform anchored at the top-left pixel, and a pixel shape.
type GeoBox struct {
	CRS       CRS    `json:"crs"`
	Transform Affine `json:"transform"`
	Shape     Shape  `json:"shape"`
}

// Bounds returns the world-space bounding box covered by the geobox.
func (g GeoBox) Bounds() orb.Bound {
	x0, y0 := g.Transform.Apply(0, 0)
	x1, y1 := g.Transform.Apply(float64(g.Shape.Cols), float64(g.Shape.Rows))
	return orb.Bound{
		Min: orb.Point{math.Min(x0, x1), math.Min(y0, y1)},
		Max: orb.Point{math.Max(x0, x1), math.Max(y0, y1)},
	}
}

// IsZero reports whether the geobox is unset.
func (g GeoBox) IsZero() bool { return g.Shape.Rows == 0 && g.Shape.Cols == 0 }

// Equal reports exact equality of CRS, transform and shape.
func (g GeoBox) Equal(other GeoBox) bool {
	return g.CRS.Equal(other.CRS) && g.Transform == other.Transform && g.Shape == other.Shape
}

// GridSpec defines a regular tiling of a CRS: pixel resolution, an origin
// the grid is anchored to, and the tile shape in pixels. Group-by operations
// snap dataset footprints onto this grid.
type GridSpec struct {
	CRS CRS `json:"crs" yaml:"crs"`
	// ResolutionX is the pixel width in CRS units (positive).
	ResolutionX float64 `json:"resolution_x" yaml:"resolution_x"`
	// ResolutionY is the pixel height in CRS units; negative for north-up
	// grids, matching the affine convention.
	ResolutionY float64 `json:"resolution_y" yaml:"resolution_y"`
	// OriginX, OriginY anchor cell boundaries; (0,0) unless an alignment
	// offset is declared.
	OriginX float64 `json:"origin_x,omitempty" yaml:"origin_x,omitempty"`
	OriginY float64 `json:"origin_y,omitempty" yaml:"origin_y,omitempty"`
	// TileShape is the number of pixels per tile along each axis.
	TileShape Shape `json:"tile_shape" yaml:"tile_shape"`
}

// Validate checks the spec describes a usable grid.
func (gs GridSpec) Validate() error {
	if gs.CRS.IsZero() {
		return fmt.Errorf("grid spec: missing crs")
	}
	if gs.ResolutionX == 0 || gs.ResolutionY == 0 {
		return fmt.Errorf("grid spec: zero resolution")
	}
	if gs.TileShape.Rows <= 0 || gs.TileShape.Cols <= 0 {
		return fmt.Errorf("grid spec: non-positive tile shape %dx%d", gs.TileShape.Rows, gs.TileShape.Cols)
	}
	return nil
}

// TileExtent returns the world-space width and height of one tile, both
// positive.
func (gs GridSpec) TileExtent() (width, height float64) {
	return math.Abs(gs.ResolutionX) * float64(gs.TileShape.Cols),
		math.Abs(gs.ResolutionY) * float64(gs.TileShape.Rows)
}

// Equal reports exact equality of all grid parameters. Collate and juxtapose
// compatibility checks use this.
func (gs GridSpec) Equal(other GridSpec) bool {
	return gs.CRS.Equal(other.CRS) &&
		gs.ResolutionX == other.ResolutionX && gs.ResolutionY == other.ResolutionY &&
		gs.OriginX == other.OriginX && gs.OriginY == other.OriginY &&
		gs.TileShape == other.TileShape
}
