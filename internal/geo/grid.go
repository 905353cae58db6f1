// Package geo implements the CRS-aware grid arithmetic behind grouping:
// geobox alignment, tile indexing, footprint intersection and solar-day
// bucketing. Projection math is delegated to the domain.CRSTransform
// collaborator; this package only decides when a transform is required.
package geo

import (
	"math"

	"github.com/paulmach/orb"

	"geocatalog/pkg/domain"
)

// snapEps absorbs floating point noise when testing whether a coordinate
// already sits on a grid boundary, expressed as a fraction of one pixel.
const snapEps = 1e-6

func floorEps(v float64) float64 { return math.Floor(v + snapEps) }
func ceilEps(v float64) float64  { return math.Ceil(v - snapEps) }

// Align snaps a footprint's bounding extent outward to the nearest
// grid-aligned pixel boundaries of the spec. The result fully contains the
// input bound and its edges are exact integer multiples of the resolution
// from the grid origin. Aligning an already-aligned extent returns it
// unchanged.
func Align(gs domain.GridSpec, bound orb.Bound) (domain.GeoBox, error) {
	if err := gs.Validate(); err != nil {
		return domain.GeoBox{}, err
	}
	resX := math.Abs(gs.ResolutionX)
	resY := math.Abs(gs.ResolutionY)

	left := gs.OriginX + floorEps((bound.Min[0]-gs.OriginX)/resX)*resX
	right := gs.OriginX + ceilEps((bound.Max[0]-gs.OriginX)/resX)*resX
	bottom := gs.OriginY + floorEps((bound.Min[1]-gs.OriginY)/resY)*resY
	top := gs.OriginY + ceilEps((bound.Max[1]-gs.OriginY)/resY)*resY

	cols := int(math.Round((right - left) / resX))
	rows := int(math.Round((top - bottom) / resY))
	// A degenerate footprint still occupies one pixel.
	if cols == 0 {
		cols = 1
		right = left + resX
	}
	if rows == 0 {
		rows = 1
		top = bottom + resY
	}

	return domain.GeoBox{
		CRS: gs.CRS,
		Transform: domain.Affine{
			A: resX, B: 0, C: left,
			D: 0, E: -resY, F: top,
		},
		Shape: domain.Shape{Rows: rows, Cols: cols},
	}, nil
}

// TileIndex identifies one tile of a GridSpec.
type TileIndex struct {
	Y, X int
}

// TilesOverlapping returns the tile indices whose extents overlap the given
// bound, in row-major order (Y ascending, then X). Extents touching a tile
// boundary from outside do not spill into the neighbouring tile.
func TilesOverlapping(gs domain.GridSpec, bound orb.Bound) ([]TileIndex, error) {
	if err := gs.Validate(); err != nil {
		return nil, err
	}
	tileW, tileH := gs.TileExtent()

	x0 := int(floorEps((bound.Min[0] - gs.OriginX) / tileW))
	x1 := int(ceilEps((bound.Max[0] - gs.OriginX) / tileW))
	y0 := int(floorEps((bound.Min[1] - gs.OriginY) / tileH))
	y1 := int(ceilEps((bound.Max[1] - gs.OriginY) / tileH))
	// A degenerate bound sitting exactly on a boundary still occupies the
	// tile it opens.
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}

	out := make([]TileIndex, 0, (x1-x0)*(y1-y0))
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			out = append(out, TileIndex{Y: y, X: x})
		}
	}
	return out, nil
}

// TileGeoBox returns the geobox of one tile. The transform is north-up
// regardless of the sign convention used for the grid's y resolution.
func TileGeoBox(gs domain.GridSpec, tile TileIndex) domain.GeoBox {
	resX := math.Abs(gs.ResolutionX)
	resY := math.Abs(gs.ResolutionY)
	tileW, tileH := gs.TileExtent()

	left := gs.OriginX + float64(tile.X)*tileW
	top := gs.OriginY + float64(tile.Y+1)*tileH

	return domain.GeoBox{
		CRS: gs.CRS,
		Transform: domain.Affine{
			A: resX, B: 0, C: left,
			D: 0, E: -resY, F: top,
		},
		Shape: gs.TileShape,
	}
}

// TileBound returns the world-space extent of one tile.
func TileBound(gs domain.GridSpec, tile TileIndex) orb.Bound {
	tileW, tileH := gs.TileExtent()
	return orb.Bound{
		Min: orb.Point{gs.OriginX + float64(tile.X)*tileW, gs.OriginY + float64(tile.Y)*tileH},
		Max: orb.Point{gs.OriginX + float64(tile.X+1)*tileW, gs.OriginY + float64(tile.Y+1)*tileH},
	}
}
