package geo

import (
	"fmt"
	"time"

	"geocatalog/pkg/domain"
)

// secondsPerDegree is the local solar time offset per degree of longitude:
// 24h / 360 degrees = 4 minutes.
const secondsPerDegree = 240

// SolarDay returns the calendar day of a dataset's acquisition adjusted to
// the approximate local solar time at its footprint. A single overpass that
// straddles a UTC day boundary lands on one solar day.
func SolarDay(ds domain.Dataset, transform domain.CRSTransform) (time.Time, error) {
	lon, err := midLongitude(ds, transform)
	if err != nil {
		return time.Time{}, err
	}
	offset := time.Duration(int64(lon*secondsPerDegree)) * time.Second
	local := ds.Time.Center().UTC().Add(offset)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC), nil
}

// midLongitude finds the longitude of the footprint's center in EPSG:4326.
func midLongitude(ds domain.Dataset, transform domain.CRSTransform) (float64, error) {
	if ds.Footprint == nil {
		return 0, fmt.Errorf("solar day: dataset %s has no footprint", ds.ID)
	}
	geom := ds.Footprint
	if !ds.CRS.Equal(domain.EPSG4326) {
		if transform == nil {
			return 0, fmt.Errorf("solar day: no CRS transform configured for %s", ds.CRS)
		}
		reprojected, err := transform.Transform(ds.CRS, domain.EPSG4326, geom)
		if err != nil {
			return 0, fmt.Errorf("solar day: reproject %s: %w", ds.CRS, err)
		}
		geom = reprojected
	}
	b := geom.Bound()
	return (b.Min[0] + b.Max[0]) / 2, nil
}
