package geo

import (
	"testing"
	"time"

	"github.com/paulmach/orb"

	"geocatalog/pkg/domain"
)

func footprintAround(lon float64) orb.Geometry {
	return orb.Polygon{{
		{lon - 0.5, -10}, {lon + 0.5, -10}, {lon + 0.5, -9}, {lon - 0.5, -9}, {lon - 0.5, -10},
	}}
}

func TestSolarDayShiftsEastwardAcquisitions(t *testing.T) {
	// 23:50 UTC on Jan 1 at longitude 150: local solar time is ten hours
	// ahead, so the acquisition belongs to Jan 2.
	ds := domain.Dataset{
		CRS:       domain.EPSG4326,
		Footprint: footprintAround(150),
		Time:      domain.NewInstant(time.Date(2020, 1, 1, 23, 50, 0, 0, time.UTC)),
	}
	day, err := SolarDay(ds, nil)
	if err != nil {
		t.Fatalf("solar day: %v", err)
	}
	if want := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC); !day.Equal(want) {
		t.Fatalf("solar day = %v, want %v", day, want)
	}
}

func TestSolarDayShiftsWestwardAcquisitions(t *testing.T) {
	// 00:10 UTC on Jan 2 at longitude -150: local solar time is ten hours
	// behind, still Jan 1.
	ds := domain.Dataset{
		CRS:       domain.EPSG4326,
		Footprint: footprintAround(-150),
		Time:      domain.NewInstant(time.Date(2020, 1, 2, 0, 10, 0, 0, time.UTC)),
	}
	day, err := SolarDay(ds, nil)
	if err != nil {
		t.Fatalf("solar day: %v", err)
	}
	if want := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC); !day.Equal(want) {
		t.Fatalf("solar day = %v, want %v", day, want)
	}
}

func TestSolarDayAgreesWithUTCNearGreenwich(t *testing.T) {
	ds := domain.Dataset{
		CRS:       domain.EPSG4326,
		Footprint: footprintAround(0),
		Time:      domain.NewInstant(time.Date(2020, 6, 15, 12, 0, 0, 0, time.UTC)),
	}
	day, err := SolarDay(ds, nil)
	if err != nil {
		t.Fatalf("solar day: %v", err)
	}
	if want := time.Date(2020, 6, 15, 0, 0, 0, 0, time.UTC); !day.Equal(want) {
		t.Fatalf("solar day = %v, want %v", day, want)
	}
}

func TestSolarDayRequiresFootprint(t *testing.T) {
	ds := domain.Dataset{CRS: domain.EPSG4326,
		Time: domain.NewInstant(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))}
	if _, err := SolarDay(ds, nil); err == nil {
		t.Fatalf("expected error for missing footprint")
	}
}

func TestSolarDayNeedsTransformForProjectedFootprints(t *testing.T) {
	ds := domain.Dataset{
		CRS:       "EPSG:32655",
		Footprint: footprintAround(500000),
		Time:      domain.NewInstant(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	if _, err := SolarDay(ds, nil); err == nil {
		t.Fatalf("expected error without a CRS transform")
	}
}
