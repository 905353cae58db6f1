package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTimeRangeOverlapsAndContains(t *testing.T) {
	base := TimeRange{
		Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2020, 1, 10, 0, 0, 0, 0, time.UTC),
	}
	cases := []struct {
		name  string
		other TimeRange
		want  bool
	}{
		{"inside", TimeRange{base.Start.Add(24 * time.Hour), base.End.Add(-24 * time.Hour)}, true},
		{"touching end", TimeRange{base.End, base.End.Add(time.Hour)}, true},
		{"disjoint after", TimeRange{base.End.Add(time.Hour), base.End.Add(2 * time.Hour)}, false},
		{"covering", TimeRange{base.Start.Add(-time.Hour), base.End.Add(time.Hour)}, true},
	}
	for _, tc := range cases {
		if got := base.Overlaps(tc.other); got != tc.want {
			t.Errorf("%s: Overlaps = %v, want %v", tc.name, got, tc.want)
		}
	}

	if !base.Contains(base.Start) || !base.Contains(base.End) {
		t.Fatalf("closed range must contain both endpoints")
	}
	if base.Contains(base.End.Add(time.Nanosecond)) {
		t.Fatalf("range must not contain instants past the end")
	}
}

func TestTimeRangeCenter(t *testing.T) {
	r := TimeRange{
		Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC),
	}
	want := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	if got := r.Center(); !got.Equal(want) {
		t.Fatalf("Center = %v, want %v", got, want)
	}
	instant := NewInstant(want)
	if got := instant.Center(); !got.Equal(want) {
		t.Fatalf("instant center = %v", got)
	}
}

func TestSortDatasetsTotalOrder(t *testing.T) {
	t0 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	idA := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	idB := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	idC := uuid.MustParse("00000000-0000-0000-0000-00000000000c")

	datasets := []Dataset{
		{ID: idC, Time: NewInstant(t0.Add(time.Hour))},
		{ID: idB, Time: NewInstant(t0)},
		{ID: idA, Time: NewInstant(t0)},
	}
	SortDatasets(datasets)

	want := []uuid.UUID{idA, idB, idC}
	for i, ds := range datasets {
		if ds.ID != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, ds.ID, want[i])
		}
	}
}

func TestCanonicalMeasurementResolvesAliases(t *testing.T) {
	p := Product{
		Name: "ls8",
		Measurements: map[string]Measurement{
			"red": {Name: "red", DType: "uint16", Aliases: []string{"band_4"}},
		},
	}
	if got, ok := p.CanonicalMeasurement("red"); !ok || got != "red" {
		t.Fatalf("canonical lookup = %q, %v", got, ok)
	}
	if got, ok := p.CanonicalMeasurement("band_4"); !ok || got != "red" {
		t.Fatalf("alias lookup = %q, %v", got, ok)
	}
	if _, ok := p.CanonicalMeasurement("nir"); ok {
		t.Fatalf("undeclared measurement resolved")
	}
}

func TestCellKeyOrder(t *testing.T) {
	keys := []CellKey{
		{Time: "2020-01-02", Y: 0, X: 0},
		{Time: "2020-01-01", Y: 1, X: 0},
		{Time: "2020-01-01", Y: 0, X: 1},
		{Time: "2020-01-01", Y: 0, X: 0},
	}
	for i := 1; i < len(keys); i++ {
		if !keys[i].Less(keys[i-1]) {
			t.Fatalf("expected %v < %v", keys[i], keys[i-1])
		}
	}
}

func TestGridSpecValidateAndEqual(t *testing.T) {
	gs := GridSpec{CRS: EPSG4326, ResolutionX: 0.25, ResolutionY: -0.25, TileShape: Shape{Rows: 4, Cols: 4}}
	if err := gs.Validate(); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
	if err := (GridSpec{}).Validate(); err == nil {
		t.Fatalf("zero spec accepted")
	}

	other := gs
	other.CRS = "epsg:4326"
	if !gs.Equal(other) {
		t.Fatalf("CRS comparison must ignore case")
	}
	other.OriginX = 0.5
	if gs.Equal(other) {
		t.Fatalf("differing origin compared equal")
	}

	w, h := gs.TileExtent()
	if w != 1.0 || h != 1.0 {
		t.Fatalf("tile extent = %v x %v", w, h)
	}
}
