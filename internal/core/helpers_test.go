package core

import (
	"testing"

	"geocatalog/pkg/domain"
)

func testGrid() domain.GridSpec {
	return domain.GridSpec{
		CRS:         domain.EPSG4326,
		ResolutionX: 0.25,
		ResolutionY: -0.25,
		TileShape:   domain.Shape{Rows: 4, Cols: 4},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(nil)
	if err := RegisterDefaults(r); err != nil {
		t.Fatalf("register defaults: %v", err)
	}
	return r
}

func registerTestProduct(t *testing.T, r *Registry, name string) {
	t.Helper()
	err := r.RegisterProduct(domain.Product{
		Name:         name,
		MetadataType: EO3MetadataTypeName,
		Measurements: map[string]domain.Measurement{
			"red": {Name: "red", DType: "uint16", NoData: 0, Aliases: []string{"band_4"}},
			"nir": {Name: "nir", DType: "uint16", NoData: 0},
		},
		Grids: map[string]domain.GridSpec{domain.DefaultGridName: testGrid()},
	})
	if err != nil {
		t.Fatalf("register product %s: %v", name, err)
	}
}

func polyNode(minX, minY, maxX, maxY float64) map[string]any {
	ring := []any{
		[]any{minX, minY}, []any{maxX, minY}, []any{maxX, maxY}, []any{minX, maxY}, []any{minX, minY},
	}
	return map[string]any{"type": "Polygon", "coordinates": []any{ring}}
}

// eo3Doc builds a minimal valid eo3 document for the named product. The
// document carries a "red" measurement unless the caller names others.
func eo3Doc(id, product, platform, datetime string, minX, minY, maxX, maxY float64, measurements ...string) domain.Document {
	if len(measurements) == 0 {
		measurements = []string{"red"}
	}
	entries := make(map[string]any, len(measurements))
	for _, name := range measurements {
		entries[name] = map[string]any{"path": name + ".tif"}
	}
	return domain.Document{
		"id":       id,
		"label":    "test-" + id[:8],
		"product":  map[string]any{"name": product},
		"crs":      "EPSG:4326",
		"geometry": polyNode(minX, minY, maxX, maxY),
		"properties": map[string]any{
			"datetime":        datetime,
			"eo:platform":     platform,
			"odc:region_code": "090084",
		},
		"measurements": entries,
	}
}
