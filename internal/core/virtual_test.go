package core

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"geocatalog/pkg/domain"
)

func virtualFixture(t *testing.T) (*VirtualResolver, *countingStore, *Registry) {
	t.Helper()
	r := newTestRegistry(t)
	registerTestProduct(t, r, "ls8")
	registerTestProduct(t, r, "ls7")

	// A sibling product with a disjoint measurement set, on the same grid.
	err := r.RegisterProduct(domain.Product{
		Name:         "s2_swir",
		MetadataType: EO3MetadataTypeName,
		Measurements: map[string]domain.Measurement{
			"swir": {Name: "swir", DType: "uint16"},
		},
		Grids: map[string]domain.GridSpec{domain.DefaultGridName: testGrid()},
	})
	if err != nil {
		t.Fatalf("register s2_swir: %v", err)
	}

	// And one on an incompatible grid.
	coarse := testGrid()
	coarse.ResolutionX = 0.5
	coarse.ResolutionY = -0.5
	err = r.RegisterProduct(domain.Product{
		Name:         "modis",
		MetadataType: EO3MetadataTypeName,
		Measurements: map[string]domain.Measurement{
			"red": {Name: "red", DType: "uint16"},
			"nir": {Name: "nir", DType: "uint16"},
		},
		Grids: map[string]domain.GridSpec{domain.DefaultGridName: coarse},
	})
	if err != nil {
		t.Fatalf("register modis: %v", err)
	}

	store := newCountingStore()
	queries := NewQueryResolver(r, store)
	return NewVirtualResolver(r, queries, NewGroupByEngine(nil)), store, r
}

func leaf(product string, measurements ...string) VirtualProduct {
	return VirtualProduct{Kind: VirtualLeaf, Product: product, Measurements: measurements}
}

func TestVirtualValidateArity(t *testing.T) {
	cases := map[string]VirtualProduct{
		"leaf without product":   {Kind: VirtualLeaf},
		"leaf with children":     {Kind: VirtualLeaf, Product: "ls8", Children: []VirtualProduct{leaf("ls7")}},
		"transform without name": {Kind: VirtualTransform, Children: []VirtualProduct{leaf("ls8")}},
		"transform two children": {Kind: VirtualTransform, Transform: "ndvi",
			Children: []VirtualProduct{leaf("ls8"), leaf("ls7")}},
		"collate one child":   {Kind: VirtualCollate, Children: []VirtualProduct{leaf("ls8")}},
		"juxtapose one child": {Kind: VirtualJuxtapose, Children: []VirtualProduct{leaf("ls8")}},
		"unknown kind":        {Kind: "blend", Children: []VirtualProduct{leaf("ls8"), leaf("ls7")}},
		"invalid grandchild": {Kind: VirtualCollate,
			Children: []VirtualProduct{leaf("ls8"), {Kind: VirtualLeaf}}},
	}
	for name, vp := range cases {
		if err := vp.Validate(); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}

func TestVirtualResolveLeaf(t *testing.T) {
	v, store, _ := virtualFixture(t)
	store.add("ls8", eo3Doc("11111111-1111-4111-8111-111111111111", "ls8", "landsat-8",
		"2020-06-01T01:00:00Z", 0.1, 0.1, 0.9, 0.9), false)

	// Measurement aliases canonicalize and sort.
	plan, err := v.Resolve(context.Background(), leaf("ls8", "nir", "band_4"), ResolveOptions{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !plan.Grid.Equal(testGrid()) {
		t.Errorf("plan grid = %+v", plan.Grid)
	}
	if len(plan.Groups) != 1 {
		t.Fatalf("groups = %+v", plan.Groups)
	}
	g := plan.Groups[0]
	if len(g.Sources) != 1 || g.Sources[0].Product != "ls8" {
		t.Fatalf("sources = %+v", g.Sources)
	}
	if want := []string{"nir", "red"}; !reflect.DeepEqual(g.Sources[0].Measurements, want) {
		t.Errorf("measurements = %v, want %v", g.Sources[0].Measurements, want)
	}
	if len(g.Sources[0].Datasets) != 1 {
		t.Errorf("datasets = %+v", g.Sources[0].Datasets)
	}
}

func TestVirtualResolveLeafUndeclaredMeasurement(t *testing.T) {
	v, _, _ := virtualFixture(t)
	_, err := v.Resolve(context.Background(), leaf("ls8", "thermal"), ResolveOptions{})
	var qe domain.QueryError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QueryError, got %v", err)
	}
}

func TestVirtualCollateMergesWithChildPriority(t *testing.T) {
	v, store, _ := virtualFixture(t)
	// Both products observe the same cell on the same day; ls7 alone covers a
	// second cell.
	store.add("ls8", eo3Doc("11111111-1111-4111-8111-111111111111", "ls8", "landsat-8",
		"2020-06-01T01:00:00Z", 0.1, 0.1, 0.9, 0.9), false)
	store.add("ls7", eo3Doc("22222222-2222-4222-8222-222222222222", "ls7", "landsat-7",
		"2020-06-01T02:00:00Z", 0.1, 0.1, 0.9, 0.9), false)
	store.add("ls7", eo3Doc("33333333-3333-4333-8333-333333333333", "ls7", "landsat-7",
		"2020-06-01T02:00:00Z", 1.1, 0.1, 1.9, 0.9), false)

	vp := VirtualProduct{Kind: VirtualCollate, Children: []VirtualProduct{leaf("ls8"), leaf("ls7")}}
	plan, err := v.Resolve(context.Background(), vp, ResolveOptions{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(plan.Groups) != 2 {
		t.Fatalf("groups = %+v", plan.Groups)
	}

	shared := plan.Groups[0]
	if len(shared.Sources) != 2 {
		t.Fatalf("shared cell sources = %+v", shared.Sources)
	}
	// Child order is priority order.
	if shared.Sources[0].Product != "ls8" || shared.Sources[1].Product != "ls7" {
		t.Errorf("priority order = %s, %s", shared.Sources[0].Product, shared.Sources[1].Product)
	}

	only := plan.Groups[1]
	if len(only.Sources) != 1 || only.Sources[0].Product != "ls7" {
		t.Errorf("ls7-only cell = %+v", only.Sources)
	}
}

func TestVirtualCollateGridMismatch(t *testing.T) {
	v, _, _ := virtualFixture(t)
	vp := VirtualProduct{Kind: VirtualCollate, Children: []VirtualProduct{leaf("ls8"), leaf("modis")}}
	_, err := v.Resolve(context.Background(), vp, ResolveOptions{})
	var mismatch domain.CollateGridMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected CollateGridMismatchError, got %v", err)
	}
	if mismatch.Node == "" {
		t.Fatalf("error does not name the node: %+v", mismatch)
	}
}

func TestVirtualCollateMeasurementMismatch(t *testing.T) {
	v, _, _ := virtualFixture(t)
	vp := VirtualProduct{Kind: VirtualCollate, Children: []VirtualProduct{leaf("ls8"), leaf("s2_swir")}}
	_, err := v.Resolve(context.Background(), vp, ResolveOptions{})
	var qe domain.QueryError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QueryError, got %v", err)
	}
}

func TestVirtualJuxtaposeCombinesMeasurements(t *testing.T) {
	v, store, _ := virtualFixture(t)
	store.add("ls8", eo3Doc("11111111-1111-4111-8111-111111111111", "ls8", "landsat-8",
		"2020-06-01T01:00:00Z", 0.1, 0.1, 0.9, 0.9), false)
	store.add("s2_swir", eo3Doc("22222222-2222-4222-8222-222222222222", "s2_swir", "sentinel-2a",
		"2020-06-01T02:00:00Z", 0.1, 0.1, 0.9, 0.9, "swir"), false)

	vp := VirtualProduct{Kind: VirtualJuxtapose, Children: []VirtualProduct{leaf("ls8"), leaf("s2_swir")}}
	plan, err := v.Resolve(context.Background(), vp, ResolveOptions{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(plan.Groups) != 1 {
		t.Fatalf("groups = %+v", plan.Groups)
	}
	sources := plan.Groups[0].Sources
	if len(sources) != 2 || sources[0].Product != "ls8" || sources[1].Product != "s2_swir" {
		t.Fatalf("sources = %+v", sources)
	}
}

func TestVirtualJuxtaposeAsymmetricCells(t *testing.T) {
	v, store, _ := virtualFixture(t)
	store.add("ls8", eo3Doc("11111111-1111-4111-8111-111111111111", "ls8", "landsat-8",
		"2020-06-01T01:00:00Z", 0.1, 0.1, 0.9, 0.9), false)
	// The swir child covers a different cell entirely.
	store.add("s2_swir", eo3Doc("22222222-2222-4222-8222-222222222222", "s2_swir", "sentinel-2a",
		"2020-06-01T02:00:00Z", 1.1, 0.1, 1.9, 0.9, "swir"), false)

	vp := VirtualProduct{Kind: VirtualJuxtapose, Children: []VirtualProduct{leaf("ls8"), leaf("s2_swir")}}
	_, err := v.Resolve(context.Background(), vp, ResolveOptions{})
	var mismatch domain.JuxtaposeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected JuxtaposeMismatchError, got %v", err)
	}
	if len(mismatch.Cells) != 2 {
		t.Fatalf("mismatch cells = %+v", mismatch.Cells)
	}
	if !mismatch.Cells[0].Less(mismatch.Cells[1]) {
		t.Fatalf("cells not sorted: %+v", mismatch.Cells)
	}
}

func TestVirtualJuxtaposeDuplicateMeasurement(t *testing.T) {
	v, _, _ := virtualFixture(t)
	vp := VirtualProduct{Kind: VirtualJuxtapose, Children: []VirtualProduct{leaf("ls8"), leaf("ls7")}}
	_, err := v.Resolve(context.Background(), vp, ResolveOptions{})
	var qe domain.QueryError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QueryError, got %v", err)
	}
}

func TestVirtualTransformTagsInnermostFirst(t *testing.T) {
	v, store, _ := virtualFixture(t)
	store.add("ls8", eo3Doc("11111111-1111-4111-8111-111111111111", "ls8", "landsat-8",
		"2020-06-01T01:00:00Z", 0.1, 0.1, 0.9, 0.9), false)

	vp := VirtualProduct{Kind: VirtualTransform, Transform: "to_float",
		Children: []VirtualProduct{{
			Kind: VirtualTransform, Transform: "ndvi",
			Children: []VirtualProduct{leaf("ls8")},
		}}}
	plan, err := v.Resolve(context.Background(), vp, ResolveOptions{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(plan.Groups) != 1 {
		t.Fatalf("groups = %+v", plan.Groups)
	}
	sources := plan.Groups[0].Sources
	if len(sources) != 1 {
		t.Fatalf("sources = %+v", sources)
	}
	if want := []string{"ndvi", "to_float"}; !reflect.DeepEqual(sources[0].Transforms, want) {
		t.Fatalf("transforms = %v, want %v", sources[0].Transforms, want)
	}
}

func TestVirtualCollateKeepsTransformsPerSource(t *testing.T) {
	v, store, _ := virtualFixture(t)
	store.add("ls8", eo3Doc("11111111-1111-4111-8111-111111111111", "ls8", "landsat-8",
		"2020-06-01T01:00:00Z", 0.1, 0.1, 0.9, 0.9), false)
	store.add("ls7", eo3Doc("22222222-2222-4222-8222-222222222222", "ls7", "landsat-7",
		"2020-06-01T02:00:00Z", 0.1, 0.1, 0.9, 0.9), false)

	// Only the ls8 subtree is transformed; the ls7 pixels must stay untagged
	// when the two merge onto the shared cell.
	vp := VirtualProduct{Kind: VirtualCollate, Children: []VirtualProduct{
		{Kind: VirtualTransform, Transform: "to_float", Children: []VirtualProduct{leaf("ls8")}},
		leaf("ls7"),
	}}
	plan, err := v.Resolve(context.Background(), vp, ResolveOptions{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(plan.Groups) != 1 {
		t.Fatalf("groups = %+v", plan.Groups)
	}
	sources := plan.Groups[0].Sources
	if len(sources) != 2 || sources[0].Product != "ls8" || sources[1].Product != "ls7" {
		t.Fatalf("sources = %+v", sources)
	}
	if want := []string{"to_float"}; !reflect.DeepEqual(sources[0].Transforms, want) {
		t.Fatalf("transformed source tags = %v", sources[0].Transforms)
	}
	if len(sources[1].Transforms) != 0 {
		t.Fatalf("untransformed source picked up tags: %v", sources[1].Transforms)
	}
}

func TestVirtualResolveIsDeterministic(t *testing.T) {
	v, store, _ := virtualFixture(t)
	store.add("ls8", eo3Doc("11111111-1111-4111-8111-111111111111", "ls8", "landsat-8",
		"2020-06-01T01:00:00Z", 0.1, 0.1, 1.9, 0.9), false)
	store.add("ls7", eo3Doc("22222222-2222-4222-8222-222222222222", "ls7", "landsat-7",
		"2020-06-02T01:00:00Z", 0.1, 0.1, 0.9, 0.9), false)

	vp := VirtualProduct{Kind: VirtualCollate, Children: []VirtualProduct{leaf("ls8"), leaf("ls7")}}
	first, err := v.Resolve(context.Background(), vp, ResolveOptions{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := v.Resolve(context.Background(), vp, ResolveOptions{})
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("resolution is not deterministic")
	}
}
