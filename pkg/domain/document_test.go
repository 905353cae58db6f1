package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func docFromJSON(t *testing.T, payload string) Document {
	t.Helper()
	var doc Document
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	return doc
}

func TestDocumentGetDottedPath(t *testing.T) {
	doc := docFromJSON(t, `{
		"id": "abc",
		"properties": {"eo:platform": "landsat-8", "eo:cloud_cover": 12.5, "nested": {"deep": "value"}}
	}`)

	if got, ok := doc.GetString("properties.eo:platform"); !ok || got != "landsat-8" {
		t.Fatalf("GetString = %q, %v", got, ok)
	}
	if got, ok := doc.GetFloat("properties.eo:cloud_cover"); !ok || got != 12.5 {
		t.Fatalf("GetFloat = %v, %v", got, ok)
	}
	if got, ok := doc.GetString("properties.nested.deep"); !ok || got != "value" {
		t.Fatalf("nested GetString = %q, %v", got, ok)
	}
	if _, ok := doc.GetString("properties.missing"); ok {
		t.Fatalf("expected missing path to report absence")
	}
	if _, ok := doc.GetString("id.not.a.map"); ok {
		t.Fatalf("expected traversal through a scalar to fail")
	}
}

func TestDocumentGetTimeLayouts(t *testing.T) {
	doc := docFromJSON(t, `{
		"a": "2020-06-01T10:30:00Z",
		"b": "2020-06-01 10:30:00",
		"c": "2020-06-01"
	}`)
	want := time.Date(2020, 6, 1, 10, 30, 0, 0, time.UTC)
	for _, path := range []string{"a", "b"} {
		got, ok := doc.GetTime(path)
		if !ok || !got.Equal(want) {
			t.Fatalf("GetTime(%s) = %v, %v", path, got, ok)
		}
	}
	got, ok := doc.GetTime("c")
	if !ok || !got.Equal(time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("GetTime(c) = %v, %v", got, ok)
	}
}

func TestDocumentCloneIsIndependent(t *testing.T) {
	doc := docFromJSON(t, `{"properties": {"eo:platform": "landsat-8"}}`)
	clone := doc.Clone()
	clone["properties"].(map[string]any)["eo:platform"] = "sentinel-2"

	if got, _ := doc.GetString("properties.eo:platform"); got != "landsat-8" {
		t.Fatalf("mutating clone changed original: %q", got)
	}
}

func TestDocumentExcerptTruncates(t *testing.T) {
	long := strings.Repeat("x", 500)
	doc := docFromJSON(t, `{"properties": {"big": "`+long+`"}}`)
	excerpt := doc.Excerpt("properties.big")
	if len(excerpt) > 130 {
		t.Fatalf("excerpt not truncated: %d chars", len(excerpt))
	}
	if !strings.Contains(excerpt, "xxx") {
		t.Fatalf("excerpt lost content: %q", excerpt)
	}
}

func TestParseTimeRejectsGarbage(t *testing.T) {
	if _, err := ParseTime("not a timestamp"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDocumentGetGeometry(t *testing.T) {
	doc := docFromJSON(t, `{"geometry": {"type": "Polygon", "coordinates": [[[0,0],[2,0],[2,2],[0,2],[0,0]]]}}`)
	g, ok := doc.GetGeometry("geometry")
	if !ok {
		t.Fatalf("expected geometry")
	}
	b := g.Bound()
	if b.Min[0] != 0 || b.Max[0] != 2 || b.Min[1] != 0 || b.Max[1] != 2 {
		t.Fatalf("unexpected bound %v", b)
	}
}
