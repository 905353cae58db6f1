package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Document is a structured metadata document: a JSON/YAML-shaped tree of
// maps, slices and scalars. Field extraction rules address into it via
// dotted paths; the accessor below is the only place document shape is
// inspected dynamically.
type Document map[string]any

// Get resolves a dotted path ("properties.datetime") against the document
// tree. It returns false when any intermediate node is missing or not a map.
func (d Document) Get(path string) (any, bool) {
	var node any = map[string]any(d)
	for _, part := range strings.Split(path, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// GetString resolves path to a string value.
func (d Document) GetString(path string) (string, bool) {
	v, ok := d.Get(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetFloat resolves path to a numeric value, accepting float64, integer and
// numeric-string representations.
func (d Document) GetFloat(path string) (float64, bool) {
	v, ok := d.Get(path)
	if !ok {
		return 0, false
	}
	return coerceFloat(v)
}

// GetMap resolves path to a nested map.
func (d Document) GetMap(path string) (map[string]any, bool) {
	v, ok := d.Get(path)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

// GetTime resolves path to a time instant. Accepts RFC 3339, a space
// separated variant, and bare dates.
func (d Document) GetTime(path string) (time.Time, bool) {
	v, ok := d.Get(path)
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case string:
		parsed, err := ParseTime(t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

// GetGeometry resolves path to a GeoJSON geometry object.
func (d Document) GetGeometry(path string) (orb.Geometry, bool) {
	v, ok := d.Get(path)
	if !ok {
		return nil, false
	}
	g, err := decodeGeometry(v)
	if err != nil {
		return nil, false
	}
	return g, true
}

// Excerpt renders the value at path for error reporting, truncated so a
// malformed document cannot flood a message.
func (d Document) Excerpt(path string) string {
	v, ok := d.Get(path)
	if !ok {
		return "<absent>"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	const limit = 120
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(cloneTree(map[string]any(d)).(map[string]any))
}

func cloneTree(v any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			out[k] = cloneTree(child)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = cloneTree(child)
		}
		return out
	default:
		return v
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses the timestamp formats accepted in metadata documents.
// Results are normalised to UTC; offsets without an explicit zone are read
// as UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func coerceFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// decodeGeometry accepts either an orb.Geometry or a GeoJSON geometry given
// as a decoded map, re-encoding through the geojson codec in the latter case.
func decodeGeometry(v any) (orb.Geometry, error) {
	switch g := v.(type) {
	case orb.Geometry:
		return g, nil
	case map[string]any:
		raw, err := json.Marshal(g)
		if err != nil {
			return nil, err
		}
		geom, err := geojson.UnmarshalGeometry(raw)
		if err != nil {
			return nil, err
		}
		return geom.Geometry(), nil
	}
	return nil, fmt.Errorf("not a geometry: %T", v)
}
