// Package store holds the row codec shared by the catalog store drivers:
// the persisted form of extracted field values and the coarse narrowing
// hints drivers derive from filter fragments. Drivers may over-fetch; the
// query resolver reconciles every candidate in process.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"geocatalog/pkg/domain"
)

// EncodedField is the persisted form of one extracted field value. Spatial
// values are not persisted: footprints live in the document and are
// re-extracted during reconciliation.
type EncodedField struct {
	Kind    domain.FieldKind `json:"kind"`
	Unknown bool             `json:"unknown,omitempty"`
	Str     string           `json:"str,omitempty"`
	Num     float64          `json:"num,omitempty"`
	Start   time.Time        `json:"start,omitzero"`
	End     time.Time        `json:"end,omitzero"`
}

// EncodeFields serializes the scalar subset of a dataset's extracted fields.
func EncodeFields(fields map[string]domain.FieldValue) ([]byte, error) {
	out := make(map[string]EncodedField, len(fields))
	for name, v := range fields {
		if v.Kind == domain.FieldSpatial {
			continue
		}
		out[name] = EncodedField{
			Kind:    v.Kind,
			Unknown: v.Unknown,
			Str:     v.Str,
			Num:     v.Num,
			Start:   v.Time.Start,
			End:     v.Time.End,
		}
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return payload, nil
}

// DecodeFields restores the persisted field values.
func DecodeFields(payload []byte) (map[string]domain.FieldValue, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var raw map[string]EncodedField
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	out := make(map[string]domain.FieldValue, len(raw))
	for name, f := range raw {
		out[name] = domain.FieldValue{
			Kind:    f.Kind,
			Unknown: f.Unknown,
			Str:     f.Str,
			Num:     f.Num,
			Time:    domain.TimeRange{Start: f.Start, End: f.End},
		}
	}
	return out, nil
}

// TimeHint narrows on one datetime field overlapping a range. Axis marks the
// acquisition-time window: only that range may be applied to the time columns
// SQL drivers lift at write time; a hint on any other field must be checked
// against the stored field by name or skipped.
type TimeHint struct {
	Field string
	Range domain.TimeRange
	Axis  bool
}

// Hints is the coarse narrowing a driver can push into its native filtering.
// Anything a driver cannot express it simply ignores.
type Hints struct {
	// Time narrows to datasets whose named time field overlaps, when set.
	Time *TimeHint
	// StringEquals narrows on exact stored string field matches.
	StringEquals map[string]string
}

// ExtractHints derives narrowing hints from filter fragments. Only shapes
// every driver understands are lifted; the rest of the fragments stay with
// the resolver's reconciliation.
func ExtractHints(fragments []domain.FilterFragment) Hints {
	h := Hints{StringEquals: map[string]string{}}
	for _, f := range fragments {
		switch f.Op {
		case domain.OpEquals:
			if len(f.Args) == 1 {
				if s, ok := f.Args[0].(string); ok {
					h.StringEquals[f.Field] = s
				}
			}
		case domain.OpRange:
			if len(f.Args) == 2 {
				start, okStart := f.Args[0].(time.Time)
				end, okEnd := f.Args[1].(time.Time)
				if okStart && okEnd {
					// The acquisition-time window takes precedence over
					// ranges on other datetime fields.
					if h.Time == nil || (f.TimeAxis && !h.Time.Axis) {
						h.Time = &TimeHint{
							Field: f.Field,
							Range: domain.TimeRange{Start: start, End: end},
							Axis:  f.TimeAxis,
						}
					}
				}
			}
		}
	}
	return h
}
