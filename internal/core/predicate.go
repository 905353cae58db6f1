package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"geocatalog/pkg/domain"
)

// ResolvePredicate compiles one query term against the named metadata type
// into a predicate: a store-executable filter fragment plus the in-process
// matcher used for reconciliation. Referencing an undeclared field is a
// QueryError.
func (r *Registry) ResolvePredicate(typeName, field string, op domain.Operator, args ...any) (domain.Predicate, error) {
	return r.resolvePredicateIn(r.snapshot(), typeName, field, op, args...)
}

// resolvePredicateIn compiles against a pinned snapshot so that a search
// resolves all of its terms under one consistent schema view.
func (r *Registry) resolvePredicateIn(snap *registrySnapshot, typeName, field string, op domain.Operator, args ...any) (domain.Predicate, error) {
	ct, ok := snap.types[typeName]
	if !ok {
		return domain.Predicate{}, domain.QueryError{Reason: fmt.Sprintf("unknown metadata type %q", typeName)}
	}
	cr, ok := ct.rules[field]
	if !ok {
		return domain.Predicate{}, domain.QueryError{Field: field,
			Reason: fmt.Sprintf("not declared by metadata type %q", typeName)}
	}

	match, normalized, err := r.compileMatcher(cr.def.Kind, op, args)
	if err != nil {
		return domain.Predicate{}, domain.QueryError{Field: field, Reason: err.Error()}
	}
	return domain.Predicate{
		Field:    field,
		Op:       op,
		Fragment: domain.FilterFragment{Field: field, Op: op, Args: normalized},
		Match:    match,
	}, nil
}

func (r *Registry) compileMatcher(kind domain.FieldKind, op domain.Operator, args []any) (func(domain.FieldValue) bool, []any, error) {
	switch op {
	case domain.OpEquals:
		if len(args) != 1 {
			return nil, nil, fmt.Errorf("equals takes one operand, got %d", len(args))
		}
		return r.compileEquals(kind, args[0])

	case domain.OpInSet:
		if len(args) == 0 {
			return nil, nil, fmt.Errorf("in-set takes at least one operand")
		}
		matchers := make([]func(domain.FieldValue) bool, 0, len(args))
		normalized := make([]any, 0, len(args))
		for _, arg := range args {
			m, n, err := r.compileEquals(kind, arg)
			if err != nil {
				return nil, nil, err
			}
			matchers = append(matchers, m)
			normalized = append(normalized, n[0])
		}
		return func(v domain.FieldValue) bool {
			for _, m := range matchers {
				if m(v) {
					return true
				}
			}
			return false
		}, normalized, nil

	case domain.OpRange:
		if len(args) != 2 {
			return nil, nil, fmt.Errorf("range takes two operands, got %d", len(args))
		}
		return r.compileRange(kind, args[0], args[1])

	case domain.OpIntersects:
		if kind != domain.FieldSpatial {
			return nil, nil, fmt.Errorf("spatial-intersects requires a spatial field, got %s", kind)
		}
		if len(args) < 1 || len(args) > 2 {
			return nil, nil, fmt.Errorf("spatial-intersects takes a geometry and an optional CRS")
		}
		g, err := coerceGeometry(args[0])
		if err != nil {
			return nil, nil, err
		}
		crs := domain.EPSG4326
		if len(args) == 2 {
			s, ok := args[1].(string)
			if !ok {
				return nil, nil, fmt.Errorf("operand CRS must be a string")
			}
			crs = domain.CRS(s)
		}
		ix := r.intersector
		return func(v domain.FieldValue) bool {
			if v.Unknown || v.Geom == nil {
				return false
			}
			// Footprints keep the CRS of their document; the intersector
			// reprojects them into the operand CRS when the two differ.
			footCRS := v.CRS
			if footCRS == "" {
				footCRS = crs
			}
			hit, err := ix.Intersects(g, crs, v.Geom, footCRS)
			return err == nil && hit
		}, []any{g, string(crs)}, nil
	}
	return nil, nil, fmt.Errorf("unsupported operator %q", op)
}

func (r *Registry) compileEquals(kind domain.FieldKind, arg any) (func(domain.FieldValue) bool, []any, error) {
	switch kind {
	case domain.FieldString:
		want, ok := arg.(string)
		if !ok {
			return nil, nil, fmt.Errorf("operand must be a string, got %T", arg)
		}
		return func(v domain.FieldValue) bool {
			return !v.Unknown && v.Str == want
		}, []any{want}, nil

	case domain.FieldNumeric:
		want, ok := coerceNumber(arg)
		if !ok {
			return nil, nil, fmt.Errorf("operand must be numeric, got %T", arg)
		}
		return func(v domain.FieldValue) bool {
			return !v.Unknown && v.Num == want
		}, []any{want}, nil

	case domain.FieldDatetime:
		want, err := coerceTime(arg)
		if err != nil {
			return nil, nil, err
		}
		return func(v domain.FieldValue) bool {
			return !v.Unknown && v.Time.Contains(want)
		}, []any{want}, nil
	}
	return nil, nil, fmt.Errorf("equals not supported for %s fields", kind)
}

func (r *Registry) compileRange(kind domain.FieldKind, loArg, hiArg any) (func(domain.FieldValue) bool, []any, error) {
	switch kind {
	case domain.FieldNumeric:
		lo, okLo := coerceNumber(loArg)
		hi, okHi := coerceNumber(hiArg)
		if !okLo || !okHi {
			return nil, nil, fmt.Errorf("range operands must be numeric")
		}
		if hi < lo {
			lo, hi = hi, lo
		}
		return func(v domain.FieldValue) bool {
			return !v.Unknown && v.Num >= lo && v.Num <= hi
		}, []any{lo, hi}, nil

	case domain.FieldDatetime:
		lo, err := coerceTime(loArg)
		if err != nil {
			return nil, nil, err
		}
		hi, err := coerceTime(hiArg)
		if err != nil {
			return nil, nil, err
		}
		if hi.Before(lo) {
			lo, hi = hi, lo
		}
		want := domain.TimeRange{Start: lo, End: hi}
		return func(v domain.FieldValue) bool {
			return !v.Unknown && v.Time.Overlaps(want)
		}, []any{lo, hi}, nil

	case domain.FieldString:
		lo, okLo := loArg.(string)
		hi, okHi := hiArg.(string)
		if !okLo || !okHi {
			return nil, nil, fmt.Errorf("range operands must be strings")
		}
		if hi < lo {
			lo, hi = hi, lo
		}
		return func(v domain.FieldValue) bool {
			return !v.Unknown && v.Str >= lo && v.Str <= hi
		}, []any{lo, hi}, nil
	}
	return nil, nil, fmt.Errorf("range not supported for %s fields", kind)
}

func coerceNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
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

func coerceTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return domain.ParseTime(t)
	}
	return time.Time{}, fmt.Errorf("not a timestamp: %T", v)
}

func coerceGeometry(v any) (orb.Geometry, error) {
	switch g := v.(type) {
	case orb.Bound:
		return g.ToPolygon(), nil
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
