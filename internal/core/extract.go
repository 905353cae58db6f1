package core

import (
	"fmt"
	"sort"
	"strings"

	"geocatalog/pkg/domain"
)

// compiledType is the extraction-rule table built once at registration time.
// Field lookups during extraction never dispatch on document shape beyond
// walking these precompiled paths.
type compiledType struct {
	def    domain.MetadataType
	rules  map[string]compiledRule
	sorted []string
}

type compiledRule struct {
	def      domain.FieldRule
	path     []string
	fallback []string
	endPath  []string
}

func compileType(mt domain.MetadataType) (*compiledType, error) {
	ct := &compiledType{
		def:   mt,
		rules: make(map[string]compiledRule, len(mt.Fields)),
	}
	for name, rule := range mt.Fields {
		if name == "" {
			return nil, domain.SchemaConflictError{Kind: "metadata type", Name: mt.Name, Reason: "empty field name"}
		}
		if rule.Path == "" {
			return nil, domain.SchemaConflictError{Kind: "metadata type", Name: mt.Name,
				Reason: fmt.Sprintf("field %q has no path", name)}
		}
		switch rule.Kind {
		case domain.FieldString, domain.FieldNumeric, domain.FieldDatetime, domain.FieldSpatial:
		default:
			return nil, domain.SchemaConflictError{Kind: "metadata type", Name: mt.Name,
				Reason: fmt.Sprintf("field %q has unknown kind %q", name, rule.Kind)}
		}
		if rule.EndPath != "" && rule.Kind != domain.FieldDatetime {
			return nil, domain.SchemaConflictError{Kind: "metadata type", Name: mt.Name,
				Reason: fmt.Sprintf("field %q declares end_path but is not datetime-range", name)}
		}
		cr := compiledRule{def: rule, path: strings.Split(rule.Path, ".")}
		if rule.FallbackPath != "" {
			cr.fallback = strings.Split(rule.FallbackPath, ".")
		}
		if rule.EndPath != "" {
			cr.endPath = strings.Split(rule.EndPath, ".")
		}
		ct.rules[name] = cr
		ct.sorted = append(ct.sorted, name)
	}
	sort.Strings(ct.sorted)
	return ct, nil
}

// ExtractFields evaluates every declared field rule of the named metadata
// type against the document. Optional fields that are absent map to the
// unknown value; a required field that is absent or fails its parser is a
// hard ExtractionError.
func (r *Registry) ExtractFields(typeName string, doc domain.Document) (map[string]domain.FieldValue, error) {
	ct, ok := r.snapshot().types[typeName]
	if !ok {
		return nil, domain.QueryError{Reason: fmt.Sprintf("unknown metadata type %q", typeName)}
	}
	return ct.extract(doc)
}

func (ct *compiledType) extract(doc domain.Document) (map[string]domain.FieldValue, error) {
	out := make(map[string]domain.FieldValue, len(ct.rules))
	for _, name := range ct.sorted {
		cr := ct.rules[name]
		value, err := cr.extract(doc)
		if err != nil {
			if cr.def.Required {
				return nil, domain.ExtractionError{
					TypeName: ct.def.Name,
					Field:    name,
					Excerpt:  doc.Excerpt(cr.def.Path),
					Reason:   err.Error(),
				}
			}
			out[name] = domain.UnknownValue(cr.def.Kind)
			continue
		}
		out[name] = value
	}
	return out, nil
}

func (cr compiledRule) extract(doc domain.Document) (domain.FieldValue, error) {
	raw, ok := walk(doc, cr.path)
	if !ok && cr.fallback != nil {
		raw, ok = walk(doc, cr.fallback)
	}
	if !ok {
		return domain.FieldValue{}, fmt.Errorf("path %s not present", cr.def.Path)
	}
	switch cr.def.Kind {
	case domain.FieldString:
		s, ok := raw.(string)
		if !ok {
			return domain.FieldValue{}, fmt.Errorf("not a string")
		}
		return domain.StringValue(s), nil

	case domain.FieldNumeric:
		n, ok := coerceNumber(raw)
		if !ok {
			return domain.FieldValue{}, fmt.Errorf("not numeric")
		}
		return domain.NumericValue(n), nil

	case domain.FieldDatetime:
		start, err := coerceTime(raw)
		if err != nil {
			return domain.FieldValue{}, err
		}
		end := start
		if cr.endPath != nil {
			if rawEnd, ok := walk(doc, cr.endPath); ok {
				if end, err = coerceTime(rawEnd); err != nil {
					return domain.FieldValue{}, fmt.Errorf("end path %s: %w", cr.def.EndPath, err)
				}
			}
		}
		if end.Before(start) {
			return domain.FieldValue{}, fmt.Errorf("range ends before it starts")
		}
		return domain.TimeValue(domain.TimeRange{Start: start, End: end}), nil

	case domain.FieldSpatial:
		g, err := coerceGeometry(raw)
		if err != nil {
			return domain.FieldValue{}, err
		}
		crs, _ := doc.GetString("crs")
		return domain.GeometryValue(g, domain.CRS(crs)), nil
	}
	return domain.FieldValue{}, fmt.Errorf("unknown kind %q", cr.def.Kind)
}

func walk(doc domain.Document, path []string) (any, bool) {
	var node any = map[string]any(doc)
	for _, part := range path {
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
