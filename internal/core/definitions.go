package core

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"geocatalog/pkg/domain"
)

// ParseMetadataTypeDefinition decodes a YAML metadata type definition.
func ParseMetadataTypeDefinition(payload []byte) (domain.MetadataType, error) {
	var mt domain.MetadataType
	if err := yaml.Unmarshal(payload, &mt); err != nil {
		return domain.MetadataType{}, fmt.Errorf("parse metadata type definition: %w", err)
	}
	if mt.Name == "" {
		return domain.MetadataType{}, fmt.Errorf("metadata type definition has no name")
	}
	return mt, nil
}

// ParseProductDefinition decodes a YAML product definition.
func ParseProductDefinition(payload []byte) (domain.Product, error) {
	var p domain.Product
	if err := yaml.Unmarshal(payload, &p); err != nil {
		return domain.Product{}, fmt.Errorf("parse product definition: %w", err)
	}
	if p.Name == "" {
		return domain.Product{}, fmt.Errorf("product definition has no name")
	}
	return p, nil
}

// ParseDocument decodes a metadata document from YAML or JSON. YAML is the
// superset, so one decoder covers both.
func ParseDocument(payload []byte) (domain.Document, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	// Round-trip through JSON to normalise numbers and nested maps into the
	// shapes the extraction walker expects.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("normalise document: %w", err)
	}
	var doc domain.Document
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return nil, fmt.Errorf("normalise document: %w", err)
	}
	return doc, nil
}
