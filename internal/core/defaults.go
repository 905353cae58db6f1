package core

import "geocatalog/pkg/domain"

// EO3MetadataTypeName is the built-in schema for eo3-style earth observation
// documents.
const EO3MetadataTypeName = "eo3"

// DefaultMetadataTypes returns the schemas registered by default in every
// catalog. The eo3 type covers the common earth observation document layout:
// acquisition time from the dtr:start_datetime/dtr:end_datetime pair, falling
// back to properties.datetime, platform and instrument tags, and a GeoJSON
// footprint.
func DefaultMetadataTypes() []domain.MetadataType {
	return []domain.MetadataType{
		{
			Name:        EO3MetadataTypeName,
			Description: "Default schema for eo3 earth observation metadata documents.",
			Fields: map[string]domain.FieldRule{
				"time": {
					Path:         "properties.dtr:start_datetime",
					FallbackPath: "properties.datetime",
					EndPath:      "properties.dtr:end_datetime",
					Kind:         domain.FieldDatetime,
					Required:     true,
					Description:  "Acquisition time, optionally a range.",
				},
				"footprint": {
					Path:        "geometry",
					Kind:        domain.FieldSpatial,
					Required:    true,
					Description: "Valid-data footprint in the dataset CRS.",
				},
				"label": {
					Path:        "label",
					Kind:        domain.FieldString,
					Description: "Human readable dataset label.",
				},
				"platform": {
					Path:        "properties.eo:platform",
					Kind:        domain.FieldString,
					Description: "Acquisition platform, e.g. landsat-8.",
				},
				"instrument": {
					Path:        "properties.eo:instrument",
					Kind:        domain.FieldString,
					Description: "Acquisition instrument.",
				},
				"region_code": {
					Path:        "properties.odc:region_code",
					Kind:        domain.FieldString,
					Description: "Spatial reference code, e.g. a path/row or MGRS tile.",
				},
				"cloud_cover": {
					Path:        "properties.eo:cloud_cover",
					Kind:        domain.FieldNumeric,
					Description: "Cloud cover percentage.",
				},
				"format": {
					Path:        "properties.odc:file_format",
					Kind:        domain.FieldString,
					Description: "Storage format of the measurements.",
				},
				"dataset_maturity": {
					Path:        "properties.dea:dataset_maturity",
					Kind:        domain.FieldString,
					Description: "Processing maturity, e.g. final or interim.",
				},
			},
		},
	}
}

// RegisterDefaults installs the built-in metadata types into a registry.
func RegisterDefaults(r *Registry) error {
	for _, mt := range DefaultMetadataTypes() {
		if err := r.RegisterMetadataType(mt); err != nil {
			return err
		}
	}
	return nil
}
