package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SchemaConflictError reports an incompatible redefinition of a metadata
// type, product or grid. Never auto-resolved.
type SchemaConflictError struct {
	Kind   string // "metadata type", "product", "grid spec"
	Name   string
	Reason string
}

func (e SchemaConflictError) Error() string {
	return fmt.Sprintf("schema conflict: %s %q: %s", e.Kind, e.Name, e.Reason)
}

// ExtractionError reports a required field that could not be parsed from a
// metadata document. Fatal for that dataset's validation only.
type ExtractionError struct {
	TypeName string
	Field    string
	Excerpt  string
	Reason   string
}

func (e ExtractionError) Error() string {
	return fmt.Sprintf("extract %s.%s: %s (document value: %s)", e.TypeName, e.Field, e.Reason, e.Excerpt)
}

// DatasetError reports a dataset invariant violation (missing CRS or time,
// empty footprint). Other datasets in a batch are unaffected.
type DatasetError struct {
	DatasetID uuid.UUID
	Reason    string
}

func (e DatasetError) Error() string {
	if e.DatasetID == uuid.Nil {
		return fmt.Sprintf("invalid dataset: %s", e.Reason)
	}
	return fmt.Sprintf("invalid dataset %s: %s", e.DatasetID, e.Reason)
}

// QueryError reports a malformed query, such as a predicate referencing an
// undeclared field. Surfaced before any store fetch is issued.
type QueryError struct {
	Field  string
	Reason string
}

func (e QueryError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid query: %s", e.Reason)
	}
	return fmt.Sprintf("invalid query: field %q: %s", e.Field, e.Reason)
}

// CollateGridMismatchError reports collate children that do not share an
// identical grid spec.
type CollateGridMismatchError struct {
	Node   string
	Detail string
}

func (e CollateGridMismatchError) Error() string {
	return fmt.Sprintf("collate %s: grid mismatch: %s", e.Node, e.Detail)
}

// JuxtaposeMismatchError reports juxtapose children covering different cell
// sets, naming the asymmetric cells.
type JuxtaposeMismatchError struct {
	Node  string
	Cells []CellKey
}

func (e JuxtaposeMismatchError) Error() string {
	parts := make([]string, len(e.Cells))
	for i, c := range e.Cells {
		parts[i] = c.String()
	}
	return fmt.Sprintf("juxtapose %s: children disagree on cells: %s", e.Node, strings.Join(parts, ", "))
}

// LineageCycleError reports a cyclic lineage chain. Non-fatal to searches:
// the traversal stops and the dataset's lineage is flagged as truncated.
type LineageCycleError struct {
	DatasetID uuid.UUID
	Path      []uuid.UUID
}

func (e LineageCycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = id.String()
	}
	return fmt.Sprintf("lineage cycle at %s: %s", e.DatasetID, strings.Join(parts, " -> "))
}
