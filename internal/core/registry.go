// Package core implements the catalog engine: the schema registry, dataset
// validation and lineage index, query resolution, grid group-by, and
// virtual-product resolution. Persistence and raster IO stay behind the
// contracts in pkg/domain.
package core

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"geocatalog/internal/geo"
	"geocatalog/pkg/domain"
)

// Registry holds the registered metadata types, products and grid specs.
//
// Reads are lock-free against an immutable snapshot: a search started before
// an administrative update commits keeps observing the pre-update
// definitions. Updates are serialised by a write mutex and swap in a new
// snapshot atomically.
type Registry struct {
	writeMu sync.Mutex
	current atomic.Pointer[registrySnapshot]

	intersector *geo.Intersector
}

type registrySnapshot struct {
	types    map[string]*compiledType
	products map[string]domain.Product
	grids    map[string]domain.GridSpec
}

// NewRegistry constructs an empty registry. The transform collaborator is
// used by spatial predicates; nil restricts spatial matching to same-CRS
// comparisons.
func NewRegistry(transform domain.CRSTransform) *Registry {
	r := &Registry{intersector: geo.NewIntersector(transform, geo.DefaultEpsilon)}
	r.current.Store(&registrySnapshot{
		types:    map[string]*compiledType{},
		products: map[string]domain.Product{},
		grids:    map[string]domain.GridSpec{},
	})
	return r
}

func (r *Registry) snapshot() *registrySnapshot { return r.current.Load() }

func (s *registrySnapshot) clone() *registrySnapshot {
	next := &registrySnapshot{
		types:    make(map[string]*compiledType, len(s.types)),
		products: make(map[string]domain.Product, len(s.products)),
		grids:    make(map[string]domain.GridSpec, len(s.grids)),
	}
	for k, v := range s.types {
		next.types[k] = v
	}
	for k, v := range s.products {
		next.products[k] = v
	}
	for k, v := range s.grids {
		next.grids[k] = v
	}
	return next
}

// RegisterMetadataType registers or compatibly updates a metadata type.
// Removing a declared field, changing its parser kind or moving its document
// path are incompatible redefinitions: already-indexed datasets depend on
// the existing extraction behaviour.
func (r *Registry) RegisterMetadataType(mt domain.MetadataType) error {
	if mt.Name == "" {
		return domain.SchemaConflictError{Kind: "metadata type", Name: mt.Name, Reason: "missing name"}
	}
	compiled, err := compileType(mt)
	if err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	snap := r.snapshot()
	if existing, ok := snap.types[mt.Name]; ok {
		if reason, incompatible := typeConflict(existing.def, mt); incompatible {
			return domain.SchemaConflictError{Kind: "metadata type", Name: mt.Name, Reason: reason}
		}
	}
	next := snap.clone()
	next.types[mt.Name] = compiled
	r.current.Store(next)
	return nil
}

func typeConflict(old, updated domain.MetadataType) (string, bool) {
	for name, oldRule := range old.Fields {
		newRule, ok := updated.Fields[name]
		if !ok {
			return fmt.Sprintf("field %q removed", name), true
		}
		if newRule.Kind != oldRule.Kind {
			return fmt.Sprintf("field %q re-typed from %s to %s", name, oldRule.Kind, newRule.Kind), true
		}
		if newRule.Path != oldRule.Path || newRule.FallbackPath != oldRule.FallbackPath ||
			newRule.EndPath != oldRule.EndPath {
			return fmt.Sprintf("field %q extraction path changed", name), true
		}
	}
	if old.TimeFieldName() != updated.TimeFieldName() {
		return "time field changed", true
	}
	return "", false
}

// RegisterProduct registers or compatibly updates a product. The referenced
// metadata type must already be registered; measurements may be added but
// not removed or re-typed.
func (r *Registry) RegisterProduct(p domain.Product) error {
	if p.Name == "" {
		return domain.SchemaConflictError{Kind: "product", Name: p.Name, Reason: "missing name"}
	}
	for name, gs := range p.Grids {
		if err := gs.Validate(); err != nil {
			return domain.SchemaConflictError{Kind: "product", Name: p.Name, Reason: fmt.Sprintf("grid %q: %v", name, err)}
		}
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	snap := r.snapshot()
	if _, ok := snap.types[p.MetadataType]; !ok {
		return domain.SchemaConflictError{Kind: "product", Name: p.Name,
			Reason: fmt.Sprintf("unknown metadata type %q", p.MetadataType)}
	}
	if existing, ok := snap.products[p.Name]; ok {
		if reason, incompatible := productConflict(existing, p); incompatible {
			return domain.SchemaConflictError{Kind: "product", Name: p.Name, Reason: reason}
		}
	}
	next := snap.clone()
	next.products[p.Name] = p
	r.current.Store(next)
	return nil
}

func productConflict(old, updated domain.Product) (string, bool) {
	if old.MetadataType != updated.MetadataType {
		return fmt.Sprintf("metadata type changed from %q to %q", old.MetadataType, updated.MetadataType), true
	}
	for name, oldM := range old.Measurements {
		newM, ok := updated.Measurements[name]
		if !ok {
			return fmt.Sprintf("measurement %q removed", name), true
		}
		if newM.DType != oldM.DType {
			return fmt.Sprintf("measurement %q re-typed from %s to %s", name, oldM.DType, newM.DType), true
		}
	}
	return "", false
}

// RegisterGridSpec registers a named grid usable by group-by callers that do
// not take the grid from a product definition.
func (r *Registry) RegisterGridSpec(name string, gs domain.GridSpec) error {
	if name == "" {
		return domain.SchemaConflictError{Kind: "grid spec", Name: name, Reason: "missing name"}
	}
	if err := gs.Validate(); err != nil {
		return domain.SchemaConflictError{Kind: "grid spec", Name: name, Reason: err.Error()}
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	snap := r.snapshot()
	if existing, ok := snap.grids[name]; ok && !existing.Equal(gs) {
		return domain.SchemaConflictError{Kind: "grid spec", Name: name, Reason: "incompatible redefinition"}
	}
	next := snap.clone()
	next.grids[name] = gs
	r.current.Store(next)
	return nil
}

// MetadataType returns a registered metadata type definition.
func (r *Registry) MetadataType(name string) (domain.MetadataType, bool) {
	ct, ok := r.snapshot().types[name]
	if !ok {
		return domain.MetadataType{}, false
	}
	return ct.def, true
}

// Product returns a registered product definition.
func (r *Registry) Product(name string) (domain.Product, bool) {
	p, ok := r.snapshot().products[name]
	return p, ok
}

// GridSpec returns a registered named grid.
func (r *Registry) GridSpec(name string) (domain.GridSpec, bool) {
	gs, ok := r.snapshot().grids[name]
	return gs, ok
}

// Products lists registered products sorted by name.
func (r *Registry) Products() []domain.Product {
	snap := r.snapshot()
	out := make([]domain.Product, 0, len(snap.products))
	for _, p := range snap.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MetadataTypes lists registered metadata types sorted by name.
func (r *Registry) MetadataTypes() []domain.MetadataType {
	snap := r.snapshot()
	out := make([]domain.MetadataType, 0, len(snap.types))
	for _, ct := range snap.types {
		out = append(out, ct.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ProductGrid resolves the grid spec a group-by over the product should use:
// the product's default grid unless the caller overrides it.
func (r *Registry) ProductGrid(productName string) (domain.GridSpec, error) {
	p, ok := r.Product(productName)
	if !ok {
		return domain.GridSpec{}, domain.QueryError{Reason: fmt.Sprintf("unknown product %q", productName)}
	}
	gs, ok := p.DefaultGrid()
	if !ok {
		return domain.GridSpec{}, domain.QueryError{Reason: fmt.Sprintf("product %q has no default grid", productName)}
	}
	return gs, nil
}
