package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"geocatalog/pkg/domain"
)

// VirtualKind tags a virtual product node.
type VirtualKind string

// Virtual product combinators.
const (
	// VirtualLeaf reads one concrete product.
	VirtualLeaf VirtualKind = "leaf"
	// VirtualTransform applies a named per-pixel transform to its child.
	VirtualTransform VirtualKind = "transform"
	// VirtualCollate stacks alternative child products along time; on a cell
	// provided by several children, child order is the priority order.
	VirtualCollate VirtualKind = "collate"
	// VirtualJuxtapose combines children side by side as extra measurements;
	// all children must produce exactly the same cell set.
	VirtualJuxtapose VirtualKind = "juxtapose"
)

// VirtualProduct is a recipe tree combining concrete products into one
// loadable surface. Trees are plain data; resolution turns them into a
// LoadPlan.
type VirtualProduct struct {
	Kind VirtualKind `json:"kind" yaml:"kind"`

	// Leaf fields.
	Product      string        `json:"product,omitempty" yaml:"product,omitempty"`
	Measurements []string      `json:"measurements,omitempty" yaml:"measurements,omitempty"`
	Terms        []domain.Term `json:"-" yaml:"-"`

	// Transform name, meaningful only for transform nodes.
	Transform string `json:"transform,omitempty" yaml:"transform,omitempty"`

	Children []VirtualProduct `json:"children,omitempty" yaml:"children,omitempty"`
}

// Validate checks the structural arity rules of the tree.
func (vp VirtualProduct) Validate() error {
	switch vp.Kind {
	case VirtualLeaf:
		if vp.Product == "" {
			return domain.QueryError{Reason: "leaf node has no product"}
		}
		if len(vp.Children) != 0 {
			return domain.QueryError{Reason: fmt.Sprintf("leaf node %q has children", vp.Product)}
		}
	case VirtualTransform:
		if vp.Transform == "" {
			return domain.QueryError{Reason: "transform node has no transform name"}
		}
		if len(vp.Children) != 1 {
			return domain.QueryError{Reason: fmt.Sprintf("transform %q takes exactly one child, got %d", vp.Transform, len(vp.Children))}
		}
	case VirtualCollate, VirtualJuxtapose:
		if len(vp.Children) < 2 {
			return domain.QueryError{Reason: fmt.Sprintf("%s takes at least two children, got %d", vp.Kind, len(vp.Children))}
		}
	default:
		return domain.QueryError{Reason: fmt.Sprintf("unknown virtual node kind %q", vp.Kind)}
	}
	for _, child := range vp.Children {
		if err := child.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (vp VirtualProduct) label(path string) string {
	switch vp.Kind {
	case VirtualLeaf:
		return fmt.Sprintf("%sleaf(%s)", path, vp.Product)
	case VirtualTransform:
		return fmt.Sprintf("%stransform(%s)", path, vp.Transform)
	default:
		return fmt.Sprintf("%s%s", path, vp.Kind)
	}
}

// ResolveOptions carries the shared constraints of a virtual product
// resolution: the spatio-temporal window and the temporal bucketing applied
// to every leaf.
type ResolveOptions struct {
	Region          *domain.Region
	Time            *domain.TimeRange
	Bucket          TemporalBucket
	Location        *time.Location
	IncludeArchived bool
}

// VirtualResolver evaluates virtual product trees into load plans.
type VirtualResolver struct {
	registry *Registry
	queries  *QueryResolver
	grouper  *GroupByEngine
}

// NewVirtualResolver constructs a resolver sharing the registry, query
// resolver and group-by engine of the catalog.
func NewVirtualResolver(registry *Registry, queries *QueryResolver, grouper *GroupByEngine) *VirtualResolver {
	return &VirtualResolver{registry: registry, queries: queries, grouper: grouper}
}

// partialPlan is the value produced for one subtree during evaluation.
type partialPlan struct {
	grid         domain.GridSpec
	groups       []domain.PlanGroup
	measurements []string
}

// Resolve evaluates the tree bottom-up into a LoadPlan. Evaluation walks the
// tree post-order on an explicit work stack; combinator rules are enforced
// as each internal node consumes its children's partial plans. Resolution is
// deterministic: equal catalog state yields a structurally identical plan.
func (v *VirtualResolver) Resolve(ctx context.Context, vp VirtualProduct, opts ResolveOptions) (domain.LoadPlan, error) {
	if err := vp.Validate(); err != nil {
		return domain.LoadPlan{}, err
	}

	type frame struct {
		node  VirtualProduct
		path  string
		ready bool
	}
	work := []frame{{node: vp, path: ""}}
	var values []partialPlan

	for len(work) > 0 {
		top := work[len(work)-1]
		if !top.ready {
			work[len(work)-1].ready = true
			for i := len(top.node.Children) - 1; i >= 0; i-- {
				work = append(work, frame{
					node: top.node.Children[i],
					path: fmt.Sprintf("%s%s[%d].", top.path, top.node.Kind, i),
				})
			}
			continue
		}
		work = work[:len(work)-1]

		var result partialPlan
		var err error
		switch top.node.Kind {
		case VirtualLeaf:
			result, err = v.resolveLeaf(ctx, top.node, top.path, opts)
		case VirtualTransform:
			child := values[len(values)-1]
			values = values[:len(values)-1]
			result = applyTransform(child, top.node.Transform)
		case VirtualCollate:
			n := len(top.node.Children)
			children := values[len(values)-n:]
			values = values[:len(values)-n]
			result, err = collate(top.node.label(top.path), children)
		case VirtualJuxtapose:
			n := len(top.node.Children)
			children := values[len(values)-n:]
			values = values[:len(values)-n]
			result, err = juxtapose(top.node.label(top.path), children)
		}
		if err != nil {
			return domain.LoadPlan{}, err
		}
		values = append(values, result)
	}

	final := values[0]
	return domain.LoadPlan{Grid: final.grid, Groups: final.groups}, nil
}

func (v *VirtualResolver) resolveLeaf(ctx context.Context, node VirtualProduct, path string, opts ResolveOptions) (partialPlan, error) {
	product, ok := v.registry.Product(node.Product)
	if !ok {
		return partialPlan{}, domain.QueryError{Reason: fmt.Sprintf("%s: unknown product %q", node.label(path), node.Product)}
	}
	grid, err := v.registry.ProductGrid(node.Product)
	if err != nil {
		return partialPlan{}, err
	}

	measurements := node.Measurements
	if len(measurements) == 0 {
		measurements = product.MeasurementNames()
	} else {
		canonical := make([]string, 0, len(measurements))
		for _, name := range measurements {
			resolved, ok := product.CanonicalMeasurement(name)
			if !ok {
				return partialPlan{}, domain.QueryError{
					Reason: fmt.Sprintf("%s: measurement %q not declared by product %q", node.label(path), name, node.Product)}
			}
			canonical = append(canonical, resolved)
		}
		sort.Strings(canonical)
		measurements = canonical
	}

	seq, err := v.queries.Search(ctx, domain.Query{
		Product:         node.Product,
		Terms:           node.Terms,
		Region:          opts.Region,
		Time:            opts.Time,
		IncludeArchived: opts.IncludeArchived,
	})
	if err != nil {
		return partialPlan{}, err
	}
	datasets, err := seq.Collect()
	if err != nil {
		return partialPlan{}, err
	}

	groups, err := v.grouper.Group(GroupPolicy{Grid: grid, Bucket: opts.Bucket, Location: opts.Location}, datasets)
	if err != nil {
		return partialPlan{}, err
	}

	plan := partialPlan{grid: grid, measurements: measurements}
	for _, g := range groups {
		plan.groups = append(plan.groups, domain.PlanGroup{
			Key:    g.Key,
			GeoBox: g.GeoBox,
			Sources: []domain.PlanSource{{
				Product:      node.Product,
				Measurements: measurements,
				Datasets:     g.Datasets,
			}},
		})
	}
	return plan, nil
}

// applyTransform tags every source of the subtree with the transform name.
// Tags accumulate innermost first, matching the order the raster backend
// applies them; tagging sources rather than groups keeps the chain scoped to
// this subtree when a later combinator merges it with untransformed siblings.
func applyTransform(child partialPlan, name string) partialPlan {
	for i := range child.groups {
		sources := child.groups[i].Sources
		for j := range sources {
			sources[j].Transforms = append(sources[j].Transforms, name)
		}
	}
	return child
}

// collate merges alternative children along time. All children must sit on
// the same grid and offer the same measurement set; a cell provided by
// several children keeps every child's sources with earlier children first.
func collate(node string, children []partialPlan) (partialPlan, error) {
	base := children[0]
	for i, child := range children[1:] {
		if !child.grid.Equal(base.grid) {
			return partialPlan{}, domain.CollateGridMismatchError{Node: node,
				Detail: fmt.Sprintf("child %d grid differs from child 0", i+1)}
		}
		if !sameMeasurements(child.measurements, base.measurements) {
			return partialPlan{}, domain.QueryError{
				Reason: fmt.Sprintf("%s: child %d measurements [%s] differ from child 0 [%s]",
					node, i+1, strings.Join(child.measurements, ", "), strings.Join(base.measurements, ", "))}
		}
	}

	merged := map[domain.CellKey]domain.PlanGroup{}
	for _, child := range children {
		for _, g := range child.groups {
			existing, ok := merged[g.Key]
			if !ok {
				merged[g.Key] = g
				continue
			}
			existing.Sources = append(existing.Sources, g.Sources...)
			merged[g.Key] = existing
		}
	}
	return partialPlan{grid: base.grid, measurements: base.measurements, groups: orderedGroups(merged)}, nil
}

// juxtapose combines children side by side. Children contribute disjoint
// measurement sets and must cover exactly the same cells; any asymmetry is
// an error naming the offending cells.
func juxtapose(node string, children []partialPlan) (partialPlan, error) {
	base := children[0]
	seen := map[string]struct{}{}
	for _, m := range base.measurements {
		seen[m] = struct{}{}
	}
	for i, child := range children[1:] {
		if !child.grid.Equal(base.grid) {
			return partialPlan{}, domain.QueryError{
				Reason: fmt.Sprintf("%s: child %d grid differs from child 0", node, i+1)}
		}
		for _, m := range child.measurements {
			if _, dup := seen[m]; dup {
				return partialPlan{}, domain.QueryError{
					Reason: fmt.Sprintf("%s: measurement %q provided by more than one child", node, m)}
			}
			seen[m] = struct{}{}
		}
	}

	if mismatched := asymmetricCells(children); len(mismatched) > 0 {
		return partialPlan{}, domain.JuxtaposeMismatchError{Node: node, Cells: mismatched}
	}

	merged := map[domain.CellKey]domain.PlanGroup{}
	for _, child := range children {
		for _, g := range child.groups {
			existing, ok := merged[g.Key]
			if !ok {
				merged[g.Key] = g
				continue
			}
			existing.Sources = append(existing.Sources, g.Sources...)
			merged[g.Key] = existing
		}
	}

	measurements := make([]string, 0, len(seen))
	for m := range seen {
		measurements = append(measurements, m)
	}
	sort.Strings(measurements)
	return partialPlan{grid: base.grid, measurements: measurements, groups: orderedGroups(merged)}, nil
}

// asymmetricCells returns the cells not shared by every child, sorted.
func asymmetricCells(children []partialPlan) []domain.CellKey {
	counts := map[domain.CellKey]int{}
	for _, child := range children {
		for _, g := range child.groups {
			counts[g.Key]++
		}
	}
	var out []domain.CellKey
	for key, n := range counts {
		if n != len(children) {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func orderedGroups(merged map[domain.CellKey]domain.PlanGroup) []domain.PlanGroup {
	out := make([]domain.PlanGroup, 0, len(merged))
	for _, g := range merged {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

func sameMeasurements(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
