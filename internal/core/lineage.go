package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"geocatalog/pkg/domain"
)

// LineageDirection selects whether a walk follows source-ward (provenance)
// or derived-ward edges.
type LineageDirection int

// Walk directions.
const (
	// LineageSources walks toward the datasets this one was derived from.
	LineageSources LineageDirection = iota
	// LineageDerived walks toward the datasets derived from this one.
	LineageDerived
)

// Traversal budget: walks beyond these limits report a structural error
// instead of running unbounded on pathological graphs.
const (
	maxLineageDepth   = 256
	maxLineageVisited = 100_000
)

// ErrLineageBudget is returned when a lineage walk exceeds its depth or
// visited-set budget.
var ErrLineageBudget = errors.New("lineage graph exceeds traversal budget")

// LineageIndex is the in-memory adjacency index over dataset provenance
// edges used during resolution. Edges are directed source -> derived and
// labeled with a relation classifier. Edge sets are built incrementally by
// ingestion before products are known to be consistent, so cycles are
// detected at query time rather than rejected on insert. The index is
// read-mostly; updates are serialised internally.
type LineageIndex struct {
	mu sync.RWMutex
	// classifier per (source, derived) pair; re-registering a pair under a
	// different classifier is a conflict.
	classifiers map[[2]uuid.UUID]string
	bySource    map[uuid.UUID]map[uuid.UUID]string
	byDerived   map[uuid.UUID]map[uuid.UUID]string
}

// NewLineageIndex constructs an empty lineage index.
func NewLineageIndex() *LineageIndex {
	return &LineageIndex{
		classifiers: map[[2]uuid.UUID]string{},
		bySource:    map[uuid.UUID]map[uuid.UUID]string{},
		byDerived:   map[uuid.UUID]map[uuid.UUID]string{},
	}
}

// AddEdge records that derived depends on source under the given relation
// classifier. Self-references and classifier conflicts on an existing edge
// are rejected; other cycles are tolerated here and caught by DetectCycle
// before any provenance walk trusts the graph.
func (ix *LineageIndex) AddEdge(edge domain.LineageEdge) error {
	if edge.Source == edge.Derived {
		return domain.LineageCycleError{DatasetID: edge.Derived, Path: []uuid.UUID{edge.Derived, edge.Derived}}
	}
	if edge.Classifier == "" {
		return fmt.Errorf("lineage edge %s -> %s: missing classifier", edge.Source, edge.Derived)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	key := [2]uuid.UUID{edge.Source, edge.Derived}
	if existing, ok := ix.classifiers[key]; ok {
		if existing != edge.Classifier {
			return fmt.Errorf("lineage edge %s -> %s already recorded as %q, refusing %q",
				edge.Source, edge.Derived, existing, edge.Classifier)
		}
		return nil
	}

	ix.classifiers[key] = edge.Classifier
	if ix.bySource[edge.Source] == nil {
		ix.bySource[edge.Source] = map[uuid.UUID]string{}
	}
	if ix.byDerived[edge.Derived] == nil {
		ix.byDerived[edge.Derived] = map[uuid.UUID]string{}
	}
	ix.bySource[edge.Source][edge.Derived] = edge.Classifier
	ix.byDerived[edge.Derived][edge.Source] = edge.Classifier
	return nil
}

// HasEdge reports whether the edge is already recorded.
func (ix *LineageIndex) HasEdge(source, derived uuid.UUID) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.classifiers[[2]uuid.UUID{source, derived}]
	return ok
}

// RemoveEdge deletes an edge if present, reporting whether it existed.
func (ix *LineageIndex) RemoveEdge(source, derived uuid.UUID) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	key := [2]uuid.UUID{source, derived}
	if _, ok := ix.classifiers[key]; !ok {
		return false
	}
	delete(ix.classifiers, key)
	delete(ix.bySource[source], derived)
	if len(ix.bySource[source]) == 0 {
		delete(ix.bySource, source)
	}
	delete(ix.byDerived[derived], source)
	if len(ix.byDerived[derived]) == 0 {
		delete(ix.byDerived, derived)
	}
	return true
}

// AddDatasetLineage indexes every lineage reference a validated dataset
// carries.
func (ix *LineageIndex) AddDatasetLineage(ds domain.Dataset) error {
	classifiers := make([]string, 0, len(ds.Lineage))
	for classifier := range ds.Lineage {
		classifiers = append(classifiers, classifier)
	}
	sort.Strings(classifiers)
	for _, classifier := range classifiers {
		for _, source := range ds.Lineage[classifier] {
			if err := ix.AddEdge(domain.LineageEdge{Source: source, Derived: ds.ID, Classifier: classifier}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Sources returns the immediate source ids of a dataset with their
// classifiers.
func (ix *LineageIndex) Sources(id uuid.UUID) map[uuid.UUID]string {
	return ix.neighbours(id, LineageSources)
}

// Derived returns the immediate derived ids of a dataset with their
// classifiers.
func (ix *LineageIndex) Derived(id uuid.UUID) map[uuid.UUID]string {
	return ix.neighbours(id, LineageDerived)
}

func (ix *LineageIndex) neighbours(id uuid.UUID, dir LineageDirection) map[uuid.UUID]string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var src map[uuid.UUID]string
	if dir == LineageSources {
		src = ix.byDerived[id]
	} else {
		src = ix.bySource[id]
	}
	out := make(map[uuid.UUID]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// DetectCycle reports whether any lineage chain reachable from the given
// dataset revisits an id already on the current path. The walk is
// depth-first with an explicit stack and a visiting set scoped to the
// current path, so diamond shapes are legal. Exhausting the traversal
// budget is reported as a cycle: a graph too deep to verify is not safe for
// provenance walks.
func (ix *LineageIndex) DetectCycle(id uuid.UUID) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	cyclic, err := ix.cycleFromLocked(id, LineageSources)
	if cyclic || err != nil {
		return true
	}
	cyclic, err = ix.cycleFromLocked(id, LineageDerived)
	return cyclic || err != nil
}

// cycleFromLocked runs the bounded DFS in one direction. Caller holds the
// read lock.
func (ix *LineageIndex) cycleFromLocked(start uuid.UUID, dir LineageDirection) (bool, error) {
	adjacency := ix.byDerived // source-ward: derived -> its sources
	if dir == LineageDerived {
		adjacency = ix.bySource
	}
	children := func(id uuid.UUID) []uuid.UUID {
		m := adjacency[id]
		out := make([]uuid.UUID, 0, len(m))
		for child := range m {
			out = append(out, child)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
		return out
	}

	type frame struct {
		id    uuid.UUID
		next  []uuid.UUID
		index int
	}
	stack := []frame{{id: start, next: children(start)}}
	onPath := map[uuid.UUID]struct{}{start: {}}
	visited := 1

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.index >= len(top.next) {
			delete(onPath, top.id)
			stack = stack[:len(stack)-1]
			continue
		}
		child := top.next[top.index]
		top.index++

		if _, ok := onPath[child]; ok {
			return true, nil
		}
		if len(stack) >= maxLineageDepth || visited >= maxLineageVisited {
			return false, ErrLineageBudget
		}
		visited++
		onPath[child] = struct{}{}
		stack = append(stack, frame{id: child, next: children(child)})
	}
	return false, nil
}

// ProvenanceNode is one node of a provenance walk.
type ProvenanceNode struct {
	ID         uuid.UUID
	Classifier string
	Children   []ProvenanceNode
	// Truncated marks a subtree cut short by a cycle or by the traversal
	// budget; the rest of the walk remains valid.
	Truncated bool
}

// Walk expands a dataset's lineage in the given direction up to maxDepth
// levels (0 means the full budget). Cycles truncate the affected branch
// rather than failing the walk, so a search using lineage still returns
// with the dataset's provenance flagged as truncated.
func (ix *LineageIndex) Walk(id uuid.UUID, dir LineageDirection, maxDepth int) ProvenanceNode {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if maxDepth <= 0 || maxDepth > maxLineageDepth {
		maxDepth = maxLineageDepth
	}
	visited := 0
	onPath := map[uuid.UUID]struct{}{}

	var expand func(node uuid.UUID, classifier string, depth int) ProvenanceNode
	expand = func(node uuid.UUID, classifier string, depth int) ProvenanceNode {
		out := ProvenanceNode{ID: node, Classifier: classifier}
		if depth >= maxDepth || visited >= maxLineageVisited {
			out.Truncated = true
			return out
		}
		if _, ok := onPath[node]; ok {
			out.Truncated = true
			return out
		}
		onPath[node] = struct{}{}
		defer delete(onPath, node)
		visited++

		var adjacent map[uuid.UUID]string
		if dir == LineageSources {
			adjacent = ix.byDerived[node]
		} else {
			adjacent = ix.bySource[node]
		}
		childIDs := make([]uuid.UUID, 0, len(adjacent))
		for child := range adjacent {
			childIDs = append(childIDs, child)
		}
		sort.Slice(childIDs, func(i, j int) bool { return childIDs[i].String() < childIDs[j].String() })
		for _, child := range childIDs {
			childNode := expand(child, adjacent[child], depth+1)
			out.Children = append(out.Children, childNode)
			if childNode.Truncated {
				out.Truncated = true
			}
		}
		return out
	}
	return expand(id, "", 0)
}
