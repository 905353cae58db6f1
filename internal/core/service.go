package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"geocatalog/pkg/domain"
)

// Service exposes the catalog operations: schema administration, dataset
// indexing, search, grouping and virtual product resolution. Every operation
// is traced, measured and logged through the configured collaborators.
type Service struct {
	registry *Registry
	store    domain.CatalogStore
	writer   domain.CatalogWriter
	lineage  *LineageIndex
	queries  *QueryResolver
	grouper  *GroupByEngine
	virtual  *VirtualResolver

	logger  zerolog.Logger
	metrics MetricsRecorder
	tracer  Tracer
}

// ServiceOption customises service construction.
type ServiceOption func(*Service)

// WithLogger installs a structured logger. The default discards output.
func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithMetricsRecorder installs a metrics recorder for operation outcomes.
func WithMetricsRecorder(rec MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// WithTracer installs a tracer receiving one span per operation.
func WithTracer(tracer Tracer) ServiceOption {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithWriter installs the write half of the catalog store when the reader
// does not implement it.
func WithWriter(writer domain.CatalogWriter) ServiceOption {
	return func(s *Service) {
		if writer != nil {
			s.writer = writer
		}
	}
}

// NewService wires a catalog service over a store and a projection
// collaborator. Stores implementing domain.CatalogWriter are used for
// indexing automatically.
func NewService(store domain.CatalogStore, transform domain.CRSTransform, opts ...ServiceOption) *Service {
	registry := NewRegistry(transform)
	queries := NewQueryResolver(registry, store)
	grouper := NewGroupByEngine(transform)

	s := &Service{
		registry: registry,
		store:    store,
		lineage:  NewLineageIndex(),
		queries:  queries,
		grouper:  grouper,
		virtual:  NewVirtualResolver(registry, queries, grouper),
		logger:   zerolog.Nop(),
		metrics:  noopMetricsRecorder{},
		tracer:   noopTracer{},
	}
	if writer, ok := store.(domain.CatalogWriter); ok {
		s.writer = writer
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the schema registry for direct inspection.
func (s *Service) Registry() *Registry { return s.registry }

// Lineage returns the provenance index.
func (s *Service) Lineage() *LineageIndex { return s.lineage }

func (s *Service) instrument(ctx context.Context, operation string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, operation)
	started := time.Now()
	err := fn(ctx)
	duration := time.Since(started)
	span.End(err)
	s.metrics.Observe(ctx, operation, err == nil, duration)
	if err != nil {
		s.logger.Error().Err(err).Str("operation", operation).Dur("duration", duration).Msg("catalog operation failed")
	} else {
		s.logger.Debug().Str("operation", operation).Dur("duration", duration).Msg("catalog operation")
	}
	return err
}

// RegisterMetadataType registers or compatibly updates a metadata type.
func (s *Service) RegisterMetadataType(ctx context.Context, mt domain.MetadataType) error {
	return s.instrument(ctx, "register_metadata_type", func(context.Context) error {
		return s.registry.RegisterMetadataType(mt)
	})
}

// RegisterProduct registers or compatibly updates a product.
func (s *Service) RegisterProduct(ctx context.Context, p domain.Product) error {
	return s.instrument(ctx, "register_product", func(context.Context) error {
		return s.registry.RegisterProduct(p)
	})
}

// RegisterGridSpec registers a named grid.
func (s *Service) RegisterGridSpec(ctx context.Context, name string, gs domain.GridSpec) error {
	return s.instrument(ctx, "register_grid_spec", func(context.Context) error {
		return s.registry.RegisterGridSpec(name, gs)
	})
}

// IndexDataset validates a metadata document against a product, records its
// lineage and persists the dataset. A document whose lineage would close a
// cycle is rejected whole; the index is left as it was.
func (s *Service) IndexDataset(ctx context.Context, productName string, doc domain.Document) (domain.Dataset, error) {
	var ds domain.Dataset
	err := s.instrument(ctx, "index_dataset", func(ctx context.Context) error {
		if s.writer == nil {
			return fmt.Errorf("catalog store is read-only")
		}
		validated, err := s.registry.ValidateDataset(productName, doc)
		if err != nil {
			return err
		}

		added, err := s.recordLineage(validated)
		if err != nil {
			return err
		}
		if s.lineage.DetectCycle(validated.ID) {
			for _, edge := range added {
				s.lineage.RemoveEdge(edge.Source, edge.Derived)
			}
			return domain.LineageCycleError{DatasetID: validated.ID}
		}

		if err := s.writer.PutDataset(ctx, validated); err != nil {
			for _, edge := range added {
				s.lineage.RemoveEdge(edge.Source, edge.Derived)
			}
			return err
		}
		ds = validated
		return nil
	})
	return ds, err
}

// recordLineage adds a dataset's edges and returns the ones that were new,
// so a failed index can roll back exactly what it added.
func (s *Service) recordLineage(ds domain.Dataset) ([]domain.LineageEdge, error) {
	var added []domain.LineageEdge
	for _, classifier := range sortedKeys(ds.Lineage) {
		for _, source := range ds.Lineage[classifier] {
			edge := domain.LineageEdge{Source: source, Derived: ds.ID, Classifier: classifier}
			if s.lineage.HasEdge(edge.Source, edge.Derived) {
				continue
			}
			if err := s.lineage.AddEdge(edge); err != nil {
				for _, prior := range added {
					s.lineage.RemoveEdge(prior.Source, prior.Derived)
				}
				return nil, err
			}
			added = append(added, edge)
		}
	}
	return added, nil
}

// ArchiveDataset retains a dataset but removes it from default search
// results.
func (s *Service) ArchiveDataset(ctx context.Context, id uuid.UUID) error {
	return s.instrument(ctx, "archive_dataset", func(ctx context.Context) error {
		if s.writer == nil {
			return fmt.Errorf("catalog store is read-only")
		}
		return s.writer.SetArchived(ctx, id, true)
	})
}

// RestoreDataset returns an archived dataset to default search results.
func (s *Service) RestoreDataset(ctx context.Context, id uuid.UUID) error {
	return s.instrument(ctx, "restore_dataset", func(ctx context.Context) error {
		if s.writer == nil {
			return fmt.Errorf("catalog store is read-only")
		}
		return s.writer.SetArchived(ctx, id, false)
	})
}

// Search compiles a query into a restartable dataset sequence.
func (s *Service) Search(ctx context.Context, query domain.Query) (DatasetSeq, error) {
	var seq DatasetSeq
	err := s.instrument(ctx, "search_datasets", func(ctx context.Context) error {
		var err error
		seq, err = s.queries.Search(ctx, query)
		return err
	})
	return seq, err
}

// Group searches and buckets the result into grid cells under the policy.
func (s *Service) Group(ctx context.Context, query domain.Query, policy GroupPolicy) ([]domain.LoadGroup, error) {
	var groups []domain.LoadGroup
	err := s.instrument(ctx, "group_datasets", func(ctx context.Context) error {
		seq, err := s.queries.Search(ctx, query)
		if err != nil {
			return err
		}
		datasets, err := seq.Collect()
		if err != nil {
			return err
		}
		groups, err = s.grouper.Group(policy, datasets)
		return err
	})
	return groups, err
}

// ResolveVirtual evaluates a virtual product tree into a load plan.
func (s *Service) ResolveVirtual(ctx context.Context, vp VirtualProduct, opts ResolveOptions) (domain.LoadPlan, error) {
	var plan domain.LoadPlan
	err := s.instrument(ctx, "resolve_virtual", func(ctx context.Context) error {
		var err error
		plan, err = s.virtual.Resolve(ctx, vp, opts)
		return err
	})
	return plan, err
}

// Provenance walks a dataset's lineage. Cycles and over-budget graphs
// truncate the affected branches rather than failing the walk.
func (s *Service) Provenance(ctx context.Context, id uuid.UUID, dir LineageDirection, maxDepth int) (ProvenanceNode, error) {
	var node ProvenanceNode
	err := s.instrument(ctx, "dataset_provenance", func(context.Context) error {
		node = s.lineage.Walk(id, dir, maxDepth)
		return nil
	})
	return node, err
}

func sortedKeys(m map[string][]uuid.UUID) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
