package search

import (
	"context"

	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// SparseStrategy delegates to the storage adapter's token-based full-text
// search.
type SparseStrategy struct {
	store  ports.MemoryStore
	logger *zap.Logger
}

var _ Strategy = (*SparseStrategy)(nil)

// NewSparseStrategy constructs the keyword producer.
func NewSparseStrategy(store ports.MemoryStore, logger *zap.Logger) *SparseStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SparseStrategy{store: store, logger: logger}
}

func (s *SparseStrategy) Name() memory.StrategyName { return memory.StrategySparse }

func (s *SparseStrategy) DefaultWeight() float64 { return 0.7 }

func (s *SparseStrategy) Search(ctx context.Context, q *memory.QueryRequest, k int) ([]Hit, error) {
	filter := listFilter(q)
	filter.Limit = k
	matches, err := s.store.FullTextSearch(ctx, q.Query, false, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, "sparse strategy: full-text search")
	}
	hits := make([]Hit, len(matches))
	for i, m := range matches {
		hits[i] = Hit{ID: m.Memory.ID, Score: m.Score, Importance: m.Memory.Importance}
	}
	return hits, nil
}

// listFilter translates the query record into a storage filter.
func listFilter(q *memory.QueryRequest) ports.ListFilter {
	f := ports.ListFilter{
		TenantID:      q.TenantID,
		Project:       q.Project,
		AgentID:       q.AgentID,
		SessionID:     q.SessionID,
		Layers:        requestLayers(q),
		Tags:          q.Tags,
		MinImportance: q.MinImportance,
	}
	if q.Temporal != nil {
		f.CreatedAfter = q.Temporal.Start
		f.CreatedBefore = q.Temporal.End
	}
	return f
}
