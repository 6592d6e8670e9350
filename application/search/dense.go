package search

import (
	"context"

	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// DenseStrategy retrieves by embedding the query and running a cosine
// similarity search in the default vector space.
type DenseStrategy struct {
	vectors  ports.VectorStore
	embedder ports.EmbeddingProvider
	logger   *zap.Logger
}

var _ Strategy = (*DenseStrategy)(nil)

// NewDenseStrategy constructs the dense producer.
func NewDenseStrategy(vectors ports.VectorStore, embedder ports.EmbeddingProvider, logger *zap.Logger) *DenseStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DenseStrategy{vectors: vectors, embedder: embedder, logger: logger}
}

func (s *DenseStrategy) Name() memory.StrategyName { return memory.StrategyDense }

func (s *DenseStrategy) DefaultWeight() float64 { return 1.0 }

func (s *DenseStrategy) Search(ctx context.Context, q *memory.QueryRequest, k int) ([]Hit, error) {
	vec, err := s.embedder.EmbedText(ctx, q.Query, ports.TaskSearchQuery)
	if err != nil {
		return nil, appErrors.Wrap(err, "dense strategy: embed query")
	}
	matches, err := s.vectors.Search(ctx, vec, k, ports.VectorFilter{
		TenantID:  q.TenantID,
		Project:   q.Project,
		AgentID:   q.AgentID,
		SessionID: q.SessionID,
		Layers:    requestLayers(q),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "dense strategy: similarity search")
	}
	hits := make([]Hit, len(matches))
	for i, m := range matches {
		hits[i] = Hit{ID: m.ID, Score: m.Score}
	}
	return hits, nil
}
