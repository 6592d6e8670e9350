package search

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// MultiVectorStrategy searches additional named vector spaces beyond the
// default one and merges per-record scores by maximum. Spaces that do not
// exist yet simply contribute nothing.
type MultiVectorStrategy struct {
	vectors  ports.VectorStore
	embedder ports.EmbeddingProvider
	spaces   []string
	logger   *zap.Logger
}

var _ Strategy = (*MultiVectorStrategy)(nil)

// NewMultiVectorStrategy constructs the producer over the given named
// spaces. An empty list falls back to the summary space.
func NewMultiVectorStrategy(vectors ports.VectorStore, embedder ports.EmbeddingProvider, spaces []string, logger *zap.Logger) *MultiVectorStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(spaces) == 0 {
		spaces = []string{"summary"}
	}
	return &MultiVectorStrategy{vectors: vectors, embedder: embedder, spaces: spaces, logger: logger}
}

func (s *MultiVectorStrategy) Name() memory.StrategyName { return memory.StrategyMultiVector }

func (s *MultiVectorStrategy) DefaultWeight() float64 { return 0.8 }

func (s *MultiVectorStrategy) Search(ctx context.Context, q *memory.QueryRequest, k int) ([]Hit, error) {
	vec, err := s.embedder.EmbedText(ctx, q.Query, ports.TaskSearchQuery)
	if err != nil {
		return nil, appErrors.Wrap(err, "multi-vector strategy: embed query")
	}

	best := make(map[string]float64)
	for _, space := range s.spaces {
		matches, err := s.vectors.Search(ctx, vec, k, ports.VectorFilter{
			TenantID:  q.TenantID,
			Project:   q.Project,
			AgentID:   q.AgentID,
			SessionID: q.SessionID,
			Layers:    requestLayers(q),
			Space:     space,
		})
		if err != nil {
			s.logger.Warn("multi-vector space search failed",
				zap.String("space", space), zap.Error(err))
			continue
		}
		for _, m := range matches {
			if m.Score > best[m.ID] {
				best[m.ID] = m.Score
			}
		}
	}

	hits := make([]Hit, 0, len(best))
	for id, score := range best {
		hits = append(hits, Hit{ID: id, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}
