// Package search implements the hybrid retrieval pipeline: five
// independent strategies, query-intent analysis, Reciprocal Rank Fusion,
// kernel re-scoring, and the optional LLM re-ranker.
package search

import (
	"context"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
)

// Hit is one ranked entry produced by a strategy. Importance is filled
// when the strategy reads the record (sparse, anchor); zero otherwise.
type Hit struct {
	ID         string
	Score      float64
	Importance float64
}

// Strategy is an independent retrieval producer. Search returns at most k
// hits ordered by descending score. Implementations must be safe for
// concurrent use.
type Strategy interface {
	Name() memory.StrategyName
	// DefaultWeight is the fusion weight used when neither intent analysis
	// nor the caller supplies one.
	DefaultWeight() float64
	Search(ctx context.Context, q *memory.QueryRequest, k int) ([]Hit, error)
}

// Seeded is implemented by strategies that expand from seed hits produced
// by earlier strategies (graph traversal).
type Seeded interface {
	SearchSeeded(ctx context.Context, q *memory.QueryRequest, seeds []string, k int) ([]Hit, error)
}

// SearchableLayers is the default layer set queried when a request does not
// restrict layers. The sensory layer is never directly searched.
var SearchableLayers = []memory.Layer{
	memory.LayerWorking,
	memory.LayerEpisodic,
	memory.LayerSemantic,
	memory.LayerReflective,
}

// requestLayers resolves the effective layer filter for a request.
func requestLayers(q *memory.QueryRequest) []memory.Layer {
	if len(q.Layers) > 0 {
		out := make([]memory.Layer, 0, len(q.Layers))
		for _, l := range q.Layers {
			if l != memory.LayerSensory {
				out = append(out, l)
			}
		}
		return out
	}
	return SearchableLayers
}
