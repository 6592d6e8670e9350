package search

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/graph"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// DefaultGraphDepth bounds traversal when a request does not set one.
const DefaultGraphDepth = 2

// GraphTraversalStrategy expands seed memories through the knowledge graph.
// A neighbor at depth d contributes 1/(d+1) from each seed that reaches it,
// so records connected to several seeds accumulate a multi-path bonus. The
// strategy only runs seeded; without seeds it produces nothing.
type GraphTraversalStrategy struct {
	graphs ports.GraphStore
	logger *zap.Logger
}

var (
	_ Strategy = (*GraphTraversalStrategy)(nil)
	_ Seeded   = (*GraphTraversalStrategy)(nil)
)

func NewGraphTraversalStrategy(graphs ports.GraphStore, logger *zap.Logger) *GraphTraversalStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphTraversalStrategy{graphs: graphs, logger: logger}
}

func (s *GraphTraversalStrategy) Name() memory.StrategyName { return memory.StrategyGraph }

func (s *GraphTraversalStrategy) DefaultWeight() float64 { return 0.6 }

// Search without seeds has nothing to traverse from.
func (s *GraphTraversalStrategy) Search(ctx context.Context, q *memory.QueryRequest, k int) ([]Hit, error) {
	return nil, nil
}

func (s *GraphTraversalStrategy) SearchSeeded(ctx context.Context, q *memory.QueryRequest, seeds []string, k int) ([]Hit, error) {
	if len(seeds) == 0 {
		return nil, nil
	}
	depth := q.GraphDepth
	if depth <= 0 {
		depth = DefaultGraphDepth
	}

	seedSet := make(map[string]bool, len(seeds))
	for _, id := range seeds {
		seedSet[id] = true
	}

	scores := make(map[string]float64)
	for _, seed := range seeds {
		sub, err := s.graphs.ExtractSubgraph(ctx, q.TenantID, []string{seed}, depth)
		if err != nil {
			if appErrors.IsNotFound(err) {
				continue
			}
			return nil, appErrors.Wrap(err, "graph strategy: extract subgraph")
		}
		for id, d := range nodeDepths(sub, seed, depth) {
			if seedSet[id] {
				continue
			}
			scores[id] += 1.0 / float64(d+1)
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, score := range scores {
		if score > 1.0 {
			score = 1.0
		}
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

// nodeDepths runs a BFS over the subgraph edges (ignoring direction) and
// returns the hop distance of every node reachable from start within depth.
func nodeDepths(sub *graph.Subgraph, start string, depth int) map[string]int {
	adj := make(map[string][]string)
	for _, e := range sub.Edges {
		adj[e.SourceID] = append(adj[e.SourceID], e.TargetID)
		adj[e.TargetID] = append(adj[e.TargetID], e.SourceID)
	}

	dist := map[string]int{start: 0}
	frontier := []string{start}
	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			for _, nb := range adj[id] {
				if _, seen := dist[nb]; seen {
					continue
				}
				dist[nb] = d
				next = append(next, nb)
			}
		}
		frontier = next
	}
	delete(dist, start)
	return dist
}
