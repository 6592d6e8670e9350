package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/graph"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/graph/memgraph"
)

func seedGraph(t *testing.T, tenant string, edges [][2]string) *memgraph.Store {
	t.Helper()
	ctx := context.Background()
	g := memgraph.New(nil)
	seen := map[string]bool{}
	for _, e := range edges {
		for _, id := range e {
			if !seen[id] {
				require.NoError(t, g.CreateNode(ctx, graph.Node{ID: id, TenantID: tenant, Label: "memory"}))
				seen[id] = true
			}
		}
		require.NoError(t, g.CreateEdge(ctx, graph.Edge{
			SourceID: e[0], TargetID: e[1], Relation: "relates_to", Weight: 0.5, TenantID: tenant,
		}))
	}
	return g
}

func TestGraphTraversal_DepthScoring(t *testing.T) {
	// a -> b -> c; traversal from seed a scores b at depth 1 and c at depth 2.
	g := seedGraph(t, "t1", [][2]string{{"a", "b"}, {"b", "c"}})
	s := NewGraphTraversalStrategy(g, nil)

	hits, err := s.SearchSeeded(context.Background(), &memory.QueryRequest{TenantID: "t1"}, []string{"a"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	byID := map[string]float64{}
	for _, h := range hits {
		byID[h.ID] = h.Score
	}
	assert.InDelta(t, 0.5, byID["b"], 1e-9)
	assert.InDelta(t, 1.0/3.0, byID["c"], 1e-9)
}

func TestGraphTraversal_MultiPathBonus(t *testing.T) {
	// Both seeds connect to "hub", so it accumulates two contributions.
	g := seedGraph(t, "t1", [][2]string{{"s1", "hub"}, {"s2", "hub"}, {"s1", "leaf"}})
	s := NewGraphTraversalStrategy(g, nil)

	hits, err := s.SearchSeeded(context.Background(), &memory.QueryRequest{TenantID: "t1"}, []string{"s1", "s2"}, 10)
	require.NoError(t, err)

	byID := map[string]float64{}
	for _, h := range hits {
		byID[h.ID] = h.Score
	}
	assert.Greater(t, byID["hub"], byID["leaf"])
	// Seeds never appear in their own expansion.
	assert.NotContains(t, byID, "s1")
	assert.NotContains(t, byID, "s2")
}

func TestGraphTraversal_RespectsDepthBound(t *testing.T) {
	g := seedGraph(t, "t1", [][2]string{{"a", "b"}, {"b", "c"}, {"c", "d"}})
	s := NewGraphTraversalStrategy(g, nil)

	hits, err := s.SearchSeeded(context.Background(), &memory.QueryRequest{TenantID: "t1", GraphDepth: 1}, []string{"a"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)
}

func TestGraphTraversal_NoSeeds(t *testing.T) {
	g := memgraph.New(nil)
	s := NewGraphTraversalStrategy(g, nil)

	hits, err := s.SearchSeeded(context.Background(), &memory.QueryRequest{TenantID: "t1"}, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.Search(context.Background(), &memory.QueryRequest{TenantID: "t1", Query: "x"}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestGraphTraversal_UnknownSeedIgnored(t *testing.T) {
	g := seedGraph(t, "t1", [][2]string{{"a", "b"}})
	s := NewGraphTraversalStrategy(g, nil)

	hits, err := s.SearchSeeded(context.Background(), &memory.QueryRequest{TenantID: "t1"}, []string{"missing", "a"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)
}
