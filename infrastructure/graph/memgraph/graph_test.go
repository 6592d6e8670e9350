package memgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/graph"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

func seedChain(t *testing.T, s *Store, tenant string, ids ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		require.NoError(t, s.CreateNode(ctx, graph.Node{ID: id, TenantID: tenant, Label: id}))
	}
	for i := 0; i+1 < len(ids); i++ {
		require.NoError(t, s.CreateEdge(ctx, graph.Edge{
			SourceID: ids[i], TargetID: ids[i+1], Relation: "next", Weight: 1, TenantID: tenant,
		}))
	}
}

func TestGetNeighbors_DepthBounded(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	seedChain(t, s, "t1", "a", "b", "c", "d")

	one, err := s.GetNeighbors(ctx, "t1", "a", graph.DirectionOut, "", 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "b", one[0].ID)

	two, err := s.GetNeighbors(ctx, "t1", "a", graph.DirectionOut, "", 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestGetNeighbors_DirectionAndRelationFilter(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	seedChain(t, s, "t1", "a", "b")
	require.NoError(t, s.CreateNode(ctx, graph.Node{ID: "c", TenantID: "t1"}))
	require.NoError(t, s.CreateEdge(ctx, graph.Edge{
		SourceID: "c", TargetID: "b", Relation: "mentions", Weight: 0.5, TenantID: "t1",
	}))

	in, err := s.GetNeighbors(ctx, "t1", "b", graph.DirectionIn, "", 1)
	require.NoError(t, err)
	assert.Len(t, in, 2)

	mentionsOnly, err := s.GetNeighbors(ctx, "t1", "b", graph.DirectionIn, "mentions", 1)
	require.NoError(t, err)
	require.Len(t, mentionsOnly, 1)
	assert.Equal(t, "c", mentionsOnly[0].ID)
}

func TestDeleteNode_CascadesEdges(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	seedChain(t, s, "t1", "a", "b", "c")

	require.NoError(t, s.DeleteNode(ctx, "t1", "b"))

	nbrs, err := s.GetNeighbors(ctx, "t1", "a", graph.DirectionBoth, "", 2)
	require.NoError(t, err)
	assert.Empty(t, nbrs, "edges through b are gone")
}

func TestShortestPath(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	seedChain(t, s, "t1", "a", "b", "c", "d")

	path, err := s.ShortestPath(ctx, "t1", "a", "d", 5)
	require.NoError(t, err)
	ids := make([]string, len(path))
	for i, n := range path {
		ids[i] = n.ID
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)

	_, err = s.ShortestPath(ctx, "t1", "a", "d", 2)
	assert.True(t, appErrors.IsNotFound(err), "path exceeds depth bound")
}

func TestExtractSubgraph(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	seedChain(t, s, "t1", "a", "b", "c", "d")

	sub, err := s.ExtractSubgraph(ctx, "t1", []string{"b"}, 1)
	require.NoError(t, err)
	assert.Len(t, sub.Nodes, 3) // a, b, c
	assert.Len(t, sub.Edges, 2)
}

func TestTenantIsolation(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	seedChain(t, s, "t1", "a", "b")

	_, err := s.GetNeighbors(ctx, "t2", "a", graph.DirectionBoth, "", 1)
	assert.True(t, appErrors.IsNotFound(err))

	err = s.CreateEdge(ctx, graph.Edge{SourceID: "a", TargetID: "b", Relation: "x", Weight: 1, TenantID: "t2"})
	assert.True(t, appErrors.IsNotFound(err), "edges cannot span tenants")
}

func TestDeleteByTenant(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	seedChain(t, s, "t1", "a", "b")
	seedChain(t, s, "t2", "x", "y")

	n, err := s.DeleteByTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.GetNode(ctx, "t2", "x")
	assert.NoError(t, err)
}

func TestCreateEdge_Validation(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	seedChain(t, s, "t1", "a", "b")

	err := s.CreateEdge(ctx, graph.Edge{SourceID: "a", TargetID: "b", Relation: "r", Weight: 1.5, TenantID: "t1"})
	assert.True(t, appErrors.IsValidation(err))
}
