// Package memgraph provides the in-memory GraphStore implementation.
// Nodes and edges are tenant-scoped; deleting a node cascades to its
// incident edges.
package memgraph

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/graph"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

type edgeKey struct {
	source, target, relation string
}

// Store is a mutex-guarded adjacency map.
type Store struct {
	mu     sync.RWMutex
	nodes  map[string]graph.Node
	edges  map[edgeKey]graph.Edge
	out    map[string][]edgeKey
	in     map[string][]edgeKey
	logger *zap.Logger
}

var _ ports.GraphStore = (*Store)(nil)

// New creates an empty graph store.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		nodes:  make(map[string]graph.Node),
		edges:  make(map[edgeKey]graph.Edge),
		out:    make(map[string][]edgeKey),
		in:     make(map[string][]edgeKey),
		logger: logger,
	}
}

func (s *Store) CreateNode(ctx context.Context, n graph.Node) error {
	if n.ID == "" || n.TenantID == "" {
		return appErrors.NewValidation("graph node requires id and tenant id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.nodes[n.ID]; ok && existing.TenantID != n.TenantID {
		return appErrors.NewValidation("node id already exists under another tenant")
	}
	s.nodes[n.ID] = n
	return nil
}

func (s *Store) CreateEdge(ctx context.Context, e graph.Edge) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.nodeInTenantLocked(e.TenantID, e.SourceID); err != nil {
		return err
	}
	if err := s.nodeInTenantLocked(e.TenantID, e.TargetID); err != nil {
		return err
	}
	key := edgeKey{e.SourceID, e.TargetID, e.Relation}
	if _, ok := s.edges[key]; !ok {
		s.out[e.SourceID] = append(s.out[e.SourceID], key)
		s.in[e.TargetID] = append(s.in[e.TargetID], key)
	}
	s.edges[key] = e
	return nil
}

func (s *Store) nodeInTenantLocked(tenantID, nodeID string) error {
	n, ok := s.nodes[nodeID]
	if !ok || n.TenantID != tenantID {
		return appErrors.NewNotFound("graph node not found: " + nodeID)
	}
	return nil
}

func (s *Store) GetNode(ctx context.Context, tenantID, nodeID string) (*graph.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[nodeID]
	if !ok || n.TenantID != tenantID {
		return nil, appErrors.NewNotFound("graph node not found: " + nodeID)
	}
	cp := n
	return &cp, nil
}

// neighborsLocked yields the directly adjacent node ids of nodeID.
func (s *Store) neighborsLocked(nodeID string, dir graph.Direction, relation string) []string {
	var keys []edgeKey
	switch dir {
	case graph.DirectionOut:
		keys = s.out[nodeID]
	case graph.DirectionIn:
		keys = s.in[nodeID]
	default:
		keys = append(append([]edgeKey(nil), s.out[nodeID]...), s.in[nodeID]...)
	}
	var ids []string
	for _, k := range keys {
		if relation != "" && k.relation != relation {
			continue
		}
		other := k.target
		if k.target == nodeID {
			other = k.source
		}
		ids = append(ids, other)
	}
	return ids
}

// GetNeighbors breadth-first walks up to depth hops and returns the visited
// nodes, excluding the start node.
func (s *Store) GetNeighbors(ctx context.Context, tenantID, nodeID string, dir graph.Direction, relation string, depth int) ([]graph.Node, error) {
	if depth <= 0 {
		depth = 1
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.nodeInTenantLocked(tenantID, nodeID); err != nil {
		return nil, err
	}

	visited := map[string]bool{nodeID: true}
	frontier := []string{nodeID}
	var result []graph.Node
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			for _, nb := range s.neighborsLocked(id, dir, relation) {
				if visited[nb] {
					continue
				}
				visited[nb] = true
				if n, ok := s.nodes[nb]; ok && n.TenantID == tenantID {
					result = append(result, n)
					next = append(next, nb)
				}
			}
		}
		frontier = next
	}
	return result, nil
}

func (s *Store) DeleteNode(ctx context.Context, tenantID, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.nodeInTenantLocked(tenantID, nodeID); err != nil {
		return err
	}
	// Cascade incident edges.
	for _, k := range append(append([]edgeKey(nil), s.out[nodeID]...), s.in[nodeID]...) {
		s.removeEdgeLocked(k)
	}
	delete(s.nodes, nodeID)
	delete(s.out, nodeID)
	delete(s.in, nodeID)
	return nil
}

func (s *Store) removeEdgeLocked(k edgeKey) {
	delete(s.edges, k)
	s.out[k.source] = removeKey(s.out[k.source], k)
	s.in[k.target] = removeKey(s.in[k.target], k)
}

func removeKey(keys []edgeKey, k edgeKey) []edgeKey {
	out := keys[:0]
	for _, e := range keys {
		if e != k {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) DeleteEdge(ctx context.Context, tenantID, sourceID, targetID, relation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := edgeKey{sourceID, targetID, relation}
	e, ok := s.edges[k]
	if !ok || e.TenantID != tenantID {
		return appErrors.NewNotFound("graph edge not found")
	}
	s.removeEdgeLocked(k)
	return nil
}

// ShortestPath runs a BFS over both edge directions bounded by maxDepth and
// returns the node sequence including both endpoints.
func (s *Store) ShortestPath(ctx context.Context, tenantID, fromID, toID string, maxDepth int) ([]graph.Node, error) {
	if maxDepth <= 0 {
		maxDepth = 4
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.nodeInTenantLocked(tenantID, fromID); err != nil {
		return nil, err
	}
	if err := s.nodeInTenantLocked(tenantID, toID); err != nil {
		return nil, err
	}
	if fromID == toID {
		return []graph.Node{s.nodes[fromID]}, nil
	}

	prev := map[string]string{fromID: ""}
	frontier := []string{fromID}
	for d := 0; d < maxDepth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			for _, nb := range s.neighborsLocked(id, graph.DirectionBoth, "") {
				if _, seen := prev[nb]; seen {
					continue
				}
				n, ok := s.nodes[nb]
				if !ok || n.TenantID != tenantID {
					continue
				}
				prev[nb] = id
				if nb == toID {
					return s.buildPathLocked(prev, toID), nil
				}
				next = append(next, nb)
			}
		}
		frontier = next
	}
	return nil, appErrors.NewNotFound("no path within depth bound")
}

func (s *Store) buildPathLocked(prev map[string]string, toID string) []graph.Node {
	var ids []string
	for id := toID; id != ""; id = prev[id] {
		ids = append(ids, id)
	}
	path := make([]graph.Node, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		path = append(path, s.nodes[ids[i]])
	}
	return path
}

// ExtractSubgraph returns the nodes reachable from the seed set within
// depth hops, plus every edge between the returned nodes.
func (s *Store) ExtractSubgraph(ctx context.Context, tenantID string, seedIDs []string, depth int) (*graph.Subgraph, error) {
	if depth <= 0 {
		depth = 1
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	included := make(map[string]bool)
	frontier := make([]string, 0, len(seedIDs))
	for _, id := range seedIDs {
		if n, ok := s.nodes[id]; ok && n.TenantID == tenantID {
			included[id] = true
			frontier = append(frontier, id)
		}
	}
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			for _, nb := range s.neighborsLocked(id, graph.DirectionBoth, "") {
				if included[nb] {
					continue
				}
				if n, ok := s.nodes[nb]; ok && n.TenantID == tenantID {
					included[nb] = true
					next = append(next, nb)
				}
			}
		}
		frontier = next
	}

	sub := &graph.Subgraph{}
	for id := range included {
		sub.Nodes = append(sub.Nodes, s.nodes[id])
	}
	for _, e := range s.edges {
		if e.TenantID == tenantID && included[e.SourceID] && included[e.TargetID] {
			sub.Edges = append(sub.Edges, e)
		}
	}
	return sub, nil
}

func (s *Store) DeleteByTenant(ctx context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, n := range s.nodes {
		if n.TenantID != tenantID {
			continue
		}
		for _, k := range append(append([]edgeKey(nil), s.out[id]...), s.in[id]...) {
			s.removeEdgeLocked(k)
		}
		delete(s.nodes, id)
		delete(s.out, id)
		delete(s.in, id)
		deleted++
	}
	return deleted, nil
}
