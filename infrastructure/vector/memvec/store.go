// Package memvec provides the in-memory VectorStore used for tests and
// single-node deployments without an external vector database. Similarity
// is exact cosine over every candidate, normalized to [0,1].
package memvec

import (
	"context"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// Store keeps vector records in a map guarded by a RWMutex. Space
// dimensions are fixed on first write; a conflicting dimension recreates
// the space, dropping its vectors, per the schema contract.
type Store struct {
	mu      sync.RWMutex
	records map[string]*ports.VectorRecord
	dims    map[string]int
	logger  *zap.Logger
}

var _ ports.VectorStore = (*Store)(nil)

// New creates an empty vector store.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		records: make(map[string]*ports.VectorRecord),
		dims:    make(map[string]int),
		logger:  logger,
	}
}

// EnsureSpace registers the named space at the given dimension. A
// dimension change recreates the space and drops its vectors.
func (s *Store) EnsureSpace(ctx context.Context, space string, dimension int) error {
	if space == "" {
		space = ports.DefaultSpace
	}
	if dimension <= 0 {
		return appErrors.NewValidation("vector dimension must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureSpaceLocked(space, dimension)
	return nil
}

func (s *Store) ensureSpaceLocked(space string, dimension int) {
	prev, ok := s.dims[space]
	if ok && prev == dimension {
		return
	}
	if ok && prev != dimension {
		s.logger.Warn("vector space dimension changed, recreating space",
			zap.String("space", space),
			zap.Int("old_dimension", prev),
			zap.Int("new_dimension", dimension))
		for _, rec := range s.records {
			delete(rec.Vectors, space)
		}
	}
	s.dims[space] = dimension
}

func (s *Store) Upsert(ctx context.Context, rec ports.VectorRecord) error {
	if rec.ID == "" || rec.TenantID == "" {
		return appErrors.NewValidation("vector record requires id and tenant id")
	}
	if len(rec.Vectors) == 0 {
		return appErrors.NewValidation("vector record requires at least one vector")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[rec.ID]
	if ok && existing.TenantID != rec.TenantID {
		return appErrors.NewNotFound("vector not found: " + rec.ID)
	}
	if !ok {
		cp := rec
		cp.Vectors = make(map[string][]float32, len(rec.Vectors))
		existing = &cp
		s.records[rec.ID] = existing
	} else {
		existing.Project = rec.Project
		existing.AgentID = rec.AgentID
		existing.SessionID = rec.SessionID
		existing.Layer = rec.Layer
		existing.Metadata = rec.Metadata
	}
	// Writes to distinct named spaces are independent.
	for space, vec := range rec.Vectors {
		if space == "" {
			space = ports.DefaultSpace
		}
		s.ensureSpaceLocked(space, len(vec))
		existing.Vectors[space] = append([]float32(nil), vec...)
	}
	return nil
}

func (s *Store) UpsertBatch(ctx context.Context, recs []ports.VectorRecord) error {
	for _, rec := range recs {
		if err := s.Upsert(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, tenantID, id string) (*ports.VectorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok || rec.TenantID != tenantID {
		return nil, appErrors.NewNotFound("vector not found: " + id)
	}
	cp := *rec
	cp.Vectors = make(map[string][]float32, len(rec.Vectors))
	for k, v := range rec.Vectors {
		cp.Vectors[k] = append([]float32(nil), v...)
	}
	return &cp, nil
}

func (s *Store) Delete(ctx context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.TenantID != tenantID {
		return appErrors.NewNotFound("vector not found: " + id)
	}
	delete(s.records, id)
	return nil
}

func (s *Store) Search(ctx context.Context, vector []float32, k int, filter ports.VectorFilter) ([]ports.VectorMatch, error) {
	if filter.TenantID == "" {
		return nil, appErrors.NewValidation("tenant id is required")
	}
	space := filter.Space
	if space == "" {
		space = ports.DefaultSpace
	}

	s.mu.RLock()
	var out []ports.VectorMatch
	for _, rec := range s.records {
		if !matchesFilter(rec, filter) {
			continue
		}
		vec, ok := rec.Vectors[space]
		if !ok || len(vec) != len(vector) {
			continue
		}
		out = append(out, ports.VectorMatch{ID: rec.ID, Score: cosine01(vector, vec)})
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *Store) SearchBatch(ctx context.Context, vectors [][]float32, k int, filter ports.VectorFilter) ([][]ports.VectorMatch, error) {
	out := make([][]ports.VectorMatch, len(vectors))
	for i, vec := range vectors {
		matches, err := s.Search(ctx, vec, k, filter)
		if err != nil {
			return nil, err
		}
		out[i] = matches
	}
	return out, nil
}

func (s *Store) DeleteByTenant(ctx context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, rec := range s.records {
		if rec.TenantID == tenantID {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func matchesFilter(rec *ports.VectorRecord, f ports.VectorFilter) bool {
	if rec.TenantID != f.TenantID {
		return false
	}
	if f.Project != "" && rec.Project != f.Project {
		return false
	}
	if f.AgentID != "" && rec.AgentID != f.AgentID {
		return false
	}
	if f.SessionID != "" && rec.SessionID != f.SessionID {
		return false
	}
	if len(f.Layers) > 0 {
		found := false
		for _, l := range f.Layers {
			if rec.Layer == l {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// cosine01 maps cosine similarity from [-1,1] to [0,1].
func cosine01(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return (cos + 1) / 2
}
