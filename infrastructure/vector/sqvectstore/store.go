// Package sqvectstore backs the vector port with an embedded SQLite vector
// database via sqvect. It serves single-node deployments where running
// PostgreSQL with pgvector is not worth the operational weight.
package sqvectstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/liliang-cn/sqvect/v2/pkg/core"
	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// overFetch compensates for the layer post-filter, which sqvect's exact-match
// metadata filter cannot express as an OR.
const overFetch = 4

// Store implements ports.VectorStore on a core.SQLiteStore. Each named space
// maps to a sqvect collection; each (record, space) pair is one row whose
// DocID groups the record's rows for lookup and cascade deletion.
type Store struct {
	db     *core.SQLiteStore
	logger *zap.Logger
}

var _ ports.VectorStore = (*Store)(nil)

// New opens (or creates) the database file at path. dimension may be zero to
// auto-detect from the first insert.
func New(ctx context.Context, path string, dimension int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := core.DefaultConfig()
	cfg.Path = path
	cfg.VectorDim = dimension
	db, err := core.NewWithConfig(cfg)
	if err != nil {
		return nil, appErrors.Wrap(err, "sqvect: open store")
	}
	if err := db.Init(ctx); err != nil {
		db.Close()
		return nil, appErrors.Wrap(err, "sqvect: init store")
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func docID(tenantID, id string) string {
	return tenantID + "/" + id
}

func rowID(tenantID, id, space string) string {
	return tenantID + "/" + id + "@" + space
}

func rowMetadata(rec ports.VectorRecord) map[string]string {
	meta := map[string]string{
		"memory_id": rec.ID,
		"tenant_id": rec.TenantID,
		"layer":     string(rec.Layer),
	}
	if rec.Project != "" {
		meta["project"] = rec.Project
	}
	if rec.AgentID != "" {
		meta["agent_id"] = rec.AgentID
	}
	if rec.SessionID != "" {
		meta["session_id"] = rec.SessionID
	}
	for k, v := range rec.Metadata {
		if _, reserved := meta[k]; !reserved {
			meta[k] = fmt.Sprint(v)
		}
	}
	return meta
}

func (s *Store) Upsert(ctx context.Context, rec ports.VectorRecord) error {
	if rec.ID == "" || rec.TenantID == "" {
		return appErrors.NewValidation("sqvect: record requires id and tenant id")
	}
	if len(rec.Vectors) == 0 {
		return appErrors.NewValidation("sqvect: record requires at least one vector")
	}
	meta := rowMetadata(rec)
	for space, vec := range rec.Vectors {
		if space == "" {
			space = ports.DefaultSpace
		}
		emb := &core.Embedding{
			ID:         rowID(rec.TenantID, rec.ID, space),
			Collection: space,
			Vector:     vec,
			DocID:      docID(rec.TenantID, rec.ID),
			Metadata:   meta,
		}
		if err := s.db.Upsert(ctx, emb); err != nil {
			return appErrors.Wrap(err, "sqvect: upsert "+space)
		}
	}
	return nil
}

func (s *Store) UpsertBatch(ctx context.Context, recs []ports.VectorRecord) error {
	var embs []*core.Embedding
	for _, rec := range recs {
		if rec.ID == "" || rec.TenantID == "" {
			return appErrors.NewValidation("sqvect: record requires id and tenant id")
		}
		meta := rowMetadata(rec)
		for space, vec := range rec.Vectors {
			if space == "" {
				space = ports.DefaultSpace
			}
			embs = append(embs, &core.Embedding{
				ID:         rowID(rec.TenantID, rec.ID, space),
				Collection: space,
				Vector:     vec,
				DocID:      docID(rec.TenantID, rec.ID),
				Metadata:   meta,
			})
		}
	}
	if len(embs) == 0 {
		return nil
	}
	if err := s.db.UpsertBatch(ctx, embs); err != nil {
		return appErrors.Wrap(err, "sqvect: upsert batch")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, tenantID, id string) (*ports.VectorRecord, error) {
	rows, err := s.db.GetByDocID(ctx, docID(tenantID, id))
	if err != nil {
		return nil, appErrors.Wrap(err, "sqvect: get by doc")
	}
	if len(rows) == 0 {
		return nil, appErrors.NewNotFound("vector not found: " + id)
	}

	rec := &ports.VectorRecord{ID: id, TenantID: tenantID, Vectors: make(map[string][]float32)}
	for _, emb := range rows {
		space := emb.Collection
		if space == "" {
			// Fall back to the row id suffix for stores created before
			// collections were in use.
			if at := strings.LastIndex(emb.ID, "@"); at >= 0 {
				space = emb.ID[at+1:]
			} else {
				space = ports.DefaultSpace
			}
		}
		rec.Vectors[space] = emb.Vector
		rec.Project = emb.Metadata["project"]
		rec.AgentID = emb.Metadata["agent_id"]
		rec.SessionID = emb.Metadata["session_id"]
		rec.Layer = memory.Layer(emb.Metadata["layer"])
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, tenantID, id string) error {
	rows, err := s.db.GetByDocID(ctx, docID(tenantID, id))
	if err != nil {
		return appErrors.Wrap(err, "sqvect: lookup for delete")
	}
	if len(rows) == 0 {
		return appErrors.NewNotFound("vector not found: " + id)
	}
	if err := s.db.DeleteByDocID(ctx, docID(tenantID, id)); err != nil {
		return appErrors.Wrap(err, "sqvect: delete")
	}
	return nil
}

func (s *Store) Search(ctx context.Context, vector []float32, k int, filter ports.VectorFilter) ([]ports.VectorMatch, error) {
	if filter.TenantID == "" {
		return nil, appErrors.NewValidation("sqvect: tenant id is required")
	}
	if k <= 0 {
		k = 10
	}
	space := filter.Space
	if space == "" {
		space = ports.DefaultSpace
	}

	exact := map[string]string{"tenant_id": filter.TenantID}
	if filter.Project != "" {
		exact["project"] = filter.Project
	}
	if filter.AgentID != "" {
		exact["agent_id"] = filter.AgentID
	}
	if filter.SessionID != "" {
		exact["session_id"] = filter.SessionID
	}
	if len(filter.Layers) == 1 {
		exact["layer"] = string(filter.Layers[0])
	}

	topK := k
	if len(filter.Layers) > 1 {
		topK = k * overFetch
	}
	results, err := s.db.Search(ctx, vector, core.SearchOptions{
		Collection: space,
		TopK:       topK,
		Filter:     exact,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "sqvect: search")
	}

	allowed := make(map[memory.Layer]bool, len(filter.Layers))
	for _, l := range filter.Layers {
		allowed[l] = true
	}

	matches := make([]ports.VectorMatch, 0, k)
	for _, r := range results {
		if len(filter.Layers) > 1 && !allowed[memory.Layer(r.Metadata["layer"])] {
			continue
		}
		matches = append(matches, ports.VectorMatch{
			ID:    r.Metadata["memory_id"],
			Score: normalizeScore(r.Score),
		})
		if len(matches) == k {
			break
		}
	}
	return matches, nil
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

// EnsureSpace creates the collection when missing. sqvect adapts dimensions
// per collection, so a dimension change does not require a rebuild here.
func (s *Store) EnsureSpace(ctx context.Context, space string, dimension int) error {
	if space == "" {
		space = ports.DefaultSpace
	}
	if _, err := s.db.GetCollection(ctx, space); err == nil {
		return nil
	}
	if _, err := s.db.CreateCollection(ctx, space, dimension); err != nil {
		return appErrors.Wrap(err, "sqvect: create collection")
	}
	return nil
}

func (s *Store) DeleteByTenant(ctx context.Context, tenantID string) (int, error) {
	docs, err := s.db.ListDocuments(ctx)
	if err != nil {
		return 0, appErrors.Wrap(err, "sqvect: list documents")
	}
	prefix := tenantID + "/"
	var victims []string
	for _, doc := range docs {
		if strings.HasPrefix(doc, prefix) {
			victims = append(victims, doc)
		}
	}
	if len(victims) == 0 {
		return 0, nil
	}
	if err := s.db.ClearByDocID(ctx, victims); err != nil {
		return 0, appErrors.Wrap(err, "sqvect: clear tenant")
	}
	return len(victims), nil
}

// normalizeScore folds sqvect's cosine similarity in [-1,1] onto [0,1].
func normalizeScore(score float64) float64 {
	n := (score + 1) / 2
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}
