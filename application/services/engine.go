// Package services hosts the engine facade, the context builder, and the
// information-bottleneck selector. The facade is the single entry point for
// callers: it owns no state beyond adapter handles and every operation is
// re-entrant.
package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/layers"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/search"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/graph"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// Reflector generates reflections for a tenant/project pair. Implemented by
// the dreaming worker's reflection engine.
type Reflector interface {
	Reflect(ctx context.Context, tenantID, project string) ([]string, error)
}

// Eraser removes every memory a subject contributed and cleans the audit
// trail. Implemented by the retention worker.
type Eraser interface {
	Erase(ctx context.Context, tenantID, source, actor string) (int, error)
}

// EngineConfig carries the facade's tunables.
type EngineConfig struct {
	// LongTermImportance is the importance at or above which an unpinned
	// store request lands directly in the episodic layer.
	LongTermImportance float64
	// ExtractGraph enables entity extraction and graph writes on store.
	ExtractGraph bool
}

// DefaultEngineConfig returns the standard facade policy.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		LongTermImportance: 0.7,
		ExtractGraph:       false,
	}
}

// Engine coordinates the layers, search pipeline, and adapters.
type Engine struct {
	cfg        EngineConfig
	store      ports.MemoryStore
	vectors    ports.VectorStore
	graphs     ports.GraphStore
	embedder   ports.EmbeddingProvider
	llm        ports.LLMProvider
	searcher   *search.HybridSearcher
	sensory    *layers.SensoryLayer
	working    *layers.WorkingLayer
	longTerm   *layers.LongTermLayer
	reflective *layers.ReflectiveLayer
	reflector  Reflector
	eraser     Eraser
	logger     *zap.Logger
}

// EngineDeps bundles the adapter handles the facade needs.
type EngineDeps struct {
	Store      ports.MemoryStore
	Vectors    ports.VectorStore
	Graphs     ports.GraphStore
	Embedder   ports.EmbeddingProvider
	LLM        ports.LLMProvider
	Searcher   *search.HybridSearcher
	Sensory    *layers.SensoryLayer
	Working    *layers.WorkingLayer
	LongTerm   *layers.LongTermLayer
	Reflective *layers.ReflectiveLayer
	Reflector  Reflector
	Eraser     Eraser
	Logger     *zap.Logger
}

// NewEngine wires the facade. Graphs, LLM, Reflector, and Eraser may be
// nil; the corresponding features degrade gracefully.
func NewEngine(cfg EngineConfig, deps EngineDeps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LongTermImportance <= 0 {
		cfg.LongTermImportance = DefaultEngineConfig().LongTermImportance
	}
	return &Engine{
		cfg:        cfg,
		store:      deps.Store,
		vectors:    deps.Vectors,
		graphs:     deps.Graphs,
		embedder:   deps.Embedder,
		llm:        deps.LLM,
		searcher:   deps.Searcher,
		sensory:    deps.Sensory,
		working:    deps.Working,
		longTerm:   deps.LongTerm,
		reflective: deps.Reflective,
		reflector:  deps.Reflector,
		eraser:     deps.Eraser,
		logger:     logger,
	}
}

// Store validates and ingests one fragment, assigns a layer when the caller
// did not pin one, persists the record plus its embedding, and optionally
// extracts graph triples. Returns the new record id.
func (e *Engine) Store(ctx context.Context, req *memory.StoreRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	m := memory.New(uuid.NewString(), req.TenantID, req.Project, req.Content, req.Source)
	m.AgentID = req.AgentID
	m.SessionID = req.SessionID
	if req.MemoryType != "" {
		m.MemoryType = req.MemoryType
	}
	if req.InfoClass != "" {
		m.InfoClass = req.InfoClass
	}
	if req.Importance != nil {
		m.Importance = *req.Importance
	}
	m.Tags = append([]string(nil), req.Tags...)
	m.Metadata = req.Metadata
	m.Provenance = req.Provenance
	if req.TTL > 0 {
		exp := m.CreatedAt.Add(req.TTL)
		m.ExpiresAt = &exp
	}
	if req.Layer != nil {
		m.Layer = *req.Layer
	} else {
		m.Layer = e.assignLayer(m.Importance)
	}
	if req.Governance != nil {
		memory.ApplyGovernanceTags(m, req.Governance)
	}
	if err := m.Validate(); err != nil {
		return "", err
	}

	if m.Layer == memory.LayerSensory {
		return e.sensory.Add(ctx, m)
	}

	id, err := e.store.Store(ctx, m)
	if err != nil {
		return "", err
	}
	e.indexVector(ctx, m)
	if e.cfg.ExtractGraph && e.graphs != nil && e.llm != nil {
		e.extractGraph(ctx, m)
	}
	return id, nil
}

// assignLayer maps importance to a layer for unpinned writes.
func (e *Engine) assignLayer(importance float64) memory.Layer {
	if importance >= e.cfg.LongTermImportance {
		return memory.LayerEpisodic
	}
	return memory.LayerWorking
}

// indexVector embeds the content and upserts it. A vector failure degrades
// retrieval but never loses the record, so it is logged and swallowed.
func (e *Engine) indexVector(ctx context.Context, m *memory.Memory) {
	if e.vectors == nil || e.embedder == nil {
		return
	}
	vec, err := e.embedder.EmbedText(ctx, m.Content, ports.TaskSearchDocument)
	if err != nil {
		e.logger.Warn("embedding failed, record stored without vector",
			zap.String("memory_id", m.ID), zap.Error(err))
		return
	}
	err = e.vectors.Upsert(ctx, ports.VectorRecord{
		ID:        m.ID,
		TenantID:  m.TenantID,
		Project:   m.Project,
		AgentID:   m.AgentID,
		SessionID: m.SessionID,
		Layer:     m.Layer,
		Vectors:   map[string][]float32{ports.DefaultSpace: vec},
	})
	if err != nil {
		e.logger.Warn("vector upsert failed",
			zap.String("memory_id", m.ID), zap.Error(err))
		return
	}
	if err := e.store.SaveEmbedding(ctx, m.TenantID, m.ID, ports.DefaultSpace, vec); err != nil {
		e.logger.Warn("failed to attach embedding to record",
			zap.String("memory_id", m.ID), zap.Error(err))
	}
}

// extractGraph turns extracted entities into nodes plus co-occurrence
// edges anchored on the memory node.
func (e *Engine) extractGraph(ctx context.Context, m *memory.Memory) {
	entities, err := e.llm.ExtractEntities(ctx, m.Content)
	if err != nil || len(entities) == 0 {
		if err != nil {
			e.logger.Warn("entity extraction failed",
				zap.String("memory_id", m.ID), zap.Error(err))
		}
		return
	}
	memNode := graph.Node{ID: m.ID, TenantID: m.TenantID, Label: "memory"}
	if err := e.graphs.CreateNode(ctx, memNode); err != nil {
		e.logger.Warn("graph node write failed", zap.String("memory_id", m.ID), zap.Error(err))
		return
	}
	for _, ent := range entities {
		node := graph.Node{
			ID:       "entity:" + ent.Text,
			TenantID: m.TenantID,
			Label:    ent.Type,
		}
		if err := e.graphs.CreateNode(ctx, node); err != nil {
			e.logger.Warn("graph node write failed", zap.String("entity", ent.Text), zap.Error(err))
			continue
		}
		edge := graph.Edge{
			SourceID: m.ID,
			TargetID: node.ID,
			Relation: "mentions",
			Weight:   clamp01(ent.Confidence),
			TenantID: m.TenantID,
		}
		if err := e.graphs.CreateEdge(ctx, edge); err != nil {
			e.logger.Warn("graph edge write failed", zap.String("entity", ent.Text), zap.Error(err))
		}
	}
}

// Query runs the hybrid retrieval pipeline.
func (e *Engine) Query(ctx context.Context, req *memory.QueryRequest) (*memory.QueryResponse, error) {
	return e.searcher.Search(ctx, req)
}

// ConsolidationReport summarizes one consolidation pass.
type ConsolidationReport struct {
	SensoryPromoted int      `json:"sensory_promoted"`
	WorkingPromoted int      `json:"working_promoted"`
	Merged          []string `json:"merged_ids"`
	LongTermSwept   int      `json:"long_term_swept"`
}

// Consolidate runs a best-effort pass across the hierarchy: sensory items
// promote to working, working items promote and merge into long-term, and
// the long-term floor sweep runs. Step failures are logged, not fatal.
func (e *Engine) Consolidate(ctx context.Context, tenantID, project string) (*ConsolidationReport, error) {
	if tenantID == "" {
		return nil, appErrors.NewValidation("tenant id is required")
	}
	report := &ConsolidationReport{}

	if promoted, err := e.sensory.Promote(ctx, tenantID); err != nil {
		e.logger.Warn("sensory promotion failed", zap.Error(err))
	} else {
		report.SensoryPromoted = len(promoted)
	}
	if promoted, err := e.working.Promote(ctx, tenantID); err != nil {
		e.logger.Warn("working promotion failed", zap.Error(err))
	} else {
		report.WorkingPromoted = len(promoted)
	}
	if merged, err := e.working.Consolidate(ctx, tenantID, project); err != nil {
		e.logger.Warn("working consolidation failed", zap.Error(err))
	} else {
		report.Merged = merged
		for _, id := range merged {
			if m, err := e.store.Get(ctx, tenantID, id); err == nil {
				e.indexVector(ctx, m)
			}
		}
	}
	if swept, err := e.longTerm.Cleanup(ctx, tenantID); err != nil {
		e.logger.Warn("long-term sweep failed", zap.Error(err))
	} else {
		report.LongTermSwept = swept
	}
	return report, nil
}

// GenerateReflections delegates to the reflection engine.
func (e *Engine) GenerateReflections(ctx context.Context, tenantID, project string) ([]string, error) {
	if e.reflector == nil {
		return nil, appErrors.NewUnavailable("reflection engine is not configured", nil)
	}
	return e.reflector.Reflect(ctx, tenantID, project)
}

// EraseUserData removes every memory whose source matches the subject and
// pseudonymizes the subject in the audit trail. Returns the deleted count.
func (e *Engine) EraseUserData(ctx context.Context, tenantID, source, actor string) (int, error) {
	if e.eraser == nil {
		return 0, appErrors.NewUnavailable("erasure is not configured", nil)
	}
	if tenantID == "" {
		return 0, appErrors.NewValidation("tenant id is required")
	}
	if source == "" {
		return 0, appErrors.NewValidation("erasure source is required")
	}
	return e.eraser.Erase(ctx, tenantID, source, actor)
}

// Statistics summarizes a tenant's memory population.
type Statistics struct {
	TenantID      string               `json:"tenant_id"`
	Project       string               `json:"project,omitempty"`
	Total         int                  `json:"total"`
	ByLayer       map[memory.Layer]int `json:"by_layer"`
	AvgImportance float64              `json:"avg_importance"`
	MaxImportance float64              `json:"max_importance"`
	TopAccessed   []*memory.Memory     `json:"top_accessed"`
	GeneratedAt   time.Time            `json:"generated_at"`
}

// GetStatistics computes per-layer counts, importance aggregates, and the
// most accessed records.
func (e *Engine) GetStatistics(ctx context.Context, tenantID, project string) (*Statistics, error) {
	if tenantID == "" {
		return nil, appErrors.NewValidation("tenant id is required")
	}
	stats := &Statistics{
		TenantID:    tenantID,
		Project:     project,
		ByLayer:     make(map[memory.Layer]int),
		GeneratedAt: time.Now().UTC(),
	}

	for _, layer := range []memory.Layer{
		memory.LayerWorking, memory.LayerEpisodic, memory.LayerSemantic, memory.LayerReflective,
	} {
		n, err := e.store.Count(ctx, ports.ListFilter{
			TenantID: tenantID,
			Project:  project,
			Layers:   []memory.Layer{layer},
		})
		if err != nil {
			return nil, appErrors.Wrap(err, "statistics: layer count")
		}
		stats.ByLayer[layer] = n
		stats.Total += n
	}
	if n, err := e.sensory.Count(ctx, tenantID); err == nil {
		stats.ByLayer[memory.LayerSensory] = n
	}

	filter := ports.ListFilter{TenantID: tenantID, Project: project}
	if avg, err := e.store.Aggregate(ctx, filter, "importance", ports.AggregateAvg); err == nil {
		stats.AvgImportance = avg
	}
	if max, err := e.store.Aggregate(ctx, filter, "importance", ports.AggregateMax); err == nil {
		stats.MaxImportance = max
	}

	top, err := e.store.List(ctx, ports.ListFilter{
		TenantID:   tenantID,
		Project:    project,
		OrderBy:    "access_count",
		Descending: true,
		Limit:      5,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "statistics: top accessed")
	}
	stats.TopAccessed = top
	return stats, nil
}

// ClearReport counts what a tenant wipe removed per backend.
type ClearReport struct {
	Memories int `json:"memories"`
	Vectors  int `json:"vectors"`
	Graph    int `json:"graph"`
}

// Clear deletes every memory, vector, and graph fragment for the tenant.
// Backend failures abort the wipe so callers can retry.
func (e *Engine) Clear(ctx context.Context, tenantID string) (*ClearReport, error) {
	if tenantID == "" {
		return nil, appErrors.NewValidation("tenant id is required")
	}
	report := &ClearReport{}

	n, err := e.store.ClearTenant(ctx, tenantID)
	if err != nil {
		return nil, appErrors.Wrap(err, "clear: memory store")
	}
	report.Memories = n

	if e.vectors != nil {
		n, err = e.vectors.DeleteByTenant(ctx, tenantID)
		if err != nil {
			return nil, appErrors.Wrap(err, "clear: vector store")
		}
		report.Vectors = n
	}
	if e.graphs != nil {
		n, err = e.graphs.DeleteByTenant(ctx, tenantID)
		if err != nil {
			return nil, appErrors.Wrap(err, "clear: graph store")
		}
		report.Graph = n
	}
	return report, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
