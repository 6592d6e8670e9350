package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/services"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/interfaces/http/rest/middleware"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/observability"
)

// MemoryHandler serves the memory ingest, query, and statistics endpoints.
type MemoryHandler struct {
	engine    *services.Engine
	collector *observability.Collector
	logger    *zap.Logger
}

// NewMemoryHandler creates the handler. The collector may be nil.
func NewMemoryHandler(engine *services.Engine, collector *observability.Collector, logger *zap.Logger) *MemoryHandler {
	if engine == nil {
		panic("handlers: engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryHandler{engine: engine, collector: collector, logger: logger.Named("memory_handler")}
}

// StoreMemoryRequest is the ingest request body. The tenant comes from the
// X-Tenant-ID header, never from the body.
type StoreMemoryRequest struct {
	Project    string         `json:"project,omitempty"`
	AgentID    string         `json:"agent_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Content    string         `json:"content" validate:"required"`
	Source     string         `json:"source,omitempty"`
	MemoryType string         `json:"memory_type,omitempty"`
	InfoClass  string         `json:"info_class,omitempty"`
	Tags       []string       `json:"tags,omitempty" validate:"omitempty,max=32,dive,max=64"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Provenance map[string]any `json:"provenance,omitempty"`

	Importance *float64 `json:"importance,omitempty" validate:"omitempty,gte=0,lte=1"`
	Layer      string   `json:"layer,omitempty"`
	TTLSeconds int64    `json:"ttl_seconds,omitempty" validate:"gte=0"`

	Governance *memory.GovernanceSignals `json:"governance,omitempty"`
}

// StoreMemoryResponse echoes the id of the stored record.
type StoreMemoryResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Store handles POST /api/v1/memories.
func (h *MemoryHandler) Store(w http.ResponseWriter, r *http.Request) {
	var body StoreMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(body); err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "validation error: "+err.Error())
		return
	}

	req := &memory.StoreRequest{
		TenantID:   middleware.TenantFromContext(r.Context()),
		Project:    body.Project,
		AgentID:    body.AgentID,
		SessionID:  body.SessionID,
		Content:    body.Content,
		Source:     body.Source,
		MemoryType: memory.MemoryType(body.MemoryType),
		InfoClass:  memory.InfoClass(body.InfoClass),
		Tags:       body.Tags,
		Metadata:   body.Metadata,
		Provenance: body.Provenance,
		Importance: body.Importance,
		TTL:        time.Duration(body.TTLSeconds) * time.Second,
		Governance: body.Governance,
	}
	if body.Layer != "" {
		layer := memory.Layer(body.Layer)
		req.Layer = &layer
	}

	id, err := h.engine.Store(r.Context(), req)
	if err != nil {
		h.logger.Warn("store failed",
			zap.String("tenant_id", req.TenantID), zap.Error(err))
		respondAppError(h.logger, w, err)
		return
	}
	if h.collector != nil {
		layer := "auto"
		if req.Layer != nil {
			layer = string(*req.Layer)
		}
		h.collector.MemoriesStored.WithLabelValues(layer).Inc()
	}
	respondJSON(h.logger, w, http.StatusCreated, StoreMemoryResponse{
		ID:        id,
		CreatedAt: time.Now().UTC(),
	})
}

// QueryMemoriesRequest is the hybrid query request body.
type QueryMemoriesRequest struct {
	Project   string `json:"project,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	Query string `json:"query" validate:"required"`
	TopK  int    `json:"top_k,omitempty" validate:"gte=0,lte=100"`

	Layers     []string           `json:"layers,omitempty"`
	Strategies []string           `json:"strategies,omitempty"`
	Weights    map[string]float64 `json:"weights,omitempty"`

	Temporal      *TemporalFilter `json:"temporal,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
	MinImportance float64         `json:"min_importance,omitempty" validate:"gte=0,lte=1"`
	GraphDepth    int             `json:"graph_depth,omitempty" validate:"gte=0,lte=5"`

	History []string `json:"history,omitempty"`
	Rerank  bool     `json:"rerank,omitempty"`
}

// TemporalFilter bounds results by creation time. Either side may be open.
type TemporalFilter struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// Query handles POST /api/v1/memories/query.
func (h *MemoryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var body QueryMemoriesRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(body); err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "validation error: "+err.Error())
		return
	}

	req := &memory.QueryRequest{
		TenantID:      middleware.TenantFromContext(r.Context()),
		Project:       body.Project,
		AgentID:       body.AgentID,
		SessionID:     body.SessionID,
		Query:         body.Query,
		TopK:          body.TopK,
		Tags:          body.Tags,
		MinImportance: body.MinImportance,
		GraphDepth:    body.GraphDepth,
		History:       body.History,
		Rerank:        body.Rerank,
	}
	for _, l := range body.Layers {
		req.Layers = append(req.Layers, memory.Layer(l))
	}
	for _, s := range body.Strategies {
		req.EnabledStrategies = append(req.EnabledStrategies, memory.StrategyName(s))
	}
	if len(body.Weights) > 0 {
		req.ManualWeights = make(memory.StrategyWeights, len(body.Weights))
		for name, weight := range body.Weights {
			req.ManualWeights[memory.StrategyName(name)] = weight
		}
	}
	if body.Temporal != nil {
		req.Temporal = &memory.TimeRange{Start: body.Temporal.Start, End: body.Temporal.End}
	}

	resp, err := h.engine.Query(r.Context(), req)
	if err != nil {
		h.logger.Warn("query failed",
			zap.String("tenant_id", req.TenantID), zap.Error(err))
		if h.collector != nil {
			h.collector.QueriesTotal.WithLabelValues("error").Inc()
		}
		respondAppError(h.logger, w, err)
		return
	}
	if h.collector != nil {
		h.collector.QueriesTotal.WithLabelValues("ok").Inc()
		intent := "unknown"
		if resp.QueryAnalysis != nil {
			intent = string(resp.QueryAnalysis.Intent)
		}
		h.collector.QueryDuration.WithLabelValues(intent).
			Observe(float64(resp.TotalTimeMS) / 1000)
		for name, n := range resp.StrategyCounts {
			h.collector.StrategyHits.WithLabelValues(string(name)).Add(float64(n))
		}
	}
	respondJSON(h.logger, w, http.StatusOK, resp)
}

// Stats handles GET /api/v1/memories/stats.
func (h *MemoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	project := r.URL.Query().Get("project")

	stats, err := h.engine.GetStatistics(r.Context(), tenant, project)
	if err != nil {
		respondAppError(h.logger, w, err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, stats)
}
