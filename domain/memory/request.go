package memory

import (
	"math"
	"time"

	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// StoreRequest carries everything needed to ingest one fragment. Optional
// fields use pointers or zero values; unknown fields are rejected at the
// HTTP edge before this struct is built.
type StoreRequest struct {
	TenantID   string
	Project    string
	AgentID    string
	SessionID  string
	Content    string
	Source     string
	MemoryType MemoryType
	InfoClass  InfoClass
	Tags       []string
	Metadata   map[string]any
	Provenance map[string]any

	// Importance overrides the 0.5 default when set.
	Importance *float64
	// Layer pins the target layer; when nil the engine chooses one from
	// the importance heuristic.
	Layer *Layer
	// TTL, when positive, sets expires_at = created_at + TTL.
	TTL time.Duration
	// Governance carries caller-supplied risk signals (see governance.go).
	Governance *GovernanceSignals
}

// Validate checks request-level constraints that do not need a constructed
// record.
func (r *StoreRequest) Validate() error {
	if r.TenantID == "" {
		return appErrors.NewValidation("tenant id is required")
	}
	if r.Content == "" {
		return appErrors.NewValidation("content must not be empty")
	}
	if r.Importance != nil && (*r.Importance < 0 || *r.Importance > 1) {
		return appErrors.NewValidation("importance must be in [0,1]")
	}
	if r.Layer != nil && !r.Layer.Valid() {
		return appErrors.NewValidation("unknown layer: " + string(*r.Layer))
	}
	if r.TTL < 0 {
		return appErrors.NewValidation("ttl must not be negative")
	}
	return nil
}

// StrategyName identifies one retrieval producer.
type StrategyName string

const (
	StrategyDense       StrategyName = "dense"
	StrategyMultiVector StrategyName = "multi_vector"
	StrategySparse      StrategyName = "sparse"
	StrategyAnchor      StrategyName = "anchor"
	StrategyGraph       StrategyName = "graph"
)

// StrategyWeights maps strategy names to fusion weights.
type StrategyWeights map[StrategyName]float64

// weightSumTolerance bounds how far manual weights may drift from 1.0.
const weightSumTolerance = 0.01

// Validate checks that manual weights sum to 1.0 within tolerance.
func (w StrategyWeights) Validate() error {
	if len(w) == 0 {
		return nil
	}
	var sum float64
	for _, v := range w {
		if v < 0 {
			return appErrors.NewValidation("strategy weights must not be negative")
		}
		sum += v
	}
	if math.Abs(sum-1.0) > weightSumTolerance {
		return appErrors.NewValidation("manual strategy weights must sum to 1.0")
	}
	return nil
}

// TimeRange filters memories by creation time. Zero bounds are open.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// QueryRequest is the typed query record of the engine.
type QueryRequest struct {
	TenantID  string
	Project   string
	AgentID   string
	SessionID string
	Query     string
	TopK      int

	// Layers restricts the search; empty means every searchable layer.
	Layers []Layer

	// EnabledStrategies lists the producers to run; empty enables all.
	EnabledStrategies []StrategyName
	// ManualWeights overrides the intent-derived weights when non-empty.
	ManualWeights StrategyWeights

	Temporal      *TimeRange
	Tags          []string
	MinImportance float64
	GraphDepth    int

	// History is optional prior conversation turns used for intent
	// disambiguation.
	History []string

	// Rerank enables the LLM re-ranker; RerankModel optionally pins a model.
	Rerank      bool
	RerankModel string
}

// Validate checks the query record.
func (q *QueryRequest) Validate() error {
	if q.TenantID == "" {
		return appErrors.NewValidation("tenant id is required")
	}
	if q.Query == "" {
		return appErrors.NewValidation("query text must not be empty")
	}
	if q.TopK < 0 {
		return appErrors.NewValidation("top-k must not be negative")
	}
	if q.MinImportance < 0 || q.MinImportance > 1 {
		return appErrors.NewValidation("min importance must be in [0,1]")
	}
	for _, l := range q.Layers {
		if !l.Valid() {
			return appErrors.NewValidation("unknown layer: " + string(l))
		}
	}
	if err := q.ManualWeights.Validate(); err != nil {
		return err
	}
	return nil
}

// ScoreBreakdown is attached to every returned result.
type ScoreBreakdown struct {
	MemoryID       string  `json:"memory_id"`
	Final          float64 `json:"final"`
	Similarity     float64 `json:"similarity"`
	Importance     float64 `json:"importance"`
	Recency        float64 `json:"recency"`
	EffectiveDecay float64 `json:"effective_decay"`
	AgeSeconds     float64 `json:"age_seconds"`
}

// SearchResult is one ranked entry in a query response.
type SearchResult struct {
	Memory     *Memory        `json:"memory"`
	Rank       int            `json:"rank"`
	FinalScore float64        `json:"final_score"`
	Breakdown  ScoreBreakdown `json:"score_breakdown"`
}

// QueryIntent classifies what kind of retrieval the query wants.
type QueryIntent string

const (
	IntentFactualLookup  QueryIntent = "factual_lookup"
	IntentTemporal       QueryIntent = "temporal_query"
	IntentExploratory    QueryIntent = "exploratory"
	IntentConversational QueryIntent = "conversational"
)

// IntentAnalysis records how the query was interpreted and which weights
// were recommended. It is echoed in the response for observability.
type IntentAnalysis struct {
	Intent          QueryIntent     `json:"intent"`
	Entities        []string        `json:"entities,omitempty"`
	Concepts        []string        `json:"concepts,omitempty"`
	TemporalMarkers []string        `json:"temporal_markers,omitempty"`
	RelationTypes   []string        `json:"relation_types,omitempty"`
	Recommended     StrategyWeights `json:"recommended_weights"`
}

// QueryResponse is the structured result of a hybrid query.
type QueryResponse struct {
	Results        []SearchResult       `json:"results"`
	TotalResults   int                  `json:"total_results"`
	TotalTimeMS    int64                `json:"total_time_ms"`
	AppliedWeights StrategyWeights      `json:"applied_weights"`
	QueryAnalysis  *IntentAnalysis      `json:"query_analysis,omitempty"`
	StrategyCounts map[StrategyName]int `json:"strategy_counts"`
	RerankingUsed  bool                 `json:"reranking_used"`
	Cancelled      bool                 `json:"cancelled,omitempty"`
}
