// Package ports declares the capability interfaces the engine consumes.
// Implementations live under infrastructure/ and may be backed by remote
// databases, embedded stores, or in-memory structures. Every implementation
// must be safe for concurrent use; no operation may assume single-threaded
// access.
package ports

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/graph"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
)

// ListFilter narrows storage queries. All non-zero fields are AND
// conditions. Every storage call is tenant-scoped: TenantID is required.
type ListFilter struct {
	TenantID  string
	Project   string
	AgentID   string
	SessionID string
	Source    string
	Layers    []memory.Layer
	Tags      []string
	// Metadata requires exact matches on the given keys.
	Metadata map[string]any

	MinImportance float64
	CreatedAfter  time.Time
	CreatedBefore time.Time

	// OrderBy names a sortable field: created_at, modified_at,
	// last_accessed_at, importance, access_count. Empty means created_at.
	OrderBy    string
	Descending bool
	Limit      int
	Offset     int
}

// FullTextMatch is one scored row from a full-text search.
type FullTextMatch struct {
	Memory *memory.Memory
	Score  float64
}

// AggregateOp selects the aggregation applied by MemoryStore.Aggregate.
type AggregateOp string

const (
	AggregateAvg   AggregateOp = "avg"
	AggregateSum   AggregateOp = "sum"
	AggregateMin   AggregateOp = "min"
	AggregateMax   AggregateOp = "max"
	AggregateCount AggregateOp = "count"
)

// MemoryStore is the durable record store. Operations on a record that
// exists under a different tenant fail with a not-found error; record
// existence never leaks across tenants.
//
// Mutations other than TouchAccess bump the record version and modified_at.
// TouchAccess only increases access_count and last_accessed_at, which are
// monotonic.
type MemoryStore interface {
	// Store persists a validated record and returns its id.
	Store(ctx context.Context, m *memory.Memory) (string, error)
	Get(ctx context.Context, tenantID, id string) (*memory.Memory, error)
	// GetBatch returns the records that exist, skipping missing ids.
	GetBatch(ctx context.Context, tenantID string, ids []string) ([]*memory.Memory, error)
	// Update applies a partial field map (content, importance, strength,
	// layer, tags, metadata, expires_at, usage_count) and bumps version.
	Update(ctx context.Context, tenantID, id string, fields map[string]any) (*memory.Memory, error)
	Delete(ctx context.Context, tenantID, id string) error

	List(ctx context.Context, filter ListFilter) ([]*memory.Memory, error)
	Count(ctx context.Context, filter ListFilter) (int, error)

	// FullTextSearch performs token-based scored matching over content.
	// exactPhrase requires the query to appear verbatim (case-insensitive).
	FullTextSearch(ctx context.Context, query string, exactPhrase bool, filter ListFilter) ([]FullTextMatch, error)

	DeleteByMetadata(ctx context.Context, tenantID string, metadata map[string]any) (int, error)
	DeleteBelowImportance(ctx context.Context, tenantID string, threshold float64, layers []memory.Layer) (int, error)
	DeleteExpired(ctx context.Context, tenantID string, now time.Time) (int, error)

	TouchAccess(ctx context.Context, tenantID, id string) error
	TouchAccessBatch(ctx context.Context, tenantID string, ids []string) error

	// AdjustImportance adds delta to importance, clamped to [0,1].
	AdjustImportance(ctx context.Context, tenantID, id string, delta float64) error
	// DecayImportance multiplies importance by factor for every record in
	// the tenant outside the exempt layers, flooring the result.
	DecayImportance(ctx context.Context, tenantID string, factor float64, exempt []memory.Layer, floor float64) (int, error)

	// SaveEmbedding attaches a vector in a named space to the record.
	SaveEmbedding(ctx context.Context, tenantID, id, space string, vector []float32) error

	Aggregate(ctx context.Context, filter ListFilter, field string, op AggregateOp) (float64, error)

	// ClearTenant removes every record for the tenant and reports how many.
	ClearTenant(ctx context.Context, tenantID string) (int, error)
}

// DefaultSpace is the primary named vector space.
const DefaultSpace = "default"

// VectorRecord is one entry in the vector store, carrying one or more
// named-space vectors plus the filterable attributes.
type VectorRecord struct {
	ID        string
	TenantID  string
	Project   string
	AgentID   string
	SessionID string
	Layer     memory.Layer
	// Vectors maps space name to embedding. Writes to distinct spaces are
	// independent: a failed add to one space does not invalidate others.
	Vectors  map[string][]float32
	Metadata map[string]any
}

// VectorFilter narrows a similarity search.
type VectorFilter struct {
	TenantID  string
	Project   string
	AgentID   string
	SessionID string
	Layers    []memory.Layer
	// Space selects the named vector space; empty means DefaultSpace.
	Space string
}

// VectorMatch pairs a record id with its normalized cosine score in [0,1].
type VectorMatch struct {
	ID    string
	Score float64
}

// VectorStore is the similarity-search adapter. Cosine similarity is the
// metric; scores are normalized to [0,1]. On first use of a named space the
// implementation creates the schema; on a dimension change it recreates the
// space. The schema check must be idempotent under concurrent callers.
type VectorStore interface {
	Upsert(ctx context.Context, rec VectorRecord) error
	UpsertBatch(ctx context.Context, recs []VectorRecord) error
	Get(ctx context.Context, tenantID, id string) (*VectorRecord, error)
	Delete(ctx context.Context, tenantID, id string) error

	Search(ctx context.Context, vector []float32, k int, filter VectorFilter) ([]VectorMatch, error)
	// SearchBatch runs many queries against the same filter.
	SearchBatch(ctx context.Context, vectors [][]float32, k int, filter VectorFilter) ([][]VectorMatch, error)

	// EnsureSpace creates or migrates the named space for the dimension.
	EnsureSpace(ctx context.Context, space string, dimension int) error
	DeleteByTenant(ctx context.Context, tenantID string) (int, error)
}

// GraphStore is the tenant-scoped knowledge-graph adapter. Node deletion
// cascades to incident edges.
type GraphStore interface {
	CreateNode(ctx context.Context, n graph.Node) error
	CreateEdge(ctx context.Context, e graph.Edge) error
	GetNode(ctx context.Context, tenantID, nodeID string) (*graph.Node, error)
	// GetNeighbors walks up to depth hops from nodeID following edges in
	// the given direction, optionally restricted to one relation label.
	GetNeighbors(ctx context.Context, tenantID, nodeID string, dir graph.Direction, relation string, depth int) ([]graph.Node, error)
	DeleteNode(ctx context.Context, tenantID, nodeID string) error
	DeleteEdge(ctx context.Context, tenantID, sourceID, targetID, relation string) error
	// ShortestPath returns the node sequence from fromID to toID bounded
	// by maxDepth, or not-found when no path exists within the bound.
	ShortestPath(ctx context.Context, tenantID, fromID, toID string, maxDepth int) ([]graph.Node, error)
	ExtractSubgraph(ctx context.Context, tenantID string, seedIDs []string, depth int) (*graph.Subgraph, error)
	DeleteByTenant(ctx context.Context, tenantID string) (int, error)
}

// Cache is a byte-value cache with best-effort TTL; callers must tolerate
// early expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Clear removes keys matching a glob pattern ("*" and "?" wildcards)
	// and reports how many were removed.
	Clear(ctx context.Context, pattern string) (int, error)
	// GetTTL returns the remaining TTL; ok is false when the key is absent.
	GetTTL(ctx context.Context, key string) (ttl time.Duration, ok bool, err error)
	// SetIfNotExists atomically stores the value only when the key is
	// absent, reporting whether the write happened.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Increment atomically adds delta to a counter key, creating it at
	// zero when absent and preserving any prior TTL.
	Increment(ctx context.Context, key string, delta int64) (int64, error)
	CleanupExpired(ctx context.Context) (int, error)
}

// TaskType hints whether an embedding is for a query or a document, which
// may bias the model toward symmetric or asymmetric similarity.
type TaskType string

const (
	TaskSearchQuery    TaskType = "search_query"
	TaskSearchDocument TaskType = "search_document"
)

// EmbeddingProvider produces fixed-dimension embeddings.
type EmbeddingProvider interface {
	EmbedText(ctx context.Context, text string, task TaskType) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, task TaskType) ([][]float32, error)
	Dimension() int
}

// Message is one chat-formatted turn for GenerateWithContext.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Entity is a single extraction returned by ExtractEntities.
type Entity struct {
	Text       string  `json:"text"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// GenerateOptions tunes a single LLM call.
type GenerateOptions struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	Stop         []string
}

// LLMProvider abstracts the language model used for consolidation,
// summarization, reflection, entity extraction, and re-ranking.
type LLMProvider interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	GenerateWithContext(ctx context.Context, messages []Message, opts GenerateOptions) (string, error)
	CountTokens(ctx context.Context, text string) (int, error)
	SupportsFunctionCalling() bool
	ExtractEntities(ctx context.Context, text string) ([]Entity, error)
	Summarize(ctx context.Context, text string, maxWords int) (string, error)
}

// AuditEntry records one retention or erasure action.
type AuditEntry struct {
	TenantID  string         `json:"tenant_id"`
	DataClass string         `json:"data_class"`
	Reason    string         `json:"reason"`
	Count     int            `json:"deleted_count"`
	Actor     string         `json:"actor"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AuditLog persists deletion audit rows. Rows are never deleted; when a
// subject exercises erasure, Pseudonymize replaces every occurrence of the
// subject identifier in existing rows with PseudonymFor(subject) so the
// trail survives without naming the subject.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, tenantID string) ([]AuditEntry, error)
	Pseudonymize(ctx context.Context, tenantID, subject string) (int, error)
}

// PseudonymFor derives the stable pseudonym audit rows carry after a
// subject's erasure.
func PseudonymFor(subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return "sub-" + hex.EncodeToString(sum[:])[:12]
}
