// Package postgres backs the memory record port with PostgreSQL via pgx.
// One pool serves all tenants; every query is tenant-scoped in SQL so a
// record under another tenant is indistinguishable from a missing one.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

const ddlMemories = `
CREATE TABLE IF NOT EXISTS memories (
    id               TEXT         NOT NULL,
    tenant_id        TEXT         NOT NULL,
    project          TEXT         NOT NULL DEFAULT '',
    agent_id         TEXT         NOT NULL DEFAULT '',
    session_id       TEXT         NOT NULL DEFAULT '',
    content          TEXT         NOT NULL,
    layer            TEXT         NOT NULL,
    memory_type      TEXT         NOT NULL,
    source           TEXT         NOT NULL DEFAULT '',
    info_class       TEXT         NOT NULL DEFAULT 'internal',
    importance       DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    strength         DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    tags             TEXT[]       NOT NULL DEFAULT '{}',
    metadata         JSONB        NOT NULL DEFAULT '{}',
    provenance       JSONB        NOT NULL DEFAULT '{}',
    sync_metadata    JSONB        NOT NULL DEFAULT '{}',
    named_vectors    JSONB        NOT NULL DEFAULT '{}',
    created_at       TIMESTAMPTZ  NOT NULL,
    modified_at      TIMESTAMPTZ  NOT NULL,
    last_accessed_at TIMESTAMPTZ  NOT NULL,
    expires_at       TIMESTAMPTZ,
    access_count     INTEGER      NOT NULL DEFAULT 0,
    usage_count      INTEGER      NOT NULL DEFAULT 0,
    version          INTEGER      NOT NULL DEFAULT 1,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_memories_tenant_layer
    ON memories (tenant_id, layer);

CREATE INDEX IF NOT EXISTS idx_memories_tenant_session
    ON memories (tenant_id, session_id);

CREATE INDEX IF NOT EXISTS idx_memories_tenant_created
    ON memories (tenant_id, created_at);

CREATE INDEX IF NOT EXISTS idx_memories_fts
    ON memories USING GIN (to_tsvector('english', content));

CREATE INDEX IF NOT EXISTS idx_memories_metadata
    ON memories USING GIN (metadata);
`

const memoryColumns = `id, tenant_id, project, agent_id, session_id, content, layer,
    memory_type, source, info_class, importance, strength, tags, metadata,
    provenance, sync_metadata, named_vectors, created_at, modified_at,
    last_accessed_at, expires_at, access_count, usage_count, version`

// Store implements ports.MemoryStore on a pgxpool.Pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ ports.MemoryStore = (*Store)(nil)

// New connects to the database at dsn and ensures the schema exists.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, appErrors.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, appErrors.Wrap(err, "postgres: ping")
	}
	if _, err := pool.Exec(ctx, ddlMemories); err != nil {
		pool.Close()
		return nil, appErrors.Wrap(err, "postgres: migrate")
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Store(ctx context.Context, m *memory.Memory) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	named := m.NamedVectors
	if named == nil {
		named = map[string][]float32{}
	}
	if len(m.Embedding) > 0 {
		named = cloneVectors(named)
		named[ports.DefaultSpace] = m.Embedding
	}
	namedJSON, metaJSON, provJSON, syncJSON, err := marshalJSONFields(named, m)
	if err != nil {
		return "", err
	}
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}

	q := `
		INSERT INTO memories (` + memoryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		ON CONFLICT (tenant_id, id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, q,
		m.ID, m.TenantID, m.Project, m.AgentID, m.SessionID, m.Content,
		string(m.Layer), string(m.MemoryType), m.Source, string(m.InfoClass),
		m.Importance, m.Strength, tags, metaJSON, provJSON, syncJSON,
		namedJSON, m.CreatedAt, m.ModifiedAt, m.LastAccessedAt, m.ExpiresAt,
		m.AccessCount, m.UsageCount, m.Version)
	if err != nil {
		return "", appErrors.Wrap(err, "postgres: store")
	}
	if tag.RowsAffected() == 0 {
		return "", appErrors.NewValidation("memory already exists: " + m.ID)
	}
	return m.ID, nil
}

func (s *Store) Get(ctx context.Context, tenantID, id string) (*memory.Memory, error) {
	q := `SELECT ` + memoryColumns + ` FROM memories WHERE tenant_id = $1 AND id = $2`
	row := s.pool.QueryRow(ctx, q, tenantID, id)
	m, err := scanMemory(row)
	if err == pgx.ErrNoRows {
		return nil, appErrors.NewNotFound("memory not found: " + id)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, "postgres: get")
	}
	return m, nil
}

func (s *Store) GetBatch(ctx context.Context, tenantID string, ids []string) ([]*memory.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := `SELECT ` + memoryColumns + ` FROM memories WHERE tenant_id = $1 AND id = ANY($2)`
	rows, err := s.pool.Query(ctx, q, tenantID, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, "postgres: get batch")
	}
	defer rows.Close()

	byID := make(map[string]*memory.Memory)
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, appErrors.Wrap(err, "postgres: scan batch")
		}
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.Wrap(err, "postgres: iterate batch")
	}

	// Preserve request order, skipping missing ids.
	out := make([]*memory.Memory, 0, len(byID))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// updatableColumns maps field-map keys to their SQL column and a value
// transformer. usage_count is handled separately to keep it monotonic.
var updatableColumns = map[string]string{
	"content":    "content",
	"importance": "importance",
	"strength":   "strength",
	"layer":      "layer",
	"tags":       "tags",
	"expires_at": "expires_at",
	"source":     "source",
}

func (s *Store) Update(ctx context.Context, tenantID, id string, fields map[string]any) (*memory.Memory, error) {
	if len(fields) == 0 {
		return nil, appErrors.NewValidation("no fields to update")
	}

	sets := []string{"version = version + 1", "modified_at = now()"}
	args := []any{tenantID, id}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	for key, value := range fields {
		switch key {
		case "metadata":
			meta, err := json.Marshal(value)
			if err != nil {
				return nil, appErrors.Wrap(err, "postgres: marshal metadata")
			}
			// Merge semantics: incoming keys win, absent keys survive.
			sets = append(sets, "metadata = metadata || "+next(meta)+"::jsonb")
		case "usage_count":
			sets = append(sets, "usage_count = GREATEST(usage_count, "+next(value)+")")
		case "layer":
			l, ok := value.(memory.Layer)
			if ok {
				value = string(l)
			}
			if lv, ok := value.(string); !ok || !memory.Layer(lv).Valid() {
				return nil, appErrors.NewValidation("unknown layer in update")
			}
			sets = append(sets, "layer = "+next(value))
		default:
			col, ok := updatableColumns[key]
			if !ok {
				return nil, appErrors.NewValidation("field is not updatable: " + key)
			}
			sets = append(sets, col+" = "+next(value))
		}
	}

	q := `UPDATE memories SET ` + strings.Join(sets, ", ") +
		` WHERE tenant_id = $1 AND id = $2 RETURNING ` + memoryColumns
	row := s.pool.QueryRow(ctx, q, args...)
	m, err := scanMemory(row)
	if err == pgx.ErrNoRows {
		return nil, appErrors.NewNotFound("memory not found: " + id)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, "postgres: update")
	}
	return m, nil
}

func (s *Store) Delete(ctx context.Context, tenantID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM memories WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return appErrors.Wrap(err, "postgres: delete")
	}
	if tag.RowsAffected() == 0 {
		return appErrors.NewNotFound("memory not found: " + id)
	}
	return nil
}

func (s *Store) List(ctx context.Context, filter ports.ListFilter) ([]*memory.Memory, error) {
	where, args, err := buildWhere(filter)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + memoryColumns + ` FROM memories ` + where + buildOrder(filter)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, appErrors.Wrap(err, "postgres: list")
	}
	defer rows.Close()

	var out []*memory.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, appErrors.Wrap(err, "postgres: scan list")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.Wrap(err, "postgres: iterate list")
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, filter ports.ListFilter) (int, error) {
	where, args, err := buildWhere(filter)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM memories `+where, args...).Scan(&n); err != nil {
		return 0, appErrors.Wrap(err, "postgres: count")
	}
	return n, nil
}

func (s *Store) FullTextSearch(ctx context.Context, query string, exactPhrase bool, filter ports.ListFilter) ([]ports.FullTextMatch, error) {
	where, args, err := buildWhere(filter)
	if err != nil {
		return nil, err
	}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var q string
	if exactPhrase {
		arg := next("%" + query + "%")
		q = `SELECT ` + memoryColumns + `, 1.0 AS rank FROM memories ` + where +
			` AND content ILIKE ` + arg
	} else {
		arg := next(query)
		q = `SELECT ` + memoryColumns + `,
		        ts_rank(to_tsvector('english', content), plainto_tsquery('english', ` + arg + `)) AS rank
		     FROM memories ` + where +
			` AND to_tsvector('english', content) @@ plainto_tsquery('english', ` + arg + `)
		     ORDER BY rank DESC`
	}
	if filter.Limit > 0 {
		q += ` LIMIT ` + next(filter.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, appErrors.Wrap(err, "postgres: full-text search")
	}
	defer rows.Close()

	var out []ports.FullTextMatch
	for rows.Next() {
		m, score, err := scanMemoryWithScore(rows)
		if err != nil {
			return nil, appErrors.Wrap(err, "postgres: scan full-text match")
		}
		out = append(out, ports.FullTextMatch{Memory: m, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.Wrap(err, "postgres: iterate full-text matches")
	}
	return out, nil
}

func (s *Store) DeleteByMetadata(ctx context.Context, tenantID string, metadata map[string]any) (int, error) {
	if tenantID == "" {
		return 0, appErrors.NewValidation("tenant id is required")
	}
	if len(metadata) == 0 {
		return 0, appErrors.NewValidation("metadata filter must not be empty")
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return 0, appErrors.Wrap(err, "postgres: marshal metadata filter")
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM memories WHERE tenant_id = $1 AND metadata @> $2::jsonb`,
		tenantID, meta)
	if err != nil {
		return 0, appErrors.Wrap(err, "postgres: delete by metadata")
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) DeleteBelowImportance(ctx context.Context, tenantID string, threshold float64, layers []memory.Layer) (int, error) {
	if tenantID == "" {
		return 0, appErrors.NewValidation("tenant id is required")
	}
	names := make([]string, len(layers))
	for i, l := range layers {
		names[i] = string(l)
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM memories
		WHERE  tenant_id = $1 AND importance < $2
		  AND  (cardinality($3::text[]) = 0 OR layer = ANY($3))`,
		tenantID, threshold, names)
	if err != nil {
		return 0, appErrors.Wrap(err, "postgres: delete below importance")
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) DeleteExpired(ctx context.Context, tenantID string, now time.Time) (int, error) {
	if tenantID == "" {
		return 0, appErrors.NewValidation("tenant id is required")
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM memories WHERE tenant_id = $1 AND expires_at IS NOT NULL AND expires_at <= $2`,
		tenantID, now)
	if err != nil {
		return 0, appErrors.Wrap(err, "postgres: delete expired")
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) TouchAccess(ctx context.Context, tenantID, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE memories
		SET    access_count = access_count + 1, last_accessed_at = now()
		WHERE  tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return appErrors.Wrap(err, "postgres: touch access")
	}
	if tag.RowsAffected() == 0 {
		return appErrors.NewNotFound("memory not found: " + id)
	}
	return nil
}

func (s *Store) TouchAccessBatch(ctx context.Context, tenantID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE memories
		SET    access_count = access_count + 1, last_accessed_at = now()
		WHERE  tenant_id = $1 AND id = ANY($2)`, tenantID, ids)
	if err != nil {
		return appErrors.Wrap(err, "postgres: touch access batch")
	}
	return nil
}

func (s *Store) AdjustImportance(ctx context.Context, tenantID, id string, delta float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE memories
		SET    importance = LEAST(1.0, GREATEST(0.0, importance + $3)),
		       version = version + 1, modified_at = now()
		WHERE  tenant_id = $1 AND id = $2`, tenantID, id, delta)
	if err != nil {
		return appErrors.Wrap(err, "postgres: adjust importance")
	}
	if tag.RowsAffected() == 0 {
		return appErrors.NewNotFound("memory not found: " + id)
	}
	return nil
}

func (s *Store) DecayImportance(ctx context.Context, tenantID string, factor float64, exempt []memory.Layer, floor float64) (int, error) {
	if tenantID == "" {
		return 0, appErrors.NewValidation("tenant id is required")
	}
	names := make([]string, len(exempt))
	for i, l := range exempt {
		names[i] = string(l)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE memories
		SET    importance = GREATEST($4, importance * $2),
		       version = version + 1, modified_at = now()
		WHERE  tenant_id = $1 AND NOT (layer = ANY($3))`,
		tenantID, factor, names, floor)
	if err != nil {
		return 0, appErrors.Wrap(err, "postgres: decay importance")
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) SaveEmbedding(ctx context.Context, tenantID, id, space string, vector []float32) error {
	if space == "" {
		space = ports.DefaultSpace
	}
	vec, err := json.Marshal(vector)
	if err != nil {
		return appErrors.Wrap(err, "postgres: marshal embedding")
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE memories
		SET    named_vectors = jsonb_set(named_vectors, ARRAY[$3], $4::jsonb)
		WHERE  tenant_id = $1 AND id = $2`, tenantID, id, space, vec)
	if err != nil {
		return appErrors.Wrap(err, "postgres: save embedding")
	}
	if tag.RowsAffected() == 0 {
		return appErrors.NewNotFound("memory not found: " + id)
	}
	return nil
}

// aggregatableFields whitelists Aggregate targets.
var aggregatableFields = map[string]bool{
	"importance":   true,
	"strength":     true,
	"access_count": true,
	"usage_count":  true,
}

func (s *Store) Aggregate(ctx context.Context, filter ports.ListFilter, field string, op ports.AggregateOp) (float64, error) {
	if op != ports.AggregateCount && !aggregatableFields[field] {
		return 0, appErrors.NewValidation("field is not aggregatable: " + field)
	}
	where, args, err := buildWhere(filter)
	if err != nil {
		return 0, err
	}
	var expr string
	switch op {
	case ports.AggregateAvg:
		expr = "coalesce(avg(" + field + "), 0)"
	case ports.AggregateSum:
		expr = "coalesce(sum(" + field + "), 0)"
	case ports.AggregateMin:
		expr = "coalesce(min(" + field + "), 0)"
	case ports.AggregateMax:
		expr = "coalesce(max(" + field + "), 0)"
	case ports.AggregateCount:
		expr = "count(*)"
	default:
		return 0, appErrors.NewValidation("unknown aggregate op: " + string(op))
	}
	var out float64
	if err := s.pool.QueryRow(ctx, `SELECT `+expr+` FROM memories `+where, args...).Scan(&out); err != nil {
		return 0, appErrors.Wrap(err, "postgres: aggregate")
	}
	return out, nil
}

func (s *Store) ClearTenant(ctx context.Context, tenantID string) (int, error) {
	if tenantID == "" {
		return 0, appErrors.NewValidation("tenant id is required")
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return 0, appErrors.Wrap(err, "postgres: clear tenant")
	}
	return int(tag.RowsAffected()), nil
}

// Tenants lists every tenant with at least one record, sorted. The
// maintenance scheduler uses this to enumerate its sweep targets.
func (s *Store) Tenants(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT tenant_id FROM memories ORDER BY tenant_id`)
	if err != nil {
		return nil, appErrors.Wrap(err, "postgres: list tenants")
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, appErrors.Wrap(err, "postgres: scan tenant")
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.Wrap(err, "postgres: iterate tenants")
	}
	return tenants, nil
}
