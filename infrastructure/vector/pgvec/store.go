// Package pgvec backs the vector port with PostgreSQL and the pgvector
// extension. Each named space lives in its own table with an HNSW cosine
// index; spaces are created lazily on first use.
package pgvec

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

var spaceNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Store implements ports.VectorStore on a pgxpool.Pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	mu     sync.Mutex
	spaces map[string]int
	ensure singleflight.Group
}

var _ ports.VectorStore = (*Store)(nil)

// New connects to the database at dsn, registers pgvector types on every
// connection, and installs the extension.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, appErrors.Wrap(err, "pgvec: parse dsn")
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, appErrors.Wrap(err, "pgvec: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, appErrors.Wrap(err, "pgvec: ping")
	}
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		pool.Close()
		return nil, appErrors.Wrap(err, "pgvec: install extension")
	}
	s := &Store{pool: pool, logger: logger, spaces: make(map[string]int)}
	if err := s.discoverSpaces(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// discoverSpaces loads space tables created by earlier processes from the
// catalog, so Get, Delete, and DeleteByTenant cover rows written before
// this process started.
func (s *Store) discoverSpaces(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, `
		SELECT c.relname, coalesce(a.atttypmod, 0)
		FROM   pg_class c
		JOIN   pg_namespace n ON n.oid = c.relnamespace
		JOIN   pg_attribute a ON a.attrelid = c.oid AND a.attname = 'embedding'
		WHERE  n.nspname = current_schema()
		AND    c.relkind = 'r'
		AND    c.relname LIKE 'vectors\_%'`)
	if err != nil {
		return appErrors.Wrap(err, "pgvec: discover spaces")
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var (
			table     string
			dimension int
		)
		if err := rows.Scan(&table, &dimension); err != nil {
			return appErrors.Wrap(err, "pgvec: scan space row")
		}
		s.spaces[table] = dimension
	}
	if err := rows.Err(); err != nil {
		return appErrors.Wrap(err, "pgvec: iterate space rows")
	}
	return nil
}

// knownTables snapshots the space tables seen so far.
func (s *Store) knownTables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tables := make([]string, 0, len(s.spaces))
	for t := range s.spaces {
		tables = append(tables, t)
	}
	return tables
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func spaceTable(space string) (string, error) {
	if space == "" {
		space = ports.DefaultSpace
	}
	if !spaceNameRe.MatchString(space) {
		return "", appErrors.NewValidation("pgvec: invalid space name: " + space)
	}
	return "vectors_" + space, nil
}

// EnsureSpace creates the table and HNSW index for the space, or recreates
// them when the dimension changed. Safe under concurrent callers: in-process
// duplicates collapse through singleflight, DDL uses IF NOT EXISTS, and the
// dimension check runs inside an advisory lock.
func (s *Store) EnsureSpace(ctx context.Context, space string, dimension int) error {
	if dimension <= 0 {
		return appErrors.NewValidation("pgvec: dimension must be positive")
	}
	table, err := spaceTable(space)
	if err != nil {
		return err
	}

	s.mu.Lock()
	known, ok := s.spaces[table]
	s.mu.Unlock()
	if ok && known == dimension {
		return nil
	}

	_, err, _ = s.ensure.Do(fmt.Sprintf("%s:%d", table, dimension), func() (any, error) {
		return nil, s.ensureSpace(ctx, table, dimension)
	})
	return err
}

func (s *Store) ensureSpace(ctx context.Context, table string, dimension int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return appErrors.Wrap(err, "pgvec: begin ensure space")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, table); err != nil {
		return appErrors.Wrap(err, "pgvec: advisory lock")
	}

	var existing int
	err = tx.QueryRow(ctx, `
		SELECT coalesce(atttypmod, 0)
		FROM   pg_attribute
		WHERE  attrelid = to_regclass($1) AND attname = 'embedding'`,
		table).Scan(&existing)
	if err == nil && existing > 0 && existing != dimension {
		s.logger.Warn("vector space dimension changed, recreating",
			zap.String("space", table),
			zap.Int("old", existing),
			zap.Int("new", dimension))
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
			return appErrors.Wrap(err, "pgvec: drop stale space")
		}
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
		    id         TEXT         NOT NULL,
		    tenant_id  TEXT         NOT NULL,
		    project    TEXT         NOT NULL DEFAULT '',
		    agent_id   TEXT         NOT NULL DEFAULT '',
		    session_id TEXT         NOT NULL DEFAULT '',
		    layer      TEXT         NOT NULL DEFAULT '',
		    metadata   JSONB        NOT NULL DEFAULT '{}',
		    embedding  vector(%[2]d) NOT NULL,
		    PRIMARY KEY (tenant_id, id)
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_tenant ON %[1]s (tenant_id);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_hnsw
		    ON %[1]s USING hnsw (embedding vector_cosine_ops);`, table, dimension)
	if _, err := tx.Exec(ctx, ddl); err != nil {
		return appErrors.Wrap(err, "pgvec: create space")
	}
	if err := tx.Commit(ctx); err != nil {
		return appErrors.Wrap(err, "pgvec: commit ensure space")
	}

	s.mu.Lock()
	s.spaces[table] = dimension
	s.mu.Unlock()
	return nil
}

func (s *Store) Upsert(ctx context.Context, rec ports.VectorRecord) error {
	if rec.ID == "" || rec.TenantID == "" {
		return appErrors.NewValidation("pgvec: record requires id and tenant id")
	}
	if len(rec.Vectors) == 0 {
		return appErrors.NewValidation("pgvec: record requires at least one vector")
	}
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return appErrors.Wrap(err, "pgvec: marshal metadata")
	}

	// Spaces are written independently: one failed space leaves the others
	// in place.
	var firstErr error
	for space, vec := range rec.Vectors {
		table, err := spaceTable(space)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := s.EnsureSpace(ctx, space, len(vec)); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		q := fmt.Sprintf(`
			INSERT INTO %s (id, tenant_id, project, agent_id, session_id, layer, metadata, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (tenant_id, id) DO UPDATE SET
			    project    = EXCLUDED.project,
			    agent_id   = EXCLUDED.agent_id,
			    session_id = EXCLUDED.session_id,
			    layer      = EXCLUDED.layer,
			    metadata   = EXCLUDED.metadata,
			    embedding  = EXCLUDED.embedding`, table)
		_, err = s.pool.Exec(ctx, q,
			rec.ID, rec.TenantID, rec.Project, rec.AgentID, rec.SessionID,
			string(rec.Layer), meta, pgvector.NewVector(vec))
		if err != nil && firstErr == nil {
			firstErr = appErrors.Wrap(err, "pgvec: upsert "+space)
		}
	}
	return firstErr
}

func (s *Store) UpsertBatch(ctx context.Context, recs []ports.VectorRecord) error {
	for _, rec := range recs {
		if err := s.Upsert(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// Get reassembles one record from every known space.
func (s *Store) Get(ctx context.Context, tenantID, id string) (*ports.VectorRecord, error) {
	tables := s.knownTables()

	rec := &ports.VectorRecord{ID: id, TenantID: tenantID, Vectors: make(map[string][]float32)}
	for _, table := range tables {
		space := strings.TrimPrefix(table, "vectors_")
		var (
			vec  pgvector.Vector
			meta []byte
		)
		q := fmt.Sprintf(`
			SELECT project, agent_id, session_id, layer, metadata, embedding
			FROM   %s WHERE tenant_id = $1 AND id = $2`, table)
		var layer string
		err := s.pool.QueryRow(ctx, q, tenantID, id).Scan(
			&rec.Project, &rec.AgentID, &rec.SessionID, &layer, &meta, &vec)
		if err == pgx.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, appErrors.Wrap(err, "pgvec: get "+space)
		}
		rec.Layer = memory.Layer(layer)
		rec.Vectors[space] = vec.Slice()
		if rec.Metadata == nil && len(meta) > 0 {
			if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
				return nil, appErrors.Wrap(err, "pgvec: unmarshal metadata")
			}
		}
	}
	if len(rec.Vectors) == 0 {
		return nil, appErrors.NewNotFound("vector not found: " + id)
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, tenantID, id string) error {
	tables := s.knownTables()

	found := false
	for _, table := range tables {
		tag, err := s.pool.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = $1 AND id = $2`, table),
			tenantID, id)
		if err != nil {
			return appErrors.Wrap(err, "pgvec: delete")
		}
		if tag.RowsAffected() > 0 {
			found = true
		}
	}
	if !found {
		return appErrors.NewNotFound("vector not found: " + id)
	}
	return nil
}

// Search returns the k nearest records by cosine distance, with the distance
// folded into a [0,1] similarity score.
func (s *Store) Search(ctx context.Context, vector []float32, k int, filter ports.VectorFilter) ([]ports.VectorMatch, error) {
	if filter.TenantID == "" {
		return nil, appErrors.NewValidation("pgvec: tenant id is required")
	}
	if k <= 0 {
		k = 10
	}
	table, err := spaceTable(filter.Space)
	if err != nil {
		return nil, err
	}

	args := []any{pgvector.NewVector(vector), filter.TenantID}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"tenant_id = $2"}
	if filter.Project != "" {
		conditions = append(conditions, "project = "+next(filter.Project))
	}
	if filter.AgentID != "" {
		conditions = append(conditions, "agent_id = "+next(filter.AgentID))
	}
	if filter.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(filter.SessionID))
	}
	if len(filter.Layers) > 0 {
		layers := make([]string, len(filter.Layers))
		for i, l := range filter.Layers {
			layers[i] = string(l)
		}
		conditions = append(conditions, "layer = ANY("+next(layers)+")")
	}
	limitArg := next(k)

	q := fmt.Sprintf(`
		SELECT id, embedding <=> $1 AS distance
		FROM   %s
		WHERE  %s
		ORDER  BY distance
		LIMIT  %s`, table, strings.Join(conditions, " AND "), limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, appErrors.Wrap(err, "pgvec: search")
	}
	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ports.VectorMatch, error) {
		var (
			m        ports.VectorMatch
			distance float64
		)
		if err := row.Scan(&m.ID, &distance); err != nil {
			return ports.VectorMatch{}, err
		}
		// Cosine distance spans [0,2]; fold it onto [0,1] similarity.
		m.Score = 1 - distance/2
		return m, nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "pgvec: scan matches")
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

func (s *Store) DeleteByTenant(ctx context.Context, tenantID string) (int, error) {
	tables := s.knownTables()

	total := 0
	for _, table := range tables {
		tag, err := s.pool.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = $1`, table), tenantID)
		if err != nil {
			return total, appErrors.Wrap(err, "pgvec: delete by tenant")
		}
		total += int(tag.RowsAffected())
	}
	return total, nil
}
