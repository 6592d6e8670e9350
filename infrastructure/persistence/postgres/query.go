package postgres

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// orderableColumns whitelists ListFilter.OrderBy values.
var orderableColumns = map[string]string{
	"":                 "created_at",
	"created_at":       "created_at",
	"modified_at":      "modified_at",
	"last_accessed_at": "last_accessed_at",
	"importance":       "importance",
	"access_count":     "access_count",
}

// buildWhere renders a ListFilter into a WHERE clause plus its arguments.
// The clause always contains at least the tenant condition.
func buildWhere(filter ports.ListFilter) (string, []any, error) {
	if filter.TenantID == "" {
		return "", nil, appErrors.NewValidation("tenant id is required")
	}

	args := []any{filter.TenantID}
	conditions := []string{"tenant_id = $1"}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Project != "" {
		conditions = append(conditions, "project = "+next(filter.Project))
	}
	if filter.AgentID != "" {
		conditions = append(conditions, "agent_id = "+next(filter.AgentID))
	}
	if filter.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(filter.SessionID))
	}
	if filter.Source != "" {
		conditions = append(conditions, "source = "+next(filter.Source))
	}
	if len(filter.Layers) > 0 {
		names := make([]string, len(filter.Layers))
		for i, l := range filter.Layers {
			names[i] = string(l)
		}
		conditions = append(conditions, "layer = ANY("+next(names)+")")
	}
	if len(filter.Tags) > 0 {
		conditions = append(conditions, "tags @> "+next(filter.Tags))
	}
	if len(filter.Metadata) > 0 {
		meta, err := json.Marshal(filter.Metadata)
		if err != nil {
			return "", nil, appErrors.Wrap(err, "postgres: marshal metadata filter")
		}
		conditions = append(conditions, "metadata @> "+next(meta)+"::jsonb")
	}
	if filter.MinImportance > 0 {
		conditions = append(conditions, "importance >= "+next(filter.MinImportance))
	}
	if !filter.CreatedAfter.IsZero() {
		conditions = append(conditions, "created_at > "+next(filter.CreatedAfter))
	}
	if !filter.CreatedBefore.IsZero() {
		conditions = append(conditions, "created_at < "+next(filter.CreatedBefore))
	}

	return "WHERE " + strings.Join(conditions, " AND "), args, nil
}

// buildOrder renders ORDER BY / LIMIT / OFFSET. Column names come from a
// whitelist, never from the caller directly.
func buildOrder(filter ports.ListFilter) string {
	col, ok := orderableColumns[filter.OrderBy]
	if !ok {
		col = "created_at"
	}
	dir := "ASC"
	if filter.Descending {
		dir = "DESC"
	}
	clause := fmt.Sprintf(" ORDER BY %s %s", col, dir)
	if filter.Limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}
	return clause
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*memory.Memory, error) {
	m, _, err := scan(row, false)
	return m, err
}

func scanMemoryWithScore(row rowScanner) (*memory.Memory, float64, error) {
	return scan(row, true)
}

func scan(row rowScanner, withScore bool) (*memory.Memory, float64, error) {
	var (
		m         memory.Memory
		layer     string
		mtype     string
		infoClass string
		meta      []byte
		prov      []byte
		sync      []byte
		named     []byte
		score     float64
	)
	dest := []any{
		&m.ID, &m.TenantID, &m.Project, &m.AgentID, &m.SessionID, &m.Content,
		&layer, &mtype, &m.Source, &infoClass, &m.Importance, &m.Strength,
		&m.Tags, &meta, &prov, &sync, &named, &m.CreatedAt, &m.ModifiedAt,
		&m.LastAccessedAt, &m.ExpiresAt, &m.AccessCount, &m.UsageCount, &m.Version,
	}
	if withScore {
		dest = append(dest, &score)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, 0, err
	}

	m.Layer = memory.Layer(layer)
	m.MemoryType = memory.MemoryType(mtype)
	m.InfoClass = memory.InfoClass(infoClass)
	if err := unmarshalInto(meta, &m.Metadata); err != nil {
		return nil, 0, err
	}
	if err := unmarshalInto(prov, &m.Provenance); err != nil {
		return nil, 0, err
	}
	if err := unmarshalInto(sync, &m.SyncMetadata); err != nil {
		return nil, 0, err
	}
	if len(named) > 0 {
		var vectors map[string][]float32
		if err := json.Unmarshal(named, &vectors); err != nil {
			return nil, 0, err
		}
		if len(vectors) > 0 {
			m.Embedding = vectors[ports.DefaultSpace]
			m.NamedVectors = vectors
		}
	}
	return &m, score, nil
}

func unmarshalInto(raw []byte, target *map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	if len(out) > 0 {
		*target = out
	}
	return nil
}

func marshalJSONFields(named map[string][]float32, m *memory.Memory) (namedJSON, metaJSON, provJSON, syncJSON []byte, err error) {
	if namedJSON, err = json.Marshal(named); err != nil {
		return nil, nil, nil, nil, appErrors.Wrap(err, "postgres: marshal named vectors")
	}
	if metaJSON, err = marshalMap(m.Metadata); err != nil {
		return nil, nil, nil, nil, err
	}
	if provJSON, err = marshalMap(m.Provenance); err != nil {
		return nil, nil, nil, nil, err
	}
	if syncJSON, err = marshalMap(m.SyncMetadata); err != nil {
		return nil, nil, nil, nil, err
	}
	return namedJSON, metaJSON, provJSON, syncJSON, nil
}

func marshalMap(in map[string]any) ([]byte, error) {
	if in == nil {
		return []byte("{}"), nil
	}
	out, err := json.Marshal(in)
	if err != nil {
		return nil, appErrors.Wrap(err, "postgres: marshal json field")
	}
	return out, nil
}

func cloneVectors(in map[string][]float32) map[string][]float32 {
	out := make(map[string][]float32, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
