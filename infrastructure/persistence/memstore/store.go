// Package memstore provides the in-memory MemoryStore implementation used
// for tests, local development, and as the reference semantics for the
// storage contract.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// Store is a mutex-guarded map store keyed by record id. All returned
// records are deep copies so callers never alias internal state.
type Store struct {
	mu      sync.RWMutex
	records map[string]*memory.Memory
	logger  *zap.Logger
}

var _ ports.MemoryStore = (*Store)(nil)

// New creates an empty store.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{records: make(map[string]*memory.Memory), logger: logger}
}

// Store persists a validated record.
func (s *Store) Store(ctx context.Context, m *memory.Memory) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[m.ID]; exists {
		return "", appErrors.NewValidation("memory id already exists: " + m.ID)
	}
	s.records[m.ID] = m.Clone()
	return m.ID, nil
}

// locked returns the live record after a tenant check, or a not-found
// error. Tenant mismatch is indistinguishable from absence by contract.
func (s *Store) locked(tenantID, id string) (*memory.Memory, error) {
	m, ok := s.records[id]
	if !ok || m.TenantID != tenantID {
		return nil, appErrors.NewNotFound("memory not found: " + id)
	}
	return m, nil
}

func (s *Store) Get(ctx context.Context, tenantID, id string) (*memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, err := s.locked(tenantID, id)
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

func (s *Store) GetBatch(ctx context.Context, tenantID string, ids []string) ([]*memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*memory.Memory, 0, len(ids))
	for _, id := range ids {
		if m, err := s.locked(tenantID, id); err == nil {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

// Update applies a partial field map and bumps version and modified_at.
func (s *Store) Update(ctx context.Context, tenantID, id string, fields map[string]any) (*memory.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.locked(tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := applyFields(m, fields); err != nil {
		return nil, err
	}
	m.Version++
	m.ModifiedAt = time.Now().UTC()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

func applyFields(m *memory.Memory, fields map[string]any) error {
	for field, value := range fields {
		switch field {
		case "content":
			v, ok := value.(string)
			if !ok {
				return appErrors.NewValidation("content must be a string")
			}
			m.Content = v
		case "importance":
			v, ok := asFloat(value)
			if !ok {
				return appErrors.NewValidation("importance must be a number")
			}
			m.Importance = v
		case "strength":
			v, ok := asFloat(value)
			if !ok {
				return appErrors.NewValidation("strength must be a number")
			}
			m.Strength = v
		case "layer":
			switch v := value.(type) {
			case memory.Layer:
				m.Layer = v
			case string:
				m.Layer = memory.Layer(v)
			default:
				return appErrors.NewValidation("layer must be a string")
			}
		case "tags":
			v, ok := value.([]string)
			if !ok {
				return appErrors.NewValidation("tags must be a string slice")
			}
			m.Tags = append([]string(nil), v...)
		case "metadata":
			v, ok := value.(map[string]any)
			if !ok {
				return appErrors.NewValidation("metadata must be a map")
			}
			if m.Metadata == nil {
				m.Metadata = make(map[string]any, len(v))
			}
			for k, mv := range v {
				m.Metadata[k] = mv
			}
		case "expires_at":
			switch v := value.(type) {
			case time.Time:
				m.ExpiresAt = &v
			case *time.Time:
				m.ExpiresAt = v
			default:
				return appErrors.NewValidation("expires_at must be a time")
			}
		case "usage_count":
			v, ok := asInt(value)
			if !ok {
				return appErrors.NewValidation("usage_count must be an integer")
			}
			if v < m.UsageCount {
				return appErrors.NewValidation("usage_count may only increase")
			}
			m.UsageCount = v
		case "source":
			v, ok := value.(string)
			if !ok {
				return appErrors.NewValidation("source must be a string")
			}
			m.Source = v
		default:
			return appErrors.NewValidation("unknown update field: " + field)
		}
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func (s *Store) Delete(ctx context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.locked(tenantID, id); err != nil {
		return err
	}
	delete(s.records, id)
	return nil
}

func matches(m *memory.Memory, f ports.ListFilter) bool {
	if m.TenantID != f.TenantID {
		return false
	}
	if f.Project != "" && m.Project != f.Project {
		return false
	}
	if f.AgentID != "" && m.AgentID != f.AgentID {
		return false
	}
	if f.SessionID != "" && m.SessionID != f.SessionID {
		return false
	}
	if f.Source != "" && m.Source != f.Source {
		return false
	}
	if len(f.Layers) > 0 {
		found := false
		for _, l := range f.Layers {
			if m.Layer == l {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, tag := range f.Tags {
		if !m.HasTag(tag) {
			return false
		}
	}
	for k, v := range f.Metadata {
		if m.Metadata == nil || m.Metadata[k] != v {
			return false
		}
	}
	if m.Importance < f.MinImportance {
		return false
	}
	if !f.CreatedAfter.IsZero() && m.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && m.CreatedAt.After(f.CreatedBefore) {
		return false
	}
	return true
}

func orderField(m *memory.Memory, field string) float64 {
	switch field {
	case "importance":
		return m.Importance
	case "access_count":
		return float64(m.AccessCount)
	case "modified_at":
		return float64(m.ModifiedAt.UnixNano())
	case "last_accessed_at":
		return float64(m.LastAccessedAt.UnixNano())
	default:
		return float64(m.CreatedAt.UnixNano())
	}
}

func (s *Store) List(ctx context.Context, filter ports.ListFilter) ([]*memory.Memory, error) {
	if filter.TenantID == "" {
		return nil, appErrors.NewValidation("tenant id is required")
	}
	s.mu.RLock()
	var rows []*memory.Memory
	for _, m := range s.records {
		if matches(m, filter) {
			rows = append(rows, m.Clone())
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := orderField(rows[i], filter.OrderBy), orderField(rows[j], filter.OrderBy)
		if filter.Descending {
			return a > b
		}
		return a < b
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(rows) {
			return nil, nil
		}
		rows = rows[filter.Offset:]
	}
	if filter.Limit > 0 && len(rows) > filter.Limit {
		rows = rows[:filter.Limit]
	}
	return rows, nil
}

func (s *Store) Count(ctx context.Context, filter ports.ListFilter) (int, error) {
	if filter.TenantID == "" {
		return 0, appErrors.NewValidation("tenant id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, m := range s.records {
		if matches(m, filter) {
			count++
		}
	}
	return count, nil
}

// FullTextSearch tokenizes the query and scores each matching record by the
// fraction of query tokens present, boosted by term frequency. With
// exactPhrase set, the query must appear verbatim (case-insensitive) and
// every hit scores 1.0.
func (s *Store) FullTextSearch(ctx context.Context, query string, exactPhrase bool, filter ports.ListFilter) ([]ports.FullTextMatch, error) {
	if filter.TenantID == "" {
		return nil, appErrors.NewValidation("tenant id is required")
	}
	queryLower := strings.ToLower(query)
	tokens := tokenize(queryLower)
	if !exactPhrase && len(tokens) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	var matchesOut []ports.FullTextMatch
	for _, m := range s.records {
		if !matches(m, filter) {
			continue
		}
		content := strings.ToLower(m.Content)
		var score float64
		if exactPhrase {
			if !strings.Contains(content, queryLower) {
				continue
			}
			score = 1.0
		} else {
			hits := 0
			freq := 0
			for _, tok := range tokens {
				c := strings.Count(content, tok)
				if c > 0 {
					hits++
					freq += c
				}
			}
			if hits == 0 {
				continue
			}
			score = float64(hits)/float64(len(tokens)) + 0.01*float64(freq)
		}
		matchesOut = append(matchesOut, ports.FullTextMatch{Memory: m.Clone(), Score: score})
	}
	s.mu.RUnlock()

	sort.SliceStable(matchesOut, func(i, j int) bool {
		return matchesOut[i].Score > matchesOut[j].Score
	})
	if filter.Limit > 0 && len(matchesOut) > filter.Limit {
		matchesOut = matchesOut[:filter.Limit]
	}
	return matchesOut, nil
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !(r == '-' || r == '_' || r == '#' ||
			(r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}

func (s *Store) DeleteByMetadata(ctx context.Context, tenantID string, metadata map[string]any) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, m := range s.records {
		if m.TenantID != tenantID {
			continue
		}
		match := len(metadata) > 0
		for k, v := range metadata {
			if m.Metadata == nil || m.Metadata[k] != v {
				match = false
				break
			}
		}
		if match {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) DeleteBelowImportance(ctx context.Context, tenantID string, threshold float64, layers []memory.Layer) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, m := range s.records {
		if m.TenantID != tenantID || m.Importance >= threshold {
			continue
		}
		if len(layers) > 0 {
			found := false
			for _, l := range layers {
				if m.Layer == l {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		delete(s.records, id)
		deleted++
	}
	return deleted, nil
}

func (s *Store) DeleteExpired(ctx context.Context, tenantID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, m := range s.records {
		if m.TenantID == tenantID && m.ExpiresAt != nil && !m.ExpiresAt.After(now) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) TouchAccess(ctx context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.locked(tenantID, id)
	if err != nil {
		return err
	}
	touch(m)
	return nil
}

func (s *Store) TouchAccessBatch(ctx context.Context, tenantID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if m, err := s.locked(tenantID, id); err == nil {
			touch(m)
		}
	}
	return nil
}

func touch(m *memory.Memory) {
	m.AccessCount++
	now := time.Now().UTC()
	if now.After(m.LastAccessedAt) {
		m.LastAccessedAt = now
	}
}

func (s *Store) AdjustImportance(ctx context.Context, tenantID, id string, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.locked(tenantID, id)
	if err != nil {
		return err
	}
	m.Importance = clamp01(m.Importance + delta)
	m.Version++
	m.ModifiedAt = time.Now().UTC()
	return nil
}

func (s *Store) DecayImportance(ctx context.Context, tenantID string, factor float64, exempt []memory.Layer, floor float64) (int, error) {
	if factor < 0 || factor > 1 {
		return 0, appErrors.NewValidation("decay factor must be in [0,1]")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	updated := 0
	for _, m := range s.records {
		if m.TenantID != tenantID {
			continue
		}
		skip := false
		for _, l := range exempt {
			if m.Layer == l {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		next := m.Importance * factor
		if next < floor {
			next = floor
		}
		if next != m.Importance {
			m.Importance = next
			m.Version++
			m.ModifiedAt = time.Now().UTC()
			updated++
		}
	}
	return updated, nil
}

func (s *Store) SaveEmbedding(ctx context.Context, tenantID, id, space string, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.locked(tenantID, id)
	if err != nil {
		return err
	}
	vec := append([]float32(nil), vector...)
	if space == "" || space == ports.DefaultSpace {
		m.Embedding = vec
	} else {
		if m.NamedVectors == nil {
			m.NamedVectors = make(map[string][]float32)
		}
		m.NamedVectors[space] = vec
	}
	m.Version++
	m.ModifiedAt = time.Now().UTC()
	return nil
}

func (s *Store) Aggregate(ctx context.Context, filter ports.ListFilter, field string, op ports.AggregateOp) (float64, error) {
	if filter.TenantID == "" {
		return 0, appErrors.NewValidation("tenant id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var values []float64
	for _, m := range s.records {
		if !matches(m, filter) {
			continue
		}
		switch field {
		case "importance":
			values = append(values, m.Importance)
		case "strength":
			values = append(values, m.Strength)
		case "access_count":
			values = append(values, float64(m.AccessCount))
		case "usage_count":
			values = append(values, float64(m.UsageCount))
		case "version":
			values = append(values, float64(m.Version))
		default:
			return 0, appErrors.NewValidation("unknown aggregate field: " + field)
		}
	}
	if op == ports.AggregateCount {
		return float64(len(values)), nil
	}
	if len(values) == 0 {
		return 0, nil
	}
	var out float64
	switch op {
	case ports.AggregateSum, ports.AggregateAvg:
		for _, v := range values {
			out += v
		}
		if op == ports.AggregateAvg {
			out /= float64(len(values))
		}
	case ports.AggregateMin:
		out = values[0]
		for _, v := range values[1:] {
			if v < out {
				out = v
			}
		}
	case ports.AggregateMax:
		out = values[0]
		for _, v := range values[1:] {
			if v > out {
				out = v
			}
		}
	default:
		return 0, appErrors.NewValidation("unknown aggregate op: " + string(op))
	}
	return out, nil
}

func (s *Store) ClearTenant(ctx context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, m := range s.records {
		if m.TenantID == tenantID {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// Tenants lists every tenant with at least one record, sorted. The
// maintenance scheduler uses this to enumerate its sweep targets.
func (s *Store) Tenants(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, m := range s.records {
		seen[m.TenantID] = struct{}{}
	}
	tenants := make([]string, 0, len(seen))
	for t := range seen {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)
	return tenants, nil
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
